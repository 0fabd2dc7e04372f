package statistics

import "time"

// Dashboard summarises one branch (or every branch) for a period.
type Dashboard struct {
	Period        string         `json:"period"`
	BranchID      *int64         `json:"branch_id,omitempty"`
	Users         UserCounts     `json:"users"`
	Mappings      MappingCounts  `json:"mappings"`
	Schedules     ScheduleCounts `json:"schedules"`
	Revenue       Revenue        `json:"revenue"`
	AverageRating float64        `json:"average_rating"`
	RatingCount   int            `json:"rating_count"`
	GeneratedAt   time.Time      `json:"generated_at"`
}

type UserCounts struct {
	Clients     int `json:"clients"`
	Consultants int `json:"consultants"`
}

type MappingCounts struct {
	PendingPayment int `json:"pending_payment"`
	Active         int `json:"active"`
	Paused         int `json:"paused"`
}

type ScheduleCounts struct {
	Booked    int `json:"booked"`
	Confirmed int `json:"confirmed"`
	Completed int `json:"completed"`
	NoShow    int `json:"no_show"`
	Cancelled int `json:"cancelled"`
}

// Revenue sums mapping payments confirmed in the period.
type Revenue struct {
	Payments int   `json:"payments"`
	Total    int64 `json:"total"`
	Supply   int64 `json:"supply"`
	VAT      int64 `json:"vat"`
}

// MonthlyStat is one row of the consultant monthly view.
type MonthlyStat struct {
	Month     string `json:"month"`
	Completed int    `json:"completed"`
	NoShow    int    `json:"no_show"`
	Cancelled int    `json:"cancelled"`
}

// ConsultantStats is the performance view of one consultant.
type ConsultantStats struct {
	ConsultantID   int64         `json:"consultant_id"`
	Name           string        `json:"name"`
	ActiveMappings int           `json:"active_mappings"`
	AverageRating  float64       `json:"average_rating"`
	RatingCount    int           `json:"rating_count"`
	Months         []MonthlyStat `json:"months"`
}

// DashboardFilter selects the dashboard scope.
type DashboardFilter struct {
	Period   string
	BranchID *int64
}
