package shared

import (
	"fmt"
	"time"
)

// PeriodLayout is the YYYY-MM layout used for salary and statistics periods.
const PeriodLayout = "2006-01"

// DateLayout is the calendar date layout used in query strings and payloads.
const DateLayout = "2006-01-02"

// Seoul is the business timezone; schedule dates and periods are interpreted in it.
var Seoul = mustLoadLocation("Asia/Seoul")

func mustLoadLocation(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.FixedZone("KST", 9*60*60)
	}
	return loc
}

// ParsePeriod validates a YYYY-MM period and returns its [start, end) bounds in Seoul time.
func ParsePeriod(period string) (time.Time, time.Time, error) {
	start, err := time.ParseInLocation(PeriodLayout, period, Seoul)
	if err != nil {
		return time.Time{}, time.Time{}, NewUserError(ErrValidation, fmt.Sprintf("기간 형식이 올바르지 않습니다: %s (YYYY-MM)", period))
	}
	return start, start.AddDate(0, 1, 0), nil
}

// PreviousPeriod returns the month before t as YYYY-MM.
func PreviousPeriod(t time.Time) string {
	t = t.In(Seoul)
	first := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, Seoul)
	return first.AddDate(0, -1, 0).Format(PeriodLayout)
}
