package statistics

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/counselhub/counselhub/internal/platform/db"
)

// Repository reads aggregate numbers.
type Repository interface {
	UserCounts(ctx context.Context, branchID *int64) (UserCounts, error)
	MappingCounts(ctx context.Context, branchID *int64) (MappingCounts, error)
	ScheduleCounts(ctx context.Context, branchID *int64, from, to time.Time) (ScheduleCounts, error)
	Revenue(ctx context.Context, branchID *int64, from, to time.Time) (Revenue, error)
	Ratings(ctx context.Context, branchID, consultantID *int64, from, to time.Time) (float64, int, error)
	ActiveMappings(ctx context.Context, consultantID int64) (int, error)
	Monthly(ctx context.Context, consultantID int64, from, to time.Time) ([]MonthlyStat, error)
	Refresh(ctx context.Context) error
}

// PGRepository implements Repository with PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PGRepository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

func branchFilter(col string, branchID *int64, fixed ...string) *db.Filter {
	f := db.NewFilter(fixed...)
	if branchID != nil {
		f.Add(col+" = ?", *branchID)
	}
	return f
}

// UserCounts counts active clients and consultants.
func (r *PGRepository) UserCounts(ctx context.Context, branchID *int64) (UserCounts, error) {
	f := branchFilter("branch_id", branchID, "deleted_at IS NULL", "is_active")
	var out UserCounts
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FILTER (WHERE role = 'CLIENT'), COUNT(*) FILTER (WHERE role = 'CONSULTANT')
FROM users`+f.Where(), f.Args()...).Scan(&out.Clients, &out.Consultants)
	if err != nil {
		return UserCounts{}, fmt.Errorf("count users: %w", err)
	}
	return out, nil
}

// MappingCounts counts open mappings by status.
func (r *PGRepository) MappingCounts(ctx context.Context, branchID *int64) (MappingCounts, error) {
	f := branchFilter("branch_id", branchID)
	var out MappingCounts
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FILTER (WHERE status = 'PENDING_PAYMENT'),
       COUNT(*) FILTER (WHERE status = 'ACTIVE'),
       COUNT(*) FILTER (WHERE status = 'PAUSED')
FROM mappings`+f.Where(), f.Args()...).Scan(&out.PendingPayment, &out.Active, &out.Paused)
	if err != nil {
		return MappingCounts{}, fmt.Errorf("count mappings: %w", err)
	}
	return out, nil
}

// ScheduleCounts counts schedules starting in [from, to) by status.
func (r *PGRepository) ScheduleCounts(ctx context.Context, branchID *int64, from, to time.Time) (ScheduleCounts, error) {
	f := branchFilter("branch_id", branchID)
	f.Add("starts_at >= ?", from)
	f.Add("starts_at < ?", to)
	var out ScheduleCounts
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FILTER (WHERE status = 'BOOKED'),
       COUNT(*) FILTER (WHERE status = 'CONFIRMED'),
       COUNT(*) FILTER (WHERE status = 'COMPLETED'),
       COUNT(*) FILTER (WHERE status = 'NO_SHOW'),
       COUNT(*) FILTER (WHERE status = 'CANCELLED')
FROM schedules`+f.Where(), f.Args()...).Scan(&out.Booked, &out.Confirmed, &out.Completed, &out.NoShow, &out.Cancelled)
	if err != nil {
		return ScheduleCounts{}, fmt.Errorf("count schedules: %w", err)
	}
	return out, nil
}

// Revenue sums payments confirmed in [from, to).
func (r *PGRepository) Revenue(ctx context.Context, branchID *int64, from, to time.Time) (Revenue, error) {
	f := branchFilter("branch_id", branchID, "paid_at IS NOT NULL")
	f.Add("paid_at >= ?", from)
	f.Add("paid_at < ?", to)
	var out Revenue
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*), COALESCE(SUM(final_amount), 0), COALESCE(SUM(supply_amount), 0), COALESCE(SUM(vat_amount), 0)
FROM mappings`+f.Where(), f.Args()...).Scan(&out.Payments, &out.Total, &out.Supply, &out.VAT)
	if err != nil {
		return Revenue{}, fmt.Errorf("sum revenue: %w", err)
	}
	return out, nil
}

// Ratings returns the visible rating average and count. A zero from means all time.
func (r *PGRepository) Ratings(ctx context.Context, branchID, consultantID *int64, from, to time.Time) (float64, int, error) {
	f := branchFilter("s.branch_id", branchID, "NOT rt.is_hidden")
	if consultantID != nil {
		f.Add("rt.consultant_id = ?", *consultantID)
	}
	if !from.IsZero() {
		f.Add("rt.created_at >= ?", from)
		f.Add("rt.created_at < ?", to)
	}
	var (
		avg   float64
		count int
	)
	err := r.pool.QueryRow(ctx, `SELECT COALESCE(ROUND(AVG(rt.score)::numeric, 2), 0)::float8, COUNT(*)
FROM ratings rt JOIN schedules s ON s.id = rt.schedule_id`+f.Where(), f.Args()...).Scan(&avg, &count)
	if err != nil {
		return 0, 0, fmt.Errorf("rating average: %w", err)
	}
	return avg, count, nil
}

// ActiveMappings counts the ACTIVE mappings of a consultant.
func (r *PGRepository) ActiveMappings(ctx context.Context, consultantID int64) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM mappings WHERE consultant_id = $1 AND status = 'ACTIVE'`, consultantID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count active mappings: %w", err)
	}
	return n, nil
}

// Monthly reads the materialized monthly view for [from, to).
func (r *PGRepository) Monthly(ctx context.Context, consultantID int64, from, to time.Time) ([]MonthlyStat, error) {
	rows, err := r.pool.Query(ctx, `SELECT to_char(month, 'YYYY-MM'), SUM(completed)::int, SUM(no_show)::int, SUM(cancelled)::int
FROM mv_consultant_monthly_stats
WHERE consultant_id = $1 AND month >= $2::date AND month < $3::date
GROUP BY month ORDER BY month`, consultantID, from, to)
	if err != nil {
		return nil, fmt.Errorf("monthly stats: %w", err)
	}
	defer rows.Close()
	out := []MonthlyStat{}
	for rows.Next() {
		var m MonthlyStat
		if err := rows.Scan(&m.Month, &m.Completed, &m.NoShow, &m.Cancelled); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// Refresh rebuilds the materialized monthly view without blocking readers.
func (r *PGRepository) Refresh(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, `REFRESH MATERIALIZED VIEW CONCURRENTLY mv_consultant_monthly_stats`); err != nil {
		return fmt.Errorf("refresh monthly stats: %w", err)
	}
	return nil
}

var _ Repository = (*PGRepository)(nil)
