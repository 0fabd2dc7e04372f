package audit

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/counselhub/counselhub/internal/platform/db"
)

// Repository reads audit rows.
type Repository interface {
	Window(ctx context.Context, f Filters, limit, offset int) ([]Entry, error)
}

// PGRepository implements Repository with PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PGRepository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// Window returns rows newest first. The caller asks for one extra row to detect a next page.
func (r *PGRepository) Window(ctx context.Context, f Filters, limit, offset int) ([]Entry, error) {
	q := db.NewFilter()
	if !f.From.IsZero() {
		q.Add("a.occurred_at >= ?", f.From)
	}
	if !f.To.IsZero() {
		q.Add("a.occurred_at < ?", f.To.AddDate(0, 0, 1))
	}
	if f.ActorID != nil {
		q.Add("a.actor_id = ?", *f.ActorID)
	}
	if f.Entity != "" {
		q.Add("a.entity = ?", f.Entity)
	}
	if f.EntityID != "" {
		q.Add("a.entity_id = ?", f.EntityID)
	}
	if f.Action != "" {
		q.Add("a.action = ?", f.Action)
	}
	if f.BranchID != nil {
		q.Add("u.branch_id = ?", *f.BranchID)
	}
	sql := `SELECT a.id, a.occurred_at, a.actor_id, COALESCE(u.name, ''), COALESCE(u.email, ''), a.action, a.entity, a.entity_id, a.meta
FROM audit_logs a LEFT JOIN users u ON u.id = a.actor_id` + q.Where() + ` ORDER BY a.occurred_at DESC, a.id DESC` + q.Page(limit, offset)
	rows, err := r.pool.Query(ctx, sql, q.Args()...)
	if err != nil {
		return nil, fmt.Errorf("audit window: %w", err)
	}
	defer rows.Close()
	out := []Entry{}
	for rows.Next() {
		var (
			e    Entry
			meta []byte
		)
		if err := rows.Scan(&e.ID, &e.At, &e.ActorID, &e.ActorName, &e.ActorEmail, &e.Action, &e.Entity, &e.EntityID, &meta); err != nil {
			return nil, err
		}
		if len(meta) > 0 {
			e.Meta = meta
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

var _ Repository = (*PGRepository)(nil)
