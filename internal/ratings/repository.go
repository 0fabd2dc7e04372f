package ratings

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/counselhub/counselhub/internal/platform/db"
	"github.com/counselhub/counselhub/internal/shared"
)

// Repository persists ratings.
type Repository interface {
	Create(ctx context.Context, r Rating) (Rating, error)
	Get(ctx context.Context, id int64) (Rating, error)
	ListByConsultant(ctx context.Context, consultantID int64, includeHidden bool, page shared.PageRequest) ([]Rating, int, error)
	Summary(ctx context.Context, consultantID int64) (Summary, error)
	Hide(ctx context.Context, id int64) error
}

// PGRepository implements Repository with PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PGRepository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const selectRating = `SELECT r.id, r.schedule_id, s.branch_id, r.consultant_id, r.client_id, u.name, r.score, r.comment, r.tags, r.is_hidden, r.created_at
FROM ratings r JOIN schedules s ON s.id = r.schedule_id JOIN users u ON u.id = r.client_id`

func scanRating(row pgx.Row) (Rating, error) {
	var r Rating
	err := row.Scan(&r.ID, &r.ScheduleID, &r.BranchID, &r.ConsultantID, &r.ClientID, &r.ClientName, &r.Score, &r.Comment, &r.Tags, &r.IsHidden, &r.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Rating{}, ErrNotFound
	}
	if r.Tags == nil {
		r.Tags = []string{}
	}
	return r, err
}

// Create inserts a rating; a second rating for the same schedule fails with ErrAlreadyRated.
func (r *PGRepository) Create(ctx context.Context, in Rating) (Rating, error) {
	var id int64
	err := r.pool.QueryRow(ctx, `INSERT INTO ratings (schedule_id, consultant_id, client_id, score, comment, tags)
VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`, in.ScheduleID, in.ConsultantID, in.ClientID, in.Score, in.Comment, in.Tags).Scan(&id)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return Rating{}, ErrAlreadyRated
		}
		return Rating{}, err
	}
	return r.Get(ctx, id)
}

// Get loads a rating.
func (r *PGRepository) Get(ctx context.Context, id int64) (Rating, error) {
	return scanRating(r.pool.QueryRow(ctx, selectRating+` WHERE r.id = $1`, id))
}

// ListByConsultant returns newest ratings first.
func (r *PGRepository) ListByConsultant(ctx context.Context, consultantID int64, includeHidden bool, page shared.PageRequest) ([]Rating, int, error) {
	f := db.NewFilter().Add("r.consultant_id = ?", consultantID)
	if !includeHidden {
		f.Add("NOT r.is_hidden")
	}
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM ratings r`+f.Where(), f.Args()...).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.pool.Query(ctx, selectRating+f.Where()+` ORDER BY r.created_at DESC, r.id DESC`+f.Page(page.Limit(), page.Offset()), f.Args()...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var out []Rating
	for rows.Next() {
		rt, err := scanRating(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, rt)
	}
	return out, total, rows.Err()
}

// Summary aggregates visible ratings.
func (r *PGRepository) Summary(ctx context.Context, consultantID int64) (Summary, error) {
	rows, err := r.pool.Query(ctx, `SELECT score, COUNT(*) FROM ratings WHERE consultant_id = $1 AND NOT is_hidden GROUP BY score`, consultantID)
	if err != nil {
		return Summary{}, err
	}
	defer rows.Close()
	counts := emptyDistribution()
	for rows.Next() {
		var score, n int
		if err := rows.Scan(&score, &n); err != nil {
			return Summary{}, err
		}
		counts[score] = n
	}
	if err := rows.Err(); err != nil {
		return Summary{}, err
	}
	return Summarize(consultantID, counts), nil
}

// Hide flags a rating as hidden.
func (r *PGRepository) Hide(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx, `UPDATE ratings SET is_hidden = TRUE WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

var _ Repository = (*PGRepository)(nil)
