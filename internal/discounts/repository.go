package discounts

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/counselhub/counselhub/internal/platform/db"
	"github.com/counselhub/counselhub/internal/shared"
)

// Repository persists discounts.
type Repository interface {
	List(ctx context.Context, filter ListFilter) ([]Discount, int, error)
	Get(ctx context.Context, id int64) (Discount, error)
	GetByCode(ctx context.Context, code string) (Discount, error)
	Create(ctx context.Context, d Discount) (Discount, error)
	Update(ctx context.Context, d Discount, version int) (Discount, error)
	SoftDelete(ctx context.Context, id int64) error
}

// PGRepository implements Repository with PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PGRepository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const columns = `id, code, name, type, value, max_discount, min_amount, valid_from, valid_to, usage_limit, usage_count, is_active, version, created_at, updated_at`

func scan(row pgx.Row) (Discount, error) {
	var d Discount
	err := row.Scan(&d.ID, &d.Code, &d.Name, &d.Type, &d.Value, &d.MaxDiscount, &d.MinAmount, &d.ValidFrom, &d.ValidTo,
		&d.UsageLimit, &d.UsageCount, &d.IsActive, &d.Version, &d.CreatedAt, &d.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Discount{}, ErrNotFound
	}
	return d, err
}

// List returns a page of discounts.
func (r *PGRepository) List(ctx context.Context, filter ListFilter) ([]Discount, int, error) {
	f := db.NewFilter("deleted_at IS NULL")
	if filter.Search != "" {
		like := "%" + filter.Search + "%"
		f.Add("(code ILIKE ? OR name ILIKE ?)", like, like)
	}
	if filter.Active != nil {
		f.Add("is_active = ?", *filter.Active)
	}
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM discounts`+f.Where(), f.Args()...).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.pool.Query(ctx, `SELECT `+columns+` FROM discounts`+f.Where()+` ORDER BY created_at DESC`+
		f.Page(filter.Page.Limit(), filter.Page.Offset()), f.Args()...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var out []Discount
	for rows.Next() {
		d, err := scan(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, d)
	}
	return out, total, rows.Err()
}

// Get loads a discount by id.
func (r *PGRepository) Get(ctx context.Context, id int64) (Discount, error) {
	return scan(r.pool.QueryRow(ctx, `SELECT `+columns+` FROM discounts WHERE id = $1 AND deleted_at IS NULL`, id))
}

// GetByCode loads a discount by its code.
func (r *PGRepository) GetByCode(ctx context.Context, code string) (Discount, error) {
	return scan(r.pool.QueryRow(ctx, `SELECT `+columns+` FROM discounts WHERE code = $1 AND deleted_at IS NULL`, code))
}

// Create inserts a discount.
func (r *PGRepository) Create(ctx context.Context, d Discount) (Discount, error) {
	created, err := scan(r.pool.QueryRow(ctx, `INSERT INTO discounts (code, name, type, value, max_discount, min_amount, valid_from, valid_to, usage_limit, is_active)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10) RETURNING `+columns,
		d.Code, d.Name, d.Type, d.Value, d.MaxDiscount, d.MinAmount, d.ValidFrom, d.ValidTo, d.UsageLimit, d.IsActive))
	if db.IsUniqueViolation(err) {
		return Discount{}, ErrDuplicateCode
	}
	return created, err
}

// Update stores d when version still matches.
func (r *PGRepository) Update(ctx context.Context, d Discount, version int) (Discount, error) {
	updated, err := scan(r.pool.QueryRow(ctx, `UPDATE discounts SET code = $3, name = $4, type = $5, value = $6, max_discount = $7, min_amount = $8,
valid_from = $9, valid_to = $10, usage_limit = $11, is_active = $12, version = version + 1, updated_at = NOW()
WHERE id = $1 AND version = $2 AND deleted_at IS NULL RETURNING `+columns,
		d.ID, version, d.Code, d.Name, d.Type, d.Value, d.MaxDiscount, d.MinAmount, d.ValidFrom, d.ValidTo, d.UsageLimit, d.IsActive))
	switch {
	case db.IsUniqueViolation(err):
		return Discount{}, ErrDuplicateCode
	case errors.Is(err, ErrNotFound):
		if _, getErr := r.Get(ctx, d.ID); getErr == nil {
			return Discount{}, shared.ErrConflict
		}
	}
	return updated, err
}

// SoftDelete hides a discount.
func (r *PGRepository) SoftDelete(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx, `UPDATE discounts SET deleted_at = NOW(), is_active = FALSE WHERE id = $1 AND deleted_at IS NULL`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// IncrementUsage consumes one use of discount id inside q, refusing once the limit is reached.
func IncrementUsage(ctx context.Context, q db.Querier, id int64) error {
	tag, err := q.Exec(ctx, `UPDATE discounts SET usage_count = usage_count + 1, updated_at = NOW()
WHERE id = $1 AND deleted_at IS NULL AND (usage_limit IS NULL OR usage_count < usage_limit)`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrUsageExhausted
	}
	return nil
}

var _ Repository = (*PGRepository)(nil)
