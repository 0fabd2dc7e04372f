package commoncodes

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/counselhub/counselhub/internal/platform/db"
	core "github.com/counselhub/counselhub/internal/shared"
)

// Repository persists code groups and codes.
type Repository interface {
	ListGroups(ctx context.Context) ([]Group, error)
	GetGroup(ctx context.Context, groupCode string) (Group, error)
	CreateGroup(ctx context.Context, g Group) (Group, error)
	ListCodes(ctx context.Context, groupCode string, includeInactive bool) ([]Code, error)
	GetCode(ctx context.Context, id int64) (Code, error)
	CreateCode(ctx context.Context, c Code) (Code, error)
	UpdateCode(ctx context.Context, c Code, version int) (Code, error)
	SoftDeleteCode(ctx context.Context, id int64) error
}

type repository struct {
	db *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{db: pool}
}

const codeColumns = `id, group_code, code, name, sort_order, is_active, extra, version, created_at, updated_at`

func scanCode(row pgx.Row) (Code, error) {
	var c Code
	err := row.Scan(&c.ID, &c.GroupCode, &c.Code, &c.Name, &c.SortOrder, &c.IsActive, &c.Extra, &c.Version, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Code{}, ErrCodeNotFound
	}
	return c, err
}

func (r *repository) ListGroups(ctx context.Context) ([]Group, error) {
	rows, err := r.db.Query(ctx, `SELECT g.group_code, g.name, g.description, g.created_at,
       (SELECT COUNT(*) FROM common_codes c WHERE c.group_code = g.group_code AND c.deleted_at IS NULL)
FROM common_code_groups g ORDER BY g.group_code`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var groups []Group
	for rows.Next() {
		var g Group
		if err := rows.Scan(&g.GroupCode, &g.Name, &g.Description, &g.CreatedAt, &g.CodeCount); err != nil {
			return nil, err
		}
		groups = append(groups, g)
	}
	return groups, rows.Err()
}

func (r *repository) GetGroup(ctx context.Context, groupCode string) (Group, error) {
	var g Group
	err := r.db.QueryRow(ctx, `SELECT group_code, name, description, created_at FROM common_code_groups WHERE group_code = $1`, groupCode).
		Scan(&g.GroupCode, &g.Name, &g.Description, &g.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Group{}, ErrGroupNotFound
	}
	return g, err
}

func (r *repository) CreateGroup(ctx context.Context, g Group) (Group, error) {
	err := r.db.QueryRow(ctx, `INSERT INTO common_code_groups (group_code, name, description) VALUES ($1, $2, $3) RETURNING created_at`,
		g.GroupCode, g.Name, g.Description).Scan(&g.CreatedAt)
	if db.IsUniqueViolation(err) {
		return Group{}, ErrDuplicateGroup
	}
	return g, err
}

func (r *repository) ListCodes(ctx context.Context, groupCode string, includeInactive bool) ([]Code, error) {
	f := db.NewFilter("deleted_at IS NULL")
	f.Add("group_code = ?", groupCode)
	if !includeInactive {
		f.Add("is_active = ?", true)
	}
	rows, err := r.db.Query(ctx, `SELECT `+codeColumns+` FROM common_codes`+f.Where()+` ORDER BY sort_order, code`, f.Args()...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var codes []Code
	for rows.Next() {
		c, err := scanCode(rows)
		if err != nil {
			return nil, err
		}
		codes = append(codes, c)
	}
	return codes, rows.Err()
}

func (r *repository) GetCode(ctx context.Context, id int64) (Code, error) {
	return scanCode(r.db.QueryRow(ctx, `SELECT `+codeColumns+` FROM common_codes WHERE id = $1 AND deleted_at IS NULL`, id))
}

func (r *repository) CreateCode(ctx context.Context, c Code) (Code, error) {
	created, err := scanCode(r.db.QueryRow(ctx, `INSERT INTO common_codes (group_code, code, name, sort_order, is_active, extra)
VALUES ($1, $2, $3, $4, $5, $6) RETURNING `+codeColumns,
		c.GroupCode, c.Code, c.Name, c.SortOrder, c.IsActive, c.Extra))
	switch {
	case db.IsUniqueViolation(err):
		return Code{}, ErrDuplicateCode
	case db.IsForeignKeyViolation(err):
		return Code{}, ErrGroupNotFound
	}
	return created, err
}

func (r *repository) UpdateCode(ctx context.Context, c Code, version int) (Code, error) {
	updated, err := scanCode(r.db.QueryRow(ctx, `UPDATE common_codes
SET code = $2, name = $3, sort_order = $4, is_active = $5, extra = $6, version = version + 1, updated_at = NOW()
WHERE id = $1 AND version = $7 AND deleted_at IS NULL RETURNING `+codeColumns,
		c.ID, c.Code, c.Name, c.SortOrder, c.IsActive, c.Extra, version))
	if errors.Is(err, ErrCodeNotFound) {
		return Code{}, core.ErrConflict
	}
	if db.IsUniqueViolation(err) {
		return Code{}, ErrDuplicateCode
	}
	return updated, err
}

func (r *repository) SoftDeleteCode(ctx context.Context, id int64) error {
	tag, err := r.db.Exec(ctx, `UPDATE common_codes SET deleted_at = NOW(), is_active = FALSE, updated_at = NOW() WHERE id = $1 AND deleted_at IS NULL`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrCodeNotFound
	}
	return nil
}
