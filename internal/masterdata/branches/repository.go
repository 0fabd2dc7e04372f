package branches

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/counselhub/counselhub/internal/masterdata/shared"
	"github.com/counselhub/counselhub/internal/platform/db"
	core "github.com/counselhub/counselhub/internal/shared"
)

// Repository persists branches.
type Repository interface {
	List(ctx context.Context, filters shared.ListFilters) ([]Branch, int, error)
	Get(ctx context.Context, id int64) (Branch, error)
	GetByCode(ctx context.Context, code string) (Branch, error)
	Headquarters(ctx context.Context) (Branch, error)
	Create(ctx context.Context, branch Branch) (Branch, error)
	Update(ctx context.Context, branch Branch, version int) (Branch, error)
	SoftDelete(ctx context.Context, id int64) error
	CountActiveUsers(ctx context.Context, id int64) (int, error)
}

type repository struct {
	db *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{db: pool}
}

const branchColumns = `id, code, name, address, phone, is_headquarters, is_active, version, created_at, updated_at`

var sortColumns = map[string]string{"code": "code", "name": "name", "created_at": "created_at"}

func scanBranch(row pgx.Row) (Branch, error) {
	var b Branch
	err := row.Scan(&b.ID, &b.Code, &b.Name, &b.Address, &b.Phone, &b.IsHeadquarters, &b.IsActive, &b.Version, &b.CreatedAt, &b.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Branch{}, ErrBranchNotFound
	}
	return b, err
}

func (r *repository) List(ctx context.Context, filters shared.ListFilters) ([]Branch, int, error) {
	f := db.NewFilter("deleted_at IS NULL")
	if filters.Search != "" {
		like := "%" + filters.Search + "%"
		f.Add("(name ILIKE ? OR code ILIKE ?)", like, like)
	}
	if filters.IsActive != nil {
		f.Add("is_active = ?", *filters.IsActive)
	}

	var total int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM branches`+f.Where(), f.Args()...).Scan(&total); err != nil {
		return nil, 0, err
	}

	page := core.PageRequest{Page: filters.Page, PerPage: filters.PerPage}
	query := `SELECT ` + branchColumns + ` FROM branches` + f.Where() +
		` ORDER BY is_headquarters DESC, ` + shared.SortClause(filters.SortBy, filters.SortDir, sortColumns, "code") +
		f.Page(page.Limit(), page.Offset())
	rows, err := r.db.Query(ctx, query, f.Args()...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var branches []Branch
	for rows.Next() {
		b, err := scanBranch(rows)
		if err != nil {
			return nil, 0, err
		}
		branches = append(branches, b)
	}
	return branches, total, rows.Err()
}

func (r *repository) Get(ctx context.Context, id int64) (Branch, error) {
	return scanBranch(r.db.QueryRow(ctx, `SELECT `+branchColumns+` FROM branches WHERE id = $1 AND deleted_at IS NULL`, id))
}

func (r *repository) GetByCode(ctx context.Context, code string) (Branch, error) {
	return scanBranch(r.db.QueryRow(ctx, `SELECT `+branchColumns+` FROM branches WHERE code = $1 AND deleted_at IS NULL`, code))
}

func (r *repository) Headquarters(ctx context.Context) (Branch, error) {
	return scanBranch(r.db.QueryRow(ctx, `SELECT `+branchColumns+` FROM branches WHERE is_headquarters AND deleted_at IS NULL`))
}

func (r *repository) Create(ctx context.Context, branch Branch) (Branch, error) {
	created, err := scanBranch(r.db.QueryRow(ctx, `INSERT INTO branches (code, name, address, phone, is_headquarters, is_active)
VALUES ($1, $2, $3, $4, $5, $6) RETURNING `+branchColumns,
		branch.Code, branch.Name, branch.Address, branch.Phone, branch.IsHeadquarters, branch.IsActive))
	if db.IsUniqueViolation(err) {
		return Branch{}, uniqueError(err)
	}
	return created, err
}

func (r *repository) Update(ctx context.Context, branch Branch, version int) (Branch, error) {
	updated, err := scanBranch(r.db.QueryRow(ctx, `UPDATE branches
SET code = $2, name = $3, address = $4, phone = $5, is_headquarters = $6, is_active = $7, version = version + 1, updated_at = NOW()
WHERE id = $1 AND version = $8 AND deleted_at IS NULL RETURNING `+branchColumns,
		branch.ID, branch.Code, branch.Name, branch.Address, branch.Phone, branch.IsHeadquarters, branch.IsActive, version))
	if errors.Is(err, ErrBranchNotFound) {
		return Branch{}, core.ErrConflict
	}
	if db.IsUniqueViolation(err) {
		return Branch{}, uniqueError(err)
	}
	return updated, err
}

func (r *repository) SoftDelete(ctx context.Context, id int64) error {
	tag, err := r.db.Exec(ctx, `UPDATE branches SET deleted_at = NOW(), is_active = FALSE, updated_at = NOW() WHERE id = $1 AND deleted_at IS NULL`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrBranchNotFound
	}
	return nil
}

func (r *repository) CountActiveUsers(ctx context.Context, id int64) (int, error) {
	var n int
	err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM users WHERE branch_id = $1 AND is_active AND deleted_at IS NULL`, id).Scan(&n)
	return n, err
}

func uniqueError(err error) error {
	if db.ConstraintName(err) == "branches_single_hq_uq" {
		return ErrHeadquartersExists
	}
	return ErrDuplicateCode
}
