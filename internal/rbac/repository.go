package rbac

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/counselhub/counselhub/internal/platform/db"
)

// Repository persists role permission overrides.
type Repository interface {
	ListOverrides(ctx context.Context, role string) ([]Override, error)
	ReplaceOverrides(ctx context.Context, role string, overrides []Override) error
}

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// ListOverrides returns the stored overrides for role.
func (r *PGRepository) ListOverrides(ctx context.Context, role string) ([]Override, error) {
	rows, err := r.pool.Query(ctx, `SELECT role, permission, granted FROM role_permissions WHERE role=$1 ORDER BY permission`, role)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Override
	for rows.Next() {
		var o Override
		if err := rows.Scan(&o.Role, &o.Permission, &o.Granted); err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// ReplaceOverrides swaps every override of role in one transaction.
func (r *PGRepository) ReplaceOverrides(ctx context.Context, role string, overrides []Override) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM role_permissions WHERE role=$1`, role); err != nil {
			return err
		}
		for _, o := range overrides {
			if _, err := tx.Exec(ctx, `INSERT INTO role_permissions (role, permission, granted, updated_at) VALUES ($1, $2, $3, NOW())`, role, o.Permission, o.Granted); err != nil {
				return err
			}
		}
		return nil
	})
}

var _ Repository = (*PGRepository)(nil)

// Defaults is a Repository that stores nothing, so every role keeps the built-in matrix.
type Defaults struct{}

// ListOverrides always returns no overrides.
func (Defaults) ListOverrides(context.Context, string) ([]Override, error) { return nil, nil }

// ReplaceOverrides rejects changes.
func (Defaults) ReplaceOverrides(context.Context, string, []Override) error { return ErrImmutableRole }
