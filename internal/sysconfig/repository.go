package sysconfig

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/counselhub/counselhub/internal/shared"
)

// Repository persists settings.
type Repository interface {
	List(ctx context.Context) ([]Setting, error)
	Get(ctx context.Context, key string) (Setting, error)
	// Save updates the row when version matches, or inserts it when version is 0.
	Save(ctx context.Context, s Setting, version int, actorID int64) (Setting, error)
}

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const settingColumns = `key, value, value_type, description, version, updated_by, updated_at`

func scanSetting(row pgx.Row) (Setting, error) {
	var s Setting
	var typ string
	if err := row.Scan(&s.Key, &s.Value, &typ, &s.Description, &s.Version, &s.UpdatedBy, &s.UpdatedAt); err != nil {
		return Setting{}, err
	}
	s.ValueType = ValueType(typ)
	return s, nil
}

// List returns every stored setting.
func (r *PGRepository) List(ctx context.Context) ([]Setting, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+settingColumns+` FROM system_configs ORDER BY key`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Setting
	for rows.Next() {
		s, err := scanSetting(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// Get fetches one setting.
func (r *PGRepository) Get(ctx context.Context, key string) (Setting, error) {
	s, err := scanSetting(r.pool.QueryRow(ctx, `SELECT `+settingColumns+` FROM system_configs WHERE key=$1`, key))
	if errors.Is(err, pgx.ErrNoRows) {
		return Setting{}, shared.ErrNotFound
	}
	return s, err
}

// Save writes the setting with optimistic locking.
func (r *PGRepository) Save(ctx context.Context, s Setting, version int, actorID int64) (Setting, error) {
	var row pgx.Row
	if version == 0 {
		row = r.pool.QueryRow(ctx, `INSERT INTO system_configs (key, value, value_type, description, updated_by)
VALUES ($1, $2, $3, $4, $5) ON CONFLICT (key) DO NOTHING RETURNING `+settingColumns,
			s.Key, s.Value, string(s.ValueType), s.Description, actorID)
	} else {
		row = r.pool.QueryRow(ctx, `UPDATE system_configs SET value=$2, version=version+1, updated_by=$4, updated_at=NOW()
WHERE key=$1 AND version=$3 RETURNING `+settingColumns, s.Key, s.Value, version, actorID)
	}
	saved, err := scanSetting(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Setting{}, shared.ErrConflict
	}
	return saved, err
}

var _ Repository = (*PGRepository)(nil)
