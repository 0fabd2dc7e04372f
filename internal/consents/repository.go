package consents

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/counselhub/counselhub/internal/platform/db"
)

// Repository persists documents and consent records.
type Repository interface {
	LatestDocument(ctx context.Context, t Type) (Document, error)
	LatestVersions(ctx context.Context) (map[Type]int, error)
	CreateDocument(ctx context.Context, doc Document) (Document, error)
	Append(ctx context.Context, records []Record) error
	Latest(ctx context.Context, userID int64) (map[Type]Record, error)
	History(ctx context.Context, userID int64) ([]Record, error)
}

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const documentColumns = `id, type, version, title, content, is_required, effective_at, created_at`

func scanDocument(row pgx.Row) (Document, error) {
	var d Document
	err := row.Scan(&d.ID, &d.Type, &d.Version, &d.Title, &d.Content, &d.IsRequired, &d.EffectiveAt, &d.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Document{}, ErrDocumentNotFound
	}
	return d, err
}

// LatestDocument returns the newest effective version of t.
func (r *PGRepository) LatestDocument(ctx context.Context, t Type) (Document, error) {
	return scanDocument(r.pool.QueryRow(ctx, `SELECT `+documentColumns+` FROM consent_documents
WHERE type = $1 AND effective_at <= NOW() ORDER BY version DESC LIMIT 1`, t))
}

// LatestVersions returns the newest effective version per type.
func (r *PGRepository) LatestVersions(ctx context.Context) (map[Type]int, error) {
	rows, err := r.pool.Query(ctx, `SELECT type, MAX(version) FROM consent_documents WHERE effective_at <= NOW() GROUP BY type`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[Type]int)
	for rows.Next() {
		var (
			t Type
			v int
		)
		if err := rows.Scan(&t, &v); err != nil {
			return nil, err
		}
		out[t] = v
	}
	return out, rows.Err()
}

// CreateDocument inserts the next version of doc.Type.
func (r *PGRepository) CreateDocument(ctx context.Context, doc Document) (Document, error) {
	var created Document
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		var next int
		if err := tx.QueryRow(ctx, `SELECT COALESCE(MAX(version), 0) + 1 FROM consent_documents WHERE type = $1`, doc.Type).Scan(&next); err != nil {
			return err
		}
		var err error
		created, err = scanDocument(tx.QueryRow(ctx, `INSERT INTO consent_documents (type, version, title, content, is_required, effective_at)
VALUES ($1, $2, $3, $4, $5, $6) RETURNING `+documentColumns,
			doc.Type, next, doc.Title, doc.Content, doc.IsRequired, doc.EffectiveAt))
		return err
	})
	return created, err
}

// Append inserts records in one batch.
func (r *PGRepository) Append(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, rec := range records {
		batch.Queue(`INSERT INTO user_consents (user_id, type, document_version, agreed, ip, user_agent) VALUES ($1, $2, $3, $4, $5, $6)`,
			rec.UserID, rec.Type, rec.DocumentVersion, rec.Agreed, rec.IP, rec.UserAgent)
	}
	return r.pool.SendBatch(ctx, batch).Close()
}

// Latest returns the most recent record per type for userID.
func (r *PGRepository) Latest(ctx context.Context, userID int64) (map[Type]Record, error) {
	rows, err := r.pool.Query(ctx, `SELECT DISTINCT ON (type) id, user_id, type, document_version, agreed, ip, user_agent, created_at
FROM user_consents WHERE user_id = $1 ORDER BY type, created_at DESC, id DESC`, userID)
	if err != nil {
		return nil, err
	}
	records, err := collect(rows)
	if err != nil {
		return nil, err
	}
	out := make(map[Type]Record, len(records))
	for _, rec := range records {
		out[rec.Type] = rec
	}
	return out, nil
}

// History returns every record of userID, newest first.
func (r *PGRepository) History(ctx context.Context, userID int64) ([]Record, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, user_id, type, document_version, agreed, ip, user_agent, created_at
FROM user_consents WHERE user_id = $1 ORDER BY created_at DESC, id DESC`, userID)
	if err != nil {
		return nil, err
	}
	return collect(rows)
}

func collect(rows pgx.Rows) ([]Record, error) {
	defer rows.Close()
	var out []Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.ID, &rec.UserID, &rec.Type, &rec.DocumentVersion, &rec.Agreed, &rec.IP, &rec.UserAgent, &rec.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

