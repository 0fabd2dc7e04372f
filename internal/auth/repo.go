package auth

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/counselhub/counselhub/internal/platform/db"
	"github.com/counselhub/counselhub/internal/shared"
)

// Passkey is a stored WebAuthn credential.
type Passkey struct {
	ID         int64               `json:"id"`
	UserID     int64               `json:"user_id"`
	Name       string              `json:"name"`
	CreatedAt  time.Time           `json:"created_at"`
	LastUsedAt *time.Time          `json:"last_used_at,omitempty"`
	Credential webauthn.Credential `json:"-"`
}

// Repository defines persistence operations for auth module.
type Repository interface {
	CreateSession(ctx context.Context, s LoginSession) error
	GetSession(ctx context.Context, id string) (LoginSession, error)
	RevokeSession(ctx context.Context, id string) error
	ListSessions(ctx context.Context, userID int64, limit int) ([]LoginSession, error)

	FindIdentity(ctx context.Context, provider, subject string) (int64, error)
	LinkIdentity(ctx context.Context, userID int64, provider, subject, email string) error

	ListPasskeys(ctx context.Context, userID int64) ([]Passkey, error)
	SavePasskey(ctx context.Context, p Passkey) (Passkey, error)
	TouchPasskey(ctx context.Context, credentialID []byte, signCount uint32, at time.Time) error
	DeletePasskey(ctx context.Context, userID, id int64) error
}

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// CreateSession persists a new login session in the database for auditing.
func (r *PGRepository) CreateSession(ctx context.Context, s LoginSession) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO login_sessions (id, user_id, method, ip, ua, expires_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		s.ID, s.UserID, s.Method, s.IP, s.UserAgent, s.ExpiresAt.UTC())
	return err
}

const sessionColumns = `id, user_id, method, COALESCE(ip, ''), COALESCE(ua, ''), created_at, expires_at, revoked_at`

func scanSession(row pgx.Row) (LoginSession, error) {
	var s LoginSession
	err := row.Scan(&s.ID, &s.UserID, &s.Method, &s.IP, &s.UserAgent, &s.CreatedAt, &s.ExpiresAt, &s.RevokedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return LoginSession{}, ErrSessionNotFound
	}
	return s, err
}

// GetSession loads one login session.
func (r *PGRepository) GetSession(ctx context.Context, id string) (LoginSession, error) {
	return scanSession(r.pool.QueryRow(ctx, `SELECT `+sessionColumns+` FROM login_sessions WHERE id = $1`, id))
}

// RevokeSession marks a login session revoked.
func (r *PGRepository) RevokeSession(ctx context.Context, id string) error {
	_, err := r.pool.Exec(ctx, `UPDATE login_sessions SET revoked_at = NOW() WHERE id = $1 AND revoked_at IS NULL`, id)
	return err
}

// ListSessions returns the most recent login sessions of a user.
func (r *PGRepository) ListSessions(ctx context.Context, userID int64, limit int) ([]LoginSession, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+sessionColumns+` FROM login_sessions WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []LoginSession
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// FindIdentity resolves a provider subject to a user id.
func (r *PGRepository) FindIdentity(ctx context.Context, provider, subject string) (int64, error) {
	var userID int64
	err := r.pool.QueryRow(ctx, `SELECT i.user_id FROM oauth_identities i JOIN users u ON u.id = i.user_id
WHERE i.provider = $1 AND i.subject = $2 AND u.deleted_at IS NULL`, provider, subject).Scan(&userID)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, shared.ErrNotFound
	}
	return userID, err
}

// LinkIdentity attaches a provider subject to a user.
func (r *PGRepository) LinkIdentity(ctx context.Context, userID int64, provider, subject, email string) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO oauth_identities (user_id, provider, subject, email) VALUES ($1, $2, $3, $4)`,
		userID, provider, subject, email)
	if db.IsUniqueViolation(err) {
		return shared.NewUserError(shared.ErrDuplicate, "이미 다른 계정에 연결된 소셜 계정입니다.")
	}
	return err
}

// ListPasskeys returns the credentials of a user.
func (r *PGRepository) ListPasskeys(ctx context.Context, userID int64) ([]Passkey, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, user_id, name, credential, sign_count, created_at, last_used_at
FROM passkey_credentials WHERE user_id = $1 ORDER BY created_at`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Passkey
	for rows.Next() {
		var (
			p         Passkey
			raw       []byte
			signCount int64
		)
		if err := rows.Scan(&p.ID, &p.UserID, &p.Name, &raw, &signCount, &p.CreatedAt, &p.LastUsedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(raw, &p.Credential); err != nil {
			return nil, err
		}
		p.Credential.Authenticator.SignCount = uint32(signCount)
		out = append(out, p)
	}
	return out, rows.Err()
}

// SavePasskey stores a newly registered credential.
func (r *PGRepository) SavePasskey(ctx context.Context, p Passkey) (Passkey, error) {
	raw, err := json.Marshal(p.Credential)
	if err != nil {
		return Passkey{}, err
	}
	err = r.pool.QueryRow(ctx, `INSERT INTO passkey_credentials (user_id, credential_id, name, credential, sign_count)
VALUES ($1, $2, $3, $4, $5) RETURNING id, created_at`,
		p.UserID, p.Credential.ID, p.Name, raw, int64(p.Credential.Authenticator.SignCount)).Scan(&p.ID, &p.CreatedAt)
	if db.IsUniqueViolation(err) {
		return Passkey{}, shared.NewUserError(shared.ErrDuplicate, "이미 등록된 패스키입니다.")
	}
	return p, err
}

// TouchPasskey records a successful assertion.
func (r *PGRepository) TouchPasskey(ctx context.Context, credentialID []byte, signCount uint32, at time.Time) error {
	_, err := r.pool.Exec(ctx, `UPDATE passkey_credentials SET sign_count = $2, last_used_at = $3 WHERE credential_id = $1`,
		credentialID, int64(signCount), at)
	return err
}

// DeletePasskey removes a credential owned by userID.
func (r *PGRepository) DeletePasskey(ctx context.Context, userID, id int64) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM passkey_credentials WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrPasskeyNotFound
	}
	return nil
}

var _ Repository = (*PGRepository)(nil)
