package users

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/counselhub/counselhub/internal/platform/db"
	"github.com/counselhub/counselhub/internal/shared"
)

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const userColumns = `u.id, u.email, u.name, u.phone, u.role, u.branch_id, COALESCE(b.name, ''), u.is_active,
u.must_change_password, u.phone_verified_at, u.last_login_at, u.version, u.created_at, u.updated_at,
u.password_hash, u.webauthn_handle`

const userFrom = ` FROM users u LEFT JOIN branches b ON b.id = u.branch_id`

func scanUser(row pgx.Row) (User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Email, &u.Name, &u.Phone, &u.Role, &u.BranchID, &u.BranchName, &u.IsActive,
		&u.MustChangePassword, &u.PhoneVerifiedAt, &u.LastLoginAt, &u.Version, &u.CreatedAt, &u.UpdatedAt,
		&u.PasswordHash, &u.WebAuthnHandle)
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, ErrUserNotFound
	}
	return u, err
}

func (r *Repository) one(ctx context.Context, where string, args ...any) (User, error) {
	return scanUser(r.pool.QueryRow(ctx, `SELECT `+userColumns+userFrom+` WHERE u.deleted_at IS NULL AND `+where, args...))
}

// List returns a filtered page of accounts.
func (r *Repository) List(ctx context.Context, filter ListFilter) ([]User, int, error) {
	f := db.NewFilter("u.deleted_at IS NULL")
	if filter.Role != "" {
		f.Add("u.role = ?", filter.Role)
	}
	if filter.BranchID != nil {
		f.Add("u.branch_id = ?", *filter.BranchID)
	}
	switch filter.Status {
	case StatusActive:
		f.Add("u.is_active = ?", true)
	case StatusInactive:
		f.Add("u.is_active = ?", false)
	}
	if s := strings.TrimSpace(filter.Search); s != "" {
		like := "%" + s + "%"
		f.Add("(u.name ILIKE ? OR u.email ILIKE ? OR u.phone ILIKE ?)", like, like, like)
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM users u`+f.Where(), f.Args()...).Scan(&total); err != nil {
		return nil, 0, err
	}
	page := filter.Page.Normalize()
	rows, err := r.pool.Query(ctx, `SELECT `+userColumns+userFrom+f.Where()+` ORDER BY u.id DESC`+f.Page(page.Limit(), page.Offset()), f.Args()...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var users []User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, 0, err
		}
		users = append(users, u)
	}
	return users, total, rows.Err()
}

// Get loads an account by id.
func (r *Repository) Get(ctx context.Context, id int64) (User, error) {
	return r.one(ctx, "u.id = $1", id)
}

// GetByEmail loads an account by case-insensitive e-mail.
func (r *Repository) GetByEmail(ctx context.Context, email string) (User, error) {
	return r.one(ctx, "LOWER(u.email) = LOWER($1)", strings.TrimSpace(email))
}

// GetByPhone loads the most recent active account with a verified phone number.
func (r *Repository) GetByPhone(ctx context.Context, phone string) (User, error) {
	return r.one(ctx, "u.phone = $1 AND u.phone_verified_at IS NOT NULL ORDER BY u.id DESC LIMIT 1", phone)
}

// GetByWebAuthnHandle loads an account by its passkey user handle.
func (r *Repository) GetByWebAuthnHandle(ctx context.Context, handle uuid.UUID) (User, error) {
	return r.one(ctx, "u.webauthn_handle = $1", handle)
}

// Create inserts an account and its first password history row.
func (r *Repository) Create(ctx context.Context, u User) (User, error) {
	var id int64
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `INSERT INTO users (email, password_hash, name, phone, role, branch_id, is_active, must_change_password, phone_verified_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9) RETURNING id`,
			u.Email, u.PasswordHash, u.Name, u.Phone, u.Role, u.BranchID, u.IsActive, u.MustChangePassword, u.PhoneVerifiedAt).Scan(&id)
		if err != nil {
			return err
		}
		if u.PasswordHash == "" {
			return nil
		}
		_, err = tx.Exec(ctx, `INSERT INTO password_history (user_id, password_hash) VALUES ($1, $2)`, id, u.PasswordHash)
		return err
	})
	switch {
	case db.IsUniqueViolation(err):
		return User{}, ErrDuplicateEmail
	case db.IsForeignKeyViolation(err):
		return User{}, shared.NewUserError(shared.ErrValidation, "존재하지 않는 지점입니다.")
	case err != nil:
		return User{}, err
	}
	return r.Get(ctx, id)
}

// Update stores name, phone and branch using optimistic locking.
func (r *Repository) Update(ctx context.Context, u User, version int) (User, error) {
	return r.versioned(ctx, version, u.ID,
		`UPDATE users SET name = $3, phone = $4, branch_id = $5, phone_verified_at = $6, version = version + 1, updated_at = NOW()
WHERE id = $1 AND version = $2 AND deleted_at IS NULL`, u.Name, u.Phone, u.BranchID, u.PhoneVerifiedAt)
}

// UpdateRole changes role and branch using optimistic locking.
func (r *Repository) UpdateRole(ctx context.Context, id int64, role string, branchID *int64, version int) (User, error) {
	return r.versioned(ctx, version, id,
		`UPDATE users SET role = $3, branch_id = $4, version = version + 1, updated_at = NOW()
WHERE id = $1 AND version = $2 AND deleted_at IS NULL`, role, branchID)
}

func (r *Repository) versioned(ctx context.Context, version int, id int64, query string, args ...any) (User, error) {
	tag, err := r.pool.Exec(ctx, query, append([]any{id, version}, args...)...)
	if db.IsForeignKeyViolation(err) {
		return User{}, shared.NewUserError(shared.ErrValidation, "존재하지 않는 지점입니다.")
	}
	if err != nil {
		return User{}, err
	}
	if tag.RowsAffected() == 0 {
		return User{}, shared.ErrConflict
	}
	return r.Get(ctx, id)
}

// SetActive toggles the active flag.
func (r *Repository) SetActive(ctx context.Context, id int64, active bool) error {
	return r.exec(ctx, `UPDATE users SET is_active = $2, version = version + 1, updated_at = NOW() WHERE id = $1 AND deleted_at IS NULL`, id, active)
}

// SoftDelete marks an account deleted and inactive.
func (r *Repository) SoftDelete(ctx context.Context, id int64) error {
	return r.exec(ctx, `UPDATE users SET deleted_at = NOW(), is_active = FALSE, updated_at = NOW() WHERE id = $1 AND deleted_at IS NULL`, id)
}

// SetPassword replaces the password hash and appends it to the history.
func (r *Repository) SetPassword(ctx context.Context, id int64, hash string, mustChange bool) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `UPDATE users SET password_hash = $2, must_change_password = $3, updated_at = NOW() WHERE id = $1 AND deleted_at IS NULL`, id, hash, mustChange)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrUserNotFound
		}
		_, err = tx.Exec(ctx, `INSERT INTO password_history (user_id, password_hash) VALUES ($1, $2)`, id, hash)
		return err
	})
}

// RecentPasswordHashes returns the last n password hashes, newest first.
func (r *Repository) RecentPasswordHashes(ctx context.Context, id int64, n int) ([]string, error) {
	rows, err := r.pool.Query(ctx, `SELECT password_hash FROM password_history WHERE user_id = $1 ORDER BY created_at DESC, id DESC LIMIT $2`, id, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// MarkPhoneVerified stores a verified phone number.
func (r *Repository) MarkPhoneVerified(ctx context.Context, id int64, phone string, at time.Time) error {
	return r.exec(ctx, `UPDATE users SET phone = $2, phone_verified_at = $3, updated_at = NOW() WHERE id = $1 AND deleted_at IS NULL`, id, phone, at)
}

// TouchLogin records a successful login time.
func (r *Repository) TouchLogin(ctx context.Context, id int64, at time.Time) error {
	return r.exec(ctx, `UPDATE users SET last_login_at = $2 WHERE id = $1`, id, at)
}

// RevokeLoginSessions marks live login sessions revoked and returns their ids.
func (r *Repository) RevokeLoginSessions(ctx context.Context, userID int64) ([]string, error) {
	rows, err := r.pool.Query(ctx, `UPDATE login_sessions SET revoked_at = NOW()
WHERE user_id = $1 AND revoked_at IS NULL AND expires_at > NOW() RETURNING id`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// CountByRole counts live accounts with role.
func (r *Repository) CountByRole(ctx context.Context, role string) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM users WHERE role = $1 AND deleted_at IS NULL`, role).Scan(&n)
	return n, err
}

func (r *Repository) exec(ctx context.Context, query string, args ...any) error {
	tag, err := r.pool.Exec(ctx, query, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}
