package users

import (
	"context"
	"log/slog"
	"strconv"
	"strings"

	"github.com/counselhub/counselhub/internal/auth/password"
	"github.com/counselhub/counselhub/internal/shared"
)

// RepositoryPort defines data access methods for users.
type RepositoryPort interface {
	List(ctx context.Context, filter ListFilter) ([]User, int, error)
	Get(ctx context.Context, id int64) (User, error)
	GetByEmail(ctx context.Context, email string) (User, error)
	Create(ctx context.Context, u User) (User, error)
	Update(ctx context.Context, u User, version int) (User, error)
	UpdateRole(ctx context.Context, id int64, role string, branchID *int64, version int) (User, error)
	SetActive(ctx context.Context, id int64, active bool) error
	SoftDelete(ctx context.Context, id int64) error
	SetPassword(ctx context.Context, id int64, hash string, mustChange bool) error
	RevokeLoginSessions(ctx context.Context, userID int64) ([]string, error)
}

// SessionRevoker drops server-side sessions by id.
type SessionRevoker interface {
	Revoke(ctx context.Context, id string) error
}

// Service handles user business logic.
type Service struct {
	repo     RepositoryPort
	sessions SessionRevoker
	audit    shared.AuditRecorder
	logger   *slog.Logger
}

// NewService builds Service instance. sessions may be nil.
func NewService(repo RepositoryPort, sessions SessionRevoker, audit shared.AuditRecorder, logger *slog.Logger) *Service {
	if audit == nil {
		audit = shared.NopAuditRecorder{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, sessions: sessions, audit: audit, logger: logger}
}

// LoadPrincipal resolves a session user id. Inactive and deleted accounts yield shared.ErrNotFound.
func (s *Service) LoadPrincipal(ctx context.Context, userID int64) (*shared.Principal, error) {
	u, err := s.repo.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !u.IsActive {
		return nil, ErrUserNotFound
	}
	return u.Principal(), nil
}

// List returns accounts visible to the actor.
func (s *Service) List(ctx context.Context, actor *shared.Principal, filter ListFilter) (shared.PagedResult[User], error) {
	filter.BranchID = actor.ScopeBranch(filter.BranchID)
	filter.Page = filter.Page.Normalize()
	items, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return shared.PagedResult[User]{}, err
	}
	return shared.NewPagedResult(items, filter.Page, total), nil
}

// Get returns one account visible to the actor.
func (s *Service) Get(ctx context.Context, actor *shared.Principal, id int64) (User, error) {
	u, err := s.repo.Get(ctx, id)
	if err != nil {
		return User{}, err
	}
	if err := checkBranch(actor, u.BranchID); err != nil {
		return User{}, err
	}
	return u, nil
}

// Create registers an account on behalf of an admin. When no password is
// given a temporary one is generated and returned alongside the user.
func (s *Service) Create(ctx context.Context, actor *shared.Principal, in CreateInput) (User, *TemporaryPassword, error) {
	role := strings.ToUpper(strings.TrimSpace(in.Role))
	branchID, err := s.placement(actor, role, in.BranchID)
	if err != nil {
		return User{}, nil, err
	}
	email := strings.ToLower(strings.TrimSpace(in.Email))
	pw := in.Password
	mustChange := false
	if pw == "" {
		if pw, err = password.Generate(12); err != nil {
			return User{}, nil, err
		}
		mustChange = true
	} else if err := password.Validate(pw, email); err != nil {
		return User{}, nil, err
	}
	hash, err := password.Hash(pw)
	if err != nil {
		return User{}, nil, err
	}
	u, err := s.repo.Create(ctx, User{
		Email:              email,
		Name:               strings.TrimSpace(in.Name),
		Phone:              NormalizePhone(in.Phone),
		Role:               role,
		BranchID:           branchID,
		IsActive:           true,
		MustChangePassword: mustChange,
		PasswordHash:       hash,
	})
	if err != nil {
		return User{}, nil, err
	}
	s.record(ctx, actor, "USER_CREATE", u.ID, map[string]any{"role": role})
	var temp *TemporaryPassword
	if mustChange {
		temp = &TemporaryPassword{UserID: u.ID, Password: pw}
	}
	return u, temp, nil
}

// Update edits name, phone and branch of an account.
func (s *Service) Update(ctx context.Context, actor *shared.Principal, id int64, in UpdateInput) (User, error) {
	current, err := s.Get(ctx, actor, id)
	if err != nil {
		return User{}, err
	}
	if err := canManage(actor, current.Role); err != nil {
		return User{}, err
	}
	branchID, err := s.placement(actor, current.Role, in.BranchID)
	if err != nil {
		return User{}, err
	}
	next := current
	next.Name = strings.TrimSpace(in.Name)
	next.BranchID = branchID
	if phone := NormalizePhone(in.Phone); phone != current.Phone {
		next.Phone = phone
		next.PhoneVerifiedAt = nil
	}
	u, err := s.repo.Update(ctx, next, in.Version)
	if err != nil {
		return User{}, err
	}
	s.record(ctx, actor, "USER_UPDATE", id, nil)
	return u, nil
}

// ChangeRole moves an account to another role.
func (s *Service) ChangeRole(ctx context.Context, actor *shared.Principal, id int64, in RoleInput) (User, error) {
	if actor.UserID == id {
		return User{}, ErrSelfAction
	}
	current, err := s.Get(ctx, actor, id)
	if err != nil {
		return User{}, err
	}
	if err := canManage(actor, current.Role); err != nil {
		return User{}, err
	}
	role := strings.ToUpper(strings.TrimSpace(in.Role))
	branchID := in.BranchID
	if branchID == nil {
		branchID = current.BranchID
	}
	branchID, err = s.placement(actor, role, branchID)
	if err != nil {
		return User{}, err
	}
	u, err := s.repo.UpdateRole(ctx, id, role, branchID, in.Version)
	if err != nil {
		return User{}, err
	}
	s.record(ctx, actor, "USER_ROLE_CHANGE", id, map[string]any{"from": current.Role, "to": role})
	return u, nil
}

// SetActive activates or deactivates an account. Deactivation ends its sessions.
func (s *Service) SetActive(ctx context.Context, actor *shared.Principal, id int64, active bool) (User, error) {
	if actor.UserID == id {
		return User{}, ErrSelfAction
	}
	current, err := s.Get(ctx, actor, id)
	if err != nil {
		return User{}, err
	}
	if err := canManage(actor, current.Role); err != nil {
		return User{}, err
	}
	if err := s.repo.SetActive(ctx, id, active); err != nil {
		return User{}, err
	}
	if !active {
		s.revokeSessions(ctx, id)
	}
	action := "USER_ACTIVATE"
	if !active {
		action = "USER_DEACTIVATE"
	}
	s.record(ctx, actor, action, id, nil)
	return s.repo.Get(ctx, id)
}

// Delete soft deletes an account and ends its sessions.
func (s *Service) Delete(ctx context.Context, actor *shared.Principal, id int64) error {
	if actor.UserID == id {
		return ErrSelfAction
	}
	current, err := s.Get(ctx, actor, id)
	if err != nil {
		return err
	}
	if err := canManage(actor, current.Role); err != nil {
		return err
	}
	if err := s.repo.SoftDelete(ctx, id); err != nil {
		return err
	}
	s.revokeSessions(ctx, id)
	s.record(ctx, actor, "USER_DELETE", id, map[string]any{"email": current.Email})
	return nil
}

// ResetPassword issues a temporary password that must be changed on next login.
func (s *Service) ResetPassword(ctx context.Context, actor *shared.Principal, id int64) (TemporaryPassword, error) {
	current, err := s.Get(ctx, actor, id)
	if err != nil {
		return TemporaryPassword{}, err
	}
	if err := canManage(actor, current.Role); err != nil {
		return TemporaryPassword{}, err
	}
	pw, err := password.Generate(12)
	if err != nil {
		return TemporaryPassword{}, err
	}
	hash, err := password.Hash(pw)
	if err != nil {
		return TemporaryPassword{}, err
	}
	if err := s.repo.SetPassword(ctx, id, hash, true); err != nil {
		return TemporaryPassword{}, err
	}
	s.revokeSessions(ctx, id)
	s.record(ctx, actor, "USER_PASSWORD_RESET", id, nil)
	return TemporaryPassword{UserID: id, Password: pw}, nil
}

// Profile returns the actor's own account.
func (s *Service) Profile(ctx context.Context, actor *shared.Principal) (User, error) {
	return s.repo.Get(ctx, actor.UserID)
}

// UpdateProfile edits the actor's own name. Phone numbers change only through SMS verification.
func (s *Service) UpdateProfile(ctx context.Context, actor *shared.Principal, in ProfileInput) (User, error) {
	current, err := s.repo.Get(ctx, actor.UserID)
	if err != nil {
		return User{}, err
	}
	if phone := NormalizePhone(in.Phone); phone != "" && phone != current.Phone {
		return User{}, ErrPhoneChange
	}
	next := current
	next.Name = strings.TrimSpace(in.Name)
	u, err := s.repo.Update(ctx, next, in.Version)
	if err != nil {
		return User{}, err
	}
	s.record(ctx, actor, "USER_PROFILE_UPDATE", actor.UserID, nil)
	return u, nil
}

func (s *Service) revokeSessions(ctx context.Context, userID int64) {
	ids, err := s.repo.RevokeLoginSessions(ctx, userID)
	if err != nil {
		s.logger.Warn("revoke login sessions", slog.Int64("user_id", userID), slog.Any("error", err))
		return
	}
	if s.sessions == nil {
		return
	}
	for _, id := range ids {
		if err := s.sessions.Revoke(ctx, id); err != nil {
			s.logger.Warn("revoke session", slog.String("session_id", id), slog.Any("error", err))
		}
	}
}

// placement validates the role and resolves the branch an account belongs to.
func (s *Service) placement(actor *shared.Principal, role string, branchID *int64) (*int64, error) {
	if !shared.IsValidRole(role) {
		return nil, ErrInvalidRole
	}
	if err := canManage(actor, role); err != nil {
		return nil, err
	}
	if !actor.IsHQ() {
		return actor.BranchID, nil
	}
	switch role {
	case shared.RoleHQAdmin, shared.RoleSuperAdmin:
		return branchID, nil
	}
	if branchID == nil {
		return nil, ErrBranchRequired
	}
	return branchID, nil
}

// canManage reports whether actor may manage accounts with role.
func canManage(actor *shared.Principal, role string) error {
	switch actor.Role {
	case shared.RoleSuperAdmin:
		return nil
	case shared.RoleHQAdmin:
		if role == shared.RoleSuperAdmin {
			return ErrRoleNotAllowed
		}
		return nil
	case shared.RoleBranchAdmin:
		if role == shared.RoleClient || role == shared.RoleConsultant {
			return nil
		}
	}
	return ErrRoleNotAllowed
}

func checkBranch(actor *shared.Principal, branchID *int64) error {
	if actor.IsHQ() {
		return nil
	}
	if branchID == nil || !actor.CanAccessBranch(*branchID) {
		return ErrBranchForbidden
	}
	return nil
}

// NormalizePhone keeps only the digits of a phone number.
func NormalizePhone(phone string) string {
	var b strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func (s *Service) record(ctx context.Context, actor *shared.Principal, action string, id int64, meta map[string]any) {
	_ = s.audit.Record(ctx, shared.AuditLog{ActorID: actor.UserID, Action: action, Entity: "user", EntityID: strconv.FormatInt(id, 10), Meta: meta})
}
