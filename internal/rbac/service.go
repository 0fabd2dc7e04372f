package rbac

import (
	"context"
	"log/slog"
	"sort"
	"strconv"
	"strings"

	"github.com/counselhub/counselhub/internal/platform/cache"
	"github.com/counselhub/counselhub/internal/shared"
)

// Service resolves effective permissions per role.
type Service struct {
	repo   Repository
	cache  *cache.JSONCache
	audit  shared.AuditRecorder
	logger *slog.Logger
}

// NewService constructs a Service. cache may be nil.
func NewService(repo Repository, c *cache.JSONCache, audit shared.AuditRecorder, logger *slog.Logger) *Service {
	if audit == nil {
		audit = shared.NopAuditRecorder{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, cache: c, audit: audit, logger: logger}
}

// PermissionsForRole merges the default matrix with stored overrides.
func (s *Service) PermissionsForRole(ctx context.Context, role string) (RolePermissions, error) {
	if !shared.IsValidRole(role) {
		return RolePermissions{}, ErrUnknownRole
	}
	var cached RolePermissions
	if hit, err := s.cache.Get(ctx, role, &cached); err == nil && hit {
		return cached, nil
	}
	granted := make(map[string]bool)
	for _, p := range DefaultPermissions(role) {
		granted[p] = true
	}
	overridden := false
	if role != shared.RoleSuperAdmin && s.repo != nil {
		overrides, err := s.repo.ListOverrides(ctx, role)
		if err != nil {
			return RolePermissions{}, err
		}
		for _, o := range overrides {
			if !isKnownPermission(o.Permission) {
				continue
			}
			overridden = true
			granted[o.Permission] = o.Granted
		}
	}
	result := RolePermissions{Role: role, Permissions: sortedGranted(granted), Overridden: overridden}
	if err := s.cache.Set(ctx, role, result); err != nil {
		s.logger.Warn("cache role permissions", slog.String("role", role), slog.Any("error", err))
	}
	return result, nil
}

// SetRolePermissions stores the difference between perms and the defaults of role.
func (s *Service) SetRolePermissions(ctx context.Context, actorID int64, role string, perms []string) (RolePermissions, error) {
	if !shared.IsValidRole(role) {
		return RolePermissions{}, ErrUnknownRole
	}
	if role == shared.RoleSuperAdmin {
		return RolePermissions{}, ErrImmutableRole
	}
	if s.repo == nil {
		return RolePermissions{}, errNoRepository
	}
	want := make(map[string]bool, len(perms))
	for _, p := range perms {
		p = strings.TrimSpace(strings.ToLower(p))
		if !isKnownPermission(p) {
			return RolePermissions{}, ErrUnknownPermission
		}
		want[p] = true
	}
	defaults := make(map[string]bool)
	for _, p := range DefaultPermissions(role) {
		defaults[p] = true
	}
	var overrides []Override
	for _, p := range shared.AllScopes() {
		if want[p] != defaults[p] {
			overrides = append(overrides, Override{Role: role, Permission: p, Granted: want[p]})
		}
	}
	if err := s.repo.ReplaceOverrides(ctx, role, overrides); err != nil {
		return RolePermissions{}, err
	}
	if err := s.cache.Delete(ctx, role); err != nil {
		s.logger.Warn("invalidate role permissions", slog.String("role", role), slog.Any("error", err))
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   "ROLE_PERMISSIONS_UPDATE",
		Entity:   "role",
		EntityID: role,
		Meta:     map[string]any{"permissions": perms, "overrides": strconv.Itoa(len(overrides))},
	})
	return s.PermissionsForRole(ctx, role)
}

// Has reports whether principal holds perm.
func (s *Service) Has(ctx context.Context, principal *shared.Principal, perm string) (bool, error) {
	if principal == nil {
		return false, nil
	}
	rp, err := s.PermissionsForRole(ctx, principal.Role)
	if err != nil {
		return false, err
	}
	return hasAnyPermission(rp.Permissions, []string{perm}), nil
}

func sortedGranted(granted map[string]bool) []string {
	out := make([]string, 0, len(granted))
	for p, ok := range granted {
		if ok {
			out = append(out, p)
		}
	}
	sort.Strings(out)
	return out
}
