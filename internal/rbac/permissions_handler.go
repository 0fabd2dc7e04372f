package rbac

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/counselhub/counselhub/internal/platform/httpx"
	"github.com/counselhub/counselhub/internal/shared"
)

// PermissionsHandler exposes the permission catalog and role matrix.
type PermissionsHandler struct {
	logger  *slog.Logger
	service *Service
	rbac    Middleware
}

// NewPermissionsHandler builds PermissionsHandler instance.
func NewPermissionsHandler(logger *slog.Logger, service *Service, rbac Middleware) *PermissionsHandler {
	return &PermissionsHandler{logger: logger, service: service, rbac: rbac}
}

// MountRoutes registers permission routes.
func (h *PermissionsHandler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAuth())
		r.Get("/me", h.me)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.PermPermissionsView))
		r.Get("/", h.catalog)
		r.Get("/roles/{role}", h.role)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireRoles(shared.RoleHQAdmin, shared.RoleSuperAdmin))
		r.Use(h.rbac.RequireAll(shared.PermPermissionsEdit))
		r.Put("/roles/{role}", h.updateRole)
	})
}

func (h *PermissionsHandler) catalog(w http.ResponseWriter, r *http.Request) {
	httpx.OK(w, "권한 목록을 조회했습니다.", map[string]any{
		"roles":       shared.Roles(),
		"permissions": Catalog(),
	})
}

func (h *PermissionsHandler) me(w http.ResponseWriter, r *http.Request) {
	principal := shared.PrincipalFromContext(r.Context())
	rp, err := h.service.PermissionsForRole(r.Context(), principal.Role)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.OK(w, "내 권한을 조회했습니다.", rp)
}

func (h *PermissionsHandler) role(w http.ResponseWriter, r *http.Request) {
	rp, err := h.service.PermissionsForRole(r.Context(), chi.URLParam(r, "role"))
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.OK(w, "역할 권한을 조회했습니다.", rp)
}

type updateRoleRequest struct {
	Permissions []string `json:"permissions" validate:"required"`
}

func (h *PermissionsHandler) updateRole(w http.ResponseWriter, r *http.Request) {
	var req updateRoleRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	principal := shared.PrincipalFromContext(r.Context())
	rp, err := h.service.SetRolePermissions(r.Context(), principal.UserID, chi.URLParam(r, "role"), req.Permissions)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	h.logger.Info("role permissions updated", slog.String("role", rp.Role), slog.Int64("actor", principal.UserID))
	httpx.OK(w, "역할 권한을 변경했습니다.", rp)
}
