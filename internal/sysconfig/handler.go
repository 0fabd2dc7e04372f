package sysconfig

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/counselhub/counselhub/internal/platform/httpx"
	"github.com/counselhub/counselhub/internal/rbac"
	"github.com/counselhub/counselhub/internal/shared"
)

// Handler exposes /system-config.
type Handler struct {
	logger  *slog.Logger
	service *Service
	rbac    rbac.Middleware
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, rbac rbac.Middleware) *Handler {
	return &Handler{logger: logger, service: service, rbac: rbac}
}

// MountRoutes registers system config routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.PermSystemConfigView))
		r.Get("/", h.list)
		r.Get("/{key}", h.get)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireRoles(shared.RoleHQAdmin, shared.RoleSuperAdmin))
		r.Use(h.rbac.RequireAll(shared.PermSystemConfigEdit))
		r.Put("/{key}", h.update)
	})
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	settings, err := h.service.List(r.Context())
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.OK(w, "시스템 설정을 조회했습니다.", settings)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	setting, err := h.service.Get(r.Context(), chi.URLParam(r, "key"))
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.OK(w, "시스템 설정을 조회했습니다.", setting)
}

type updateRequest struct {
	Value   string `json:"value"`
	Version int    `json:"version" validate:"gte=0"`
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	var req updateRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	principal := shared.PrincipalFromContext(r.Context())
	setting, err := h.service.Update(r.Context(), principal.UserID, UpdateInput{Key: chi.URLParam(r, "key"), Value: req.Value, Version: req.Version})
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.OK(w, "시스템 설정을 변경했습니다.", setting)
}
