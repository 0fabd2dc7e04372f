package commoncodes

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/counselhub/counselhub/internal/platform/httpx"
	"github.com/counselhub/counselhub/internal/rbac"
	core "github.com/counselhub/counselhub/internal/shared"
)

// Handler exposes /common-codes.
type Handler struct {
	logger  *slog.Logger
	service *Service
	rbac    rbac.Middleware
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, rbac rbac.Middleware) *Handler {
	return &Handler{logger: logger, service: service, rbac: rbac}
}

// MountRoutes registers common code routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAuth())
		r.Get("/", h.groups)
		r.Get("/{group}", h.codes)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAll(core.PermCommonCodesEdit))
		r.Post("/groups", h.createGroup)
		r.Post("/", h.createCode)
		r.Put("/{id}", h.updateCode)
		r.Delete("/{id}", h.deleteCode)
	})
}

func (h *Handler) groups(w http.ResponseWriter, r *http.Request) {
	groups, err := h.service.Groups(r.Context())
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.OK(w, "공통코드 그룹을 조회했습니다.", groups)
}

func (h *Handler) codes(w http.ResponseWriter, r *http.Request) {
	includeInactive := r.URL.Query().Get("all") == "true" && core.PrincipalFromContext(r.Context()).IsAdmin()
	codes, err := h.service.Codes(r.Context(), chi.URLParam(r, "group"), includeInactive)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.OK(w, "공통코드를 조회했습니다.", codes)
}

func (h *Handler) createGroup(w http.ResponseWriter, r *http.Request) {
	var form GroupForm
	if err := httpx.DecodeJSON(r, &form); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	group, err := h.service.CreateGroup(r.Context(), core.PrincipalFromContext(r.Context()).UserID, form)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.Created(w, "공통코드 그룹을 등록했습니다.", group)
}

func (h *Handler) createCode(w http.ResponseWriter, r *http.Request) {
	var form CodeForm
	if err := httpx.DecodeJSON(r, &form); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	code, err := h.service.CreateCode(r.Context(), core.PrincipalFromContext(r.Context()).UserID, form)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.Created(w, "공통코드를 등록했습니다.", code)
}

func (h *Handler) updateCode(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID(r, "id")
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	var form CodeForm
	if err := httpx.DecodeJSON(r, &form); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	code, err := h.service.UpdateCode(r.Context(), core.PrincipalFromContext(r.Context()).UserID, id, form)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.OK(w, "공통코드를 수정했습니다.", code)
}

func (h *Handler) deleteCode(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID(r, "id")
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	if err := h.service.DeleteCode(r.Context(), core.PrincipalFromContext(r.Context()).UserID, id); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.OK(w, "공통코드를 삭제했습니다.", nil)
}
