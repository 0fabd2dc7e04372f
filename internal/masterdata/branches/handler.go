package branches

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/counselhub/counselhub/internal/masterdata/shared"
	"github.com/counselhub/counselhub/internal/platform/httpx"
	"github.com/counselhub/counselhub/internal/rbac"
	core "github.com/counselhub/counselhub/internal/shared"
)

// Handler exposes /branches.
type Handler struct {
	logger  *slog.Logger
	service *Service
	rbac    rbac.Middleware
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, rbac rbac.Middleware) *Handler {
	return &Handler{logger: logger, service: service, rbac: rbac}
}

// MountRoutes registers branch routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(core.PermBranchesView))
		r.Get("/", h.list)
		r.Get("/{id}", h.show)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAll(core.PermBranchesEdit))
		r.Post("/", h.create)
		r.Put("/{id}", h.update)
		r.Delete("/{id}", h.delete)
	})
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page := httpx.PageRequest(r)
	filters := shared.ListFilters{
		Page:    page.Page,
		PerPage: page.PerPage,
		Search:  q.Get("search"),
		SortBy:  q.Get("sort"),
		SortDir: q.Get("dir"),
	}
	if raw := q.Get("active"); raw != "" {
		if v, err := strconv.ParseBool(raw); err == nil {
			filters.IsActive = &v
		}
	}
	items, total, err := h.service.List(r.Context(), filters)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.OK(w, "지점 목록을 조회했습니다.", core.NewPagedResult(items, page, total))
}

func (h *Handler) show(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID(r, "id")
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	branch, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.OK(w, "지점을 조회했습니다.", branch)
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var form BranchForm
	if err := httpx.DecodeJSON(r, &form); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	principal := core.PrincipalFromContext(r.Context())
	branch, err := h.service.Create(r.Context(), principal.UserID, form)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.Created(w, "지점을 등록했습니다.", branch)
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID(r, "id")
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	var form BranchForm
	if err := httpx.DecodeJSON(r, &form); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	principal := core.PrincipalFromContext(r.Context())
	branch, err := h.service.Update(r.Context(), principal.UserID, id, form)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.OK(w, "지점을 수정했습니다.", branch)
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID(r, "id")
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	principal := core.PrincipalFromContext(r.Context())
	if err := h.service.Delete(r.Context(), principal.UserID, id); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.OK(w, "지점을 삭제했습니다.", nil)
}
