package statistics

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/counselhub/counselhub/internal/platform/httpx"
	"github.com/counselhub/counselhub/internal/rbac"
	"github.com/counselhub/counselhub/internal/shared"
)

// Handler exposes /statistics.
type Handler struct {
	logger  *slog.Logger
	service *Service
	rbac    rbac.Middleware
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, rbac rbac.Middleware) *Handler {
	return &Handler{logger: logger, service: service, rbac: rbac}
}

// MountRoutes registers statistics routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAll(shared.PermStatisticsView))
		r.Get("/dashboard", h.dashboard)
		r.Get("/consultants/{id}", h.consultant)
		r.Post("/refresh", h.refresh)
	})
}

func (h *Handler) dashboard(w http.ResponseWriter, r *http.Request) {
	branchID, err := httpx.QueryInt64(r, "branch_id")
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	filter := DashboardFilter{Period: r.URL.Query().Get("period"), BranchID: branchID}
	out, err := h.service.Dashboard(r.Context(), shared.PrincipalFromContext(r.Context()), filter)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.OK(w, "대시보드 통계를 조회했습니다.", out)
}

func (h *Handler) consultant(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID(r, "id")
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	months, _ := strconv.Atoi(r.URL.Query().Get("months"))
	out, err := h.service.Consultant(r.Context(), shared.PrincipalFromContext(r.Context()), id, months)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.OK(w, "상담사 통계를 조회했습니다.", out)
}

func (h *Handler) refresh(w http.ResponseWriter, r *http.Request) {
	if err := h.service.RequestRefresh(r.Context(), shared.PrincipalFromContext(r.Context())); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.Accepted(w, "통계 갱신 작업이 등록되었습니다.", nil)
}
