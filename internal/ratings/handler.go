package ratings

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/counselhub/counselhub/internal/platform/httpx"
	"github.com/counselhub/counselhub/internal/rbac"
	"github.com/counselhub/counselhub/internal/shared"
)

// Handler exposes /ratings.
type Handler struct {
	logger  *slog.Logger
	service *Service
	rbac    rbac.Middleware
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, rbac rbac.Middleware) *Handler {
	return &Handler{logger: logger, service: service, rbac: rbac}
}

// MountRoutes registers rating routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.With(h.rbac.RequireAuth()).Get("/consultants/{id}", h.forConsultant)
	r.With(h.rbac.RequireAll(shared.PermRatingsWrite)).Post("/", h.create)
	r.With(h.rbac.RequireAll(shared.PermRatingsModerate)).Delete("/{id}", h.hide)
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var in CreateInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	rating, err := h.service.Create(r.Context(), shared.PrincipalFromContext(r.Context()), in)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.Created(w, "평가가 등록되었습니다. 소중한 의견 감사합니다.", rating)
}

func (h *Handler) forConsultant(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID(r, "id")
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	out, err := h.service.ForConsultant(r.Context(), shared.PrincipalFromContext(r.Context()), id, httpx.PageRequest(r))
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.OK(w, "상담사 평가를 조회했습니다.", out)
}

func (h *Handler) hide(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID(r, "id")
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	var in HideInput
	if r.ContentLength > 0 {
		if err := httpx.DecodeJSON(r, &in); err != nil {
			httpx.RespondError(w, h.logger, err)
			return
		}
	}
	if err := h.service.Hide(r.Context(), shared.PrincipalFromContext(r.Context()), id, in); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.OK(w, "평가가 숨김 처리되었습니다.", nil)
}
