package consents

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/counselhub/counselhub/internal/platform/httpx"
	"github.com/counselhub/counselhub/internal/rbac"
	"github.com/counselhub/counselhub/internal/shared"
)

// Handler exposes /consents.
type Handler struct {
	logger  *slog.Logger
	service *Service
	rbac    rbac.Middleware
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, rbac rbac.Middleware) *Handler {
	return &Handler{logger: logger, service: service, rbac: rbac}
}

// MountRoutes registers consent routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/documents/{type}", h.document)
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAuth())
		r.Post("/", h.agree)
		r.Get("/me", h.mine)
		r.Post("/{type}/withdraw", h.withdraw)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAll(shared.PermConsentsAdmin))
		r.Post("/documents", h.publish)
		r.Get("/users/{id}", h.history)
	})
}

type agreeRequest struct {
	Items []Item `json:"items" validate:"required,min=1,dive"`
}

func meta(r *http.Request) Meta {
	return Meta{IP: httpx.ClientIP(r), UserAgent: r.UserAgent()}
}

func (h *Handler) document(w http.ResponseWriter, r *http.Request) {
	doc, err := h.service.Document(r.Context(), Type(chi.URLParam(r, "type")))
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.OK(w, "동의서를 조회했습니다.", doc)
}

func (h *Handler) agree(w http.ResponseWriter, r *http.Request) {
	var req agreeRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	status, err := h.service.Agree(r.Context(), shared.PrincipalFromContext(r.Context()).UserID, req.Items, meta(r))
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.OK(w, "동의 내역을 저장했습니다.", status)
}

func (h *Handler) mine(w http.ResponseWriter, r *http.Request) {
	status, err := h.service.Status(r.Context(), shared.PrincipalFromContext(r.Context()).UserID)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.OK(w, "동의 현황을 조회했습니다.", status)
}

func (h *Handler) withdraw(w http.ResponseWriter, r *http.Request) {
	status, err := h.service.Withdraw(r.Context(), shared.PrincipalFromContext(r.Context()).UserID, Type(chi.URLParam(r, "type")), meta(r))
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.OK(w, "동의를 철회했습니다.", status)
}

func (h *Handler) publish(w http.ResponseWriter, r *http.Request) {
	var in PublishInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	doc, err := h.service.Publish(r.Context(), shared.PrincipalFromContext(r.Context()).UserID, in)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.Created(w, "새 동의서 버전을 등록했습니다.", doc)
}

func (h *Handler) history(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID(r, "id")
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	records, err := h.service.History(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.OK(w, "동의 이력을 조회했습니다.", records)
}
