package mappings

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/counselhub/counselhub/internal/platform/httpx"
	"github.com/counselhub/counselhub/internal/rbac"
	"github.com/counselhub/counselhub/internal/shared"
)

// Handler exposes /mappings.
type Handler struct {
	logger  *slog.Logger
	service *Service
	rbac    rbac.Middleware
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, rbac rbac.Middleware) *Handler {
	return &Handler{logger: logger, service: service, rbac: rbac}
}

// MountRoutes registers mapping routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAll(shared.PermMappingsView))
		r.Get("/", h.list)
		r.Get("/{id}", h.show)
		r.Get("/{id}/history", h.history)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAll(shared.PermMappingsManage))
		r.Post("/", h.create)
		r.Post("/{id}/confirm-payment", h.confirmPayment)
		r.Post("/{id}/extend", h.extend)
		r.Post("/{id}/pause", h.statusAction(h.service.Pause, "매칭이 일시 중지되었습니다."))
		r.Post("/{id}/resume", h.statusAction(h.service.Resume, "매칭이 재개되었습니다."))
		r.Post("/{id}/terminate", h.statusAction(h.service.Terminate, "매칭이 종료되었습니다."))
	})
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	filter := ListFilter{Status: strings.ToUpper(r.URL.Query().Get("status")), Page: httpx.PageRequest(r)}
	var err error
	if filter.BranchID, err = httpx.QueryInt64(r, "branch_id"); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	if filter.ConsultantID, err = httpx.QueryInt64(r, "consultant_id"); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	if filter.ClientID, err = httpx.QueryInt64(r, "client_id"); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	result, err := h.service.List(r.Context(), shared.PrincipalFromContext(r.Context()), filter)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.OK(w, "매칭 목록을 조회했습니다.", result)
}

func (h *Handler) show(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID(r, "id")
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	view, err := h.service.Get(r.Context(), shared.PrincipalFromContext(r.Context()), id)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.OK(w, "매칭 정보를 조회했습니다.", view)
}

func (h *Handler) history(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID(r, "id")
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	events, err := h.service.History(r.Context(), shared.PrincipalFromContext(r.Context()), id)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.OK(w, "매칭 이력을 조회했습니다.", events)
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var in CreateInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	key := r.Header.Get(shared.IdempotencyHeader)
	view, err := h.service.Create(r.Context(), shared.PrincipalFromContext(r.Context()), key, in)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.Created(w, "매칭이 등록되었습니다. 결제 확인 후 활성화됩니다.", view)
}

func (h *Handler) confirmPayment(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID(r, "id")
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	var in PaymentInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	view, err := h.service.ConfirmPayment(r.Context(), shared.PrincipalFromContext(r.Context()), id, in)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.OK(w, "결제가 확인되어 매칭이 활성화되었습니다.", view)
}

func (h *Handler) extend(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID(r, "id")
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	var in ExtendInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	view, err := h.service.Extend(r.Context(), shared.PrincipalFromContext(r.Context()), id, in)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.OK(w, "매칭이 연장되었습니다.", view)
}

type statusFunc func(ctx context.Context, p *shared.Principal, id int64, in StatusInput) (View, error)

func (h *Handler) statusAction(fn statusFunc, message string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := httpx.PathID(r, "id")
		if err != nil {
			httpx.RespondError(w, h.logger, err)
			return
		}
		var in StatusInput
		if err := httpx.DecodeJSON(r, &in); err != nil {
			httpx.RespondError(w, h.logger, err)
			return
		}
		view, err := fn(r.Context(), shared.PrincipalFromContext(r.Context()), id, in)
		if err != nil {
			httpx.RespondError(w, h.logger, err)
			return
		}
		httpx.OK(w, message, view)
	}
}
