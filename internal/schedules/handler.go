package schedules

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

// Handler exposes /schedules.
type Handler struct {
	logger  *slog.Logger
	service *Service
	rbac    rbac.Middleware
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, rbac rbac.Middleware) *Handler {
	return &Handler{logger: logger, service: service, rbac: rbac}
}

// MountRoutes registers schedule routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAll(shared.PermSchedulesView))
		r.Get("/", h.list)
		r.Get("/availability", h.availability)
		r.Get("/{id}", h.show)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.PermSchedulesBook, shared.PermSchedulesManage))
		r.Post("/", h.book)
		r.Put("/{id}", h.reschedule)
		r.Post("/{id}/cancel", h.action(h.service.Cancel, "일정이 취소되었습니다."))
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAll(shared.PermSchedulesManage))
		r.Post("/{id}/confirm", h.action(h.service.Confirm, "일정이 확정되었습니다."))
		r.Post("/{id}/complete", h.action(h.service.Complete, "상담이 완료 처리되었습니다."))
		r.Post("/{id}/no-show", h.action(h.service.NoShow, "노쇼로 처리되었습니다."))
	})
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	filter := ListFilter{Status: strings.ToUpper(r.URL.Query().Get("status")), Page: httpx.PageRequest(r)}
	var err error
	for name, dst := range map[string]**int64{
		"branch_id":     &filter.BranchID,
		"consultant_id": &filter.ConsultantID,
		"client_id":     &filter.ClientID,
		"mapping_id":    &filter.MappingID,
	} {
		if *dst, err = httpx.QueryInt64(r, name); err != nil {
			httpx.RespondError(w, h.logger, err)
			return
		}
	}
	if filter.From, err = httpx.QueryDate(r, "from"); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	if filter.To, err = httpx.QueryDate(r, "to"); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	if filter.To != nil {
		// Inclusive end date.
		end := filter.To.AddDate(0, 0, 1)
		filter.To = &end
	}
	result, err := h.service.List(r.Context(), shared.PrincipalFromContext(r.Context()), filter)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.OK(w, "일정 목록을 조회했습니다.", result)
}

func (h *Handler) show(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID(r, "id")
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	sc, err := h.service.Get(r.Context(), shared.PrincipalFromContext(r.Context()), id)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.OK(w, "일정을 조회했습니다.", sc)
}

func (h *Handler) availability(w http.ResponseWriter, r *http.Request) {
	consultantID, err := httpx.QueryInt64(r, "consultant_id")
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	day, err := httpx.QueryDate(r, "date")
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	if consultantID == nil || day == nil {
		httpx.RespondError(w, h.logger, httpx.NewFieldError("consultant_id", "상담사와 날짜를 선택해 주세요."))
		return
	}
	slots, err := h.service.Availability(r.Context(), shared.PrincipalFromContext(r.Context()), *consultantID, *day)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.OK(w, "예약 가능 시간을 조회했습니다.", slots)
}

func (h *Handler) book(w http.ResponseWriter, r *http.Request) {
	var in BookInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	sc, err := h.service.Book(r.Context(), shared.PrincipalFromContext(r.Context()), in)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.Created(w, "상담이 예약되었습니다.", sc)
}

func (h *Handler) reschedule(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID(r, "id")
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	var in RescheduleInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	sc, err := h.service.Reschedule(r.Context(), shared.PrincipalFromContext(r.Context()), id, in)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.OK(w, "일정이 변경되었습니다.", sc)
}

type actionFunc func(ctx context.Context, p *shared.Principal, id int64, in ActionInput) (Schedule, error)

func (h *Handler) action(fn actionFunc, message string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := httpx.PathID(r, "id")
		if err != nil {
			httpx.RespondError(w, h.logger, err)
			return
		}
		var in ActionInput
		if err := httpx.DecodeJSON(r, &in); err != nil {
			httpx.RespondError(w, h.logger, err)
			return
		}
		sc, err := fn(r.Context(), shared.PrincipalFromContext(r.Context()), id, in)
		if err != nil {
			httpx.RespondError(w, h.logger, err)
			return
		}
		httpx.OK(w, message, sc)
	}
}
