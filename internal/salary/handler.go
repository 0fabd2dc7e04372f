package salary

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/counselhub/counselhub/internal/platform/httpx"
	"github.com/counselhub/counselhub/internal/rbac"
	"github.com/counselhub/counselhub/internal/shared"
)

// Handler exposes /salary.
type Handler struct {
	logger  *slog.Logger
	service *Service
	rbac    rbac.Middleware
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, rbac rbac.Middleware) *Handler {
	return &Handler{logger: logger, service: service, rbac: rbac}
}

// MountRoutes registers salary routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAll(shared.PermSalaryView))
		r.Get("/records", h.records)
		r.Get("/records/{id}/statement", h.statement)
		r.Get("/profiles/{consultantID}", h.profile)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAll(shared.PermSalaryRun))
		r.Get("/batches", h.batches)
		r.Get("/batches/{id}", h.batch)
		r.Post("/batches", h.request)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAll(shared.PermSalaryManage))
		r.Post("/batches/{id}/approve", h.approve)
		r.Put("/profiles/{consultantID}", h.saveProfile)
	})
}

func (h *Handler) records(w http.ResponseWriter, r *http.Request) {
	filter := RecordFilter{Period: r.URL.Query().Get("period"), Page: httpx.PageRequest(r)}
	var err error
	if filter.BatchID, err = httpx.QueryInt64(r, "batch_id"); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	if filter.ConsultantID, err = httpx.QueryInt64(r, "consultant_id"); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	if filter.BranchID, err = httpx.QueryInt64(r, "branch_id"); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	result, err := h.service.Records(r.Context(), shared.PrincipalFromContext(r.Context()), filter)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.OK(w, "급여 명세 목록을 조회했습니다.", result)
}

func (h *Handler) statement(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID(r, "id")
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	pdf, filename, err := h.service.Statement(r.Context(), shared.PrincipalFromContext(r.Context()), id)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", "attachment; filename="+filename)
	w.Header().Set("Content-Length", strconv.Itoa(len(pdf)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(pdf)
}

func (h *Handler) profile(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID(r, "consultantID")
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	p, err := h.service.Profile(r.Context(), shared.PrincipalFromContext(r.Context()), id)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.OK(w, "급여 기준 정보를 조회했습니다.", p)
}

func (h *Handler) saveProfile(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID(r, "consultantID")
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	var in ProfileInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	p, err := h.service.SaveProfile(r.Context(), shared.PrincipalFromContext(r.Context()), id, in)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.OK(w, "급여 기준 정보가 저장되었습니다.", p)
}

func (h *Handler) batches(w http.ResponseWriter, r *http.Request) {
	filter := BatchFilter{
		Period: r.URL.Query().Get("period"),
		Status: strings.ToUpper(r.URL.Query().Get("status")),
		Page:   httpx.PageRequest(r),
	}
	var err error
	if filter.BranchID, err = httpx.QueryInt64(r, "branch_id"); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	result, err := h.service.Batches(r.Context(), shared.PrincipalFromContext(r.Context()), filter)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.OK(w, "급여 정산 목록을 조회했습니다.", result)
}

func (h *Handler) batch(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID(r, "id")
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	detail, err := h.service.Batch(r.Context(), shared.PrincipalFromContext(r.Context()), id)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.OK(w, "급여 정산 내역을 조회했습니다.", detail)
}

func (h *Handler) request(w http.ResponseWriter, r *http.Request) {
	var in RunInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	b, err := h.service.Request(r.Context(), shared.PrincipalFromContext(r.Context()), in)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.Accepted(w, "급여 계산이 예약되었습니다.", b)
}

func (h *Handler) approve(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID(r, "id")
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	var in ApproveInput
	if r.ContentLength > 0 {
		if err := httpx.DecodeJSON(r, &in); err != nil {
			httpx.RespondError(w, h.logger, err)
			return
		}
	}
	b, err := h.service.Approve(r.Context(), shared.PrincipalFromContext(r.Context()), id, in)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.OK(w, "급여 정산이 승인되었습니다.", b)
}
