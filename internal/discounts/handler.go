package discounts

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/counselhub/counselhub/internal/platform/httpx"
	"github.com/counselhub/counselhub/internal/rbac"
	"github.com/counselhub/counselhub/internal/shared"
)

// Handler exposes /discounts.
type Handler struct {
	logger  *slog.Logger
	service *Service
	rbac    rbac.Middleware
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, rbac rbac.Middleware) *Handler {
	return &Handler{logger: logger, service: service, rbac: rbac}
}

// MountRoutes registers discount routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.PermDiscountsView, shared.PermMappingsManage))
		r.Get("/", h.list)
		r.Get("/{id}", h.show)
		r.Post("/calculate", h.calculate)
		r.Post("/verify", h.verify)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAll(shared.PermDiscountsManage))
		r.Post("/", h.create)
		r.Put("/{id}", h.update)
		r.Delete("/{id}", h.delete)
	})
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	filter := ListFilter{Search: r.URL.Query().Get("search"), Page: httpx.PageRequest(r)}
	if raw := r.URL.Query().Get("active"); raw != "" {
		if v, err := strconv.ParseBool(raw); err == nil {
			filter.Active = &v
		}
	}
	result, err := h.service.List(r.Context(), filter)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.OK(w, "할인 목록을 조회했습니다.", result)
}

func (h *Handler) show(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID(r, "id")
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	d, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.OK(w, "할인 정보를 조회했습니다.", d)
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var form Form
	if err := httpx.DecodeJSON(r, &form); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	d, err := h.service.Create(r.Context(), shared.PrincipalFromContext(r.Context()).UserID, form)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.Created(w, "할인이 등록되었습니다.", d)
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID(r, "id")
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	var form Form
	if err := httpx.DecodeJSON(r, &form); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	d, err := h.service.Update(r.Context(), shared.PrincipalFromContext(r.Context()).UserID, id, form)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.OK(w, "할인이 수정되었습니다.", d)
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID(r, "id")
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	if err := h.service.Delete(r.Context(), shared.PrincipalFromContext(r.Context()).UserID, id); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.OK(w, "할인이 삭제되었습니다.", nil)
}

func (h *Handler) calculate(w http.ResponseWriter, r *http.Request) {
	var in CalculateInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	calc, err := h.service.Quote(r.Context(), in.BaseAmount, in.DiscountCode)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.OK(w, "금액을 계산했습니다.", calc)
}

func (h *Handler) verify(w http.ResponseWriter, r *http.Request) {
	var in VerifyInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	res, err := h.service.Verify(r.Context(), in)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	msg := "금액이 일치합니다."
	if !res.Consistent {
		msg = "금액이 일치하지 않습니다."
	}
	httpx.OK(w, msg, res)
}
