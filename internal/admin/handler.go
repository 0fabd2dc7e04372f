package admin

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/counselhub/counselhub/internal/platform/httpx"
	"github.com/counselhub/counselhub/internal/rbac"
	"github.com/counselhub/counselhub/internal/shared"
)

// Handler exposes /admin.
type Handler struct {
	logger  *slog.Logger
	service *Service
	rbac    rbac.Middleware
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, rbac rbac.Middleware) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, rbac: rbac}
}

// MountRoutes registers operator routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAll(shared.PermAdminOps))
		r.Get("/health", h.health)
		r.Get("/jobs", h.jobs)
		r.Post("/jobs/{name}", h.trigger)
		r.Get("/cache", h.prefixes)
		r.Post("/cache/flush", h.flush)
		r.Get("/sessions", h.sessions)
		r.Delete("/sessions/{id}", h.forceLogout)
	})
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	out := h.service.Health(r.Context())
	if out.Status != "ok" {
		httpx.Fail(w, http.StatusServiceUnavailable, "일부 구성 요소가 응답하지 않습니다.", out)
		return
	}
	httpx.OK(w, "모든 구성 요소가 정상입니다.", out)
}

func (h *Handler) jobs(w http.ResponseWriter, r *http.Request) {
	out, err := h.service.Jobs(r.Context())
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.OK(w, "작업 큐 상태를 조회했습니다.", out)
}

func (h *Handler) trigger(w http.ResponseWriter, r *http.Request) {
	out, err := h.service.TriggerJob(r.Context(), shared.PrincipalFromContext(r.Context()), chi.URLParam(r, "name"))
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.Accepted(w, "작업이 등록되었습니다.", out)
}

func (h *Handler) prefixes(w http.ResponseWriter, _ *http.Request) {
	httpx.OK(w, "캐시 영역을 조회했습니다.", h.service.KnownPrefixes())
}

type flushInput struct {
	Prefix string `json:"prefix" validate:"required"`
}

func (h *Handler) flush(w http.ResponseWriter, r *http.Request) {
	var in flushInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	out, err := h.service.FlushCache(r.Context(), shared.PrincipalFromContext(r.Context()), strings.TrimSpace(in.Prefix))
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.OK(w, "캐시를 삭제했습니다.", out)
}

func (h *Handler) sessions(w http.ResponseWriter, r *http.Request) {
	userID, err := httpx.QueryInt64(r, "user_id")
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	if userID == nil {
		httpx.RespondError(w, h.logger, httpx.NewFieldError("user_id", "사용자 ID를 입력해 주세요."))
		return
	}
	out, err := h.service.UserSessions(r.Context(), *userID)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.OK(w, "로그인 세션을 조회했습니다.", out)
}

func (h *Handler) forceLogout(w http.ResponseWriter, r *http.Request) {
	if err := h.service.ForceLogout(r.Context(), shared.PrincipalFromContext(r.Context()), chi.URLParam(r, "id")); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.OK(w, "세션을 종료했습니다.", nil)
}
