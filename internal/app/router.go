package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/counselhub/counselhub/internal/observability"
	"github.com/counselhub/counselhub/internal/platform/httpx"
	"github.com/counselhub/counselhub/internal/shared"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger         *slog.Logger
	Config         *Config
	SessionManager *shared.SessionManager
	CSRFManager    *shared.CSRFManager
	Principals     PrincipalLoader
	Handlers       Handlers
	Metrics        *observability.Metrics
}

// NewRouter constructs the chi.Router serving the JSON API under /api.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	r.Route("/api", func(r chi.Router) {
		for _, mw := range MiddlewareStack(MiddlewareConfig{
			Logger:         params.Logger,
			Config:         params.Config,
			SessionManager: params.SessionManager,
			CSRFManager:    params.CSRFManager,
			Principals:     params.Principals,
			Metrics:        params.Metrics,
		}) {
			r.Use(mw)
		}

		h := params.Handlers
		mount(r, "/auth", h.Auth)
		mount(r, "/users", h.Users)
		mount(r, "/branches", h.Branches)
		mount(r, "/common-codes", h.CommonCodes)
		mount(r, "/system-config", h.Sysconfig)
		mount(r, "/permissions", h.Permissions)
		mount(r, "/mappings", h.Mappings)
		mount(r, "/schedules", h.Schedules)
		mount(r, "/ratings", h.Ratings)
		mount(r, "/discounts", h.Discounts)
		mount(r, "/salary", h.Salary)
		mount(r, "/consents", h.Consents)
		mount(r, "/statistics", h.Statistics)
		mount(r, "/audit", h.Audit)
		mount(r, "/admin", h.Admin)

		r.NotFound(func(w http.ResponseWriter, r *http.Request) {
			httpx.Fail(w, http.StatusNotFound, "요청한 경로를 찾을 수 없습니다.", nil)
		})
		r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
			httpx.Fail(w, http.StatusMethodNotAllowed, "허용되지 않은 메서드입니다.", nil)
		})
	})

	return r
}

type routeMounter interface {
	MountRoutes(r chi.Router)
}

// mount skips handlers that were not wired.
func mount[T routeMounter](r chi.Router, pattern string, h T) {
	var zero T
	if any(h) == any(zero) {
		return
	}
	r.Route(pattern, h.MountRoutes)
}
