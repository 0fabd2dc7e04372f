package audit

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"

	"github.com/counselhub/counselhub/internal/platform/httpx"
	"github.com/counselhub/counselhub/internal/rbac"
	"github.com/counselhub/counselhub/internal/shared"
)

const (
	exportLimit  = 10
	exportWindow = time.Minute
)

// Handler exposes /audit.
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

// MountRoutes registers the timeline and its CSV export.
func (h *Handler) MountRoutes(r chi.Router) {
	limiter := httprate.Limit(exportLimit, exportWindow,
		httprate.WithKeyFuncs(rateLimitKey),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			httpx.Fail(w, http.StatusTooManyRequests, "요청이 너무 많습니다. 잠시 후 다시 시도해 주세요.", nil)
		}),
	)
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAll(shared.PermAuditView))
		r.Get("/", h.timeline)
		r.With(limiter).Get("/export.csv", h.export)
	})
}

func rateLimitKey(r *http.Request) (string, error) {
	if p := shared.PrincipalFromContext(r.Context()); p != nil {
		return "user:" + strconv.FormatInt(p.UserID, 10), nil
	}
	key, err := httprate.KeyByIP(r)
	if err != nil {
		return "", err
	}
	return "ip:" + key, nil
}

func (h *Handler) parseFilters(r *http.Request) (Filters, error) {
	var f Filters
	from, err := httpx.QueryDate(r, "from")
	if err != nil {
		return Filters{}, err
	}
	to, err := httpx.QueryDate(r, "to")
	if err != nil {
		return Filters{}, err
	}
	if from != nil {
		f.From = *from
	}
	if to != nil {
		f.To = *to
	}
	if f.ActorID, err = httpx.QueryInt64(r, "actor_id"); err != nil {
		return Filters{}, err
	}
	if f.BranchID, err = httpx.QueryInt64(r, "branch_id"); err != nil {
		return Filters{}, err
	}
	q := r.URL.Query()
	f.Entity = strings.TrimSpace(q.Get("entity"))
	f.EntityID = strings.TrimSpace(q.Get("entity_id"))
	f.Action = strings.ToUpper(strings.TrimSpace(q.Get("action")))
	f.Page, _ = strconv.Atoi(q.Get("page"))
	f.PageSize, _ = strconv.Atoi(q.Get("page_size"))
	return f, nil
}

func (h *Handler) timeline(w http.ResponseWriter, r *http.Request) {
	f, err := h.parseFilters(r)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	out, err := h.service.Timeline(r.Context(), shared.PrincipalFromContext(r.Context()), f)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.OK(w, "감사 기록을 조회했습니다.", out)
}

func (h *Handler) export(w http.ResponseWriter, r *http.Request) {
	f, err := h.parseFilters(r)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	entries, err := h.service.Export(r.Context(), shared.PrincipalFromContext(r.Context()), f)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	body, err := WriteCSV(entries)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="audit-logs.csv"`)
	if _, err := w.Write(body); err != nil {
		h.logger.Warn("write audit csv", slog.Any("error", err))
	}
}
