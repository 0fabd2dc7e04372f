package httpx

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/counselhub/counselhub/internal/shared"
)

// PathID parses a positive int64 URL parameter.
func PathID(r *http.Request, name string) (int64, error) {
	raw := chi.URLParam(r, name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, NewFieldError(name, "잘못된 식별자입니다.")
	}
	return id, nil
}

// QueryInt64 returns an optional int64 query parameter.
func QueryInt64(r *http.Request, name string) (*int64, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, NewFieldError(name, "숫자만 입력할 수 있습니다.")
	}
	return &v, nil
}

// QueryDate returns an optional YYYY-MM-DD query parameter in Seoul time.
func QueryDate(r *http.Request, name string) (*time.Time, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return nil, nil
	}
	t, err := time.ParseInLocation(time.DateOnly, raw, shared.Seoul)
	if err != nil {
		return nil, NewFieldError(name, "날짜 형식이 올바르지 않습니다 (YYYY-MM-DD).")
	}
	return &t, nil
}

// PageRequest reads page and per_page query parameters.
func PageRequest(r *http.Request) shared.PageRequest {
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	perPage, _ := strconv.Atoi(q.Get("per_page"))
	return shared.PageRequest{Page: page, PerPage: perPage}.Normalize()
}

// ClientIP returns the caller address without port. RealIP runs earlier in the stack.
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
