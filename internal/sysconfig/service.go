package sysconfig

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strconv"
	"time"

	"github.com/counselhub/counselhub/internal/platform/cache"
	"github.com/counselhub/counselhub/internal/shared"
)

// Reader exposes typed lookups with fallbacks. Lookup failures fall back to def.
type Reader interface {
	Int(ctx context.Context, key string, def int) int
	Bool(ctx context.Context, key string, def bool) bool
	Duration(ctx context.Context, key string, def time.Duration) time.Duration
	String(ctx context.Context, key string, def string) string
	Decimal(ctx context.Context, key string, def float64) float64
}

// Service manages system settings.
type Service struct {
	repo   Repository
	cache  *cache.JSONCache
	audit  shared.AuditRecorder
	logger *slog.Logger
}

const allKey = "all"

// NewService constructs a Service.
func NewService(repo Repository, c *cache.JSONCache, audit shared.AuditRecorder, logger *slog.Logger) *Service {
	if audit == nil {
		audit = shared.NopAuditRecorder{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, cache: c, audit: audit, logger: logger}
}

// List returns stored settings merged with built-in defaults.
func (s *Service) List(ctx context.Context) ([]Setting, error) {
	var cached []Setting
	if hit, err := s.cache.Get(ctx, allKey, &cached); err == nil && hit {
		return cached, nil
	}
	stored, err := s.repo.List(ctx)
	if err != nil {
		return nil, err
	}
	byKey := make(map[string]Setting, len(stored)+len(Defaults))
	for _, d := range Defaults {
		d.IsDefault = true
		byKey[d.Key] = d
	}
	for _, st := range stored {
		byKey[st.Key] = st
	}
	out := make([]Setting, 0, len(byKey))
	for _, st := range byKey {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	if err := s.cache.Set(ctx, allKey, out); err != nil {
		s.logger.Warn("cache settings", slog.Any("error", err))
	}
	return out, nil
}

// Get returns one setting, falling back to the built-in default.
func (s *Service) Get(ctx context.Context, key string) (Setting, error) {
	all, err := s.List(ctx)
	if err != nil {
		return Setting{}, err
	}
	for _, st := range all {
		if st.Key == key {
			return st, nil
		}
	}
	return Setting{}, shared.NewUserError(shared.ErrNotFound, "존재하지 않는 설정입니다.")
}

// UpdateInput carries a new value with the version the client last saw.
type UpdateInput struct {
	Key     string
	Value   string
	Version int
}

// Update type-checks and stores a value.
func (s *Service) Update(ctx context.Context, actorID int64, in UpdateInput) (Setting, error) {
	current, err := s.Get(ctx, in.Key)
	if err != nil {
		return Setting{}, err
	}
	value, err := CheckValue(current.ValueType, in.Value)
	if err != nil {
		return Setting{}, err
	}
	if current.ValueType == TypeString && (in.Key == KeyBusinessOpen || in.Key == KeyBusinessClose) {
		if _, err := ParseClock(value); err != nil {
			return Setting{}, err
		}
	}
	version := current.Version
	if current.IsDefault {
		version = 0
	} else if in.Version != current.Version {
		return Setting{}, shared.ErrConflict
	}
	next := current
	next.Value = value
	saved, err := s.repo.Save(ctx, next, version, actorID)
	if err != nil {
		return Setting{}, err
	}
	if err := s.cache.Delete(ctx, allKey); err != nil {
		s.logger.Warn("invalidate settings cache", slog.Any("error", err))
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   "SYSTEM_CONFIG_UPDATE",
		Entity:   "system_config",
		EntityID: in.Key,
		Meta:     map[string]any{"from": current.Value, "to": value},
	})
	return saved, nil
}

func (s *Service) lookup(ctx context.Context, key string) (string, bool) {
	st, err := s.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, shared.ErrNotFound) {
			s.logger.Warn("read setting", slog.String("key", key), slog.Any("error", err))
		}
		return "", false
	}
	return st.Value, true
}

// Int reads an INT setting.
func (s *Service) Int(ctx context.Context, key string, def int) int {
	raw, ok := s.lookup(ctx, key)
	if !ok {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}

// Bool reads a BOOL setting.
func (s *Service) Bool(ctx context.Context, key string, def bool) bool {
	raw, ok := s.lookup(ctx, key)
	if !ok {
		return def
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return def
	}
	return v
}

// Duration reads a DURATION setting.
func (s *Service) Duration(ctx context.Context, key string, def time.Duration) time.Duration {
	raw, ok := s.lookup(ctx, key)
	if !ok {
		return def
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		return def
	}
	return v
}

// String reads a STRING setting.
func (s *Service) String(ctx context.Context, key string, def string) string {
	raw, ok := s.lookup(ctx, key)
	if !ok || raw == "" {
		return def
	}
	return raw
}

// Decimal reads a DECIMAL setting.
func (s *Service) Decimal(ctx context.Context, key string, def float64) float64 {
	raw, ok := s.lookup(ctx, key)
	if !ok {
		return def
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return def
	}
	return v
}

var _ Reader = (*Service)(nil)

// Static is a map backed Reader, handy for jobs and tests.
type Static map[string]string

func (m Static) get(key string) (string, bool) {
	if v, ok := m[key]; ok {
		return v, true
	}
	if d, ok := defaultFor(key); ok {
		return d.Value, true
	}
	return "", false
}

// Int implements Reader.
func (m Static) Int(_ context.Context, key string, def int) int {
	if raw, ok := m.get(key); ok {
		if v, err := strconv.Atoi(raw); err == nil {
			return v
		}
	}
	return def
}

// Bool implements Reader.
func (m Static) Bool(_ context.Context, key string, def bool) bool {
	if raw, ok := m.get(key); ok {
		if v, err := strconv.ParseBool(raw); err == nil {
			return v
		}
	}
	return def
}

// Duration implements Reader.
func (m Static) Duration(_ context.Context, key string, def time.Duration) time.Duration {
	if raw, ok := m.get(key); ok {
		if v, err := time.ParseDuration(raw); err == nil {
			return v
		}
	}
	return def
}

// String implements Reader.
func (m Static) String(_ context.Context, key string, def string) string {
	if raw, ok := m.get(key); ok && raw != "" {
		return raw
	}
	return def
}

// Decimal implements Reader.
func (m Static) Decimal(_ context.Context, key string, def float64) float64 {
	if raw, ok := m.get(key); ok {
		if v, err := strconv.ParseFloat(raw, 64); err == nil {
			return v
		}
	}
	return def
}
