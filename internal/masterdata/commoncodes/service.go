package commoncodes

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"github.com/counselhub/counselhub/internal/platform/cache"
	core "github.com/counselhub/counselhub/internal/shared"
)

var keyPattern = regexp.MustCompile(`^[A-Z0-9_]+$`)

// Service manages common codes. Active codes per group are cached in Redis.
type Service struct {
	repo   Repository
	cache  *cache.JSONCache
	audit  core.AuditRecorder
	logger *slog.Logger
}

// NewService constructs a Service. A nil cache disables caching.
func NewService(repo Repository, c *cache.JSONCache, audit core.AuditRecorder, logger *slog.Logger) *Service {
	if audit == nil {
		audit = core.NopAuditRecorder{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, cache: c, audit: audit, logger: logger}
}

// Groups lists every group with its code count.
func (s *Service) Groups(ctx context.Context) ([]Group, error) {
	return s.repo.ListGroups(ctx)
}

// CreateGroup registers a new group.
func (s *Service) CreateGroup(ctx context.Context, actorID int64, form GroupForm) (Group, error) {
	key := normalizeKey(form.GroupCode)
	if !keyPattern.MatchString(key) {
		return Group{}, ErrInvalidKey
	}
	g, err := s.repo.CreateGroup(ctx, Group{GroupCode: key, Name: strings.TrimSpace(form.Name), Description: strings.TrimSpace(form.Description)})
	if err != nil {
		return Group{}, err
	}
	_ = s.audit.Record(ctx, core.AuditLog{ActorID: actorID, Action: "COMMON_CODE_GROUP_CREATE", Entity: "common_code_group", EntityID: key})
	return g, nil
}

// Codes returns codes of a group. Only the active listing is cached.
func (s *Service) Codes(ctx context.Context, groupCode string, includeInactive bool) ([]Code, error) {
	groupCode = normalizeKey(groupCode)
	if includeInactive {
		if _, err := s.repo.GetGroup(ctx, groupCode); err != nil {
			return nil, err
		}
		return s.repo.ListCodes(ctx, groupCode, true)
	}
	var cached []Code
	if hit, err := s.cache.Get(ctx, groupCode, &cached); err == nil && hit {
		return cached, nil
	}
	if _, err := s.repo.GetGroup(ctx, groupCode); err != nil {
		return nil, err
	}
	codes, err := s.repo.ListCodes(ctx, groupCode, false)
	if err != nil {
		return nil, err
	}
	if codes == nil {
		codes = []Code{}
	}
	if err := s.cache.Set(ctx, groupCode, codes); err != nil {
		s.logger.Warn("cache common codes", slog.String("group", groupCode), slog.Any("error", err))
	}
	return codes, nil
}

// CreateCode adds a code to an existing group.
func (s *Service) CreateCode(ctx context.Context, actorID int64, form CodeForm) (Code, error) {
	c, err := fromForm(form)
	if err != nil {
		return Code{}, err
	}
	if _, err := s.repo.GetGroup(ctx, c.GroupCode); err != nil {
		return Code{}, err
	}
	created, err := s.repo.CreateCode(ctx, c)
	if err != nil {
		return Code{}, err
	}
	s.invalidate(ctx, created.GroupCode)
	s.record(ctx, actorID, "COMMON_CODE_CREATE", created)
	return created, nil
}

// UpdateCode changes a code. The group of a code is fixed.
func (s *Service) UpdateCode(ctx context.Context, actorID, id int64, form CodeForm) (Code, error) {
	current, err := s.repo.GetCode(ctx, id)
	if err != nil {
		return Code{}, err
	}
	form.GroupCode = current.GroupCode
	c, err := fromForm(form)
	if err != nil {
		return Code{}, err
	}
	if form.IsActive == nil {
		c.IsActive = current.IsActive
	}
	c.ID = id
	updated, err := s.repo.UpdateCode(ctx, c, form.Version)
	if err != nil {
		return Code{}, err
	}
	s.invalidate(ctx, updated.GroupCode)
	s.record(ctx, actorID, "COMMON_CODE_UPDATE", updated)
	return updated, nil
}

// DeleteCode soft deletes a code.
func (s *Service) DeleteCode(ctx context.Context, actorID, id int64) error {
	current, err := s.repo.GetCode(ctx, id)
	if err != nil {
		return err
	}
	if err := s.repo.SoftDeleteCode(ctx, id); err != nil {
		return err
	}
	s.invalidate(ctx, current.GroupCode)
	s.record(ctx, actorID, "COMMON_CODE_DELETE", current)
	return nil
}

func (s *Service) invalidate(ctx context.Context, groupCode string) {
	if err := s.cache.Delete(ctx, groupCode); err != nil {
		s.logger.Warn("invalidate common codes", slog.String("group", groupCode), slog.Any("error", err))
	}
}

func (s *Service) record(ctx context.Context, actorID int64, action string, c Code) {
	_ = s.audit.Record(ctx, core.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "common_code",
		EntityID: strconv.FormatInt(c.ID, 10),
		Meta:     map[string]any{"group": c.GroupCode, "code": c.Code},
	})
}

func normalizeKey(v string) string {
	return strings.ToUpper(strings.TrimSpace(v))
}

func fromForm(form CodeForm) (Code, error) {
	c := Code{
		GroupCode: normalizeKey(form.GroupCode),
		Code:      normalizeKey(form.Code),
		Name:      strings.TrimSpace(form.Name),
		SortOrder: form.SortOrder,
		IsActive:  true,
		Extra:     json.RawMessage(`{}`),
	}
	if form.IsActive != nil {
		c.IsActive = *form.IsActive
	}
	if !keyPattern.MatchString(c.GroupCode) || !keyPattern.MatchString(c.Code) {
		return Code{}, ErrInvalidKey
	}
	if extra := bytes.TrimSpace(form.Extra); len(extra) > 0 && !bytes.Equal(extra, []byte("null")) {
		var obj map[string]any
		if err := json.Unmarshal(extra, &obj); err != nil {
			return Code{}, ErrInvalidExtra
		}
		c.Extra = json.RawMessage(extra)
	}
	return c, nil
}
