// Package admin serves operator endpoints: health, jobs, caches and sessions.
package admin

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/counselhub/counselhub/internal/auth"
	"github.com/counselhub/counselhub/internal/platform/cache"
	"github.com/counselhub/counselhub/internal/shared"
	"github.com/counselhub/counselhub/jobs"
)

const checkTimeout = 2 * time.Second

// Check probes one dependency.
type Check struct {
	Name     string
	Ping     func(ctx context.Context) error
	Optional bool
}

// CheckResult is the outcome of one probe.
type CheckResult struct {
	Name      string `json:"name"`
	Status    string `json:"status"`
	LatencyMS int64  `json:"latency_ms"`
	Error     string `json:"error,omitempty"`
	Optional  bool   `json:"optional,omitempty"`
}

// Health aggregates probes. Status is "degraded" when a required check fails.
type Health struct {
	Status string        `json:"status"`
	Checks []CheckResult `json:"checks"`
}

// JobQueue reads queue state.
type JobQueue interface {
	Queues(ctx context.Context) ([]jobs.QueueStat, error)
	Scheduled(ctx context.Context) ([]jobs.ScheduledEntry, error)
}

// Trigger starts maintenance tasks.
type Trigger interface {
	Trigger(ctx context.Context, name string) (*asynq.TaskInfo, error)
}

// Sessions manages login sessions.
type Sessions interface {
	Sessions(ctx context.Context, userID int64) ([]auth.LoginSession, error)
	ForceLogout(ctx context.Context, actorID int64, sessionID string) error
}

// JobsOverview is returned by GET /admin/jobs.
type JobsOverview struct {
	Queues      []jobs.QueueStat       `json:"queues"`
	Scheduled   []jobs.ScheduledEntry  `json:"scheduled"`
	Triggerable []jobs.TriggerableTask `json:"triggerable"`
}

// TriggerResult identifies a queued task.
type TriggerResult struct {
	TaskID string `json:"task_id"`
	Queue  string `json:"queue"`
	Task   string `json:"task"`
}

// FlushResult reports how many keys were removed.
type FlushResult struct {
	Prefix  string `json:"prefix"`
	Removed int    `json:"removed"`
}

var ErrUnknownPrefix = shared.NewUserError(shared.ErrValidation, "삭제할 수 없는 캐시 영역입니다.")

// Deps groups Service collaborators.
type Deps struct {
	Checks        []Check
	Queue         JobQueue
	Trigger       Trigger
	Sessions      Sessions
	Redis         *redis.Client
	CachePrefixes []string
	Audit         shared.AuditRecorder
	Logger        *slog.Logger
}

// Service implements the operator endpoints.
type Service struct {
	Deps
}

// NewService constructs a Service.
func NewService(deps Deps) *Service {
	if deps.Audit == nil {
		deps.Audit = shared.NopAuditRecorder{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Service{Deps: deps}
}

// Health probes every dependency concurrently.
func (s *Service) Health(ctx context.Context) Health {
	results := make([]CheckResult, len(s.Checks))
	var wg sync.WaitGroup
	for i, c := range s.Checks {
		wg.Add(1)
		go func(i int, c Check) {
			defer wg.Done()
			cctx, cancel := context.WithTimeout(ctx, checkTimeout)
			defer cancel()
			start := time.Now()
			err := c.Ping(cctx)
			res := CheckResult{Name: c.Name, Status: "ok", LatencyMS: time.Since(start).Milliseconds(), Optional: c.Optional}
			if err != nil {
				res.Status = "down"
				res.Error = err.Error()
			}
			results[i] = res
		}(i, c)
	}
	wg.Wait()

	out := Health{Status: "ok", Checks: results}
	for _, r := range results {
		if r.Status != "ok" && !r.Optional {
			out.Status = "degraded"
		}
	}
	return out
}

// Jobs returns queue statistics and cron entries.
func (s *Service) Jobs(ctx context.Context) (JobsOverview, error) {
	queues, err := s.Queue.Queues(ctx)
	if err != nil {
		return JobsOverview{}, err
	}
	scheduled, err := s.Queue.Scheduled(ctx)
	if err != nil {
		return JobsOverview{}, err
	}
	return JobsOverview{Queues: queues, Scheduled: scheduled, Triggerable: jobs.TriggerableTasks()}, nil
}

// TriggerJob queues a maintenance task by name.
func (s *Service) TriggerJob(ctx context.Context, p *shared.Principal, name string) (TriggerResult, error) {
	info, err := s.Trigger.Trigger(ctx, name)
	if err != nil {
		return TriggerResult{}, err
	}
	s.record(ctx, p.UserID, "JOB_TRIGGER", "job", name, map[string]any{"task_id": info.ID})
	return TriggerResult{TaskID: info.ID, Queue: info.Queue, Task: info.Type}, nil
}

// FlushCache deletes every key under one of the known cache prefixes.
func (s *Service) FlushCache(ctx context.Context, p *shared.Principal, prefix string) (FlushResult, error) {
	allowed := false
	for _, known := range s.CachePrefixes {
		if known == prefix {
			allowed = true
			break
		}
	}
	if !allowed {
		return FlushResult{}, ErrUnknownPrefix
	}
	n, err := cache.FlushPrefix(ctx, s.Redis, prefix+":")
	if err != nil {
		return FlushResult{}, err
	}
	s.record(ctx, p.UserID, "CACHE_FLUSH", "cache", prefix, map[string]any{"removed": n})
	return FlushResult{Prefix: prefix, Removed: n}, nil
}

// KnownPrefixes lists the flushable cache prefixes.
func (s *Service) KnownPrefixes() []string {
	out := append([]string(nil), s.CachePrefixes...)
	sort.Strings(out)
	return out
}

// UserSessions lists login sessions of a user.
func (s *Service) UserSessions(ctx context.Context, userID int64) ([]auth.LoginSession, error) {
	out, err := s.Sessions.Sessions(ctx, userID)
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []auth.LoginSession{}
	}
	return out, nil
}

// ForceLogout revokes a login session.
func (s *Service) ForceLogout(ctx context.Context, p *shared.Principal, sessionID string) error {
	return s.Sessions.ForceLogout(ctx, p.UserID, sessionID)
}

func (s *Service) record(ctx context.Context, actorID int64, action, entity, id string, meta map[string]any) {
	if err := s.Audit.Record(ctx, shared.AuditLog{ActorID: actorID, Action: action, Entity: entity, EntityID: id, Meta: meta}); err != nil {
		s.Logger.Warn("audit admin", slog.String("action", action), slog.Any("error", err))
	}
}
