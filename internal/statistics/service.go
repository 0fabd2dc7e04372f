package statistics

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/counselhub/counselhub/internal/platform/cache"
	"github.com/counselhub/counselhub/internal/shared"
	"github.com/counselhub/counselhub/internal/sysconfig"
	"github.com/counselhub/counselhub/internal/users"
)

// CachePrefix namespaces statistics entries in Redis.
const CachePrefix = "statistics"

const (
	defaultCacheTTL = 5 * time.Minute
	defaultMonths   = 6
	maxMonths       = 24
)

// Accounts resolves consultants.
type Accounts interface {
	Get(ctx context.Context, id int64) (users.User, error)
}

// Enqueuer schedules a background refresh.
type Enqueuer interface {
	EnqueueStatsRefresh(ctx context.Context) error
}

// Service builds dashboards on top of Repository with a Redis cache.
type Service struct {
	repo     Repository
	cache    *cache.JSONCache
	accounts Accounts
	queue    Enqueuer
	settings sysconfig.Reader
	audit    shared.AuditRecorder
	logger   *slog.Logger
	group    singleflight.Group
	now      func() time.Time
}

// NewService constructs a Service. A nil cache disables caching.
func NewService(repo Repository, c *cache.JSONCache, accounts Accounts, queue Enqueuer, settings sysconfig.Reader, audit shared.AuditRecorder, logger *slog.Logger) *Service {
	if audit == nil {
		audit = shared.NopAuditRecorder{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, cache: c, accounts: accounts, queue: queue, settings: settings, audit: audit, logger: logger, now: time.Now}
}

func branchToken(branchID *int64) string {
	if branchID == nil {
		return "all"
	}
	return strconv.FormatInt(*branchID, 10)
}

// Dashboard returns the cached dashboard of the principal's scope.
func (s *Service) Dashboard(ctx context.Context, p *shared.Principal, filter DashboardFilter) (Dashboard, error) {
	if filter.Period == "" {
		filter.Period = s.now().In(shared.Seoul).Format(shared.PeriodLayout)
	}
	from, to, err := shared.ParsePeriod(filter.Period)
	if err != nil {
		return Dashboard{}, err
	}
	filter.BranchID = p.ScopeBranch(filter.BranchID)
	key := "dashboard:" + branchToken(filter.BranchID) + ":" + filter.Period

	var cached Dashboard
	if hit, err := s.cache.Get(ctx, key, &cached); err != nil {
		s.logger.Warn("statistics cache read", slog.String("key", key), slog.Any("error", err))
	} else if hit {
		return cached, nil
	}

	v, err, _ := s.group.Do(key, func() (any, error) {
		d, err := s.buildDashboard(ctx, filter, from, to)
		if err != nil {
			return nil, err
		}
		ttl := defaultCacheTTL
		if s.settings != nil {
			ttl = s.settings.Duration(ctx, sysconfig.KeyStatisticsCacheTTL, defaultCacheTTL)
		}
		if err := s.cache.SetFor(ctx, key, d, ttl); err != nil {
			s.logger.Warn("statistics cache write", slog.String("key", key), slog.Any("error", err))
		}
		return d, nil
	})
	if err != nil {
		return Dashboard{}, err
	}
	return v.(Dashboard), nil
}

func (s *Service) buildDashboard(ctx context.Context, filter DashboardFilter, from, to time.Time) (Dashboard, error) {
	d := Dashboard{Period: filter.Period, BranchID: filter.BranchID, GeneratedAt: s.now()}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		d.Users, err = s.repo.UserCounts(gctx, filter.BranchID)
		return err
	})
	g.Go(func() (err error) {
		d.Mappings, err = s.repo.MappingCounts(gctx, filter.BranchID)
		return err
	})
	g.Go(func() (err error) {
		d.Schedules, err = s.repo.ScheduleCounts(gctx, filter.BranchID, from, to)
		return err
	})
	g.Go(func() (err error) {
		d.Revenue, err = s.repo.Revenue(gctx, filter.BranchID, from, to)
		return err
	})
	g.Go(func() (err error) {
		d.AverageRating, d.RatingCount, err = s.repo.Ratings(gctx, filter.BranchID, nil, from, to)
		return err
	})
	if err := g.Wait(); err != nil {
		return Dashboard{}, fmt.Errorf("build dashboard: %w", err)
	}
	return d, nil
}

// Consultant returns the monthly performance of a consultant over the last months.
func (s *Service) Consultant(ctx context.Context, p *shared.Principal, consultantID int64, months int) (ConsultantStats, error) {
	if p.Role == shared.RoleConsultant && p.UserID != consultantID {
		return ConsultantStats{}, shared.ErrForbidden
	}
	u, err := s.accounts.Get(ctx, consultantID)
	if err != nil {
		return ConsultantStats{}, err
	}
	if u.Role != shared.RoleConsultant {
		return ConsultantStats{}, users.ErrUserNotFound
	}
	if p.IsAdmin() && (u.BranchID == nil || !p.CanAccessBranch(*u.BranchID)) {
		return ConsultantStats{}, shared.ErrForbidden
	}
	if months <= 0 {
		months = defaultMonths
	}
	if months > maxMonths {
		months = maxMonths
	}
	now := s.now().In(shared.Seoul)
	to := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, shared.Seoul).AddDate(0, 1, 0)
	from := to.AddDate(0, -months, 0)

	out := ConsultantStats{ConsultantID: u.ID, Name: u.Name}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		out.Months, err = s.repo.Monthly(gctx, u.ID, from, to)
		return err
	})
	g.Go(func() (err error) {
		out.ActiveMappings, err = s.repo.ActiveMappings(gctx, u.ID)
		return err
	})
	g.Go(func() (err error) {
		out.AverageRating, out.RatingCount, err = s.repo.Ratings(gctx, nil, &u.ID, time.Time{}, time.Time{})
		return err
	})
	if err := g.Wait(); err != nil {
		return ConsultantStats{}, fmt.Errorf("consultant stats: %w", err)
	}
	if out.Months == nil {
		out.Months = []MonthlyStat{}
	}
	return out, nil
}

// RequestRefresh queues a rebuild of the monthly view.
func (s *Service) RequestRefresh(ctx context.Context, p *shared.Principal) error {
	if !p.IsAdmin() {
		return shared.ErrForbidden
	}
	if err := s.queue.EnqueueStatsRefresh(ctx); err != nil {
		return fmt.Errorf("enqueue stats refresh: %w", err)
	}
	if err := s.audit.Record(ctx, shared.AuditLog{ActorID: p.UserID, Action: "STATISTICS_REFRESH", Entity: "statistics"}); err != nil {
		s.logger.Warn("audit statistics", slog.Any("error", err))
	}
	return nil
}

// Refresh rebuilds the monthly view and drops cached dashboards. It runs in the worker.
func (s *Service) Refresh(ctx context.Context) error {
	if err := s.repo.Refresh(ctx); err != nil {
		return err
	}
	n, err := s.cache.Flush(ctx)
	if err != nil {
		return fmt.Errorf("flush statistics cache: %w", err)
	}
	s.logger.Info("statistics refreshed", slog.Int("cache_entries", n))
	return nil
}
