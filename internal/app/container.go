package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/counselhub/counselhub/internal/admin"
	"github.com/counselhub/counselhub/internal/audit"
	"github.com/counselhub/counselhub/internal/auth"
	"github.com/counselhub/counselhub/internal/consents"
	"github.com/counselhub/counselhub/internal/discounts"
	"github.com/counselhub/counselhub/internal/mappings"
	"github.com/counselhub/counselhub/internal/masterdata/branches"
	"github.com/counselhub/counselhub/internal/masterdata/commoncodes"
	"github.com/counselhub/counselhub/internal/observability"
	"github.com/counselhub/counselhub/internal/platform/cache"
	"github.com/counselhub/counselhub/internal/platform/db"
	"github.com/counselhub/counselhub/internal/ratings"
	"github.com/counselhub/counselhub/internal/rbac"
	"github.com/counselhub/counselhub/internal/salary"
	"github.com/counselhub/counselhub/internal/schedules"
	"github.com/counselhub/counselhub/internal/shared"
	"github.com/counselhub/counselhub/internal/statistics"
	"github.com/counselhub/counselhub/internal/sysconfig"
	"github.com/counselhub/counselhub/internal/users"
	"github.com/counselhub/counselhub/jobs"
	"github.com/counselhub/counselhub/report"
)

// Redis key prefixes of the JSON caches. Admins may flush only these.
const (
	cachePrefixRBAC        = "rbac"
	cachePrefixSysconfig   = "sysconfig"
	cachePrefixCommonCodes = "commoncodes"
)

// CachePrefixes lists every flushable cache namespace.
func CachePrefixes() []string {
	return []string{cachePrefixCommonCodes, cachePrefixRBAC, statistics.CachePrefix, cachePrefixSysconfig}
}

// Infra holds the process-wide connections.
type Infra struct {
	Pool      *pgxpool.Pool
	Redis     *redis.Client
	RedisOpts asynq.RedisClientOpt
}

// Connect opens Postgres and Redis.
func Connect(ctx context.Context, cfg *Config) (*Infra, error) {
	pool, err := db.New(ctx, cfg.PGDSN, db.PoolOptions{
		MaxConns:        cfg.PGMaxConns,
		MinConns:        cfg.PGMinConns,
		MaxConnLifetime: cfg.PGConnMaxLifetime,
	})
	if err != nil {
		return nil, err
	}
	rc, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return &Infra{Pool: pool, Redis: rc, RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr}}, nil
}

// Close releases the connections.
func (i *Infra) Close() error {
	i.Pool.Close()
	return i.Redis.Close()
}

// Services is the wired domain layer shared by the server, worker and CLI.
type Services struct {
	Audit       *shared.AuditLogger
	RBAC        *rbac.Service
	Settings    *sysconfig.Service
	Branches    *branches.Service
	CommonCodes *commoncodes.Service
	UserRepo    *users.Repository
	Users       *users.Service
	Auth        *auth.Service
	Consents    *consents.Service
	Discounts   *discounts.Service
	Mappings    *mappings.Service
	Schedules   *schedules.Service
	Ratings     *ratings.Service
	Salary      *salary.Service
	Statistics  *statistics.Service
	AuditLog    *audit.Service
	Admin       *admin.Service
	Sessions    *shared.SessionManager
	Jobs        *jobs.Client
	Inspector   *jobs.Inspector
	Renderer    *report.Client
	Metrics     *observability.Metrics
}

// NewServices wires repositories and services on top of infra.
// The caller owns Close of the returned queue client and inspector.
func NewServices(cfg *Config, infra *Infra, metrics *observability.Metrics, logger *slog.Logger) (*Services, error) {
	pool, rc := infra.Pool, infra.Redis

	queue, err := jobs.NewClient(infra.RedisOpts)
	if err != nil {
		return nil, fmt.Errorf("init job client: %w", err)
	}
	inspector := jobs.NewInspector(infra.RedisOpts)

	auditLogger := shared.NewAuditLogger(pool)
	approvals := shared.NewApprovalRecorder(pool, logger)
	idempotency := shared.NewIdempotencyStore(pool)
	sessions := shared.NewSessionManager(rc, cfg.SessionCookie, cfg.SessionTTL, cfg.IsProduction())
	renderer := report.NewClient(cfg.GotenbergURL)

	settings := sysconfig.NewService(sysconfig.NewRepository(pool), cache.NewJSONCache(rc, cachePrefixSysconfig, 5*time.Minute), auditLogger, logger)
	rbacService := rbac.NewService(rbac.NewRepository(pool), cache.NewJSONCache(rc, cachePrefixRBAC, 10*time.Minute), auditLogger, logger)
	branchService := branches.NewService(branches.NewRepository(pool), auditLogger)
	codeService := commoncodes.NewService(commoncodes.NewRepository(pool), cache.NewJSONCache(rc, cachePrefixCommonCodes, 30*time.Minute), auditLogger, logger)

	userRepo := users.NewRepository(pool)
	userService := users.NewService(userRepo, sessions, auditLogger, logger)
	consentService := consents.NewService(consents.NewRepository(pool), auditLogger)

	webAuthn, err := auth.NewWebAuthn(cfg.WebAuthnRPID, cfg.WebAuthnRPName, cfg.WebAuthnRPOrigins)
	if err != nil {
		return nil, fmt.Errorf("init webauthn: %w", err)
	}
	authService := auth.NewService(auth.Deps{
		Users:    userRepo,
		Repo:     auth.NewRepository(pool),
		Lockout:  auth.NewLockout(rc, settings),
		Tokens:   auth.NewTokens(cfg.TokenSecret, rc),
		SMS:      auth.NewSMSVerifier(rc, settings, queue),
		Consents: consentService,
		Branches: branchService,
		Notifier: queue,
		WebAuthn: webAuthn,
		Settings: settings,
		Revoker:  sessions,
		Events:   metrics,
		Audit:    auditLogger,
		Logger:   logger,
	}, auth.Options{
		DefaultBranchCode: cfg.DefaultBranchCode,
		FrontendURL:       cfg.FrontendURL,
		SessionTTL:        cfg.SessionTTL,
	})
	for _, pc := range oauthProviders(cfg) {
		provider, err := auth.NewProvider(pc)
		if err != nil {
			return nil, fmt.Errorf("init oauth %s: %w", pc.Name, err)
		}
		authService.RegisterProvider(provider)
	}

	discountService := discounts.NewService(discounts.NewRepository(pool), auditLogger, logger)
	mappingRepo := mappings.NewRepository(pool)
	mappingService := mappings.NewService(mappingRepo, userRepo, discountService, settings, idempotency, auditLogger, logger)
	scheduleRepo := schedules.NewRepository(pool)
	scheduleService := schedules.NewService(scheduleRepo, mappingRepo, settings, queue, auditLogger, logger)
	ratingService := ratings.NewService(ratings.NewRepository(pool), scheduleRepo, userRepo, auditLogger, logger)

	salaryService := salary.NewService(salary.Deps{
		Repo:      salary.NewRepository(pool),
		Accounts:  userRepo,
		Settings:  settings,
		Locker:    shared.NewLocker(rc),
		Queue:     queue,
		Approvals: approvals,
		Renderer:  renderer,
		Audit:     auditLogger,
		Logger:    logger,
	})
	statsService := statistics.NewService(statistics.NewRepository(pool), cache.NewJSONCache(rc, statistics.CachePrefix, 5*time.Minute), userRepo, queue, settings, auditLogger, logger)

	adminService := admin.NewService(admin.Deps{
		Checks: []admin.Check{
			{Name: "postgres", Ping: pool.Ping},
			{Name: "redis", Ping: func(ctx context.Context) error { return rc.Ping(ctx).Err() }},
			{Name: "queue", Ping: inspector.Ping},
			{Name: "gotenberg", Ping: renderer.Ping, Optional: true},
		},
		Queue:         inspector,
		Trigger:       queue,
		Sessions:      authService,
		Redis:         rc,
		CachePrefixes: CachePrefixes(),
		Audit:         auditLogger,
		Logger:        logger,
	})

	return &Services{
		Audit:       auditLogger,
		RBAC:        rbacService,
		Settings:    settings,
		Branches:    branchService,
		CommonCodes: codeService,
		UserRepo:    userRepo,
		Users:       userService,
		Auth:        authService,
		Consents:    consentService,
		Discounts:   discountService,
		Mappings:    mappingService,
		Schedules:   scheduleService,
		Ratings:     ratingService,
		Salary:      salaryService,
		Statistics:  statsService,
		AuditLog:    audit.NewService(audit.NewRepository(pool)),
		Admin:       adminService,
		Sessions:    sessions,
		Jobs:        queue,
		Inspector:   inspector,
		Renderer:    renderer,
		Metrics:     metrics,
	}, nil
}

// Close releases the queue connections.
func (s *Services) Close() error {
	ierr := s.Inspector.Close()
	if err := s.Jobs.Close(); err != nil {
		return err
	}
	return ierr
}

// oauthProviders returns the providers with configured credentials.
func oauthProviders(cfg *Config) []auth.ProviderConfig {
	candidates := []auth.ProviderConfig{
		{Name: auth.ProviderGoogle, ClientID: cfg.GoogleClientID, ClientSecret: cfg.GoogleClientSecret},
		{Name: auth.ProviderKakao, ClientID: cfg.KakaoClientID, ClientSecret: cfg.KakaoClientSecret},
		{Name: auth.ProviderNaver, ClientID: cfg.NaverClientID, ClientSecret: cfg.NaverClientSecret},
	}
	var out []auth.ProviderConfig
	for _, c := range candidates {
		if c.ClientID == "" {
			continue
		}
		c.RedirectURL = cfg.PublicBaseURL + "/api/auth/oauth/" + c.Name + "/callback"
		out = append(out, c)
	}
	return out
}

// Handlers builds the HTTP handlers of every module.
func (s *Services) Handlers(cfg *Config, logger *slog.Logger, csrf *shared.CSRFManager) Handlers {
	mw := rbac.Middleware{Service: s.RBAC, Logger: logger}
	authLimit := RateLimit(cfg.AuthRateLimit, time.Minute)
	return Handlers{
		Auth:        auth.NewHandler(logger, s.Auth, s.Sessions, csrf, mw, authLimit),
		Users:       users.NewHandler(logger, s.Users, mw),
		Branches:    branches.NewHandler(logger, s.Branches, mw),
		CommonCodes: commoncodes.NewHandler(logger, s.CommonCodes, mw),
		Sysconfig:   sysconfig.NewHandler(logger, s.Settings, mw),
		Permissions: rbac.NewPermissionsHandler(logger, s.RBAC, mw),
		Mappings:    mappings.NewHandler(logger, s.Mappings, mw),
		Schedules:   schedules.NewHandler(logger, s.Schedules, mw),
		Ratings:     ratings.NewHandler(logger, s.Ratings, mw),
		Discounts:   discounts.NewHandler(logger, s.Discounts, mw),
		Salary:      salary.NewHandler(logger, s.Salary, mw),
		Consents:    consents.NewHandler(logger, s.Consents, mw),
		Statistics:  statistics.NewHandler(logger, s.Statistics, mw),
		Audit:       audit.NewHandler(logger, s.AuditLog, mw),
		Admin:       admin.NewHandler(logger, s.Admin, mw),
	}
}

// Handlers groups the mounted module handlers.
type Handlers struct {
	Auth        *auth.Handler
	Users       *users.Handler
	Branches    *branches.Handler
	CommonCodes *commoncodes.Handler
	Sysconfig   *sysconfig.Handler
	Permissions *rbac.PermissionsHandler
	Mappings    *mappings.Handler
	Schedules   *schedules.Handler
	Ratings     *ratings.Handler
	Discounts   *discounts.Handler
	Salary      *salary.Handler
	Consents    *consents.Handler
	Statistics  *statistics.Handler
	Audit       *audit.Handler
	Admin       *admin.Handler
}
