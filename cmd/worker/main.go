package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/counselhub/counselhub/internal/app"
	"github.com/counselhub/counselhub/internal/notify"
	"github.com/counselhub/counselhub/internal/observability"
	"github.com/counselhub/counselhub/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg).With(slog.String("component", "worker"))
	slog.SetDefault(logger)

	infra, err := app.Connect(ctx, cfg)
	if err != nil {
		logger.Error("connect infrastructure", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := infra.Close(); err != nil {
			logger.Warn("close infrastructure", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()
	services, err := app.NewServices(cfg, infra, metrics, logger)
	if err != nil {
		logger.Error("wire services", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := services.Close(); err != nil {
			logger.Warn("close job client", slog.Any("error", err))
		}
	}()

	handlers := &jobs.Handlers{
		Mailer:    mailer(cfg, logger),
		SMS:       texter(cfg, logger),
		Salary:    services.Salary,
		Stats:     services.Statistics,
		Mappings:  services.Mappings,
		Schedules: services.Schedules,
		Logger:    logger,
		Metrics:   metrics.Jobs(),
	}
	cron, err := jobs.Cron()
	if err != nil {
		logger.Error("build cron", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:   infra.RedisOpts,
		Logger:      logger,
		Concurrency: cfg.WorkerConcurrency,
		Handlers:    handlers.TaskHandlers(),
		Cron:        cron,
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	metricsServer := &http.Server{Addr: cfg.WorkerMetricsAddr, Handler: metrics.Handler(), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server", slog.Any("error", err))
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}()

	logger.Info("starting worker", slog.Int("concurrency", cfg.WorkerConcurrency))
	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}

func mailer(cfg *app.Config, logger *slog.Logger) notify.Mailer {
	if cfg.SMTPHost == "" {
		logger.Warn("SMTP_HOST not set, mail is only logged")
		return notify.LogMailer{Logger: logger}
	}
	return notify.NewSMTPMailer(notify.SMTPConfig{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
	})
}

func texter(cfg *app.Config, logger *slog.Logger) notify.SMSSender {
	if cfg.SMSEndpoint == "" {
		logger.Warn("SMS_ENDPOINT not set, text messages are only logged")
		return notify.LogSMS{Logger: logger}
	}
	return notify.NewHTTPSMS(cfg.SMSEndpoint, cfg.SMSAPIKey, cfg.SMSSender, &http.Client{Timeout: 10 * time.Second})
}
