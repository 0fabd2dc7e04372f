package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/counselhub/counselhub/cmd/counselctl/cli"
	"github.com/counselhub/counselhub/internal/app"
	"github.com/counselhub/counselhub/jobs"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	root := cli.New(open)
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func open(ctx context.Context) (*cli.Backend, func(), error) {
	cfg, err := app.LoadConfig()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	logger := app.NewLogger(cfg)
	infra, err := app.Connect(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	services, err := app.NewServices(cfg, infra, nil, logger)
	if err != nil {
		_ = infra.Close()
		return nil, nil, err
	}
	release := func() {
		if err := services.Close(); err != nil {
			logger.Warn("close job client", slog.Any("error", err))
		}
		if err := infra.Close(); err != nil {
			logger.Warn("close infrastructure", slog.Any("error", err))
		}
	}
	return &cli.Backend{
		Jobs:   jobQueue{services},
		Salary: services.Salary,
		Users:  services.Users,
	}, release, nil
}

// jobQueue joins the queue client and inspector.
type jobQueue struct {
	services *app.Services
}

func (q jobQueue) Trigger(ctx context.Context, name string) (*asynq.TaskInfo, error) {
	return q.services.Jobs.Trigger(ctx, name)
}

func (q jobQueue) Queues(ctx context.Context) ([]jobs.QueueStat, error) {
	return q.services.Inspector.Queues(ctx)
}

func (q jobQueue) Scheduled(ctx context.Context) ([]jobs.ScheduledEntry, error) {
	return q.services.Inspector.Scheduled(ctx)
}
