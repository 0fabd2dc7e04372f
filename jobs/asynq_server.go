package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/hibiken/asynq"

	"github.com/counselhub/counselhub/internal/shared"
)

// ErrUnknownTask is returned when a trigger names a task that cannot be started by hand.
var ErrUnknownTask = shared.NewUserError(shared.ErrNotFound, "등록되지 않은 작업입니다.")

// statsRefreshWindow collapses repeated refresh requests into one task.
const statsRefreshWindow = 5 * time.Minute

// Worker wraps the Asynq server and optional scheduler.
type Worker struct {
	server    *asynq.Server
	mux       *asynq.ServeMux
	scheduler *asynq.Scheduler
	logger    *slog.Logger
}

// TaskHandler allows injecting custom Asynq handlers during worker setup.
type TaskHandler struct {
	Type    string
	Handler asynq.HandlerFunc
}

// CronRegistration wires a cron expression to a prepared task.
type CronRegistration struct {
	Spec    string
	Task    *asynq.Task
	Options []asynq.Option
}

// WorkerConfig collects dependencies required to bootstrap the worker.
type WorkerConfig struct {
	RedisOpts   asynq.RedisClientOpt
	Logger      *slog.Logger
	Concurrency int
	Handlers    []TaskHandler
	Cron        []CronRegistration
}

// NewWorker constructs a Worker instance. Cron specs are evaluated in Seoul time.
func NewWorker(cfg WorkerConfig) (*Worker, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 5
	}
	logger := cfg.Logger
	srv := asynq.NewServer(cfg.RedisOpts, asynq.Config{
		Concurrency: cfg.Concurrency,
		Queues: map[string]int{
			QueueCritical: 6,
			QueueDefault:  3,
		},
		ErrorHandler: asynq.ErrorHandlerFunc(func(_ context.Context, task *asynq.Task, err error) {
			logger.Error("job failed", slog.String("task", task.Type()), slog.Any("error", err))
		}),
	})
	mux := asynq.NewServeMux()
	for _, h := range cfg.Handlers {
		if h.Type == "" || h.Handler == nil {
			continue
		}
		mux.HandleFunc(h.Type, h.Handler)
	}

	var scheduler *asynq.Scheduler
	if len(cfg.Cron) > 0 {
		scheduler = asynq.NewScheduler(cfg.RedisOpts, &asynq.SchedulerOpts{Location: shared.Seoul})
		for _, entry := range cfg.Cron {
			if entry.Spec == "" || entry.Task == nil {
				continue
			}
			if _, err := scheduler.Register(entry.Spec, entry.Task, entry.Options...); err != nil {
				return nil, fmt.Errorf("register cron %s: %w", entry.Task.Type(), err)
			}
		}
	}

	return &Worker{server: srv, mux: mux, scheduler: scheduler, logger: cfg.Logger}, nil
}

// Run starts processing jobs until context cancellation.
func (w *Worker) Run(ctx context.Context) error {
	if w == nil {
		return errors.New("worker: not configured")
	}
	if w.scheduler != nil {
		if err := w.scheduler.Start(); err != nil {
			return err
		}
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- w.server.Run(w.mux)
	}()
	select {
	case <-ctx.Done():
		if w.scheduler != nil {
			w.scheduler.Shutdown()
		}
		w.server.Shutdown()
		return ctx.Err()
	case err := <-errCh:
		if w.scheduler != nil {
			w.scheduler.Shutdown()
		}
		return err
	}
}

// Client submits jobs to the queue.
type Client struct {
	client *asynq.Client
}

// NewClient constructs an Asynq client.
func NewClient(redisOpts asynq.RedisClientOpt) (*Client, error) {
	client := asynq.NewClient(redisOpts)
	return &Client{client: client}, nil
}

// EnqueueSendEmail enqueues a send-email task.
func (c *Client) EnqueueSendEmail(ctx context.Context, payload SendEmailPayload) (*asynq.TaskInfo, error) {
	task, err := NewSendEmailTask(payload)
	if err != nil {
		return nil, err
	}
	return c.client.EnqueueContext(ctx, task)
}

// SendMail queues a mail delivery.
func (c *Client) SendMail(ctx context.Context, to, subject, body string) error {
	_, err := c.EnqueueSendEmail(ctx, SendEmailPayload{To: to, Subject: subject, Body: body})
	return err
}

// SendSMS queues a text message.
func (c *Client) SendSMS(ctx context.Context, phone, text string) error {
	task, err := NewSendSMSTask(SendSMSPayload{Phone: phone, Text: text})
	if err != nil {
		return err
	}
	_, err = c.client.EnqueueContext(ctx, task)
	return err
}

// EnqueueSalaryRun queues the calculation of a salary batch.
func (c *Client) EnqueueSalaryRun(ctx context.Context, batchID int64) error {
	task, err := NewSalaryTask(batchID)
	if err != nil {
		return err
	}
	_, err = c.client.EnqueueContext(ctx, task, asynq.Timeout(15*time.Minute))
	return err
}

// EnqueueStatsRefresh queues a statistics refresh. Requests within the unique window are merged.
func (c *Client) EnqueueStatsRefresh(ctx context.Context) error {
	task, err := NewTaskByName(TaskStatsRefresh)
	if err != nil {
		return err
	}
	_, err = c.client.EnqueueContext(ctx, task, asynq.Unique(statsRefreshWindow))
	if errors.Is(err, asynq.ErrDuplicateTask) {
		return nil
	}
	return err
}

// Trigger queues a maintenance task by name.
func (c *Client) Trigger(ctx context.Context, name string) (*asynq.TaskInfo, error) {
	task, err := NewTaskByName(name)
	if err != nil {
		return nil, err
	}
	return c.client.EnqueueContext(ctx, task)
}

// Close releases client resources.
func (c *Client) Close() error {
	return c.client.Close()
}

// QueueStat is a snapshot of one queue.
type QueueStat struct {
	Queue     string `json:"queue"`
	Size      int    `json:"size"`
	Pending   int    `json:"pending"`
	Active    int    `json:"active"`
	Scheduled int    `json:"scheduled"`
	Retry     int    `json:"retry"`
	Archived  int    `json:"archived"`
	Processed int    `json:"processed_today"`
	Failed    int    `json:"failed_today"`
	Paused    bool   `json:"paused"`
}

// ScheduledEntry is one registered cron entry.
type ScheduledEntry struct {
	Spec    string    `json:"spec"`
	Task    string    `json:"task"`
	NextRun time.Time `json:"next_run"`
	PrevRun time.Time `json:"prev_run,omitempty"`
}

// Inspector reads queue state for operators.
type Inspector struct {
	inspector *asynq.Inspector
}

// NewInspector wraps an asynq inspector.
func NewInspector(redisOpts asynq.RedisClientOpt) *Inspector {
	return &Inspector{inspector: asynq.NewInspector(redisOpts)}
}

// Queues returns a snapshot of every known queue.
func (i *Inspector) Queues(_ context.Context) ([]QueueStat, error) {
	names, err := i.inspector.Queues()
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	out := make([]QueueStat, 0, len(names))
	for _, name := range names {
		info, err := i.inspector.GetQueueInfo(name)
		if err != nil {
			return nil, fmt.Errorf("queue %s: %w", name, err)
		}
		out = append(out, QueueStat{
			Queue:     info.Queue,
			Size:      info.Size,
			Pending:   info.Pending,
			Active:    info.Active,
			Scheduled: info.Scheduled,
			Retry:     info.Retry,
			Archived:  info.Archived,
			Processed: info.Processed,
			Failed:    info.Failed,
			Paused:    info.Paused,
		})
	}
	return out, nil
}

// Scheduled lists the cron entries registered by running workers.
func (i *Inspector) Scheduled(_ context.Context) ([]ScheduledEntry, error) {
	entries, err := i.inspector.SchedulerEntries()
	if err != nil {
		return nil, err
	}
	out := make([]ScheduledEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, ScheduledEntry{Spec: e.Spec, Task: e.Task.Type(), NextRun: e.Next, PrevRun: e.Prev})
	}
	sort.Slice(out, func(a, b int) bool { return out[a].Task < out[b].Task })
	return out, nil
}

// Ping checks that the queue backend answers.
func (i *Inspector) Ping(ctx context.Context) error {
	_, err := i.Queues(ctx)
	return err
}

// Close releases inspector resources.
func (i *Inspector) Close() error {
	return i.inspector.Close()
}
