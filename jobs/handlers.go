package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/counselhub/counselhub/internal/jobs"
	"github.com/counselhub/counselhub/internal/mappings"
	"github.com/counselhub/counselhub/internal/notify"
	"github.com/counselhub/counselhub/internal/salary"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// SalaryRunner calculates salary batches.
type SalaryRunner interface {
	Run(ctx context.Context, batchID int64) (salary.Batch, error)
}

// StatsRefresher rebuilds statistics.
type StatsRefresher interface {
	Refresh(ctx context.Context) error
}

// MappingMaintainer reconciles and expires mappings.
type MappingMaintainer interface {
	Sync(ctx context.Context) (mappings.SyncReport, error)
	Expire(ctx context.Context) (int, error)
}

// Reminder sends next-day schedule reminders.
type Reminder interface {
	Remind(ctx context.Context) (int, error)
}

// Handlers processes every task type. Nil dependencies leave their task unregistered.
type Handlers struct {
	Mailer    notify.Mailer
	SMS       notify.SMSSender
	Salary    SalaryRunner
	Stats     StatsRefresher
	Mappings  MappingMaintainer
	Schedules Reminder
	Logger    *slog.Logger
	Metrics   *jobmetrics.Metrics
}

func (h *Handlers) metrics() *jobmetrics.Metrics {
	if h.Metrics != nil {
		return h.Metrics
	}
	return defaultJobMetrics
}

func (h *Handlers) log(task string) *slog.Logger {
	logger := h.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return logger.With(slog.String("job", task))
}

// TaskHandlers lists the handlers to mount on the worker.
func (h *Handlers) TaskHandlers() []TaskHandler {
	var out []TaskHandler
	if h.Mailer != nil {
		out = append(out, TaskHandler{Type: TaskTypeSendEmail, Handler: h.HandleSendEmail})
	}
	if h.SMS != nil {
		out = append(out, TaskHandler{Type: TaskTypeSendSMS, Handler: h.HandleSendSMS})
	}
	if h.Salary != nil {
		out = append(out, TaskHandler{Type: TaskSalaryCalculate, Handler: h.HandleSalary})
	}
	if h.Stats != nil {
		out = append(out, TaskHandler{Type: TaskStatsRefresh, Handler: h.HandleStatsRefresh})
	}
	if h.Mappings != nil {
		out = append(out,
			TaskHandler{Type: TaskMappingsSync, Handler: h.HandleMappingsSync},
			TaskHandler{Type: TaskMappingsExpire, Handler: h.HandleMappingsExpire},
		)
	}
	if h.Schedules != nil {
		out = append(out, TaskHandler{Type: TaskSchedulesRemind, Handler: h.HandleRemind})
	}
	return out
}

// Cron returns the periodic schedule.
func Cron() ([]CronRegistration, error) {
	specs := []struct{ spec, task string }{
		{"0 * * * *", TaskStatsRefresh},
		{"10 0 * * *", TaskMappingsExpire},
		{"0 3 * * *", TaskMappingsSync},
		{"0 18 * * *", TaskSchedulesRemind},
	}
	out := make([]CronRegistration, 0, len(specs))
	for _, s := range specs {
		task, err := NewTaskByName(s.task)
		if err != nil {
			return nil, err
		}
		out = append(out, CronRegistration{Spec: s.spec, Task: task, Options: []asynq.Option{asynq.MaxRetry(3)}})
	}
	return out, nil
}

// HandleSendEmail processes TaskTypeSendEmail tasks.
func (h *Handlers) HandleSendEmail(ctx context.Context, t *asynq.Task) error {
	var payload SendEmailPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil || payload.To == "" {
		return fmt.Errorf("decode mail payload: %w", asynq.SkipRetry)
	}
	tracker := h.metrics().Track(TaskTypeSendEmail)
	err := h.Mailer.SendMail(ctx, payload.To, payload.Subject, payload.Body)
	if err != nil {
		h.log(TaskTypeSendEmail).Warn("send mail", slog.String("subject", payload.Subject), slog.Any("error", err))
	}
	return tracker.End(err)
}

// HandleSendSMS processes TaskTypeSendSMS tasks. Provider rejections are not retried.
func (h *Handlers) HandleSendSMS(ctx context.Context, t *asynq.Task) error {
	var payload SendSMSPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil || payload.Phone == "" {
		return fmt.Errorf("decode sms payload: %w", asynq.SkipRetry)
	}
	tracker := h.metrics().Track(TaskTypeSendSMS)
	err := h.SMS.SendSMS(ctx, payload.Phone, payload.Text)
	if err != nil {
		h.log(TaskTypeSendSMS).Warn("send sms", slog.String("to", notify.MaskPhone(payload.Phone)), slog.Any("error", err))
		if errors.Is(err, notify.ErrRejected) {
			err = fmt.Errorf("%w: %w", err, asynq.SkipRetry)
		}
	}
	return tracker.End(err)
}

// HandleSalary processes TaskSalaryCalculate tasks. Superseded or approved batches are dropped.
func (h *Handlers) HandleSalary(ctx context.Context, t *asynq.Task) error {
	var payload SalaryPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil || payload.BatchID <= 0 {
		return fmt.Errorf("decode salary payload: %w", asynq.SkipRetry)
	}
	tracker := h.metrics().Track(TaskSalaryCalculate)
	batch, err := h.Salary.Run(ctx, payload.BatchID)
	switch {
	case errors.Is(err, salary.ErrBatchApproved), errors.Is(err, salary.ErrBatchBusy), errors.Is(err, salary.ErrBatchNotFound):
		h.log(TaskSalaryCalculate).Info("salary batch skipped", slog.Int64("batch_id", payload.BatchID), slog.Any("reason", err))
		return tracker.End(nil)
	case err != nil:
		return tracker.End(err)
	}
	h.log(TaskSalaryCalculate).Info("salary batch done", slog.Int64("batch_id", batch.ID), slog.Int("records", batch.RecordCount), slog.Int64("total_net", batch.TotalNet))
	return tracker.End(nil)
}

// HandleStatsRefresh processes TaskStatsRefresh tasks.
func (h *Handlers) HandleStatsRefresh(ctx context.Context, _ *asynq.Task) error {
	tracker := h.metrics().Track(TaskStatsRefresh)
	return tracker.End(h.Stats.Refresh(ctx))
}

// HandleMappingsSync processes TaskMappingsSync tasks.
func (h *Handlers) HandleMappingsSync(ctx context.Context, _ *asynq.Task) error {
	tracker := h.metrics().Track(TaskMappingsSync)
	report, err := h.Mappings.Sync(ctx)
	h.metrics().AddDrifts("reported", len(report.Drifts))
	h.metrics().AddDrifts("corrected", report.Fixed)
	if err != nil {
		return tracker.End(err)
	}
	h.log(TaskMappingsSync).Info("mapping sync done", slog.Int("checked", report.Checked), slog.Int("drifts", len(report.Drifts)), slog.Int("fixed", report.Fixed))
	return tracker.End(nil)
}

// HandleMappingsExpire processes TaskMappingsExpire tasks.
func (h *Handlers) HandleMappingsExpire(ctx context.Context, _ *asynq.Task) error {
	tracker := h.metrics().Track(TaskMappingsExpire)
	n, err := h.Mappings.Expire(ctx)
	if err == nil {
		h.log(TaskMappingsExpire).Info("mappings expired", slog.Int("count", n))
	}
	return tracker.End(err)
}

// HandleRemind processes TaskSchedulesRemind tasks.
func (h *Handlers) HandleRemind(ctx context.Context, _ *asynq.Task) error {
	tracker := h.metrics().Track(TaskSchedulesRemind)
	n, err := h.Schedules.Remind(ctx)
	if err == nil {
		h.log(TaskSchedulesRemind).Info("reminders queued", slog.Int("count", n))
	}
	return tracker.End(err)
}
