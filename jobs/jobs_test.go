package jobs

import (
	"context"
	"errors"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	jobmetrics "github.com/counselhub/counselhub/internal/jobs"
	"github.com/counselhub/counselhub/internal/mappings"
	"github.com/counselhub/counselhub/internal/notify"
	"github.com/counselhub/counselhub/internal/salary"
	_ "github.com/counselhub/counselhub/testing"
)

type outbox struct {
	mails []SendEmailPayload
	texts []SendSMSPayload
	err   error
}

func (o *outbox) SendMail(_ context.Context, to, subject, body string) error {
	o.mails = append(o.mails, SendEmailPayload{To: to, Subject: subject, Body: body})
	return o.err
}

func (o *outbox) SendSMS(_ context.Context, phone, text string) error {
	o.texts = append(o.texts, SendSMSPayload{Phone: phone, Text: text})
	return o.err
}

type salaryRunner struct{ err error }

func (s salaryRunner) Run(_ context.Context, id int64) (salary.Batch, error) {
	return salary.Batch{ID: id, RecordCount: 2}, s.err
}

type maintainer struct{ report mappings.SyncReport }

func (m maintainer) Sync(context.Context) (mappings.SyncReport, error) { return m.report, nil }
func (m maintainer) Expire(context.Context) (int, error)               { return 4, nil }

func task(t *testing.T, build func() (*asynq.Task, error)) *asynq.Task {
	t.Helper()
	tk, err := build()
	require.NoError(t, err)
	return tk
}

func TestTaskHandlersFollowDependencies(t *testing.T) {
	h := &Handlers{Mailer: &outbox{}}
	handlers := h.TaskHandlers()
	require.Len(t, handlers, 1)
	assert.Equal(t, TaskTypeSendEmail, handlers[0].Type)

	h.Mappings = maintainer{}
	assert.Len(t, h.TaskHandlers(), 3)
}

func TestHandleSendEmailAndSMS(t *testing.T) {
	box := &outbox{}
	h := &Handlers{Mailer: box, SMS: box, Metrics: jobmetrics.NewMetrics(prometheus.NewRegistry())}
	ctx := context.Background()

	require.NoError(t, h.HandleSendEmail(ctx, task(t, func() (*asynq.Task, error) {
		return NewSendEmailTask(SendEmailPayload{To: "a@b.c", Subject: "제목", Body: "본문"})
	})))
	require.Len(t, box.mails, 1)
	assert.Equal(t, "제목", box.mails[0].Subject)

	err := h.HandleSendEmail(ctx, asynq.NewTask(TaskTypeSendEmail, []byte("{")))
	assert.ErrorIs(t, err, asynq.SkipRetry)

	sms := task(t, func() (*asynq.Task, error) {
		return NewSendSMSTask(SendSMSPayload{Phone: "01012345678", Text: "내일 상담이 있습니다."})
	})
	require.NoError(t, h.HandleSendSMS(ctx, sms))
	assert.Len(t, box.texts, 1)

	box.err = errors.New("timeout")
	err = h.HandleSendSMS(ctx, sms)
	require.Error(t, err)
	assert.NotErrorIs(t, err, asynq.SkipRetry)

	box.err = notify.ErrRejected
	assert.ErrorIs(t, h.HandleSendSMS(ctx, sms), asynq.SkipRetry)
}

func TestHandleSalarySkipsStaleBatches(t *testing.T) {
	ctx := context.Background()
	tk := task(t, func() (*asynq.Task, error) { return NewSalaryTask(7) })

	h := &Handlers{Salary: salaryRunner{}}
	assert.NoError(t, h.HandleSalary(ctx, tk))

	h.Salary = salaryRunner{err: salary.ErrBatchApproved}
	assert.NoError(t, h.HandleSalary(ctx, tk))

	boom := errors.New("db down")
	h.Salary = salaryRunner{err: boom}
	assert.ErrorIs(t, h.HandleSalary(ctx, tk), boom)

	assert.ErrorIs(t, h.HandleSalary(ctx, asynq.NewTask(TaskSalaryCalculate, []byte(`{"batch_id":0}`))), asynq.SkipRetry)
}

func TestHandleMappingsSyncRecordsDrifts(t *testing.T) {
	reg := prometheus.NewRegistry()
	h := &Handlers{
		Mappings: maintainer{report: mappings.SyncReport{Checked: 10, Fixed: 1, Drifts: []mappings.Drift{{MappingID: 1}, {MappingID: 2}}}},
		Metrics:  jobmetrics.NewMetrics(reg),
	}
	require.NoError(t, h.HandleMappingsSync(context.Background(), nil))
	require.NoError(t, h.HandleMappingsExpire(context.Background(), nil))

	count, err := testutil.GatherAndCount(reg, "counselhub_mapping_session_drifts_total")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
	count, err = testutil.GatherAndCount(reg, "counselhub_jobs_total")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestNewTaskByName(t *testing.T) {
	tk, err := NewTaskByName(TaskSchedulesRemind)
	require.NoError(t, err)
	assert.Equal(t, TaskSchedulesRemind, tk.Type())

	_, err = NewTaskByName(TaskSalaryCalculate)
	assert.ErrorIs(t, err, ErrUnknownTask)

	names := TriggerableTasks()
	require.Len(t, names, 4)
	assert.Equal(t, TaskMappingsExpire, names[0].Name)
}

func TestCron(t *testing.T) {
	entries, err := Cron()
	require.NoError(t, err)
	specs := map[string]string{}
	for _, e := range entries {
		specs[e.Task.Type()] = e.Spec
	}
	assert.Equal(t, "10 0 * * *", specs[TaskMappingsExpire])
	assert.Equal(t, "0 18 * * *", specs[TaskSchedulesRemind])
}
