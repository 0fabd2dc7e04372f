package jobs

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// QueueCritical carries user-facing deliveries (verification codes, reset mails).
	QueueCritical = "critical"

	TaskTypeSendEmail   = "mail:send"
	TaskTypeSendSMS     = "sms:send"
	TaskSalaryCalculate = "salary:calculate"
	TaskStatsRefresh    = "stats:refresh"
	TaskMappingsSync    = "mappings:sync"
	TaskMappingsExpire  = "mappings:expire"
	TaskSchedulesRemind = "schedules:remind"
)

// SendEmailPayload describes the information required to send an email.
type SendEmailPayload struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// SendSMSPayload describes one text message.
type SendSMSPayload struct {
	Phone string `json:"phone"`
	Text  string `json:"text"`
}

// SalaryPayload points at the batch to calculate.
type SalaryPayload struct {
	BatchID int64 `json:"batch_id"`
}

func newTask(taskType string, payload any, opts ...asynq.Option) (*asynq.Task, error) {
	var data []byte
	if payload != nil {
		var err error
		if data, err = json.Marshal(payload); err != nil {
			return nil, err
		}
	}
	return asynq.NewTask(taskType, data, opts...), nil
}

// NewSendEmailTask constructs an Asynq task.
func NewSendEmailTask(payload SendEmailPayload) (*asynq.Task, error) {
	return newTask(TaskTypeSendEmail, payload, asynq.Queue(QueueCritical), asynq.MaxRetry(5))
}

// NewSendSMSTask constructs an SMS task.
func NewSendSMSTask(payload SendSMSPayload) (*asynq.Task, error) {
	return newTask(TaskTypeSendSMS, payload, asynq.Queue(QueueCritical), asynq.MaxRetry(3))
}

// NewSalaryTask constructs a batch calculation task.
func NewSalaryTask(batchID int64) (*asynq.Task, error) {
	return newTask(TaskSalaryCalculate, SalaryPayload{BatchID: batchID}, asynq.Queue(QueueDefault), asynq.MaxRetry(3))
}

// maintenance tasks carry no payload and can be triggered by name.
var maintenance = map[string]string{
	TaskStatsRefresh:    "통계 materialized view 갱신",
	TaskMappingsSync:    "매칭 사용 회기 동기화",
	TaskMappingsExpire:  "기간 만료 매칭 종료",
	TaskSchedulesRemind: "다음날 상담 알림 발송",
}

// NewTaskByName builds a maintenance task. Only tasks without a payload can be triggered this way.
func NewTaskByName(name string) (*asynq.Task, error) {
	if _, ok := maintenance[name]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTask, name)
	}
	return newTask(name, nil, asynq.Queue(QueueDefault), asynq.MaxRetry(2))
}

// TriggerableTask describes a task operators may start by hand.
type TriggerableTask struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// TriggerableTasks lists the maintenance tasks sorted by name.
func TriggerableTasks() []TriggerableTask {
	out := make([]TriggerableTask, 0, len(maintenance))
	for name, desc := range maintenance {
		out = append(out, TriggerableTask{Name: name, Description: desc})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
