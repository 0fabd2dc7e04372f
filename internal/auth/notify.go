package auth

import "context"

// Notifier hands messages to the background delivery jobs.
type Notifier interface {
	SendMail(ctx context.Context, to, subject, body string) error
	SendSMS(ctx context.Context, phone, text string) error
}

// EventRecorder counts authentication outcomes.
type EventRecorder interface {
	RecordAuth(method, result string)
}

type nopRecorder struct{}

func (nopRecorder) RecordAuth(string, string) {}
