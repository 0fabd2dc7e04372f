// Package notify delivers SMS and e-mail for the background jobs.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/avast/retry-go/v4"
)

// SMSSender sends one text message.
type SMSSender interface {
	SendSMS(ctx context.Context, phone, text string) error
}

// ErrRejected marks provider answers that retrying cannot fix.
var ErrRejected = errors.New("notify: rejected by provider")

// HTTPSMS posts messages to a JSON SMS gateway.
type HTTPSMS struct {
	endpoint string
	apiKey   string
	sender   string
	client   *http.Client
	attempts uint
	delay    time.Duration
}

// NewHTTPSMS builds a gateway client. attempts bounds retries on 5xx and network errors.
func NewHTTPSMS(endpoint, apiKey, sender string, client *http.Client) *HTTPSMS {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPSMS{endpoint: endpoint, apiKey: apiKey, sender: sender, client: client, attempts: 3, delay: 500 * time.Millisecond}
}

type smsRequest struct {
	From string `json:"from"`
	To   string `json:"to"`
	Text string `json:"text"`
	Type string `json:"type"`
}

// SendSMS delivers text, switching to LMS above the 90-byte SMS limit.
func (s *HTTPSMS) SendSMS(ctx context.Context, phone, text string) error {
	msgType := "SMS"
	if len(text) > 90 {
		msgType = "LMS"
	}
	body, err := json.Marshal(smsRequest{From: s.sender, To: phone, Text: text, Type: msgType})
	if err != nil {
		return err
	}
	return retry.Do(func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
		if err != nil {
			return retry.Unrecoverable(err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
		resp, err := s.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		switch {
		case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
			return fmt.Errorf("sms gateway: status %d", resp.StatusCode)
		case resp.StatusCode >= 300:
			return retry.Unrecoverable(fmt.Errorf("%w: status %d: %s", ErrRejected, resp.StatusCode, bytes.TrimSpace(msg)))
		}
		return nil
	},
		retry.Context(ctx),
		retry.Attempts(s.attempts),
		retry.Delay(s.delay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
	)
}

// LogSMS writes messages to the log when no gateway is configured.
type LogSMS struct {
	Logger *slog.Logger
}

// SendSMS logs the message with the number partly masked.
func (l LogSMS) SendSMS(_ context.Context, phone, text string) error {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("sms (log only)", slog.String("to", MaskPhone(phone)), slog.String("text", text))
	return nil
}

// MaskPhone hides the middle digits of a phone number.
func MaskPhone(phone string) string {
	r := []rune(phone)
	if len(r) < 7 {
		return phone
	}
	for i := 3; i < len(r)-4; i++ {
		r[i] = '*'
	}
	return string(r)
}
