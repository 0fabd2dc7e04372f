package notify

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/smtp"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPSMSRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))
		var req smsRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "01012345678", req.To)
		assert.Equal(t, "SMS", req.Type)
		if n < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := NewHTTPSMS(srv.URL, "key", "15880000", srv.Client())
	s.delay = time.Millisecond
	require.NoError(t, s.SendSMS(context.Background(), "01012345678", "인증번호 [123456]"))
	assert.Equal(t, int32(3), calls.Load())
}

func TestHTTPSMSStopsOnRejection(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		http.Error(w, "invalid number", http.StatusBadRequest)
	}))
	defer srv.Close()

	s := NewHTTPSMS(srv.URL, "key", "15880000", srv.Client())
	s.delay = time.Millisecond
	err := s.SendSMS(context.Background(), "010", strings.Repeat("가", 40))
	require.ErrorIs(t, err, ErrRejected)
	assert.Contains(t, err.Error(), "invalid number")
	assert.Equal(t, int32(1), calls.Load())
}

func TestMaskPhone(t *testing.T) {
	assert.Equal(t, "010****5678", MaskPhone("01012345678"))
	assert.Equal(t, "112", MaskPhone("112"))
}

func TestSMTPMailer(t *testing.T) {
	m := NewSMTPMailer(SMTPConfig{Host: "mail.local", Port: 1025, From: "no-reply@counselhub.local"})
	m.now = func() time.Time { return time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC) }
	var (
		gotAddr string
		gotAuth smtp.Auth
		gotTo   []string
		gotMsg  []byte
	)
	m.send = func(addr string, a smtp.Auth, _ string, to []string, msg []byte) error {
		gotAddr, gotAuth, gotTo, gotMsg = addr, a, to, msg
		return nil
	}
	require.NoError(t, m.SendMail(context.Background(), "user@example.com", "비밀번호 재설정", "링크를 확인하세요."))
	assert.Equal(t, "mail.local:1025", gotAddr)
	assert.Nil(t, gotAuth)
	assert.Equal(t, []string{"user@example.com"}, gotTo)

	msg := string(gotMsg)
	assert.Contains(t, msg, "Subject: =?UTF-8?b?")
	assert.Contains(t, msg, "Date: Tue, 10 Mar 2026 09:00:00 +0000")
	assert.Contains(t, msg, base64.StdEncoding.EncodeToString([]byte("링크를 확인하세요.")))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, m.SendMail(ctx, "user@example.com", "s", "b"), context.Canceled)
}
