package auth

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/counselhub/counselhub/internal/shared"
	"github.com/counselhub/counselhub/internal/sysconfig"
	_ "github.com/counselhub/counselhub/testing"
)

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

type outbox struct {
	mails []string
	sms   []string
}

func (o *outbox) SendMail(_ context.Context, to, subject, body string) error {
	o.mails = append(o.mails, to+"|"+subject+"|"+body)
	return nil
}

func (o *outbox) SendSMS(_ context.Context, phone, text string) error {
	o.sms = append(o.sms, phone+"|"+text)
	return nil
}

func TestLockoutLocksAfterMaxFailures(t *testing.T) {
	mr, client := newRedis(t)
	ctx := context.Background()
	lock := NewLockout(client, sysconfig.Static{sysconfig.KeyLoginMaxFailures: "3", sysconfig.KeyLoginLockout: "30m"})

	for i := 0; i < 2; i++ {
		locked, err := lock.Fail(ctx, "a@example.com")
		require.NoError(t, err)
		assert.False(t, locked)
	}
	require.NoError(t, lock.Check(ctx, "A@example.com"))

	locked, err := lock.Fail(ctx, "a@example.com")
	require.NoError(t, err)
	assert.True(t, locked)

	err = lock.Check(ctx, "a@example.com")
	require.ErrorIs(t, err, shared.ErrAccountLocked)
	assert.Contains(t, shared.UserSafeMessage(err), "30분")

	mr.FastForward(31 * time.Minute)
	require.NoError(t, lock.Check(ctx, "a@example.com"))
}

func TestLockoutReset(t *testing.T) {
	_, client := newRedis(t)
	ctx := context.Background()
	lock := NewLockout(client, sysconfig.Static{sysconfig.KeyLoginMaxFailures: "1"})
	locked, err := lock.Fail(ctx, "b@example.com")
	require.NoError(t, err)
	require.True(t, locked)
	require.NoError(t, lock.Reset(ctx, "b@example.com"))
	require.NoError(t, lock.Check(ctx, "b@example.com"))
}

func newVerifier(client *redis.Client, box *outbox, limit string) *SMSVerifier {
	v := NewSMSVerifier(client, sysconfig.Static{sysconfig.KeySMSDailyLimit: limit}, box)
	v.generate = func() (string, error) { return "123456", nil }
	return v
}

func TestSMSSendAndVerify(t *testing.T) {
	_, client := newRedis(t)
	box := &outbox{}
	v := newVerifier(client, box, "10")
	ctx := context.Background()

	sent, err := v.Send(ctx, "01012345678", PurposeSignup)
	require.NoError(t, err)
	assert.Equal(t, 180, sent.ExpiresIn)
	assert.Equal(t, 9, sent.Remaining)
	require.Len(t, box.sms, 1)
	assert.Contains(t, box.sms[0], "123456")

	_, err = v.Send(ctx, "01012345678", PurposeSignup)
	require.ErrorIs(t, err, ErrResendCooldown)

	require.ErrorIs(t, v.Verify(ctx, "01012345678", PurposeSignup, "000000"), ErrCodeMismatch)
	require.NoError(t, v.Verify(ctx, "01012345678", PurposeSignup, "123456"))
	require.ErrorIs(t, v.Verify(ctx, "01012345678", PurposeSignup, "123456"), ErrCodeExpired)

	require.ErrorIs(t, v.ConsumeVerified(ctx, "01012345678", PurposeLogin), ErrPhoneNotVerified)
	require.NoError(t, v.ConsumeVerified(ctx, "01012345678", PurposeSignup))
	require.ErrorIs(t, v.ConsumeVerified(ctx, "01012345678", PurposeSignup), ErrPhoneNotVerified)
}

func TestSMSVerifyAttemptLimit(t *testing.T) {
	_, client := newRedis(t)
	v := newVerifier(client, &outbox{}, "10")
	ctx := context.Background()
	_, err := v.Send(ctx, "01011112222", PurposeLogin)
	require.NoError(t, err)

	for i := 0; i < MaxCodeAttempts; i++ {
		require.ErrorIs(t, v.Verify(ctx, "01011112222", PurposeLogin, "999999"), ErrCodeMismatch)
	}
	require.ErrorIs(t, v.Verify(ctx, "01011112222", PurposeLogin, "123456"), ErrCodeAttempts)
	require.ErrorIs(t, v.Verify(ctx, "01011112222", PurposeLogin, "123456"), ErrCodeExpired)
}

func TestSMSDailyLimit(t *testing.T) {
	mr, client := newRedis(t)
	v := newVerifier(client, &outbox{}, "2")
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := v.Send(ctx, "01033334444", PurposeLogin)
		require.NoError(t, err)
		mr.FastForward(ResendCooldown + time.Second)
	}
	_, err := v.Send(ctx, "01033334444", PurposeLogin)
	require.ErrorIs(t, err, ErrDailyLimit)
}

func TestSMSCodeExpires(t *testing.T) {
	mr, client := newRedis(t)
	v := newVerifier(client, &outbox{}, "10")
	ctx := context.Background()
	_, err := v.Send(ctx, "01055556666", PurposeReset)
	require.NoError(t, err)
	mr.FastForward(CodeTTL + time.Second)
	require.ErrorIs(t, v.Verify(ctx, "01055556666", PurposeReset, "123456"), ErrCodeExpired)
}

func TestTokensSingleUse(t *testing.T) {
	_, client := newRedis(t)
	tokens := NewTokens("0123456789abcdef0123456789abcdef", client)
	ctx := context.Background()

	raw, err := tokens.Issue(purposeReset, "42", 30*time.Minute, nil)
	require.NoError(t, err)

	_, err = tokens.Parse(raw, purposeOAuthState)
	require.ErrorIs(t, err, ErrTokenInvalid)

	claims, err := tokens.Parse(raw, purposeReset)
	require.NoError(t, err)
	assert.Equal(t, "42", claims.Subject)

	require.NoError(t, tokens.Consume(ctx, claims))
	require.ErrorIs(t, tokens.Consume(ctx, claims), ErrTokenUsed)
}

func TestTokensExpire(t *testing.T) {
	_, client := newRedis(t)
	tokens := NewTokens("0123456789abcdef0123456789abcdef", client)
	raw, err := tokens.Issue(purposeReset, "1", time.Minute, nil)
	require.NoError(t, err)

	tokens.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	_, err = tokens.Parse(raw, purposeReset)
	require.ErrorIs(t, err, ErrTokenInvalid)
}

func TestTokensRejectForeignSecret(t *testing.T) {
	_, client := newRedis(t)
	raw, err := NewTokens("another-secret-another-secret-xx", client).Issue(purposeReset, "1", time.Minute, nil)
	require.NoError(t, err)
	_, err = NewTokens("0123456789abcdef0123456789abcdef", client).Parse(raw, purposeReset)
	require.ErrorIs(t, err, ErrTokenInvalid)
}
