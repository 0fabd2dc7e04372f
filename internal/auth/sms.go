package auth

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/counselhub/counselhub/internal/shared"
	"github.com/counselhub/counselhub/internal/sysconfig"
)

// SMS verification parameters.
const (
	CodeTTL         = 3 * time.Minute
	ResendCooldown  = 60 * time.Second
	VerifiedTTL     = 10 * time.Minute
	MaxCodeAttempts = 5
)

// SMSSent describes a dispatched code.
type SMSSent struct {
	ExpiresIn   int `json:"expires_in"`
	ResendAfter int `json:"resend_after"`
	Remaining   int `json:"remaining_today"`
}

// SMSVerifier issues and checks one-time phone verification codes.
type SMSVerifier struct {
	client   *redis.Client
	settings sysconfig.Reader
	notifier Notifier
	now      func() time.Time
	generate func() (string, error)
}

// NewSMSVerifier constructs an SMSVerifier.
func NewSMSVerifier(client *redis.Client, settings sysconfig.Reader, notifier Notifier) *SMSVerifier {
	return &SMSVerifier{client: client, settings: settings, notifier: notifier, now: time.Now, generate: randomCode}
}

func codeKey(p Purpose, phone string) string     { return "sms:code:" + string(p) + ":" + phone }
func cooldownKey(p Purpose, phone string) string { return "sms:cooldown:" + string(p) + ":" + phone }
func verifiedKey(p Purpose, phone string) string { return "sms:verified:" + string(p) + ":" + phone }

func (v *SMSVerifier) dailyKey(phone string) string {
	return "sms:daily:" + phone + ":" + v.now().In(shared.Seoul).Format("20060102")
}

// Send issues a new code for phone. Codes are rate limited per purpose by a
// resend cooldown and per phone by a daily cap.
func (v *SMSVerifier) Send(ctx context.Context, phone string, purpose Purpose) (SMSSent, error) {
	ok, err := v.client.SetNX(ctx, cooldownKey(purpose, phone), "1", ResendCooldown).Result()
	if err != nil {
		return SMSSent{}, err
	}
	if !ok {
		return SMSSent{}, ErrResendCooldown
	}
	limit := v.settings.Int(ctx, sysconfig.KeySMSDailyLimit, 10)
	count, err := v.client.Incr(ctx, v.dailyKey(phone)).Result()
	if err != nil {
		return SMSSent{}, err
	}
	if count == 1 {
		_ = v.client.Expire(ctx, v.dailyKey(phone), 25*time.Hour).Err()
	}
	if count > int64(limit) {
		return SMSSent{}, ErrDailyLimit
	}
	code, err := v.generate()
	if err != nil {
		return SMSSent{}, err
	}
	key := codeKey(purpose, phone)
	pipe := v.client.TxPipeline()
	pipe.Del(ctx, key)
	pipe.HSet(ctx, key, "code", code, "attempts", 0)
	pipe.Expire(ctx, key, CodeTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return SMSSent{}, err
	}
	text := fmt.Sprintf("[CounselHub] 인증번호 [%s]를 입력해 주세요. (%d분 이내)", code, int(CodeTTL.Minutes()))
	if err := v.notifier.SendSMS(ctx, phone, text); err != nil {
		return SMSSent{}, err
	}
	return SMSSent{
		ExpiresIn:   int(CodeTTL.Seconds()),
		ResendAfter: int(ResendCooldown.Seconds()),
		Remaining:   limit - int(count),
	}, nil
}

// Verify checks code. On success the phone is marked verified for the purpose.
func (v *SMSVerifier) Verify(ctx context.Context, phone string, purpose Purpose, code string) error {
	key := codeKey(purpose, phone)
	stored, err := v.client.HGetAll(ctx, key).Result()
	if err != nil {
		return err
	}
	if len(stored) == 0 {
		return ErrCodeExpired
	}
	attempts, err := v.client.HIncrBy(ctx, key, "attempts", 1).Result()
	if err != nil {
		return err
	}
	if attempts > MaxCodeAttempts {
		_ = v.client.Del(ctx, key).Err()
		return ErrCodeAttempts
	}
	if stored["code"] != code {
		return ErrCodeMismatch
	}
	pipe := v.client.TxPipeline()
	pipe.Del(ctx, key)
	pipe.Set(ctx, verifiedKey(purpose, phone), "1", VerifiedTTL)
	_, err = pipe.Exec(ctx)
	return err
}

// CheckVerified reports whether Verify succeeded recently without spending it.
func (v *SMSVerifier) CheckVerified(ctx context.Context, phone string, purpose Purpose) error {
	n, err := v.client.Exists(ctx, verifiedKey(purpose, phone)).Result()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrPhoneNotVerified
	}
	return nil
}

// ConsumeVerified succeeds once per successful Verify within VerifiedTTL.
func (v *SMSVerifier) ConsumeVerified(ctx context.Context, phone string, purpose Purpose) error {
	_, err := v.client.GetDel(ctx, verifiedKey(purpose, phone)).Result()
	if errors.Is(err, redis.Nil) {
		return ErrPhoneNotVerified
	}
	return err
}

func randomCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1000000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}
