package auth

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/counselhub/counselhub/internal/shared"
	"github.com/counselhub/counselhub/internal/sysconfig"
)

// Lockout counts failed logins per e-mail and blocks the account for a
// while once the limit is reached inside the window.
type Lockout struct {
	client   *redis.Client
	settings sysconfig.Reader
}

// NewLockout constructs a Lockout.
func NewLockout(client *redis.Client, settings sysconfig.Reader) *Lockout {
	return &Lockout{client: client, settings: settings}
}

func (l *Lockout) keys(email string) (string, string) {
	id := strings.ToLower(strings.TrimSpace(email))
	return "auth:fail:" + id, "auth:lock:" + id
}

func (l *Lockout) window(ctx context.Context) (int, time.Duration) {
	return l.settings.Int(ctx, sysconfig.KeyLoginMaxFailures, 5), l.settings.Duration(ctx, sysconfig.KeyLoginLockout, 30*time.Minute)
}

// Check returns shared.ErrAccountLocked while the account is locked.
func (l *Lockout) Check(ctx context.Context, email string) error {
	_, lockKey := l.keys(email)
	ttl, err := l.client.TTL(ctx, lockKey).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return err
	}
	if ttl > 0 {
		minutes := int((ttl + time.Minute - 1) / time.Minute)
		return shared.NewUserError(shared.ErrAccountLocked, lockedMessage(minutes))
	}
	return nil
}

// Fail records a failure and reports whether the account is now locked.
func (l *Lockout) Fail(ctx context.Context, email string) (bool, error) {
	failKey, lockKey := l.keys(email)
	max, lockFor := l.window(ctx)
	count, err := l.client.Incr(ctx, failKey).Result()
	if err != nil {
		return false, err
	}
	if count == 1 {
		if err := l.client.Expire(ctx, failKey, lockFor).Err(); err != nil {
			return false, err
		}
	}
	if count < int64(max) {
		return false, nil
	}
	if err := l.client.Set(ctx, lockKey, "1", lockFor).Err(); err != nil {
		return false, err
	}
	return true, l.client.Del(ctx, failKey).Err()
}

// Reset clears failures after a successful login or an admin unlock.
func (l *Lockout) Reset(ctx context.Context, email string) error {
	failKey, lockKey := l.keys(email)
	return l.client.Del(ctx, failKey, lockKey).Err()
}

func lockedMessage(minutes int) string {
	return "로그인 시도 횟수를 초과하여 계정이 잠겼습니다. " + strconv.Itoa(minutes) + "분 후 다시 시도해 주세요."
}
