package shared

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrLockHeld is returned when another worker already owns the lock.
var ErrLockHeld = NewUserError(ErrConflict, "다른 작업이 진행 중입니다. 잠시 후 다시 시도해 주세요.")

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// Locker hands out short lived Redis locks.
type Locker struct {
	client *redis.Client
}

// NewLocker constructs a Locker.
func NewLocker(client *redis.Client) *Locker {
	return &Locker{client: client}
}

// Lock is a held lock; Release is safe to call more than once.
type Lock struct {
	client *redis.Client
	key    string
	token  string
}

// Acquire takes key for ttl or returns ErrLockHeld.
func (l *Locker) Acquire(ctx context.Context, key string, ttl time.Duration) (*Lock, error) {
	if l == nil || l.client == nil {
		return nil, errors.New("locker not initialised")
	}
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrLockHeld
	}
	return &Lock{client: l.client, key: key, token: token}, nil
}

// Release drops the lock if it is still owned by this holder.
func (lk *Lock) Release(ctx context.Context) error {
	if lk == nil {
		return nil
	}
	return releaseScript.Run(ctx, lk.client, []string{lk.key}, lk.token).Err()
}

// SalaryLockKey builds the redis key guarding one salary batch scope.
func SalaryLockKey(period string, branchID int64) string {
	return fmt.Sprintf("salary:batch:%s:%d:lock", period, branchID)
}

// SalaryPeriodLockKey serialises batch requests of one period across scopes.
func SalaryPeriodLockKey(period string) string {
	return fmt.Sprintf("salary:period:%s:lock", period)
}
