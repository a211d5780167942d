package lock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sethvargo/go-retry"
)

const keyPrefix = "lock:"

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// RedisLocker implements Locker with SET NX PX leases that expire if the holder dies.
type RedisLocker struct {
	client  redis.Cmdable
	ttl     time.Duration
	retries uint64
	base    time.Duration
	logger  *slog.Logger
}

// NewRedis constructs a RedisLocker.
func NewRedis(client redis.Cmdable, ttl time.Duration, retries int, base time.Duration, logger *slog.Logger) *RedisLocker {
	if retries < 0 {
		retries = 0
	}
	return &RedisLocker{
		client:  client,
		ttl:     ttl,
		retries: uint64(retries),
		base:    base,
		logger:  logger.With("component", "lock"),
	}
}

// WithLock acquires key, runs fn and releases the lease on every exit path.
func (l *RedisLocker) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	token := uuid.NewString()
	full := keyPrefix + key

	backoff := retry.WithMaxRetries(l.retries, retry.WithCappedDuration(time.Second, retry.NewExponential(l.base)))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		ok, err := l.client.SetNX(ctx, full, token, l.ttl).Result()
		if err != nil {
			return retry.RetryableError(err)
		}
		if !ok {
			return retry.RetryableError(ErrNotAcquired)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrNotAcquired) {
			return ErrNotAcquired
		}
		return fmt.Errorf("%w: %v", ErrNotAcquired, err)
	}

	defer func() {
		// release even when ctx is already done
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		if err := releaseScript.Run(releaseCtx, l.client, []string{full}, token).Err(); err != nil {
			l.logger.Warn("release lock failed", "key", full, "error", err)
		}
	}()

	return fn(ctx)
}
