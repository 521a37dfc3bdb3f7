package invoicelock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	keyInvoiceLock = "procura:invoice-lock:%s"

	minBackoff = 10 * time.Millisecond
	maxBackoff = 250 * time.Millisecond
)

const lockReleaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

// RedisLocker shares invoice locks across processes. Each hold is a SETNX key
// with a random token, released only by the holder of that token.
type RedisLocker struct {
	client *redis.Client
	script *redis.Script
	ttl    time.Duration
	wait   time.Duration
	log    *zap.Logger
}

func NewRedisLocker(client *redis.Client, ttl, wait time.Duration, log *zap.Logger) *RedisLocker {
	if log == nil {
		log = zap.NewNop()
	}
	return &RedisLocker{
		client: client,
		script: redis.NewScript(lockReleaseScript),
		ttl:    ttl,
		wait:   wait,
		log:    log.Named("invoicelock.redis"),
	}
}

// Lock retries with capped exponential backoff until the lock is free, ctx is
// done, or the configured wait elapses.
func (l *RedisLocker) Lock(ctx context.Context, invoiceID snowflake.ID) (func(), error) {
	if l == nil || l.client == nil {
		return nil, errors.New("lock client not configured")
	}
	if l.ttl <= 0 {
		return nil, errors.New("lock ttl must be positive")
	}
	if l.wait > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.wait)
		defer cancel()
	}

	key := fmt.Sprintf(keyInvoiceLock, invoiceID.String())
	backoff := minBackoff
	for {
		token, ok, err := l.tryLock(ctx, key)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ErrLockTimeout
			}
			return nil, err
		}
		if ok {
			return l.releaser(key, token), nil
		}

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ErrLockTimeout
		case <-timer.C:
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

func (l *RedisLocker) tryLock(ctx context.Context, key string) (string, bool, error) {
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return "", false, err
	}
	return token, ok, nil
}

func (l *RedisLocker) releaser(key, token string) func() {
	return func() {
		// The caller's ctx may already be cancelled when it releases.
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := l.script.Run(ctx, l.client, []string{key}, token).Err(); err != nil {
			l.log.Warn("release invoice lock failed", zap.String("key", key), zap.Error(err))
		}
	}
}
