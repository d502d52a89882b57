package feedback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// ErrLockTimeout is returned when a redis lock could not be taken in time.
var ErrLockTimeout = errors.New("lock wait timed out")

const lockKeyPrefix = "spice:lock:merchant:"

// unlockScript deletes the key only if this holder still owns it.
var unlockScript = redis.NewScript(`
	if redis.call("GET", KEYS[1]) == ARGV[1] then
		return redis.call("DEL", KEYS[1])
	else
		return 0
	end
`)

// RedisLocker is a Locker shared by every process talking to one redis. Locks
// expire after ttl so a crashed holder cannot block a merchant forever.
type RedisLocker struct {
	client        redis.UniversalClient
	ttl           time.Duration
	retryInterval time.Duration
}

// NewRedisLocker creates a redis-backed locker.
func NewRedisLocker(client redis.UniversalClient, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = 5 * time.Second
	}
	return &RedisLocker{
		client:        client,
		ttl:           ttl,
		retryInterval: 10 * time.Millisecond,
	}
}

// Lock polls SET NX until the key is taken, ctx is done, or ttl has passed.
func (r *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	redisKey := lockKeyPrefix + key
	token := uuid.NewString()
	deadline := time.Now().Add(r.ttl)

	for {
		ok, err := r.client.SetNX(ctx, redisKey, token, r.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to acquire lock %s: %w", redisKey, err)
		}
		if ok {
			break
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("%w: %s", ErrLockTimeout, redisKey)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(r.retryInterval):
		}
	}

	return func() {
		unlockCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := unlockScript.Run(unlockCtx, r.client, []string{redisKey}, token).Err(); err != nil {
			slog.Warn("Failed to release merchant lock", "key", redisKey, "error", err)
		}
	}, nil
}
