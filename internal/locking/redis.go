package locking

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// releaseScript deletes the key only while it still holds our token, so an
// expired holder cannot release a lock that has since been taken over.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end
`)

// RedisLocker serializes holders across processes with SET NX PX
type RedisLocker struct {
	client *redis.Client
	config Config
}

// NewRedisLocker creates a distributed locker on client
func NewRedisLocker(client *redis.Client, config Config) *RedisLocker {
	return &RedisLocker{client: client, config: config}
}

// TryAcquire makes a single attempt to take key
func (l *RedisLocker) TryAcquire(ctx context.Context, key string) (Lock, bool, error) {
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, key, token, l.config.TTL).Result()
	if err != nil {
		return nil, false, errors.Wrapf(err, "failed to set lock %s", key)
	}
	if !ok {
		return nil, false, nil
	}
	return &redisLock{client: l.client, key: key, token: token}, true, nil
}

// Acquire retries every RetryInterval until the wait timeout elapses
func (l *RedisLocker) Acquire(ctx context.Context, key string) (Lock, error) {
	deadline := time.Now().Add(l.config.WaitTimeout)
	for {
		lock, ok, err := l.TryAcquire(ctx, key)
		if err != nil {
			return nil, err
		}
		if ok {
			return lock, nil
		}
		if !time.Now().Before(deadline) {
			return nil, ErrNotAcquired
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(l.config.RetryInterval):
		}
	}
}

type redisLock struct {
	client *redis.Client
	key    string
	token  string
}

// Release deletes the key if this lock still owns it
func (r *redisLock) Release(ctx context.Context) error {
	deleted, err := releaseScript.Run(ctx, r.client, []string{r.key}, r.token).Int()
	if err != nil {
		return errors.Wrapf(err, "failed to release lock %s", r.key)
	}
	if deleted == 0 {
		return ErrLockLost
	}
	return nil
}
