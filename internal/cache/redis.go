package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/52poke/hibana/internal/lock"
)

// RedisLocker adapts the redis SetNX lock to the Locker interface.
type RedisLocker struct {
	Client *redis.Client
	TTL    time.Duration
}

func (r *RedisLocker) TryLock(ctx context.Context, key string) (func(context.Context), bool, error) {
	l, ok, err := lock.TryLock(ctx, r.Client, "lock:"+key, r.TTL)
	if err != nil || !ok {
		return nil, false, err
	}
	return func(ctx context.Context) { _ = l.Unlock(ctx) }, true, nil
}
