// Package cache is the deduplicating transform cache: per-key single-flight
// over an in-process store, with an optional shared tier for multi-replica
// deployments.
package cache

import (
	"context"
	"errors"
	"time"

	"github.com/dgraph-io/ristretto"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/52poke/hibana/internal/store"
)

// Status says where an artifact came from, surfaced to clients in the
// X-Hibana-Cache header.
type Status string

const (
	StatusHit    Status = "HIT"    // served from the in-process cache
	StatusMiss   Status = "MISS"   // fetched and transformed by this round
	StatusShared Status = "SHARED" // pulled from the shared tier
)

// ComputeFunc performs fetch→transform→fingerprint for one key. It runs at
// most once per in-flight round regardless of how many callers subscribe.
type ComputeFunc func(ctx context.Context) (*store.Artifact, error)

// Locker serializes computation of one key across replicas. TryLock never
// blocks; the returned release function is nil when ok is false.
type Locker interface {
	TryLock(ctx context.Context, key string) (release func(context.Context), ok bool, err error)
}

type Options struct {
	// MaxBytes bounds the in-process cache by total artifact size.
	MaxBytes int64
	// TTL is how long a ready artifact stays servable.
	TTL time.Duration
	// ComputeTimeout caps one whole fetch+transform round.
	ComputeTimeout time.Duration
	// Shared and Locker enable the cross-replica tier; both optional.
	Shared      store.Shared
	Locker      Locker
	MaxLockWait time.Duration
	Logger      *zap.Logger
}

type Cache struct {
	l1             *ristretto.Cache
	group          singleflight.Group
	shared         store.Shared
	locker         Locker
	ttl            time.Duration
	computeTimeout time.Duration
	maxLockWait    time.Duration
	log            *zap.Logger
}

const lockPollInterval = 50 * time.Millisecond

func New(opts Options) (*Cache, error) {
	if opts.MaxBytes <= 0 {
		return nil, errors.New("cache: MaxBytes must be positive")
	}
	if opts.TTL <= 0 {
		return nil, errors.New("cache: TTL must be positive")
	}
	if opts.ComputeTimeout <= 0 {
		opts.ComputeTimeout = 30 * time.Second
	}
	if opts.MaxLockWait <= 0 {
		opts.MaxLockWait = 3 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	// Counters sized for ~10x the number of artifacts the byte budget can
	// hold, assuming a few KB per emoji.
	numCounters := opts.MaxBytes / 4096 * 10
	if numCounters < 1e4 {
		numCounters = 1e4
	}
	l1, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: numCounters,
		MaxCost:     opts.MaxBytes,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}

	return &Cache{
		l1:             l1,
		shared:         opts.Shared,
		locker:         opts.Locker,
		ttl:            opts.TTL,
		computeTimeout: opts.ComputeTimeout,
		maxLockWait:    opts.MaxLockWait,
		log:            opts.Logger,
	}, nil
}

func (c *Cache) Close() {
	c.l1.Close()
}

// GetOrCompute returns the artifact for key, running fn at most once across
// all concurrent callers. Every subscriber of one round observes the same
// artifact or the same error. Failed rounds are not cached, so the next
// request for the key starts fresh.
func (c *Cache) GetOrCompute(ctx context.Context, key string, fn ComputeFunc) (*store.Artifact, Status, error) {
	if art, ok := c.lookup(key); ok {
		return art, StatusHit, nil
	}

	ch := c.group.DoChan(key, func() (any, error) {
		// The round must survive the initiating caller's disconnect, so it
		// runs detached from any single request context.
		cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.computeTimeout)
		defer cancel()
		return c.compute(cctx, key, fn)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, StatusMiss, res.Err
		}
		r := res.Val.(result)
		return r.art, r.status, nil
	case <-ctx.Done():
		// This waiter gives up; the round continues for the others.
		return nil, StatusMiss, ctx.Err()
	}
}

// Invalidate drops key from the in-process cache and the shared tier.
func (c *Cache) Invalidate(ctx context.Context, key string) error {
	c.l1.Del(key)
	if c.shared == nil {
		return nil
	}
	return c.shared.Delete(ctx, key)
}

type result struct {
	art    *store.Artifact
	status Status
}

func (c *Cache) compute(ctx context.Context, key string, fn ComputeFunc) (result, error) {
	// An earlier round may have published while this caller queued.
	if art, ok := c.lookup(key); ok {
		return result{art, StatusHit}, nil
	}

	if c.shared != nil {
		if r, done, err := c.fromSharedTier(ctx, key); done {
			return r, err
		}
	}

	art, err := fn(ctx)
	if err != nil {
		return result{}, err
	}
	c.publish(key, art)
	if c.shared != nil {
		if err := c.shared.Put(ctx, key, art); err != nil {
			c.log.Warn("shared tier put failed", zap.String("key", key), zap.Error(err))
		}
	}
	return result{art, StatusMiss}, nil
}

// fromSharedTier tries to serve key from the shared store, taking the
// cross-replica lock so only one replica transforms. When another replica
// holds the lock it polls the store for a bounded wait, then falls through
// to computing locally rather than stalling the request. done is false when
// the caller should run the compute itself.
func (c *Cache) fromSharedTier(ctx context.Context, key string) (result, bool, error) {
	if art := c.sharedLookup(ctx, key); art != nil {
		c.publish(key, art)
		return result{art, StatusShared}, true, nil
	}
	if c.locker == nil {
		return result{}, false, nil
	}

	deadline := time.Now().Add(c.maxLockWait)
	for {
		release, ok, err := c.locker.TryLock(ctx, key)
		if err != nil {
			c.log.Warn("replica lock unavailable", zap.String("key", key), zap.Error(err))
			return result{}, false, nil
		}
		if ok {
			defer release(ctx)
			if art := c.sharedLookup(ctx, key); art != nil {
				c.publish(key, art)
				return result{art, StatusShared}, true, nil
			}
			return result{}, false, nil
		}

		if art := c.sharedLookup(ctx, key); art != nil {
			c.publish(key, art)
			return result{art, StatusShared}, true, nil
		}
		if time.Now().After(deadline) {
			return result{}, false, nil
		}
		select {
		case <-ctx.Done():
			return result{}, true, ctx.Err()
		case <-time.After(lockPollInterval):
		}
	}
}

func (c *Cache) lookup(key string) (*store.Artifact, bool) {
	v, ok := c.l1.Get(key)
	if !ok {
		return nil, false
	}
	art, ok := v.(*store.Artifact)
	if !ok || art == nil {
		c.l1.Del(key)
		return nil, false
	}
	return art, true
}

func (c *Cache) sharedLookup(ctx context.Context, key string) *store.Artifact {
	art, err := c.shared.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			c.log.Warn("shared tier get failed", zap.String("key", key), zap.Error(err))
		}
		return nil
	}
	if art.Expired(c.ttl) {
		return nil
	}
	return art
}

// publish stores a ready artifact for its remaining lifetime and waits until
// the write is visible, so followers of this round hit L1 directly.
func (c *Cache) publish(key string, art *store.Artifact) {
	ttl := c.ttl
	if !art.CreatedAt.IsZero() {
		ttl -= time.Since(art.CreatedAt)
	}
	if ttl <= 0 {
		return
	}
	c.l1.SetWithTTL(key, art, art.Size(), ttl)
	c.l1.Wait()
}
