// Package lock provides short-lived distributed mutexes keyed by resource.
package lock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bsm/redislock"
	"github.com/google/uuid"
)

var ErrNotObtained = errors.New("lock not obtained")

type Lock interface {
	Release(ctx context.Context) error
	Refresh(ctx context.Context, ttl time.Duration) error
}

type Locker interface {
	Obtain(ctx context.Context, key string, ttl time.Duration) (Lock, error)
}

// RedisLocker backs locks with redislock. Obtain polls for up to wait
// before giving up with ErrNotObtained.
type RedisLocker struct {
	client *redislock.Client
	wait   time.Duration
}

func NewRedisLocker(rdb redislock.RedisClient, wait time.Duration) *RedisLocker {
	return &RedisLocker{client: redislock.New(rdb), wait: wait}
}

const pollInterval = 100 * time.Millisecond

func (l *RedisLocker) Obtain(ctx context.Context, key string, ttl time.Duration) (Lock, error) {
	retries := int(l.wait / pollInterval)
	opts := &redislock.Options{
		RetryStrategy: redislock.LimitRetry(redislock.LinearBackoff(pollInterval), retries),
	}
	lk, err := l.client.Obtain(ctx, key, ttl, opts)
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, fmt.Errorf("%s: %w", key, ErrNotObtained)
	}
	if err != nil {
		return nil, fmt.Errorf("obtain lock %s: %w", key, err)
	}
	return redisLock{lk}, nil
}

type redisLock struct {
	*redislock.Lock
}

func (l redisLock) Refresh(ctx context.Context, ttl time.Duration) error {
	return l.Lock.Refresh(ctx, ttl, nil)
}

// DocumentKey is the lock guarding a document's output path.
func DocumentKey(id uuid.UUID) string {
	return "docissue:lock:document:" + id.String()
}

// With runs fn while holding key. The lock is refreshed every ttl/2 for as
// long as fn runs, so a slow fn never loses it; ttl only bounds how long a
// crashed holder blocks others. Release failures are logged, not returned.
func With(ctx context.Context, l Locker, key string, ttl time.Duration, fn func() error) error {
	lk, err := l.Obtain(ctx, key, ttl)
	if err != nil {
		return err
	}
	// The caller's ctx may already be cancelled.
	bg := context.WithoutCancel(ctx)
	keepCtx, stop := context.WithCancel(bg)
	kept := make(chan struct{})
	go func() {
		defer close(kept)
		keepAlive(keepCtx, lk, key, ttl)
	}()
	defer func() {
		stop()
		<-kept
		if err := lk.Release(bg); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
			slog.Warn("release lock", "key", key, "error", err)
		}
	}()
	return fn()
}

func keepAlive(ctx context.Context, lk Lock, key string, ttl time.Duration) {
	interval := ttl / 2
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := lk.Refresh(ctx, ttl); err != nil {
				if ctx.Err() == nil {
					slog.Warn("refresh lock", "key", key, "error", err)
				}
				return
			}
		}
	}
}
