package lock

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLocker(t *testing.T, wait time.Duration) (*RedisLocker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return NewRedisLocker(rdb, wait), mr
}

func TestRedisLocker_Exclusive(t *testing.T) {
	l, _ := newLocker(t, 0)
	ctx := context.Background()
	key := DocumentKey(uuid.New())

	first, err := l.Obtain(ctx, key, time.Minute)
	require.NoError(t, err)

	_, err = l.Obtain(ctx, key, time.Minute)
	assert.ErrorIs(t, err, ErrNotObtained)

	require.NoError(t, first.Release(ctx))
	second, err := l.Obtain(ctx, key, time.Minute)
	require.NoError(t, err)
	require.NoError(t, second.Release(ctx))
}

func TestRedisLocker_ExpiresWithTTL(t *testing.T) {
	l, mr := newLocker(t, 0)
	ctx := context.Background()

	_, err := l.Obtain(ctx, "k", time.Second)
	require.NoError(t, err)
	mr.FastForward(2 * time.Second)

	lk, err := l.Obtain(ctx, "k", time.Second)
	require.NoError(t, err)
	require.NoError(t, lk.Release(ctx))
}

func TestWith(t *testing.T) {
	l, mr := newLocker(t, 0)
	ctx := context.Background()
	key := DocumentKey(uuid.New())

	ran := false
	err := With(ctx, l, key, time.Minute, func() error {
		ran = true
		assert.True(t, mr.Exists(key))
		return nil
	})
	require.NoError(t, err)
	assert.True(t, ran)
	assert.False(t, mr.Exists(key))

	boom := errors.New("boom")
	assert.ErrorIs(t, With(ctx, l, key, time.Minute, func() error { return boom }), boom)
	assert.False(t, mr.Exists(key))
}

func TestWith_RefreshesWhileRunning(t *testing.T) {
	l, mr := newLocker(t, 0)
	ctx := context.Background()
	key := DocumentKey(uuid.New())
	ttl := 200 * time.Millisecond

	err := With(ctx, l, key, ttl, func() error {
		// Most of the TTL passes while fn is still queued for work.
		mr.FastForward(150 * time.Millisecond)
		require.LessOrEqual(t, mr.TTL(key), 50*time.Millisecond)
		assert.Eventually(t, func() bool { return mr.TTL(key) > 100*time.Millisecond },
			time.Second, 10*time.Millisecond)
		assert.True(t, mr.Exists(key))
		return nil
	})
	require.NoError(t, err)
	assert.False(t, mr.Exists(key))
}

func TestWith_HeldElsewhere(t *testing.T) {
	l, _ := newLocker(t, 0)
	ctx := context.Background()

	held, err := l.Obtain(ctx, "busy", time.Minute)
	require.NoError(t, err)
	defer held.Release(ctx)

	err = With(ctx, l, "busy", time.Minute, func() error {
		t.Fatal("must not run")
		return nil
	})
	assert.ErrorIs(t, err, ErrNotObtained)
}
