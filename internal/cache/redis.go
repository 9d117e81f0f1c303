// Package cache is a JSON cache over Redis with versioned writes: a reader
// can store a value only if the key's version did not move while it was
// computing it.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var ErrMiss = errors.New("cache miss")

type Cache struct {
	client *redis.Client
	prefix string
}

func NewCache(client *redis.Client, prefix string) *Cache {
	return &Cache{client: client, prefix: prefix}
}

func (c *Cache) key(k string) string {
	return c.prefix + k
}

func (c *Cache) versionKey(k string) string {
	return c.prefix + k + ":v"
}

func (c *Cache) Get(ctx context.Context, key string, dest interface{}) error {
	val, err := c.client.Get(ctx, c.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return ErrMiss
	}
	if err != nil {
		return fmt.Errorf("cache get %s: %w", key, err)
	}
	return json.Unmarshal(val, dest)
}

func (c *Cache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal value: %w", err)
	}
	return c.client.Set(ctx, c.key(key), data, ttl).Err()
}

// Version returns the key's current version; a key never invalidated is
// at version 0.
func (c *Cache) Version(ctx context.Context, key string) (int64, error) {
	v, err := c.client.Get(ctx, c.versionKey(key)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("cache version %s: %w", key, err)
	}
	return v, nil
}

// SetIfVersion stores value only while the key is still at version. It
// reports whether the value was stored.
func (c *Cache) SetIfVersion(ctx context.Context, key string, value interface{}, ttl time.Duration, version int64) (bool, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return false, fmt.Errorf("marshal value: %w", err)
	}
	vkey := c.versionKey(key)
	stored := false
	err = c.client.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := tx.Get(ctx, vkey).Int64()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if cur != version {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Set(ctx, c.key(key), data, ttl)
			return nil
		})
		stored = err == nil
		return err
	}, vkey)
	if errors.Is(err, redis.TxFailedErr) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("cache set %s: %w", key, err)
	}
	return stored, nil
}

// Invalidate deletes the value and bumps the version so in-flight readers
// cannot write back what they loaded before the change.
func (c *Cache) Invalidate(ctx context.Context, key string, versionTTL time.Duration) error {
	vkey := c.versionKey(key)
	_, err := c.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, c.key(key))
		p.Incr(ctx, vkey)
		p.Expire(ctx, vkey, versionTTL)
		return nil
	})
	if err != nil {
		return fmt.Errorf("cache invalidate %s: %w", key, err)
	}
	return nil
}
