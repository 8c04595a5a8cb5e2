// Package redisstore wraps the Redis operations used by the tile and geometry caches.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/redis/go-redis/v9"
	maintnotifications "github.com/redis/go-redis/v9/maintnotifications"

	"github.com/mohammed-shakir/osm-context/internal/core/observability"
)

type Option func(*redis.Options)

func WithPoolSize(n int) Option {
	return func(o *redis.Options) { o.PoolSize = n }
}

func WithMinIdleConns(n int) Option {
	return func(o *redis.Options) { o.MinIdleConns = n }
}

func WithDialTimeout(d time.Duration) Option {
	return func(o *redis.Options) { o.DialTimeout = d }
}

func WithReadTimeout(d time.Duration) Option {
	return func(o *redis.Options) { o.ReadTimeout = d }
}

func WithWriteTimeout(d time.Duration) Option {
	return func(o *redis.Options) { o.WriteTimeout = d }
}

// cacheLabel names this store on the cache hit/miss metrics.
const cacheLabel = "redis"

// delBatch bounds both the SCAN page hint and the keys sent per DEL.
const delBatch = 256

type Client struct {
	rdb *redis.Client
}

func New(ctx context.Context, addr string, opts ...Option) (*Client, error) {
	if addr == "" {
		return nil, errors.New("redis address is required")
	}

	ro := &redis.Options{
		Addr:         addr,
		PoolSize:     64,
		MinIdleConns: 4,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  1 * time.Second,
		WriteTimeout: 1 * time.Second,
		MaintNotificationsConfig: &maintnotifications.Config{
			Mode: maintnotifications.ModeDisabled,
		},
	}
	for _, f := range opts {
		f(ro)
	}

	rdb := redis.NewClient(ro)

	start := time.Now()
	err := rdb.Ping(ctx).Err()
	observability.ObserveCacheOp("ping", err, time.Since(start).Seconds())
	if err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Client{rdb: rdb}, nil
}

// MGet returns a map of found keys to their values
func (c *Client) MGet(ctx context.Context, keys []string) (map[string][]byte, error) {
	start := time.Now()
	if len(keys) == 0 {
		observability.ObserveCacheOp("mget", nil, time.Since(start).Seconds())
		return map[string][]byte{}, nil
	}

	vals, err := c.rdb.MGet(ctx, keys...).Result()
	observability.ObserveCacheOp("mget", err, time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("redis MGET %d keys: %w", len(keys), err)
	}

	out := make(map[string][]byte, len(vals))
	hits := 0
	for i, v := range vals {
		if v == nil {
			continue // missing key
		}
		hits++
		switch t := v.(type) {
		case string:
			out[keys[i]] = []byte(t)
		case []byte:
			out[keys[i]] = t
		default:
			out[keys[i]] = fmt.Append(nil, t)
		}
	}
	observability.AddCacheHits(cacheLabel, hits)
	observability.AddCacheMisses(cacheLabel, len(keys)-hits)
	return out, nil
}

func (c *Client) Set(ctx context.Context, key string, val []byte, ttl time.Duration) error {
	start := time.Now()
	err := c.rdb.Set(ctx, key, val, ttl).Err()
	observability.ObserveCacheOp("set", err, time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("redis SET %q: %w", key, err)
	}
	return nil
}

// Del removes keys and reports how many existed.
func (c *Client) Del(ctx context.Context, keys ...string) (int, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	start := time.Now()
	n, err := c.rdb.Del(ctx, keys...).Result()
	observability.ObserveCacheOp("del", err, time.Since(start).Seconds())
	if err != nil {
		return 0, fmt.Errorf("redis DEL %d keys: %w", len(keys), err)
	}
	return int(n), nil
}

// DelMatch deletes every key matching a glob pattern and returns how many
// were removed. The whole SCAN completes before the first DEL: deleting
// while the cursor is live lets the keyspace shrink under it and skip keys.
func (c *Client) DelMatch(ctx context.Context, pattern string) (int, error) {
	start := time.Now()
	seen := make(map[string]struct{})
	var matched []string
	var cursor uint64
	for {
		page, next, err := c.rdb.Scan(ctx, cursor, pattern, delBatch).Result()
		if err != nil {
			observability.ObserveCacheOp("delmatch", err, time.Since(start).Seconds())
			return 0, fmt.Errorf("redis SCAN %q: %w", pattern, err)
		}
		for _, k := range page {
			// SCAN may return a key more than once.
			if _, dup := seen[k]; dup {
				continue
			}
			seen[k] = struct{}{}
			matched = append(matched, k)
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}

	deleted := 0
	for b := range slices.Chunk(matched, delBatch) {
		n, err := c.Del(ctx, b...)
		deleted += n
		if err != nil {
			observability.ObserveCacheOp("delmatch", err, time.Since(start).Seconds())
			return deleted, err
		}
	}
	observability.ObserveCacheOp("delmatch", nil, time.Since(start).Seconds())
	return deleted, nil
}

func (c *Client) Close() error {
	if err := c.rdb.Close(); err != nil {
		return fmt.Errorf("redis close: %w", err)
	}
	return nil
}
