// Package tilecache puts an in-process LRU and an optional Redis tier in
// front of a tile source.
package tilecache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/paulmach/orb/maptile"
	"golang.org/x/sync/singleflight"

	"github.com/mohammed-shakir/osm-context/internal/cache/keys"
	"github.com/mohammed-shakir/osm-context/internal/core/observability"
	"github.com/mohammed-shakir/osm-context/internal/mosaic"
)

const (
	cacheLRU   = "tile_lru"
	cacheRedis = "tile_redis"
)

// Store is the shared tier, typically *redisstore.Client.
type Store interface {
	MGet(ctx context.Context, keys []string) (map[string][]byte, error)
	Set(ctx context.Context, key string, val []byte, ttl time.Duration) error
}

type Fetcher struct {
	next      mosaic.TileFetcher
	source    string
	lru       *lru.Cache[string, []byte]
	store     Store
	ttl       time.Duration
	opTimeout time.Duration
	group     singleflight.Group
	logger    *slog.Logger
}

type Option func(*Fetcher)

func WithStore(s Store, ttl time.Duration) Option {
	return func(f *Fetcher) {
		f.store = s
		f.ttl = ttl
	}
}

func WithOpTimeout(d time.Duration) Option {
	return func(f *Fetcher) {
		if d > 0 {
			f.opTimeout = d
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(f *Fetcher) { f.logger = l }
}

// New wraps next. source distinguishes tile servers sharing one store.
func New(next mosaic.TileFetcher, source string, lruSize int, opts ...Option) (*Fetcher, error) {
	if next == nil {
		return nil, errors.New("tilecache: upstream fetcher is required")
	}
	if lruSize <= 0 {
		lruSize = 512
	}
	c, err := lru.New[string, []byte](lruSize)
	if err != nil {
		return nil, fmt.Errorf("tile lru: %w", err)
	}
	f := &Fetcher{
		next:      next,
		source:    source,
		lru:       c,
		ttl:       24 * time.Hour,
		opTimeout: 250 * time.Millisecond,
	}
	for _, o := range opts {
		o(f)
	}
	if f.logger == nil {
		f.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return f, nil
}

// FetchTileImage serves t from memory, then the store, then upstream.
// Concurrent misses for the same tile share one upstream call. Errors,
// including mosaic.ErrTileNotFound, are never cached.
func (f *Fetcher) FetchTileImage(ctx context.Context, t maptile.Tile) ([]byte, error) {
	key := keys.Tile(f.source, t)
	if b, ok := f.lru.Get(key); ok {
		observability.AddCacheHits(cacheLRU, 1)
		return b, nil
	}
	observability.AddCacheMisses(cacheLRU, 1)

	v, err, shared := f.group.Do(key, func() (any, error) {
		if b, ok := f.fromStore(ctx, key); ok {
			f.lru.Add(key, b)
			return b, nil
		}
		b, err := f.next.FetchTileImage(ctx, t)
		if err != nil {
			return nil, err
		}
		f.lru.Add(key, b)
		f.toStore(ctx, key, b)
		return b, nil
	})
	if shared {
		observability.IncTileFetch(observability.TileShared)
	}
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

// Len reports the number of tiles held in memory.
func (f *Fetcher) Len() int { return f.lru.Len() }

func (f *Fetcher) fromStore(ctx context.Context, key string) ([]byte, bool) {
	if f.store == nil {
		return nil, false
	}
	sctx, cancel := context.WithTimeout(ctx, f.opTimeout)
	defer cancel()
	got, err := f.store.MGet(sctx, []string{key})
	if err != nil {
		f.logger.Warn("tile cache read failed", "key", key, "err", err)
		return nil, false
	}
	b, ok := got[key]
	if ok {
		observability.AddCacheHits(cacheRedis, 1)
	} else {
		observability.AddCacheMisses(cacheRedis, 1)
	}
	return b, ok
}

func (f *Fetcher) toStore(ctx context.Context, key string, b []byte) {
	if f.store == nil {
		return
	}
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), f.opTimeout)
	defer cancel()
	if err := f.store.Set(sctx, key, b, f.ttl); err != nil {
		f.logger.Warn("tile cache write failed", "key", key, "err", err)
	}
}
