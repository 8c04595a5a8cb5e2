// Package geomcache caches raw geometry payloads in Redis, keyed by the H3
// cell of the query center so invalidation can target them by area.
package geomcache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/mohammed-shakir/osm-context/internal/cache/keys"
	"github.com/mohammed-shakir/osm-context/internal/core/model"
	"github.com/mohammed-shakir/osm-context/internal/core/observability"
	mylog "github.com/mohammed-shakir/osm-context/internal/logger"
	"github.com/mohammed-shakir/osm-context/internal/query"
)

const cacheName = "geometry"

type Store interface {
	MGet(ctx context.Context, keys []string) (map[string][]byte, error)
	Set(ctx context.Context, key string, val []byte, ttl time.Duration) error
}

type CellMapper interface {
	CellForPoint(lat, lon float64, res int) (string, error)
}

// Admitter decides whether a fetched payload is written to the store.
type Admitter interface {
	Admit(key string) bool
}

type Fetcher struct {
	next      query.RawGeometryFetcher
	admit     Admitter
	store     Store
	mapper    CellMapper
	source    string
	res       int
	ttl       time.Duration
	opTimeout time.Duration
	logger    *slog.Logger
}

type Option func(*Fetcher)

func WithTTL(d time.Duration) Option {
	return func(f *Fetcher) {
		if d > 0 {
			f.ttl = d
		}
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

// WithAdmission only stores payloads the admitter accepts. Without one every
// fetched payload is stored.
func WithAdmission(a Admitter) Option {
	return func(f *Fetcher) { f.admit = a }
}

// New wraps next. source names the upstream so payloads from different
// providers never share a key.
func New(next query.RawGeometryFetcher, store Store, mapper CellMapper, source string, res int, opts ...Option) (*Fetcher, error) {
	if next == nil || store == nil || mapper == nil {
		return nil, errors.New("geomcache: missing dependencies (fetcher/store/mapper)")
	}
	f := &Fetcher{
		next:      next,
		store:     store,
		mapper:    mapper,
		source:    source,
		res:       res,
		ttl:       time.Hour,
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

// Key returns the cache key for one layer and box.
func (f *Fetcher) Key(layer query.Layer, bb model.BBox) (string, error) {
	c := bb.Center()
	cell, err := f.mapper.CellForPoint(c.Lat(), c.Lon(), f.res)
	if err != nil {
		return "", fmt.Errorf("cache cell: %w", err)
	}
	return keys.Geometry(string(layer), f.res, cell, f.source, bb.String()), nil
}

// FetchRawGeometry returns the cached payload when present, else fetches and
// stores it. Store failures degrade to a plain upstream fetch.
func (f *Fetcher) FetchRawGeometry(ctx context.Context, layer query.Layer, bb model.BBox) ([]byte, error) {
	key, err := f.Key(layer, bb)
	if err != nil {
		f.logger.WarnContext(mylog.WithCacheOutcome(ctx, "bypass"), "geometry cache bypassed", "layer", layer, "err", err)
		return f.next.FetchRawGeometry(ctx, layer, bb)
	}

	sctx, cancel := context.WithTimeout(ctx, f.opTimeout)
	got, err := f.store.MGet(sctx, []string{key})
	cancel()
	switch {
	case err != nil:
		f.logger.WarnContext(mylog.WithCacheOutcome(ctx, "error"), "geometry cache read failed", "key", key, "err", err)
	case got[key] != nil:
		observability.AddCacheHits(cacheName, 1)
		f.logger.DebugContext(mylog.WithCacheOutcome(ctx, "hit"), "geometry served from cache", "key", key)
		return got[key], nil
	default:
		observability.AddCacheMisses(cacheName, 1)
	}

	b, err := f.next.FetchRawGeometry(ctx, layer, bb)
	if err != nil {
		return nil, err
	}

	if f.admit != nil && !f.admit.Admit(key) {
		f.logger.DebugContext(mylog.WithCacheOutcome(ctx, "miss"), "geometry not admitted", "key", key)
		return b, nil
	}

	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), f.opTimeout)
	defer cancel()
	if err := f.store.Set(wctx, key, b, f.ttl); err != nil {
		f.logger.WarnContext(ctx, "geometry cache write failed", "key", key, "err", err)
	}
	return b, nil
}
