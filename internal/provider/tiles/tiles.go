// Package tiles downloads raster map tiles from a slippy-map server.
package tiles

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/paulmach/orb/maptile"
	"golang.org/x/time/rate"

	"github.com/mohammed-shakir/osm-context/internal/core/observability"
	"github.com/mohammed-shakir/osm-context/internal/mosaic"
)

const (
	DefaultURLTemplate = "https://tile.openstreetmap.org/{z}/{x}/{y}.png"
	DefaultUserAgent   = "osm-context/1.0 (+https://github.com/mohammed-shakir/osm-context)"
	upstreamName       = "tiles"
	maxTileBytes       = 4 << 20
)

type Client struct {
	logger    *slog.Logger
	client    *http.Client
	template  string
	userAgent string
	limiter   *rate.Limiter
}

type Option func(*Client)

func WithURLTemplate(t string) Option { return func(c *Client) { c.template = t } }

func WithUserAgent(ua string) Option { return func(c *Client) { c.userAgent = ua } }

// WithRateLimit caps tile requests per second with the given burst; zero
// disables the limiter.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) {
		if rps <= 0 {
			c.limiter = nil
			return
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), max(1, burst))
	}
}

func New(logger *slog.Logger, client *http.Client, opts ...Option) *Client {
	if client == nil {
		client = http.DefaultClient
	}
	c := &Client{
		logger:    logger,
		client:    client,
		template:  DefaultURLTemplate,
		userAgent: DefaultUserAgent,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Name identifies the tile source in cache keys.
func (c *Client) Name() string {
	return c.template
}

// URL expands the template for one tile.
func (c *Client) URL(t maptile.Tile) string {
	r := strings.NewReplacer(
		"{z}", strconv.Itoa(int(t.Z)),
		"{x}", strconv.FormatUint(uint64(t.X), 10),
		"{y}", strconv.FormatUint(uint64(t.Y), 10),
	)
	return r.Replace(c.template)
}

// FetchTileImage returns the encoded image bytes for t. A 404 from the server
// is reported as mosaic.ErrTileNotFound.
func (c *Client) FetchTileImage(ctx context.Context, t maptile.Tile) ([]byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter: %w", err)
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.URL(t), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "image/png,image/*")

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	observability.ObserveUpstreamLatency(upstreamName, time.Since(start).Seconds())

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("tile %d/%d/%d: %w", t.Z, t.X, t.Y, mosaic.ErrTileNotFound)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<10))
		return nil, fmt.Errorf("tile %d/%d/%d: upstream status %d: %s", t.Z, t.X, t.Y, resp.StatusCode, string(b))
	}

	b, err := io.ReadAll(io.LimitReader(resp.Body, maxTileBytes))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return b, nil
}
