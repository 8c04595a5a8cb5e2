// Package overpass fetches raw OSM elements for a layer from an Overpass API
// interpreter.
package overpass

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/mohammed-shakir/osm-context/internal/core/model"
	"github.com/mohammed-shakir/osm-context/internal/core/observability"
	"github.com/mohammed-shakir/osm-context/internal/query"
)

const (
	DefaultEndpoint = "https://overpass-api.de/api/interpreter"
	DefaultTimeout  = 25 // seconds, passed to the interpreter
	upstreamName    = "overpass"
)

// layerFilters are the Overpass tag filters selecting each layer.
var layerFilters = map[query.Layer][]string{
	query.LayerBuildings: {`["building"]`},
	query.LayerRoads:     {`["highway"]`},
	query.LayerNature:    natureFilters(),
}

func natureFilters() []string {
	out := make([]string, 0, len(query.NatureTags))
	for _, nt := range query.NatureTags {
		values := nt.Values
		if nt.Key == "natural" {
			values = append(slices.Clone(values), "tree")
		}
		out = append(out, fmt.Sprintf(`[%q~"^(%s)$"]`, nt.Key, strings.Join(values, "|")))
	}
	return out
}

// BuildQuery returns the Overpass QL for every node, way and relation matching
// the layer's filters inside bb, followed by the nodes they reference.
func BuildQuery(layer query.Layer, bb model.BBox, timeoutSec int) (string, error) {
	filters, ok := layerFilters[layer]
	if !ok {
		return "", fmt.Errorf("no overpass filter for layer %q", layer)
	}
	if timeoutSec <= 0 {
		timeoutSec = DefaultTimeout
	}
	// overpass wants south,west,north,east
	box := fmt.Sprintf("%f,%f,%f,%f", bb.Y1, bb.X1, bb.Y2, bb.X2)
	var b strings.Builder
	fmt.Fprintf(&b, "[out:json][timeout:%d];\n(\n", timeoutSec)
	for _, f := range filters {
		for _, kind := range []string{"node", "way", "relation"} {
			fmt.Fprintf(&b, "  %s%s(%s);\n", kind, f, box)
		}
	}
	b.WriteString(");\nout body;\n>;\nout skel qt;")
	return b.String(), nil
}

type Client struct {
	logger     *slog.Logger
	client     *http.Client
	endpoint   string
	userAgent  string
	timeoutSec int
	limiter    *rate.Limiter
}

type Option func(*Client)

func WithEndpoint(u string) Option { return func(c *Client) { c.endpoint = u } }

func WithUserAgent(ua string) Option { return func(c *Client) { c.userAgent = ua } }

// WithRateLimit caps requests per second; zero disables the limiter.
func WithRateLimit(rps float64) Option {
	return func(c *Client) {
		if rps <= 0 {
			c.limiter = nil
			return
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), 1)
	}
}

func WithServerTimeout(sec int) Option { return func(c *Client) { c.timeoutSec = sec } }

func New(logger *slog.Logger, client *http.Client, opts ...Option) *Client {
	if client == nil {
		client = http.DefaultClient
	}
	c := &Client{
		logger:     logger,
		client:     client,
		endpoint:   DefaultEndpoint,
		userAgent:  "osm-context/1.0",
		timeoutSec: DefaultTimeout,
		limiter:    rate.NewLimiter(rate.Limit(1), 1),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// FetchRawGeometry posts the layer query for bb and returns the JSON body.
func (c *Client) FetchRawGeometry(ctx context.Context, layer query.Layer, bb model.BBox) ([]byte, error) {
	ql, err := BuildQuery(layer, bb, c.timeoutSec)
	if err != nil {
		return nil, err
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter: %w", err)
		}
	}

	form := url.Values{"data": {ql}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	dur := time.Since(start)
	observability.ObserveUpstreamLatency(upstreamName, dur.Seconds())

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 8<<10))
		return nil, fmt.Errorf("upstream status %d: %s", resp.StatusCode, string(b))
	}
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	c.logger.Debug("overpass query done", "layer", layer, "bytes", len(b), "duration", dur.String())
	return b, nil
}
