// Package wfs fetches raw building, road and nature geometry from an OGC WFS endpoint
// (GeoServer) as GeoJSON.
package wfs

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/mohammed-shakir/osm-context/internal/core/model"
	"github.com/mohammed-shakir/osm-context/internal/core/observability"
	"github.com/mohammed-shakir/osm-context/internal/query"
)

const upstreamName = "geoserver"

// DefaultTypeNames maps each layer to the feature type published by the
// OSM import.
var DefaultTypeNames = map[query.Layer]string{
	query.LayerBuildings: "osm:buildings",
	query.LayerRoads:     "osm:roads",
	query.LayerNature:    "osm:nature",
}

type Client struct {
	logger    *slog.Logger
	client    *http.Client
	owsURL    *url.URL
	typeNames map[query.Layer]string
	geomField string
	clipArea  bool
	startNow  func() time.Time // for tests
}

type Option func(*Client)

func WithTypeName(layer query.Layer, typeName string) Option {
	return func(c *Client) { c.typeNames[layer] = typeName }
}

func WithGeomField(name string) Option {
	return func(c *Client) { c.geomField = name }
}

// WithAreaFilter replaces the bbox with an INTERSECTS filter on the ellipse
// inscribed in it.
func WithAreaFilter(on bool) Option {
	return func(c *Client) { c.clipArea = on }
}

func New(logger *slog.Logger, client *http.Client, ows string, opts ...Option) (*Client, error) {
	u, err := url.Parse(ows)
	if err != nil {
		return nil, fmt.Errorf("parse ows url: %w", err)
	}
	if client == nil {
		client = http.DefaultClient
	}
	c := &Client{
		logger:    logger,
		client:    client,
		owsURL:    u,
		typeNames: map[query.Layer]string{},
		startNow:  time.Now,
	}
	for l, tn := range DefaultTypeNames {
		c.typeNames[l] = tn
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

func (c *Client) request(layer query.Layer, bb model.BBox) (Request, error) {
	tn, ok := c.typeNames[layer]
	if !ok || tn == "" {
		return Request{}, fmt.Errorf("no feature type for layer %q", layer)
	}
	r := Request{TypeName: tn, BBox: bb, GeomField: c.geomField}
	if c.clipArea {
		r.Area = EllipseArea(bb, 32)
	}
	return r, nil
}

// FetchRawGeometry runs one GetFeature for layer inside bb and returns the
// GeoJSON body.
func (c *Client) FetchRawGeometry(ctx context.Context, layer query.Layer, bb model.BBox) ([]byte, error) {
	q, err := c.request(layer, bb)
	if err != nil {
		return nil, err
	}
	params := BuildGetFeatureParams(q)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.owsURL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	u := *c.owsURL
	u.RawQuery = params.Encode()
	req.URL = &u
	req.Host = c.owsURL.Host
	req.Header.Set("Accept", "application/json")

	start := c.startNow()
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
	c.logger.Debug("wfs GetFeature done",
		"layer", layer, "type_name", q.TypeName,
		"bytes", len(b), "duration", dur.String())
	return b, nil
}
