// Package query fetches raw building, road and nature geometry for the area
// around a location and decodes it into typed features.
package query

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mohammed-shakir/osm-context/internal/core/model"
	"github.com/mohammed-shakir/osm-context/internal/core/observability"
	"github.com/mohammed-shakir/osm-context/internal/projection"
)

var (
	// ErrFeatureDecode marks a single malformed record; the rest of the
	// payload is still decoded.
	ErrFeatureDecode = errors.New("feature decode")
	// ErrFetch marks a failed geometry request for a whole layer.
	ErrFetch = errors.New("geometry fetch")
	// ErrPayload marks a response body that could not be parsed at all.
	ErrPayload = errors.New("unparseable geometry payload")
)

type Layer string

const (
	LayerBuildings Layer = "buildings"
	LayerRoads     Layer = "roads"
	// LayerNature holds green areas and single trees.
	LayerNature Layer = "nature"
)

// ParseLayers reads a comma separated layer list such as "buildings,roads".
func ParseLayers(s string) ([]Layer, error) {
	var out []Layer
	for _, part := range strings.Split(s, ",") {
		l := Layer(strings.TrimSpace(part))
		switch l {
		case "":
			continue
		case LayerBuildings, LayerRoads, LayerNature:
			if !slices.Contains(out, l) {
				out = append(out, l)
			}
		default:
			return nil, fmt.Errorf("unknown layer %q", l)
		}
	}
	if len(out) == 0 {
		return nil, errors.New("no layers")
	}
	return out, nil
}

func (l Layer) Kind() model.Kind {
	switch l {
	case LayerRoads:
		return model.KindRoad
	case LayerNature:
		return model.KindNature
	}
	return model.KindBuilding
}

// RawGeometryFetcher returns the provider payload for one layer inside bbox.
type RawGeometryFetcher interface {
	FetchRawGeometry(ctx context.Context, layer Layer, bbox model.BBox) ([]byte, error)
}

type Decoder interface {
	Decode(layer Layer, payload []byte) ([]model.Feature, DecodeReport, error)
}

// Skipped describes one record left out of the decoded result.
type Skipped struct {
	Layer Layer  `json:"layer"`
	ID    string `json:"id,omitempty"`
	Err   error  `json:"-"`
	Msg   string `json:"error"`
}

type DecodeReport struct {
	Decoded int       `json:"decoded"`
	Skipped []Skipped `json:"skipped,omitempty"`
}

func (r *DecodeReport) skip(layer Layer, id string, err error) {
	if !errors.Is(err, ErrFeatureDecode) {
		err = fmt.Errorf("%w: %w", ErrFeatureDecode, err)
	}
	r.Skipped = append(r.Skipped, Skipped{Layer: layer, ID: id, Err: err, Msg: err.Error()})
	observability.IncFeatureSkipped(string(layer))
}

type Result struct {
	Features []model.Feature `json:"features"`
	BBox     model.BBox      `json:"bbox"`
	Skipped  []Skipped       `json:"skipped,omitempty"`
}

type Adapter struct {
	fetcher RawGeometryFetcher
	decoder Decoder
	layers  []Layer
	logger  *slog.Logger
}

type AdapterOption func(*Adapter)

func WithLayers(layers ...Layer) AdapterOption {
	return func(a *Adapter) { a.layers = layers }
}

func WithLogger(l *slog.Logger) AdapterOption {
	return func(a *Adapter) { a.logger = l }
}

func NewAdapter(f RawGeometryFetcher, d Decoder, opts ...AdapterOption) *Adapter {
	a := &Adapter{
		fetcher: f,
		decoder: d,
		layers:  []Layer{LayerBuildings, LayerRoads},
	}
	for _, o := range opts {
		o(a)
	}
	if a.logger == nil {
		a.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return a
}

// Query fetches and decodes every configured layer for the circle of
// radiusMeters around loc. An area with no features yields an empty result
// and a nil error.
func (a *Adapter) Query(ctx context.Context, loc model.Location, radiusMeters float64) (Result, error) {
	bb, err := projection.BoundsAround(loc, radiusMeters)
	if err != nil {
		return Result{}, err
	}

	type layerOut struct {
		features []model.Feature
		report   DecodeReport
	}
	outs := make([]layerOut, len(a.layers))

	parts := bb.Split()
	g, gctx := errgroup.WithContext(ctx)
	for i, layer := range a.layers {
		g.Go(func() error {
			start := time.Now()
			var (
				features []model.Feature
				rep      DecodeReport
				size     int
			)
			for _, part := range parts {
				payload, err := a.fetcher.FetchRawGeometry(gctx, layer, part)
				if err != nil {
					return fmt.Errorf("%w: layer %s: %w", ErrFetch, layer, err)
				}
				fs, r, err := a.decoder.Decode(layer, payload)
				if err != nil {
					return fmt.Errorf("%w: layer %s: %w", ErrFetch, layer, err)
				}
				features = append(features, fs...)
				rep.Decoded += r.Decoded
				rep.Skipped = append(rep.Skipped, r.Skipped...)
				size += len(payload)
			}
			if len(parts) > 1 {
				features = dedupeFeatures(features)
			}
			a.logger.DebugContext(gctx, "layer decoded",
				"layer", string(layer),
				"parts", len(parts),
				"features", len(features),
				"skipped", len(rep.Skipped),
				"bytes", size,
				"took", time.Since(start))
			outs[i] = layerOut{features: features, report: rep}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Result{BBox: bb}, err
	}

	res := Result{BBox: bb, Features: []model.Feature{}}
	for _, o := range outs {
		res.Features = append(res.Features, o.features...)
		res.Skipped = append(res.Skipped, o.report.Skipped...)
	}
	for _, s := range res.Skipped {
		a.logger.WarnContext(ctx, "feature skipped", "layer", string(s.Layer), "id", s.ID, "err", s.Err)
	}
	return res, nil
}

// dedupeFeatures drops repeats of a feature returned by both halves of a box
// split at the antimeridian. Features without an ID are kept.
func dedupeFeatures(fs []model.Feature) []model.Feature {
	seen := make(map[string]struct{}, len(fs))
	out := fs[:0]
	for _, f := range fs {
		if f.ID != "" {
			k := f.Kind.String() + "/" + f.ID
			if _, ok := seen[k]; ok {
				continue
			}
			seen[k] = struct{}{}
		}
		out = append(out, f)
	}
	return out
}
