// Package pipeline runs the geometry and basemap builds for one location.
// The two run concurrently and fail independently.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/paulmach/orb"

	"github.com/mohammed-shakir/osm-context/internal/core/model"
	"github.com/mohammed-shakir/osm-context/internal/mosaic"
	"github.com/mohammed-shakir/osm-context/internal/projection"
	"github.com/mohammed-shakir/osm-context/internal/query"
	"github.com/mohammed-shakir/osm-context/internal/transform"
)

type FeatureSource interface {
	Query(ctx context.Context, loc model.Location, radiusMeters float64) (query.Result, error)
}

type BasemapBuilder interface {
	Assemble(ctx context.Context, loc model.Location, radiusMeters float64, zoom int) (*mosaic.Canvas, error)
}

type Request struct {
	Location model.Location
	Radius   float64 // meters
	// UnitScale is meters per model unit; 0 means meters.
	UnitScale   float64
	Zoom        int // mosaic.AutoZoom picks one from the radius
	WithBasemap bool
	// BasemapOnly skips the geometry pipeline.
	BasemapOnly bool
	ScaleBar    bool
}

type Result struct {
	BBox       model.BBox
	Projection projection.Definition
	Features   []model.Feature
	Report     transform.Report
	Skipped    []query.Skipped
	BasePlane  orb.Ring
	FeatureErr error

	Basemap    *mosaic.Canvas
	ScaleBarM  float64
	BasemapErr error
}

// NoFeatures is true when the query succeeded but nothing survived, as
// opposed to the query failing.
func (r Result) NoFeatures() bool {
	return r.FeatureErr == nil && len(r.Features) == 0
}

type Runner struct {
	features FeatureSource
	basemap  BasemapBuilder
	logger   *slog.Logger
}

type Option func(*Runner)

func WithLogger(l *slog.Logger) Option {
	return func(r *Runner) { r.logger = l }
}

// WithBasemapBuilder enables basemap requests. Without one they fail in
// Result.BasemapErr.
func WithBasemapBuilder(b BasemapBuilder) Option {
	return func(r *Runner) { r.basemap = b }
}

func New(features FeatureSource, opts ...Option) *Runner {
	r := &Runner{features: features}
	for _, o := range opts {
		o(r)
	}
	if r.logger == nil {
		r.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return r
}

var errNoBasemap = errors.New("basemap source not configured")

// Run validates req and runs both pipelines. Only request errors (an invalid
// location, radius or scale) are returned; pipeline failures land in
// Result.FeatureErr and Result.BasemapErr.
func (r *Runner) Run(ctx context.Context, req Request) (Result, error) {
	start := time.Now()
	if req.UnitScale == 0 {
		req.UnitScale = 1
	}
	def, err := projection.Build(req.Location)
	if err != nil {
		return Result{}, err
	}
	bb, err := projection.BoundsAround(req.Location, req.Radius)
	if err != nil {
		return Result{}, err
	}
	proj, err := projection.NewProjector(def)
	if err != nil {
		return Result{}, fmt.Errorf("projector: %w", err)
	}
	tr, err := transform.New(proj, req.Location.TrueNorthAngle, req.UnitScale,
		transform.WithRadius(req.Radius), transform.WithLogger(r.logger))
	if err != nil {
		return Result{}, err
	}

	res := Result{BBox: bb, Projection: def}
	var wg sync.WaitGroup

	if !req.BasemapOnly {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.geometry(ctx, req, tr, &res)
		}()
	}

	if req.WithBasemap || req.BasemapOnly {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.basemapBuild(ctx, req, &res)
		}()
	}
	wg.Wait()

	r.logger.InfoContext(ctx, "context built",
		"lat", req.Location.Latitude, "lon", req.Location.Longitude,
		"radius", req.Radius,
		"features", len(res.Features),
		"skipped", len(res.Skipped),
		"feature_err", errString(res.FeatureErr),
		"basemap", res.Basemap != nil,
		"basemap_err", errString(res.BasemapErr),
		"took", time.Since(start))
	return res, nil
}

// geometry and basemapBuild write disjoint fields of res.
func (r *Runner) geometry(ctx context.Context, req Request, tr *transform.Transformer, res *Result) {
	qr, err := r.features.Query(ctx, req.Location, req.Radius)
	if err != nil {
		res.FeatureErr = err
		return
	}
	res.Skipped = qr.Skipped
	res.Features, res.Report = tr.Transform(qr.Features)
	if res.Features == nil {
		res.Features = []model.Feature{}
	}
	plane, err := tr.BasePlane(qr.BBox)
	if err != nil {
		r.logger.WarnContext(ctx, "base plane unavailable", "err", err)
		return
	}
	res.BasePlane = plane
}

func (r *Runner) basemapBuild(ctx context.Context, req Request, res *Result) {
	if r.basemap == nil {
		res.BasemapErr = errNoBasemap
		return
	}
	c, err := r.basemap.Assemble(ctx, req.Location, req.Radius, req.Zoom)
	if err != nil {
		res.BasemapErr = err
		return
	}
	if req.ScaleBar {
		res.ScaleBarM = mosaic.DrawScaleBar(c, req.Radius)
	}
	res.Basemap = c
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
