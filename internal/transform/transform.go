// Package transform reprojects decoded features into the host model frame:
// local Transverse Mercator meters, rotated to the model's north and divided
// by the model unit scale.
package transform

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"

	"github.com/mohammed-shakir/osm-context/internal/core/model"
	"github.com/mohammed-shakir/osm-context/internal/core/observability"
	"github.com/mohammed-shakir/osm-context/internal/projection"
)

var ErrInvalidScale = errors.New("unit scale must be a positive finite number")

// Report counts what Transform dropped and why.
type Report struct {
	Input         int `json:"input"`
	Kept          int `json:"kept"`
	OutOfDomain   int `json:"out_of_domain"`
	OutsideRadius int `json:"outside_radius"`
}

type Transformer struct {
	proj   *projection.Projector
	angle  float64
	scale  float64
	radius float64
	cos    float64
	sin    float64
	logger *slog.Logger
}

type Option func(*Transformer)

// WithRadius drops features lying entirely outside the circle of r meters.
// Intersecting features are kept whole.
func WithRadius(r float64) Option {
	return func(t *Transformer) { t.radius = r }
}

func WithLogger(l *slog.Logger) Option {
	return func(t *Transformer) { t.logger = l }
}

// New builds a transformer. angleToTrueNorth is in radians; unitScale is the
// number of meters in one model unit (1 for meters, 0.001 for millimeters).
func New(p *projection.Projector, angleToTrueNorth, unitScale float64, opts ...Option) (*Transformer, error) {
	if p == nil {
		return nil, errors.New("transform: nil projector")
	}
	if math.IsNaN(unitScale) || math.IsInf(unitScale, 0) || unitScale <= 0 {
		return nil, fmt.Errorf("%w: %v", ErrInvalidScale, unitScale)
	}
	if math.IsNaN(angleToTrueNorth) || math.IsInf(angleToTrueNorth, 0) {
		return nil, fmt.Errorf("transform: %w: angle %v", model.ErrInvalidLocation, angleToTrueNorth)
	}
	t := &Transformer{
		proj:  p,
		angle: angleToTrueNorth,
		scale: unitScale,
		cos:   math.Cos(angleToTrueNorth),
		sin:   math.Sin(angleToTrueNorth),
	}
	for _, o := range opts {
		o(t)
	}
	if t.logger == nil {
		t.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return t, nil
}

// Point maps one lon/lat vertex into the model frame.
func (t *Transformer) Point(geo orb.Point) (orb.Point, error) {
	x, y, err := t.proj.Forward(geo.Lon(), geo.Lat())
	if err != nil {
		return orb.Point{}, err
	}
	return t.toModel(x, y), nil
}

// toModel rotates planar meters by -angle and converts to model units.
func (t *Transformer) toModel(x, y float64) orb.Point {
	rx := x*t.cos + y*t.sin
	ry := -x*t.sin + y*t.cos
	return orb.Point{rx / t.scale, ry / t.scale}
}

// Inverse maps a model-frame point back to lon/lat.
func (t *Transformer) Inverse(p orb.Point) (orb.Point, error) {
	x := p.X() * t.scale
	y := p.Y() * t.scale
	mx := x*t.cos - y*t.sin
	my := x*t.sin + y*t.cos
	return t.proj.InversePoint(orb.Point{mx, my})
}

// Transform returns new features with coordinates replaced by model-frame
// values. Features with any vertex outside the projection domain are dropped
// with a warning; the input slice is not modified.
func (t *Transformer) Transform(features []model.Feature) ([]model.Feature, Report) {
	rep := Report{Input: len(features)}
	out := make([]model.Feature, 0, len(features))
	for _, f := range features {
		tf, err := t.feature(f)
		if err != nil {
			rep.OutOfDomain++
			observability.IncFeatureDropped(f.Kind.String(), "out_of_domain")
			t.logger.Warn("dropping feature outside projection domain",
				"id", f.ID, "kind", f.Kind.String(), "err", err)
			continue
		}
		if t.radius > 0 && !t.intersectsCircle(tf) {
			rep.OutsideRadius++
			observability.IncFeatureDropped(f.Kind.String(), "outside_radius")
			continue
		}
		out = append(out, tf)
	}
	rep.Kept = len(out)
	return out, rep
}

func (t *Transformer) feature(f model.Feature) (model.Feature, error) {
	out := f.Clone()
	switch f.Kind {
	case model.KindBuilding:
		if err := t.ring(out.Footprint); err != nil {
			return model.Feature{}, fmt.Errorf("footprint: %w", err)
		}
		for i := range out.Holes {
			if err := t.ring(out.Holes[i]); err != nil {
				return model.Feature{}, fmt.Errorf("hole %d: %w", i, err)
			}
		}
		// resolved in meters, then stored in model units
		h := out.EffectiveHeight() / t.scale
		out.Height = &h
	case model.KindNature:
		if err := t.ring(out.Footprint); err != nil {
			return model.Feature{}, fmt.Errorf("footprint: %w", err)
		}
		for i := range out.Holes {
			if err := t.ring(out.Holes[i]); err != nil {
				return model.Feature{}, fmt.Errorf("hole %d: %w", i, err)
			}
		}
	case model.KindRoad:
		if err := t.ring(orb.Ring(out.Line)); err != nil {
			return model.Feature{}, fmt.Errorf("line: %w", err)
		}
	case model.KindTree:
		if out.Position == nil {
			return model.Feature{}, errors.New("tree without position")
		}
		p, err := t.Point(*out.Position)
		if err != nil {
			return model.Feature{}, fmt.Errorf("position: %w", err)
		}
		out.Position = &p
		if out.Height != nil {
			h := *out.Height / t.scale
			out.Height = &h
		}
	}
	return out, nil
}

// ring rewrites pts in place; callers pass cloned slices.
func (t *Transformer) ring(pts []orb.Point) error {
	for i, p := range pts {
		mp, err := t.Point(p)
		if err != nil {
			return fmt.Errorf("vertex %d: %w", i, err)
		}
		pts[i] = mp
	}
	return nil
}

// intersectsCircle reports whether a model-frame feature touches the query
// circle centered at the origin.
func (t *Transformer) intersectsCircle(f model.Feature) bool {
	r := t.radius / t.scale
	switch f.Kind {
	case model.KindBuilding, model.KindNature:
		if planar.RingContains(f.Footprint, orb.Point{0, 0}) {
			return true
		}
		return pathNear(f.Footprint, r, true)
	case model.KindRoad:
		return pathNear(f.Line, r, false)
	case model.KindTree:
		return f.Position != nil && math.Hypot(f.Position.X(), f.Position.Y()) <= r
	}
	return false
}

// pathNear reports whether any segment of pts comes within r of the origin.
func pathNear(pts []orb.Point, r float64, closed bool) bool {
	if len(pts) == 0 {
		return false
	}
	if len(pts) == 1 {
		return math.Hypot(pts[0].X(), pts[0].Y()) <= r
	}
	n := len(pts) - 1
	if closed {
		n = len(pts)
	}
	for i := 0; i < n; i++ {
		a := pts[i]
		b := pts[(i+1)%len(pts)]
		if segmentDistanceToOrigin(a, b) <= r {
			return true
		}
	}
	return false
}

func segmentDistanceToOrigin(a, b orb.Point) float64 {
	dx, dy := b.X()-a.X(), b.Y()-a.Y()
	l2 := dx*dx + dy*dy
	if l2 == 0 {
		return math.Hypot(a.X(), a.Y())
	}
	u := -(a.X()*dx + a.Y()*dy) / l2
	u = math.Max(0, math.Min(1, u))
	return math.Hypot(a.X()+u*dx, a.Y()+u*dy)
}

// BasePlane returns the model-frame corners (counter-clockwise from the
// south-west) of the geographic query box.
func (t *Transformer) BasePlane(bb model.BBox) (orb.Ring, error) {
	corners := []orb.Point{
		{bb.X1, bb.Y1}, {bb.X2, bb.Y1}, {bb.X2, bb.Y2}, {bb.X1, bb.Y2},
	}
	out := make(orb.Ring, 0, len(corners))
	for _, c := range corners {
		p, err := t.Point(c)
		if err != nil {
			return nil, fmt.Errorf("base plane corner %v: %w", c, err)
		}
		out = append(out, p)
	}
	return out, nil
}
