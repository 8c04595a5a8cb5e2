package projection

import (
	"errors"
	"fmt"
	"math"

	"github.com/paulmach/orb"

	"github.com/mohammed-shakir/osm-context/internal/core/model"
)

var ErrInvalidRadius = errors.New("invalid radius")

// CoverMargin widens the square circumscribing the query circle so the
// geographic box over-covers it after inverse projection.
const CoverMargin = 1.02

// BoundsAround returns a geographic box that fully contains the circle of
// radiusMeters around loc. The local square is sampled at its corners and
// edge midpoints and mapped back to degrees.
//
// Longitudes stay continuous around the center: near the antimeridian one
// edge lies beyond ±180 (for example 179.99..180.004). Callers that need
// plain longitudes use BBox.Split.
func BoundsAround(loc model.Location, radiusMeters float64) (model.BBox, error) {
	if !finite(radiusMeters) || radiusMeters <= 0 {
		return model.BBox{}, fmt.Errorf("%w: %v", ErrInvalidRadius, radiusMeters)
	}
	def, err := Build(loc)
	if err != nil {
		return model.BBox{}, err
	}
	p, err := NewProjector(def)
	if err != nil {
		return model.BBox{}, err
	}
	return p.BoundsAround(radiusMeters)
}

func (p *Projector) BoundsAround(radiusMeters float64) (model.BBox, error) {
	if !finite(radiusMeters) || radiusMeters <= 0 {
		return model.BBox{}, fmt.Errorf("%w: %v", ErrInvalidRadius, radiusMeters)
	}
	r := radiusMeters * CoverMargin
	samples := []orb.Point{
		{-r, -r}, {0, -r}, {r, -r},
		{-r, 0}, {r, 0},
		{-r, r}, {0, r}, {r, r},
	}
	bound := orb.Bound{
		Min: orb.Point{p.def.CenterLongitude, p.def.CenterLatitude},
		Max: orb.Point{p.def.CenterLongitude, p.def.CenterLatitude},
	}
	for _, s := range samples {
		g, err := p.InversePoint(s)
		if err != nil {
			return model.BBox{}, fmt.Errorf("bounds sample %v: %w", s, err)
		}
		g[0] = p.def.CenterLongitude + meridianOffset(g[0], p.def.CenterLongitude)
		bound = bound.Extend(g)
	}
	bound.Min[1] = math.Max(bound.Min[1], -90)
	bound.Max[1] = math.Min(bound.Max[1], 90)
	return model.BBoxFromBound(bound), nil
}
