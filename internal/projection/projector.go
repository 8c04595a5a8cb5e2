package projection

import (
	"errors"
	"fmt"
	"math"

	"github.com/ctessum/geom/proj"
	"github.com/paulmach/orb"
)

// ErrOutOfDomain marks a coordinate the Transverse Mercator formulas cannot
// represent with acceptable accuracy.
var ErrOutOfDomain = errors.New("coordinate outside projection domain")

// MaxMeridianOffset is the largest longitude distance (degrees) from the
// central meridian accepted by Forward.
const MaxMeridianOffset = 45.0

const wgs84LongLat = "+proj=longlat +ellps=WGS84 +datum=WGS84 +no_defs"

// Projector converts between geographic degrees and local projected meters.
type Projector struct {
	def    Definition
	fwd    proj.Transformer
	inv    proj.Transformer
	x0, y0 float64
}

func NewProjector(def Definition) (*Projector, error) {
	src, err := proj.Parse(wgs84LongLat)
	if err != nil {
		return nil, fmt.Errorf("parse geographic sr: %w", err)
	}
	dst, err := proj.Parse(def.Proj4())
	if err != nil {
		return nil, fmt.Errorf("parse tmerc sr: %w", err)
	}
	fwd, err := src.NewTransform(dst)
	if err != nil {
		return nil, fmt.Errorf("forward transform: %w", err)
	}
	inv, err := dst.NewTransform(src)
	if err != nil {
		return nil, fmt.Errorf("inverse transform: %w", err)
	}

	p := &Projector{def: def, fwd: fwd, inv: inv}

	// pin the origin so the anchor lands on (0,0) bit-exactly
	x0, y0, err := fwd(def.CenterLongitude, def.CenterLatitude)
	if err != nil {
		return nil, fmt.Errorf("project origin: %w", err)
	}
	if !finite(x0) || !finite(y0) {
		return nil, fmt.Errorf("project origin: %w", ErrOutOfDomain)
	}
	p.x0, p.y0 = x0, y0
	return p, nil
}

func (p *Projector) Definition() Definition { return p.def }

// Forward projects lon/lat degrees to local meters (x east, y north).
func (p *Projector) Forward(lon, lat float64) (float64, float64, error) {
	if !finite(lon) || !finite(lat) || lat < -90 || lat > 90 {
		return 0, 0, fmt.Errorf("%w: (%v,%v)", ErrOutOfDomain, lon, lat)
	}
	if d := math.Abs(meridianOffset(lon, p.def.CenterLongitude)); d > MaxMeridianOffset {
		return 0, 0, fmt.Errorf("%w: %.3f deg from central meridian", ErrOutOfDomain, d)
	}
	x, y, err := p.fwd(lon, lat)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %w", ErrOutOfDomain, err)
	}
	if !finite(x) || !finite(y) {
		return 0, 0, fmt.Errorf("%w: (%v,%v) projects to non-finite value", ErrOutOfDomain, lon, lat)
	}
	return x - p.x0, y - p.y0, nil
}

// Inverse maps local meters back to lon/lat degrees.
func (p *Projector) Inverse(x, y float64) (float64, float64, error) {
	if !finite(x) || !finite(y) {
		return 0, 0, fmt.Errorf("%w: non-finite planar value", ErrOutOfDomain)
	}
	lon, lat, err := p.inv(x+p.x0, y+p.y0)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %w", ErrOutOfDomain, err)
	}
	return lon, lat, nil
}

// ForwardPoint is Forward for orb points (x=lon, y=lat).
func (p *Projector) ForwardPoint(pt orb.Point) (orb.Point, error) {
	x, y, err := p.Forward(pt.Lon(), pt.Lat())
	if err != nil {
		return orb.Point{}, err
	}
	return orb.Point{x, y}, nil
}

func (p *Projector) InversePoint(pt orb.Point) (orb.Point, error) {
	lon, lat, err := p.Inverse(pt.X(), pt.Y())
	if err != nil {
		return orb.Point{}, err
	}
	return orb.Point{lon, lat}, nil
}

// meridianOffset returns lon-center normalised to [-180,180).
func meridianOffset(lon, center float64) float64 {
	d := math.Mod(lon-center+180, 360)
	if d < 0 {
		d += 360
	}
	return d - 180
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
