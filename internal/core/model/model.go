// Package model defines core domain types shared across the service.
package model

import (
	"errors"
	"fmt"
	"math"

	"github.com/paulmach/orb"
)

// ErrInvalidLocation marks a location that cannot anchor a context run.
var ErrInvalidLocation = errors.New("invalid location")

// Location is the georeferenced anchor of the host model.
type Location struct {
	Latitude       float64 `json:"lat"`
	Longitude      float64 `json:"lon"`
	TrueNorthAngle float64 `json:"angle"` // radians
}

func (l Location) Validate() error {
	if !isFinite(l.Latitude) || !isFinite(l.Longitude) || !isFinite(l.TrueNorthAngle) {
		return fmt.Errorf("%w: non-finite coordinate or angle", ErrInvalidLocation)
	}
	if l.Latitude < -90 || l.Latitude > 90 {
		return fmt.Errorf("%w: latitude %v not in [-90,90]", ErrInvalidLocation, l.Latitude)
	}
	if l.Longitude < -180 || l.Longitude > 180 {
		return fmt.Errorf("%w: longitude %v not in [-180,180]", ErrInvalidLocation, l.Longitude)
	}
	return nil
}

// Point returns the location as an orb point (lon, lat).
func (l Location) Point() orb.Point {
	return orb.Point{l.Longitude, l.Latitude}
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

type BBox struct {
	X1, Y1 float64
	X2, Y2 float64
	SRID   string
}

// String representation matching wfs/wms bbox format
func (b BBox) String() string {
	return fmt.Sprintf("%.6f,%.6f,%.6f,%.6f,%s", b.X1, b.Y1, b.X2, b.Y2, b.SRID)
}

func (b BBox) Bound() orb.Bound {
	return orb.Bound{Min: orb.Point{b.X1, b.Y1}, Max: orb.Point{b.X2, b.Y2}}
}

func (b BBox) Center() orb.Point {
	return orb.Point{(b.X1 + b.X2) / 2, (b.Y1 + b.Y2) / 2}
}

// Contains reports whether lon/lat lies in the box. Boxes crossing the
// antimeridian carry one longitude edge outside [-180,180].
func (b BBox) Contains(lon, lat float64) bool {
	if lat < b.Y1 || lat > b.Y2 {
		return false
	}
	for _, l := range []float64{lon, lon - 360, lon + 360} {
		if l >= b.X1 && l <= b.X2 {
			return true
		}
	}
	return false
}

// CrossesAntimeridian reports whether one edge lies beyond ±180.
func (b BBox) CrossesAntimeridian() bool {
	return b.X1 < -180 || b.X2 > 180
}

// Split returns the box cut at the antimeridian into parts whose longitudes
// all lie in [-180,180]. A box that does not cross is returned alone.
func (b BBox) Split() []BBox {
	west, east := b, b
	switch {
	case b.X2 > 180:
		west.X2 = 180
		east.X1, east.X2 = -180, b.X2-360
	case b.X1 < -180:
		west.X1 = b.X1 + 360
		west.X2 = 180
		east.X1 = -180
	default:
		return []BBox{b}
	}
	return []BBox{west, east}
}

func BBoxFromBound(bd orb.Bound) BBox {
	return BBox{X1: bd.Min.X(), Y1: bd.Min.Y(), X2: bd.Max.X(), Y2: bd.Max.Y(), SRID: "EPSG:4326"}
}

type Cells []string
