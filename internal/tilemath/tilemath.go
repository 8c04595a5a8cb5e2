// Package tilemath converts between geographic coordinates and Web Mercator
// tile pixels (the slippy map scheme).
package tilemath

import (
	"errors"
	"fmt"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"

	"github.com/mohammed-shakir/osm-context/internal/core/model"
)

const (
	TileSize = 256
	MinZoom  = 0
	MaxZoom  = 22

	// MaxLatitude is atan(sinh(pi)) in degrees, the Web Mercator limit.
	MaxLatitude = 85.0511287798066

	earthCircumference = 40075016.685578488
)

var (
	ErrLatitudeOutOfRange = errors.New("latitude outside web mercator range")
	ErrInvalidZoom        = errors.New("invalid zoom level")
)

func validateZoom(zoom int) error {
	if zoom < MinZoom || zoom > MaxZoom {
		return fmt.Errorf("%w: %d (must be %d..%d)", ErrInvalidZoom, zoom, MinZoom, MaxZoom)
	}
	return nil
}

// WorldSize is the pixel width (and height) of the world at zoom.
func WorldSize(zoom int) float64 {
	return TileSize * math.Exp2(float64(zoom))
}

// GeoToPixel maps lat/lon degrees to global pixel coordinates at zoom;
// x grows east, y grows south.
func GeoToPixel(lat, lon float64, zoom int) (orb.Point, error) {
	if err := validateZoom(zoom); err != nil {
		return orb.Point{}, err
	}
	if math.IsNaN(lat) || math.Abs(lat) > MaxLatitude {
		return orb.Point{}, fmt.Errorf("%w: %v", ErrLatitudeOutOfRange, lat)
	}
	if math.IsNaN(lon) || math.IsInf(lon, 0) {
		return orb.Point{}, fmt.Errorf("longitude %v is not finite", lon)
	}
	size := WorldSize(zoom)
	x := (lon + 180) / 360 * size
	phi := lat * math.Pi / 180
	y := (1 - math.Log(math.Tan(phi)+1/math.Cos(phi))/math.Pi) / 2 * size
	return orb.Point{x, y}, nil
}

// PixelToGeo is the inverse of GeoToPixel.
func PixelToGeo(x, y float64, zoom int) (lat, lon float64, err error) {
	if err := validateZoom(zoom); err != nil {
		return 0, 0, err
	}
	size := WorldSize(zoom)
	if math.IsNaN(y) || y < 0 || y > size {
		return 0, 0, fmt.Errorf("%w: pixel row %v outside [0,%v]", ErrLatitudeOutOfRange, y, size)
	}
	if math.IsNaN(x) || math.IsInf(x, 0) {
		return 0, 0, fmt.Errorf("pixel column %v is not finite", x)
	}
	lon = x/size*360 - 180
	lat = math.Atan(math.Sinh(math.Pi*(1-2*y/size))) * 180 / math.Pi
	return lat, lon, nil
}

// MetersPerPixel is the ground resolution at lat for zoom.
func MetersPerPixel(lat float64, zoom int) float64 {
	return earthCircumference * math.Cos(lat*math.Pi/180) / WorldSize(zoom)
}

// PixelBounds maps a geographic box to its global pixel rectangle. Min is
// the north-west corner.
func PixelBounds(bb model.BBox, zoom int) (orb.Bound, error) {
	nw, err := GeoToPixel(bb.Y2, bb.X1, zoom)
	if err != nil {
		return orb.Bound{}, fmt.Errorf("north-west corner: %w", err)
	}
	se, err := GeoToPixel(bb.Y1, bb.X2, zoom)
	if err != nil {
		return orb.Bound{}, fmt.Errorf("south-east corner: %w", err)
	}
	return orb.Bound{Min: nw, Max: se}, nil
}

// Range is an inclusive block of tile indices at one zoom. Columns are
// unwrapped: a range crossing the antimeridian runs past the last column (or
// below 0) and Wrap maps them back onto tile indices.
type Range struct {
	Zoom       int
	MinX, MinY int
	MaxX, MaxY int
}

// TileRange returns the tiles that cover the pixel-mapped box.
func TileRange(bb model.BBox, zoom int) (Range, error) {
	pb, err := PixelBounds(bb, zoom)
	if err != nil {
		return Range{}, err
	}
	n := int(math.Exp2(float64(zoom)))
	r := Range{
		Zoom: zoom,
		MinX: int(math.Floor(pb.Min.X() / TileSize)),
		MinY: clamp(int(math.Floor(pb.Min.Y()/TileSize)), 0, n-1),
		MaxX: int(math.Floor(pb.Max.X() / TileSize)),
		MaxY: clamp(int(math.Floor(pb.Max.Y()/TileSize)), 0, n-1),
	}
	// the pixel edge of a box ending exactly on a tile seam belongs to the
	// previous column
	if r.MaxX > r.MinX && pb.Max.X() == float64(r.MaxX*TileSize) {
		r.MaxX--
	}
	if r.Cols() > n {
		r.MaxX = r.MinX + n - 1
	}
	return r, nil
}

// Wrap maps an unwrapped column onto its tile index.
func (r Range) Wrap(x int) uint32 {
	n := 1 << r.Zoom
	x %= n
	if x < 0 {
		x += n
	}
	return uint32(x)
}

func (r Range) Cols() int { return r.MaxX - r.MinX + 1 }
func (r Range) Rows() int { return r.MaxY - r.MinY + 1 }
func (r Range) Len() int  { return r.Cols() * r.Rows() }

// PixelOrigin is the global pixel of the range's north-west corner.
func (r Range) PixelOrigin() orb.Point {
	return orb.Point{float64(r.MinX * TileSize), float64(r.MinY * TileSize)}
}

// PixelBound is the global pixel rectangle covered by the range.
func (r Range) PixelBound() orb.Bound {
	return orb.Bound{
		Min: r.PixelOrigin(),
		Max: orb.Point{float64((r.MaxX + 1) * TileSize), float64((r.MaxY + 1) * TileSize)},
	}
}

// Tiles lists the range row by row, north to south.
func (r Range) Tiles() []maptile.Tile {
	out := make([]maptile.Tile, 0, r.Len())
	for y := r.MinY; y <= r.MaxY; y++ {
		for x := r.MinX; x <= r.MaxX; x++ {
			out = append(out, maptile.New(r.Wrap(x), uint32(y), maptile.Zoom(r.Zoom)))
		}
	}
	return out
}

const (
	autoZoomMax   = 18
	autoZoomRange = 0.014
)

// AutoZoom picks zoom 18 and steps down one or two levels when the box is
// too wide to fetch at full detail.
func AutoZoom(bb model.BBox) int {
	dLat := bb.Y2 - bb.Y1
	dLon := bb.X2 - bb.X1
	zoom := autoZoomMax
	if dLat > autoZoomRange || dLon > autoZoomRange {
		step := 1
		if dLat/autoZoomRange >= 2 || dLon/autoZoomRange >= 2 {
			step = 2
		}
		zoom -= step
	}
	return zoom
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
