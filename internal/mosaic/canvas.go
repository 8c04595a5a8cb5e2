package mosaic

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"io"
	"math"

	"github.com/paulmach/orb"

	"github.com/mohammed-shakir/osm-context/internal/core/model"
	"github.com/mohammed-shakir/osm-context/internal/tilemath"
)

// Canvas is an assembled basemap cropped to the query box.
type Canvas struct {
	Image  *image.RGBA
	BBox   model.BBox
	Zoom   int
	Origin image.Point // global pixel of the top-left corner
	Report Report
}

func (c *Canvas) Width() int  { return c.Image.Bounds().Dx() }
func (c *Canvas) Height() int { return c.Image.Bounds().Dy() }

// GeoToCanvas maps lat/lon to canvas pixel coordinates. The longitude is
// taken on the side of ±180 nearest the canvas center. Points outside the
// canvas are returned as-is (possibly negative).
func (c *Canvas) GeoToCanvas(lat, lon float64) (orb.Point, error) {
	if mid := (c.BBox.X1 + c.BBox.X2) / 2; !math.IsInf(lon, 0) && !math.IsNaN(lon) {
		for lon-mid > 180 {
			lon -= 360
		}
		for lon-mid < -180 {
			lon += 360
		}
	}
	p, err := tilemath.GeoToPixel(lat, lon, c.Zoom)
	if err != nil {
		return orb.Point{}, err
	}
	return orb.Point{p.X() - float64(c.Origin.X), p.Y() - float64(c.Origin.Y)}, nil
}

// CanvasToGeo is the inverse of GeoToCanvas; longitudes come back in
// [-180, 180).
func (c *Canvas) CanvasToGeo(x, y float64) (lat, lon float64, err error) {
	lat, lon, err = tilemath.PixelToGeo(x+float64(c.Origin.X), y+float64(c.Origin.Y), c.Zoom)
	if err != nil {
		return 0, 0, err
	}
	return lat, math.Mod(math.Mod(lon+180, 360)+360, 360) - 180, nil
}

// MetersPerPixel is the ground resolution at the canvas center.
func (c *Canvas) MetersPerPixel() float64 {
	return tilemath.MetersPerPixel(c.BBox.Center().Lat(), c.Zoom)
}

func (c *Canvas) EncodePNG(w io.Writer) error {
	if err := png.Encode(w, c.Image); err != nil {
		return fmt.Errorf("encode png: %w", err)
	}
	return nil
}

// ScaleLength picks the scale bar length for a query radius: whole hundreds
// of meters, else tens, else one meter.
func ScaleLength(radiusMeters float64) float64 {
	if m := math.Floor(radiusMeters/200) * 100; m > 0 {
		return m
	}
	if m := math.Floor(radiusMeters/20) * 10; m > 0 {
		return m
	}
	return 1
}

const scaleMarginDiv = 100

// DrawScaleBar paints a black bar with end ticks in the lower-left corner and
// returns its length in meters.
func DrawScaleBar(c *Canvas, radiusMeters float64) float64 {
	meters := ScaleLength(radiusMeters)
	mpp := c.MetersPerPixel()
	if mpp <= 0 || math.IsNaN(mpp) {
		return 0
	}
	size := c.Width()
	rows := c.Height()

	lineW := max(2, size/scaleMarginDiv/5)
	margin := max(2, size/scaleMarginDiv)
	tickH := max(4, 2*size/scaleMarginDiv)
	tickH = min(tickH, 30)

	start := margin
	end := min(start+int(math.Round(meters/mpp)), size-1)
	barBottom := rows - margin
	barTop := barBottom - lineW

	black := image.NewUniform(color.RGBA{A: 0xff})
	bar := image.Rect(start, barTop, end, barBottom)
	leftTick := image.Rect(start, barTop-tickH, start+lineW, barTop)
	rightTick := image.Rect(end-lineW, barTop-tickH, end, barTop)
	for _, r := range []image.Rectangle{bar, leftTick, rightTick} {
		draw.Draw(c.Image, r.Intersect(c.Image.Bounds()), black, image.Point{}, draw.Src)
	}
	return meters
}
