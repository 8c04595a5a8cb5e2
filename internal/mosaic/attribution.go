package mosaic

import (
	"image"
	"image/color"
	"image/draw"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// DefaultAttribution is the notice the OpenStreetMap tile licence requires.
const DefaultAttribution = "© OpenStreetMap contributors"

const attributionPad = 3

var attributionBackdrop = color.NRGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xcc}

// DrawAttribution writes text in black on a translucent white box in the
// lower-right corner, away from the scale bar. Text wider than the canvas is
// clipped on the left.
func DrawAttribution(c *Canvas, text string) {
	if text == "" || c == nil || c.Image == nil {
		return
	}
	face := basicfont.Face7x13
	d := &font.Drawer{
		Dst:  c.Image,
		Src:  image.NewUniform(color.Black),
		Face: face,
	}
	m := face.Metrics()
	w := d.MeasureString(text).Ceil() + 2*attributionPad
	h := m.Height.Ceil() + 2*attributionPad

	b := c.Image.Bounds()
	box := image.Rect(b.Max.X-w, b.Max.Y-h, b.Max.X, b.Max.Y)
	draw.Draw(c.Image, box.Intersect(b), image.NewUniform(attributionBackdrop), image.Point{}, draw.Over)

	d.Dot = fixed.P(box.Min.X+attributionPad, box.Max.Y-attributionPad-m.Descent.Ceil())
	d.DrawString(text)
}
