// Package mosaic stitches slippy-map tiles into one basemap image covering the
// query area.
package mosaic

import (
	"bytes"
	"cmp"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	_ "image/jpeg" // tile decoders
	_ "image/png"
	"io"
	"log/slog"
	"math"
	"slices"
	"sync"
	"time"

	"github.com/paulmach/orb/maptile"
	xdraw "golang.org/x/image/draw"

	"github.com/mohammed-shakir/osm-context/internal/core/model"
	"github.com/mohammed-shakir/osm-context/internal/core/observability"
	"github.com/mohammed-shakir/osm-context/internal/projection"
	"github.com/mohammed-shakir/osm-context/internal/tilemath"
)

// ErrTileNotFound is returned by a TileFetcher when the source has no image
// for the requested tile.
var ErrTileNotFound = errors.New("tile not found")

// ErrTooManyTiles rejects a box whose covering range exceeds the tile budget.
var ErrTooManyTiles = errors.New("basemap needs too many tiles")

// AutoZoom asks Assemble to pick the zoom from the query box.
const AutoZoom = -1

const (
	DefaultMaxInFlight = 8
	DefaultTileTimeout = 10 * time.Second
	DefaultMaxTiles    = 400
)

// DefaultPlaceholder is the light grey used where a tile could not be drawn.
var DefaultPlaceholder = color.RGBA{R: 0xdd, G: 0xdd, B: 0xdd, A: 0xff}

type TileFetcher interface {
	FetchTileImage(ctx context.Context, t maptile.Tile) ([]byte, error)
}

// Report accounts for every tile in the covering range.
type Report struct {
	Tiles        int            `json:"tiles"`
	Drawn        int            `json:"drawn"`
	Placeholders int            `json:"placeholders"`
	NotFound     int            `json:"not_found"`
	Timeouts     int            `json:"timeouts"`
	Errors       int            `json:"errors"`
	DecodeErrors int            `json:"decode_errors"`
	Missing      []maptile.Tile `json:"-"`
}

type Assembler struct {
	fetcher     TileFetcher
	maxInFlight int
	tileTimeout time.Duration
	maxTiles    int
	placeholder color.RGBA
	attribution string
	logger      *slog.Logger
}

type Option func(*Assembler)

func WithMaxInFlight(n int) Option {
	return func(a *Assembler) {
		if n > 0 {
			a.maxInFlight = n
		}
	}
}

func WithTileTimeout(d time.Duration) Option {
	return func(a *Assembler) {
		if d > 0 {
			a.tileTimeout = d
		}
	}
}

// WithMaxTiles bounds the covering range of one build.
func WithMaxTiles(n int) Option {
	return func(a *Assembler) {
		if n > 0 {
			a.maxTiles = n
		}
	}
}

// WithAttribution stamps text onto every assembled canvas; empty disables it.
func WithAttribution(text string) Option {
	return func(a *Assembler) { a.attribution = text }
}

func WithPlaceholder(c color.RGBA) Option {
	return func(a *Assembler) { a.placeholder = c }
}

func WithLogger(l *slog.Logger) Option {
	return func(a *Assembler) { a.logger = l }
}

func NewAssembler(f TileFetcher, opts ...Option) *Assembler {
	a := &Assembler{
		fetcher:     f,
		maxInFlight: DefaultMaxInFlight,
		tileTimeout: DefaultTileTimeout,
		maxTiles:    DefaultMaxTiles,
		placeholder: DefaultPlaceholder,
	}
	for _, o := range opts {
		o(a)
	}
	if a.logger == nil {
		a.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return a
}

// Assemble builds the basemap for the circle of radiusMeters around loc. The
// box is the same over-covering box the feature query uses.
func (a *Assembler) Assemble(ctx context.Context, loc model.Location, radiusMeters float64, zoom int) (*Canvas, error) {
	bb, err := projection.BoundsAround(loc, radiusMeters)
	if err != nil {
		return nil, err
	}
	return a.AssembleBBox(ctx, bb, zoom)
}

type tileResult struct {
	tile    maptile.Tile
	img     image.Image
	outcome string
	err     error
}

// AssembleBBox builds the basemap for an explicit geographic box. Individual
// tile failures become placeholder fills; an unmappable box, a range over
// the tile budget or a cancelled context fail the build. A box running past
// ±180 yields one continuous canvas with the wrapped tiles pasted east of the
// seam.
func (a *Assembler) AssembleBBox(ctx context.Context, bb model.BBox, zoom int) (*Canvas, error) {
	start := time.Now()
	if zoom == AutoZoom {
		zoom = tilemath.AutoZoom(bb)
	}
	pb, err := tilemath.PixelBounds(bb, zoom)
	if err != nil {
		return nil, err
	}
	rng, err := tilemath.TileRange(bb, zoom)
	if err != nil {
		return nil, err
	}
	if rng.Len() > a.maxTiles {
		return nil, fmt.Errorf("%w: %d at zoom %d (limit %d)", ErrTooManyTiles, rng.Len(), zoom, a.maxTiles)
	}

	x0 := int(math.Floor(pb.Min.X()))
	y0 := int(math.Floor(pb.Min.Y()))
	x1 := max(int(math.Ceil(pb.Max.X())), x0+1)
	y1 := max(int(math.Ceil(pb.Max.Y())), y0+1)

	c := &Canvas{
		Image:  image.NewRGBA(image.Rect(0, 0, x1-x0, y1-y0)),
		BBox:   bb,
		Zoom:   zoom,
		Origin: image.Point{X: x0, Y: y0},
	}

	tiles, cols := placements(rng)
	c.Report.Tiles = len(tiles)

	jobs := make(chan maptile.Tile)
	results := make(chan tileResult, len(tiles))

	workerN := min(a.maxInFlight, len(tiles))
	var wg sync.WaitGroup
	wg.Add(workerN)
	for range workerN {
		go func() {
			defer wg.Done()
			for t := range jobs {
				results <- a.fetchOne(ctx, t)
			}
		}()
	}

dispatch:
	for _, t := range tiles {
		select {
		case jobs <- t:
		case <-ctx.Done():
			break dispatch
		}
	}
	close(jobs)
	wg.Wait()
	close(results)

	// tiles already in flight fail with the caller's error; the canvas is
	// discarded rather than filled with placeholders
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("assemble basemap: %w", err)
	}

	for r := range results {
		a.paste(c, r, cols[r.tile])
	}
	slices.SortFunc(c.Report.Missing, func(p, q maptile.Tile) int {
		if p.Y != q.Y {
			return cmp.Compare(p.Y, q.Y)
		}
		return cmp.Compare(p.X, q.X)
	})
	if a.attribution != "" {
		DrawAttribution(c, a.attribution)
	}

	observability.ObserveMosaic(time.Since(start).Seconds())
	a.logger.DebugContext(ctx, "basemap assembled",
		"zoom", zoom,
		"tiles", c.Report.Tiles,
		"placeholders", c.Report.Placeholders,
		"width", c.Width(), "height", c.Height(),
		"took", time.Since(start))
	return c, nil
}

func (a *Assembler) fetchOne(ctx context.Context, t maptile.Tile) tileResult {
	tctx, cancel := context.WithTimeout(ctx, a.tileTimeout)
	defer cancel()

	data, err := a.fetcher.FetchTileImage(tctx, t)
	switch {
	case err == nil:
	case errors.Is(err, ErrTileNotFound):
		return tileResult{tile: t, outcome: observability.TileNotFound, err: err}
	case errors.Is(err, context.DeadlineExceeded):
		return tileResult{tile: t, outcome: observability.TileTimeout, err: err}
	default:
		return tileResult{tile: t, outcome: observability.TileError, err: err}
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return tileResult{tile: t, outcome: observability.TileDecodeError, err: fmt.Errorf("decode tile: %w", err)}
	}
	return tileResult{tile: t, img: img, outcome: observability.TileOK}
}

// paste draws one tile result (or its placeholder) at each unwrapped column
// it occupies on the canvas.
func (a *Assembler) paste(c *Canvas, r tileResult, cols []int) {
	observability.IncTileFetch(r.outcome)
	y := int(r.tile.Y)*tilemath.TileSize - c.Origin.Y
	for _, col := range cols {
		x := col*tilemath.TileSize - c.Origin.X
		dst := image.Rect(x, y, x+tilemath.TileSize, y+tilemath.TileSize)
		switch {
		case r.img == nil:
			draw.Draw(c.Image, dst, image.NewUniform(a.placeholder), image.Point{}, draw.Src)
		case r.img.Bounds().Dx() != tilemath.TileSize || r.img.Bounds().Dy() != tilemath.TileSize:
			// high dpi sources serve 512px tiles
			xdraw.ApproxBiLinear.Scale(c.Image, dst, r.img, r.img.Bounds(), draw.Src, nil)
		default:
			draw.Draw(c.Image, dst, r.img, r.img.Bounds().Min, draw.Src)
		}
	}
	if r.img != nil {
		c.Report.Drawn++
		return
	}

	c.Report.Placeholders++
	c.Report.Missing = append(c.Report.Missing, r.tile)
	switch r.outcome {
	case observability.TileNotFound:
		c.Report.NotFound++
	case observability.TileTimeout:
		c.Report.Timeouts++
	case observability.TileDecodeError:
		c.Report.DecodeErrors++
	default:
		c.Report.Errors++
	}
	a.logger.Warn("tile replaced by placeholder",
		"tile", fmt.Sprintf("%d/%d/%d", r.tile.Z, r.tile.X, r.tile.Y),
		"outcome", r.outcome, "err", r.err)
}

// placements lists the distinct tiles of a range in row order with the
// unwrapped columns each one is drawn at.
func placements(rng tilemath.Range) ([]maptile.Tile, map[maptile.Tile][]int) {
	tiles := make([]maptile.Tile, 0, rng.Len())
	cols := make(map[maptile.Tile][]int, rng.Len())
	for y := rng.MinY; y <= rng.MaxY; y++ {
		for x := rng.MinX; x <= rng.MaxX; x++ {
			t := maptile.New(rng.Wrap(x), uint32(y), maptile.Zoom(rng.Zoom))
			if _, ok := cols[t]; ok {
				observability.IncTileFetch(observability.TileShared)
			} else {
				tiles = append(tiles, t)
			}
			cols[t] = append(cols[t], x)
		}
	}
	return tiles, cols
}
