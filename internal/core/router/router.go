// Package router parses context requests and renders pipeline results.
package router

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/paulmach/orb"

	"github.com/mohammed-shakir/osm-context/internal/core/config"
	"github.com/mohammed-shakir/osm-context/internal/core/model"
	"github.com/mohammed-shakir/osm-context/internal/core/observability"
	"github.com/mohammed-shakir/osm-context/internal/mosaic"
	"github.com/mohammed-shakir/osm-context/internal/pipeline"
	"github.com/mohammed-shakir/osm-context/internal/projection"
	"github.com/mohammed-shakir/osm-context/internal/query"
	"github.com/mohammed-shakir/osm-context/internal/tilemath"
	"github.com/mohammed-shakir/osm-context/internal/transform"
)

// ContextRunner builds the context for one validated request.
type ContextRunner interface {
	Run(ctx context.Context, req pipeline.Request) (pipeline.Result, error)
}

// HandleContext serves GET /context as JSON: transformed features, the base
// plane and, when basemap=true, the basemap PNG with its placement.
func HandleContext(logger *slog.Logger, cfg config.Config, run ContextRunner) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		defer func() {
			observability.ObserveHTTP(r.Method, "/context", sw.code, time.Since(start).Seconds())
		}()

		req, err := ParseContextRequest(r, cfg)
		if err != nil {
			writeError(sw, http.StatusBadRequest, err)
			return
		}
		res, err := run.Run(r.Context(), req)
		if err != nil {
			writeError(sw, statusFor(err), err)
			return
		}

		out, err := buildContextResponse(req, res)
		if err != nil {
			logger.ErrorContext(r.Context(), "encode basemap", "err", err)
			writeError(sw, http.StatusInternalServerError, errors.New("encode basemap"))
			return
		}
		code := http.StatusOK
		if res.FeatureErr != nil && (!req.WithBasemap || res.BasemapErr != nil) {
			code = http.StatusBadGateway
		}
		if res.FeatureErr != nil {
			logger.WarnContext(r.Context(), "geometry pipeline failed", "err", res.FeatureErr)
		}
		writeJSON(sw, code, out)
	}
}

// HandleBasemap serves GET /basemap as a PNG. Placement of the image is
// returned in X-Bbox (lon/lat), X-Zoom and X-Pixel-Origin headers.
func HandleBasemap(logger *slog.Logger, cfg config.Config, run ContextRunner) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		defer func() {
			observability.ObserveHTTP(r.Method, "/basemap", sw.code, time.Since(start).Seconds())
		}()

		req, err := ParseContextRequest(r, cfg)
		if err != nil {
			writeError(sw, http.StatusBadRequest, err)
			return
		}
		req.BasemapOnly = true
		res, err := run.Run(r.Context(), req)
		if err != nil {
			writeError(sw, statusFor(err), err)
			return
		}
		if res.BasemapErr != nil {
			if errors.Is(res.BasemapErr, mosaic.ErrTooManyTiles) {
				writeError(sw, http.StatusBadRequest, res.BasemapErr)
				return
			}
			logger.WarnContext(r.Context(), "basemap pipeline failed", "err", res.BasemapErr)
			writeError(sw, http.StatusBadGateway, res.BasemapErr)
			return
		}

		var buf bytes.Buffer
		if err := res.Basemap.EncodePNG(&buf); err != nil {
			logger.ErrorContext(r.Context(), "encode basemap", "err", err)
			writeError(sw, http.StatusInternalServerError, errors.New("encode basemap"))
			return
		}
		c := res.Basemap
		h := sw.Header()
		h.Set("Content-Type", "image/png")
		h.Set("X-Bbox", fmt.Sprintf("%.7f,%.7f,%.7f,%.7f", c.BBox.X1, c.BBox.Y1, c.BBox.X2, c.BBox.Y2))
		h.Set("X-Zoom", strconv.Itoa(c.Zoom))
		h.Set("X-Pixel-Origin", fmt.Sprintf("%d,%d", c.Origin.X, c.Origin.Y))
		h.Set("X-Meters-Per-Pixel", strconv.FormatFloat(c.MetersPerPixel(), 'f', 4, 64))
		if c.Report.Placeholders > 0 {
			h.Set("X-Tiles-Missing", strconv.Itoa(c.Report.Placeholders))
		}
		sw.WriteHeader(http.StatusOK)
		_, _ = sw.Write(buf.Bytes())
	}
}

// ParseContextRequest reads lat, lon, angle (degrees), radius (meters),
// scale (meters per model unit), zoom, basemap and scalebar.
func ParseContextRequest(r *http.Request, cfg config.Config) (pipeline.Request, error) {
	q := r.URL.Query()

	lat, err := requiredFloat(q.Get("lat"), "lat")
	if err != nil {
		return pipeline.Request{}, err
	}
	lon, err := requiredFloat(q.Get("lon"), "lon")
	if err != nil {
		return pipeline.Request{}, err
	}
	angle, err := optionalFloat(q.Get("angle"), "angle", 0)
	if err != nil {
		return pipeline.Request{}, err
	}
	loc := model.Location{Latitude: lat, Longitude: lon, TrueNorthAngle: angle * math.Pi / 180}
	if err := loc.Validate(); err != nil {
		return pipeline.Request{}, err
	}

	radius, err := optionalFloat(q.Get("radius"), "radius", cfg.DefaultRadius)
	if err != nil {
		return pipeline.Request{}, err
	}
	if radius < cfg.MinRadius || radius > cfg.MaxRadius {
		return pipeline.Request{}, fmt.Errorf("%w: %v not in [%v,%v]",
			projection.ErrInvalidRadius, radius, cfg.MinRadius, cfg.MaxRadius)
	}

	scale, err := optionalFloat(q.Get("scale"), "scale", 1)
	if err != nil {
		return pipeline.Request{}, err
	}
	if scale <= 0 {
		return pipeline.Request{}, transform.ErrInvalidScale
	}

	zoom := mosaic.AutoZoom
	if raw := strings.TrimSpace(q.Get("zoom")); raw != "" {
		z, err := strconv.Atoi(raw)
		if err != nil || z < 0 || z > tilemath.MaxZoom {
			return pipeline.Request{}, fmt.Errorf("zoom must be an integer in [0,%d]", tilemath.MaxZoom)
		}
		zoom = z
	}

	return pipeline.Request{
		Location:    loc,
		Radius:      radius,
		UnitScale:   scale,
		Zoom:        zoom,
		WithBasemap: parseBool(q.Get("basemap")),
		ScaleBar:    parseBool(q.Get("scalebar")),
	}, nil
}

type contextResponse struct {
	BBox         [4]float64       `json:"bbox"`
	Projection   string           `json:"projection"`
	Features     []model.Feature  `json:"features"`
	Report       transform.Report `json:"report"`
	Skipped      []query.Skipped  `json:"skipped,omitempty"`
	BasePlane    orb.Ring         `json:"base_plane,omitempty"`
	FeatureError string           `json:"feature_error,omitempty"`
	Basemap      *basemapResponse `json:"basemap,omitempty"`
	BasemapError string           `json:"basemap_error,omitempty"`
}

type basemapResponse struct {
	BBox           [4]float64    `json:"bbox"`
	Zoom           int           `json:"zoom"`
	Width          int           `json:"width"`
	Height         int           `json:"height"`
	PixelOrigin    [2]int        `json:"pixel_origin"`
	MetersPerPixel float64       `json:"meters_per_pixel"`
	ScaleBarMeters float64       `json:"scale_bar_m,omitempty"`
	Tiles          mosaic.Report `json:"tiles"`
	PNG            []byte        `json:"png"`
}

func buildContextResponse(req pipeline.Request, res pipeline.Result) (contextResponse, error) {
	out := contextResponse{
		BBox:       bboxArray(res.BBox),
		Projection: res.Projection.Proj4(),
		Features:   res.Features,
		Report:     res.Report,
		Skipped:    res.Skipped,
		BasePlane:  res.BasePlane,
	}
	if out.Features == nil {
		out.Features = []model.Feature{}
	}
	if res.FeatureErr != nil {
		out.FeatureError = res.FeatureErr.Error()
	}
	if !req.WithBasemap {
		return out, nil
	}
	if res.BasemapErr != nil {
		out.BasemapError = res.BasemapErr.Error()
		return out, nil
	}
	c := res.Basemap
	var buf bytes.Buffer
	if err := c.EncodePNG(&buf); err != nil {
		return out, err
	}
	out.Basemap = &basemapResponse{
		BBox:           bboxArray(c.BBox),
		Zoom:           c.Zoom,
		Width:          c.Width(),
		Height:         c.Height(),
		PixelOrigin:    [2]int{c.Origin.X, c.Origin.Y},
		MetersPerPixel: c.MetersPerPixel(),
		ScaleBarMeters: res.ScaleBarM,
		Tiles:          c.Report,
		PNG:            buf.Bytes(),
	}
	return out, nil
}

func bboxArray(b model.BBox) [4]float64 {
	return [4]float64{b.X1, b.Y1, b.X2, b.Y2}
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, model.ErrInvalidLocation),
		errors.Is(err, projection.ErrInvalidRadius),
		errors.Is(err, projection.ErrOutOfDomain),
		errors.Is(err, transform.ErrInvalidScale),
		errors.Is(err, tilemath.ErrLatitudeOutOfRange),
		errors.Is(err, mosaic.ErrTooManyTiles):
		return http.StatusBadRequest
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func requiredFloat(v, name string) (float64, error) {
	if strings.TrimSpace(v) == "" {
		return 0, fmt.Errorf("missing required parameter: %s", name)
	}
	return parseFloat(v, name)
}

func optionalFloat(v, name string, def float64) (float64, error) {
	if strings.TrimSpace(v) == "" {
		return def, nil
	}
	return parseFloat(v, name)
}

func parseFloat(v, name string) (float64, error) {
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return 0, fmt.Errorf("%s: parse float: %w", name, err)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("%s: must be finite", name)
	}
	return f, nil
}

func parseBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "t", "true", "y", "yes":
		return true
	}
	return false
}
