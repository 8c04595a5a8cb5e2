// Package invalidation describes map-data change events that evict cached
// geometry for the area they touch.
package invalidation

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/mohammed-shakir/osm-context/internal/core/model"
)

type Event struct {
	Version   int             `json:"version"`
	Op        string          `json:"op"`
	Layer     string          `json:"layer"`
	TS        time.Time       `json:"ts"`
	FeatureID any             `json:"feature_id,omitempty"`
	Source    string          `json:"source,omitempty"`
	BBox      *BBox           `json:"bbox,omitempty"`
	Geometry  json.RawMessage `json:"geometry,omitempty"`
}

type BBox struct {
	X1   float64 `json:"x1"`
	Y1   float64 `json:"y1"`
	X2   float64 `json:"x2"`
	Y2   float64 `json:"y2"`
	SRID string  `json:"srid"`
}

// AllLayers in an event evicts every cached layer.
const AllLayers = "*"

func (e Event) Validate() error {
	if e.Version != 1 {
		return fmt.Errorf("version must be 1")
	}
	switch e.Op {
	case "insert", "update", "delete":
	default:
		return fmt.Errorf("op must be insert|update|delete")
	}
	if strings.TrimSpace(e.Layer) == "" {
		return fmt.Errorf("layer is required")
	}
	if e.TS.IsZero() {
		return fmt.Errorf("ts is required")
	}
	hasBBox := e.BBox != nil
	hasGeom := len(e.Geometry) > 0
	if hasBBox == hasGeom {
		return fmt.Errorf("exactly one of bbox or geometry is required")
	}
	if hasBBox {
		bb := *e.BBox
		if bb.SRID != "EPSG:4326" {
			return fmt.Errorf("bbox.srid must be EPSG:4326")
		}
		if !(bb.X1 >= -180 && bb.X1 <= 180 && bb.X2 >= -180 && bb.X2 <= 180) {
			return fmt.Errorf("bbox longitude out of range")
		}
		if !(bb.Y1 >= -90 && bb.Y1 <= 90 && bb.Y2 >= -90 && bb.Y2 <= 90) {
			return fmt.Errorf("bbox latitude out of range")
		}
		if !(bb.X2 > bb.X1 && bb.Y2 > bb.Y1) {
			return fmt.Errorf("bbox must satisfy x2>x1 and y2>y1")
		}
		return nil
	}
	g, err := geojson.UnmarshalGeometry(e.Geometry)
	if err != nil {
		return fmt.Errorf("geometry parse: %w", err)
	}
	switch g.Geometry().(type) {
	case orb.Polygon, orb.MultiPolygon, orb.LineString, orb.Point:
	default:
		return fmt.Errorf("geometry.type must be Polygon, MultiPolygon, LineString or Point")
	}
	return nil
}

// Area returns the geographic box the event touches.
func (e Event) Area() (model.BBox, error) {
	if e.BBox != nil {
		return model.BBox{X1: e.BBox.X1, Y1: e.BBox.Y1, X2: e.BBox.X2, Y2: e.BBox.Y2, SRID: "EPSG:4326"}, nil
	}
	g, err := geojson.UnmarshalGeometry(e.Geometry)
	if err != nil {
		return model.BBox{}, fmt.Errorf("geometry parse: %w", err)
	}
	return model.BBoxFromBound(g.Geometry().Bound()), nil
}

// DedupeKey identifies replays of the same change.
func (e Event) DedupeKey() string {
	if e.FeatureID != nil {
		return fmt.Sprintf("%s|%s|%v", e.Layer, e.Op, e.FeatureID)
	}
	if e.BBox != nil {
		return fmt.Sprintf("%s|%s|%g,%g,%g,%g", e.Layer, e.Op, e.BBox.X1, e.BBox.Y1, e.BBox.X2, e.BBox.Y2)
	}
	return e.Layer + "|" + e.Op + "|" + string(e.Geometry)
}

const metersPerDegree = 111_320.0

// Grow expands bb by meters on every side, clamped to valid coordinates.
// Any query whose center lies in the grown box may overlap bb.
func Grow(bb model.BBox, meters float64) model.BBox {
	if meters <= 0 {
		return bb
	}
	dLat := meters / metersPerDegree
	maxLat := math.Min(89.9, math.Max(math.Abs(bb.Y1), math.Abs(bb.Y2)))
	dLon := meters / (metersPerDegree * math.Cos(maxLat*math.Pi/180))
	return model.BBox{
		X1:   math.Max(-180, bb.X1-dLon),
		Y1:   math.Max(-90, bb.Y1-dLat),
		X2:   math.Min(180, bb.X2+dLon),
		Y2:   math.Min(90, bb.Y2+dLat),
		SRID: bb.SRID,
	}
}
