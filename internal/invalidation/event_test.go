package invalidation

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/mohammed-shakir/osm-context/internal/core/model"
)

func mustTS() time.Time { return time.Date(2025, 10, 26, 12, 30, 45, 0, time.UTC) }

const square = `{"type":"Polygon","coordinates":[[[11,55],[12,55],[12,56],[11,56],[11,55]]]}`

func TestEvent_Validate_BBoxAndPolygonMutualExclusion(t *testing.T) {
	ev := Event{
		Version: 1, Op: "update", Layer: "buildings", TS: mustTS(),
		BBox:     &BBox{X1: 11, Y1: 55, X2: 12, Y2: 56, SRID: "EPSG:4326"},
		Geometry: json.RawMessage(square),
	}
	if err := ev.Validate(); err == nil {
		t.Fatalf("expected error when both bbox and geometry are set")
	}
}

func TestEvent_Validate_BBoxHappyPath(t *testing.T) {
	ev := Event{
		Version: 1, Op: "delete", Layer: "roads", TS: mustTS(),
		BBox: &BBox{X1: 11, Y1: 55, X2: 12, Y2: 56, SRID: "EPSG:4326"},
	}
	if err := ev.Validate(); err != nil {
		t.Fatalf("unexpected: %v", err)
	}
}

func TestEvent_Validate_GeometryAndArea(t *testing.T) {
	ev := Event{
		Version: 1, Op: "insert", Layer: "buildings", TS: mustTS(),
		Geometry: json.RawMessage(square),
	}
	if err := ev.Validate(); err != nil {
		t.Fatalf("unexpected: %v", err)
	}
	area, err := ev.Area()
	if err != nil {
		t.Fatalf("Area: %v", err)
	}
	if area != (model.BBox{X1: 11, Y1: 55, X2: 12, Y2: 56, SRID: "EPSG:4326"}) {
		t.Fatalf("area=%+v", area)
	}

	ev.Geometry = json.RawMessage(`{"type":"GeometryCollection","geometries":[]}`)
	if err := ev.Validate(); err == nil {
		t.Fatalf("expected error for unsupported geometry")
	}
}

func TestEvent_Validate_RejectsBadBBox(t *testing.T) {
	ev := Event{
		Version: 1, Op: "update", Layer: "buildings", TS: mustTS(),
		BBox: &BBox{X1: 11, Y1: 55, X2: 11, Y2: 56, SRID: "EPSG:4326"},
	}
	if err := ev.Validate(); err == nil {
		t.Fatalf("expected error for non-increasing bbox")
	}
}

func TestEvent_DedupeKey(t *testing.T) {
	a := Event{Layer: "roads", Op: "update", FeatureID: "way/1"}
	b := Event{Layer: "roads", Op: "update", FeatureID: "way/2"}
	if a.DedupeKey() == b.DedupeKey() {
		t.Fatalf("distinct features share a key")
	}
}

func TestGrow(t *testing.T) {
	bb := model.BBox{X1: 0, Y1: 0, X2: 0.01, Y2: 0.01}
	g := Grow(bb, 1113.2)
	if math.Abs(g.Y2-0.02) > 1e-9 || math.Abs(g.Y1+0.01) > 1e-9 {
		t.Fatalf("lat growth wrong: %+v", g)
	}
	if g.X1 >= bb.X1 || g.X2 <= bb.X2 {
		t.Fatalf("lon not grown: %+v", g)
	}
	if Grow(bb, 0) != bb {
		t.Fatalf("zero margin changed box")
	}
	edge := Grow(model.BBox{X1: 179.99, Y1: 89.9, X2: 180, Y2: 90}, 5000)
	if edge.X2 > 180 || edge.Y2 > 90 {
		t.Fatalf("not clamped: %+v", edge)
	}
}
