package model

import (
	"errors"
	"math"
	"testing"

	"github.com/paulmach/orb"
)

func TestLocation_Validate(t *testing.T) {
	cases := []struct {
		name string
		loc  Location
		ok   bool
	}{
		{"origin", Location{}, true},
		{"zurich", Location{Latitude: 47.37, Longitude: 8.54, TrueNorthAngle: 0.3}, true},
		{"poles", Location{Latitude: 90, Longitude: -180}, true},
		{"lat too high", Location{Latitude: 90.01}, false},
		{"lon too low", Location{Longitude: -180.5}, false},
		{"nan", Location{Latitude: math.NaN()}, false},
		{"inf angle", Location{TrueNorthAngle: math.Inf(1)}, false},
	}
	for _, tc := range cases {
		err := tc.loc.Validate()
		if tc.ok && err != nil {
			t.Fatalf("%s: unexpected error %v", tc.name, err)
		}
		if !tc.ok && !errors.Is(err, ErrInvalidLocation) {
			t.Fatalf("%s: want ErrInvalidLocation, got %v", tc.name, err)
		}
	}
}

func TestFeature_EffectiveHeight(t *testing.T) {
	h := 20.0
	lv := 4.0
	if got := (Feature{Height: &h, Levels: &lv}).EffectiveHeight(); got != 20 {
		t.Fatalf("explicit height got %v want 20", got)
	}
	if got := (Feature{Levels: &lv}).EffectiveHeight(); got != 12 {
		t.Fatalf("levels height got %v want 12", got)
	}
	if got := (Feature{}).EffectiveHeight(); got != DefaultBuildingHeight {
		t.Fatalf("default height got %v", got)
	}
	if got := (Feature{Underground: true}).EffectiveHeight(); got != -DefaultBuildingHeight {
		t.Fatalf("underground height got %v", got)
	}
}

func TestRoadClass_ParseAndWidth(t *testing.T) {
	if ParseRoadClass("primary") != RoadPrimary || RoadPrimary.HalfWidthMeters() != 9 {
		t.Fatalf("primary mapping broken")
	}
	if ParseRoadClass("secondary_link") != RoadSecondary || RoadSecondary.HalfWidthMeters() != 6 {
		t.Fatalf("secondary mapping broken")
	}
	if ParseRoadClass("something_new") != RoadOther || RoadOther.HalfWidthMeters() != 2 {
		t.Fatalf("fallback mapping broken")
	}
}

func TestBBox_StringAndContains(t *testing.T) {
	b := BBox{X1: 11, Y1: 55, X2: 12, Y2: 56, SRID: "EPSG:4326"}
	if got := b.String(); got != "11.000000,55.000000,12.000000,56.000000,EPSG:4326" {
		t.Fatalf("String got %q", got)
	}
	if !b.Contains(11.5, 55.5) || b.Contains(10, 55.5) {
		t.Fatalf("Contains mismatch")
	}
}

func TestBBox_SplitAtAntimeridian(t *testing.T) {
	plain := BBox{X1: 11, Y1: 55, X2: 12, Y2: 56}
	if parts := plain.Split(); len(parts) != 1 || parts[0] != plain || plain.CrossesAntimeridian() {
		t.Fatalf("plain box split into %v", parts)
	}

	east := BBox{X1: 179.99, Y1: -16.51, X2: 180.004, Y2: -16.49, SRID: "EPSG:4326"}
	if !east.CrossesAntimeridian() {
		t.Fatalf("crossing box not detected")
	}
	parts := east.Split()
	if len(parts) != 2 {
		t.Fatalf("parts=%v", parts)
	}
	if parts[0].X1 != 179.99 || parts[0].X2 != 180 || parts[1].X1 != -180 || math.Abs(parts[1].X2-(-179.996)) > 1e-9 {
		t.Fatalf("parts=%v", parts)
	}
	if parts[1].SRID != "EPSG:4326" || parts[1].Y1 != -16.51 {
		t.Fatalf("split dropped fields: %+v", parts[1])
	}
	if !east.Contains(-179.998, -16.5) || !east.Contains(179.995, -16.5) || east.Contains(-179.99, -16.5) {
		t.Fatalf("Contains across antimeridian mismatch")
	}

	west := BBox{X1: -180.004, Y1: 0, X2: -179.99, Y2: 1}
	parts = west.Split()
	if len(parts) != 2 || math.Abs(parts[0].X1-179.996) > 1e-9 || parts[0].X2 != 180 || parts[1].X1 != -180 || parts[1].X2 != -179.99 {
		t.Fatalf("parts=%v", parts)
	}
	if !west.Contains(179.998, 0.5) {
		t.Fatalf("west box misses wrapped point")
	}
}

func TestFeature_TreeAndNaturePoints(t *testing.T) {
	p := orb.Point{10, 20}
	tree := Feature{Kind: KindTree, Position: &p}
	if pts := tree.Points(); len(pts) != 1 || pts[0] != p {
		t.Fatalf("tree points=%v", pts)
	}
	c := tree.Clone()
	c.Position[0] = 99
	if tree.Position[0] != 10 {
		t.Fatalf("clone aliases position")
	}
	park := Feature{Kind: KindNature, Cover: "park", Footprint: orb.Ring{{0, 0}, {1, 0}, {1, 1}, {0, 0}}}
	if len(park.Points()) != 4 {
		t.Fatalf("nature points=%v", park.Points())
	}
	if KindNature.String() != "nature" || KindTree.String() != "tree" {
		t.Fatalf("kind names %q %q", KindNature, KindTree)
	}
}
