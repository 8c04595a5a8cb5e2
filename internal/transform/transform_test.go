package transform

import (
	"errors"
	"math"
	"testing"

	"github.com/paulmach/orb"

	"github.com/mohammed-shakir/osm-context/internal/core/model"
	"github.com/mohammed-shakir/osm-context/internal/projection"
)

func newTransformer(t *testing.T, loc model.Location, scale float64, opts ...Option) *Transformer {
	t.Helper()
	def, err := projection.Build(loc)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	p, err := projection.NewProjector(def)
	if err != nil {
		t.Fatalf("NewProjector: %v", err)
	}
	tr, err := New(p, loc.TrueNorthAngle, scale, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return tr
}

func square(cx, cy, half float64) orb.Ring {
	return orb.Ring{
		{cx - half, cy - half}, {cx + half, cy - half},
		{cx + half, cy + half}, {cx - half, cy + half},
		{cx - half, cy - half},
	}
}

func building(id string, ring orb.Ring) model.Feature {
	return model.Feature{Kind: model.KindBuilding, ID: id, Footprint: ring}
}

func near(a, b, tol float64) bool { return math.Abs(a-b) <= tol }

func TestPoint_OriginIsZeroForAnyAngleAndScale(t *testing.T) {
	for _, angle := range []float64{0, 0.3, -2.1, math.Pi} {
		for _, scale := range []float64{1, 0.001, 0.3048} {
			loc := model.Location{Latitude: 47.3769, Longitude: 8.5417, TrueNorthAngle: angle}
			tr := newTransformer(t, loc, scale)
			p, err := tr.Point(orb.Point{loc.Longitude, loc.Latitude})
			if err != nil {
				t.Fatalf("Point: %v", err)
			}
			if p.X() != 0 || p.Y() != 0 {
				t.Fatalf("angle=%v scale=%v origin -> %v", angle, scale, p)
			}
		}
	}
}

func TestPoint_RotationAlignsNorthWithModelAxis(t *testing.T) {
	tr := newTransformer(t, model.Location{TrueNorthAngle: math.Pi / 2}, 1)
	p, err := tr.Point(orb.Point{0, 0.001})
	if err != nil {
		t.Fatalf("Point: %v", err)
	}
	// rotating by -90deg moves geographic north onto +x
	if !near(p.X(), 110.574, 0.5) || !near(p.Y(), 0, 1e-6) {
		t.Fatalf("north point -> %v want (~110.57, 0)", p)
	}
}

func TestPoint_UnitScale(t *testing.T) {
	m := newTransformer(t, model.Location{}, 1)
	mm := newTransformer(t, model.Location{}, 0.001)
	geo := orb.Point{0.002, -0.001}
	a, err := m.Point(geo)
	if err != nil {
		t.Fatalf("Point: %v", err)
	}
	b, err := mm.Point(geo)
	if err != nil {
		t.Fatalf("Point: %v", err)
	}
	if !near(b.X(), a.X()*1000, 1e-6) || !near(b.Y(), a.Y()*1000, 1e-6) {
		t.Fatalf("mm %v is not 1000x meters %v", b, a)
	}
}

func TestInverse_RoundTrip(t *testing.T) {
	loc := model.Location{Latitude: -33.8688, Longitude: 151.2093, TrueNorthAngle: 0.7}
	tr := newTransformer(t, loc, 0.01)
	for _, d := range [][2]float64{{0.001, 0.002}, {-0.003, 0.0005}, {0.004, -0.004}} {
		geo := orb.Point{loc.Longitude + d[0], loc.Latitude + d[1]}
		mp, err := tr.Point(geo)
		if err != nil {
			t.Fatalf("Point: %v", err)
		}
		back, err := tr.Inverse(mp)
		if err != nil {
			t.Fatalf("Inverse: %v", err)
		}
		if !near(back.Lon(), geo.Lon(), 1e-7) || !near(back.Lat(), geo.Lat(), 1e-7) {
			t.Fatalf("round trip %v -> %v -> %v", geo, mp, back)
		}
	}
}

func TestTransform_DropsOutOfDomainFeatures(t *testing.T) {
	tr := newTransformer(t, model.Location{Latitude: 10, Longitude: 20}, 1)
	in := []model.Feature{
		building("ok", square(20.001, 10.001, 0.0002)),
		building("far", square(20+projection.MaxMeridianOffset+5, 10, 0.0002)),
		{Kind: model.KindRoad, ID: "road", Line: orb.LineString{{20, 10}, {20.002, 10.001}}},
	}
	out, rep := tr.Transform(in)
	if len(out) != 2 || rep.OutOfDomain != 1 || rep.Kept != 2 || rep.Input != 3 {
		t.Fatalf("got %d features report=%+v", len(out), rep)
	}
	for _, f := range out {
		if f.ID == "far" {
			t.Fatalf("out-of-domain feature was kept")
		}
	}
}

func TestTransform_DoesNotMutateInput(t *testing.T) {
	tr := newTransformer(t, model.Location{}, 1)
	ring := square(0.001, 0.001, 0.0001)
	in := []model.Feature{building("b", ring)}
	before := append(orb.Ring(nil), ring...)
	out, _ := tr.Transform(in)
	if len(out) != 1 {
		t.Fatalf("want 1 feature, got %d", len(out))
	}
	for i := range before {
		if in[0].Footprint[i] != before[i] {
			t.Fatalf("input vertex %d changed: %v -> %v", i, before[i], in[0].Footprint[i])
		}
	}
	if out[0].Footprint[0] == before[0] {
		t.Fatalf("output still holds geographic coordinates")
	}
}

func TestTransform_ResolvesHeightInModelUnits(t *testing.T) {
	tr := newTransformer(t, model.Location{}, 0.001)
	levels := 4.0
	explicit := 12.5
	in := []model.Feature{
		building("default", square(0.0005, 0.0005, 0.0001)),
		{Kind: model.KindBuilding, ID: "levels", Footprint: square(-0.0005, 0.0005, 0.0001), Levels: &levels},
		{Kind: model.KindBuilding, ID: "explicit", Footprint: square(0.0005, -0.0005, 0.0001), Height: &explicit, Underground: true},
	}
	out, _ := tr.Transform(in)
	want := map[string]float64{"default": 9000, "levels": 12000, "explicit": -12500}
	for _, f := range out {
		if f.Height == nil || !near(*f.Height, want[f.ID], 1e-6) {
			t.Fatalf("%s height=%v want %v", f.ID, f.Height, want[f.ID])
		}
		if !near(f.EffectiveHeight(), want[f.ID], 1e-6) {
			t.Fatalf("%s effective height=%v want %v", f.ID, f.EffectiveHeight(), want[f.ID])
		}
	}
	if *in[2].Height != explicit {
		t.Fatalf("input height mutated")
	}
}

func TestTransform_CirclePolicyKeepsIntersectingWhole(t *testing.T) {
	tr := newTransformer(t, model.Location{}, 1, WithRadius(500))
	// ~0.0045 deg is ~500 m at the equator
	crossing := model.Feature{
		Kind: model.KindRoad, ID: "crossing",
		Line: orb.LineString{{-0.01, 0.001}, {0.01, 0.001}},
	}
	in := []model.Feature{
		building("inside", square(0.001, 0.001, 0.0001)),
		building("outside", square(0.0044, 0.0044, 0.0001)),
		building("enclosing", square(0, 0, 0.01)),
		crossing,
		{Kind: model.KindRoad, ID: "away", Line: orb.LineString{{0.008, -0.01}, {0.008, 0.01}}},
	}
	out, rep := tr.Transform(in)
	if rep.OutsideRadius != 2 || rep.Kept != 3 {
		t.Fatalf("report=%+v", rep)
	}
	kept := map[string]model.Feature{}
	for _, f := range out {
		kept[f.ID] = f
	}
	for _, id := range []string{"inside", "enclosing", "crossing"} {
		if _, ok := kept[id]; !ok {
			t.Fatalf("%s was dropped", id)
		}
	}
	road := kept["crossing"]
	if len(road.Line) != 2 {
		t.Fatalf("crossing road was altered: %v", road.Line)
	}
	if length := road.Line[1].X() - road.Line[0].X(); length < 2000 {
		t.Fatalf("crossing road clipped to %v m", length)
	}
}

func TestBasePlane_CoversQueryCircle(t *testing.T) {
	loc := model.Location{Latitude: 47.3769, Longitude: 8.5417}
	tr := newTransformer(t, loc, 1)
	bb, err := projection.BoundsAround(loc, 300)
	if err != nil {
		t.Fatalf("BoundsAround: %v", err)
	}
	plane, err := tr.BasePlane(bb)
	if err != nil {
		t.Fatalf("BasePlane: %v", err)
	}
	if len(plane) != 4 {
		t.Fatalf("plane has %d corners", len(plane))
	}
	b := plane.Bound()
	if b.Min.X() > -300 || b.Min.Y() > -300 || b.Max.X() < 300 || b.Max.Y() < 300 {
		t.Fatalf("base plane %v does not cover radius", b)
	}
}

func TestNew_RejectsBadScale(t *testing.T) {
	def, _ := projection.Build(model.Location{})
	p, err := projection.NewProjector(def)
	if err != nil {
		t.Fatalf("NewProjector: %v", err)
	}
	for _, s := range []float64{0, -1, math.Inf(1), math.NaN()} {
		if _, err := New(p, 0, s); !errors.Is(err, ErrInvalidScale) {
			t.Fatalf("scale %v err=%v", s, err)
		}
	}
}

func TestTransform_NatureAndTrees(t *testing.T) {
	tr := newTransformer(t, model.Location{}, 0.001, WithRadius(500))
	h := 15.0
	inTree := orb.Point{0.001, 0}
	farTree := orb.Point{0.006, 0}
	in := []model.Feature{
		{Kind: model.KindNature, ID: "park", Cover: "park", Footprint: square(0, 0, 0.01)},
		{Kind: model.KindNature, ID: "far-forest", Cover: "forest", Footprint: square(0.02, 0.02, 0.001)},
		{Kind: model.KindTree, ID: "oak", Position: &inTree, Height: &h},
		{Kind: model.KindTree, ID: "far-oak", Position: &farTree},
	}
	out, rep := tr.Transform(in)
	if rep.Kept != 2 || rep.OutsideRadius != 2 {
		t.Fatalf("report=%+v", rep)
	}
	park, oak := out[0], out[1]
	if park.Kind != model.KindNature || park.Cover != "park" || park.Height != nil {
		t.Fatalf("park=%+v", park)
	}
	// the enclosing park is about 2.2 km wide, in millimeters
	if w := park.Footprint[1].X() - park.Footprint[0].X(); w < 2e6 {
		t.Fatalf("park width=%v", w)
	}
	if oak.Position == nil || !near(oak.Position.X(), 111319.5, 200) || !near(oak.Position.Y(), 0, 1e-6) {
		t.Fatalf("oak at %v", oak.Position)
	}
	if *oak.Height != 15000 {
		t.Fatalf("oak height=%v want 15000 mm", *oak.Height)
	}
	if *in[2].Position != inTree || *in[2].Height != 15 {
		t.Fatalf("input tree mutated")
	}
}
