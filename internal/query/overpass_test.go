package query

import (
	"errors"
	"testing"

	"github.com/mohammed-shakir/osm-context/internal/core/model"
)

const overpassBuildings = `{
  "version": 0.6,
  "elements": [
    {"type":"way","id":10,"nodes":[1,2,3,4,1],"tags":{"building":"yes","height":"15"}},
    {"type":"way","id":11,"nodes":[1,2,99,1],"tags":{"building":"house"}},
    {"type":"way","id":12,"nodes":[1,2,3,4,1],"tags":{"building":"no"}},
    {"type":"relation","id":20,"members":[
      {"type":"way","ref":30,"role":"outer"},
      {"type":"way","ref":31,"role":"outer"},
      {"type":"way","ref":32,"role":"inner"}
    ],"tags":{"type":"multipolygon","building":"yes","building:levels":"5"}},
    {"type":"relation","id":21,"members":[{"type":"way","ref":33,"role":"outer"}],"tags":{"building":"yes"}},
    {"type":"node","id":1,"lat":0.0,"lon":0.0},
    {"type":"node","id":2,"lat":0.0,"lon":0.0001},
    {"type":"node","id":3,"lat":0.0001,"lon":0.0001},
    {"type":"node","id":4,"lat":0.0001,"lon":0.0},
    {"type":"way","id":30,"nodes":[50,51,52]},
    {"type":"way","id":31,"nodes":[50,53,52]},
    {"type":"way","id":32,"nodes":[60,61,62,60]},
    {"type":"way","id":33,"nodes":[50,51,52]},
    {"type":"node","id":50,"lat":0.001,"lon":0.001},
    {"type":"node","id":51,"lat":0.001,"lon":0.002},
    {"type":"node","id":52,"lat":0.002,"lon":0.002},
    {"type":"node","id":53,"lat":0.002,"lon":0.001},
    {"type":"node","id":60,"lat":0.0012,"lon":0.0012},
    {"type":"node","id":61,"lat":0.0012,"lon":0.0014},
    {"type":"node","id":62,"lat":0.0014,"lon":0.0014}
  ]
}`

func TestOverpassDecoder_Buildings(t *testing.T) {
	out, rep, err := OverpassDecoder{}.Decode(LayerBuildings, []byte(overpassBuildings))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("decoded %d buildings want 2: %+v", len(out), out)
	}
	if len(rep.Skipped) != 2 {
		t.Fatalf("skipped %+v want way/11 and relation/21", rep.Skipped)
	}
	for _, s := range rep.Skipped {
		if !errors.Is(s.Err, ErrFeatureDecode) {
			t.Fatalf("%s: %v is not a decode error", s.ID, s.Err)
		}
		switch s.ID {
		case "way/11":
			if !errors.Is(s.Err, errMissingNode) {
				t.Fatalf("way/11 err=%v", s.Err)
			}
		case "relation/21":
			if !errors.Is(s.Err, errOpenRing) {
				t.Fatalf("relation/21 err=%v", s.Err)
			}
		default:
			t.Fatalf("unexpected skip %s", s.ID)
		}
	}

	way := out[0]
	if way.ID != "way/10" || way.EffectiveHeight() != 15 || len(way.Footprint) != 5 {
		t.Fatalf("way building %+v", way)
	}
	rel := out[1]
	if rel.ID != "relation/20" {
		t.Fatalf("relation id=%q", rel.ID)
	}
	// 50-51-52 stitched with reversed 52-53-50
	if len(rel.Footprint) != 5 || rel.Footprint[0] != rel.Footprint[4] {
		t.Fatalf("stitched ring %v", rel.Footprint)
	}
	if len(rel.Holes) != 1 || len(rel.Holes[0]) != 4 {
		t.Fatalf("holes %v", rel.Holes)
	}
	if rel.EffectiveHeight() != 15 {
		t.Fatalf("relation levels height=%v want 15", rel.EffectiveHeight())
	}
}

const overpassRoads = `{"elements":[
  {"type":"way","id":1,"nodes":[1,2,3],"tags":{"highway":"secondary"}},
  {"type":"way","id":2,"nodes":[1,2,3,2,4],"tags":{"highway":"residential"}},
  {"type":"way","id":3,"nodes":[1,2,3,1],"tags":{"highway":"pedestrian","area":"yes"}},
  {"type":"way","id":4,"nodes":[1,2,3,1],"tags":{"highway":"service"}},
  {"type":"node","id":1,"lat":0,"lon":0},
  {"type":"node","id":2,"lat":0,"lon":0.001},
  {"type":"node","id":3,"lat":0.001,"lon":0.001},
  {"type":"node","id":4,"lat":0.002,"lon":0.002}
]}`

func TestOverpassDecoder_Roads(t *testing.T) {
	out, rep, err := OverpassDecoder{}.Decode(LayerRoads, []byte(overpassRoads))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(rep.Skipped) != 1 || rep.Skipped[0].ID != "way/3" || !errors.Is(rep.Skipped[0].Err, errAreaHighway) {
		t.Fatalf("skipped %+v", rep.Skipped)
	}
	ids := map[string]model.Feature{}
	for _, f := range out {
		ids[f.ID] = f
	}
	if len(out) != 4 {
		t.Fatalf("decoded %d roads want 4: %v", len(out), ids)
	}
	if ids["way/1"].Class != model.RoadSecondary {
		t.Fatalf("class %v", ids["way/1"].Class)
	}
	if _, ok := ids["way/2/1"]; !ok {
		t.Fatalf("self-touching road not split: %v", ids)
	}
	if !ids["way/4"].Closed {
		t.Fatalf("loop road not closed")
	}
}

func TestOverpassDecoder_EmptyAndBroken(t *testing.T) {
	out, rep, err := OverpassDecoder{}.Decode(LayerBuildings, []byte(`{"elements":[]}`))
	if err != nil || len(out) != 0 || len(rep.Skipped) != 0 {
		t.Fatalf("empty: out=%v rep=%+v err=%v", out, rep, err)
	}
	if _, _, err := (OverpassDecoder{}).Decode(LayerBuildings, []byte(`<html>rate limited</html>`)); !errors.Is(err, ErrPayload) {
		t.Fatalf("err=%v want ErrPayload", err)
	}
}

func TestStitchRings(t *testing.T) {
	rings, err := stitchRings([][]int64{{1, 2}, {3, 1}, {2, 3}})
	if err != nil {
		t.Fatalf("stitch: %v", err)
	}
	if len(rings) != 1 || len(rings[0]) != 4 || rings[0][0] != rings[0][3] {
		t.Fatalf("rings %v", rings)
	}
	if _, err := stitchRings([][]int64{{1, 2}, {3, 4}}); !errors.Is(err, errOpenRing) {
		t.Fatalf("err=%v want errOpenRing", err)
	}
}

const overpassNature = `{
  "elements": [
    {"type":"way","id":70,"nodes":[1,2,3,4,1],"tags":{"landuse":"forest"}},
    {"type":"way","id":71,"nodes":[1,2,3,4,1],"tags":{"landuse":"industrial"}},
    {"type":"way","id":72,"nodes":[1,2,3,4,1],"tags":{"leisure":"park","name":"Stadtpark"}},
    {"type":"relation","id":80,"members":[
      {"type":"way","ref":30,"role":"outer"},
      {"type":"way","ref":31,"role":"outer"}
    ],"tags":{"type":"multipolygon","natural":"scrub"}},
    {"type":"node","id":90,"lat":0.0005,"lon":0.0005,"tags":{"natural":"tree","height":"12"}},
    {"type":"node","id":91,"lat":0.0006,"lon":0.0006,"tags":{"amenity":"bench"}},
    {"type":"node","id":1,"lat":0.0,"lon":0.0},
    {"type":"node","id":2,"lat":0.0,"lon":0.0001},
    {"type":"node","id":3,"lat":0.0001,"lon":0.0001},
    {"type":"node","id":4,"lat":0.0001,"lon":0.0},
    {"type":"way","id":30,"nodes":[50,51,52]},
    {"type":"way","id":31,"nodes":[50,53,52]},
    {"type":"node","id":50,"lat":0.001,"lon":0.001},
    {"type":"node","id":51,"lat":0.001,"lon":0.002},
    {"type":"node","id":52,"lat":0.002,"lon":0.002},
    {"type":"node","id":53,"lat":0.002,"lon":0.001}
  ]
}`

func TestOverpassDecoder_Nature(t *testing.T) {
	out, rep, err := OverpassDecoder{}.Decode(LayerNature, []byte(overpassNature))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(rep.Skipped) != 0 {
		t.Fatalf("skipped=%+v", rep.Skipped)
	}
	got := map[string]model.Feature{}
	for _, f := range out {
		got[f.ID] = f
	}
	if len(got) != 4 {
		t.Fatalf("decoded %v want way/70, way/72, relation/80, node/90", out)
	}
	if f := got["way/70"]; f.Kind != model.KindNature || f.Cover != "forest" || len(f.Footprint) != 5 {
		t.Fatalf("forest=%+v", f)
	}
	if f := got["way/72"]; f.Cover != "park" {
		t.Fatalf("park=%+v", f)
	}
	if f := got["relation/80"]; f.Kind != model.KindNature || f.Cover != "scrub" || len(f.Footprint) != 5 {
		t.Fatalf("scrub relation=%+v", f)
	}
	tree := got["node/90"]
	if tree.Kind != model.KindTree || tree.Position == nil || tree.Position.Lon() != 0.0005 || tree.Height == nil || *tree.Height != 12 {
		t.Fatalf("tree=%+v", tree)
	}

	// the same payload carries nothing for the building layer
	bs, _, err := OverpassDecoder{}.Decode(LayerBuildings, []byte(overpassNature))
	if err != nil || len(bs) != 0 {
		t.Fatalf("buildings=%v err=%v", bs, err)
	}
}
