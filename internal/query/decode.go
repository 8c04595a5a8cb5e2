package query

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/paulmach/orb"

	"github.com/mohammed-shakir/osm-context/internal/core/model"
)

var (
	errTooFewVertices = errors.New("too few distinct vertices")
	errBadCoordinate  = errors.New("invalid coordinate")
	errAreaHighway    = errors.New("highway mapped as area")
)

// tags is the flattened key/value view shared by both payload formats.
type tags map[string]string

func tagsFromProperties(props map[string]any) tags {
	out := make(tags, len(props))
	for k, v := range props {
		switch t := v.(type) {
		case string:
			out[k] = t
		case float64:
			out[k] = strconv.FormatFloat(t, 'f', -1, 64)
		case bool:
			out[k] = strconv.FormatBool(t)
		case nil:
		default:
			out[k] = fmt.Sprint(t)
		}
	}
	return out
}

// numericTag reads values like "12", "12.5 m" or "3;4" and keeps the first
// number.
func numericTag(v string) (float64, bool) {
	v = strings.TrimSpace(v)
	if i := strings.IndexAny(v, ",;"); i >= 0 {
		v = v[:i]
	}
	end := 0
	for end < len(v) && (v[end] >= '0' && v[end] <= '9' || v[end] == '.' || (end == 0 && v[end] == '-')) {
		end++
	}
	f, err := strconv.ParseFloat(v[:end], 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func applyBuildingTags(f *model.Feature, t tags) {
	f.BuildingType = t["building"]
	if h, ok := numericTag(t["height"]); ok && h > 0 {
		f.Height = &h
	}
	levels := t["building:levels"]
	if levels == "" {
		levels = t["levels"]
	}
	if l, ok := numericTag(levels); ok && l > 0 {
		f.Levels = &l
	}
	if layer, ok := numericTag(t["layer"]); ok && layer < 0 {
		f.Underground = true
	}
	if t["location"] == "underground" {
		f.Underground = true
	}
}

// NatureTag is one OSM key whose listed values decode into the nature layer.
type NatureTag struct {
	Key    string
	Values []string
}

// NatureTags lists the green-area tags, in lookup order.
var NatureTags = []NatureTag{
	{Key: "landuse", Values: []string{"forest", "meadow", "grass"}},
	{Key: "natural", Values: []string{"scrub", "grassland"}},
	{Key: "leisure", Values: []string{"nature_reserve", "garden", "park", "playground"}},
}

// natureCover returns the first green-area tag value found, or "".
func natureCover(t tags) string {
	for _, nt := range NatureTags {
		v := t[nt.Key]
		for _, want := range nt.Values {
			if v == want {
				return v
			}
		}
	}
	return ""
}

func isTree(t tags) bool { return t["natural"] == "tree" }

// areaFeature builds the polygon record for layer: a building, or a green
// area in the nature layer.
func areaFeature(layer Layer, id string, outer orb.Ring, t tags) model.Feature {
	if layer == LayerNature {
		return model.Feature{Kind: model.KindNature, ID: id, Footprint: outer, Cover: natureCover(t)}
	}
	f := model.Feature{Kind: model.KindBuilding, ID: id, Footprint: outer}
	applyBuildingTags(&f, t)
	return f
}

func treeFeature(id string, p orb.Point, t tags) (model.Feature, error) {
	if !validPoint(p) {
		return model.Feature{}, fmt.Errorf("%w: %v", errBadCoordinate, p)
	}
	f := model.Feature{Kind: model.KindTree, ID: id, Position: &p}
	if h, ok := numericTag(t["height"]); ok && h > 0 {
		f.Height = &h
	}
	return f, nil
}

func roadFromTags(t tags) (model.RoadClass, error) {
	if t["area"] == "yes" {
		return 0, errAreaHighway
	}
	return model.ParseRoadClass(t["highway"]), nil
}

func validPoint(p orb.Point) bool {
	lon, lat := p.Lon(), p.Lat()
	if math.IsNaN(lon) || math.IsNaN(lat) || math.IsInf(lon, 0) || math.IsInf(lat, 0) {
		return false
	}
	return lon >= -180 && lon <= 180 && lat >= -90 && lat <= 90
}

// closedRing validates a polygon ring and returns it closed.
func closedRing(pts []orb.Point) (orb.Ring, error) {
	for i, p := range pts {
		if !validPoint(p) {
			return nil, fmt.Errorf("%w at vertex %d: %v", errBadCoordinate, i, p)
		}
	}
	r := append(orb.Ring(nil), pts...)
	if len(r) > 1 && r[0].Equal(r[len(r)-1]) {
		r = r[:len(r)-1]
	}
	if distinct(r) < 3 {
		return nil, fmt.Errorf("%w: polygon has %d", errTooFewVertices, distinct(r))
	}
	return append(r, r[0]), nil
}

func validLine(pts []orb.Point) (orb.LineString, error) {
	for i, p := range pts {
		if !validPoint(p) {
			return nil, fmt.Errorf("%w at vertex %d: %v", errBadCoordinate, i, p)
		}
	}
	if distinct(pts) < 2 {
		return nil, fmt.Errorf("%w: line has %d", errTooFewVertices, distinct(pts))
	}
	return append(orb.LineString(nil), pts...), nil
}

func distinct(pts []orb.Point) int {
	seen := make(map[orb.Point]struct{}, len(pts))
	for _, p := range pts {
		seen[p] = struct{}{}
	}
	return len(seen)
}

// splitAtRepeats breaks a self-touching road into simple runs. A closed loop
// (first equals last, no other repeats) is returned whole.
func splitAtRepeats[T comparable](ids []T) [][]T {
	if len(ids) < 2 {
		return [][]T{ids}
	}
	body := ids
	if ids[0] == ids[len(ids)-1] {
		body = ids[:len(ids)-1]
	}
	seen := make(map[T]struct{}, len(body))
	repeats := false
	for _, id := range body {
		if _, ok := seen[id]; ok {
			repeats = true
			break
		}
		seen[id] = struct{}{}
	}
	if !repeats {
		return [][]T{ids}
	}

	var out [][]T
	cur := []T{}
	inCur := map[T]struct{}{}
	for _, id := range ids {
		if _, ok := inCur[id]; ok {
			cur = append(cur, id)
			if len(cur) > 1 {
				out = append(out, cur)
			}
			cur = []T{id}
			inCur = map[T]struct{}{id: {}}
			continue
		}
		cur = append(cur, id)
		inCur[id] = struct{}{}
	}
	if len(cur) > 1 {
		out = append(out, cur)
	}
	return out
}
