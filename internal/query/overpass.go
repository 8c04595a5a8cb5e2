package query

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"

	"github.com/mohammed-shakir/osm-context/internal/core/model"
	"github.com/mohammed-shakir/osm-context/internal/core/observability"
)

// OverpassDecoder reads an Overpass API [out:json] response produced by a
// "(node;way;relation); out body; >; out skel qt;" query. Buildings and
// green areas may be ways or multipolygon relations; roads are ways or
// route relations; trees are tagged nodes.
type OverpassDecoder struct{}

type overpassResponse struct {
	Elements []overpassElement `json:"elements"`
}

type overpassElement struct {
	Type    string           `json:"type"`
	ID      int64            `json:"id"`
	Lat     *float64         `json:"lat,omitempty"`
	Lon     *float64         `json:"lon,omitempty"`
	Nodes   []int64          `json:"nodes,omitempty"`
	Members []overpassMember `json:"members,omitempty"`
	Tags    tags             `json:"tags,omitempty"`
}

type overpassMember struct {
	Type string `json:"type"`
	Ref  int64  `json:"ref"`
	Role string `json:"role"`
}

var (
	errMissingNode = errors.New("missing node reference")
	errOpenRing    = errors.New("relation ring does not close")
)

// selects reports whether an element belongs to layer. Only the nature
// layer takes bare nodes (trees).
func selects(layer Layer, elType string, t tags) bool {
	switch layer {
	case LayerNature:
		if elType == "node" {
			return isTree(t)
		}
		return natureCover(t) != ""
	case LayerRoads:
		v, ok := t["highway"]
		return ok && v != "no" && elType != "node"
	default:
		v, ok := t["building"]
		return ok && v != "no" && elType != "node"
	}
}

func (OverpassDecoder) Decode(layer Layer, payload []byte) ([]model.Feature, DecodeReport, error) {
	var resp overpassResponse
	if err := json.Unmarshal(payload, &resp); err != nil {
		return nil, DecodeReport{}, fmt.Errorf("%w: %w", ErrPayload, err)
	}

	nodes := make(map[int64]orb.Point)
	ways := make(map[int64][]int64)
	for _, el := range resp.Elements {
		switch el.Type {
		case "node":
			if el.Lat != nil && el.Lon != nil {
				nodes[el.ID] = orb.Point{*el.Lon, *el.Lat}
			}
		case "way":
			ways[el.ID] = el.Nodes
		}
	}

	d := overpassDoc{layer: layer, nodes: nodes, ways: ways}
	var rep DecodeReport
	var out []model.Feature
	for _, el := range resp.Elements {
		if !selects(layer, el.Type, el.Tags) {
			continue
		}
		var (
			fs  []model.Feature
			err error
			id  = el.Type + "/" + strconv.FormatInt(el.ID, 10)
		)
		switch el.Type {
		case "node":
			fs, err = d.tree(id, el)
		case "way":
			fs, err = d.way(id, el)
		case "relation":
			fs, err = d.relation(id, el)
		default:
			continue
		}
		if err != nil {
			rep.skip(layer, id, err)
			continue
		}
		out = append(out, fs...)
	}
	if out == nil {
		out = []model.Feature{}
	}
	rep.Decoded = len(out)
	observability.AddFeaturesDecoded(layer.Kind().String(), len(out))
	return out, rep, nil
}

type overpassDoc struct {
	layer Layer
	nodes map[int64]orb.Point
	ways  map[int64][]int64
}

func (d overpassDoc) coords(ids []int64) ([]orb.Point, error) {
	pts := make([]orb.Point, 0, len(ids))
	for _, id := range ids {
		p, ok := d.nodes[id]
		if !ok {
			return nil, fmt.Errorf("%w: node %d", errMissingNode, id)
		}
		pts = append(pts, p)
	}
	return pts, nil
}

func (d overpassDoc) tree(id string, el overpassElement) ([]model.Feature, error) {
	if el.Lat == nil || el.Lon == nil {
		return nil, fmt.Errorf("%w: node without coordinates", errBadCoordinate)
	}
	f, err := treeFeature(id, orb.Point{*el.Lon, *el.Lat}, el.Tags)
	if err != nil {
		return nil, err
	}
	return []model.Feature{f}, nil
}

func (d overpassDoc) way(id string, el overpassElement) ([]model.Feature, error) {
	if d.layer != LayerRoads {
		pts, err := d.coords(el.Nodes)
		if err != nil {
			return nil, err
		}
		outer, err := closedRing(pts)
		if err != nil {
			return nil, err
		}
		return []model.Feature{areaFeature(d.layer, id, outer, el.Tags)}, nil
	}

	class, err := roadFromTags(el.Tags)
	if err != nil {
		return nil, err
	}
	return d.roadRuns(id, el.Nodes, class)
}

func (d overpassDoc) roadRuns(id string, nodeIDs []int64, class model.RoadClass) ([]model.Feature, error) {
	runs := splitAtRepeats(nodeIDs)
	out := make([]model.Feature, 0, len(runs))
	for i, run := range runs {
		pts, err := d.coords(run)
		if err != nil {
			return nil, err
		}
		line, err := validLine(pts)
		if err != nil {
			return nil, err
		}
		f := model.Feature{
			Kind:   model.KindRoad,
			ID:     id,
			Line:   line,
			Class:  class,
			Closed: len(run) > 2 && run[0] == run[len(run)-1],
		}
		if len(runs) > 1 {
			f.ID = id + "/" + strconv.Itoa(i)
		}
		out = append(out, f)
	}
	return out, nil
}

func (d overpassDoc) relation(id string, el overpassElement) ([]model.Feature, error) {
	if d.layer == LayerRoads {
		class, err := roadFromTags(el.Tags)
		if err != nil {
			return nil, err
		}
		var out []model.Feature
		for i, m := range el.Members {
			if m.Type != "way" {
				continue
			}
			nodeIDs, ok := d.ways[m.Ref]
			if !ok {
				return nil, fmt.Errorf("%w: way %d", errMissingNode, m.Ref)
			}
			fs, err := d.roadRuns(id+"/"+strconv.Itoa(i), nodeIDs, class)
			if err != nil {
				return nil, err
			}
			out = append(out, fs...)
		}
		if len(out) == 0 {
			return nil, fmt.Errorf("%w: relation has no way members", errTooFewVertices)
		}
		return out, nil
	}

	var outerWays, innerWays [][]int64
	for _, m := range el.Members {
		if m.Type != "way" {
			continue
		}
		nodeIDs, ok := d.ways[m.Ref]
		if !ok {
			return nil, fmt.Errorf("%w: way %d", errMissingNode, m.Ref)
		}
		switch m.Role {
		case "outer", "":
			outerWays = append(outerWays, nodeIDs)
		case "inner":
			innerWays = append(innerWays, nodeIDs)
		}
	}
	outerIDs, err := stitchRings(outerWays)
	if err != nil {
		return nil, fmt.Errorf("outer: %w", err)
	}
	if len(outerIDs) == 0 {
		return nil, fmt.Errorf("%w: relation has no outer ring", errTooFewVertices)
	}
	innerIDs, err := stitchRings(innerWays)
	if err != nil {
		return nil, fmt.Errorf("inner: %w", err)
	}

	out := make([]model.Feature, 0, len(outerIDs))
	for i, ids := range outerIDs {
		pts, err := d.coords(ids)
		if err != nil {
			return nil, err
		}
		ring, err := closedRing(pts)
		if err != nil {
			return nil, err
		}
		fid := id
		if len(outerIDs) > 1 {
			fid = id + "/" + strconv.Itoa(i)
		}
		out = append(out, areaFeature(d.layer, fid, ring, el.Tags))
	}
	for _, ids := range innerIDs {
		pts, err := d.coords(ids)
		if err != nil {
			return nil, err
		}
		hole, err := closedRing(pts)
		if err != nil {
			return nil, fmt.Errorf("inner: %w", err)
		}
		for i := range out {
			if planar.RingContains(out[i].Footprint, hole[0]) {
				out[i].Holes = append(out[i].Holes, hole)
				break
			}
		}
	}
	return out, nil
}

// stitchRings joins way fragments end to end (reversing where needed) into
// closed node rings.
func stitchRings(parts [][]int64) ([][]int64, error) {
	used := make([]bool, len(parts))
	var rings [][]int64
	for start := range parts {
		if used[start] || len(parts[start]) == 0 {
			continue
		}
		used[start] = true
		ring := append([]int64(nil), parts[start]...)
		for ring[0] != ring[len(ring)-1] {
			extended := false
			end := ring[len(ring)-1]
			for i, p := range parts {
				if used[i] || len(p) == 0 {
					continue
				}
				switch end {
				case p[0]:
					ring = append(ring, p[1:]...)
				case p[len(p)-1]:
					for j := len(p) - 2; j >= 0; j-- {
						ring = append(ring, p[j])
					}
				default:
					continue
				}
				used[i] = true
				extended = true
				break
			}
			if !extended {
				return nil, fmt.Errorf("%w: stuck at node %d", errOpenRing, end)
			}
		}
		rings = append(rings, ring)
	}
	return rings, nil
}
