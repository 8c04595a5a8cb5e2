package query

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/mohammed-shakir/osm-context/internal/core/model"
	"github.com/mohammed-shakir/osm-context/internal/core/observability"
)

// GeoJSONDecoder reads a FeatureCollection such as a WFS GetFeature response
// with outputFormat=application/json. In the nature layer Point features are
// trees and polygons are green areas.
type GeoJSONDecoder struct{}

var errUnsupportedGeometry = errors.New("unsupported geometry type")

func (GeoJSONDecoder) Decode(layer Layer, payload []byte) ([]model.Feature, DecodeReport, error) {
	// features are unmarshalled one by one so a single bad record does not
	// sink the whole collection
	var envelope struct {
		Type     string            `json:"type"`
		Features []json.RawMessage `json:"features"`
	}
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return nil, DecodeReport{}, fmt.Errorf("%w: %w", ErrPayload, err)
	}
	if envelope.Type != "FeatureCollection" {
		return nil, DecodeReport{}, fmt.Errorf("%w: type %q is not a FeatureCollection", ErrPayload, envelope.Type)
	}

	var rep DecodeReport
	out := make([]model.Feature, 0, len(envelope.Features))
	for i, raw := range envelope.Features {
		gf, err := geojson.UnmarshalFeature(raw)
		if err != nil {
			rep.skip(layer, "#"+strconv.Itoa(i), err)
			continue
		}
		id := featureID(gf, i)
		fs, err := decodeGeoJSONFeature(layer, id, gf)
		if err != nil {
			rep.skip(layer, id, err)
			continue
		}
		out = append(out, fs...)
	}
	rep.Decoded = len(out)
	observability.AddFeaturesDecoded(layer.Kind().String(), len(out))
	return out, rep, nil
}

func featureID(gf *geojson.Feature, i int) string {
	if gf.ID != nil {
		return fmt.Sprint(gf.ID)
	}
	if v, ok := gf.Properties["id"]; ok && v != nil {
		return fmt.Sprint(v)
	}
	return "#" + strconv.Itoa(i)
}

func decodeGeoJSONFeature(layer Layer, id string, gf *geojson.Feature) ([]model.Feature, error) {
	if gf.Geometry == nil {
		return nil, errors.New("missing geometry")
	}
	t := tagsFromProperties(gf.Properties)

	switch layer {
	case LayerBuildings, LayerNature:
		var polys []orb.Polygon
		switch g := gf.Geometry.(type) {
		case orb.Polygon:
			polys = []orb.Polygon{g}
		case orb.MultiPolygon:
			polys = g
		case orb.Point:
			if layer == LayerNature {
				f, err := treeFeature(id, g, t)
				if err != nil {
					return nil, err
				}
				return []model.Feature{f}, nil
			}
			return nil, fmt.Errorf("%w: Point for building", errUnsupportedGeometry)
		default:
			return nil, fmt.Errorf("%w: %s for %s", errUnsupportedGeometry, g.GeoJSONType(), layer.Kind())
		}
		out := make([]model.Feature, 0, len(polys))
		for pi, p := range polys {
			f, err := areaFromPolygon(layer, p, t)
			if err != nil {
				return nil, fmt.Errorf("polygon %d: %w", pi, err)
			}
			f.ID = id
			if len(polys) > 1 {
				f.ID = id + "/" + strconv.Itoa(pi)
			}
			out = append(out, f)
		}
		return out, nil

	case LayerRoads:
		class, err := roadFromTags(t)
		if err != nil {
			return nil, err
		}
		var lines []orb.LineString
		switch g := gf.Geometry.(type) {
		case orb.LineString:
			lines = []orb.LineString{g}
		case orb.MultiLineString:
			lines = g
		default:
			return nil, fmt.Errorf("%w: %s for road", errUnsupportedGeometry, g.GeoJSONType())
		}
		out := make([]model.Feature, 0, len(lines))
		for li, l := range lines {
			line, err := validLine(l)
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", li, err)
			}
			f := model.Feature{
				Kind:   model.KindRoad,
				ID:     id,
				Line:   line,
				Class:  class,
				Closed: len(line) > 2 && line[0].Equal(line[len(line)-1]),
			}
			if len(lines) > 1 {
				f.ID = id + "/" + strconv.Itoa(li)
			}
			out = append(out, f)
		}
		return out, nil
	}
	return nil, fmt.Errorf("unknown layer %q", layer)
}

func areaFromPolygon(layer Layer, p orb.Polygon, t tags) (model.Feature, error) {
	if len(p) == 0 {
		return model.Feature{}, fmt.Errorf("%w: empty polygon", errTooFewVertices)
	}
	outer, err := closedRing(p[0])
	if err != nil {
		return model.Feature{}, fmt.Errorf("outer ring: %w", err)
	}
	f := areaFeature(layer, "", outer, t)
	if layer == LayerNature && f.Cover == "" {
		// WFS layers often publish a single class column instead of OSM tags
		f.Cover = firstNonEmpty(t["landuse"], t["natural"], t["leisure"], t["fclass"], t["type"])
	}
	for hi, h := range p[1:] {
		hole, err := closedRing(h)
		if err != nil {
			return model.Feature{}, fmt.Errorf("hole %d: %w", hi, err)
		}
		f.Holes = append(f.Holes, hole)
	}
	return f, nil
}

func firstNonEmpty(vs ...string) string {
	for _, v := range vs {
		if v != "" {
			return v
		}
	}
	return ""
}
