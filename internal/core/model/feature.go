package model

import (
	"github.com/paulmach/orb"
)

type Kind int

const (
	KindBuilding Kind = iota
	KindRoad
	// KindNature is a green area (forest, park, meadow...) drawn flat.
	KindNature
	// KindTree is a single tree at Position.
	KindTree
)

func (k Kind) String() string {
	switch k {
	case KindBuilding:
		return "building"
	case KindRoad:
		return "road"
	case KindNature:
		return "nature"
	case KindTree:
		return "tree"
	default:
		return "unknown"
	}
}

// MarshalText lets Kind render as its name in JSON output.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

type RoadClass int

const (
	RoadOther RoadClass = iota
	RoadPrimary
	RoadSecondary
	RoadTertiary
	RoadResidential
	RoadService
	RoadFootway
)

// ParseRoadClass maps an OSM highway tag value onto a RoadClass.
func ParseRoadClass(highway string) RoadClass {
	switch highway {
	case "motorway", "motorway_link", "trunk", "trunk_link", "primary", "primary_link":
		return RoadPrimary
	case "secondary", "secondary_link":
		return RoadSecondary
	case "tertiary", "tertiary_link":
		return RoadTertiary
	case "residential", "living_street", "unclassified":
		return RoadResidential
	case "service":
		return RoadService
	case "footway", "path", "pedestrian", "cycleway", "steps", "track", "bridleway":
		return RoadFootway
	default:
		return RoadOther
	}
}

func (c RoadClass) String() string {
	switch c {
	case RoadPrimary:
		return "primary"
	case RoadSecondary:
		return "secondary"
	case RoadTertiary:
		return "tertiary"
	case RoadResidential:
		return "residential"
	case RoadService:
		return "service"
	case RoadFootway:
		return "footway"
	default:
		return "other"
	}
}

func (c RoadClass) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// HalfWidthMeters is the buffer distance used when a road line is widened
// into a surface.
func (c RoadClass) HalfWidthMeters() float64 {
	switch c {
	case RoadPrimary:
		return 9
	case RoadSecondary:
		return 6
	default:
		return 2
	}
}

const (
	DefaultBuildingHeight = 9.0
	MetersPerLevel        = 3.0
)

// Feature is a building footprint, a road segment, a green area or a tree.
// Coordinates are lon/lat as decoded and model-frame x/y after
// transformation.
type Feature struct {
	Kind Kind   `json:"kind"`
	ID   string `json:"id,omitempty"`

	// building and nature
	Footprint    orb.Ring   `json:"footprint,omitempty"`
	Holes        []orb.Ring `json:"holes,omitempty"`
	Height       *float64   `json:"height,omitempty"`
	Levels       *float64   `json:"levels,omitempty"`
	Underground  bool       `json:"underground,omitempty"`
	BuildingType string     `json:"building,omitempty"`

	// road
	Line   orb.LineString `json:"line,omitempty"`
	Class  RoadClass      `json:"class,omitempty"`
	Closed bool           `json:"closed,omitempty"`

	// nature: the tag value, e.g. forest or park
	Cover string `json:"cover,omitempty"`

	// tree
	Position *orb.Point `json:"position,omitempty"`
}

// EffectiveHeight resolves the extrusion height: explicit height, then
// levels, then the default. Underground buildings extrude downwards.
func (f Feature) EffectiveHeight() float64 {
	h := DefaultBuildingHeight
	switch {
	case f.Height != nil:
		h = *f.Height
	case f.Levels != nil:
		h = *f.Levels * MetersPerLevel
	}
	if f.Underground && h > 0 {
		h = -h
	}
	return h
}

// Points returns every vertex of the feature geometry.
func (f Feature) Points() []orb.Point {
	switch f.Kind {
	case KindBuilding, KindNature:
		n := len(f.Footprint)
		for _, h := range f.Holes {
			n += len(h)
		}
		out := make([]orb.Point, 0, n)
		out = append(out, f.Footprint...)
		for _, h := range f.Holes {
			out = append(out, h...)
		}
		return out
	case KindRoad:
		return append([]orb.Point(nil), f.Line...)
	case KindTree:
		if f.Position == nil {
			return nil
		}
		return []orb.Point{*f.Position}
	default:
		return nil
	}
}

// Clone deep-copies the geometry so a transformed feature never aliases its source.
func (f Feature) Clone() Feature {
	out := f
	if f.Footprint != nil {
		out.Footprint = append(orb.Ring(nil), f.Footprint...)
	}
	if f.Holes != nil {
		out.Holes = make([]orb.Ring, len(f.Holes))
		for i, h := range f.Holes {
			out.Holes[i] = append(orb.Ring(nil), h...)
		}
	}
	if f.Line != nil {
		out.Line = append(orb.LineString(nil), f.Line...)
	}
	if f.Height != nil {
		h := *f.Height
		out.Height = &h
	}
	if f.Levels != nil {
		l := *f.Levels
		out.Levels = &l
	}
	if f.Position != nil {
		p := *f.Position
		out.Position = &p
	}
	return out
}
