package h3mapper

import (
	"errors"
	"fmt"
	"sort"

	h3 "github.com/uber/h3-go/v4"

	"github.com/mohammed-shakir/osm-context/internal/core/model"
	"github.com/mohammed-shakir/osm-context/internal/mapper"
)

var _ mapper.Interface = (*Mapper)(nil)

type Mapper struct{}

func New() *Mapper { return &Mapper{} }

// CellForPoint returns the cell containing lat/lon at res.
func (m *Mapper) CellForPoint(lat, lon float64, res int) (string, error) {
	if err := validateRes(res); err != nil {
		return "", err
	}
	c, err := h3.LatLngToCell(h3.LatLng{Lat: lat, Lng: lon}, res)
	if err != nil {
		return "", fmt.Errorf("h3 cell: %w", err)
	}
	return c.String(), nil
}

// CellsForBBox returns every cell that can contain a point of bb: the
// polyfill of the box plus the neighbours of its edge cells, since polyfill
// only reports cells whose centers fall inside.
func (m *Mapper) CellsForBBox(bb model.BBox, res int) (model.Cells, error) {
	if err := validateRes(res); err != nil {
		return nil, err
	}
	if !(bb.X1 <= bb.X2 && bb.Y1 <= bb.Y2) {
		return nil, errors.New("bbox min exceeds max")
	}
	// Build a rectangular loop (lon,lat in EPSG:4326). v4 wants degrees.
	outer := h3.GeoLoop{
		{Lat: bb.Y1, Lng: bb.X1},
		{Lat: bb.Y1, Lng: bb.X2},
		{Lat: bb.Y2, Lng: bb.X2},
		{Lat: bb.Y2, Lng: bb.X1},
	}
	filled, err := h3.PolygonToCells(h3.GeoPolygon{GeoLoop: outer}, res)
	if err != nil {
		return nil, fmt.Errorf("h3 polyfill: %w", err)
	}

	seen := make(map[h3.Cell]struct{}, len(filled))
	for _, c := range filled {
		seen[c] = struct{}{}
	}

	// seed the ring from the corners and center so tiny boxes still get cells
	c := bb.Center()
	seeds := []h3.LatLng{
		{Lat: bb.Y1, Lng: bb.X1}, {Lat: bb.Y1, Lng: bb.X2},
		{Lat: bb.Y2, Lng: bb.X2}, {Lat: bb.Y2, Lng: bb.X1},
		{Lat: c.Lat(), Lng: c.Lon()},
	}
	edge := make([]h3.Cell, 0, len(seeds))
	for _, ll := range seeds {
		cell, err := h3.LatLngToCell(ll, res)
		if err != nil {
			return nil, fmt.Errorf("h3 cell: %w", err)
		}
		edge = append(edge, cell)
	}
	for _, cell := range filled {
		edge = append(edge, cell)
	}
	for _, cell := range edge {
		disk, err := h3.GridDisk(cell, 1)
		if err != nil {
			return nil, fmt.Errorf("h3 grid disk: %w", err)
		}
		for _, d := range disk {
			seen[d] = struct{}{}
		}
	}

	out := make([]string, 0, len(seen))
	for cell := range seen {
		out = append(out, cell.String())
	}
	sort.Strings(out)
	return out, nil
}

func validateRes(res int) error {
	if res < 0 || res > 15 {
		return fmt.Errorf("invalid H3 resolution %d (must be 0..15)", res)
	}
	return nil
}
