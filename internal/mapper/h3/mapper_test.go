package h3mapper

import (
	"reflect"
	"slices"
	"sort"
	"testing"

	"github.com/mohammed-shakir/osm-context/internal/core/model"
)

func TestBBox_HappyPath_SortedUnique(t *testing.T) {
	m := New()
	bb := model.BBox{X1: 17.95, Y1: 59.30, X2: 18.15, Y2: 59.40, SRID: "EPSG:4326"}

	cells, err := m.CellsForBBox(bb, 8)
	if err != nil {
		t.Fatalf("CellsForBBox err: %v", err)
	}
	if len(cells) == 0 {
		t.Fatalf("expected non-empty cells for bbox")
	}
	if !sort.StringsAreSorted([]string(cells)) {
		t.Fatalf("cells must be sorted")
	}
	if hasDups(cells) {
		t.Fatalf("cells must be de-duplicated")
	}
	again, err := m.CellsForBBox(bb, 8)
	if err != nil || !reflect.DeepEqual(cells, again) {
		t.Fatalf("expected identical output for identical input")
	}
}

func TestBBox_TinyBoxStillCoversPoints(t *testing.T) {
	m := New()
	// far smaller than one res-8 cell
	bb := model.BBox{X1: 18.0680, Y1: 59.3290, X2: 18.0690, Y2: 59.3295}
	cells, err := m.CellsForBBox(bb, 8)
	if err != nil {
		t.Fatalf("CellsForBBox: %v", err)
	}
	for _, p := range [][2]float64{{59.3290, 18.0680}, {59.3295, 18.0690}, {59.32925, 18.0685}} {
		c, err := m.CellForPoint(p[0], p[1], 8)
		if err != nil {
			t.Fatalf("CellForPoint: %v", err)
		}
		if !slices.Contains(cells, c) {
			t.Fatalf("cell %s for %v not in cover %v", c, p, cells)
		}
	}
}

func TestBounds_InvalidResolutionAndBox(t *testing.T) {
	m := New()
	bb := model.BBox{X1: 11, Y1: 55, X2: 11.01, Y2: 55.01, SRID: "EPSG:4326"}

	if _, err := m.CellsForBBox(bb, -1); err == nil {
		t.Fatalf("expected error for res=-1")
	}
	if _, err := m.CellsForBBox(bb, 16); err == nil {
		t.Fatalf("expected error for res=16")
	}
	if _, err := m.CellForPoint(55, 11, 16); err == nil {
		t.Fatalf("expected error for res=16")
	}
	if _, err := m.CellsForBBox(model.BBox{X1: 12, Y1: 55, X2: 11, Y2: 56}, 8); err == nil {
		t.Fatalf("expected error for inverted box")
	}
}

func hasDups(s []string) bool {
	seen := map[string]struct{}{}
	for _, v := range s {
		if _, ok := seen[v]; ok {
			return true
		}
		seen[v] = struct{}{}
	}
	return false
}
