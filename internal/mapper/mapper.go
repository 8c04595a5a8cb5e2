// Package mapper converts between geographic coordinates and H3 cells.
package mapper

import (
	"github.com/mohammed-shakir/osm-context/internal/core/model"
)

type Interface interface {
	CellForPoint(lat, lon float64, res int) (string, error)
	CellsForBBox(bb model.BBox, res int) (model.Cells, error)
}
