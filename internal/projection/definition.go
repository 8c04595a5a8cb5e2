// Package projection builds the location-centered Transverse Mercator
// projection used to express provider geometry in local meters.
package projection

import (
	"fmt"
	"strconv"

	"github.com/mohammed-shakir/osm-context/internal/core/model"
)

// Definition is a Transverse Mercator projection anchored at a location.
type Definition struct {
	CenterLatitude  float64 `json:"lat_0"`
	CenterLongitude float64 `json:"lon_0"`
	FalseEasting    float64 `json:"x_0"`
	FalseNorthing   float64 `json:"y_0"`
	ScaleFactor     float64 `json:"k_0"`
}

// Build returns the projection whose central meridian and latitude of origin
// are the location itself, so the location maps to local (0,0).
func Build(loc model.Location) (Definition, error) {
	if err := loc.Validate(); err != nil {
		return Definition{}, fmt.Errorf("build projection: %w", err)
	}
	return Definition{
		CenterLatitude:  loc.Latitude,
		CenterLongitude: loc.Longitude,
		FalseEasting:    0,
		FalseNorthing:   0,
		ScaleFactor:     1,
	}, nil
}

// Proj4 renders the definition as a PROJ.4 string on the WGS84 ellipsoid.
func (d Definition) Proj4() string {
	return "+proj=tmerc" +
		" +lat_0=" + ftoa(d.CenterLatitude) +
		" +lon_0=" + ftoa(d.CenterLongitude) +
		" +k_0=" + ftoa(d.ScaleFactor) +
		" +x_0=" + ftoa(d.FalseEasting) +
		" +y_0=" + ftoa(d.FalseNorthing) +
		" +ellps=WGS84 +datum=WGS84 +units=m +no_defs"
}

func ftoa(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
