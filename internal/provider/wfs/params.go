package wfs

import (
	"fmt"
	"math"
	"net/url"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkt"

	"github.com/mohammed-shakir/osm-context/internal/core/model"
)

func OWSEndpoint(geoServerBase string) string {
	return strings.TrimRight(geoServerBase, "/") + "/ows"
}

// Request is one GetFeature call for a single feature type.
type Request struct {
	TypeName  string
	BBox      model.BBox
	Area      orb.Polygon // optional; replaces the bbox with an INTERSECTS filter
	GeomField string
	Filters   string
}

func BuildGetFeatureParams(q Request) url.Values {
	return BuildGetFeatureParamsFormat(q, "application/json")
}

func BuildGetFeatureParamsFormat(q Request, outputFormat string) url.Values {
	params := url.Values{}
	params.Set("service", "WFS")
	params.Set("version", "2.0.0")
	params.Set("request", "GetFeature")
	params.Set("typeNames", q.TypeName)
	params.Set("srsName", "EPSG:4326")

	// prefer the area over the bbox and combine with filters if both present
	if len(q.Area) > 0 {
		field := q.GeomField
		if field == "" {
			field = "geom"
		}
		cql := fmt.Sprintf("INTERSECTS(%s, SRID=4326;%s)", field, wkt.MarshalString(q.Area))
		if q.Filters != "" {
			cql = fmt.Sprintf("(%s) AND (%s)", q.Filters, cql)
		}
		params.Set("cql_filter", cql)
	} else {
		params.Set("bbox", q.BBox.String())
		if q.Filters != "" {
			params.Set("cql_filter", q.Filters)
		}
	}
	if strings.TrimSpace(outputFormat) == "" {
		outputFormat = "application/json"
	}
	params.Set("outputFormat", outputFormat)
	return params
}

// EllipseArea returns an n-gon enclosing the ellipse inscribed in bb. The
// query circle lies inside that ellipse, so features the bbox would return
// but the circle cannot reach are filtered upstream.
func EllipseArea(bb model.BBox, n int) orb.Polygon {
	if n < 8 {
		n = 8
	}
	c := bb.Center()
	// push vertices out so the polygon edges stay outside the ellipse
	grow := 1 / math.Cos(math.Pi/float64(n))
	rx := (bb.X2 - bb.X1) / 2 * grow
	ry := (bb.Y2 - bb.Y1) / 2 * grow
	ring := make(orb.Ring, 0, n+1)
	for i := 0; i < n; i++ {
		a := 2 * math.Pi * float64(i) / float64(n)
		ring = append(ring, orb.Point{c.X() + rx*math.Cos(a), c.Y() + ry*math.Sin(a)})
	}
	ring = append(ring, ring[0])
	return orb.Polygon{ring}
}
