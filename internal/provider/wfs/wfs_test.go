package wfs

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"

	"github.com/mohammed-shakir/osm-context/internal/core/model"
	"github.com/mohammed-shakir/osm-context/internal/query"
)

type upstreamRecorder struct {
	mu         sync.Mutex
	lastPath   string
	lastQuery  url.Values
	lastHeader http.Header
	status     int
	body       string
}

func (u *upstreamRecorder) handler(w http.ResponseWriter, r *http.Request) {
	u.mu.Lock()
	u.lastPath = r.URL.Path
	u.lastQuery = r.URL.Query()
	u.lastHeader = r.Header.Clone()
	status, body := u.status, u.body
	u.mu.Unlock()

	if status == 0 {
		status = http.StatusOK
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}

func (u *upstreamRecorder) snapshot() (string, url.Values, http.Header) {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.lastPath, u.lastQuery, u.lastHeader
}

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

var testBBox = model.BBox{X1: 11, Y1: 55, X2: 12, Y2: 56, SRID: "EPSG:4326"}

func TestBuildGetFeatureParams_WithBBox(t *testing.T) {
	v := BuildGetFeatureParams(Request{TypeName: "osm:buildings", BBox: testBBox})
	assertHas := func(k, want string) {
		if got := v.Get(k); got != want {
			t.Fatalf("param %q got %q want %q", k, got, want)
		}
	}
	assertHas("service", "WFS")
	assertHas("request", "GetFeature")
	assertHas("typeNames", "osm:buildings")
	assertHas("srsName", "EPSG:4326")
	assertHas("outputFormat", "application/json")
	assertHas("bbox", "11.000000,55.000000,12.000000,56.000000,EPSG:4326")
}

func TestBuildGetFeatureParams_WithArea(t *testing.T) {
	q := Request{
		TypeName: "osm:roads",
		Area:     orb.Polygon{{{11, 55}, {12, 55}, {12, 56}, {11, 56}, {11, 55}}},
		Filters:  "highway <> 'proposed'",
	}
	v := BuildGetFeatureParams(q)
	cql := v.Get("cql_filter")
	if !strings.Contains(cql, "INTERSECTS(geom, SRID=4326;POLYGON") || !strings.Contains(cql, "highway <> 'proposed'") {
		t.Fatalf("expected area INTERSECTS combined with filters; got %q", cql)
	}
	if got := v.Get("bbox"); got != "" {
		t.Fatalf("bbox must be empty when an area is provided; got %q", got)
	}
}

func TestEllipseArea_CoversInscribedEllipse(t *testing.T) {
	area := EllipseArea(testBBox, 32)
	ring := area[0]
	if len(ring) != 33 || ring[0] != ring[len(ring)-1] {
		t.Fatalf("ring not closed: %d points", len(ring))
	}
	c := testBBox.Center()
	// points on the inscribed ellipse must be inside the polygon
	for _, p := range []orb.Point{
		{testBBox.X2 - 1e-9, c.Y()},
		{c.X(), testBBox.Y1 + 1e-9},
		{c.X() + 0.5*0.7071, c.Y() + 0.5*0.7071},
	} {
		if !planar.PolygonContains(area, p) {
			t.Fatalf("point %v outside area", p)
		}
	}
}

func TestOWSEndpoint(t *testing.T) {
	base := "http://localhost:8080/geoserver/"
	want := "http://localhost:8080/geoserver/ows"
	if got := OWSEndpoint(base); got != want {
		t.Fatalf("OWSEndpoint got %q want %q", got, want)
	}
}

func TestClient_FetchRawGeometry(t *testing.T) {
	up := &upstreamRecorder{body: `{"type":"FeatureCollection","features":[]}`}
	srv := httptest.NewServer(http.HandlerFunc(up.handler))
	defer srv.Close()

	c, err := New(discard(), srv.Client(), srv.URL+"/geoserver/ows", WithTypeName(query.LayerRoads, "city:streets"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	b, err := c.FetchRawGeometry(context.Background(), query.LayerRoads, testBBox)
	if err != nil {
		t.Fatalf("FetchRawGeometry: %v", err)
	}
	if !strings.Contains(string(b), "FeatureCollection") {
		t.Fatalf("body=%q", b)
	}
	path, q, h := up.snapshot()
	if path != "/geoserver/ows" {
		t.Fatalf("path=%q", path)
	}
	if q.Get("typeNames") != "city:streets" || q.Get("bbox") == "" {
		t.Fatalf("query=%v", q)
	}
	if h.Get("Accept") != "application/json" {
		t.Fatalf("accept=%q", h.Get("Accept"))
	}

	if _, err := c.FetchRawGeometry(context.Background(), query.LayerBuildings, testBBox); err != nil {
		t.Fatalf("buildings: %v", err)
	}
	_, q, _ = up.snapshot()
	if q.Get("typeNames") != "osm:buildings" {
		t.Fatalf("default type name not used: %v", q)
	}
}

func TestClient_AreaFilter(t *testing.T) {
	up := &upstreamRecorder{body: `{}`}
	srv := httptest.NewServer(http.HandlerFunc(up.handler))
	defer srv.Close()

	c, err := New(discard(), nil, srv.URL+"/ows", WithAreaFilter(true), WithGeomField("way"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := c.FetchRawGeometry(context.Background(), query.LayerBuildings, testBBox); err != nil {
		t.Fatalf("FetchRawGeometry: %v", err)
	}
	_, q, _ := up.snapshot()
	if !strings.HasPrefix(q.Get("cql_filter"), "INTERSECTS(way, SRID=4326;POLYGON") {
		t.Fatalf("cql_filter=%q", q.Get("cql_filter"))
	}
}

func TestClient_UpstreamErrorStatus(t *testing.T) {
	up := &upstreamRecorder{status: http.StatusServiceUnavailable, body: "layer offline"}
	srv := httptest.NewServer(http.HandlerFunc(up.handler))
	defer srv.Close()

	c, _ := New(discard(), srv.Client(), srv.URL+"/ows")
	_, err := c.FetchRawGeometry(context.Background(), query.LayerRoads, testBBox)
	if err == nil || !strings.Contains(err.Error(), "503") || !strings.Contains(err.Error(), "layer offline") {
		t.Fatalf("err=%v", err)
	}
}

func TestClient_UnknownLayer(t *testing.T) {
	c, _ := New(discard(), nil, "http://127.0.0.1:1/ows")
	if _, err := c.FetchRawGeometry(context.Background(), query.Layer("water"), testBBox); err == nil {
		t.Fatalf("expected error for unknown layer")
	}
}

func TestClient_ContextCanceled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	c, _ := New(discard(), srv.Client(), srv.URL+"/ows")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.FetchRawGeometry(ctx, query.LayerRoads, testBBox)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err=%v want context.Canceled", err)
	}
}
