package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/mohammed-shakir/osm-context/internal/core/observability"
)

func assertHasMetricLine(t *testing.T, body, metric string, wantLabels ...string) {
	t.Helper()
	for ln := range strings.SplitSeq(body, "\n") {
		if !strings.HasPrefix(ln, metric+"{") {
			continue
		}
		ok := true
		for _, s := range wantLabels {
			if !strings.Contains(ln, s) {
				ok = false
				break
			}
		}
		if ok && (len(ln) > 0 && ln[len(ln)-1] >= '0' && ln[len(ln)-1] <= '9') {
			return
		}
	}
	t.Fatalf("expected a %s line with labels %v; got:\n%s", metric, wantLabels, body)
}

func Test_AppMetrics_CustomRegistry_Smoke(t *testing.T) {
	p := Init(Config{Build: BuildInfo{Version: "test"}})
	observability.Init(p.Registerer())

	start := time.Now()
	observability.ObserveHTTP("GET", "/context", 200, time.Since(start).Seconds())
	observability.ObserveUpstreamLatency("overpass", 0.8)
	observability.IncTileFetch(observability.TileNotFound)
	observability.ObserveMosaic(0.120)

	observability.AddCacheHits("tile_lru", 3)
	observability.AddCacheMisses("tile_lru", 1)
	observability.ObserveCacheOp("mget", nil, 0.002)
	observability.IncInvalidation("applied")

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	p.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d", rr.Code)
	}
	body := rr.Body.String()
	mustContain := []string{
		`http_request_duration_seconds_bucket`,
		`upstream_latency_seconds_count{upstream="overpass"} `,
		`basemap_mosaic_duration_seconds_count `,
		`redis_operation_duration_seconds_count`,
		`cache_invalidation_events_total{result="applied"} `,
	}
	for _, s := range mustContain {
		if !strings.Contains(body, s) {
			t.Fatalf("expected metrics to contain %q;\n---\n%s", s, body)
		}
	}

	assertHasMetricLine(t, body, "http_requests_total",
		`method="GET"`, `route="/context"`, `status="200"`)
	assertHasMetricLine(t, body, "cache_results_total",
		`cache="tile_lru"`, `outcome="hit"`)
	assertHasMetricLine(t, body, "basemap_tile_fetch_total",
		`outcome="not_found"`)
	assertHasMetricLine(t, body, "osm_context_build_info",
		`version="test"`)
}
