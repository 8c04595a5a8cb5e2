// Package observability holds the Prometheus collectors shared by the
// feature and basemap pipelines.
package observability

import (
	"errors"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~20s
		},
		[]string{"method", "route", "status"},
	)

	upstreamLatencySeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "upstream_latency_seconds",
			Help:    "Latency of upstream calls in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		},
		[]string{"upstream"},
	)

	tileFetchTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "basemap_tile_fetch_total",
			Help: "Basemap tile fetches by outcome.",
		},
		[]string{"outcome"},
	)

	mosaicDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "basemap_mosaic_duration_seconds",
			Help:    "Time to assemble one basemap mosaic.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		},
	)

	featuresDecodedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "features_decoded_total",
			Help: "Features decoded from provider payloads.",
		},
		[]string{"kind"},
	)

	featuresSkippedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "features_skipped_total",
			Help: "Provider records skipped during decoding.",
		},
		[]string{"layer"},
	)

	featuresDroppedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "features_dropped_total",
			Help: "Decoded features dropped during transformation.",
		},
		[]string{"kind", "reason"},
	)

	cacheResults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_results_total",
			Help: "Cache lookups by cache and outcome.",
		},
		[]string{"cache", "outcome"},
	)

	redisOpDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "redis_operation_duration_seconds",
			Help:    "Redis command latency in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
		},
		[]string{"op", "result"},
	)

	invalidationEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_invalidation_events_total",
			Help: "Invalidation events handled by result.",
		},
		[]string{"result"},
	)
)

func collectors() []prometheus.Collector {
	return []prometheus.Collector{
		httpRequestsTotal,
		httpRequestDurationSeconds,
		upstreamLatencySeconds,
		tileFetchTotal,
		mosaicDurationSeconds,
		featuresDecodedTotal,
		featuresSkippedTotal,
		featuresDroppedTotal,
		cacheResults,
		redisOpDurationSeconds,
		invalidationEventsTotal,
	}
}

// Init registers every collector with reg. Registering twice with the same
// registry is a no-op.
func Init(reg prometheus.Registerer) {
	if reg == nil {
		return
	}
	for _, c := range collectors() {
		if err := reg.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			panic(err)
		}
	}
}

func ObserveHTTP(method, route string, status int, durationSeconds float64) {
	st := strconv.Itoa(status)
	httpRequestsTotal.WithLabelValues(method, route, st).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route, st).Observe(durationSeconds)
}

func ObserveUpstreamLatency(upstream string, durationSeconds float64) {
	upstreamLatencySeconds.WithLabelValues(upstream).Observe(durationSeconds)
}

// tile outcomes
const (
	TileOK          = "ok"
	TileNotFound    = "not_found"
	TileTimeout     = "timeout"
	TileError       = "error"
	TileDecodeError = "decode_error"
	TileShared      = "shared"
)

func IncTileFetch(outcome string) {
	tileFetchTotal.WithLabelValues(outcome).Inc()
}

func ObserveMosaic(durationSeconds float64) {
	mosaicDurationSeconds.Observe(durationSeconds)
}

func AddFeaturesDecoded(kind string, n int) {
	if n <= 0 {
		return
	}
	featuresDecodedTotal.WithLabelValues(kind).Add(float64(n))
}

func IncFeatureSkipped(layer string) {
	featuresSkippedTotal.WithLabelValues(layer).Inc()
}

func IncFeatureDropped(kind, reason string) {
	featuresDroppedTotal.WithLabelValues(kind, reason).Inc()
}

func AddCacheHits(cache string, n int) {
	if n > 0 {
		cacheResults.WithLabelValues(cache, "hit").Add(float64(n))
	}
}

func AddCacheMisses(cache string, n int) {
	if n > 0 {
		cacheResults.WithLabelValues(cache, "miss").Add(float64(n))
	}
}

func ObserveCacheOp(op string, err error, durationSeconds float64) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	redisOpDurationSeconds.WithLabelValues(op, result).Observe(durationSeconds)
}

func IncInvalidation(result string) {
	invalidationEventsTotal.WithLabelValues(result).Inc()
}
