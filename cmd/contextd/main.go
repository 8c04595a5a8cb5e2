package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/mohammed-shakir/osm-context/internal/cache/admission"
	"github.com/mohammed-shakir/osm-context/internal/cache/geomcache"
	"github.com/mohammed-shakir/osm-context/internal/cache/redisstore"
	"github.com/mohammed-shakir/osm-context/internal/cache/tilecache"
	"github.com/mohammed-shakir/osm-context/internal/core/config"
	"github.com/mohammed-shakir/osm-context/internal/core/health"
	"github.com/mohammed-shakir/osm-context/internal/core/httpclient"
	"github.com/mohammed-shakir/osm-context/internal/core/observability"
	"github.com/mohammed-shakir/osm-context/internal/core/server"
	"github.com/mohammed-shakir/osm-context/internal/invalidation/kafkaconsumer"
	"github.com/mohammed-shakir/osm-context/internal/logger"
	"github.com/mohammed-shakir/osm-context/internal/mapper"
	h3mapper "github.com/mohammed-shakir/osm-context/internal/mapper/h3"
	"github.com/mohammed-shakir/osm-context/internal/metrics"
	"github.com/mohammed-shakir/osm-context/internal/mosaic"
	"github.com/mohammed-shakir/osm-context/internal/pipeline"
	"github.com/mohammed-shakir/osm-context/internal/projection"
	"github.com/mohammed-shakir/osm-context/internal/provider/overpass"
	"github.com/mohammed-shakir/osm-context/internal/provider/tiles"
	"github.com/mohammed-shakir/osm-context/internal/provider/wfs"
	"github.com/mohammed-shakir/osm-context/internal/query"
)

var Version = "dev"

func main() {
	os.Exit(run())
}

func envInt(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func run() int {
	providerFlag := flag.String("provider", "", "geometry provider (overpass|wfs)")
	flag.Parse()

	cfg := config.FromEnv()
	if p := strings.ToLower(strings.TrimSpace(*providerFlag)); p == config.ProviderOverpass || p == config.ProviderWFS {
		cfg.GeometryProvider = p
	}

	zl := logger.Build(logger.Config{
		Level:   cfg.LogLevel,
		Console: strings.ToLower(os.Getenv("LOG_CONSOLE")) == "true",
		SampleN: envInt("LOG_SAMPLE_N", 0),
		Service: "osm-context",
	}, os.Stdout)
	appLog := logger.NewSlog(&zl, "contextd")

	p := metrics.Init(metrics.Config{
		Build: metrics.BuildInfo{
			Version:   Version,
			Revision:  os.Getenv("BUILD_REVISION"),
			Branch:    os.Getenv("BUILD_BRANCH"),
			BuildDate: os.Getenv("BUILD_DATE"),
		},
		GeometryProvider: cfg.GeometryProvider,
	})
	observability.Init(p.Registerer())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	appLog.Info("starting osm-context",
		"addr", cfg.Addr,
		"version", Version,
		"provider", cfg.GeometryProvider,
		"cache", cfg.CacheEnabled)

	var rc *redisstore.Client
	if cfg.CacheEnabled {
		var err error
		rc, err = redisstore.New(ctx, cfg.RedisAddr,
			redisstore.WithPoolSize(cfg.RedisPoolSize),
			redisstore.WithMinIdleConns(cfg.RedisMinIdle),
			redisstore.WithDialTimeout(cfg.RedisDialTimeout),
			redisstore.WithReadTimeout(cfg.RedisReadTimeout),
			redisstore.WithWriteTimeout(cfg.RedisWriteTimeout))
		if err != nil {
			appLog.Error("redis unavailable", "addr", cfg.RedisAddr, "err", err)
			return 1
		}
		defer func() { _ = rc.Close() }()
	}

	rawGeometry, source, err := geometryFetcher(cfg, appLog)
	if err != nil {
		appLog.Error("geometry provider setup failed", "err", err)
		return 1
	}
	var cells mapper.Interface = h3mapper.New()
	if rc != nil {
		opts := []geomcache.Option{
			geomcache.WithTTL(cfg.CacheTTLGeometry),
			geomcache.WithOpTimeout(cfg.CacheOpTimeout),
			geomcache.WithLogger(appLog.With("component", "geomcache")),
		}
		if cfg.CacheAdmitMin > 1 {
			opts = append(opts, geomcache.WithAdmission(admission.New(cfg.CacheAdmitMin, cfg.CacheAdmitHalfLife)))
		}
		gc, err := geomcache.New(rawGeometry, rc, cells, source, cfg.H3Res, opts...)
		if err != nil {
			appLog.Error("geometry cache setup failed", "err", err)
			return 1
		}
		rawGeometry = gc
	}

	var decoder query.Decoder = query.OverpassDecoder{}
	if cfg.GeometryProvider == config.ProviderWFS {
		decoder = query.GeoJSONDecoder{}
	}
	layers, err := query.ParseLayers(cfg.Layers)
	if err != nil {
		appLog.Error("invalid LAYERS", "layers", cfg.Layers, "err", err)
		return 1
	}
	adapter := query.NewAdapter(rawGeometry, decoder,
		query.WithLayers(layers...),
		query.WithLogger(appLog.With("component", "query")))

	tileFetcher, err := tileSource(cfg, appLog, rc)
	if err != nil {
		appLog.Error("tile source setup failed", "err", err)
		return 1
	}
	assembler := mosaic.NewAssembler(tileFetcher,
		mosaic.WithMaxInFlight(cfg.TileMaxInFlight),
		mosaic.WithTileTimeout(cfg.TileTimeout),
		mosaic.WithMaxTiles(cfg.TileMaxTiles),
		mosaic.WithAttribution(cfg.TileAttribution),
		mosaic.WithLogger(appLog.With("component", "mosaic")))

	runner := pipeline.New(adapter,
		pipeline.WithBasemapBuilder(assembler),
		pipeline.WithLogger(appLog))

	deps := server.Deps{Runner: runner, Metrics: p.Handler()}

	icfg := kafkaconsumer.FromEnv()
	if icfg.Enabled {
		if rc == nil {
			appLog.Error("invalidation requires CACHE_ENABLED=true")
			return 1
		}
		cons := kafkaconsumer.New(icfg, rc, cells, kafkaconsumer.Options{
			Logger:   appLog.With("component", "invalidation"),
			Register: p.Registerer(),
			Res:      cfg.H3Res,
			Margin:   cfg.MaxRadius * projection.CoverMargin,
		})
		if err := cons.Start(ctx); err != nil {
			appLog.Error("invalidation consumer start failed", "err", err)
			return 1
		}
		defer cons.Stop()
		deps.Ready = health.ReadinessReporter(cons)
	}

	if err := server.Run(ctx, cfg, appLog, deps); err != nil {
		appLog.Error("server exited with error", "err", err)
		return 1
	}
	appLog.Info("server stopped")
	return 0
}

// geometryFetcher returns the configured provider and the source name used to
// namespace its cache keys.
func geometryFetcher(cfg config.Config, log *slog.Logger) (query.RawGeometryFetcher, string, error) {
	hc := httpclient.NewOutbound(
		httpclient.WithTimeout(cfg.UpstreamTimeout),
		httpclient.WithUserAgent(cfg.TileUserAgent))
	switch cfg.GeometryProvider {
	case config.ProviderWFS:
		c, err := wfs.New(log, hc, wfs.OWSEndpoint(cfg.GeoServerURL),
			wfs.WithTypeName(query.LayerBuildings, cfg.WFSBuildingsLayer),
			wfs.WithTypeName(query.LayerRoads, cfg.WFSRoadsLayer),
			wfs.WithTypeName(query.LayerNature, cfg.WFSNatureLayer),
			wfs.WithGeomField(cfg.WFSGeomField),
			wfs.WithAreaFilter(cfg.WFSAreaFilter))
		if err != nil {
			return nil, "", fmt.Errorf("wfs: %w", err)
		}
		return c, "wfs:" + cfg.GeoServerURL, nil
	default:
		c := overpass.New(log, hc,
			overpass.WithEndpoint(cfg.OverpassURL),
			overpass.WithUserAgent(cfg.TileUserAgent),
			overpass.WithRateLimit(cfg.OverpassRPS))
		return c, "overpass:" + cfg.OverpassURL, nil
	}
}

func tileSource(cfg config.Config, log *slog.Logger, rc *redisstore.Client) (mosaic.TileFetcher, error) {
	hc := httpclient.NewOutbound(
		httpclient.WithTimeout(cfg.TileTimeout),
		httpclient.WithUserAgent(cfg.TileUserAgent),
		httpclient.WithMaxConnsPerHost(cfg.TileMaxInFlight))
	tc := tiles.New(log, hc,
		tiles.WithURLTemplate(cfg.TileURLTemplate),
		tiles.WithUserAgent(cfg.TileUserAgent),
		tiles.WithRateLimit(cfg.TileRPS, cfg.TileMaxInFlight))

	opts := []tilecache.Option{
		tilecache.WithOpTimeout(cfg.CacheOpTimeout),
		tilecache.WithLogger(log.With("component", "tilecache")),
	}
	if rc != nil {
		opts = append(opts, tilecache.WithStore(rc, cfg.CacheTTLTiles))
	}
	return tilecache.New(tc, tc.Name(), cfg.TileLRUSize, opts...)
}
