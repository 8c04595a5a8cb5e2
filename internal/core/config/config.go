// Package config loads service settings from the environment.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Geometry providers.
const (
	ProviderOverpass = "overpass"
	ProviderWFS      = "wfs"
)

type Config struct {
	Addr     string
	LogLevel string

	GeometryProvider   string
	// Layers is the comma separated set fetched per query (buildings,roads,nature).
	Layers             string
	OverpassURL        string
	OverpassRPS        float64
	GeoServerURL       string
	WFSBuildingsLayer  string
	WFSRoadsLayer      string
	WFSNatureLayer     string
	WFSGeomField       string
	WFSAreaFilter      bool
	UpstreamTimeout    time.Duration
	TileURLTemplate    string
	TileUserAgent      string
	TileMaxInFlight    int
	TileTimeout        time.Duration
	TileRPS            float64
	TileLRUSize        int
	TileMaxTiles       int
	TileAttribution    string
	MinRadius          float64
	MaxRadius          float64
	DefaultRadius      float64
	CacheEnabled       bool
	RedisAddr          string
	RedisPoolSize      int
	RedisMinIdle       int
	RedisDialTimeout   time.Duration
	RedisReadTimeout   time.Duration
	RedisWriteTimeout  time.Duration
	CacheOpTimeout     time.Duration
	CacheTTLGeometry   time.Duration
	CacheTTLTiles      time.Duration
	CacheAdmitMin      float64
	CacheAdmitHalfLife time.Duration
	H3Res              int
}

func FromEnv() Config {
	res := getint("H3_RES", 8)
	if res < 0 || res > 15 {
		res = 8
	}
	minR := getfloat("RADIUS_MIN", 50)
	maxR := getfloat("RADIUS_MAX", 1000)
	if minR <= 0 || maxR < minR {
		minR, maxR = 50, 1000
	}
	provider := strings.ToLower(getenv("GEOMETRY_PROVIDER", ProviderOverpass))
	if provider != ProviderWFS {
		provider = ProviderOverpass
	}

	return Config{
		Addr:               getenv("ADDR", ":8090"),
		LogLevel:           getenv("LOG_LEVEL", "info"),
		GeometryProvider:   provider,
		Layers:             getenv("LAYERS", "buildings,roads,nature"),
		OverpassURL:        getenv("OVERPASS_URL", "https://overpass-api.de/api/interpreter"),
		OverpassRPS:        getfloat("OVERPASS_RPS", 1),
		GeoServerURL:       getenv("GEOSERVER_URL", "http://localhost:8080/geoserver"),
		WFSBuildingsLayer:  getenv("WFS_BUILDINGS_LAYER", "osm:buildings"),
		WFSRoadsLayer:      getenv("WFS_ROADS_LAYER", "osm:roads"),
		WFSNatureLayer:     getenv("WFS_NATURE_LAYER", "osm:nature"),
		WFSGeomField:       getenv("WFS_GEOM_FIELD", "geom"),
		WFSAreaFilter:      getbool("WFS_AREA_FILTER", false),
		UpstreamTimeout:    getduration("UPSTREAM_TIMEOUT", 30*time.Second),
		TileURLTemplate:    getenv("TILE_URL_TEMPLATE", "https://tile.openstreetmap.org/{z}/{x}/{y}.png"),
		TileUserAgent:      getenv("TILE_USER_AGENT", "osm-context/1.0"),
		TileMaxInFlight:    getint("TILE_MAX_IN_FLIGHT", 8),
		TileTimeout:        getduration("TILE_TIMEOUT", 10*time.Second),
		TileRPS:            getfloat("TILE_RPS", 0),
		TileLRUSize:        getint("TILE_LRU_SIZE", 1024),
		TileMaxTiles:       getint("TILE_MAX_TILES", 400),
		TileAttribution:    getenv("TILE_ATTRIBUTION", "© OpenStreetMap contributors"),
		MinRadius:          minR,
		MaxRadius:          maxR,
		DefaultRadius:      getfloat("RADIUS_DEFAULT", 500),
		CacheEnabled:       getbool("CACHE_ENABLED", false),
		RedisAddr:          getenv("REDIS_ADDR", "localhost:6379"),
		RedisPoolSize:      getint("REDIS_POOL_SIZE", 64),
		RedisMinIdle:       getint("REDIS_MIN_IDLE_CONNS", 4),
		RedisDialTimeout:   getduration("REDIS_DIAL_TIMEOUT", 2*time.Second),
		RedisReadTimeout:   getduration("REDIS_READ_TIMEOUT", time.Second),
		RedisWriteTimeout:  getduration("REDIS_WRITE_TIMEOUT", time.Second),
		CacheOpTimeout:     getduration("CACHE_OP_TIMEOUT", 250*time.Millisecond),
		CacheTTLGeometry:   getduration("CACHE_TTL_GEOMETRY", time.Hour),
		CacheTTLTiles:      getduration("CACHE_TTL_TILES", 24*time.Hour),
		CacheAdmitMin:      getfloat("CACHE_ADMIT_MIN_REQUESTS", 0),
		CacheAdmitHalfLife: getduration("CACHE_ADMIT_HALF_LIFE", 5*time.Minute),
		H3Res:              res,
	}
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getint(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v := os.Getenv(k); v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "t", "true", "y", "yes":
			return true
		case "0", "f", "false", "n", "no":
			return false
		}
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v := os.Getenv(k); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getduration(k string, def time.Duration) time.Duration {
	if v := os.Getenv(k); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
