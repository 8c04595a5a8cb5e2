package redisstore

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
)

func TestSet_TileAndGeometryTTLs(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	t.Cleanup(cancel)

	rc, err := New(ctx, mr.Addr())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = rc.Close() })

	const (
		tileKey = "tile:osm:17/70406/42987"
		geomKey = "geom:buildings:8:881f1d4887fffff:f=00000000000000aa"
	)
	if err := rc.Set(ctx, tileKey, []byte("png"), 24*time.Hour); err != nil {
		t.Fatalf("Set tile: %v", err)
	}
	if err := rc.Set(ctx, geomKey, []byte("{}"), 10*time.Minute); err != nil {
		t.Fatalf("Set geometry: %v", err)
	}
	if got := mr.TTL(tileKey); got != 24*time.Hour {
		t.Fatalf("tile ttl=%v", got)
	}

	mr.FastForward(11 * time.Minute)

	got, err := rc.MGet(ctx, []string{tileKey, geomKey})
	if err != nil {
		t.Fatalf("MGet: %v", err)
	}
	if _, ok := got[geomKey]; ok {
		t.Fatalf("geometry payload outlived its ttl: %v", got)
	}
	if string(got[tileKey]) != "png" {
		t.Fatalf("tile evicted early: %v", got)
	}
}
