package tiles

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/paulmach/orb/maptile"

	"github.com/mohammed-shakir/osm-context/internal/mosaic"
)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestClient_URL(t *testing.T) {
	c := New(discard(), nil)
	if got := c.URL(maptile.New(17, 42, 6)); got != "https://tile.openstreetmap.org/6/17/42.png" {
		t.Fatalf("URL=%q", got)
	}
	c = New(discard(), nil, WithURLTemplate("http://x/{z}-{y}-{x}"))
	if got := c.URL(maptile.New(1, 2, 3)); got != "http://x/3-2-1" {
		t.Fatalf("URL=%q", got)
	}
}

func TestClient_FetchTileImage(t *testing.T) {
	var mu sync.Mutex
	var paths, agents []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		paths = append(paths, r.URL.Path)
		agents = append(agents, r.Header.Get("User-Agent"))
		mu.Unlock()
		switch {
		case strings.HasPrefix(r.URL.Path, "/5/"):
			_, _ = w.Write([]byte("png-bytes"))
		case strings.HasPrefix(r.URL.Path, "/6/"):
			http.NotFound(w, r)
		default:
			http.Error(w, "overloaded", http.StatusServiceUnavailable)
		}
	}))
	defer srv.Close()

	c := New(discard(), srv.Client(), WithURLTemplate(srv.URL+"/{z}/{x}/{y}.png"), WithUserAgent("ua-test"))

	b, err := c.FetchTileImage(context.Background(), maptile.New(3, 4, 5))
	if err != nil || string(b) != "png-bytes" {
		t.Fatalf("got %q, %v", b, err)
	}
	if paths[0] != "/5/3/4.png" || agents[0] != "ua-test" {
		t.Fatalf("path=%q agent=%q", paths[0], agents[0])
	}

	_, err = c.FetchTileImage(context.Background(), maptile.New(3, 4, 6))
	if !errors.Is(err, mosaic.ErrTileNotFound) {
		t.Fatalf("err=%v want ErrTileNotFound", err)
	}

	_, err = c.FetchTileImage(context.Background(), maptile.New(3, 4, 7))
	if err == nil || errors.Is(err, mosaic.ErrTileNotFound) || !strings.Contains(err.Error(), "503") {
		t.Fatalf("err=%v", err)
	}
}

func TestClient_RateLimitCanceled(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		_, _ = w.Write([]byte("x"))
	}))
	defer srv.Close()

	c := New(discard(), srv.Client(), WithURLTemplate(srv.URL+"/{z}/{x}/{y}"), WithRateLimit(0.001, 1))
	if _, err := c.FetchTileImage(context.Background(), maptile.New(0, 0, 0)); err != nil {
		t.Fatalf("first: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := c.FetchTileImage(ctx, maptile.New(0, 0, 0)); err == nil {
		t.Fatalf("expected limiter error")
	}
	if calls != 1 {
		t.Fatalf("calls=%d", calls)
	}
}
