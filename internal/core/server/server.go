// Package server wires the HTTP routes and runs the listener.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mohammed-shakir/osm-context/internal/core/config"
	"github.com/mohammed-shakir/osm-context/internal/core/health"
	middleware "github.com/mohammed-shakir/osm-context/internal/core/middleware"
	"github.com/mohammed-shakir/osm-context/internal/core/router"
)

type Deps struct {
	Runner router.ContextRunner
	// Metrics serves /metrics when set.
	Metrics http.Handler
	// Ready gates /readyz; nil means always ready.
	Ready health.ReadinessReporter
}

func NewHandler(cfg config.Config, logger *slog.Logger, d Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logging(logger))
	r.Use(middleware.Recover(logger))
	r.Use(middleware.CORS())

	r.Get("/healthz", health.Liveness())
	r.Get("/readyz", health.Readiness(d.Ready))
	if d.Metrics != nil {
		r.Get("/metrics", d.Metrics.ServeHTTP)
	}
	r.Get("/context", router.HandleContext(logger, cfg, d.Runner))
	r.Get("/basemap", router.HandleBasemap(logger, cfg, d.Runner))
	return r
}

// sets up http and starts serving
func Run(ctx context.Context, cfg config.Config, logger *slog.Logger, d Deps) error {
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           NewHandler(cfg, logger, d),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      90 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http listen", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		return err
	}
}
