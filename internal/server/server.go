package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/nholik/safety-companion/internal/healthcheck"
	"github.com/nholik/safety-companion/internal/metrics"
	"github.com/rs/zerolog"
)

const shutdownTimeout = 5 * time.Second

// Routes mounts page handlers on a mux.
type Routes interface {
	Register(mux *http.ServeMux)
}

// Config describes the listeners to start.
type Config struct {
	ListenPort   int
	MetricsPort  int
	PollInterval time.Duration
}

// Start binds the UI listener and, when MetricsPort is set to a different
// port, a separate metrics listener. Servers shut down when ctx is canceled.
// The returned channel is closed once every server has stopped.
func Start(ctx context.Context, logger zerolog.Logger, cfg Config, pages Routes, tracker *healthcheck.Tracker, metricsCollector *metrics.Metrics) (<-chan struct{}, error) {
	if cfg.ListenPort <= 0 {
		return nil, errors.New("listen port is required")
	}

	separateMetrics := cfg.MetricsPort > 0 && cfg.MetricsPort != cfg.ListenPort

	uiListener, err := listen(cfg.ListenPort)
	if err != nil {
		return nil, err
	}

	var metricsListener net.Listener
	if separateMetrics {
		metricsListener, err = listen(cfg.MetricsPort)
		if err != nil {
			_ = uiListener.Close()
			return nil, err
		}
	}

	stopped := make(chan struct{})
	var pending []<-chan struct{}
	pending = append(pending, serve(ctx, logger, uiListener, NewMux(cfg, pages, tracker, metricsCollector, !separateMetrics), "ui"))
	if metricsListener != nil {
		mux := http.NewServeMux()
		registerHealthRoutes(mux, tracker, cfg.PollInterval)
		registerMetricsRoute(mux, metricsCollector)
		pending = append(pending, serve(ctx, logger, metricsListener, mux, "health/metrics"))
	}

	go func() {
		for _, done := range pending {
			<-done
		}
		close(stopped)
	}()
	return stopped, nil
}

// NewMux builds the UI mux: pages, health endpoints and optionally /metrics.
func NewMux(cfg Config, pages Routes, tracker *healthcheck.Tracker, metricsCollector *metrics.Metrics, withMetrics bool) *http.ServeMux {
	mux := http.NewServeMux()
	if pages != nil {
		pages.Register(mux)
	}
	registerHealthRoutes(mux, tracker, cfg.PollInterval)
	if withMetrics {
		registerMetricsRoute(mux, metricsCollector)
	}
	return mux
}

func registerHealthRoutes(mux *http.ServeMux, tracker *healthcheck.Tracker, pollInterval time.Duration) {
	mux.HandleFunc("GET /healthz", healthcheck.HealthHandler(tracker, pollInterval))
	mux.HandleFunc("GET /readyz", healthcheck.ReadyHandler(tracker))
}

func registerMetricsRoute(mux *http.ServeMux, metricsCollector *metrics.Metrics) {
	if metricsCollector == nil {
		return
	}
	mux.Handle("GET /metrics", metricsCollector.Handler())
}

func listen(port int) (net.Listener, error) {
	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, fmt.Errorf("listen on port %d: %w", port, err)
	}
	return listener, nil
}

func serve(ctx context.Context, logger zerolog.Logger, listener net.Listener, handler http.Handler, label string) <-chan struct{} {
	server := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	addr := listener.Addr().String()
	done := make(chan struct{})

	go func() {
		logger.Info().Str("server", label).Str("addr", addr).Msg("http server starting")
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Str("server", label).Str("addr", addr).Msg("http server failed")
		}
	}()

	go func() {
		defer close(done)
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Str("server", label).Str("addr", addr).Msg("http server shutdown failed")
		}
	}()

	return done
}
