// Package httpserver exposes Prometheus metrics and health endpoints.
package httpserver

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"guilddj/internal/core"
)

type Server struct {
	config  *core.ServerConfig
	logger  *zap.Logger
	server  *http.Server
	metrics *Metrics
}

// Metrics implements core.Metrics on a dedicated Prometheus registry.
type Metrics struct {
	registry *prometheus.Registry

	RequestsTotal    *prometheus.CounterVec
	ResolutionsTotal *prometheus.CounterVec
	SkipsTotal       *prometheus.CounterVec
	SmartPicksTotal  *prometheus.CounterVec
	ActiveGuilds     prometheus.Gauge
	QueuedTracks     prometheus.Gauge
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "guilddj_requests_total",
				Help: "Total number of song requests processed",
			},
			[]string{"kind"},
		),
		ResolutionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "guilddj_resolutions_total",
				Help: "Total number of track resolutions",
			},
			[]string{"status"},
		),
		SkipsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "guilddj_skips_total",
				Help: "Total number of skip requests",
			},
			[]string{"outcome"},
		),
		SmartPicksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "guilddj_smart_picks_total",
				Help: "Total number of Smart Play selections",
			},
			[]string{"status"},
		),
		ActiveGuilds: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "guilddj_active_guilds",
				Help: "Number of guilds a playback session has been started for since boot",
			},
		),
		QueuedTracks: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "guilddj_queued_tracks",
				Help: "Number of queued tracks across all guilds",
			},
		),
	}

	m.registry.MustRegister(
		m.RequestsTotal,
		m.ResolutionsTotal,
		m.SkipsTotal,
		m.SmartPicksTotal,
		m.ActiveGuilds,
		m.QueuedTracks,
	)
	return m
}

func (m *Metrics) RecordRequest(kind string) {
	m.RequestsTotal.WithLabelValues(kind).Inc()
}

func (m *Metrics) RecordResolution(status string) {
	m.ResolutionsTotal.WithLabelValues(status).Inc()
}

func (m *Metrics) RecordSkip(outcome string) {
	m.SkipsTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) RecordSmartPick(status string) {
	m.SmartPicksTotal.WithLabelValues(status).Inc()
}

func (m *Metrics) SetActiveGuilds(n int) {
	m.ActiveGuilds.Set(float64(n))
}

func (m *Metrics) SetQueuedTracks(n int) {
	m.QueuedTracks.Set(float64(n))
}

func NewServer(config *core.ServerConfig, metrics *Metrics, logger *zap.Logger) *Server {
	mux := setupRoutes(metrics, logger)

	return &Server{
		config:  config,
		logger:  logger,
		server:  createHTTPServer(config, mux),
		metrics: metrics,
	}
}

func createHTTPServer(config *core.ServerConfig, mux *http.ServeMux) *http.Server {
	return &http.Server{
		Addr:         fmt.Sprintf("%s:%d", config.Host, config.Port),
		Handler:      mux,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
	}
}

func setupRoutes(metrics *Metrics, logger *zap.Logger) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte(`{"status":"ok","service":"guilddj"}`)); err != nil {
			logger.Debug("Failed to write healthz response", zap.Error(err))
		}
	})

	mux.HandleFunc("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte(`{"status":"ready","service":"guilddj"}`)); err != nil {
			logger.Debug("Failed to write readyz response", zap.Error(err))
		}
	})

	mux.Handle("/metrics", promhttp.HandlerFor(metrics.registry, promhttp.HandlerOpts{}))

	mux.HandleFunc("/", homeHandler(logger))

	return mux
}

func homeHandler(logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte(`<!DOCTYPE html>
<html>
<head>
    <title>guilddj</title>
    <style>
        body { font-family: Arial, sans-serif; margin: 40px; }
        .header { color: #333; }
        .endpoint { margin: 10px 0; }
        .endpoint a { text-decoration: none; color: #0066cc; }
        .endpoint a:hover { text-decoration: underline; }
    </style>
</head>
<body>
    <h1 class="header">🎵 guilddj</h1>
    <p>Per-guild Discord music playback service</p>

    <h2>Endpoints</h2>
    <div class="endpoint">📊 <a href="/metrics">Metrics</a> - Prometheus metrics</div>
    <div class="endpoint">💚 <a href="/healthz">Health</a> - Health check</div>
    <div class="endpoint">✅ <a href="/readyz">Ready</a> - Readiness check</div>
</body>
</html>`)); err != nil {
			logger.Debug("Failed to write home response", zap.Error(err))
		}
	}
}

func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("Starting HTTP server",
		zap.String("addr", s.server.Addr))

	go func() {
		<-ctx.Done()
		s.logger.Info("Shutting down HTTP server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := s.server.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("Failed to shutdown HTTP server gracefully", zap.Error(err))
		}
	}()

	if err := s.server.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("HTTP server failed: %w", err)
	}

	return nil
}

func (s *Server) GetMetrics() *Metrics {
	return s.metrics
}
