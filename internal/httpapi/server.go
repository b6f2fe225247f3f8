package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/praxislabs/concord/internal/config"
	"github.com/praxislabs/concord/internal/coordinator"
	"github.com/praxislabs/concord/internal/health"
	"github.com/praxislabs/concord/internal/streaming"
)

// Server hosts the REST API, event streams and health endpoints on one
// listener, with Prometheus metrics on a second.
type Server struct {
	cfg     config.ServerConfig
	api     *http.Server
	metrics *http.Server
	logger  *zap.Logger
}

func NewServer(cfg config.ServerConfig, coord *coordinator.Coordinator, streams *streaming.Manager, hm *health.Manager, logger *zap.Logger) *Server {
	mux := http.NewServeMux()
	NewRunsHandler(coord, logger).RegisterRoutes(mux)
	NewStreamingHandler(streams, logger).RegisterRoutes(mux)
	if hm != nil {
		hm.RegisterRoutes(mux)
	}

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())

	return &Server{
		cfg: cfg,
		api: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		},
		metrics: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.MetricsPort),
			Handler:           metricsMux,
			ReadHeaderTimeout: 10 * time.Second,
		},
		logger: logger,
	}
}

// Start serves until ctx is cancelled, then drains both listeners.
func (s *Server) Start(ctx context.Context) error {
	errc := make(chan error, 2)
	go func() {
		s.logger.Info("API listening", zap.String("addr", s.api.Addr))
		if err := s.api.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errc <- err
		}
	}()
	go func() {
		s.logger.Info("Metrics listening", zap.String("addr", s.metrics.Addr))
		if err := s.metrics.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errc <- err
		}
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.api.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("API shutdown", zap.Error(err))
	}
	if err := s.metrics.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("Metrics shutdown", zap.Error(err))
	}
	return nil
}
