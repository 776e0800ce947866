package mpd

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// DefaultMetricsListen is used when no metrics address is configured.
const DefaultMetricsListen = "127.0.0.1:9108"

// MetricsServer exposes the Prometheus registry over HTTP.
type MetricsServer struct {
	log    *zap.Logger
	listen string
}

// NewMetricsServer creates a metrics endpoint listening on listen.
func NewMetricsServer(log *zap.Logger, listen string) *MetricsServer {
	if listen == "" {
		listen = DefaultMetricsListen
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &MetricsServer{log: log, listen: listen}
}

// Handler returns the metrics router.
func (s *MetricsServer) Handler() http.Handler {
	r := chi.NewRouter()
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return r
}

// Run serves metrics until ctx ends.
func (s *MetricsServer) Run(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.listen)
	if err != nil {
		return err
	}
	server := &http.Server{Handler: s.Handler(), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()
	s.log.Info("metrics listening", zap.String("addr", listener.Addr().String()))
	if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
