package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	// Address to listen on, e.g. ":9464".
	Address string

	// AuthToken, when set, is required as a bearer token on /status.
	AuthToken string

	// Gatherer provides the metrics for /metrics.
	Gatherer prometheus.Gatherer

	// Status returns the value served as JSON on /status.
	Status func() any
}

// Server serves /metrics, /healthz and /status.
type Server struct {
	config ServerConfig
	server *http.Server
	logger *slog.Logger
}

// NewServer creates a server. If logger is nil, slog.Default() is used.
func NewServer(cfg ServerConfig, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Gatherer == nil {
		cfg.Gatherer = prometheus.DefaultGatherer
	}
	s := &Server{
		config: cfg,
		logger: logger.With(slog.String("component", "metrics-server")),
	}
	s.server = &http.Server{
		Addr:              cfg.Address,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler returns the server's routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(s.config.Gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", healthzHandler)
	mux.HandleFunc("/status", s.statusHandler)
	return requireToken(s.config.AuthToken, []string{"/healthz", "/metrics"}, mux)
}

// Start listens on the configured address and serves in the background
// until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Address)
	if err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "metrics server listening", slog.String("addr", ln.Addr().String()))

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("metrics server failed", slog.String("error", err.Error()))
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("error shutting down metrics server", slog.String("error", err.Error()))
		}
	}()
	return nil
}

func healthzHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	if s.config.Status == nil {
		http.Error(w, "status not available", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.config.Status()); err != nil {
		s.logger.Warn("failed to encode status", slog.String("error", err.Error()))
	}
}
