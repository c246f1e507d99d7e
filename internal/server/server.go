// Package server provides the HTTP API over the sample store.
//
// The server owns no data: every handler reads through storage.Service,
// which copies under the store lock and computes on the copy, so slow
// clients never hold up ingestion.
package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/xtxerr/meteo/config"
	"github.com/xtxerr/meteo/internal/logging"
	"github.com/xtxerr/meteo/internal/metrics"
	"github.com/xtxerr/meteo/internal/storage"
	"github.com/xtxerr/meteo/internal/storage/parquet"
)

// =============================================================================
// Server Configuration
// =============================================================================

// Config holds server configuration.
type Config struct {
	// Service is the store facade (required).
	Service *storage.Service

	// Metrics is optional. When set, /metrics is served and requests
	// are counted.
	Metrics *metrics.Metrics

	// Listen is the address to listen on (e.g., "0.0.0.0:8000").
	Listen string

	// TLS configuration (optional).
	TLSCertFile string
	TLSKeyFile  string

	ReadHeaderTimeout time.Duration
	ShutdownTimeout   time.Duration

	// MaxLimit bounds the limit parameter of /readings.
	MaxLimit int

	// CORSOrigins lists allowed origins. "*" allows any.
	CORSOrigins []string

	// EnableClear allows DELETE /readings.
	EnableClear bool

	// AdminToken, when set, must accompany DELETE /readings as a bearer token.
	AdminToken string

	// Export configures Parquet downloads.
	Export parquet.Options

	// Version is reported by GET /.
	Version string

	// Clock defaults to time.Now. Used for relative windows.
	Clock func() time.Time

	Logger *slog.Logger
}

// =============================================================================
// Server
// =============================================================================

// Server is the HTTP API server.
type Server struct {
	cfg     Config
	svc     *storage.Service
	metrics *metrics.Metrics
	log     *slog.Logger
	handler http.Handler

	authRateLimiter *RateLimiter

	mu       sync.Mutex
	http     *http.Server
	listener net.Listener
}

// New creates a new server.
func New(cfg Config) (*Server, error) {
	if cfg.Service == nil {
		return nil, fmt.Errorf("server: storage service is required")
	}

	// Apply defaults
	if cfg.Listen == "" {
		cfg.Listen = config.DefaultListenAddress
	}
	if cfg.ReadHeaderTimeout <= 0 {
		cfg.ReadHeaderTimeout = config.DefaultReadHeaderTimeout
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = config.DefaultShutdownTimeout
	}
	if cfg.MaxLimit <= 0 {
		cfg.MaxLimit = config.DefaultMaxLimit
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Component("server")
	}

	s := &Server{
		cfg:     cfg,
		svc:     cfg.Service,
		metrics: cfg.Metrics,
		log:     cfg.Logger,
		authRateLimiter: NewRateLimiter(
			defaultAuthFailureLimit,
			time.Minute,
		),
	}
	s.handler = s.routes()

	return s, nil
}

// defaultAuthFailureLimit is the number of failed admin token attempts
// per IP and minute before requests are rejected outright.
const defaultAuthFailureLimit = 5

// Handler returns the root handler with all middleware applied.
func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", s.handleRoot)
	mux.HandleFunc("GET /health", s.handleHealth)

	mux.HandleFunc("GET /readings", s.handleReadings)
	mux.HandleFunc("DELETE /readings", s.handleClear)
	mux.HandleFunc("GET /readings/latest", s.handleLatest)
	mux.HandleFunc("GET /readings/last-hour", s.handleWindow(time.Hour))
	mux.HandleFunc("GET /readings/last-day", s.handleWindow(24*time.Hour))
	mux.HandleFunc("GET /readings/recent", s.handleRecent)
	mux.HandleFunc("GET /readings/count", s.handleCount)
	mux.HandleFunc("GET /readings/export", s.handleExport)

	mux.HandleFunc("GET /stats", s.handleStats)
	mux.HandleFunc("GET /stats/buckets", s.handleBuckets)

	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics.Handler())
	}

	var h http.Handler = mux
	h = s.cors(h)
	h = s.instrument(h)
	h = s.recoverer(h)
	return h
}

// Run listens on the configured address and serves until ctx is done,
// then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := s.listen()
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

func (s *Server) listen() (net.Listener, error) {
	if s.cfg.TLSCertFile != "" && s.cfg.TLSKeyFile != "" {
		cert, err := tls.LoadX509KeyPair(s.cfg.TLSCertFile, s.cfg.TLSKeyFile)
		if err != nil {
			return nil, fmt.Errorf("load TLS cert: %w", err)
		}
		tlsCfg := &tls.Config{
			Certificates: []tls.Certificate{cert},
			MinVersion:   tls.VersionTLS12,
		}
		ln, err := tls.Listen("tcp", s.cfg.Listen, tlsCfg)
		if err != nil {
			return nil, fmt.Errorf("TLS listen: %w", err)
		}
		s.log.Info("listening with TLS", "address", ln.Addr().String())
		return ln, nil
	}

	ln, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return nil, fmt.Errorf("listen: %w", err)
	}
	s.log.Info("listening without TLS", "address", ln.Addr().String())
	return ln, nil
}

// Serve serves on ln until ctx is done.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: s.cfg.ReadHeaderTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	s.mu.Lock()
	s.http = srv
	s.listener = ln
	s.mu.Unlock()

	go s.sweepLoop(ctx)

	errc := make(chan error, 1)
	go func() {
		errc <- srv.Serve(ln)
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	s.log.Info("shutdown complete")
	return nil
}

// Addr returns the listener address once serving, or nil.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *Server) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.authRateLimiter.Sweep()
		case <-ctx.Done():
			return
		}
	}
}

// extractIP extracts the IP address from a remote address string.
func extractIP(remote string) string {
	host, _, err := net.SplitHostPort(remote)
	if err != nil {
		return remote
	}
	return host
}
