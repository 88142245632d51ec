// Package server runs the optional HTTP status endpoint of a conversion job.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/3leaps/tomd/internal/server/handlers"
	"github.com/3leaps/tomd/internal/server/middleware"
)

const (
	readHeaderTimeout = 5 * time.Second
	shutdownTimeout   = 5 * time.Second
)

// Server serves /healthz, /status, /report and /version.
type Server struct {
	host string
	port int

	source  handlers.Source
	health  *handlers.HealthManager
	version handlers.VersionResponse
	logger  *zap.Logger

	router chi.Router

	mu       sync.Mutex
	httpSrv  *http.Server
	listener net.Listener
	done     chan struct{}
}

// Option configures a Server.
type Option func(*Server)

// WithSource exposes a job on /status and /report.
func WithSource(src handlers.Source) Option {
	return func(s *Server) { s.source = src }
}

// WithHealthManager replaces the default health manager.
func WithHealthManager(m *handlers.HealthManager) Option {
	return func(s *Server) { s.health = m }
}

// WithVersion sets the /version payload.
func WithVersion(v handlers.VersionResponse) Option {
	return func(s *Server) { s.version = v }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// New creates a server for host:port. Port 0 picks a free port on Start.
func New(host string, port int, opts ...Option) *Server {
	s := &Server{host: host, port: port, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	if s.version.Version == "" {
		s.version.Version = "dev"
	}
	if s.health == nil {
		s.health = handlers.NewHealthManager(s.version.Version)
	}
	s.router = s.routes()
	return s
}

// NewFromAddr parses a host:port address and calls New.
func NewFromAddr(addr string, opts ...Option) (*Server, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, fmt.Errorf("status address %q: %w", addr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 0 || port > 65535 {
		return nil, fmt.Errorf("status address %q: invalid port", addr)
	}
	return New(host, port, opts...), nil
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Recovery)

	r.NotFound(middleware.NotFound)
	r.MethodNotAllowed(middleware.MethodNotAllowed)

	r.Get("/healthz", s.health.HealthHandler)
	r.Get("/version", handlers.VersionHandler(s.version))
	if s.source != nil {
		r.Get("/status", handlers.StatusHandler(s.source))
		r.Get("/report", handlers.ReportHandler(s.source))
	}
	return r
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Port returns the configured port.
func (s *Server) Port() int {
	return s.port
}

// Health returns the health manager, for registering checkers.
func (s *Server) Health() *handlers.HealthManager {
	return s.health
}

// Addr returns the bound address once started, else the configured one.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return net.JoinHostPort(s.host, strconv.Itoa(s.port))
}

// Start binds the listener and serves in the background. The server shuts
// down when ctx is cancelled or Shutdown is called.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.httpSrv != nil {
		return errors.New("server already started")
	}

	ln, err := net.Listen("tcp", net.JoinHostPort(s.host, strconv.Itoa(s.port)))
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	s.listener = ln
	s.httpSrv = &http.Server{Handler: s.router, ReadHeaderTimeout: readHeaderTimeout}
	s.done = make(chan struct{})

	srv, done := s.httpSrv, s.done
	go func() {
		defer close(done)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Warn("Status server stopped", zap.Error(err))
		}
	}()
	go func() {
		select {
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		case <-done:
		}
	}()

	s.logger.Info("Status server listening", zap.String("addr", ln.Addr().String()))
	return nil
}

// Shutdown stops the server gracefully. It is a no-op if not started.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv, done := s.httpSrv, s.done
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	err := srv.Shutdown(ctx)
	<-done
	return err
}
