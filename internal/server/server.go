// Package server exposes stored batch results over a read-only HTTP API.
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/3leaps/siterun/internal/server/handlers"
	"github.com/3leaps/siterun/internal/server/middleware"
)

// Config configures a Server.
type Config struct {
	Host            string
	Port            int
	DB              *sql.DB
	Version         handlers.VersionInfo
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	Logger          *zap.Logger
}

// Server is the results API.
type Server struct {
	cfg    Config
	router chi.Router
	health *handlers.HealthManager
}

// New builds the router. DB may be nil, in which case only the health and
// version endpoints are useful and /health reports the store unhealthy.
func New(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}

	s := &Server{cfg: cfg, health: handlers.NewHealthManager(cfg.Version.Version)}
	s.health.RegisterChecker("store", handlers.CheckerFunc(func(ctx context.Context) error {
		if cfg.DB == nil {
			return errors.New("store not configured")
		}
		return cfg.DB.PingContext(ctx)
	}))
	s.routes()
	return s
}

func (s *Server) routes() {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(s.cfg.Logger))
	r.Use(middleware.Recovery(s.cfg.Logger))

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		middleware.WriteError(w, req, http.StatusNotFound, "NOT_FOUND", "route not found", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		middleware.WriteError(w, req, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed", nil)
	})

	r.Get("/health", s.health.HealthHandler)
	r.Get("/health/live", s.health.LivenessHandler)
	r.Get("/version", handlers.VersionHandler(s.cfg.Version))

	b := &handlers.Batches{DB: s.cfg.DB, Logger: s.cfg.Logger}
	r.Route("/v1/batches", func(r chi.Router) {
		r.Use(s.requireStore)
		r.Get("/", b.List)
		r.Get("/{batchID}", b.Get)
		r.Get("/{batchID}/sites", b.Sites)
		r.Get("/{batchID}/sites/{site}/{resolution}", b.Table)
	})

	s.router = r
}

func (s *Server) requireStore(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.DB == nil {
			middleware.WriteError(w, r, http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", "result store not configured", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler { return s.router }

// Port returns the configured port.
func (s *Server) Port() int { return s.cfg.Port }

// Addr returns host:port.
func (s *Server) Addr() string {
	return net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
}

// Serve accepts connections on ln until ctx is done, then shuts down
// gracefully within ShutdownTimeout.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadTimeout:       s.cfg.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      s.cfg.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// ListenAndServe listens on Addr and calls Serve.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.Addr())
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.Addr(), err)
	}
	s.cfg.Logger.Info("Results API listening", zap.String("addr", ln.Addr().String()))
	return s.Serve(ctx, ln)
}
