package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/net/netutil"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/forceps/internal/config"
)

// Server hosts the HTTP surface: the session API, health and metrics
// endpoints, and the websocket event feed.
type Server struct {
	logger *zap.Logger
	cfg    config.ServerConfig
	router chi.Router
	http   *http.Server
}

// New assembles the router and the underlying http.Server.
func New(logger *zap.Logger, cfg *config.Config, sessions SessionService, events EventSource, version string) *Server {
	log := logger.Named("server")
	handlers := NewHandlers(log, sessions, events, cfg.Server.AllowedOrigins, version)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(cfg.Server.WriteTimeout))
	if cfg.Server.RequestsPerSecond > 0 {
		burst := cfg.Server.RequestBurst
		if burst < 1 {
			burst = 1
		}
		r.Use(rateLimitMiddleware(handlers, rate.NewLimiter(rate.Limit(cfg.Server.RequestsPerSecond), burst)))
	}

	// The event feed lives outside the request-logged group; a websocket
	// hijack never writes a conventional response for the logger to record.
	r.Get("/api/v1/events", handlers.HandleEvents)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Logger)
		handlers.RegisterRoutes(r)
		if cfg.Metrics.Enabled {
			r.Method(http.MethodGet, "/metrics", promhttp.Handler())
		}
	})

	return &Server{
		logger: log,
		cfg:    cfg.Server,
		router: r,
		http: &http.Server{
			Addr:         cfg.Server.Addr(),
			Handler:      r,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
		},
	}
}

// Router exposes the assembled handler tree, primarily for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

// Start listens and serves until Shutdown is called. The connection cap is
// enforced at the listener, before a request ever reaches the router.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.Addr())
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Addr(), err)
	}
	if s.cfg.MaxConns > 0 {
		ln = netutil.LimitListener(ln, s.cfg.MaxConns)
	}

	s.logger.Info("HTTP server listening.", zap.String("address", s.cfg.Addr()))
	if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting new connections and waits for in-flight requests
// to finish, bounded by ctx.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// rateLimitMiddleware applies a process-wide request budget. Zero
// configuration skips installing it entirely.
func rateLimitMiddleware(h *Handlers, limiter *rate.Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow() {
				h.respondError(w, http.StatusTooManyRequests, "request rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
