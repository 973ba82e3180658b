// Package bridge exposes the session and calendar core to a local
// presentation layer over HTTP: JSON endpoints for login, logout and
// events, a websocket stream of notifications, and Prometheus metrics.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tonimelisma/tenantcal/internal/calsync"
	"github.com/tonimelisma/tenantcal/internal/notify"
	"github.com/tonimelisma/tenantcal/internal/session"
)

// Server timeouts.
const (
	readHeaderTimeout = 10 * time.Second
	idleTimeout       = 60 * time.Second
	shutdownTimeout   = 10 * time.Second
)

// Sessions is the session surface the bridge drives.
type Sessions interface {
	Login(ctx context.Context, providerCode string) (session.User, error)
	Logout() error
	State() session.State
	Snapshot() (session.Session, bool)
}

// Calendar is the calendar surface the bridge drives.
type Calendar interface {
	LoadEvents(ctx context.Context, r calsync.Range) ([]calsync.Event, error)
	BeginCreate(ctx context.Context, d calsync.Draft) (*calsync.Creation, error)
	Events() []calsync.Event
}

// Subscriber hands out notification streams.
type Subscriber interface {
	Subscribe(buffer int) (<-chan notify.Notification, func())
}

// DefaultOrigins admits pages served from the local machine.
var DefaultOrigins = []string{"http://localhost:*", "http://127.0.0.1:*"}

// Options configures a Server.
type Options struct {
	// AllowedOrigins lists browser origins allowed by CORS and by the
	// websocket handshake. Patterns may contain one "*".
	AllowedOrigins []string
}

// Server is the bridge HTTP server.
type Server struct {
	sessions Sessions
	calendar Calendar
	notes    Subscriber
	opts     Options
	logger   *slog.Logger
	metrics  *metrics
	router   chi.Router
}

// New builds the router. Nothing listens until Serve is called.
func New(sessions Sessions, calendar Calendar, notes Subscriber, opts Options, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = DefaultOrigins
	}

	s := &Server{
		sessions: sessions,
		calendar: calendar,
		notes:    notes,
		opts:     opts,
		logger:   logger,
	}

	s.metrics = newMetrics(
		func() float64 { return float64(sessions.State()) },
		func() float64 { return float64(len(calendar.Events())) },
	)

	s.router = s.routes()

	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.opts.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	r.Use(s.instrument)

	r.Route("/session", func(sr chi.Router) {
		sr.Get("/", s.getSession)
		sr.Post("/login", s.login)
		sr.Post("/logout", s.logout)
	})

	r.Route("/events", func(sr chi.Router) {
		sr.Get("/", s.listEvents)
		sr.Post("/", s.createEvent)
	})

	r.Get("/notifications", s.notifications)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.metrics.registry, promhttp.HandlerOpts{}))

	return r
}

// Handler returns the bridge's HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Registry returns the server's Prometheus registry.
func (s *Server) Registry() *prometheus.Registry {
	return s.metrics.registry
}

// Serve listens on addr until ctx is canceled, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("bridge: listening on %s: %w", addr, err)
	}

	return s.serveListener(ctx, ln)
}

func (s *Server) serveListener(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: readHeaderTimeout,
		IdleTimeout:       idleTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)

	go func() {
		errCh <- srv.Serve(ln)
	}()

	s.logger.Info("bridge listening", slog.String("addr", ln.Addr().String()))

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}

		return fmt.Errorf("bridge: serving: %w", err)

	case <-ctx.Done():
		s.logger.Info("bridge shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("bridge: shutdown: %w", err)
		}

		return nil
	}
}
