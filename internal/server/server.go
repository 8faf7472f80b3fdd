// Package server is the HTTP boundary of the relay: routing, middleware,
// error rendering and delivery of the token to the caller.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/maxdhml/pulse-coach-backend/internal/metrics"
	"github.com/maxdhml/pulse-coach-backend/internal/relay"
)

const (
	readTimeout     = 30 * time.Second
	writeTimeout    = 60 * time.Second
	idleTimeout     = 120 * time.Second
	shutdownTimeout = 10 * time.Second
)

// Route paths.
const (
	PathBegin    = "/auth/strava"
	PathCallback = relay.CallbackPath
	PathHealth   = "/health"
	PathMetrics  = "/metrics"
)

// Config holds dependencies for building the router.
type Config struct {
	Relay   *relay.Relay
	Metrics *metrics.Metrics
	Logger  *slog.Logger

	// TrustForwardedHeaders enables chi's RealIP so rate limiting keys
	// on the client address reported by the proxy.
	TrustForwardedHeaders bool

	RateLimitRPS   float64
	RateLimitBurst int
}

// NewRouter builds the chi router with the auth, health and metrics
// endpoints. Only the /auth routes are rate limited.
func NewRouter(cfg Config) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	h := &handlers{relay: cfg.Relay, logger: logger}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)

	if cfg.TrustForwardedHeaders {
		r.Use(middleware.RealIP)
	}

	r.Use(requestLogger(logger))
	r.Use(middleware.Recoverer)

	r.Get(PathHealth, h.health)

	if cfg.Metrics != nil {
		r.Method(http.MethodGet, PathMetrics, cfg.Metrics.Handler())
	}

	r.Group(func(r chi.Router) {
		if cfg.RateLimitRPS > 0 {
			r.Use(newIPRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst).middleware)
		}

		r.Get(PathBegin, h.begin)
		r.Get(PathCallback, h.callback)
	})

	return r
}

// New returns an http.Server with the standard timeouts.
func New(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  idleTimeout,
	}
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func Run(ctx context.Context, srv *http.Server, logger *slog.Logger) error {
	errCh := make(chan error, 1)

	go func() {
		logger.Info("starting HTTP server", slog.String("listen", srv.Addr))

		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}

		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("HTTP server error: %w", err)
		}

		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down HTTP server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down HTTP server: %w", err)
	}

	return nil
}

// requestLogger logs one line per request with chi's request id.
func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()

			next.ServeHTTP(ww, r)

			logger.Info("http request",
				slog.String("request_id", middleware.GetReqID(r.Context())),
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", ww.Status()),
				slog.Duration("duration", time.Since(start)),
				slog.String("remote", r.RemoteAddr),
			)
		})
	}
}
