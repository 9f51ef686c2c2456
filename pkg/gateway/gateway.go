// Package gateway exposes the controller over a small HTTP API: device
// inventory, per-endpoint queue introspection and flush triggers. It is
// an operational surface, not a ZCL bridge; frames still move only
// through the adapter link.
package gateway

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/nathanfiscus/zigbee-herdsman/pkg/controller"
)

// Config holds the gateway listen settings.
type Config struct {
	Listen string
}

// Server serves the HTTP API over a running controller.
type Server struct {
	cfg       Config
	ctrl      *controller.Controller
	server    *http.Server
	startedAt time.Time
}

// New creates a gateway server. The controller is shared, not owned:
// stopping the gateway leaves the controller running.
func New(cfg Config, ctrl *controller.Controller) *Server {
	return &Server{
		cfg:       cfg,
		ctrl:      ctrl,
		startedAt: time.Now(),
	}
}

// Start runs the HTTP server until ctx is cancelled. It blocks; run it
// in its own goroutine. Shutdown waits up to five seconds for in-flight
// requests before giving up.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         s.cfg.Listen,
		Handler:      s.routes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	zap.L().Info("gateway listening", zap.String("addr", s.cfg.Listen))

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		zap.L().Info("gateway shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("gateway shutdown: %w", err)
		}
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("gateway: %w", err)
	}
}

// routes configures the HTTP router.
func (s *Server) routes() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(loggingMiddleware)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealthz)

	r.Route("/api", func(r chi.Router) {
		r.Get("/devices", s.handleDevices)
		r.Get("/devices/{ieee}", s.handleDevice)
		r.Get("/devices/{ieee}/endpoints/{endpoint}/pending", s.handlePending)
		r.Post("/devices/{ieee}/endpoints/{endpoint}/flush", s.handleFlush)
	})

	return r
}

// loggingMiddleware logs every request through the global logger.
func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		zap.L().Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}
