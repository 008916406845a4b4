package webhook

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/jonny/refundbot/internal/adapter/inbound/webhook/middleware"
	"github.com/jonny/refundbot/internal/observability"
)

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	SigningSecret   string
	// RequestsPerMinute enables per-IP rate limiting when positive.
	RequestsPerMinute int
}

// Server wraps an HTTP server with graceful shutdown support.
type Server struct {
	cfg     ServerConfig
	handler *Handler
	metrics *observability.Metrics
	limiter *middleware.RateLimiter
	logger  *slog.Logger
	srv     *http.Server
}

// NewServer creates a new Server. metrics may be nil.
func NewServer(cfg ServerConfig, handler *Handler, metrics *observability.Metrics, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:     cfg,
		handler: handler,
		metrics: metrics,
		logger:  logger.With("component", "http-server"),
	}
	if cfg.RequestsPerMinute > 0 {
		s.limiter = middleware.NewRateLimiter(cfg.RequestsPerMinute)
	}
	return s
}

// SetupRoutes builds and returns an http.Handler with all middleware applied.
// Route layout:
//
//	GET  /health              - Health check
//	POST /slack/commands      - Slash commands
//	POST /slack/interactions  - Button clicks and modal submissions
//	POST /slack/events        - Events API (url_verification, messages)
func (s *Server) SetupRoutes() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.Logging(s.logger))
	if s.metrics != nil {
		r.Use(middleware.Metrics(s.metrics))
	}

	r.Get("/health", Health)

	r.Route("/slack", func(r chi.Router) {
		if s.limiter != nil {
			r.Use(s.limiter.Middleware)
		}
		r.Use(middleware.BodyReader)
		r.Use(middleware.SlackSignature(s.cfg.SigningSecret, s.logger))

		r.Post("/commands", s.handler.Commands)
		r.Post("/interactions", s.handler.Interactions)
		r.Post("/events", s.handler.Events)
	})

	return r
}

// Start starts the HTTP server and blocks until ctx is cancelled, then performs
// a graceful shutdown.
func (s *Server) Start(ctx context.Context) error {
	s.srv = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.cfg.Port),
		Handler:      s.SetupRoutes(),
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}

	if s.limiter != nil {
		go s.limiter.Run(ctx, 10*time.Minute)
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("slack http server listening", "port", s.cfg.Port)
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		timeout := s.cfg.ShutdownTimeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := s.srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http server shutdown error: %w", err)
		}
		return nil
	case err := <-errCh:
		return err
	}
}
