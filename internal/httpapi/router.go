package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/allaspectsdev/sigproxy/internal/tracing"
)

// Server binds the chi router to a listen address with graceful shutdown
// support, mirroring the teacher's proxy.Server.
type Server struct {
	router  chi.Router
	httpSrv *http.Server
}

// NewServer builds a Server wiring h's three streaming routes and the
// admin snapshot route behind standard chi middleware. tracingEnabled adds
// the OpenTelemetry HTTP middleware used for spans around upstream calls.
func NewServer(h *Handler, addr string, readTimeout, idleTimeout time.Duration, tracingEnabled bool) *Server {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(h.Logger))

	if tracingEnabled {
		r.Use(tracing.HTTPMiddleware)
	}

	r.Post("/v1/chat/completions", h.HandleChatCompletions)
	r.Post("/antigravity/v1/messages", h.HandleAntigravityMessages)
	r.Post("/gateway/chat-stream", h.HandleGatewayChatStream)
	r.Get("/api/credentials/backoff-status", h.HandleBackoffStatus)

	return &Server{
		router: r,
		httpSrv: &http.Server{
			Addr:         addr,
			Handler:      r,
			ReadTimeout:  readTimeout,
			IdleTimeout:  idleTimeout,
			WriteTimeout: 0, // streaming responses have no fixed upper bound
		},
	}
}

// Router returns the underlying chi.Router, useful for tests.
func (s *Server) Router() chi.Router {
	return s.router
}

// Start begins listening for HTTP connections. It blocks until the server
// is shut down or encounters a fatal error.
func (s *Server) Start() error {
	err := s.httpSrv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

// requestLogger logs one line per request at info level once it completes,
// grounded on the teacher's handler.go per-request logger.With() pattern.
func requestLogger(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Dur("latency", time.Since(start)).
				Str("request_id", middleware.GetReqID(r.Context())).
				Msg("http request")
		})
	}
}
