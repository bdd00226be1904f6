// Package api exposes the HTTP interface for the feed service: public
// feed document delivery plus the authenticated admin API.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pagefeed/pagefeed/internal/extract"
	"github.com/pagefeed/pagefeed/internal/feed"
	"github.com/pagefeed/pagefeed/internal/metrics"
	"github.com/pagefeed/pagefeed/internal/render"
)

// FeedRunner executes one feed refresh.
type FeedRunner interface {
	RunFeed(ctx context.Context, feedID string) error
}

// FeedScheduler keeps cron entries in sync with feed definitions.
type FeedScheduler interface {
	ScheduleFeed(def feed.FeedDefinition) error
	StopFeed(feedID string)
}

// Config carries the server's behavioral knobs.
type Config struct {
	AuthEnabled bool
	APIKey      string
	CacheTTL    time.Duration
}

// Deps collects the server's collaborators.
type Deps struct {
	Store     feed.Store
	Runner    FeedRunner
	Scheduler FeedScheduler
	Cache     feed.ResponseCache
	Renderer  *render.Generator
	Engine    *extract.Engine
	Logger    *zap.Logger
}

// Server wires HTTP handlers to the store, runner and scheduler.
type Server struct {
	router chi.Router
	cfg    Config
	deps   Deps
	now    func() time.Time
}

// NewServer constructs a Server with middleware and routes.
func NewServer(cfg Config, deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 120 * time.Second
	}
	s := &Server{cfg: cfg, deps: deps, now: time.Now}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(deps.Logger))
	r.Use(recoverMiddleware(deps.Logger))
	r.Use(timeoutMiddleware(60 * time.Second))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Get("/feeds/{feed_id}.rss", s.deliver(feed.FormatRSS))
	r.Get("/feeds/{feed_id}.atom", s.deliver(feed.FormatAtom))
	r.Get("/feeds/{feed_id}.json", s.deliver(feed.FormatJSONFeed))

	r.Route("/v1", func(r chi.Router) {
		if cfg.AuthEnabled {
			r.Use(apiKeyMiddleware(cfg.APIKey))
		}
		r.Route("/feeds", func(r chi.Router) {
			r.Get("/", s.listFeeds)
			r.Post("/", s.createFeed)
			r.Post("/test", s.testExtract)
			r.Route("/{feed_id}", func(r chi.Router) {
				r.Get("/", s.getFeed)
				r.Patch("/", s.updateFeed)
				r.Delete("/", s.deleteFeed)
				r.Post("/run", s.runFeed)
				r.Post("/pause", s.pauseFeed)
				r.Post("/resume", s.resumeFeed)
			})
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			duration := time.Since(start)
			logger.Info("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Int64("duration_ms", duration.Milliseconds()),
			)
			metrics.ObserveHTTPRequest(r.Method, r.URL.Path, ww.status, duration)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered", zap.Any("error", rec))
					writeError(w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				writeError(w, http.StatusForbidden, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type requestIDKey struct{}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
