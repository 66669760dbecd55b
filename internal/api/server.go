// Package api exposes the HTTP surface: activity lifecycle, skill
// ratings and delta polling.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/playrank/playrank/internal/activities"
	"github.com/playrank/playrank/internal/delta"
	"github.com/playrank/playrank/internal/elo"
	"github.com/playrank/playrank/internal/security"
	"github.com/playrank/playrank/internal/skills"
	"github.com/playrank/playrank/internal/store"
)

// Server is the HTTP API server.
type Server struct {
	port       int
	store      *store.Store
	activities *activities.Service
	orch       *elo.Orchestrator
	locks      *elo.LockManager
	reader     *delta.Reader
	cursors    *delta.CursorStore
	ratings    *skills.Service
	aggregator *skills.Aggregator
	settings   *elo.SettingsFile
	jwtSecret  []byte
	logger     *slog.Logger
	httpServer *http.Server
}

// Deps bundles the services the server routes to.
type Deps struct {
	Store      *store.Store
	Activities *activities.Service
	Orch       *elo.Orchestrator
	Locks      *elo.LockManager
	Reader     *delta.Reader
	Cursors    *delta.CursorStore
	Ratings    *skills.Service
	Aggregator *skills.Aggregator
	Settings   *elo.SettingsFile
	JWTSecret  []byte
}

// NewServer creates a new API server.
func NewServer(port int, deps Deps, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		port:       port,
		store:      deps.Store,
		activities: deps.Activities,
		orch:       deps.Orch,
		locks:      deps.Locks,
		reader:     deps.Reader,
		cursors:    deps.Cursors,
		ratings:    deps.Ratings,
		aggregator: deps.Aggregator,
		settings:   deps.Settings,
		jwtSecret:  deps.JWTSecret,
		logger:     logger.With("component", "api"),
	}
}

// handler builds the full route table wrapped in the middleware chain.
func (s *Server) handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/activities", s.handleActivities)
	mux.HandleFunc("/activities/", s.handleActivityDetail)
	mux.HandleFunc("/skill-ratings/submit", s.handleRatingSubmit)
	mux.HandleFunc("/skill-ratings/", s.handleRatingDetail)
	mux.HandleFunc("/delta/changes", s.handleDeltaChanges)
	mux.HandleFunc("/delta/status", s.handleDeltaStatus)
	mux.HandleFunc("/delta/reset", s.handleDeltaReset)
	mux.HandleFunc("/activity-types", s.handleActivityTypes)
	mux.HandleFunc("/users", s.handleUsers)

	auth := security.AuthMiddleware(s.jwtSecret)
	return s.corsMiddleware(s.loggingMiddleware(auth(mux)))
}

// Start runs the HTTP server until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.port),
		Handler:      s.handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("API server starting", "port", s.port)

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutting down API server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// loggingMiddleware logs HTTP requests.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start),
		)
	})
}

// corsMiddleware adds CORS headers.
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
