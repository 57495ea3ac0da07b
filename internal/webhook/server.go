// Package webhook serves the HTTP endpoints behind the digest's "mark as dealt
// with" links, plus lookup, listing, undo, run history and health.
package webhook

import (
	"context"
	"crypto/subtle"
	"errors"
	"net"
	"net/http"
	"time"

	"followup/internal/model"
	"followup/internal/store"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/rs/cors"
)

// Store is the suppression storage the endpoints operate on.
type Store interface {
	Suppress(ctx context.Context, sup model.Suppression) error
	Unsuppress(ctx context.Context, conversationID, latestMessageID, owner string) (bool, error)
	IsSuppressed(ctx context.Context, conversationID, latestMessageID, owner string) (bool, error)
	List(ctx context.Context, owner string) ([]model.Suppression, error)
	RecentRuns(ctx context.Context, mailbox string, limit int) ([]store.RunRecord, error)
	Ping(ctx context.Context) error
}

const shutdownTimeout = 30 * time.Second

type Server struct {
	store  Store
	apiKey string
	logger *log.Logger
	now    func() time.Time
}

// New returns a Server. An empty apiKey disables authentication.
func New(store Store, apiKey string, logger *log.Logger) *Server {
	return &Server{store: store, apiKey: apiKey, logger: logger, now: time.Now}
}

// Router builds the HTTP handler.
func (s *Server) Router() *chi.Mux {
	router := chi.NewRouter()
	router.Use(middleware.Recoverer)
	router.Use(cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedHeaders: []string{"Content-Type", "Accept", "X-API-Key", "X-Requested-With"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
	}).Handler)
	router.Use(s.logRequests)

	router.Get("/health", s.health)
	router.Get("/api/health", s.health)

	router.Group(func(r chi.Router) {
		r.Use(s.requireAPIKey)
		r.Get("/api/mark-dealt-with", s.markDealtWith)
		r.Post("/api/mark-dealt-with", s.markDealtWith)
		r.Get("/api/check-excluded/{conversationId}/{latestMessageId}/{userEmail}", s.checkExcluded)
		r.Get("/api/exclusions/{userEmail}", s.listExclusions)
		r.Get("/api/runs/{userEmail}", s.listRuns)
		r.Post("/api/undo-exclusion", s.undoExclusion)
		r.Delete("/api/undo-exclusion", s.undoExclusion)
	})
	return router
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	httpServer := &http.Server{
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("webhook server listening", "address", "http://"+ln.Addr().String())
		errCh <- httpServer.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.logger.Info("webhook server shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}

func (s *Server) requireAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.apiKey == "" {
			next.ServeHTTP(w, r)
			return
		}
		key := r.Header.Get("X-API-Key")
		if key == "" {
			key = r.URL.Query().Get("api_key")
		}
		if subtle.ConstantTimeCompare([]byte(key), []byte(s.apiKey)) != 1 {
			writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "Invalid API key"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("request", "method", r.Method, "path", r.URL.Path, "status", ww.Status(), "took", time.Since(start))
	})
}
