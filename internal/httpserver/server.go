// Package httpserver serves the feed generator XRPC endpoints.
package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/blackmichael/bluesky-listfeed/internal/auth"
	"github.com/blackmichael/bluesky-listfeed/internal/config"
	"github.com/blackmichael/bluesky-listfeed/internal/domain"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	defaultLimit = 20
	maxLimit     = 100
)

// FeedService is the part of domain.FeedService the HTTP layer needs.
type FeedService interface {
	FeedURIs() []string
	GetFeedSkeleton(ctx context.Context, viewerDID, feedURI string, limit int, cursor string) (*domain.FeedSkeleton, error)
}

// Server is the HTTP server that serves feed generator XRPC endpoints.
type Server struct {
	cfg        *config.Config
	feeds      FeedService
	verifier   auth.Verifier
	logger     *slog.Logger
	httpServer *http.Server
}

// NewServer creates a new HTTP server. Requests to getFeedSkeleton are
// attributed to a viewer through verifier.
func NewServer(cfg *config.Config, feeds FeedService, verifier auth.Verifier, logger *slog.Logger) *Server {
	s := &Server{
		cfg:      cfg,
		feeds:    feeds,
		verifier: verifier,
		logger:   logger,
	}

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Handler returns the routed handler with middleware applied.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(func(next http.Handler) http.Handler { return withLogging(s.logger, next) })

	r.Get("/.well-known/did.json", s.handleDIDDoc)
	r.Get("/xrpc/app.bsky.feed.describeFeedGenerator", s.handleDescribeFeedGenerator)
	r.Get("/xrpc/app.bsky.feed.getFeedSkeleton", s.handleGetFeedSkeleton)
	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	if s.cfg.Debug {
		r.Get("/test-feed-handler/", s.handleTestFeed)
	}
	return r
}

// Start begins listening for HTTP requests. It blocks until the server is
// shut down or an error occurs.
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleDIDDoc(w http.ResponseWriter, _ *http.Request) {
	doc := map[string]any{
		"@context": []string{"https://www.w3.org/ns/did/v1"},
		"id":       s.cfg.ServiceDID(),
		"service": []map[string]any{
			{
				"id":              "#bsky_fg",
				"type":            "BskyFeedGenerator",
				"serviceEndpoint": fmt.Sprintf("https://%s", s.cfg.Hostname),
			},
		},
	}
	writeJSON(w, http.StatusOK, doc)
}

func (s *Server) handleDescribeFeedGenerator(w http.ResponseWriter, _ *http.Request) {
	uris := s.feeds.FeedURIs()
	feeds := make([]map[string]string, 0, len(uris))
	for _, uri := range uris {
		feeds = append(feeds, map[string]string{"uri": uri})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"did":   s.cfg.ServiceDID(),
		"feeds": feeds,
	})
}

func (s *Server) handleGetFeedSkeleton(w http.ResponseWriter, r *http.Request) {
	feedURI := r.URL.Query().Get("feed")
	if feedURI == "" {
		s.logger.Warn("getFeedSkeleton called without feed parameter")
		writeError(w, http.StatusBadRequest, "InvalidRequest", "feed parameter is required")
		return
	}

	limit, ok := s.parseLimit(w, r)
	if !ok {
		return
	}

	viewer, err := s.verifier.Verify(r.Context(), r.Header.Get("Authorization"))
	if err != nil {
		s.logger.Info("rejected feed request", "feed", feedURI, "error", err)
		s.writeDomainError(w, err)
		return
	}

	s.serveSkeleton(w, r, viewer, feedURI, limit)
}

// handleTestFeed serves the configured feed as the default viewer, without
// authentication. Only routed in debug mode.
func (s *Server) handleTestFeed(w http.ResponseWriter, r *http.Request) {
	limit, ok := s.parseLimit(w, r)
	if !ok {
		return
	}
	s.serveSkeleton(w, r, s.cfg.DefaultDID, s.cfg.FeedURI(), limit)
}

func (s *Server) serveSkeleton(w http.ResponseWriter, r *http.Request, viewer, feedURI string, limit int) {
	cursor := r.URL.Query().Get("cursor")

	skeleton, err := s.feeds.GetFeedSkeleton(r.Context(), viewer, feedURI, limit, cursor)
	if err != nil {
		s.logger.Warn("failed to get feed skeleton",
			"feed", feedURI,
			"viewer", viewer,
			"limit", limit,
			"cursor", cursor,
			"error", err,
		)
		s.writeDomainError(w, err)
		return
	}

	s.logger.Info("getFeedSkeleton success", "feed", feedURI, "viewer", viewer, "posts_returned", len(skeleton.Posts), "next_cursor", skeleton.Cursor)

	writeJSON(w, http.StatusOK, map[string]any{
		"cursor": skeleton.Cursor,
		"feed":   toSkeletonResponse(skeleton.Posts),
	})
}

func (s *Server) parseLimit(w http.ResponseWriter, r *http.Request) (int, bool) {
	l := r.URL.Query().Get("limit")
	if l == "" {
		return defaultLimit, true
	}
	limit, err := strconv.Atoi(l)
	if err != nil || limit < 1 || limit > maxLimit {
		s.logger.Warn("invalid limit parameter", "limit", l, "error", err)
		writeError(w, http.StatusBadRequest, "InvalidRequest", fmt.Sprintf("limit must be between 1 and %d", maxLimit))
		return 0, false
	}
	return limit, true
}

func (s *Server) writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrNotAuthorized):
		writeError(w, http.StatusUnauthorized, "AuthRequired", "a valid service token for a viewer with a profile is required")
	case errors.Is(err, domain.ErrMalformedCursor):
		writeError(w, http.StatusBadRequest, "BadCursor", "malformed cursor")
	case errors.Is(err, domain.ErrUnknownFeed):
		writeError(w, http.StatusBadRequest, "UnsupportedAlgorithm", "unsupported feed")
	default:
		s.logger.Error("feed request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "InternalError", "internal server error")
	}
}

func toSkeletonResponse(posts []domain.SkeletonPost) []map[string]string {
	result := make([]map[string]string, len(posts))
	for i, p := range posts {
		result[i] = map[string]string{"post": p.Post}
	}
	return result
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, errType, message string) {
	writeJSON(w, status, map[string]string{
		"error":   errType,
		"message": message,
	})
}

func withLogging(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)
		logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", wrapped.status,
			"duration", time.Since(start),
		)
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}
