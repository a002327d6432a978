// Package api exposes the orchestrator's observation surface: REST
// endpoints over the stored state plus a WebSocket feed of engine events.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/hanibalsk/autodev/internal/config"
	"github.com/hanibalsk/autodev/internal/domain"
	"github.com/hanibalsk/autodev/internal/engine"
	"github.com/hanibalsk/autodev/internal/events"
	"github.com/hanibalsk/autodev/internal/logger"
	"github.com/hanibalsk/autodev/internal/prflow"
	"github.com/hanibalsk/autodev/internal/storage"
)

// Server is the REST API server
type Server struct {
	config *config.Config
	log    logger.Logger
	store  storage.Storage
	engine *engine.Engine
	hub    *Hub

	mu      sync.RWMutex
	server  *http.Server
	running bool
}

// NewServer creates an API server that serves stored state and relays bus
// events to WebSocket clients
func NewServer(cfg *config.Config, log logger.Logger, store storage.Storage, eng *engine.Engine, bus *events.Bus) *Server {
	return &Server{
		config: cfg,
		log:    log,
		store:  store,
		engine: eng,
		hub:    NewHub(bus, log),
	}
}

// Start starts the API server on the given port. Blocks until the server
// stops.
func (s *Server) Start(port int) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("server already running")
	}
	s.running = true
	s.mu.Unlock()

	router := s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go s.hub.Run()

	return s.server.ListenAndServe()
}

// Stop stops the API server
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}

	s.running = false
	s.hub.Stop()

	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// IsRunning returns whether the server is running
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// setupRoutes configures all API routes
func (s *Server) setupRoutes() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(corsMiddleware(s.config.CORSAllowedOrigins))

	// Health check (public, no auth required)
	r.Get("/health", s.healthHandler)

	r.Route("/api", func(r chi.Router) {
		r.Use(apiKeyAuthMiddleware(s.config.APIKey))

		// Stories
		r.Get("/stories", s.listStoriesHandler)
		r.Get("/stories/{epic}/{story}", s.getStoryHandler)

		// Pull request workflows
		r.Get("/workflows", s.listWorkflowsHandler)
		r.Get("/workflows/{prID}", s.getWorkflowHandler)

		// Edge-case events
		r.Get("/events", s.listEventsHandler)

		// Run control
		r.Get("/run", s.getRunHandler)
		r.Post("/run/pause", s.pauseRunHandler)
		r.Post("/run/resume", s.resumeRunHandler)
		r.Post("/run/cancel", s.cancelRunHandler)

		// Statistics and configuration
		r.Get("/stats", s.getStatsHandler)
		r.Get("/config", s.getConfigHandler)

		// WebSocket endpoint
		r.Get("/ws", s.hub.ServeWs)
	})

	return r
}

// corsMiddleware creates CORS middleware with the given allowed origins.
// Origins must be configured explicitly; a wildcard lives in a pattern,
// never as the allowed origin itself.
func corsMiddleware(allowedOrigins []string) func(http.Handler) http.Handler {
	exactOrigins := make(map[string]bool)
	var patterns []string

	for _, origin := range allowedOrigins {
		if strings.Contains(origin, "*") {
			patterns = append(patterns, origin)
		} else {
			exactOrigins[origin] = true
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")

			allowed := false
			if origin != "" {
				if exactOrigins[origin] {
					allowed = true
				} else {
					for _, pattern := range patterns {
						if matchOriginPattern(origin, pattern) {
							allowed = true
							break
						}
					}
				}
			}

			if allowed {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Credentials", "true")
			}

			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type, X-API-Key")

			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusOK)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// apiKeyAuthMiddleware validates the API key from the X-API-Key header or
// an Authorization bearer token. An empty configured key disables auth.
func apiKeyAuthMiddleware(apiKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if apiKey == "" {
				next.ServeHTTP(w, r)
				return
			}

			providedKey := r.Header.Get("X-API-Key")
			if providedKey == "" {
				auth := r.Header.Get("Authorization")
				if strings.HasPrefix(auth, "Bearer ") {
					providedKey = strings.TrimPrefix(auth, "Bearer ")
				}
			}

			if providedKey != apiKey {
				http.Error(w, `{"error": "unauthorized"}`, http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// matchOriginPattern checks if an origin matches a pattern with wildcards,
// e.g. "http://localhost:3000" matches "http://localhost:*"
func matchOriginPattern(origin, pattern string) bool {
	if strings.HasSuffix(pattern, "*") {
		prefix := strings.TrimSuffix(pattern, "*")
		return strings.HasPrefix(origin, prefix)
	}
	if strings.HasPrefix(pattern, "*.") {
		suffix := strings.TrimPrefix(pattern, "*")
		parts := strings.SplitN(origin, "://", 2)
		if len(parts) == 2 {
			host := strings.Split(parts[1], "/")[0]
			host = strings.Split(host, ":")[0]
			return strings.HasSuffix(host, suffix) || host == strings.TrimPrefix(suffix, ".")
		}
	}
	return false
}

// Response helpers

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// Handlers

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"time":   time.Now().Format(time.RFC3339),
	})
}

func (s *Server) listStoriesHandler(w http.ResponseWriter, r *http.Request) {
	stories, err := s.store.ListStories(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	epic := r.URL.Query().Get("epic")
	status := r.URL.Query().Get("status")

	filtered := make([]domain.Story, 0, len(stories))
	for _, story := range stories {
		if epic != "" && story.EpicID != epic {
			continue
		}
		if status != "" && string(story.Status) != status {
			continue
		}
		filtered = append(filtered, story)
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"stories": filtered,
		"count":   len(filtered),
	})
}

func (s *Server) getStoryHandler(w http.ResponseWriter, r *http.Request) {
	fullID := chi.URLParam(r, "epic") + "/" + chi.URLParam(r, "story")

	story, err := s.store.GetStory(r.Context(), fullID)
	if errors.Is(err, storage.ErrNotFound) {
		respondError(w, http.StatusNotFound, "story not found")
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, story)
}

func (s *Server) listWorkflowsHandler(w http.ResponseWriter, r *http.Request) {
	state := prflow.State(r.URL.Query().Get("state"))
	if state != "" {
		if _, err := prflow.ParseState(string(state)); err != nil {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	workflows, err := s.store.ListWorkflows(r.Context(), state)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"workflows": workflows,
		"count":     len(workflows),
	})
}

func (s *Server) getWorkflowHandler(w http.ResponseWriter, r *http.Request) {
	prID := chi.URLParam(r, "prID")

	wf, err := s.store.GetWorkflow(r.Context(), prID)
	if errors.Is(err, storage.ErrNotFound) {
		respondError(w, http.StatusNotFound, "workflow not found")
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, wf)
}

func (s *Server) listEventsHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := &storage.EventFilter{
		Type:      domain.EdgeCaseType(q.Get("type")),
		SessionID: q.Get("session"),
		AgentID:   q.Get("agent"),
		StoryID:   q.Get("story"),
		Pending:   q.Get("pending") == "true",
	}
	if limit := q.Get("limit"); limit != "" {
		if n, err := strconv.Atoi(limit); err == nil {
			filter.Limit = n
		}
	}
	if offset := q.Get("offset"); offset != "" {
		if n, err := strconv.Atoi(offset); err == nil {
			filter.Offset = n
		}
	}

	list, err := s.store.ListEvents(r.Context(), filter)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"events": list,
		"count":  len(list),
	})
}

func (s *Server) getRunHandler(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"running":  s.engine.IsRunning(),
		"progress": s.engine.Progress(),
	})
}

func (s *Server) pauseRunHandler(w http.ResponseWriter, r *http.Request) {
	if !s.engine.IsRunning() {
		respondError(w, http.StatusConflict, "no run in progress")
		return
	}
	s.engine.Pause()
	respondJSON(w, http.StatusOK, map[string]string{"status": "paused"})
}

func (s *Server) resumeRunHandler(w http.ResponseWriter, r *http.Request) {
	if !s.engine.IsRunning() {
		respondError(w, http.StatusConflict, "no run in progress")
		return
	}
	s.engine.Resume()
	respondJSON(w, http.StatusOK, map[string]string{"status": "resumed"})
}

func (s *Server) cancelRunHandler(w http.ResponseWriter, r *http.Request) {
	if !s.engine.IsRunning() {
		respondError(w, http.StatusConflict, "no run in progress")
		return
	}
	s.engine.Cancel()
	respondJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

func (s *Server) getStatsHandler(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.GetStats(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, stats)
}

// getConfigHandler returns the effective configuration minus secrets
func (s *Server) getConfigHandler(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"epics_path":      s.config.EpicsPath,
		"max_workers":     s.config.MaxWorkers,
		"tick_seconds":    s.config.TickSeconds,
		"review_required": s.config.ReviewRequired,
		"auto_merge":      s.config.AutoMerge,
		"watch_enabled":   s.config.WatchEnabled,
	})
}
