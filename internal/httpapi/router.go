package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/pulsekit/pulse-api/internal/auth"
	"github.com/pulsekit/pulse-api/internal/chat"
	"github.com/pulsekit/pulse-api/internal/jobs"
	"github.com/rs/cors"
	"github.com/rs/zerolog/log"
)

// Server holds dependencies for HTTP handlers
type Server struct {
	Auth          *auth.Authenticator
	Scheduler     *jobs.Scheduler
	JobStore      jobs.Store
	Conversations chat.ConversationStore
	Chat          *chat.Service
	LLM           *chat.LLMClient
	RateLimit     RateLimitInfo
}

// writeJSON writes a JSON response with the given status code
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode json response")
	}
}

// parseLimit parses a positive integer query param with default and max
func parseLimit(q string, def, max int) int {
	if q == "" {
		return def
	}
	n, err := strconv.Atoi(q)
	if err != nil || n <= 0 {
		return def
	}
	if n > max {
		return max
	}
	return n
}

// parseOffset parses a non-negative integer query param
func parseOffset(q string) int {
	n, err := strconv.Atoi(q)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// Routes creates the HTTP router with all endpoints
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RealIP)
	r.Use(RequestIDMiddleware)
	r.Use(RequestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type", "X-API-Key"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: false,
	}).Handler)
	r.Use(auth.Middleware(s.Auth))

	// Public
	r.Get("/", s.Root)
	r.Get("/health", s.Health)

	// Chat
	r.Route("/chat", func(r chi.Router) {
		if s.RateLimit.MaxRequests > 0 {
			r.Use(RateLimitMiddleware(s.RateLimit))
		}
		r.Post("/", s.StreamChat)
		r.Get("/models", s.ListModels)
		r.Get("/conversations", s.ListConversations)
		r.Post("/conversations", s.CreateConversation)
		r.Get("/conversations/{id}", s.GetConversation)
		r.Patch("/conversations/{id}", s.UpdateConversationTitle)
		r.Delete("/conversations/{id}", s.DeleteConversation)
		r.Delete("/messages/{id}", s.DeleteMessage)
	})

	// Jobs; /history must be registered before /{id}
	r.Route("/jobs", func(r chi.Router) {
		r.Post("/", s.CreateJob)
		r.Get("/", s.ListJobs)
		r.Get("/history", s.JobHistory)
		r.Get("/{id}", s.GetJob)
		r.Delete("/{id}", s.RemoveJob)
		r.Post("/{id}/pause", s.PauseJob)
		r.Post("/{id}/resume", s.ResumeJob)
	})

	log.Info().Msg("HTTP routes registered")
	return r
}

// Root is the liveness greeting.
func (s *Server) Root(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "pulse-api is running",
	})
}
