// Package server exposes the intake engine over HTTP. It is a thin
// surface: all conversation logic lives in the session package.
package server

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"github.com/tbxark/intakeagent/session"
)

type Server struct {
	router *chi.Mux
	store  *session.Store
}

func New(store *session.Store, allowedOrigin string) *Server {
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{allowedOrigin},
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	s := &Server{router: r, store: store}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.Get("/api/health", s.handleHealth)
	s.router.Post("/api/sessions", s.handleCreateSession)
	s.router.Post("/api/sessions/{id}/messages", s.handleSendMessage)
	s.router.Get("/api/sessions/{id}/messages", s.handleHistory)
	s.router.Get("/api/sessions/{id}/info", s.handleFields)
	s.router.Get("/api/sessions/{id}/completion", s.handleCompletion)
	s.router.Get("/api/sessions/{id}/status", s.handleStatus)
	s.router.Post("/api/sessions/{id}/search", s.handleSearch)
	s.router.Delete("/api/sessions/{id}", s.handleCloseSession)
}

func (s *Server) Router() http.Handler { return s.router }

type messageRequest struct {
	Message string `json:"message"`
}

type searchRequest struct {
	Query string `json:"query"`
	Limit int    `json:"limit"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	e := s.store.Create(r.Context())
	s.writeJSON(w, http.StatusOK, map[string]any{
		"session_id": e.ID(),
		"created_at": e.CreatedAt().Format(time.RFC3339),
		"message":    e.Greeting(),
	})
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	e, ok := s.session(w, r)
	if !ok {
		return
	}
	var req messageRequest
	if err := sonic.ConfigDefault.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		s.writeError(w, http.StatusBadRequest, "message is required")
		return
	}
	reply, err := e.HandleMessage(r.Context(), req.Message)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to process message")
		return
	}
	s.writeJSON(w, http.StatusOK, reply)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	e, ok := s.session(w, r)
	if !ok {
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"session_id": e.ID(),
		"turns":      e.History(),
	})
}

func (s *Server) handleFields(w http.ResponseWriter, r *http.Request) {
	e, ok := s.session(w, r)
	if !ok {
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"session_id":  e.ID(),
		"fields":      e.Fields(),
		"is_complete": e.Fields().IsComplete(),
	})
}

func (s *Server) handleCompletion(w http.ResponseWriter, r *http.Request) {
	e, ok := s.session(w, r)
	if !ok {
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"session_id": e.ID(),
		"completion": e.Completion(),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	e, ok := s.session(w, r)
	if !ok {
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"session_id": e.ID(),
		"status":     e.Status(),
		"turn_count": len(e.History()),
		"fields":     e.Fields(),
		"completion": e.Completion(),
	})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	e, ok := s.session(w, r)
	if !ok {
		return
	}
	var req searchRequest
	if err := sonic.ConfigDefault.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		s.writeError(w, http.StatusBadRequest, "query is required")
		return
	}
	results, err := e.SearchSimilar(r.Context(), req.Query, req.Limit)
	if err != nil {
		s.writeError(w, http.StatusBadGateway, "similarity search failed")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"session_id": e.ID(),
		"query":      req.Query,
		"results":    results,
	})
}

func (s *Server) handleCloseSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.store.Close(id); err != nil {
		if errors.Is(err, session.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "session not found")
			return
		}
		s.writeError(w, http.StatusInternalServerError, "failed to close session")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"message": "session " + id + " closed"})
}

func (s *Server) session(w http.ResponseWriter, r *http.Request) (*session.Engine, bool) {
	id := chi.URLParam(r, "id")
	e, err := s.store.Get(id)
	if err != nil {
		s.writeError(w, http.StatusNotFound, "session not found")
		return nil, false
	}
	return e, true
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = sonic.ConfigDefault.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = sonic.ConfigDefault.NewEncoder(w).Encode(errorResponse{Error: msg})
}
