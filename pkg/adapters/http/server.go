// Package http exposes the conversation engine over a deliberately narrow
// HTTP boundary: push text or input in, pull buffered events out. There is
// no resource CRUD, no authentication and no rendering here; card and
// message payloads pass through opaque.
package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/colloquyhq/colloquy/pkg/domain"
	"github.com/colloquyhq/colloquy/pkg/events"
	"github.com/colloquyhq/colloquy/pkg/session"
)

// Server handles the conversation endpoints over a session manager.
type Server struct {
	sessions *session.Manager
	logger   *slog.Logger
}

// NewHandler creates the HTTP handler for the engine.
func NewHandler(sessions *session.Manager, logger *slog.Logger) http.Handler {
	s := &Server{sessions: sessions, logger: logger}

	r := chi.NewRouter()
	r.Get("/healthz", s.health)
	r.Route("/sessions/{id}", func(r chi.Router) {
		r.Post("/", s.start)
		r.Delete("/", s.end)
		r.Post("/messages", s.message)
		r.Post("/input", s.input)
		r.Post("/reset", s.reset)
		r.Get("/events", s.events)
	})
	return r
}

type messageRequest struct {
	Text string `json:"text"`
}

type eventsResponse struct {
	Events []events.Envelope `json:"events"`
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) start(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.sessions.Start(r.Context(), id); err != nil {
		s.fail(w, id, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) end(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.sessions.End(r.Context(), id); err != nil {
		s.fail(w, id, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// message accepts raw text. The response carries no outcome: results
// surface through the event stream only.
func (s *Server) message(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req messageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	if err := s.sessions.ProcessMessage(r.Context(), id, req.Text); err != nil {
		s.fail(w, id, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// input accepts an external form submission as a flat JSON object.
func (s *Server) input(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var data map[string]any
	if err := json.NewDecoder(r.Body).Decode(&data); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	if err := s.sessions.SubmitInput(r.Context(), id, data); err != nil {
		s.fail(w, id, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) reset(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.sessions.Reset(r.Context(), id); err != nil {
		s.fail(w, id, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// events drains the session's buffered envelopes.
func (s *Server) events(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	sess, err := s.sessions.Get(id)
	if err != nil {
		s.fail(w, id, err)
		return
	}
	drained := sess.Events.Drain()
	if drained == nil {
		drained = []events.Envelope{}
	}
	writeJSON(w, http.StatusOK, eventsResponse{Events: drained})
}

func (s *Server) fail(w http.ResponseWriter, id string, err error) {
	if errors.Is(err, domain.ErrSessionNotFound) {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}
	s.logger.Error("request failed", "session_id", id, "err", err)
	http.Error(w, "internal error", http.StatusInternalServerError)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		// Headers are already written; nothing sensible left to do.
		return
	}
}
