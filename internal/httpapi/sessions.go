package httpapi

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/joelkehle/value-model-agent/internal/modelstore"
	"github.com/joelkehle/value-model-agent/internal/relay"
	"github.com/joelkehle/value-model-agent/internal/session"
	"github.com/joelkehle/value-model-agent/internal/workflow"
)

type startRequest struct {
	ModelID string `json:"model_id" validate:"max=128"`
}

type messageRequest struct {
	ID    string `json:"id" validate:"max=128"`
	Text  string `json:"text" validate:"max=4000"`
	Agent string `json:"agent" validate:"max=64"`
}

// payloadView tags a payload with its type for clients.
type payloadView struct {
	Type    workflow.PayloadType `json:"type"`
	Payload workflow.Payload     `json:"payload"`
}

type transitionView struct {
	From      session.Stage `json:"from"`
	Stage     session.Stage `json:"stage"`
	Duplicate bool          `json:"duplicate,omitempty"`
	Payloads  []payloadView `json:"payloads"`
}

func viewTransition(tr workflow.Transition) transitionView {
	out := transitionView{From: tr.From, Stage: tr.Stage, Duplicate: tr.Duplicate, Payloads: make([]payloadView, 0, len(tr.Payloads))}
	for _, p := range tr.Payloads {
		out.Payloads = append(out.Payloads, payloadView{Type: p.PayloadType(), Payload: p})
	}
	return out
}

func (s *Server) handleStartSession(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := s.decodeBody(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	sc, err := s.svc.Start(r.Context(), req.ModelID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"ok": true, "session": sc})
}

func (s *Server) handleListSessions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "sessions": s.svc.SessionIDs()})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sc, err := s.svc.Snapshot(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "session": sc})
}

func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.End(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var req messageRequest
	if err := s.decodeBody(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	tr, err := s.svc.Send(r.Context(), chi.URLParam(r, "id"), workflow.Message{ID: req.ID, Text: req.Text, Agent: req.Agent})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "transition": viewTransition(tr), "session": tr.Context})
}

func (s *Server) handleSaveSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.svc.Save(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	sc, err := s.svc.Snapshot(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "model_id": sc.ModelID})
}

func (s *Server) handleRelay(w http.ResponseWriter, r *http.Request) {
	if s.hub == nil {
		writeError(w, modelstore.NewUnavailableError("relay is not enabled"))
		return
	}
	id := chi.URLParam(r, "id")
	if _, err := s.svc.Snapshot(id); err != nil {
		writeError(w, err)
		return
	}
	if err := s.hub.ServeWS(w, r, id, s.svc.HandleInbound); err != nil {
		if errors.Is(err, relay.ErrStopped) {
			return
		}
		s.logger.Warn("relay upgrade failed", "session_id", id, "error", err)
	}
}
