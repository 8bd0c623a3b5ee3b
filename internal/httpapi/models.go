package httpapi

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/joelkehle/value-model-agent/internal/modelstore"
)

func (s *Server) handleCreateModel(w http.ResponseWriter, r *http.Request) {
	var m modelstore.Model
	if err := s.decodeBody(w, r, &m); err != nil {
		writeError(w, err)
		return
	}
	created, err := s.models.Create(r.Context(), m)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"ok": true, "model": created})
}

func (s *Server) handleListModels(w http.ResponseWriter, r *http.Request) {
	list, err := s.models.List(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "models": list})
}

func (s *Server) handleGetModel(w http.ResponseWriter, r *http.Request) {
	m, err := s.models.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "model": m})
}

func (s *Server) handleUpdateModel(w http.ResponseWriter, r *http.Request) {
	var m modelstore.Model
	if err := s.decodeBody(w, r, &m); err != nil {
		writeError(w, err)
		return
	}
	m.ID = chi.URLParam(r, "id")
	updated, err := s.models.Update(r.Context(), m)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "model": updated})
}

// handleExportModel streams the rendered model. The format defaults to json.
func (s *Server) handleExportModel(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("format")
	if raw == "" {
		raw = string(modelstore.FormatJSON)
	}
	format, err := modelstore.ParseFormat(raw)
	if err != nil {
		writeError(w, err)
		return
	}
	ex, err := s.models.Export(r.Context(), chi.URLParam(r, "id"), format)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", ex.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", ex.Filename))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(ex.Data)
}
