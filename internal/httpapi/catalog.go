package httpapi

import (
	"fmt"
	"net/http"
	"sort"

	"github.com/go-chi/chi/v5"

	"github.com/joelkehle/value-model-agent/internal/calc"
	"github.com/joelkehle/value-model-agent/internal/drivers"
	"github.com/joelkehle/value-model-agent/internal/modelstore"
)

func (s *Server) handleListDrivers(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":                true,
		"drivers":           s.catalog.List(),
		"commercial_inputs": s.catalog.CommercialInputs(),
		"default_selection": s.catalog.DefaultSelection(),
	})
}

func (s *Server) handleGetDriver(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	d, ok := s.catalog.Get(id)
	if !ok {
		writeError(w, &modelstore.Error{Code: modelstore.CodeNotFound, Message: fmt.Sprintf("driver %q not found", id)})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "driver": d})
}

func (s *Server) handleBenchmark(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "benchmark": drivers.BenchmarkFor(chi.URLParam(r, "industry"))})
}

type matchRequest struct {
	Industry string `json:"industry" validate:"max=200"`
	Persona  string `json:"persona" validate:"max=200"`
	Problem  string `json:"problem" validate:"max=4000"`
}

func (s *Server) handleMatchPatterns(w http.ResponseWriter, r *http.Request) {
	var req matchRequest
	if err := s.decodeBody(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":             true,
		"matches":        s.library.Match(req.Industry, req.Persona, req.Problem),
		"recommendation": s.library.Best(req.Industry, req.Persona, req.Problem),
	})
}

// calculateRequest omits drivers to use the default selection; an explicit
// empty list calculates with no drivers.
type calculateRequest struct {
	Drivers  []string           `json:"drivers" validate:"omitempty,dive,required"`
	Inputs   map[string]float64 `json:"inputs"`
	Industry string             `json:"industry"`
}

func (s *Server) handleCalculate(w http.ResponseWriter, r *http.Request) {
	var req calculateRequest
	if err := s.decodeBody(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	ids := req.Drivers
	if ids == nil {
		ids = s.catalog.DefaultSelection()
	}
	for _, id := range ids {
		if !s.catalog.Has(id) {
			writeError(w, modelstore.NewValidationError(fmt.Sprintf("unknown driver %q", id)))
			return
		}
	}
	selected := s.catalog.Select(ids)
	in := drivers.InputsFromMap(req.Inputs, inputOrder(s.catalog, selected, req.Inputs))
	backfilled := calc.Backfill(s.catalog, selected, in, req.Industry)
	res := s.calc.Calculate(selected, in)
	res.Backfilled = backfilled
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "result": res, "inputs": in})
}

// inputOrder lists the driver inputs, then the commercial inputs, then any
// other supplied ids alphabetically.
func inputOrder(catalog *drivers.Catalog, selected []drivers.ValueDriver, supplied map[string]float64) []string {
	seen := map[string]bool{}
	var keys []string
	for _, spec := range append(catalog.RequiredInputs(selected), catalog.CommercialInputs()...) {
		if !seen[spec.ID] {
			seen[spec.ID] = true
			keys = append(keys, spec.ID)
		}
	}
	var extra []string
	for k := range supplied {
		if !seen[k] {
			extra = append(extra, k)
		}
	}
	sort.Strings(extra)
	return append(keys, extra...)
}
