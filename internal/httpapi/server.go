// Package httpapi exposes sessions, the driver catalog, stateless
// calculation and stored models over JSON/HTTP.
package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"

	"github.com/joelkehle/value-model-agent/internal/calc"
	"github.com/joelkehle/value-model-agent/internal/drivers"
	"github.com/joelkehle/value-model-agent/internal/modelstore"
	"github.com/joelkehle/value-model-agent/internal/operator"
	"github.com/joelkehle/value-model-agent/internal/patterns"
	"github.com/joelkehle/value-model-agent/internal/relay"
	"github.com/joelkehle/value-model-agent/internal/session"
)

const maxBodyBytes = 1 << 20

type Deps struct {
	Service    *operator.Service
	Catalog    *drivers.Catalog
	Library    *patterns.Library
	Calculator *calc.Calculator

	// Hub serves the WebSocket relay; nil disables it.
	Hub *relay.Hub

	// Metrics is mounted at /metrics when set.
	Metrics http.Handler
	Logger  *slog.Logger
}

type Server struct {
	svc      *operator.Service
	models   modelstore.Store
	catalog  *drivers.Catalog
	library  *patterns.Library
	calc     *calc.Calculator
	hub      *relay.Hub
	logger   *slog.Logger
	validate *validator.Validate
	started  time.Time
}

func NewServer(d Deps) http.Handler {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	s := &Server{
		svc:      d.Service,
		models:   d.Service.Models(),
		catalog:  d.Catalog,
		library:  d.Library,
		calc:     d.Calculator,
		hub:      d.Hub,
		logger:   d.Logger,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		started:  time.Now(),
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)

	if d.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", d.Metrics)
	}
	r.Route("/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Get("/drivers", s.handleListDrivers)
		r.Get("/drivers/{id}", s.handleGetDriver)
		r.Get("/benchmarks/{industry}", s.handleBenchmark)
		r.Post("/patterns/match", s.handleMatchPatterns)
		r.Post("/calculate", s.handleCalculate)

		r.Route("/sessions", func(r chi.Router) {
			r.Post("/", s.handleStartSession)
			r.Get("/", s.handleListSessions)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetSession)
				r.Delete("/", s.handleEndSession)
				r.Post("/messages", s.handleSendMessage)
				r.Post("/save", s.handleSaveSession)
				r.Get("/ws", s.handleRelay)
			})
		})

		r.Route("/models", func(r chi.Router) {
			r.Post("/", s.handleCreateModel)
			r.Get("/", s.handleListModels)
			r.Get("/{id}", s.handleGetModel)
			r.Put("/{id}", s.handleUpdateModel)
			r.Get("/{id}/export", s.handleExportModel)
		})
	})
	return r
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeError renders err in the {"ok":false,"error":{...}} envelope.
func writeError(w http.ResponseWriter, err error) {
	var me *modelstore.Error
	switch {
	case errors.As(err, &me):
	case errors.Is(err, session.ErrSessionNotFound):
		me = &modelstore.Error{Code: modelstore.CodeNotFound, Message: "session not found"}
	default:
		me = &modelstore.Error{Code: modelstore.CodeInternal, Message: err.Error(), Transient: true}
	}
	body := map[string]any{
		"code":      me.Code,
		"message":   me.Message,
		"transient": me.Transient,
	}
	if me.RetryAfter > 0 {
		body["retry_after"] = me.RetryAfter
		w.Header().Set("Retry-After", strconv.Itoa(me.RetryAfter))
	}
	status := me.Status
	if status == 0 {
		status = modelstore.StatusForCode(me.Code)
	}
	writeJSON(w, status, map[string]any{"ok": false, "error": body})
}

// decodeBody reads a JSON body into dst and validates it. An empty body
// decodes as {}.
func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	blob, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return modelstore.NewValidationError("read body: " + err.Error())
	}
	if len(blob) == 0 {
		blob = []byte("{}")
	}
	if err := json.Unmarshal(blob, dst); err != nil {
		return modelstore.NewValidationError("invalid json: " + err.Error())
	}
	if err := s.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return modelstore.NewValidationError(fe.Field() + " failed " + fe.Tag())
		}
		var inv *validator.InvalidValidationError
		if !errors.As(err, &inv) {
			return modelstore.NewValidationError(err.Error())
		}
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":       true,
		"sessions": len(s.svc.SessionIDs()),
		"uptime_s": int(time.Since(s.started).Seconds()),
	})
}
