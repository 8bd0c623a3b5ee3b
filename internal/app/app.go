// Package app assembles the value-agent components from a config.Config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"strings"

	"golang.org/x/time/rate"

	"github.com/joelkehle/value-model-agent/internal/calc"
	"github.com/joelkehle/value-model-agent/internal/classify"
	"github.com/joelkehle/value-model-agent/internal/config"
	"github.com/joelkehle/value-model-agent/internal/drivers"
	"github.com/joelkehle/value-model-agent/internal/enrich"
	"github.com/joelkehle/value-model-agent/internal/httpapi"
	"github.com/joelkehle/value-model-agent/internal/modelstore"
	"github.com/joelkehle/value-model-agent/internal/operator"
	"github.com/joelkehle/value-model-agent/internal/patterns"
	"github.com/joelkehle/value-model-agent/internal/relay"
	"github.com/joelkehle/value-model-agent/internal/report"
	"github.com/joelkehle/value-model-agent/internal/session"
	"github.com/joelkehle/value-model-agent/internal/telemetry"
	"github.com/joelkehle/value-model-agent/internal/workflow"
)

// Core is the conversation engine and what it is built from. It holds no
// storage or network state.
type Core struct {
	Catalog    *drivers.Catalog
	Library    *patterns.Library
	Calculator *calc.Calculator
	Reports    *report.Builder
	Engine     *workflow.Engine
}

// NewCore builds the engine. metrics may be nil.
func NewCore(cfg config.Config, logger *slog.Logger, metrics *telemetry.Metrics) (*Core, error) {
	if logger == nil {
		logger = slog.Default()
	}
	catalog := drivers.NewCatalog()

	var library *patterns.Library
	var err error
	if cfg.Patterns.File != "" {
		library, err = patterns.LoadFile(cfg.Patterns.File, catalog)
	} else {
		library, err = patterns.NewLibrary(catalog)
	}
	if err != nil {
		return nil, fmt.Errorf("load patterns: %w", err)
	}

	calculator, err := calc.New(cfg.Calc, catalog)
	if err != nil {
		return nil, err
	}

	enricher, err := newEnricher(cfg.Enrichment, logger, metrics)
	if err != nil {
		return nil, err
	}

	reports := report.NewBuilder(catalog)
	opts := workflow.Options{
		Catalog:    catalog,
		Library:    library,
		Calculator: calculator,
		Classifier: classify.NewKeyword(),
		Enricher:   enricher,
		Reports:    reports,
		Logger:     logger,
	}
	if metrics != nil {
		opts.OnTransition = metrics.ObserveTransition
		opts.OnCalculate = metrics.ObserveCalculation
	}
	engine, err := workflow.NewEngine(opts)
	if err != nil {
		return nil, err
	}
	return &Core{Catalog: catalog, Library: library, Calculator: calculator, Reports: reports, Engine: engine}, nil
}

func newEnricher(cfg config.Enrichment, logger *slog.Logger, metrics *telemetry.Metrics) (enrich.Enricher, error) {
	if !cfg.Enabled {
		return enrich.NewResilient(nil, cfg.Timeout, logger), nil
	}
	inner, err := enrich.NewAnthropicEnricher(cfg.APIKey, cfg.Model)
	if err != nil {
		return nil, fmt.Errorf("enrichment: %w", err)
	}
	r := enrich.NewResilient(inner, cfg.Timeout, logger)
	if metrics != nil {
		r.OnFailure = metrics.EnrichmentFailed
	}
	return r, nil
}

// Server is everything value-agent serves.
type Server struct {
	*Core
	Metrics *telemetry.Metrics
	Store   *modelstore.SQLiteStore
	Hub     *relay.Hub
	Service *operator.Service
	Handler http.Handler
}

// NewServer wires the store, relay and HTTP surface around a Core. The
// caller runs Hub.Run and calls Close when done.
func NewServer(ctx context.Context, cfg config.Config, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}
	metrics := telemetry.NewMetrics()
	core, err := NewCore(cfg, logger, metrics)
	if err != nil {
		return nil, err
	}

	var pdf report.PDFRenderer
	if cfg.Report.PDFEnabled {
		pdf = report.NewChromiumPDFRenderer(cfg.Report.ChromePath)
	}
	store, err := modelstore.NewSQLiteStore(cfg.Store.DBPath, modelstore.NewExporter(core.Reports, pdf))
	if err != nil {
		return nil, err
	}

	hub := relay.NewHub(logger, metrics)
	hub.SetInboundLimit(rate.Limit(cfg.Relay.InboundRate), cfg.Relay.InboundBurst)
	hub.SetClientBuffer(cfg.Relay.ClientBuffer)
	if len(cfg.Relay.AllowedOrigins) > 0 {
		hub.SetCheckOrigin(originChecker(cfg.Relay.AllowedOrigins))
	}

	svc, err := operator.NewService(ctx, operator.Options{
		Engine:           core.Engine,
		Models:           store,
		Sessions:         session.NewStore(),
		Publisher:        hub,
		Observer:         metrics,
		Logger:           logger,
		AutosaveInterval: cfg.Session.AutosaveInterval,
	})
	if err != nil {
		store.Close()
		return nil, err
	}

	handler := httpapi.NewServer(httpapi.Deps{
		Service:    svc,
		Catalog:    core.Catalog,
		Library:    core.Library,
		Calculator: core.Calculator,
		Hub:        hub,
		Metrics:    metrics.Handler(),
		Logger:     logger,
	})
	return &Server{Core: core, Metrics: metrics, Store: store, Hub: hub, Service: svc, Handler: handler}, nil
}

// Close saves every live session, then stops the relay and the store.
func (s *Server) Close(ctx context.Context) error {
	err := s.Service.Shutdown(ctx)
	s.Hub.Stop()
	return errors.Join(err, s.Store.Close())
}

// originChecker admits requests without an Origin header and those whose
// origin host is listed.
func originChecker(allowed []string) func(*http.Request) bool {
	hosts := make([]string, 0, len(allowed))
	for _, a := range allowed {
		a = strings.ToLower(strings.TrimSpace(a))
		if u, err := url.Parse(a); err == nil && u.Host != "" {
			a = u.Host
		}
		hosts = append(hosts, a)
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		return slices.Contains(hosts, strings.ToLower(u.Host))
	}
}
