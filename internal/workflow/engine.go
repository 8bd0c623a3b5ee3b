package workflow

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/joelkehle/value-model-agent/internal/calc"
	"github.com/joelkehle/value-model-agent/internal/drivers"
	"github.com/joelkehle/value-model-agent/internal/enrich"
	"github.com/joelkehle/value-model-agent/internal/patterns"
	"github.com/joelkehle/value-model-agent/internal/report"
	"github.com/joelkehle/value-model-agent/internal/session"
	"github.com/joelkehle/value-model-agent/internal/whatif"
)

const tracerName = "github.com/joelkehle/value-model-agent/internal/workflow"

// Message is one inbound utterance. ID is optional; when present it is used
// to drop redeliveries.
type Message struct {
	ID    string `json:"id,omitempty"`
	Text  string `json:"text"`
	Agent string `json:"agent,omitempty"`
}

// Transition is the result of a step. Context is a new value; the caller's
// context is never modified.
type Transition struct {
	From      session.Stage    `json:"from"`
	Stage     session.Stage    `json:"stage"`
	Context   *session.Context `json:"context"`
	Payloads  []Payload        `json:"payloads"`
	Duplicate bool             `json:"duplicate,omitempty"`
}

type Options struct {
	Catalog    *drivers.Catalog
	Library    *patterns.Library
	Calculator *calc.Calculator
	Classifier UtteranceClassifier

	// Enricher looks up the prospect. Nil means every lookup yields a
	// placeholder; wrap real enrichers in enrich.Resilient.
	Enricher enrich.Enricher
	Reports  *report.Builder
	Logger   *slog.Logger
	Tracer   trace.Tracer

	// OnTransition observes every committed stage change, including
	// self-transitions.
	OnTransition func(from, to session.Stage)

	// OnCalculate observes each calculation the engine runs.
	OnCalculate func(res calc.Result)
}

// Engine drives a session through the value-model conversation.
type Engine struct {
	catalog    *drivers.Catalog
	library    *patterns.Library
	calc       *calc.Calculator
	whatif     *whatif.Engine
	classifier UtteranceClassifier
	enricher   enrich.Enricher
	reports    *report.Builder
	logger     *slog.Logger
	tracer     trace.Tracer
	specs      []drivers.InputSpec

	onTransition func(from, to session.Stage)
	onCalculate  func(res calc.Result)
}

func NewEngine(opts Options) (*Engine, error) {
	if opts.Classifier == nil {
		return nil, errors.New("workflow: classifier is required")
	}
	if opts.Catalog == nil {
		opts.Catalog = drivers.NewCatalog()
	}
	if opts.Library == nil {
		lib, err := patterns.NewLibrary(opts.Catalog)
		if err != nil {
			return nil, err
		}
		opts.Library = lib
	}
	if opts.Calculator == nil {
		c, err := calc.New(calc.DefaultConfig(), opts.Catalog)
		if err != nil {
			return nil, err
		}
		opts.Calculator = c
	}
	if opts.Reports == nil {
		opts.Reports = report.NewBuilder(opts.Catalog)
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Tracer == nil {
		opts.Tracer = otel.Tracer(tracerName)
	}
	specs := append(opts.Catalog.RequiredInputs(opts.Catalog.List()), opts.Catalog.CommercialInputs()...)
	return &Engine{
		catalog:      opts.Catalog,
		library:      opts.Library,
		calc:         opts.Calculator,
		whatif:       whatif.New(opts.Calculator, opts.Catalog),
		classifier:   opts.Classifier,
		enricher:     opts.Enricher,
		reports:      opts.Reports,
		logger:       opts.Logger,
		tracer:       opts.Tracer,
		specs:        specs,
		onTransition: opts.OnTransition,
		onCalculate:  opts.OnCalculate,
	}, nil
}

func (e *Engine) Catalog() *drivers.Catalog { return e.catalog }

// Step handles one utterance against cur and returns the next context.
func (e *Engine) Step(ctx context.Context, cur *session.Context, msg Message) (Transition, error) {
	if cur == nil {
		return Transition{}, errors.New("workflow: nil session context")
	}
	ctx, span := e.tracer.Start(ctx, "workflow.step", trace.WithAttributes(
		attribute.String("session.id", cur.SessionID),
		attribute.String("stage.from", string(cur.Stage)),
	))
	defer span.End()

	sc := cur.Clone()
	from := sc.Stage
	if sc.SeenMessage(msg.ID) {
		span.SetAttributes(attribute.Bool("duplicate", true))
		return Transition{
			From:      from,
			Stage:     from,
			Context:   sc,
			Duplicate: true,
			Payloads:  []Payload{Notice{Code: "duplicate_message", Message: "Already handled that message."}},
		}, nil
	}
	sc.RememberMessage(msg.ID)
	sc.Turn++

	if !sc.Stage.Valid() {
		e.logger.Warn("invalid stage; resetting", "session_id", sc.SessionID, "stage", sc.Stage)
		sc.Reset()
	}

	text := strings.TrimSpace(msg.Text)
	intent := e.classifier.ExtractIntent(text, e.specs)

	var out []Payload
	if intent.Kind == IntentReset {
		sc.Reset()
		out = append(out, Notice{Code: "reset", Message: "Starting over. Which company are we building a value model for?"})
	} else {
		out = e.dispatch(ctx, sc, text, intent)
	}
	if sc.Stage == session.StageCalculation {
		out = append(out, e.calculate(ctx, sc)...)
	}

	span.SetAttributes(attribute.String("stage.to", string(sc.Stage)))
	e.logger.Debug("workflow step", "session_id", sc.SessionID, "from", from, "to", sc.Stage, "turn", sc.Turn)
	if e.onTransition != nil {
		e.onTransition(from, sc.Stage)
	}
	return Transition{From: from, Stage: sc.Stage, Context: sc, Payloads: out}, nil
}

func (e *Engine) dispatch(ctx context.Context, sc *session.Context, text string, intent Intent) []Payload {
	switch sc.Stage {
	case session.StageIdle:
		if text == "" {
			return []Payload{Notice{Code: "prompt_company", Message: "Which company are we building a value model for? A name or website works."}}
		}
		return e.research(ctx, sc, text)
	case session.StageCompanyResearch:
		if text == "" {
			return []Payload{Notice{Code: "prompt_company", Message: "Which company are we building a value model for? A name or website works."}}
		}
		return e.research(ctx, sc, text)
	case session.StageCommercialFootprint:
		return e.footprint(sc, text)
	case session.StageDriverSelection:
		return e.selectDrivers(sc, text)
	case session.StageDataCollection:
		return e.collect(sc, text, intent)
	case session.StageCalculation:
		return nil
	case session.StageRefinement, session.StageReportGeneration:
		return e.refine(ctx, sc, intent)
	}
	return nil
}
