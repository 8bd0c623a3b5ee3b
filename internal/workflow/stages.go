package workflow

import (
	"context"
	"fmt"
	"maps"
	"math"
	"slices"
	"strings"

	"github.com/joelkehle/value-model-agent/internal/calc"
	"github.com/joelkehle/value-model-agent/internal/drivers"
	"github.com/joelkehle/value-model-agent/internal/enrich"
	"github.com/joelkehle/value-model-agent/internal/report"
	"github.com/joelkehle/value-model-agent/internal/session"
)

// DefaultExportFormat is used when an export request names no format.
const DefaultExportFormat = "pdf"

const footprintPrompt = "Tell me about their commercial footprint: number of reps, average deal size, " +
	"and what you expect to charge per year."

func (e *Engine) research(ctx context.Context, sc *session.Context, text string) []Payload {
	ctx, span := e.tracer.Start(ctx, "workflow.research")
	defer span.End()

	hint := e.classifier.ExtractIndustry(text)
	lookup := strings.TrimSpace(hint.Company)
	if lookup == "" {
		lookup = text
	}

	var info session.CompanyInfo
	if e.enricher == nil {
		info = enrich.Placeholder(lookup, "")
	} else {
		got, err := e.enricher.Enrich(ctx, lookup)
		if err != nil {
			e.logger.Warn("company enrichment failed", "session_id", sc.SessionID, "company", lookup, "error", err)
			got = enrich.Placeholder(lookup, "")
		}
		info = got
	}
	if hint.Industry != "" {
		info.Industry = hint.Industry
	}
	if strings.TrimSpace(info.Name) == "" {
		info.Name = enrich.Placeholder(lookup, "").Name
	}

	sc.Company = &info
	sc.Persona = hint.Persona
	sc.Problem = hint.Problem

	problem := hint.Problem
	if !info.Placeholder {
		problem = strings.TrimSpace(problem + " " + info.Description)
	}
	rec := e.library.Best(info.Industry, hint.Persona, problem)
	sc.PatternMatch = &rec

	seeded := driverIDs(e.catalog.Select(rec.Pattern.Drivers.Primary))
	if len(seeded) == 0 {
		seeded = driverIDs(e.catalog.Select(e.catalog.DefaultSelection()))
	}
	sc.SelectedDriverIDs = seeded
	sc.Stage = session.StageCommercialFootprint

	msg := fmt.Sprintf("%s looks like a fit for the %s pattern.", info.Name, rec.Pattern.Name)
	if info.Placeholder {
		msg = fmt.Sprintf("I couldn't find details on %s, so I'll use generic assumptions.", info.Name)
	}
	return []Payload{
		ResearchResult{
			Company:        info,
			Recommendation: rec,
			Recommended:    e.options(seeded, seeded),
			Benchmarks:     maps.Clone(drivers.BenchmarkFor(info.Industry).Defaults),
			Message:        msg,
		},
		Notice{Code: "prompt_footprint", Message: footprintPrompt},
	}
}

func (e *Engine) footprint(sc *session.Context, text string) []Payload {
	facts := e.classifier.ExtractFacts(text, e.specs)
	var recorded []RecordedInput
	for _, spec := range e.specs {
		v, ok := facts[spec.ID]
		if !ok || !finite(v) {
			continue
		}
		sc.Inputs.Set(spec.ID, v)
		out := !spec.InRange(v)
		if out {
			sc.Flag(spec.ID)
		} else {
			sc.Unflag(spec.ID)
		}
		recorded = append(recorded, RecordedInput{ID: spec.ID, Name: spec.Name, Value: v, OutOfRange: out})
	}

	offered := slices.Clone(sc.SelectedDriverIDs)
	for _, id := range e.catalog.IDs() {
		if !slices.Contains(offered, id) {
			offered = append(offered, id)
		}
	}
	sc.OfferedDriverIDs = offered
	sc.Stage = session.StageDriverSelection

	msg := "Noted. I'll use benchmark values for anything you haven't told me."
	if len(recorded) == 0 {
		msg = "I didn't catch any figures; I'll ask for them as we go."
	}
	return []Payload{
		FootprintResult{Recorded: recorded, Message: msg},
		DriverOptions{
			Options: e.options(offered, sc.SelectedDriverIDs),
			Prompt:  "Which value drivers apply? Reply with numbers or names, \"all\", or \"keep\" for the recommended set.",
		},
	}
}

func (e *Engine) selectDrivers(sc *session.Context, text string) []Payload {
	offered := sc.OfferedDriverIDs
	if len(offered) == 0 {
		offered = e.catalog.IDs()
	}
	sel := e.classifier.ExtractSelection(text, e.options(offered, sc.SelectedDriverIDs))

	var out []Payload
	var chosen []string
	switch {
	case sel.None:
		chosen = []string{}
	case sel.All:
		chosen = e.catalog.IDs()
	case sel.Keep && len(sc.SelectedDriverIDs) > 0:
		chosen = sc.SelectedDriverIDs
	case len(e.catalog.FilterKnown(sel.IDs)) > 0:
		chosen = e.catalog.FilterKnown(sel.IDs)
	default:
		chosen = e.catalog.DefaultSelection()
		out = append(out, Notice{Code: "default_drivers", Message: "I couldn't tell which drivers you meant, so I'm using the standard set."})
	}

	sc.SelectedDriverIDs = driverIDs(e.catalog.Select(chosen))
	sc.Cursor = session.Cursor{}
	sc.Pending = ""
	sc.Stage = session.StageDataCollection
	return append(out, e.advance(sc)...)
}

func (e *Engine) collect(sc *session.Context, text string, intent Intent) []Payload {
	var out []Payload
	if sc.Pending != "" {
		spec, ok := e.catalog.InputSpec(sc.Pending)
		if !ok {
			sc.Pending = ""
			return e.advance(sc)
		}
		var v float64
		switch n, parsed := e.classifier.ExtractNumber(text); {
		case parsed && finite(n):
			v = n
		case intent.Kind == IntentSkip:
			v = e.catalog.DefaultFor(spec.ID, sc.Industry())
			out = append(out, Notice{Code: "default_used", Message: fmt.Sprintf("Using %s for %s.", report.FormatInput(spec, v), spec.Name)})
		default:
			out = append(out, Notice{Code: "unparsed_answer", Message: fmt.Sprintf("I couldn't read a number, so %s is set to 0. You can change it later.", spec.Name)})
		}
		sc.Inputs.Set(spec.ID, v)
		if spec.InRange(v) {
			sc.Unflag(spec.ID)
		} else {
			sc.Flag(spec.ID)
			out = append(out, Notice{Code: "out_of_range", Message: fmt.Sprintf("%s of %s is outside the typical range; keeping it, but flagging it.", spec.Name, report.FormatInput(spec, v))})
		}
		sc.Pending = ""
	}
	return append(out, e.advance(sc)...)
}

// inputGroups lists the questions in asking order: each selected driver's
// inputs, then the commercial terms.
func (e *Engine) inputGroups(sc *session.Context) ([][]drivers.InputSpec, []drivers.ValueDriver) {
	selected := e.catalog.Select(sc.SelectedDriverIDs)
	groups := make([][]drivers.InputSpec, 0, len(selected)+1)
	for _, d := range selected {
		groups = append(groups, d.Inputs)
	}
	return append(groups, e.catalog.CommercialInputs()), selected
}

// advance moves the cursor to the next unanswered input and asks for it, or
// hands over to calculation when nothing is left.
func (e *Engine) advance(sc *session.Context) []Payload {
	groups, selected := e.inputGroups(sc)
	counted := map[string]bool{}
	var next *Question
	for di := sc.Cursor.DriverIndex; di < len(groups); di++ {
		start := 0
		if di == sc.Cursor.DriverIndex {
			start = sc.Cursor.InputIndex
		}
		for ii := start; ii < len(groups[di]); ii++ {
			spec := groups[di][ii]
			if sc.Inputs.Has(spec.ID) || counted[spec.ID] {
				continue
			}
			counted[spec.ID] = true
			if next != nil {
				continue
			}
			sc.Cursor = session.Cursor{DriverIndex: di, InputIndex: ii}
			q := e.question(sc, spec)
			if di < len(selected) {
				q.DriverID, q.DriverName = selected[di].ID, selected[di].Name
			}
			next = &q
		}
	}
	if next == nil {
		sc.Cursor = session.Cursor{DriverIndex: len(groups)}
		sc.Pending = ""
		sc.Stage = session.StageCalculation
		return nil
	}
	next.Remaining = len(counted)
	sc.Pending = next.InputID
	return []Payload{*next}
}

func (e *Engine) question(sc *session.Context, spec drivers.InputSpec) Question {
	def := e.catalog.DefaultFor(spec.ID, sc.Industry())
	prompt := fmt.Sprintf("%s? Typical is %s; say \"skip\" to use it.", spec.Name, report.FormatInput(spec, def))
	if spec.Description != "" {
		prompt = fmt.Sprintf("%s (%s)? Typical is %s; say \"skip\" to use it.", spec.Name, spec.Description, report.FormatInput(spec, def))
	}
	return Question{
		InputID:      spec.ID,
		Name:         spec.Name,
		Description:  spec.Description,
		Type:         string(spec.Type),
		Unit:         spec.Unit,
		DefaultValue: def,
		LowValue:     spec.LowValue,
		HighValue:    spec.HighValue,
		Prompt:       prompt,
	}
}

func (e *Engine) calculate(ctx context.Context, sc *session.Context) []Payload {
	_, span := e.tracer.Start(ctx, "workflow.calculate")
	defer span.End()

	selected := e.catalog.Select(sc.SelectedDriverIDs)
	filled := calc.Backfill(e.catalog, selected, sc.Inputs, sc.Industry())
	res := e.calc.Calculate(selected, sc.Inputs)
	res.Backfilled = append(filled, res.Backfilled...)
	sc.SetResult(res)
	sc.Stage = session.StageRefinement
	if e.onCalculate != nil {
		e.onCalculate(res)
	}

	out := []Payload{CalculationResult{
		Result:  *res.Clone(),
		Drivers: slices.Clone(sc.SelectedDriverIDs),
		Message: fmt.Sprintf("Annual benefits of %s against first-year costs of %s; three-year NPV %s, payback %s.",
			report.FormatUSD(res.TotalBenefits), report.FormatUSD(res.TotalCosts), report.FormatUSD(res.NPV), report.FormatPayback(&res)),
	}}
	if !res.PaybackAchievable {
		out = append(out, Notice{Code: "payback_not_achievable", Message: "First-year benefits don't cover first-year costs, so payback isn't reached."})
	}
	return append(out, Notice{Code: "prompt_refine", Message: "Ask \"what if reps is 40\", lock an input, reset to defaults, or ask for the report."})
}

func (e *Engine) refine(ctx context.Context, sc *session.Context, intent Intent) []Payload {
	switch intent.Kind {
	case IntentReport:
		_, span := e.tracer.Start(ctx, "workflow.report")
		defer span.End()
		sc.Stage = session.StageReportGeneration
		return []Payload{Report{Markdown: e.reports.Markdown(sc)}}

	case IntentWhatIf:
		if intent.InputID == "" || !intent.HasValue || !finite(intent.Value) {
			return []Payload{Error{Code: "whatif_incomplete", Message: "Tell me which input and the value to try, e.g. \"what if reps is 40\"."}}
		}
		spec, ok := e.catalog.InputSpec(intent.InputID)
		if !ok {
			return []Payload{Error{Code: "unknown_input", Message: fmt.Sprintf("I don't know an input called %q.", intent.InputID)}}
		}
		sc.Stage = session.StageRefinement
		outcome := e.whatif.WhatIf(sc, map[string]float64{spec.ID: intent.Value})
		e.observe(outcome.Current)
		if spec.InRange(intent.Value) {
			sc.Unflag(spec.ID)
		} else {
			sc.Flag(spec.ID)
		}
		return []Payload{WhatIfResult{
			Outcome: outcome,
			Message: fmt.Sprintf("With %s at %s, NPV is %s.", spec.Name, report.FormatInput(spec, intent.Value), report.FormatUSD(outcome.Current.NPV)),
		}}

	case IntentLock:
		if err := e.whatif.Lock(sc, intent.InputID); err != nil {
			return []Payload{Error{Code: "unknown_input", Message: "Which input should I lock?"}}
		}
		spec, _ := e.catalog.InputSpec(intent.InputID)
		return []Payload{Notice{Code: "locked", Message: fmt.Sprintf("%s is locked and will survive a reset.", spec.Name)}}

	case IntentUnlock:
		spec, ok := e.catalog.InputSpec(intent.InputID)
		if !ok {
			return []Payload{Error{Code: "unknown_input", Message: "Which input should I unlock?"}}
		}
		e.whatif.Unlock(sc, spec.ID)
		return []Payload{Notice{Code: "unlocked", Message: fmt.Sprintf("%s is unlocked.", spec.Name)}}

	case IntentResetDefaults:
		sc.Stage = session.StageRefinement
		outcome := e.whatif.ResetToDefaults(sc)
		e.observe(outcome.Current)
		return []Payload{WhatIfResult{Outcome: outcome, Message: "Unlocked inputs are back to their defaults."}}

	case IntentRecalculate:
		sc.Stage = session.StageRefinement
		outcome := e.whatif.Recalculate(sc, sc.Inputs)
		e.observe(outcome.Current)
		return []Payload{WhatIfResult{Outcome: outcome, Message: "Recalculated."}}

	case IntentExport:
		format := strings.ToLower(strings.TrimSpace(intent.Format))
		if format == "" {
			format = DefaultExportFormat
		}
		return []Payload{ExportIntent{Format: format, ModelID: sc.ModelID}}
	}
	return []Payload{Notice{Code: "help", Message: "You can ask a what-if (\"what if reps is 40\"), lock or unlock an input, reset to defaults, recalculate, ask for the report, or export it."}}
}

func (e *Engine) observe(res calc.Result) {
	if e.onCalculate != nil {
		e.onCalculate(res)
	}
}

// options numbers ids for display, marking the recommended ones.
func (e *Engine) options(ids, recommended []string) []Option {
	out := make([]Option, 0, len(ids))
	for _, id := range ids {
		d, ok := e.catalog.Get(id)
		if !ok {
			continue
		}
		out = append(out, Option{
			Index:       len(out) + 1,
			ID:          d.ID,
			Name:        d.Name,
			Category:    string(d.Category),
			Recommended: slices.Contains(recommended, d.ID),
		})
	}
	return out
}

func finite(v float64) bool {
	return !math.IsInf(v, 0) && !math.IsNaN(v)
}

func driverIDs(list []drivers.ValueDriver) []string {
	out := make([]string, 0, len(list))
	for _, d := range list {
		out = append(out, d.ID)
	}
	return out
}
