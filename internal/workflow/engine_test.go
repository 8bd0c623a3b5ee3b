package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joelkehle/value-model-agent/internal/calc"
	"github.com/joelkehle/value-model-agent/internal/drivers"
	"github.com/joelkehle/value-model-agent/internal/enrich"
	"github.com/joelkehle/value-model-agent/internal/session"
)

type stubClassifier struct {
	hint      IndustryHint
	facts     map[string]float64
	selection Selection
	intents   map[string]Intent
}

func (s *stubClassifier) ExtractIndustry(string) IndustryHint { return s.hint }

func (s *stubClassifier) ExtractNumber(text string) (float64, bool) {
	v, err := strconv.ParseFloat(strings.TrimSpace(text), 64)
	return v, err == nil
}

func (s *stubClassifier) ExtractFacts(string, []drivers.InputSpec) map[string]float64 {
	return s.facts
}

func (s *stubClassifier) ExtractSelection(string, []Option) Selection { return s.selection }

func (s *stubClassifier) ExtractIntent(text string, _ []drivers.InputSpec) Intent {
	return s.intents[text]
}

func newTestEngine(t *testing.T, cls *stubClassifier, enricher enrich.Enricher) *Engine {
	t.Helper()
	if cls.intents == nil {
		cls.intents = map[string]Intent{}
	}
	e, err := NewEngine(Options{
		Classifier: cls,
		Enricher:   enricher,
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	require.NoError(t, err)
	return e
}

func step(t *testing.T, e *Engine, sc *session.Context, text string) Transition {
	t.Helper()
	tr, err := e.Step(context.Background(), sc, Message{Text: text})
	require.NoError(t, err)
	require.NotNil(t, tr.Context)
	return tr
}

func firstPayload[T Payload](payloads []Payload) (T, bool) {
	for _, p := range payloads {
		if v, ok := p.(T); ok {
			return v, true
		}
	}
	var zero T
	return zero, false
}

func hasNotice(payloads []Payload, code string) bool {
	for _, p := range payloads {
		if n, ok := p.(Notice); ok && n.Code == code {
			return true
		}
	}
	return false
}

// toRefinement walks a session through to its first calculation with only
// rep productivity selected and 20 reps.
func toRefinement(t *testing.T) (*Engine, *stubClassifier, *session.Context) {
	t.Helper()
	cls := &stubClassifier{
		hint:      IndustryHint{Company: "Acme", Industry: "saas", Problem: "rep productivity"},
		facts:     map[string]float64{"reps": 20},
		selection: Selection{IDs: []string{"rep_productivity"}},
		intents:   map[string]Intent{"skip": {Kind: IntentSkip}},
	}
	e := newTestEngine(t, cls, nil)
	sc := session.New("s1")
	for _, text := range []string{"Acme, a saas company", "20 reps", "1", "4", "46", "60", "skip", "10000"} {
		sc = step(t, e, sc, text).Context
	}
	require.Equal(t, session.StageRefinement, sc.Stage)
	return e, cls, sc
}

func TestStepRequiresContext(t *testing.T) {
	e := newTestEngine(t, &stubClassifier{}, nil)
	_, err := e.Step(context.Background(), nil, Message{Text: "hi"})
	assert.Error(t, err)
}

func TestNewEngineRequiresClassifier(t *testing.T) {
	_, err := NewEngine(Options{})
	assert.Error(t, err)
}

func TestIdleWithoutTextPromptsForCompany(t *testing.T) {
	e := newTestEngine(t, &stubClassifier{}, nil)
	tr := step(t, e, session.New("s1"), "   ")
	assert.Equal(t, session.StageIdle, tr.Stage)
	assert.True(t, hasNotice(tr.Payloads, "prompt_company"))
}

func TestResearchSeedsSelectionAndMovesToFootprint(t *testing.T) {
	cls := &stubClassifier{hint: IndustryHint{Company: "Acme", Industry: "saas", Problem: "reps waste time on research"}}
	e := newTestEngine(t, cls, nil)
	cur := session.New("s1")

	tr := step(t, e, cur, "Acme, a saas company")
	assert.Equal(t, session.StageIdle, tr.From)
	assert.Equal(t, session.StageCommercialFootprint, tr.Stage)
	assert.Equal(t, session.StageIdle, cur.Stage, "input context must not change")

	res, ok := firstPayload[ResearchResult](tr.Payloads)
	require.True(t, ok)
	assert.Equal(t, "Acme", res.Company.Name)
	assert.Equal(t, "saas", res.Company.Industry)
	assert.True(t, res.Company.Placeholder)
	assert.Equal(t, 45000.0, res.Benchmarks["avg_deal_size"])

	sc := tr.Context
	require.NotNil(t, sc.PatternMatch)
	assert.NotEmpty(t, sc.SelectedDriverIDs)
	assert.Equal(t, sc.SelectedDriverIDs, driverIDs(e.catalog.Select(sc.SelectedDriverIDs)), "selection is kept in catalog order")
	assert.Equal(t, 1, sc.Turn)
}

func TestResearchFallsBackToPlaceholderOnEnricherError(t *testing.T) {
	failing := enrich.Func(func(context.Context, string) (session.CompanyInfo, error) {
		return session.CompanyInfo{}, errors.New("boom")
	})
	e := newTestEngine(t, &stubClassifier{}, failing)
	tr := step(t, e, session.New("s1"), "globex.com")
	res, ok := firstPayload[ResearchResult](tr.Payloads)
	require.True(t, ok)
	assert.True(t, res.Company.Placeholder)
	assert.Equal(t, "Globex", res.Company.Name)
	assert.True(t, tr.Context.PatternMatch.Fallback)
	assert.Equal(t, e.catalog.DefaultSelection(), tr.Context.SelectedDriverIDs)
}

func TestResearchUsesEnrichedIndustry(t *testing.T) {
	enricher := enrich.Func(func(context.Context, string) (session.CompanyInfo, error) {
		return session.CompanyInfo{Name: "Initech", Industry: "financial services"}, nil
	})
	e := newTestEngine(t, &stubClassifier{}, enricher)
	tr := step(t, e, session.New("s1"), "Initech")
	assert.Equal(t, "financial services", tr.Context.Industry())
	assert.False(t, tr.Context.Company.Placeholder)
}

func TestFootprintRecordsFactsAndOffersDrivers(t *testing.T) {
	cls := &stubClassifier{
		hint:  IndustryHint{Company: "Acme"},
		facts: map[string]float64{"reps": 20, "weeks_per_year": 60},
	}
	e := newTestEngine(t, cls, nil)
	sc := step(t, e, session.New("s1"), "Acme").Context
	seeded := sc.SelectedDriverIDs

	tr := step(t, e, sc, "20 reps, 60 weeks")
	assert.Equal(t, session.StageDriverSelection, tr.Stage)

	fp, ok := firstPayload[FootprintResult](tr.Payloads)
	require.True(t, ok)
	require.Len(t, fp.Recorded, 2)
	assert.Equal(t, "reps", fp.Recorded[0].ID)
	assert.True(t, fp.Recorded[1].OutOfRange)
	assert.True(t, tr.Context.IsFlagged("weeks_per_year"))

	offered := tr.Context.OfferedDriverIDs
	assert.Equal(t, seeded, offered[:len(seeded)])
	assert.ElementsMatch(t, e.catalog.IDs(), offered)

	opts, ok := firstPayload[DriverOptions](tr.Payloads)
	require.True(t, ok)
	assert.Equal(t, 1, opts.Options[0].Index)
	assert.True(t, opts.Options[0].Recommended)
}

func TestSelectionVariants(t *testing.T) {
	tests := []struct {
		name   string
		sel    Selection
		want   func(e *Engine, seeded []string) []string
		notice string
	}{
		{"all", Selection{All: true}, func(e *Engine, _ []string) []string { return e.catalog.IDs() }, ""},
		{"keep", Selection{Keep: true}, func(_ *Engine, seeded []string) []string { return seeded }, ""},
		{"ids in catalog order", Selection{IDs: []string{"tool_consolidation", "rep_productivity", "bogus"}},
			func(*Engine, []string) []string { return []string{"rep_productivity", "tool_consolidation"} }, ""},
		{"none", Selection{None: true}, func(*Engine, []string) []string { return []string{} }, ""},
		{"nothing recognized", Selection{}, func(e *Engine, _ []string) []string { return e.catalog.DefaultSelection() }, "default_drivers"},
		{"only unknown ids", Selection{IDs: []string{"bogus"}}, func(e *Engine, _ []string) []string { return e.catalog.DefaultSelection() }, "default_drivers"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cls := &stubClassifier{hint: IndustryHint{Company: "Acme", Problem: "churn"}}
			e := newTestEngine(t, cls, nil)
			sc := step(t, e, session.New("s1"), "Acme").Context
			sc = step(t, e, sc, "nothing").Context
			seeded := sc.SelectedDriverIDs

			cls.selection = tt.sel
			tr := step(t, e, sc, "pick")
			assert.Equal(t, session.StageDataCollection, tr.Stage)
			assert.Equal(t, tt.want(e, seeded), tr.Context.SelectedDriverIDs)
			if tt.notice != "" {
				assert.True(t, hasNotice(tr.Payloads, tt.notice))
			}
			_, asked := firstPayload[Question](tr.Payloads)
			assert.True(t, asked)
		})
	}
}

func TestEmptySelectionAsksOnlyCommercialTerms(t *testing.T) {
	cls := &stubClassifier{hint: IndustryHint{Company: "Acme"}, selection: Selection{None: true}}
	e := newTestEngine(t, cls, nil)
	sc := step(t, e, session.New("s1"), "Acme").Context
	sc = step(t, e, sc, "-").Context
	tr := step(t, e, sc, "none")

	q, ok := firstPayload[Question](tr.Payloads)
	require.True(t, ok)
	assert.Equal(t, drivers.InputAnnualFee, q.InputID)
	assert.Empty(t, q.DriverID)

	sc = step(t, e, tr.Context, "100000").Context
	tr = step(t, e, sc, "0")
	assert.Equal(t, session.StageRefinement, tr.Stage)
	res, ok := firstPayload[CalculationResult](tr.Payloads)
	require.True(t, ok)
	assert.Zero(t, res.Result.TotalBenefits)
	assert.False(t, res.Result.PaybackAchievable)
	assert.True(t, hasNotice(tr.Payloads, "payback_not_achievable"))
}

func TestDataCollectionSkipsAnsweredInputs(t *testing.T) {
	cls := &stubClassifier{
		hint:      IndustryHint{Company: "Acme"},
		facts:     map[string]float64{"reps": 20},
		selection: Selection{IDs: []string{"rep_productivity", "admin_automation"}},
	}
	e := newTestEngine(t, cls, nil)
	sc := step(t, e, session.New("s1"), "Acme").Context
	sc = step(t, e, sc, "20 reps").Context

	var asked []string
	tr := step(t, e, sc, "1,2")
	for tr.Stage == session.StageDataCollection {
		q, ok := firstPayload[Question](tr.Payloads)
		require.True(t, ok)
		asked = append(asked, q.InputID)
		tr = step(t, e, tr.Context, "5")
	}
	assert.Equal(t, []string{
		"hours_saved_per_week", "weeks_per_year", "hourly_rate",
		"admin_hours_saved_per_week",
		drivers.InputAnnualFee, drivers.InputOnboardingFee,
	}, asked)
	assert.Equal(t, session.StageRefinement, tr.Stage)
}

func TestQuestionReportsRemainingAndDriver(t *testing.T) {
	cls := &stubClassifier{
		hint:      IndustryHint{Company: "Acme"},
		facts:     map[string]float64{"reps": 20},
		selection: Selection{IDs: []string{"rep_productivity"}},
	}
	e := newTestEngine(t, cls, nil)
	sc := step(t, e, session.New("s1"), "Acme").Context
	sc = step(t, e, sc, "20 reps").Context
	tr := step(t, e, sc, "1")

	q, ok := firstPayload[Question](tr.Payloads)
	require.True(t, ok)
	assert.Equal(t, "hours_saved_per_week", q.InputID)
	assert.Equal(t, "rep_productivity", q.DriverID)
	assert.Equal(t, 5, q.Remaining)
	assert.Equal(t, 4.0, q.DefaultValue)
	assert.Equal(t, "hours_saved_per_week", tr.Context.Pending)
	assert.Equal(t, session.Cursor{DriverIndex: 0, InputIndex: 0}, tr.Context.Cursor)
}

func TestAnswersSkipUnparseableAndOutOfRange(t *testing.T) {
	cls := &stubClassifier{
		hint:      IndustryHint{Company: "Acme", Industry: "saas"},
		selection: Selection{IDs: []string{"rep_productivity"}},
		intents:   map[string]Intent{"not sure": {Kind: IntentSkip}},
	}
	e := newTestEngine(t, cls, nil)
	sc := step(t, e, session.New("s1"), "Acme").Context
	sc = step(t, e, sc, "-").Context
	sc = step(t, e, sc, "1").Context
	require.Equal(t, "hours_saved_per_week", sc.Pending)

	tr := step(t, e, sc, "lots")
	assert.True(t, hasNotice(tr.Payloads, "unparsed_answer"))
	v, _ := tr.Context.Inputs.Get("hours_saved_per_week")
	assert.Zero(t, v)
	assert.True(t, tr.Context.IsFlagged("hours_saved_per_week"), "0 is below the typical low")

	tr = step(t, e, tr.Context, "10000")
	assert.True(t, hasNotice(tr.Payloads, "out_of_range"))
	v, _ = tr.Context.Inputs.Get("reps")
	assert.Equal(t, 10000.0, v)
	assert.True(t, tr.Context.IsFlagged("reps"))

	tr = step(t, e, tr.Context, "46")
	require.Equal(t, "hourly_rate", tr.Context.Pending)
	tr = step(t, e, tr.Context, "not sure")
	assert.True(t, hasNotice(tr.Payloads, "default_used"))
	v, _ = tr.Context.Inputs.Get("hourly_rate")
	assert.Equal(t, 75.0, v, "skip uses the industry benchmark")
}

func TestAnswersKeepFiniteNumbers(t *testing.T) {
	cls := &stubClassifier{
		hint:      IndustryHint{Company: "Acme", Industry: "saas"},
		selection: Selection{IDs: []string{"rep_productivity"}},
		intents:   map[string]Intent{"45000": {Kind: IntentSkip}},
	}
	e := newTestEngine(t, cls, nil)
	sc := step(t, e, session.New("s1"), "Acme").Context
	sc = step(t, e, sc, "-").Context
	sc = step(t, e, sc, "1").Context
	require.Equal(t, "hours_saved_per_week", sc.Pending)

	tr := step(t, e, sc, "+Inf")
	assert.True(t, hasNotice(tr.Payloads, "unparsed_answer"))
	v, _ := tr.Context.Inputs.Get("hours_saved_per_week")
	assert.Zero(t, v)
	_, err := json.Marshal(tr.Context.Inputs)
	require.NoError(t, err)

	require.Equal(t, "reps", tr.Context.Pending)
	tr = step(t, e, tr.Context, "45000")
	assert.False(t, hasNotice(tr.Payloads, "default_used"), "a stated number wins over a skip phrase")
	v, _ = tr.Context.Inputs.Get("reps")
	assert.Equal(t, 45000.0, v)
}

func TestFootprintDropsNonFiniteFacts(t *testing.T) {
	cls := &stubClassifier{
		hint:  IndustryHint{Company: "Acme"},
		facts: map[string]float64{"reps": math.Inf(1), "weeks_per_year": 46, "hourly_rate": math.NaN()},
	}
	e := newTestEngine(t, cls, nil)
	sc := step(t, e, session.New("s1"), "Acme").Context

	tr := step(t, e, sc, "lots of reps")
	fp, ok := firstPayload[FootprintResult](tr.Payloads)
	require.True(t, ok)
	require.Len(t, fp.Recorded, 1)
	assert.Equal(t, "weeks_per_year", fp.Recorded[0].ID)
	assert.False(t, tr.Context.Inputs.Has("reps"))
	assert.False(t, tr.Context.Inputs.Has("hourly_rate"))
}

func TestFullConversationCalculates(t *testing.T) {
	_, _, sc := toRefinement(t)
	require.NotNil(t, sc.LastCalculation)
	assert.InDelta(t, 4*20*46*60.0, sc.LastCalculation.TotalBenefits, 1e-6)
	assert.InDelta(t, 130000.0, sc.LastCalculation.TotalCosts, 1e-6)
	assert.Empty(t, sc.Pending)
}

func TestCalculationPayload(t *testing.T) {
	cls := &stubClassifier{
		hint:      IndustryHint{Company: "Acme"},
		facts:     map[string]float64{"hours_saved_per_week": 4, "reps": 25, "weeks_per_year": 46, "hourly_rate": 60, "annual_fee": 120000},
		selection: Selection{IDs: []string{"rep_productivity"}},
	}
	e := newTestEngine(t, cls, nil)
	sc := step(t, e, session.New("s1"), "Acme").Context
	sc = step(t, e, sc, "facts").Context
	sc = step(t, e, sc, "1").Context
	require.Equal(t, drivers.InputOnboardingFee, sc.Pending)

	tr := step(t, e, sc, "18000")
	assert.Equal(t, session.StageDataCollection, tr.From)
	assert.Equal(t, session.StageRefinement, tr.Stage)
	res, ok := firstPayload[CalculationResult](tr.Payloads)
	require.True(t, ok)
	assert.InDelta(t, 276000.0, res.Result.TotalBenefits, 1e-6)
	assert.Equal(t, []string{"rep_productivity"}, res.Drivers)
	assert.Contains(t, res.Message, "$276,000")
}

func TestDuplicateMessageDoesNotAdvance(t *testing.T) {
	cls := &stubClassifier{hint: IndustryHint{Company: "Acme"}, selection: Selection{IDs: []string{"rep_productivity"}}}
	e := newTestEngine(t, cls, nil)
	sc := step(t, e, session.New("s1"), "Acme").Context
	sc = step(t, e, sc, "-").Context
	sc = step(t, e, sc, "1").Context

	first, err := e.Step(context.Background(), sc, Message{ID: "m-1", Text: "4"})
	require.NoError(t, err)
	require.Equal(t, "reps", first.Context.Pending)

	again, err := e.Step(context.Background(), first.Context, Message{ID: "m-1", Text: "4"})
	require.NoError(t, err)
	assert.True(t, again.Duplicate)
	assert.Equal(t, "reps", again.Context.Pending)
	assert.Equal(t, first.Context.Cursor, again.Context.Cursor)
	assert.Equal(t, first.Context.Turn, again.Context.Turn)
	assert.True(t, hasNotice(again.Payloads, "duplicate_message"))
}

func TestResetFromAnyStage(t *testing.T) {
	e, cls, sc := toRefinement(t)
	cls.intents["start over"] = Intent{Kind: IntentReset}
	sc.ModelID = "model-1"

	tr := step(t, e, sc, "start over")
	assert.Equal(t, session.StageRefinement, tr.From)
	assert.Equal(t, session.StageIdle, tr.Stage)
	assert.Nil(t, tr.Context.LastCalculation)
	assert.Empty(t, tr.Context.SelectedDriverIDs)
	assert.Zero(t, tr.Context.Inputs.Len())
	assert.Equal(t, "model-1", tr.Context.ModelID)
	assert.True(t, hasNotice(tr.Payloads, "reset"))
}

func TestInvalidStageReturnsToIdle(t *testing.T) {
	e := newTestEngine(t, &stubClassifier{}, nil)
	sc := session.New("s1")
	sc.Stage = "bogus"
	tr := step(t, e, sc, "")
	assert.Equal(t, session.StageIdle, tr.Stage)
}

func TestRefinementWhatIf(t *testing.T) {
	e, cls, sc := toRefinement(t)
	cls.intents["what if reps is 40"] = Intent{Kind: IntentWhatIf, InputID: "reps", Value: 40, HasValue: true}

	tr := step(t, e, sc, "what if reps is 40")
	assert.Equal(t, session.StageRefinement, tr.Stage)
	w, ok := firstPayload[WhatIfResult](tr.Payloads)
	require.True(t, ok)
	assert.InDelta(t, 4*40*46*60.0, w.Outcome.Current.TotalBenefits, 1e-6)
	require.NotNil(t, w.Outcome.Previous)
	assert.InDelta(t, 4*20*46*60.0, w.Outcome.Previous.TotalBenefits, 1e-6)
	assert.Equal(t, []string{"reps"}, w.Outcome.Changed)
	assert.Equal(t, sc.LastCalculation.TotalBenefits, tr.Context.PreviousCalculation.TotalBenefits)
	assert.Equal(t, sc.SelectedDriverIDs, tr.Context.SelectedDriverIDs)
}

func TestRefinementWhatIfRequiresInputAndValue(t *testing.T) {
	e, cls, sc := toRefinement(t)
	cls.intents["what if"] = Intent{Kind: IntentWhatIf}
	cls.intents["what if foo is 3"] = Intent{Kind: IntentWhatIf, InputID: "foo", Value: 3, HasValue: true}

	tr := step(t, e, sc, "what if")
	e1, ok := firstPayload[Error](tr.Payloads)
	require.True(t, ok)
	assert.Equal(t, "whatif_incomplete", e1.Code)

	tr = step(t, e, sc, "what if foo is 3")
	e2, ok := firstPayload[Error](tr.Payloads)
	require.True(t, ok)
	assert.Equal(t, "unknown_input", e2.Code)
	assert.Equal(t, sc.LastCalculation.TotalBenefits, tr.Context.LastCalculation.TotalBenefits)

	cls.intents["what if reps is infinite"] = Intent{Kind: IntentWhatIf, InputID: "reps", Value: math.Inf(1), HasValue: true}
	tr = step(t, e, sc, "what if reps is infinite")
	e3, ok := firstPayload[Error](tr.Payloads)
	require.True(t, ok)
	assert.Equal(t, "whatif_incomplete", e3.Code)
	v, _ := tr.Context.Inputs.Get("reps")
	assert.Equal(t, 20.0, v)
}

func TestLockSurvivesResetToDefaults(t *testing.T) {
	e, cls, sc := toRefinement(t)
	cls.intents["lock reps"] = Intent{Kind: IntentLock, InputID: "reps"}
	cls.intents["reset to defaults"] = Intent{Kind: IntentResetDefaults}
	cls.intents["unlock reps"] = Intent{Kind: IntentUnlock, InputID: "reps"}

	tr := step(t, e, sc, "lock reps")
	assert.True(t, hasNotice(tr.Payloads, "locked"))
	assert.True(t, tr.Context.IsLocked("reps"))

	tr = step(t, e, tr.Context, "reset to defaults")
	_, ok := firstPayload[WhatIfResult](tr.Payloads)
	require.True(t, ok)
	reps, _ := tr.Context.Inputs.Get("reps")
	rate, _ := tr.Context.Inputs.Get("hourly_rate")
	assert.Equal(t, 20.0, reps)
	assert.Equal(t, 75.0, rate)

	tr = step(t, e, tr.Context, "unlock reps")
	assert.False(t, tr.Context.IsLocked("reps"))
	tr = step(t, e, tr.Context, "reset to defaults")
	reps, _ = tr.Context.Inputs.Get("reps")
	assert.Equal(t, 25.0, reps)
}

func TestLockUnknownInput(t *testing.T) {
	e, cls, sc := toRefinement(t)
	cls.intents["lock it"] = Intent{Kind: IntentLock}
	tr := step(t, e, sc, "lock it")
	_, ok := firstPayload[Error](tr.Payloads)
	assert.True(t, ok)
	assert.Empty(t, tr.Context.LockedInputs)
}

func TestReportExportAndHelp(t *testing.T) {
	e, cls, sc := toRefinement(t)
	cls.intents["report"] = Intent{Kind: IntentReport}
	cls.intents["export"] = Intent{Kind: IntentExport}
	cls.intents["export json"] = Intent{Kind: IntentExport, Format: "JSON"}
	cls.intents["recalculate"] = Intent{Kind: IntentRecalculate}
	sc.ModelID = "model-7"

	tr := step(t, e, sc, "report")
	assert.Equal(t, session.StageReportGeneration, tr.Stage)
	rep, ok := firstPayload[Report](tr.Payloads)
	require.True(t, ok)
	assert.Contains(t, rep.Markdown, "# Value Model: Acme")

	tr = step(t, e, tr.Context, "export")
	assert.Equal(t, session.StageReportGeneration, tr.Stage)
	ex, ok := firstPayload[ExportIntent](tr.Payloads)
	require.True(t, ok)
	assert.Equal(t, DefaultExportFormat, ex.Format)
	assert.Equal(t, "model-7", ex.ModelID)

	tr = step(t, e, tr.Context, "export json")
	ex, _ = firstPayload[ExportIntent](tr.Payloads)
	assert.Equal(t, "json", ex.Format)

	tr = step(t, e, tr.Context, "recalculate")
	assert.Equal(t, session.StageRefinement, tr.Stage)
	w, ok := firstPayload[WhatIfResult](tr.Payloads)
	require.True(t, ok)
	assert.Empty(t, w.Outcome.Changed)

	tr = step(t, e, tr.Context, "hello?")
	assert.True(t, hasNotice(tr.Payloads, "help"))
}

func TestObserversSeeTransitionsAndCalculations(t *testing.T) {
	var transitions []string
	calcs := 0
	cls := &stubClassifier{hint: IndustryHint{Company: "Acme"}, selection: Selection{None: true}}
	e, err := NewEngine(Options{
		Classifier:   cls,
		Logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
		OnTransition: func(from, to session.Stage) { transitions = append(transitions, string(from)+">"+string(to)) },
		OnCalculate:  func(calc.Result) { calcs++ },
	})
	require.NoError(t, err)

	sc := session.New("s1")
	for _, text := range []string{"Acme", "-", "none", "1", "1"} {
		sc = step(t, e, sc, text).Context
	}
	assert.Equal(t, []string{
		"idle>commercial_footprint",
		"commercial_footprint>driver_selection",
		"driver_selection>data_collection",
		"data_collection>data_collection",
		"data_collection>refinement",
	}, transitions)
	assert.Equal(t, 1, calcs)
}
