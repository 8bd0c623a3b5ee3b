package classify

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/joelkehle/value-model-agent/internal/drivers"
	"github.com/joelkehle/value-model-agent/internal/workflow"
)

func allSpecs() []drivers.InputSpec {
	cat := drivers.NewCatalog()
	return append(cat.RequiredInputs(cat.List()), cat.CommercialInputs()...)
}

func TestExtractNumber(t *testing.T) {
	k := NewKeyword()
	tests := []struct {
		in   string
		want float64
		ok   bool
	}{
		{"46", 46, true},
		{"about 20 reps", 20, true},
		{"$45k", 45000, true},
		{"1.5m", 1.5e6, true},
		{"2 billion", 2e9, true},
		{"$120,000", 120000, true},
		{"5%", 5, true},
		{"1.5 months", 1.5, true},
		{"-3", -3, true},
		{"no idea", 0, false},
		{"", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := k.ExtractNumber(tt.in)
			assert.Equal(t, tt.ok, ok)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}

func TestExtractNumberRejectsOverflow(t *testing.T) {
	k := NewKeyword()
	huge := "1" + strings.Repeat("0", 300)

	_, ok := k.ExtractNumber(huge + " billion")
	assert.False(t, ok)
	_, ok = k.ExtractNumber("-" + huge + " billion")
	assert.False(t, ok)

	v, ok := k.ExtractNumber(huge)
	assert.True(t, ok)
	assert.InDelta(t, 1e300, v, 1e285)

	facts := k.ExtractFacts(huge+" billion deal size, 20 reps", allSpecs())
	assert.Equal(t, map[string]float64{"reps": 20}, facts)
}

func TestExtractIndustry(t *testing.T) {
	k := NewKeyword()

	h := k.ExtractIndustry("Acme, a SaaS company; our VP Sales wants more pipeline")
	assert.Equal(t, "Acme", h.Company)
	assert.Equal(t, "saas", h.Industry)
	assert.Equal(t, "vp sales", h.Persona)
	assert.Contains(t, h.Problem, "pipeline")

	h = k.ExtractIndustry("Build a model for Initech in banking")
	assert.Equal(t, "Initech", h.Company)
	assert.Equal(t, "financial_services", h.Industry)

	h = k.ExtractIndustry("https://www.globex.com/about, they make widgets")
	assert.Equal(t, "https://www.globex.com/about", h.Company)
	assert.Empty(t, h.Industry)

	h = k.ExtractIndustry("Umbrella")
	assert.Equal(t, "Umbrella", h.Company)
	assert.Empty(t, h.Persona)
}

func TestExtractFacts(t *testing.T) {
	k := NewKeyword()
	got := k.ExtractFacts("We have 20 reps, $45k deal size and a 3% win rate", allSpecs())
	assert.Equal(t, map[string]float64{"reps": 20, "avg_deal_size": 45000, "win_rate_lift_pct": 3}, got)

	got = k.ExtractFacts("pricing is $120k annual fee with $15k onboarding", allSpecs())
	assert.Equal(t, map[string]float64{drivers.InputAnnualFee: 120000, drivers.InputOnboardingFee: 15000}, got)

	assert.Empty(t, k.ExtractFacts("they are growing fast", allSpecs()))
	assert.Empty(t, k.ExtractFacts("20 of something", allSpecs()))
}

func TestExtractFactsOnlyConsidersGivenInputs(t *testing.T) {
	k := NewKeyword()
	reps, _ := drivers.NewCatalog().InputSpec("reps")
	got := k.ExtractFacts("20 reps and $45k deal size", []drivers.InputSpec{reps})
	assert.Equal(t, map[string]float64{"reps": 20}, got)
}

func TestExtractSelection(t *testing.T) {
	k := NewKeyword()
	opts := []workflow.Option{
		{Index: 1, ID: "rep_productivity", Name: "Rep productivity"},
		{Index: 2, ID: "win_rate_improvement", Name: "Win rate improvement"},
		{Index: 3, ID: "tool_consolidation", Name: "Tool consolidation"},
	}
	tests := []struct {
		in   string
		want workflow.Selection
	}{
		{"3 and 1", workflow.Selection{IDs: []string{"rep_productivity", "tool_consolidation"}}},
		{"win rate improvement please", workflow.Selection{IDs: []string{"win_rate_improvement"}}},
		{"tool_consolidation", workflow.Selection{IDs: []string{"tool_consolidation"}}},
		{"all of them", workflow.Selection{All: true}},
		{"none", workflow.Selection{None: true}},
		{"yes, keep those", workflow.Selection{Keep: true}},
		{"banana", workflow.Selection{}},
		{"7", workflow.Selection{}},
		{"", workflow.Selection{}},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, k.ExtractSelection(tt.in, opts))
		})
	}
}

func TestExtractIntent(t *testing.T) {
	k := NewKeyword()
	specs := allSpecs()
	tests := []struct {
		in   string
		want workflow.Intent
	}{
		{"what if reps is 40", workflow.Intent{Kind: workflow.IntentWhatIf, InputID: "reps", Value: 40, HasValue: true}},
		{"What if the win rate improves by 5%?", workflow.Intent{Kind: workflow.IntentWhatIf, InputID: "win_rate_lift_pct", Value: 5, HasValue: true}},
		{"what if", workflow.Intent{Kind: workflow.IntentWhatIf}},
		{"lock reps", workflow.Intent{Kind: workflow.IntentLock, InputID: "reps"}},
		{"unlock the hourly rate", workflow.Intent{Kind: workflow.IntentUnlock, InputID: "hourly_rate"}},
		{"reset to defaults", workflow.Intent{Kind: workflow.IntentResetDefaults}},
		{"start over", workflow.Intent{Kind: workflow.IntentReset}},
		{"reset", workflow.Intent{Kind: workflow.IntentReset}},
		{"export as markdown", workflow.Intent{Kind: workflow.IntentExport, Format: "markdown"}},
		{"download the pdf", workflow.Intent{Kind: workflow.IntentExport, Format: "pdf"}},
		{"export the report", workflow.Intent{Kind: workflow.IntentExport}},
		{"show me the report", workflow.Intent{Kind: workflow.IntentReport}},
		{"recalculate", workflow.Intent{Kind: workflow.IntentRecalculate}},
		{"skip", workflow.Intent{Kind: workflow.IntentSkip}},
		{"not sure", workflow.Intent{Kind: workflow.IntentSkip}},
		{"4", workflow.Intent{}},
		{"", workflow.Intent{}},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, k.ExtractIntent(tt.in, specs))
		})
	}
}

func TestResetMidSentenceIsNotAReset(t *testing.T) {
	k := NewKeyword()
	got := k.ExtractIntent("Acme wants to reset its sales process", allSpecs())
	assert.NotEqual(t, workflow.IntentReset, got.Kind)
}

func TestContainsWord(t *testing.T) {
	assert.True(t, containsWord("lock reps", "lock"))
	assert.False(t, containsWord("unlock reps", "lock"))
	assert.True(t, containsWord("reps, please", "reps"))
	assert.False(t, containsWord("representatives", "reps"))
	assert.False(t, containsWord("anything", ""))
}
