package report

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/joelkehle/value-model-agent/internal/calc"
	"github.com/joelkehle/value-model-agent/internal/drivers"
	"github.com/joelkehle/value-model-agent/internal/session"
)

const Disclaimer = "This value model is an estimate built from the inputs and benchmark assumptions shown. " +
	"It is not a guarantee of financial outcome."

// Builder renders a session's value model as markdown.
type Builder struct {
	catalog *drivers.Catalog
	now     func() time.Time
}

func NewBuilder(catalog *drivers.Catalog) *Builder {
	return &Builder{catalog: catalog, now: time.Now}
}

// Markdown renders the full report. Sections without data are explained
// inline rather than omitted.
func (b *Builder) Markdown(sc *session.Context) string {
	var w strings.Builder
	company := "Prospect"
	if sc.Company != nil && strings.TrimSpace(sc.Company.Name) != "" {
		company = sanitize(sc.Company.Name)
	}
	fmt.Fprintf(&w, "# Value Model: %s\n\n", company)
	if sc.ModelID != "" {
		fmt.Fprintf(&w, "- Model ID: %s\n", sc.ModelID)
	}
	if ind := sc.Industry(); ind != "" {
		fmt.Fprintf(&w, "- Industry: %s\n", sanitize(ind))
	}
	fmt.Fprintf(&w, "- Date: %s\n\n", b.now().UTC().Format(time.RFC3339))
	fmt.Fprintf(&w, "%s\n\n", Disclaimer)

	res := sc.LastCalculation
	fmt.Fprintf(&w, "## Executive Summary\n\n")
	if res == nil {
		fmt.Fprintf(&w, "No calculation has been run yet. Complete data collection to produce figures.\n\n")
	} else {
		fmt.Fprintf(&w, "Selected drivers deliver **%s** in annual benefits at full adoption against a first-year cost of **%s**. "+
			"The three-year NPV is **%s** and the three-year ROI is **%.0f%%**. %s\n\n",
			FormatUSD(res.TotalBenefits), FormatUSD(res.TotalCosts), FormatUSD(res.NPV), res.ROIPercent, paybackSentence(res))
	}

	if rec := sc.PatternMatch; rec != nil {
		fmt.Fprintf(&w, "## Value Pattern\n\n")
		fmt.Fprintf(&w, "- Pattern: %s\n", sanitize(rec.Pattern.Name))
		fmt.Fprintf(&w, "- Match confidence: %.0f%%\n", rec.Confidence*100)
		fmt.Fprintf(&w, "- Typical split: revenue %.0f%% / cost %.0f%% / risk %.0f%%\n",
			rec.Pattern.ValueSplit.Revenue, rec.Pattern.ValueSplit.Cost, rec.Pattern.ValueSplit.Risk)
		fmt.Fprintf(&w, "- Typical ROI: %.0f%% to %.0f%%, payback around %d months\n",
			rec.Pattern.ROIRange.Min, rec.Pattern.ROIRange.Max, rec.Pattern.ROIRange.PaybackMonths)
		if len(rec.Pattern.KPIs) > 0 {
			fmt.Fprintf(&w, "- KPIs to track: %s\n", strings.Join(rec.Pattern.KPIs, ", "))
		}
		fmt.Fprintf(&w, "\n")
	}

	if res == nil {
		return w.String()
	}

	fmt.Fprintf(&w, "## Benefits by Driver\n\n")
	fmt.Fprintf(&w, "| Driver | Category | Annual Value |\n|--------|----------|-------------:|\n")
	for _, id := range res.DriverOrder {
		name, cat := id, ""
		if d, ok := b.catalog.Get(id); ok {
			name, cat = d.Name, string(d.Category)
		}
		fmt.Fprintf(&w, "| %s | %s | %s |\n", sanitizeCell(name), cat, FormatUSD(res.ByDriver[id]))
	}
	fmt.Fprintf(&w, "| **Total** | | **%s** |\n\n", FormatUSD(res.TotalBenefits))

	fmt.Fprintf(&w, "## Financial Summary\n\n")
	fmt.Fprintf(&w, "| Metric | Value |\n|--------|------:|\n")
	fmt.Fprintf(&w, "| Annual benefits (full adoption) | %s |\n", FormatUSD(res.TotalBenefits))
	fmt.Fprintf(&w, "| Year-one adoption | %.1f%% |\n", res.AdoptionFactor*100)
	fmt.Fprintf(&w, "| Year-one realized benefit | %s |\n", FormatUSD(res.RealizedBenefit))
	fmt.Fprintf(&w, "| Year-one costs | %s |\n", FormatUSD(res.TotalCosts))
	fmt.Fprintf(&w, "| Year-one net benefit | %s |\n", FormatUSD(res.NetBenefit))
	fmt.Fprintf(&w, "| Steady-state annual net | %s |\n", FormatUSD(res.SteadyStateNet))
	fmt.Fprintf(&w, "| NPV | %s |\n", FormatUSD(res.NPV))
	fmt.Fprintf(&w, "| Payback | %s |\n", FormatPayback(res))
	fmt.Fprintf(&w, "| ROI | %.0f%% |\n\n", res.ROIPercent)

	fmt.Fprintf(&w, "## Cash Flow by Year\n\n")
	fmt.Fprintf(&w, "| Year | Benefit | Cost | Net | Discounted | Cumulative |\n|-----:|--------:|-----:|----:|-----------:|-----------:|\n")
	for _, y := range res.Years {
		fmt.Fprintf(&w, "| %d | %s | %s | %s | %s | %s |\n", y.Year, FormatUSD(y.Benefit), FormatUSD(y.Cost), FormatUSD(y.Net), FormatUSD(y.Discounted), FormatUSD(y.Cumulative))
	}
	fmt.Fprintf(&w, "\n")

	fmt.Fprintf(&w, "## Scenarios\n\n")
	fmt.Fprintf(&w, "| Scenario | Driver Factor | Annual Benefits | NPV | Payback |\n|----------|--------------:|----------------:|----:|--------:|\n")
	for _, s := range []struct {
		name string
		sc   calc.Scenario
	}{
		{"Conservative", res.Scenarios.Conservative},
		{"Base", res.Scenarios.Base},
		{"Optimistic", res.Scenarios.Optimistic},
	} {
		fmt.Fprintf(&w, "| %s | %.2f | %s | %s | %s |\n", s.name, s.sc.Factor, FormatUSD(s.sc.TotalBenefits), FormatUSD(s.sc.NPV), fmtScenarioPayback(s.sc))
	}
	fmt.Fprintf(&w, "\n")

	if len(res.Sensitivity) > 0 {
		fmt.Fprintf(&w, "## Sensitivity\n\n")
		fmt.Fprintf(&w, "Drivers whose estimates move NPV the most:\n\n")
		for i, s := range res.Sensitivity {
			fmt.Fprintf(&w, "%d. %s: NPV ranges from %s to %s (swing %s)\n", i+1, sanitize(s.Name), FormatUSD(s.LowNPV), FormatUSD(s.HighNPV), FormatUSD(s.Swing))
		}
		fmt.Fprintf(&w, "\n")
	}

	fmt.Fprintf(&w, "## Inputs\n\n")
	fmt.Fprintf(&w, "| Input | Value | Notes |\n|-------|------:|-------|\n")
	for _, id := range sc.Inputs.Keys() {
		v, _ := sc.Inputs.Get(id)
		name, value := id, fmt.Sprintf("%g", v)
		if spec, ok := b.catalog.InputSpec(id); ok {
			name = spec.Name
			value = FormatInput(spec, v)
		}
		var notes []string
		if sc.IsLocked(id) {
			notes = append(notes, "locked")
		}
		if sc.IsFlagged(id) {
			notes = append(notes, "outside typical range")
		}
		if contains(res.Backfilled, id) {
			notes = append(notes, "default")
		}
		fmt.Fprintf(&w, "| %s | %s | %s |\n", sanitizeCell(name), value, strings.Join(notes, ", "))
	}
	fmt.Fprintf(&w, "\n")
	return w.String()
}

func paybackSentence(res *calc.Result) string {
	if !res.PaybackAchievable {
		return "First-year benefits do not cover first-year costs, so payback is not reached within the first year's run rate."
	}
	return fmt.Sprintf("Payback is reached in about %.1f months.", res.PaybackMonths)
}

func FormatPayback(res *calc.Result) string {
	if !res.PaybackAchievable {
		return "not achievable"
	}
	return fmt.Sprintf("%.1f months", res.PaybackMonths)
}

func fmtScenarioPayback(s calc.Scenario) string {
	if !s.PaybackAchievable {
		return "n/a"
	}
	return fmt.Sprintf("%.1f mo", s.PaybackMonths)
}

func FormatInput(spec drivers.InputSpec, v float64) string {
	switch spec.Type {
	case drivers.InputCurrency:
		return FormatUSD(v)
	case drivers.InputPercentage:
		return fmt.Sprintf("%g%%", v)
	default:
		return fmt.Sprintf("%g %s", v, spec.Unit)
	}
}

// FormatUSD rounds to whole dollars with comma separators, e.g. 432000 → "$432,000".
func FormatUSD(v float64) string {
	n := int64(math.Round(v))
	if n < 0 {
		return "-" + FormatUSD(float64(-n))
	}
	s := fmt.Sprintf("%d", n)
	if len(s) <= 3 {
		return "$" + s
	}
	var out strings.Builder
	pre := len(s) % 3
	if pre > 0 {
		out.WriteString(s[:pre])
	}
	for i := pre; i < len(s); i += 3 {
		if out.Len() > 0 {
			out.WriteByte(',')
		}
		out.WriteString(s[i : i+3])
	}
	return "$" + out.String()
}

func sanitize(s string) string {
	return strings.TrimSpace(strings.ReplaceAll(s, "\n", " "))
}

func sanitizeCell(s string) string {
	return strings.ReplaceAll(sanitize(s), "|", "\\|")
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
