// Package classify extracts structured hints from seller utterances using
// keyword and number heuristics.
package classify

import (
	"math"
	"regexp"
	"slices"
	"sort"
	"strconv"
	"strings"

	"github.com/joelkehle/value-model-agent/internal/drivers"
	"github.com/joelkehle/value-model-agent/internal/workflow"
)

var (
	numberRe = regexp.MustCompile(`(?i)(-?)\$?\s*(\d[\d,]*(?:\.\d+)?|\.\d+)\s*(k|mm|m|bn|b|thousand|million|billion|%|percent)?\b`)
	domainRe = regexp.MustCompile(`(?i)\b(?:https?://)?(?:www\.)?[a-z0-9-]+(?:\.[a-z0-9-]+)*\.[a-z]{2,}(?:/\S*)?`)
	indexRe  = regexp.MustCompile(`\b\d{1,2}\b`)
	formatRe = regexp.MustCompile(`(?i)\b(pdf|html|markdown|md|json)\b`)
	clauseRe = regexp.MustCompile(`(?i)[,;\n]|\band\b|\bwith\b`)
)

var multipliers = map[string]float64{
	"k": 1e3, "thousand": 1e3,
	"m": 1e6, "mm": 1e6, "million": 1e6,
	"b": 1e9, "bn": 1e9, "billion": 1e9,
}

// inputAliases are phrases sellers use for inputs besides their names.
var inputAliases = map[string][]string{
	"reps":                       {"reps", "sellers", "salespeople", "sales reps", "account executives", "aes", "headcount", "sales team"},
	"hours_saved_per_week":       {"hours saved", "hours per week", "hours a week"},
	"admin_hours_saved_per_week": {"admin hours", "admin time"},
	"weeks_per_year":             {"weeks"},
	"hourly_rate":                {"hourly rate", "per hour", "an hour", "hourly cost"},
	"opportunities_per_year":     {"opportunities", "opps", "pipeline deals"},
	"avg_deal_size":              {"deal size", "acv", "average deal", "deal value", "contract value"},
	"win_rate_lift_pct":          {"win rate"},
	"deals_per_year":             {"deals closed", "closed deals", "deals per year", "deals a year"},
	"deal_size_lift_pct":         {"deal size lift", "bigger deals", "larger deals"},
	"new_hires_per_year":         {"new hires", "hires", "new reps"},
	"ramp_months_saved":          {"ramp"},
	"monthly_quota":              {"quota"},
	"quota_attainment_pct":       {"attainment"},
	"customer_arr":               {"arr", "recurring revenue", "installed base"},
	"churn_reduction_pct":        {"churn"},
	"tools_retired":              {"tools retired", "tools replaced", "retire"},
	"annual_cost_per_tool":       {"per tool", "cost per tool"},
	drivers.InputAnnualFee:       {"annual fee", "subscription", "per year for", "license", "price"},
	drivers.InputOnboardingFee:   {"onboarding", "implementation", "setup fee", "one-time"},
}

var personaTerms = []string{
	"chief revenue officer", "cro", "vp sales", "vp of sales", "head of sales", "sales leader",
	"sales operations", "sales ops", "revops", "revenue operations", "enablement",
	"cfo", "finance", "customer success", "cs leader", "marketing", "cio",
	"channel", "partner", "field sales", "sales manager",
}

// Keyword is a workflow.UtteranceClassifier driven by regular expressions
// and phrase lists. It is stateless and safe for concurrent use.
type Keyword struct {
	benchmarks map[string]drivers.Benchmark
}

var _ workflow.UtteranceClassifier = (*Keyword)(nil)

func NewKeyword() *Keyword {
	return &Keyword{benchmarks: drivers.DefaultBenchmarks}
}

// ExtractNumber returns the first number in text, applying k/m/b suffixes.
// Percent signs are dropped; "5%" yields 5. Values that overflow a float64
// are reported as unparsed.
func (k *Keyword) ExtractNumber(text string) (float64, bool) {
	m := numberRe.FindStringSubmatch(text)
	if m == nil {
		return 0, false
	}
	v, err := strconv.ParseFloat(strings.ReplaceAll(m[2], ",", ""), 64)
	if err != nil {
		return 0, false
	}
	if mul, ok := multipliers[strings.ToLower(m[3])]; ok {
		v *= mul
	}
	if math.IsInf(v, 0) || math.IsNaN(v) {
		return 0, false
	}
	if m[1] == "-" {
		v = -v
	}
	return v, true
}

func (k *Keyword) ExtractIndustry(text string) workflow.IndustryHint {
	lower := strings.ToLower(text)
	return workflow.IndustryHint{
		Company:  companyName(text),
		Industry: k.industry(lower),
		Persona:  persona(lower),
		Problem:  strings.TrimSpace(text),
	}
}

func (k *Keyword) industry(lower string) string {
	keys := make([]string, 0, len(k.benchmarks))
	for key := range k.benchmarks {
		if key != "default" {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	for _, key := range keys {
		b := k.benchmarks[key]
		terms := append([]string{strings.ReplaceAll(b.Industry, "_", " ")}, b.Aliases...)
		for _, term := range terms {
			if containsWord(lower, term) {
				return b.Industry
			}
		}
	}
	return ""
}

func persona(lower string) string {
	for _, term := range personaTerms {
		if containsWord(lower, term) {
			return term
		}
	}
	return ""
}

// companyName picks a website if one is mentioned, otherwise the leading
// phrase before the first separator.
func companyName(text string) string {
	if m := domainRe.FindString(text); m != "" {
		return strings.TrimRight(m, ".,;")
	}
	s := strings.TrimSpace(text)
	for _, p := range []string{"build a model for ", "a model for ", "model for ", "we're selling to ", "selling to ", "the prospect is ", "prospect is ", "it's ", "for "} {
		if strings.HasPrefix(strings.ToLower(s), p) {
			s = strings.TrimSpace(s[len(p):])
		}
	}
	lower := strings.ToLower(s)
	cut := len(s)
	for _, sep := range []string{",", ";", " - ", " is ", " are ", " in ", " a ", " an ", " who ", " that ", "\n"} {
		if i := strings.Index(lower, sep); i > 0 && i < cut {
			cut = i
		}
	}
	name := strings.TrimSpace(strings.Trim(s[:cut], ".!?"))
	if len(name) > 80 {
		name = name[:80]
	}
	return name
}

// ExtractFacts reads "20 reps, $45k deal size"-style statements. Each clause
// contributes at most one value, assigned to the input whose phrase matches
// longest.
func (k *Keyword) ExtractFacts(text string, inputs []drivers.InputSpec) map[string]float64 {
	out := map[string]float64{}
	for _, clause := range clauseRe.Split(text, -1) {
		clause = strings.TrimSpace(clause)
		if clause == "" {
			continue
		}
		v, ok := k.ExtractNumber(clause)
		if !ok {
			continue
		}
		id := resolveInput(strings.ToLower(clause), inputs)
		if id == "" {
			continue
		}
		if _, seen := out[id]; !seen {
			out[id] = v
		}
	}
	return out
}

// ExtractSelection understands "all", "none", "keep", option numbers and
// driver names. Named and numbered picks are returned in option order.
func (k *Keyword) ExtractSelection(text string, options []workflow.Option) workflow.Selection {
	lower := strings.ToLower(strings.TrimSpace(text))
	switch {
	case lower == "":
		return workflow.Selection{}
	case hasAny(lower, "none", "no drivers", "nothing"):
		return workflow.Selection{None: true}
	case hasAny(lower, "all", "everything", "all of them"):
		return workflow.Selection{All: true}
	}

	picked := map[string]bool{}
	for _, m := range indexRe.FindAllString(lower, -1) {
		n, _ := strconv.Atoi(m)
		for _, o := range options {
			if o.Index == n {
				picked[o.ID] = true
			}
		}
	}
	for _, o := range options {
		name := strings.ToLower(o.Name)
		if strings.Contains(lower, name) || strings.Contains(lower, o.ID) || strings.Contains(lower, strings.ReplaceAll(o.ID, "_", " ")) {
			picked[o.ID] = true
		}
	}
	if len(picked) > 0 {
		var ids []string
		for _, o := range options {
			if picked[o.ID] {
				ids = append(ids, o.ID)
			}
		}
		return workflow.Selection{IDs: ids}
	}
	if hasAny(lower, "keep", "yes", "yep", "sounds good", "looks good", "recommended", "ok", "okay", "sure", "go ahead") {
		return workflow.Selection{Keep: true}
	}
	return workflow.Selection{}
}

// ExtractIntent recognizes refinement commands and the control words that
// apply in every stage.
func (k *Keyword) ExtractIntent(text string, inputs []drivers.InputSpec) workflow.Intent {
	lower := strings.ToLower(strings.TrimSpace(text))
	if lower == "" {
		return workflow.Intent{}
	}
	switch {
	case hasAny(lower, "reset to default", "reset to defaults", "restore defaults", "back to defaults", "reset defaults", "reset inputs"):
		return workflow.Intent{Kind: workflow.IntentResetDefaults}
	case strings.HasPrefix(lower, "reset") || hasAny(lower, "start over", "restart", "new model", "from scratch"):
		return workflow.Intent{Kind: workflow.IntentReset}
	case hasAny(lower, "export", "download"):
		in := workflow.Intent{Kind: workflow.IntentExport}
		if m := formatRe.FindString(lower); m != "" {
			in.Format = normalizeFormat(m)
		}
		return in
	case hasAny(lower, "report", "summary", "write it up", "show the model"):
		return workflow.Intent{Kind: workflow.IntentReport}
	case hasAny(lower, "unlock", "unfreeze"):
		return workflow.Intent{Kind: workflow.IntentUnlock, InputID: resolveInput(lower, inputs)}
	case hasAny(lower, "lock", "freeze"):
		return workflow.Intent{Kind: workflow.IntentLock, InputID: resolveInput(lower, inputs)}
	case hasAny(lower, "what if", "what about", "suppose", "try", "change", "set"):
		in := workflow.Intent{Kind: workflow.IntentWhatIf, InputID: resolveInput(lower, inputs)}
		if v, ok := k.ExtractNumber(lower); ok {
			in.Value, in.HasValue = v, true
		}
		return in
	case hasAny(lower, "recalculate", "recompute", "refresh", "rerun", "re-run"):
		return workflow.Intent{Kind: workflow.IntentRecalculate}
	case hasAny(lower, "skip", "default", "not sure", "don't know", "dont know", "no idea", "pass", "unsure"):
		return workflow.Intent{Kind: workflow.IntentSkip}
	}
	return workflow.Intent{}
}

func normalizeFormat(f string) string {
	if f == "md" {
		return "markdown"
	}
	return f
}

// resolveInput returns the id of the input whose name, id or alias occurs in
// lower, preferring the longest phrase.
func resolveInput(lower string, inputs []drivers.InputSpec) string {
	best, bestLen := "", 0
	for _, spec := range inputs {
		terms := slices.Concat(inputAliases[spec.ID], []string{
			strings.ToLower(spec.Name),
			spec.ID,
			strings.ReplaceAll(spec.ID, "_", " "),
		})
		for _, term := range terms {
			if len(term) > bestLen && containsWord(lower, term) {
				best, bestLen = spec.ID, len(term)
			}
		}
	}
	return best
}

func hasAny(lower string, terms ...string) bool {
	for _, t := range terms {
		if containsWord(lower, t) {
			return true
		}
	}
	return false
}

// containsWord reports whether term occurs in s on word boundaries.
func containsWord(s, term string) bool {
	if term == "" {
		return false
	}
	for from := 0; ; {
		i := strings.Index(s[from:], term)
		if i < 0 {
			return false
		}
		i += from
		end := i + len(term)
		if (i == 0 || !isWordByte(s[i-1])) && (end == len(s) || !isWordByte(s[end])) {
			return true
		}
		from = i + 1
	}
}

func isWordByte(b byte) bool {
	return b == '_' || b >= '0' && b <= '9' || b >= 'a' && b <= 'z' || b >= 'A' && b <= 'Z'
}
