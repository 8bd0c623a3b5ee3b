package workflow

import "github.com/joelkehle/value-model-agent/internal/drivers"

// IndustryHint is what the classifier could pull from a research utterance.
// Any field may be empty.
type IndustryHint struct {
	Company  string `json:"company,omitempty"`
	Industry string `json:"industry,omitempty"`
	Persona  string `json:"persona,omitempty"`
	Problem  string `json:"problem,omitempty"`
}

// Option is a driver offered for selection. Index is 1-based as shown to the
// user.
type Option struct {
	Index       int    `json:"index"`
	ID          string `json:"id"`
	Name        string `json:"name"`
	Category    string `json:"category"`
	Recommended bool   `json:"recommended"`
}

// Selection is a parsed driver choice. None is an explicit request for no
// drivers; an empty Selection means nothing usable was said.
type Selection struct {
	All  bool     `json:"all,omitempty"`
	Keep bool     `json:"keep,omitempty"`
	None bool     `json:"none,omitempty"`
	IDs  []string `json:"ids,omitempty"`
}

func (s Selection) Empty() bool { return !s.All && !s.Keep && !s.None && len(s.IDs) == 0 }

type IntentKind string

const (
	IntentNone          IntentKind = ""
	IntentReset         IntentKind = "reset"
	IntentSkip          IntentKind = "skip"
	IntentReport        IntentKind = "report"
	IntentWhatIf        IntentKind = "what_if"
	IntentLock          IntentKind = "lock"
	IntentUnlock        IntentKind = "unlock"
	IntentResetDefaults IntentKind = "reset_defaults"
	IntentRecalculate   IntentKind = "recalculate"
	IntentExport        IntentKind = "export"
)

// Intent is a command recognized in an utterance. InputID and Value apply to
// what-if, lock and unlock; Format applies to export.
type Intent struct {
	Kind     IntentKind `json:"kind"`
	InputID  string     `json:"input_id,omitempty"`
	Value    float64    `json:"value,omitempty"`
	HasValue bool       `json:"has_value,omitempty"`
	Format   string     `json:"format,omitempty"`
}

// UtteranceClassifier turns free text into structured hints. It is
// best-effort: every method returns a zero value when nothing is recognized.
type UtteranceClassifier interface {
	ExtractIndustry(text string) IndustryHint
	ExtractNumber(text string) (float64, bool)
	ExtractFacts(text string, inputs []drivers.InputSpec) map[string]float64
	ExtractSelection(text string, options []Option) Selection
	ExtractIntent(text string, inputs []drivers.InputSpec) Intent
}
