package session

import (
	"maps"
	"slices"
	"time"

	"github.com/joelkehle/value-model-agent/internal/calc"
	"github.com/joelkehle/value-model-agent/internal/drivers"
	"github.com/joelkehle/value-model-agent/internal/patterns"
)

type Stage string

const (
	StageIdle                Stage = "idle"
	StageCompanyResearch     Stage = "company_research"
	StageCommercialFootprint Stage = "commercial_footprint"
	StageDriverSelection     Stage = "driver_selection"
	StageDataCollection      Stage = "data_collection"
	StageCalculation         Stage = "calculation"
	StageRefinement          Stage = "refinement"
	StageReportGeneration    Stage = "report_generation"
)

var stages = []Stage{
	StageIdle,
	StageCompanyResearch,
	StageCommercialFootprint,
	StageDriverSelection,
	StageDataCollection,
	StageCalculation,
	StageRefinement,
	StageReportGeneration,
}

func Stages() []Stage { return slices.Clone(stages) }

func (s Stage) Valid() bool { return slices.Contains(stages, s) }

// CompanyInfo is what is known about the prospect. Placeholder marks a record
// synthesized after enrichment failed.
type CompanyInfo struct {
	Name        string            `json:"name"`
	Industry    string            `json:"industry"`
	Size        string            `json:"size,omitempty"`
	Description string            `json:"description,omitempty"`
	KeyMetrics  map[string]string `json:"key_metrics,omitempty"`
	Placeholder bool              `json:"placeholder,omitempty"`
}

func (c *CompanyInfo) Clone() *CompanyInfo {
	if c == nil {
		return nil
	}
	out := *c
	out.KeyMetrics = maps.Clone(c.KeyMetrics)
	return &out
}

// Cursor points at the next input to ask for during data collection.
type Cursor struct {
	DriverIndex int `json:"driver_index"`
	InputIndex  int `json:"input_index"`
}

// Context is the mutable aggregate for one conversation. Only stage handlers
// and the what-if engine change it, always on a clone.
type Context struct {
	SessionID           string                   `json:"session_id"`
	ModelID             string                   `json:"model_id,omitempty"`
	Stage               Stage                    `json:"stage"`
	Company             *CompanyInfo             `json:"company,omitempty"`
	Persona             string                   `json:"persona,omitempty"`
	Problem             string                   `json:"problem,omitempty"`
	PatternMatch        *patterns.Recommendation `json:"pattern_match,omitempty"`
	SelectedDriverIDs   []string                 `json:"selected_driver_ids"`
	OfferedDriverIDs    []string                 `json:"offered_driver_ids,omitempty"`
	Inputs              *drivers.Inputs          `json:"inputs"`
	LockedInputs        []string                 `json:"locked_inputs,omitempty"`
	FlaggedInputs       []string                 `json:"flagged_inputs,omitempty"`
	Cursor              Cursor                   `json:"cursor"`
	Pending             string                   `json:"pending_input,omitempty"`
	LastCalculation     *calc.Result             `json:"last_calculation,omitempty"`
	PreviousCalculation *calc.Result             `json:"previous_calculation,omitempty"`
	LastMessageID       string                   `json:"last_message_id,omitempty"`
	SeenMessageIDs      []string                 `json:"seen_message_ids,omitempty"`
	Turn                int                      `json:"turn"`
	UpdatedAt           time.Time                `json:"updated_at"`
}

func New(sessionID string) *Context {
	return &Context{
		SessionID: sessionID,
		Stage:     StageIdle,
		Inputs:    drivers.NewInputs(),
	}
}

// Clone returns a deep copy. The pattern match is shared; recommendations
// are never modified after creation.
func (c *Context) Clone() *Context {
	if c == nil {
		return nil
	}
	out := *c
	out.Company = c.Company.Clone()
	out.SelectedDriverIDs = slices.Clone(c.SelectedDriverIDs)
	out.OfferedDriverIDs = slices.Clone(c.OfferedDriverIDs)
	out.LockedInputs = slices.Clone(c.LockedInputs)
	out.FlaggedInputs = slices.Clone(c.FlaggedInputs)
	out.SeenMessageIDs = slices.Clone(c.SeenMessageIDs)
	if c.Inputs != nil {
		out.Inputs = c.Inputs.Clone()
	}
	out.LastCalculation = c.LastCalculation.Clone()
	out.PreviousCalculation = c.PreviousCalculation.Clone()
	return &out
}

// Reset clears the conversation back to idle. Identity fields survive.
func (c *Context) Reset() {
	*c = Context{
		SessionID:      c.SessionID,
		ModelID:        c.ModelID,
		Stage:          StageIdle,
		Inputs:         drivers.NewInputs(),
		LastMessageID:  c.LastMessageID,
		SeenMessageIDs: c.SeenMessageIDs,
		Turn:           c.Turn,
		UpdatedAt:      c.UpdatedAt,
	}
}

// maxSeenMessages bounds the duplicate-detection window.
const maxSeenMessages = 32

// SeenMessage reports whether id was already handled in this session.
func (c *Context) SeenMessage(id string) bool {
	return id != "" && slices.Contains(c.SeenMessageIDs, id)
}

// RememberMessage records id as handled.
func (c *Context) RememberMessage(id string) {
	if id == "" {
		return
	}
	c.LastMessageID = id
	if c.SeenMessage(id) {
		return
	}
	c.SeenMessageIDs = append(c.SeenMessageIDs, id)
	if over := len(c.SeenMessageIDs) - maxSeenMessages; over > 0 {
		c.SeenMessageIDs = slices.Delete(c.SeenMessageIDs, 0, over)
	}
}

func (c *Context) Industry() string {
	if c.Company == nil {
		return ""
	}
	return c.Company.Industry
}

func (c *Context) IsLocked(id string) bool { return slices.Contains(c.LockedInputs, id) }

func (c *Context) Lock(id string) {
	if !c.IsLocked(id) {
		c.LockedInputs = append(c.LockedInputs, id)
	}
}

func (c *Context) Unlock(id string) {
	c.LockedInputs = slices.DeleteFunc(c.LockedInputs, func(v string) bool { return v == id })
}

func (c *Context) IsFlagged(id string) bool { return slices.Contains(c.FlaggedInputs, id) }

func (c *Context) Flag(id string) {
	if !c.IsFlagged(id) {
		c.FlaggedInputs = append(c.FlaggedInputs, id)
	}
}

func (c *Context) Unflag(id string) {
	c.FlaggedInputs = slices.DeleteFunc(c.FlaggedInputs, func(v string) bool { return v == id })
}

// SetResult records a fresh calculation, keeping the prior one for deltas.
func (c *Context) SetResult(r calc.Result) {
	c.PreviousCalculation = c.LastCalculation
	c.LastCalculation = &r
}
