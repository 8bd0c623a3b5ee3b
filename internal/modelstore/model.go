package modelstore

import (
	"context"
	"slices"
	"strings"
	"time"

	"github.com/joelkehle/value-model-agent/internal/calc"
	"github.com/joelkehle/value-model-agent/internal/drivers"
	"github.com/joelkehle/value-model-agent/internal/patterns"
	"github.com/joelkehle/value-model-agent/internal/session"
)

const untitledModel = "Untitled value model"

// Hypothesis is the working state of a value model: everything needed to
// resume the conversation that built it.
type Hypothesis struct {
	CompanyName         string                   `json:"company_name"`
	Industry            string                   `json:"industry"`
	Company             *session.CompanyInfo     `json:"company,omitempty"`
	Persona             string                   `json:"persona,omitempty"`
	Problem             string                   `json:"problem,omitempty"`
	PatternMatch        *patterns.Recommendation `json:"pattern_match,omitempty"`
	Inputs              *drivers.Inputs          `json:"inputs"`
	SelectedDrivers     []string                 `json:"selected_drivers"`
	OfferedDrivers      []string                 `json:"offered_drivers"`
	LockedInputs        []string                 `json:"locked_inputs"`
	FlaggedInputs       []string                 `json:"flagged_inputs"`
	Calculations        *calc.Result             `json:"calculations,omitempty"`
	PreviousCalculation *calc.Result             `json:"previous_calculation,omitempty"`
	Stage               session.Stage            `json:"stage"`
	Cursor              session.Cursor           `json:"cursor"`
	Pending             string                   `json:"pending_input,omitempty"`
	SessionID           string                   `json:"session_id,omitempty"`
	LastMessageID       string                   `json:"last_message_id,omitempty"`
	SeenMessageIDs      []string                 `json:"seen_message_ids"`
	Turn                int                      `json:"turn"`
	UpdatedAt           time.Time                `json:"updated_at"`
}

type Model struct {
	ID          string     `json:"id"`
	Name        string     `json:"name" validate:"required,max=200"`
	Description string     `json:"description,omitempty" validate:"max=2000"`
	TargetValue *float64   `json:"target_value,omitempty"`
	Hypothesis  Hypothesis `json:"hypothesis"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Summary is the list view of a model.
type Summary struct {
	ID          string        `json:"id" db:"id"`
	Name        string        `json:"name" db:"name"`
	Description string        `json:"description,omitempty" db:"description"`
	Stage       session.Stage `json:"stage" db:"stage"`
	UpdatedAt   time.Time     `json:"updated_at" db:"-"`
}

// Store persists value models.
type Store interface {
	Create(ctx context.Context, m Model) (Model, error)
	Get(ctx context.Context, id string) (Model, error)
	Update(ctx context.Context, m Model) (Model, error)
	List(ctx context.Context) ([]Summary, error)
	Export(ctx context.Context, id string, format Format) (Export, error)
}

// FromContext captures a session as a model. ToContext(FromContext(sc))
// reproduces sc.
func FromContext(sc *session.Context) Model {
	sc = sc.Clone()
	name := untitledModel
	var company, industry, description string
	if sc.Company != nil {
		company = sc.Company.Name
		industry = sc.Company.Industry
		description = sc.Company.Description
		if strings.TrimSpace(company) != "" {
			name = company
		}
	}
	m := Model{
		ID:          sc.ModelID,
		Name:        name,
		Description: description,
		Hypothesis: Hypothesis{
			CompanyName:         company,
			Industry:            industry,
			Company:             sc.Company,
			Persona:             sc.Persona,
			Problem:             sc.Problem,
			PatternMatch:        sc.PatternMatch,
			Inputs:              sc.Inputs,
			SelectedDrivers:     sc.SelectedDriverIDs,
			OfferedDrivers:      sc.OfferedDriverIDs,
			LockedInputs:        sc.LockedInputs,
			FlaggedInputs:       sc.FlaggedInputs,
			Calculations:        sc.LastCalculation,
			PreviousCalculation: sc.PreviousCalculation,
			Stage:               sc.Stage,
			Cursor:              sc.Cursor,
			Pending:             sc.Pending,
			SessionID:           sc.SessionID,
			LastMessageID:       sc.LastMessageID,
			SeenMessageIDs:      sc.SeenMessageIDs,
			Turn:                sc.Turn,
			UpdatedAt:           sc.UpdatedAt,
		},
	}
	if sc.LastCalculation != nil {
		v := sc.LastCalculation.NPV
		m.TargetValue = &v
	}
	return m
}

// ToContext rebuilds the session a model was captured from.
func ToContext(m Model) *session.Context {
	h := m.Hypothesis
	sc := &session.Context{
		SessionID:           h.SessionID,
		ModelID:             m.ID,
		Stage:               h.Stage,
		Company:             h.Company.Clone(),
		Persona:             h.Persona,
		Problem:             h.Problem,
		PatternMatch:        h.PatternMatch,
		SelectedDriverIDs:   slices.Clone(h.SelectedDrivers),
		OfferedDriverIDs:    slices.Clone(h.OfferedDrivers),
		LockedInputs:        slices.Clone(h.LockedInputs),
		FlaggedInputs:       slices.Clone(h.FlaggedInputs),
		Cursor:              h.Cursor,
		Pending:             h.Pending,
		LastCalculation:     h.Calculations.Clone(),
		PreviousCalculation: h.PreviousCalculation.Clone(),
		LastMessageID:       h.LastMessageID,
		SeenMessageIDs:      slices.Clone(h.SeenMessageIDs),
		Turn:                h.Turn,
		UpdatedAt:           h.UpdatedAt,
	}
	if h.Inputs != nil {
		sc.Inputs = h.Inputs.Clone()
	}
	if sc.Company == nil && (h.CompanyName != "" || h.Industry != "") {
		sc.Company = &session.CompanyInfo{Name: h.CompanyName, Industry: h.Industry}
	}
	if sc.Inputs == nil {
		sc.Inputs = drivers.NewInputs()
	}
	if !sc.Stage.Valid() {
		sc.Stage = session.StageIdle
	}
	return sc
}
