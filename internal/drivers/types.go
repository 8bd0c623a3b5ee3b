package drivers

type InputType string

const (
	InputCurrency   InputType = "currency"
	InputPercentage InputType = "percentage"
	InputCount      InputType = "count"
)

type Category string

const (
	CategoryRevenue Category = "revenue"
	CategoryCost    Category = "cost"
)

// Commercial inputs are ordinary inputs that feed the cost side of a model.
const (
	InputAnnualFee     = "annual_fee"
	InputOnboardingFee = "onboarding_fee"
)

type InputSpec struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Description  string    `json:"description"`
	Type         InputType `json:"type"`
	DefaultValue float64   `json:"default_value"`
	LowValue     float64   `json:"low_value"`
	HighValue    float64   `json:"high_value"`
	Unit         string    `json:"unit"`
}

// InRange reports whether v sits inside the plausible range of the input.
func (s InputSpec) InRange(v float64) bool {
	return v >= s.LowValue && v <= s.HighValue
}

// ValueFunc computes a monetary value from a driver's declared inputs.
// Implementations read only the ids their driver declares.
type ValueFunc func(in map[string]float64) float64

type ValueDriver struct {
	ID              string      `json:"id"`
	Name            string      `json:"name"`
	Description     string      `json:"description"`
	Category        Category    `json:"category"`
	Inputs          []InputSpec `json:"inputs"`
	ConfidenceLevel float64     `json:"confidence_level"`
	Value           ValueFunc   `json:"-"`
}

func (d ValueDriver) InputIDs() []string {
	out := make([]string, 0, len(d.Inputs))
	for _, in := range d.Inputs {
		out = append(out, in.ID)
	}
	return out
}
