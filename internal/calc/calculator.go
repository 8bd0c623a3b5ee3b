package calc

import (
	"fmt"
	"maps"
	"math"
	"slices"
	"sort"

	"github.com/joelkehle/value-model-agent/internal/drivers"
)

// PaybackNever is the payback sentinel for models whose first-year net
// benefit is not positive.
const PaybackNever = -1.0

const maxSensitivity = 3

type ScenarioName string

const (
	ScenarioConservative ScenarioName = "conservative"
	ScenarioBase         ScenarioName = "base"
	ScenarioOptimistic   ScenarioName = "optimistic"
)

type Scenario struct {
	Factor            float64 `json:"factor"`
	TotalBenefits     float64 `json:"total_benefits"`
	RealizedBenefit   float64 `json:"realized_benefit"`
	NetBenefit        float64 `json:"net_benefit"`
	NPV               float64 `json:"npv"`
	PaybackMonths     float64 `json:"payback_months"`
	PaybackAchievable bool    `json:"payback_achievable"`
}

type Scenarios struct {
	Conservative Scenario `json:"conservative"`
	Base         Scenario `json:"base"`
	Optimistic   Scenario `json:"optimistic"`
}

type YearFlow struct {
	Year       int     `json:"year"`
	Benefit    float64 `json:"benefit"`
	Cost       float64 `json:"cost"`
	Net        float64 `json:"net"`
	Discounted float64 `json:"discounted"`
	Cumulative float64 `json:"cumulative"`
}

// Sensitivity is the NPV swing from moving one driver between the
// conservative and optimistic factors while the rest stay at base.
type Sensitivity struct {
	DriverID string  `json:"driver_id"`
	Name     string  `json:"name"`
	LowNPV   float64 `json:"low_npv"`
	HighNPV  float64 `json:"high_npv"`
	Swing    float64 `json:"swing"`
}

// Result is recomputed wholesale on every calculation. NetBenefit and
// PaybackMonths describe year one.
type Result struct {
	TotalBenefits     float64                      `json:"total_benefits"`
	TotalCosts        float64                      `json:"total_costs"`
	NetBenefit        float64                      `json:"net_benefit"`
	RealizedBenefit   float64                      `json:"realized_benefit"`
	AdoptionFactor    float64                      `json:"adoption_factor"`
	SteadyStateNet    float64                      `json:"steady_state_net"`
	NPV               float64                      `json:"npv"`
	PaybackMonths     float64                      `json:"payback_months"`
	PaybackAchievable bool                         `json:"payback_achievable"`
	ROIPercent        float64                      `json:"roi_percent"`
	Years             []YearFlow                   `json:"years"`
	Scenarios         Scenarios                    `json:"scenarios"`
	ByDriver          map[string]float64           `json:"by_driver"`
	ByCategory        map[drivers.Category]float64 `json:"by_category"`
	DriverOrder       []string                     `json:"driver_order"`
	Sensitivity       []Sensitivity                `json:"sensitivity"`
	Backfilled        []string                     `json:"backfilled,omitempty"`
}

// Calculator turns driver selections and inputs into a Result. It holds no
// mutable state and is safe for concurrent use.
type Calculator struct {
	cfg     Config
	catalog *drivers.Catalog
}

func New(cfg Config, catalog *drivers.Catalog) (*Calculator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("calculation config: %w", err)
	}
	if catalog == nil {
		catalog = drivers.NewCatalog()
	}
	return &Calculator{cfg: cfg, catalog: catalog}, nil
}

func (c *Calculator) Config() Config { return c.cfg }

// Backfill sets every input the drivers or the commercial terms need that is
// absent from in, using the industry benchmark when known. It returns the ids
// it filled.
func Backfill(catalog *drivers.Catalog, selected []drivers.ValueDriver, in *drivers.Inputs, industry string) []string {
	var filled []string
	need := append(catalog.RequiredInputs(selected), catalog.CommercialInputs()...)
	for _, spec := range need {
		if in.Has(spec.ID) {
			continue
		}
		in.Set(spec.ID, catalog.DefaultFor(spec.ID, industry))
		filled = append(filled, spec.ID)
	}
	return filled
}

// Calculate evaluates the selected drivers. Missing inputs are written back
// into in from catalog defaults before evaluation.
func (c *Calculator) Calculate(selected []drivers.ValueDriver, in *drivers.Inputs) Result {
	if in == nil {
		in = drivers.NewInputs()
	}
	selected = dedupe(selected)
	filled := Backfill(c.catalog, selected, in, "")
	values := in.Map()

	res := Result{
		ByDriver:       make(map[string]float64, len(selected)),
		ByCategory:     map[drivers.Category]float64{drivers.CategoryRevenue: 0, drivers.CategoryCost: 0},
		DriverOrder:    make([]string, 0, len(selected)),
		AdoptionFactor: c.cfg.AdoptionFactor(),
		Backfilled:     filled,
	}
	driverValues := make([]float64, len(selected))
	for i, d := range selected {
		var v float64
		if d.Value != nil {
			v = sanitize(d.Value(values))
		}
		driverValues[i] = v
		res.ByDriver[d.ID] = v
		res.ByCategory[d.Category] += v
		res.DriverOrder = append(res.DriverOrder, d.ID)
		res.TotalBenefits += v
	}

	annualFee := sanitize(values[drivers.InputAnnualFee])
	onboardingFee := sanitize(values[drivers.InputOnboardingFee])
	res.TotalCosts = annualFee + onboardingFee

	base := c.scenario(res.TotalBenefits, 1, annualFee, onboardingFee)
	res.RealizedBenefit = base.RealizedBenefit
	res.NetBenefit = base.NetBenefit
	res.SteadyStateNet = res.TotalBenefits - annualFee
	res.NPV = base.NPV
	res.PaybackMonths = base.PaybackMonths
	res.PaybackAchievable = base.PaybackAchievable
	res.Years = c.yearFlows(res.TotalBenefits, annualFee, onboardingFee)
	res.ROIPercent = roi(res.Years)

	res.Scenarios = Scenarios{
		Conservative: c.scenario(res.TotalBenefits, c.cfg.ConservativeFactor, annualFee, onboardingFee),
		Base:         base,
		Optimistic:   c.scenario(res.TotalBenefits, c.cfg.OptimisticFactor, annualFee, onboardingFee),
	}
	res.Sensitivity = c.sensitivity(selected, driverValues, res.TotalBenefits, annualFee, onboardingFee)
	return res
}

func (c *Calculator) scenario(totalBenefits, factor, annualFee, onboardingFee float64) Scenario {
	benefits := totalBenefits * factor
	realized := benefits * c.cfg.AdoptionFactor()
	costsY1 := annualFee + onboardingFee
	net := realized - costsY1
	payback, ok := paybackMonths(costsY1, net)
	return Scenario{
		Factor:            factor,
		TotalBenefits:     benefits,
		RealizedBenefit:   realized,
		NetBenefit:        net,
		NPV:               c.npv(benefits, annualFee, onboardingFee),
		PaybackMonths:     payback,
		PaybackAchievable: ok,
	}
}

// npv discounts year one at ramped adoption with onboarding, then steady state.
func (c *Calculator) npv(benefits, annualFee, onboardingFee float64) float64 {
	total := 0.0
	for _, y := range c.yearFlows(benefits, annualFee, onboardingFee) {
		total += y.Discounted
	}
	return total
}

func (c *Calculator) yearFlows(benefits, annualFee, onboardingFee float64) []YearFlow {
	out := make([]YearFlow, 0, c.cfg.HorizonYears)
	cumulative := 0.0
	for year := 1; year <= c.cfg.HorizonYears; year++ {
		benefit := benefits
		cost := annualFee
		if year == 1 {
			benefit = benefits * c.cfg.AdoptionFactor()
			cost += onboardingFee
		}
		net := benefit - cost
		discounted := net / math.Pow(1+c.cfg.DiscountRate, float64(year))
		cumulative += net
		out = append(out, YearFlow{
			Year:       year,
			Benefit:    benefit,
			Cost:       cost,
			Net:        net,
			Discounted: discounted,
			Cumulative: cumulative,
		})
	}
	return out
}

func (c *Calculator) sensitivity(selected []drivers.ValueDriver, values []float64, total, annualFee, onboardingFee float64) []Sensitivity {
	out := make([]Sensitivity, 0, len(selected))
	for i, d := range selected {
		rest := total - values[i]
		low := c.npv(rest+values[i]*c.cfg.ConservativeFactor, annualFee, onboardingFee)
		high := c.npv(rest+values[i]*c.cfg.OptimisticFactor, annualFee, onboardingFee)
		out = append(out, Sensitivity{
			DriverID: d.ID,
			Name:     d.Name,
			LowNPV:   low,
			HighNPV:  high,
			Swing:    math.Abs(high - low),
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Swing > out[j].Swing })
	if len(out) > maxSensitivity {
		out = out[:maxSensitivity]
	}
	return out
}

func paybackMonths(costs, netYear1 float64) (float64, bool) {
	if netYear1 <= 0 {
		return PaybackNever, false
	}
	return costs / (netYear1 / 12), true
}

func roi(years []YearFlow) float64 {
	var benefit, cost float64
	for _, y := range years {
		benefit += y.Benefit
		cost += y.Cost
	}
	if cost == 0 {
		return 0
	}
	return (benefit - cost) / cost * 100
}

func sanitize(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return 0
	}
	return v
}

func dedupe(list []drivers.ValueDriver) []drivers.ValueDriver {
	seen := map[string]bool{}
	out := make([]drivers.ValueDriver, 0, len(list))
	for _, d := range list {
		if seen[d.ID] {
			continue
		}
		seen[d.ID] = true
		out = append(out, d)
	}
	return out
}

// Clone returns a deep copy of r.
func (r *Result) Clone() *Result {
	if r == nil {
		return nil
	}
	out := *r
	out.Years = slices.Clone(r.Years)
	out.DriverOrder = slices.Clone(r.DriverOrder)
	out.Sensitivity = slices.Clone(r.Sensitivity)
	out.Backfilled = slices.Clone(r.Backfilled)
	out.ByDriver = maps.Clone(r.ByDriver)
	out.ByCategory = maps.Clone(r.ByCategory)
	return &out
}
