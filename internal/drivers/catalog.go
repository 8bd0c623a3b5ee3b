package drivers

import "math"

var inputSpecs = map[string]InputSpec{
	"hours_saved_per_week": {ID: "hours_saved_per_week", Name: "Hours saved per rep per week", Description: "Selling time recovered per rep each week", Type: InputCount, DefaultValue: 4, LowValue: 0.5, HighValue: 20, Unit: "hours"},
	"reps":                 {ID: "reps", Name: "Number of reps", Description: "Quota-carrying sellers using the solution", Type: InputCount, DefaultValue: 25, LowValue: 1, HighValue: 5000, Unit: "people"},
	"weeks_per_year":       {ID: "weeks_per_year", Name: "Working weeks per year", Description: "Productive weeks in a year", Type: InputCount, DefaultValue: 46, LowValue: 40, HighValue: 52, Unit: "weeks"},
	"hourly_rate":          {ID: "hourly_rate", Name: "Loaded hourly rate", Description: "Fully loaded cost of one rep hour", Type: InputCurrency, DefaultValue: 60, LowValue: 20, HighValue: 300, Unit: "USD/hour"},
	"admin_hours_saved_per_week": {ID: "admin_hours_saved_per_week", Name: "Admin hours saved per rep per week", Description: "CRM entry, reporting and other admin removed by automation", Type: InputCount, DefaultValue: 2, LowValue: 0, HighValue: 15, Unit: "hours"},
	"opportunities_per_year": {ID: "opportunities_per_year", Name: "Opportunities per year", Description: "Qualified opportunities worked annually", Type: InputCount, DefaultValue: 200, LowValue: 1, HighValue: 100000, Unit: "opportunities"},
	"avg_deal_size":          {ID: "avg_deal_size", Name: "Average deal size", Description: "Average first-year contract value", Type: InputCurrency, DefaultValue: 40000, LowValue: 1000, HighValue: 5000000, Unit: "USD"},
	"win_rate_lift_pct":      {ID: "win_rate_lift_pct", Name: "Win rate improvement", Description: "Percentage-point lift in win rate", Type: InputPercentage, DefaultValue: 3, LowValue: 0, HighValue: 20, Unit: "%"},
	"deals_per_year":         {ID: "deals_per_year", Name: "Deals closed per year", Description: "Closed-won deals per year", Type: InputCount, DefaultValue: 80, LowValue: 1, HighValue: 50000, Unit: "deals"},
	"deal_size_lift_pct":     {ID: "deal_size_lift_pct", Name: "Deal size increase", Description: "Expected lift in average deal size", Type: InputPercentage, DefaultValue: 5, LowValue: 0, HighValue: 30, Unit: "%"},
	"new_hires_per_year":     {ID: "new_hires_per_year", Name: "New reps hired per year", Description: "Sellers onboarded annually", Type: InputCount, DefaultValue: 6, LowValue: 0, HighValue: 1000, Unit: "people"},
	"ramp_months_saved":      {ID: "ramp_months_saved", Name: "Ramp months saved", Description: "Reduction in time to full productivity", Type: InputCount, DefaultValue: 1.5, LowValue: 0, HighValue: 6, Unit: "months"},
	"monthly_quota":          {ID: "monthly_quota", Name: "Monthly quota per rep", Description: "Bookings quota for a fully ramped rep", Type: InputCurrency, DefaultValue: 50000, LowValue: 5000, HighValue: 1000000, Unit: "USD"},
	"quota_attainment_pct":   {ID: "quota_attainment_pct", Name: "Quota attainment", Description: "Average attainment of ramped reps", Type: InputPercentage, DefaultValue: 70, LowValue: 10, HighValue: 150, Unit: "%"},
	"customer_arr":           {ID: "customer_arr", Name: "Installed-base ARR", Description: "Annual recurring revenue exposed to churn", Type: InputCurrency, DefaultValue: 5000000, LowValue: 0, HighValue: 10000000000, Unit: "USD"},
	"churn_reduction_pct":    {ID: "churn_reduction_pct", Name: "Churn reduction", Description: "Percentage points of gross churn avoided", Type: InputPercentage, DefaultValue: 1.5, LowValue: 0, HighValue: 20, Unit: "%"},
	"tools_retired":          {ID: "tools_retired", Name: "Tools retired", Description: "Point solutions replaced by the platform", Type: InputCount, DefaultValue: 2, LowValue: 0, HighValue: 50, Unit: "tools"},
	"annual_cost_per_tool":   {ID: "annual_cost_per_tool", Name: "Annual cost per tool", Description: "License and admin cost of each retired tool", Type: InputCurrency, DefaultValue: 25000, LowValue: 0, HighValue: 1000000, Unit: "USD"},

	InputAnnualFee:     {ID: InputAnnualFee, Name: "Annual subscription fee", Description: "Recurring annual price of the solution", Type: InputCurrency, DefaultValue: 120000, LowValue: 0, HighValue: 100000000, Unit: "USD"},
	InputOnboardingFee: {ID: InputOnboardingFee, Name: "Onboarding fee", Description: "One-time implementation and onboarding cost", Type: InputCurrency, DefaultValue: 18000, LowValue: 0, HighValue: 10000000, Unit: "USD"},
}

func specs(ids ...string) []InputSpec {
	out := make([]InputSpec, 0, len(ids))
	for _, id := range ids {
		out = append(out, inputSpecs[id])
	}
	return out
}

// product multiplies the named inputs, treating missing, negative and
// non-finite values as zero.
func product(in map[string]float64, ids ...string) float64 {
	out := 1.0
	for _, id := range ids {
		v := in[id]
		if v <= 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return 0
		}
		out *= v
	}
	return out
}

func pct(v float64) float64 { return v / 100.0 }

var builtinDrivers = []ValueDriver{
	{
		ID:              "rep_productivity",
		Name:            "Rep productivity",
		Description:     "Selling time recovered from research, prep and follow-up",
		Category:        CategoryCost,
		Inputs:          specs("hours_saved_per_week", "reps", "weeks_per_year", "hourly_rate"),
		ConfidenceLevel: 0.8,
		Value: func(in map[string]float64) float64 {
			return product(in, "hours_saved_per_week", "reps", "weeks_per_year", "hourly_rate")
		},
	},
	{
		ID:              "admin_automation",
		Name:            "Admin automation",
		Description:     "Manual CRM and reporting work removed by automation",
		Category:        CategoryCost,
		Inputs:          specs("admin_hours_saved_per_week", "reps", "weeks_per_year", "hourly_rate"),
		ConfidenceLevel: 0.75,
		Value: func(in map[string]float64) float64 {
			return product(in, "admin_hours_saved_per_week", "reps", "weeks_per_year", "hourly_rate")
		},
	},
	{
		ID:              "win_rate_improvement",
		Name:            "Win rate improvement",
		Description:     "Additional deals won from the same pipeline",
		Category:        CategoryRevenue,
		Inputs:          specs("opportunities_per_year", "avg_deal_size", "win_rate_lift_pct"),
		ConfidenceLevel: 0.6,
		Value: func(in map[string]float64) float64 {
			return product(in, "opportunities_per_year", "avg_deal_size") * pct(product(in, "win_rate_lift_pct"))
		},
	},
	{
		ID:              "deal_size_increase",
		Name:            "Deal size increase",
		Description:     "Larger deals through better packaging and value selling",
		Category:        CategoryRevenue,
		Inputs:          specs("deals_per_year", "avg_deal_size", "deal_size_lift_pct"),
		ConfidenceLevel: 0.6,
		Value: func(in map[string]float64) float64 {
			return product(in, "deals_per_year", "avg_deal_size") * pct(product(in, "deal_size_lift_pct"))
		},
	},
	{
		ID:              "faster_ramp",
		Name:            "Faster rep ramp",
		Description:     "Bookings gained by new hires reaching quota sooner",
		Category:        CategoryRevenue,
		Inputs:          specs("new_hires_per_year", "ramp_months_saved", "monthly_quota", "quota_attainment_pct"),
		ConfidenceLevel: 0.65,
		Value: func(in map[string]float64) float64 {
			return product(in, "new_hires_per_year", "ramp_months_saved", "monthly_quota") * pct(product(in, "quota_attainment_pct"))
		},
	},
	{
		ID:              "churn_reduction",
		Name:            "Churn reduction",
		Description:     "Recurring revenue retained through earlier risk detection",
		Category:        CategoryRevenue,
		Inputs:          specs("customer_arr", "churn_reduction_pct"),
		ConfidenceLevel: 0.55,
		Value: func(in map[string]float64) float64 {
			return product(in, "customer_arr") * pct(product(in, "churn_reduction_pct"))
		},
	},
	{
		ID:              "tool_consolidation",
		Name:            "Tool consolidation",
		Description:     "Point-solution spend eliminated",
		Category:        CategoryCost,
		Inputs:          specs("tools_retired", "annual_cost_per_tool"),
		ConfidenceLevel: 0.9,
		Value: func(in map[string]float64) float64 {
			return product(in, "tools_retired", "annual_cost_per_tool")
		},
	},
}

var defaultSelection = []string{"rep_productivity", "win_rate_improvement", "deal_size_increase"}

// Catalog is the immutable set of value drivers known to the system.
type Catalog struct {
	drivers  []ValueDriver
	index    map[string]int
	specs    map[string]InputSpec
	defaults []string
}

// NewCatalog returns the built-in catalog.
func NewCatalog() *Catalog {
	return newCatalog(builtinDrivers, inputSpecs, defaultSelection)
}

func newCatalog(list []ValueDriver, specMap map[string]InputSpec, defaults []string) *Catalog {
	c := &Catalog{
		drivers: append([]ValueDriver(nil), list...),
		index:   make(map[string]int, len(list)),
		specs:   make(map[string]InputSpec, len(specMap)),
	}
	for i, d := range c.drivers {
		c.index[d.ID] = i
	}
	for k, v := range specMap {
		c.specs[k] = v
	}
	c.defaults = c.FilterKnown(defaults)
	return c
}

func (c *Catalog) List() []ValueDriver {
	return append([]ValueDriver(nil), c.drivers...)
}

func (c *Catalog) Get(id string) (ValueDriver, bool) {
	i, ok := c.index[id]
	if !ok {
		return ValueDriver{}, false
	}
	return c.drivers[i], true
}

func (c *Catalog) Has(id string) bool {
	_, ok := c.index[id]
	return ok
}

func (c *Catalog) IDs() []string {
	out := make([]string, 0, len(c.drivers))
	for _, d := range c.drivers {
		out = append(out, d.ID)
	}
	return out
}

// Select resolves ids to drivers in catalog order. Unknown and duplicate ids
// are dropped.
func (c *Catalog) Select(ids []string) []ValueDriver {
	want := map[string]bool{}
	for _, id := range ids {
		want[id] = true
	}
	out := make([]ValueDriver, 0, len(want))
	for _, d := range c.drivers {
		if want[d.ID] {
			out = append(out, d)
		}
	}
	return out
}

// FilterKnown keeps ids present in the catalog, preserving the caller's order
// and dropping duplicates.
func (c *Catalog) FilterKnown(ids []string) []string {
	seen := map[string]bool{}
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if seen[id] || !c.Has(id) {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

// DefaultSelection is the driver set used when the seller names none.
func (c *Catalog) DefaultSelection() []string {
	return append([]string(nil), c.defaults...)
}

func (c *Catalog) InputSpec(id string) (InputSpec, bool) {
	s, ok := c.specs[id]
	return s, ok
}

func (c *Catalog) CommercialInputs() []InputSpec {
	return specs(InputAnnualFee, InputOnboardingFee)
}

// RequiredInputs lists the inputs needed by drivers, each once, in first-seen
// order.
func (c *Catalog) RequiredInputs(list []ValueDriver) []InputSpec {
	seen := map[string]bool{}
	var out []InputSpec
	for _, d := range list {
		for _, in := range d.Inputs {
			if seen[in.ID] {
				continue
			}
			seen[in.ID] = true
			out = append(out, in)
		}
	}
	return out
}

// DefaultFor resolves the default for an input, preferring the industry
// benchmark when one exists.
func (c *Catalog) DefaultFor(inputID, industry string) float64 {
	if b, ok := BenchmarkFor(industry).Defaults[inputID]; ok {
		return b
	}
	return c.specs[inputID].DefaultValue
}
