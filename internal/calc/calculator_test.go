package calc

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joelkehle/value-model-agent/internal/drivers"
)

func newTestCalculator(t *testing.T) (*Calculator, *drivers.Catalog) {
	t.Helper()
	cat := drivers.NewCatalog()
	c, err := New(DefaultConfig(), cat)
	require.NoError(t, err)
	return c, cat
}

func randomCase(r *rand.Rand, cat *drivers.Catalog) ([]drivers.ValueDriver, *drivers.Inputs) {
	var ids []string
	for _, id := range cat.IDs() {
		if r.IntN(2) == 0 {
			ids = append(ids, id)
		}
	}
	selected := cat.Select(ids)
	in := drivers.NewInputs()
	for _, spec := range cat.RequiredInputs(selected) {
		if r.IntN(4) == 0 {
			continue // left for back-fill
		}
		in.Set(spec.ID, spec.LowValue+r.Float64()*(spec.HighValue-spec.LowValue))
	}
	in.Set(drivers.InputAnnualFee, r.Float64()*500000)
	return selected, in
}

func TestRepProductivityOnly(t *testing.T) {
	c, cat := newTestCalculator(t)
	in := drivers.NewInputs()
	in.Set("hours_saved_per_week", 6)
	in.Set("reps", 20)
	in.Set("weeks_per_year", 48)
	in.Set("hourly_rate", 75)

	res := c.Calculate(cat.Select([]string{"rep_productivity"}), in)
	assert.Equal(t, 432000.0, res.ByDriver["rep_productivity"])
	assert.Equal(t, 432000.0, res.TotalBenefits)
	assert.Equal(t, 432000.0, res.ByCategory[drivers.CategoryCost])
	assert.Zero(t, res.ByCategory[drivers.CategoryRevenue])
}

func TestNegativeFirstYearFlagsPayback(t *testing.T) {
	c, cat := newTestCalculator(t)
	in := drivers.NewInputs()
	in.Set("hours_saved_per_week", 10)
	in.Set("reps", 20)
	in.Set("weeks_per_year", 50)
	in.Set("hourly_rate", 60)
	in.Set(drivers.InputAnnualFee, 450000)
	in.Set(drivers.InputOnboardingFee, 67500)

	res := c.Calculate(cat.Select([]string{"rep_productivity"}), in)
	require.Equal(t, 600000.0, res.TotalBenefits)
	assert.InDelta(t, 0.625, res.AdoptionFactor, 1e-12)
	assert.InDelta(t, 375000, res.RealizedBenefit, 1e-6)
	assert.Equal(t, 517500.0, res.TotalCosts)
	assert.InDelta(t, -142500, res.NetBenefit, 1e-6)
	assert.Equal(t, PaybackNever, res.PaybackMonths)
	assert.False(t, res.PaybackAchievable)
	assert.InDelta(t, 150000, res.SteadyStateNet, 1e-6)
}

func TestPaybackMonths(t *testing.T) {
	c, cat := newTestCalculator(t)
	in := drivers.NewInputs()
	in.Set("tools_retired", 4)
	in.Set("annual_cost_per_tool", 100000)
	in.Set(drivers.InputAnnualFee, 100000)
	in.Set(drivers.InputOnboardingFee, 25000)

	res := c.Calculate(cat.Select([]string{"tool_consolidation"}), in)
	// realized 250000, net 125000, payback 125000 / (125000/12)
	assert.True(t, res.PaybackAchievable)
	assert.InDelta(t, 12, res.PaybackMonths, 1e-9)
}

func TestSumOfDriversEqualsTotal(t *testing.T) {
	c, cat := newTestCalculator(t)
	r := rand.New(rand.NewPCG(7, 11))
	for i := 0; i < 200; i++ {
		selected, in := randomCase(r, cat)
		res := c.Calculate(selected, in)
		sum := 0.0
		for _, id := range res.DriverOrder {
			sum += res.ByDriver[id]
		}
		assert.InDelta(t, res.TotalBenefits, sum, 1e-6)
		assert.InDelta(t, res.TotalBenefits, res.ByCategory[drivers.CategoryRevenue]+res.ByCategory[drivers.CategoryCost], 1e-6)
	}
}

func TestCalculateIsDeterministic(t *testing.T) {
	c, cat := newTestCalculator(t)
	r := rand.New(rand.NewPCG(3, 5))
	for i := 0; i < 50; i++ {
		selected, in := randomCase(r, cat)
		first := c.Calculate(selected, in.Clone())
		second := c.Calculate(selected, in.Clone())
		assert.Equal(t, first, second)
	}
}

func TestScenarioOrdering(t *testing.T) {
	c, cat := newTestCalculator(t)
	r := rand.New(rand.NewPCG(1, 2))
	for i := 0; i < 200; i++ {
		selected, in := randomCase(r, cat)
		if len(selected) == 0 {
			continue
		}
		s := c.Calculate(selected, in).Scenarios
		assert.LessOrEqual(t, s.Conservative.NPV, s.Base.NPV)
		assert.LessOrEqual(t, s.Base.NPV, s.Optimistic.NPV)
	}
}

func TestAdoptionFactorInRange(t *testing.T) {
	c, _ := newTestCalculator(t)
	res := c.Calculate(nil, nil)
	assert.Greater(t, res.AdoptionFactor, 0.0)
	assert.LessOrEqual(t, res.AdoptionFactor, 1.0)

	cfg := DefaultConfig()
	cfg.RampCurve = []float64{1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1}
	assert.Equal(t, 1.0, cfg.AdoptionFactor())
}

func TestEmptySelectionIsAllZeroBenefits(t *testing.T) {
	c, _ := newTestCalculator(t)
	in := drivers.NewInputs()
	res := c.Calculate(nil, in)
	assert.Zero(t, res.TotalBenefits)
	assert.Empty(t, res.ByDriver)
	assert.Empty(t, res.Sensitivity)
	assert.False(t, res.PaybackAchievable)
	assert.True(t, in.Has(drivers.InputAnnualFee))
	assert.True(t, in.Has(drivers.InputOnboardingFee))
}

func TestCalculateBackfillsCallerInputs(t *testing.T) {
	c, cat := newTestCalculator(t)
	in := drivers.NewInputs()
	in.Set("reps", 10)
	res := c.Calculate(cat.Select([]string{"rep_productivity"}), in)

	assert.Equal(t, []string{"reps", "hours_saved_per_week", "weeks_per_year", "hourly_rate", drivers.InputAnnualFee, drivers.InputOnboardingFee}, in.Keys())
	assert.Equal(t, 10.0, in.Map()["reps"])
	assert.Equal(t, []string{"hours_saved_per_week", "weeks_per_year", "hourly_rate", drivers.InputAnnualFee, drivers.InputOnboardingFee}, res.Backfilled)
	assert.Equal(t, 4.0*10*46*60, res.TotalBenefits)
}

func TestBackfillUsesIndustryBenchmark(t *testing.T) {
	cat := drivers.NewCatalog()
	in := drivers.NewInputs()
	Backfill(cat, cat.Select([]string{"win_rate_improvement"}), in, "SaaS")
	v, ok := in.Get("avg_deal_size")
	require.True(t, ok)
	assert.Equal(t, 45000.0, v)
}

func TestSensitivityRanksLargestDriversFirst(t *testing.T) {
	c, cat := newTestCalculator(t)
	in := drivers.NewInputs()
	res := c.Calculate(cat.Select(cat.IDs()), in)
	require.Len(t, res.Sensitivity, maxSensitivity)
	for i := 1; i < len(res.Sensitivity); i++ {
		assert.GreaterOrEqual(t, res.Sensitivity[i-1].Swing, res.Sensitivity[i].Swing)
	}
	top := res.Sensitivity[0]
	for _, id := range res.DriverOrder {
		assert.GreaterOrEqual(t, res.ByDriver[top.DriverID], res.ByDriver[id])
	}
}

func TestYearFlowsAndROI(t *testing.T) {
	c, cat := newTestCalculator(t)
	in := drivers.NewInputs()
	res := c.Calculate(cat.Select([]string{"rep_productivity"}), in)
	require.Len(t, res.Years, 3)
	assert.InDelta(t, res.RealizedBenefit, res.Years[0].Benefit, 1e-9)
	assert.InDelta(t, res.TotalBenefits, res.Years[1].Benefit, 1e-9)
	npv := 0.0
	for _, y := range res.Years {
		npv += y.Discounted
	}
	assert.InDelta(t, res.NPV, npv, 1e-9)
	assert.Greater(t, res.ROIPercent, 0.0)
}

func TestDuplicateDriversCountedOnce(t *testing.T) {
	c, cat := newTestCalculator(t)
	d, _ := cat.Get("rep_productivity")
	res := c.Calculate([]drivers.ValueDriver{d, d}, drivers.NewInputs())
	assert.Equal(t, []string{"rep_productivity"}, res.DriverOrder)
	assert.InDelta(t, res.ByDriver["rep_productivity"], res.TotalBenefits, 1e-9)
}

func TestConfigValidate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())

	cfg := DefaultConfig()
	cfg.RampCurve = []float64{0.5, 0.4}
	cfg.ConservativeFactor = 1.3
	cfg.DiscountRate = -0.1
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "calc ramp_curve failed len=12")
	assert.Contains(t, err.Error(), "ramp_curve decreases at month 2")
	assert.Contains(t, err.Error(), "calc conservative_factor failed lte=1")
	assert.Contains(t, err.Error(), "calc discount_rate failed gte=0")

	_, err = New(cfg, nil)
	assert.Error(t, err)
}

func TestConfigValidateHorizonAndRampValues(t *testing.T) {
	cfg := DefaultConfig()
	cfg.HorizonYears = 25
	cfg.RampCurve[0] = 0
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "calc horizon_years failed lte=10")
	assert.Contains(t, err.Error(), "calc ramp_curve[0] failed gt=0")

	_, err = New(cfg, drivers.NewCatalog())
	assert.Error(t, err, "a horizon past ten years is rejected")

	cfg = DefaultConfig()
	cfg.HorizonYears = 10
	_, err = New(cfg, drivers.NewCatalog())
	assert.NoError(t, err)
}
