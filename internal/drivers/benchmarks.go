package drivers

import "strings"

// Benchmark carries industry-typical defaults that replace the catalog
// defaults when a prospect's industry is known.
type Benchmark struct {
	Industry string             `json:"industry"`
	Aliases  []string           `json:"aliases,omitempty"`
	Defaults map[string]float64 `json:"defaults"`
}

var DefaultBenchmarks = map[string]Benchmark{
	"saas": {
		Industry: "saas",
		Aliases:  []string{"software", "technology", "cloud", "tech"},
		Defaults: map[string]float64{
			"avg_deal_size":        45000,
			"hourly_rate":          75,
			"win_rate_lift_pct":    4,
			"churn_reduction_pct":  2,
			"monthly_quota":        60000,
			"quota_attainment_pct": 65,
		},
	},
	"financial_services": {
		Industry: "financial_services",
		Aliases:  []string{"banking", "bank", "insurance", "fintech", "financial", "wealth"},
		Defaults: map[string]float64{
			"avg_deal_size":        120000,
			"hourly_rate":          95,
			"win_rate_lift_pct":    2,
			"deal_size_lift_pct":   4,
			"monthly_quota":        90000,
			"quota_attainment_pct": 70,
		},
	},
	"healthcare": {
		Industry: "healthcare",
		Aliases:  []string{"health", "medical", "pharma", "life sciences", "hospital"},
		Defaults: map[string]float64{
			"avg_deal_size":        80000,
			"hourly_rate":          70,
			"win_rate_lift_pct":    2.5,
			"ramp_months_saved":    2,
			"quota_attainment_pct": 60,
		},
	},
	"manufacturing": {
		Industry: "manufacturing",
		Aliases:  []string{"industrial", "automotive", "chemicals", "machinery"},
		Defaults: map[string]float64{
			"avg_deal_size":        150000,
			"hourly_rate":          65,
			"win_rate_lift_pct":    2,
			"deal_size_lift_pct":   3,
			"quota_attainment_pct": 75,
		},
	},
	"professional_services": {
		Industry: "professional_services",
		Aliases:  []string{"consulting", "agency", "legal", "accounting"},
		Defaults: map[string]float64{
			"avg_deal_size":     60000,
			"hourly_rate":       110,
			"win_rate_lift_pct": 3,
		},
	},
	"default": {
		Industry: "default",
		Defaults: map[string]float64{},
	},
}

// BenchmarkFor resolves a free-form industry label to a benchmark, falling
// back to the empty default set.
func BenchmarkFor(industry string) Benchmark {
	key := normalizeIndustry(industry)
	if key == "" {
		return DefaultBenchmarks["default"]
	}
	if b, ok := DefaultBenchmarks[key]; ok {
		return b
	}
	for _, name := range benchmarkOrder {
		b := DefaultBenchmarks[name]
		for _, alias := range append([]string{b.Industry}, b.Aliases...) {
			if strings.Contains(key, normalizeIndustry(alias)) {
				return b
			}
		}
	}
	return DefaultBenchmarks["default"]
}

// Iteration order for alias matching; map order would make resolution
// nondeterministic.
var benchmarkOrder = []string{"saas", "financial_services", "healthcare", "manufacturing", "professional_services"}

func normalizeIndustry(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.ReplaceAll(s, "-", " ")
	return strings.ReplaceAll(s, "_", " ")
}
