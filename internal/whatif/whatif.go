package whatif

import (
	"fmt"
	"math"
	"sort"

	"github.com/joelkehle/value-model-agent/internal/calc"
	"github.com/joelkehle/value-model-agent/internal/drivers"
	"github.com/joelkehle/value-model-agent/internal/session"
)

const (
	MetricTotalBenefits = "total_benefits"
	MetricTotalCosts    = "total_costs"
	MetricNetBenefit    = "net_benefit"
	MetricNPV           = "npv"
	MetricPayback       = "payback_months"
	MetricROI           = "roi_percent"
)

// Delta compares one metric across two calculations. Percent is meaningful
// only when PercentDefined is set.
type Delta struct {
	Metric         string  `json:"metric"`
	Previous       float64 `json:"previous"`
	Current        float64 `json:"current"`
	Absolute       float64 `json:"absolute"`
	Percent        float64 `json:"percent"`
	PercentDefined bool    `json:"percent_defined"`
}

type Outcome struct {
	Previous *calc.Result `json:"previous,omitempty"`
	Current  calc.Result  `json:"current"`
	Deltas   []Delta      `json:"deltas"`
	Changed  []string     `json:"changed_inputs,omitempty"`
	Ignored  []string     `json:"ignored_inputs,omitempty"`
}

// Engine recomputes a session's model under changed inputs. Every run is a
// full recalculation.
type Engine struct {
	calc    *calc.Calculator
	catalog *drivers.Catalog
}

func New(c *calc.Calculator, catalog *drivers.Catalog) *Engine {
	return &Engine{calc: c, catalog: catalog}
}

// Recalculate replaces sc's inputs with newInputs and recomputes.
func (e *Engine) Recalculate(sc *session.Context, newInputs *drivers.Inputs) Outcome {
	prev := sc.LastCalculation.Clone()
	changed := changedKeys(sc.Inputs, newInputs)
	sc.Inputs = newInputs.Clone()
	calc.Backfill(e.catalog, e.catalog.Select(sc.SelectedDriverIDs), sc.Inputs, sc.Industry())
	res := e.calc.Calculate(e.catalog.Select(sc.SelectedDriverIDs), sc.Inputs)
	sc.SetResult(res)
	return Outcome{
		Previous: prev,
		Current:  res,
		Deltas:   Deltas(prev, &res),
		Changed:  changed,
	}
}

// ApplyOverrides builds new inputs from sc's current inputs with overrides
// applied. Ids with no input spec are returned as ignored.
func (e *Engine) ApplyOverrides(sc *session.Context, overrides map[string]float64) (*drivers.Inputs, []string) {
	next := sc.Inputs.Clone()
	keys := make([]string, 0, len(overrides))
	for k := range overrides {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var ignored []string
	for _, id := range keys {
		v := overrides[id]
		if _, ok := e.catalog.InputSpec(id); !ok || math.IsNaN(v) || math.IsInf(v, 0) {
			ignored = append(ignored, id)
			continue
		}
		next.Set(id, v)
	}
	return next, ignored
}

// WhatIf applies overrides and recalculates in one step.
func (e *Engine) WhatIf(sc *session.Context, overrides map[string]float64) Outcome {
	next, ignored := e.ApplyOverrides(sc, overrides)
	out := e.Recalculate(sc, next)
	out.Ignored = ignored
	return out
}

// Lock marks an input as held against bulk reset.
func (e *Engine) Lock(sc *session.Context, id string) error {
	if _, ok := e.catalog.InputSpec(id); !ok {
		return fmt.Errorf("unknown input %q", id)
	}
	sc.Lock(id)
	return nil
}

func (e *Engine) Unlock(sc *session.Context, id string) {
	sc.Unlock(id)
}

// ResetToDefaults reverts every unlocked input to its default and
// recalculates. Locked inputs keep their values.
func (e *Engine) ResetToDefaults(sc *session.Context) Outcome {
	next := sc.Inputs.Clone()
	for _, id := range next.Keys() {
		if sc.IsLocked(id) {
			continue
		}
		if _, ok := e.catalog.InputSpec(id); !ok {
			continue
		}
		next.Set(id, e.catalog.DefaultFor(id, sc.Industry()))
	}
	for _, id := range next.Keys() {
		if !sc.IsLocked(id) {
			sc.Unflag(id)
		}
	}
	return e.Recalculate(sc, next)
}

// Deltas compares the headline metrics of two results. A nil prev yields
// deltas against zero with percent undefined.
func Deltas(prev, cur *calc.Result) []Delta {
	var p calc.Result
	if prev != nil {
		p = *prev
	}
	out := []Delta{
		delta(MetricTotalBenefits, p.TotalBenefits, cur.TotalBenefits, prev != nil),
		delta(MetricTotalCosts, p.TotalCosts, cur.TotalCosts, prev != nil),
		delta(MetricNetBenefit, p.NetBenefit, cur.NetBenefit, prev != nil),
		delta(MetricNPV, p.NPV, cur.NPV, prev != nil),
		delta(MetricPayback, p.PaybackMonths, cur.PaybackMonths, prev != nil && p.PaybackAchievable && cur.PaybackAchievable),
		delta(MetricROI, p.ROIPercent, cur.ROIPercent, prev != nil),
	}
	return out
}

func delta(metric string, prev, cur float64, comparable bool) Delta {
	d := Delta{Metric: metric, Previous: prev, Current: cur, Absolute: cur - prev}
	if comparable && prev != 0 {
		d.Percent = (cur - prev) / math.Abs(prev) * 100
		d.PercentDefined = true
	}
	return d
}

func changedKeys(before, after *drivers.Inputs) []string {
	var out []string
	for _, k := range after.Keys() {
		a, _ := after.Get(k)
		if b, ok := before.Get(k); !ok || a != b {
			out = append(out, k)
		}
	}
	return out
}
