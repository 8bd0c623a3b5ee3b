// Package telemetry holds the Prometheus metrics and OpenTelemetry tracing
// setup shared by the value-model binaries.
package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/joelkehle/value-model-agent/internal/calc"
	"github.com/joelkehle/value-model-agent/internal/session"
)

const namespace = "value_agent"

// Metrics groups every collector the agent exports. Each instance registers
// on its own registry so tests can create as many as they like.
type Metrics struct {
	registry *prometheus.Registry

	transitions    *prometheus.CounterVec
	steps          *prometheus.HistogramVec
	calculations   prometheus.Counter
	unachievable   prometheus.Counter
	calcBenefits   prometheus.Histogram
	autosaves      *prometheus.CounterVec
	activeSessions prometheus.Gauge
	relayClients   prometheus.Gauge
	relayDropped   prometheus.Counter
	relayRejected  prometheus.Counter
	enrichFailures prometheus.Counter
}

func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)
	return &Metrics{
		registry: reg,
		transitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "workflow",
			Name:      "transitions_total",
			Help:      "Committed stage transitions, including self-transitions.",
		}, []string{"from", "to"}),
		steps: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "workflow",
			Name:      "step_duration_seconds",
			Help:      "Time to handle one inbound utterance.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10},
		}, []string{"stage"}),
		calculations: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "calc",
			Name:      "calculations_total",
			Help:      "Value model calculations run.",
		}),
		unachievable: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "calc",
			Name:      "payback_unachievable_total",
			Help:      "Calculations whose payback could not be reached.",
		}),
		calcBenefits: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "calc",
			Name:      "total_benefits_usd",
			Help:      "Annual benefits of each calculated model.",
			Buckets:   prometheus.ExponentialBuckets(10_000, 4, 8),
		}),
		autosaves: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "saves_total",
			Help:      "Session save attempts by outcome.",
		}, []string{"outcome"}),
		activeSessions: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "active",
			Help:      "Sessions held in memory.",
		}),
		relayClients: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "clients",
			Help:      "Connected relay clients.",
		}),
		relayDropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "dropped_clients_total",
			Help:      "Relay clients disconnected for falling behind.",
		}),
		relayRejected: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "rate_limited_total",
			Help:      "Inbound relay events rejected by the rate limiter.",
		}),
		enrichFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "enrich",
			Name:      "failures_total",
			Help:      "Company lookups that fell back to a placeholder.",
		}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) ObserveTransition(from, to session.Stage) {
	m.transitions.WithLabelValues(string(from), string(to)).Inc()
}

func (m *Metrics) ObserveStep(stage session.Stage, d time.Duration) {
	m.steps.WithLabelValues(string(stage)).Observe(d.Seconds())
}

func (m *Metrics) ObserveCalculation(res calc.Result) {
	m.calculations.Inc()
	m.calcBenefits.Observe(res.TotalBenefits)
	if !res.PaybackAchievable {
		m.unachievable.Inc()
	}
}

func (m *Metrics) ObserveSave(_ string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.autosaves.WithLabelValues(outcome).Inc()
}

func (m *Metrics) SetActiveSessions(n int) { m.activeSessions.Set(float64(n)) }

func (m *Metrics) SetRelayClients(n int) { m.relayClients.Set(float64(n)) }

func (m *Metrics) RelayClientDropped() { m.relayDropped.Inc() }

func (m *Metrics) RelayRateLimited() { m.relayRejected.Inc() }

func (m *Metrics) EnrichmentFailed(error) { m.enrichFailures.Inc() }
