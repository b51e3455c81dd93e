package executor

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/v0xg/tabmacro/internal/script"
)

// Metrics exposes Prometheus collectors that report script execution.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	steps        *prometheus.CounterVec
	stepDuration *prometheus.HistogramVec
	runsActive   prometheus.Gauge
}

// MustNewMetrics registers the executor collectors with reg and panics on a
// registration conflict. Collectors already registered with the same shape are reused.
func MustNewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	steps := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tabmacro",
			Subsystem: "executor",
			Name:      "steps_total",
			Help:      "Top-level script steps executed, by action type and final status.",
		},
		[]string{"type", "status"},
	)
	stepDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "tabmacro",
			Subsystem: "executor",
			Name:      "step_duration_seconds",
			Help:      "Time spent in each top-level step, nested actions included.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"type"},
	)
	runsActive := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "tabmacro",
			Subsystem: "executor",
			Name:      "runs_active",
			Help:      "Scripts currently executing.",
		},
	)

	if err := reg.Register(steps); err != nil {
		steps = existing(err).(*prometheus.CounterVec)
	}
	if err := reg.Register(stepDuration); err != nil {
		stepDuration = existing(err).(*prometheus.HistogramVec)
	}
	if err := reg.Register(runsActive); err != nil {
		runsActive = existing(err).(prometheus.Gauge)
	}

	return &Metrics{steps: steps, stepDuration: stepDuration, runsActive: runsActive}
}

func existing(err error) prometheus.Collector {
	if already, ok := err.(prometheus.AlreadyRegisteredError); ok {
		return already.ExistingCollector
	}
	panic(err)
}

func (m *Metrics) observe(t script.Type, status script.Status, d time.Duration) {
	if m == nil {
		return
	}
	m.steps.WithLabelValues(string(t), string(status)).Inc()
	m.stepDuration.WithLabelValues(string(t)).Observe(d.Seconds())
}

func (m *Metrics) runStarted() {
	if m != nil {
		m.runsActive.Inc()
	}
}

func (m *Metrics) runFinished() {
	if m != nil {
		m.runsActive.Dec()
	}
}
