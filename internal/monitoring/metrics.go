package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Scan processing outcomes.
const (
	OutcomeReady  = "ready"
	OutcomeFailed = "failed"
)

// Metrics holds the pipeline's prometheus collectors. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	ScansProcessed *prometheus.CounterVec
	StageDuration  *prometheus.HistogramVec
	InFlight       prometheus.Gauge
	PlansExported  *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		ScansProcessed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "survey_scans_processed_total",
				Help: "Scans that finished processing, by outcome.",
			},
			[]string{"outcome"},
		),
		StageDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "survey_stage_duration_seconds",
				Help:    "Wall time spent in each processing stage.",
				Buckets: prometheus.ExponentialBuckets(0.01, 4, 9),
			},
			[]string{"stage"},
		),
		InFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "survey_scans_in_flight",
			Help: "Scans currently being processed.",
		}),
		PlansExported: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "survey_plans_exported_total",
				Help: "Plans exported, by format.",
			},
			[]string{"format"},
		),
	}
	for _, c := range []prometheus.Collector{m.ScansProcessed, m.StageDuration, m.InFlight, m.PlansExported} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// ObserveStage records the duration of a stage that started at start.
func (m *Metrics) ObserveStage(stage string, start time.Time) {
	if m == nil {
		return
	}
	m.StageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
}

// ScanDone counts a finished scan.
func (m *Metrics) ScanDone(outcome string) {
	if m == nil {
		return
	}
	m.ScansProcessed.WithLabelValues(outcome).Inc()
}

// ScanStarted increments the in-flight gauge and returns the matching
// decrement.
func (m *Metrics) ScanStarted() func() {
	if m == nil {
		return func() {}
	}
	m.InFlight.Inc()
	return m.InFlight.Dec
}

// PlanExported counts an exported plan.
func (m *Metrics) PlanExported(format string) {
	if m == nil {
		return
	}
	m.PlansExported.WithLabelValues(format).Inc()
}
