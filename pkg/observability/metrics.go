package observability

import (
	"context"

	"github.com/aretw0/goplan/pkg/domain"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "goplan"

// Metrics holds the collectors fed by lifecycle events.
type Metrics struct {
	StepRuns     *prometheus.CounterVec
	StepDuration *prometheus.HistogramVec
	Calls        *prometheus.CounterVec
	InFlight     prometheus.Gauge
}

// NewMetrics creates the collectors and registers them with reg (nil skips registration).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		StepRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "step_runs_total",
			Help:      "Step executions by step name and outcome (ok, degraded, error).",
		}, []string{"step", "outcome"}),
		StepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "step_duration_seconds",
			Help:      "Duration of step executions.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"step"}),
		Calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "calls_total",
			Help:      "Start/resume calls by the status they ended in.",
		}, []string{"result"}),
		InFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "steps_in_flight",
			Help:      "Steps currently executing.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.StepRuns, m.StepDuration, m.Calls, m.InFlight)
	}
	return m
}

// Hooks returns lifecycle hooks that record into m.
func (m *Metrics) Hooks() domain.LifecycleHooks {
	return domain.LifecycleHooks{
		OnStepStart: func(_ context.Context, _ *domain.Event) {
			m.InFlight.Inc()
		},
		OnStepFinish: func(_ context.Context, e *domain.Event) {
			m.InFlight.Dec()
			outcome := "ok"
			if e.Degraded {
				outcome = "degraded"
			}
			m.StepRuns.WithLabelValues(e.Step, outcome).Inc()
			m.StepDuration.WithLabelValues(e.Step).Observe(e.Duration.Seconds())
		},
		OnStepError: func(_ context.Context, e *domain.Event) {
			m.InFlight.Dec()
			m.StepRuns.WithLabelValues(e.Step, "error").Inc()
			m.StepDuration.WithLabelValues(e.Step).Observe(e.Duration.Seconds())
		},
		OnCallEnd: func(_ context.Context, e *domain.Event) {
			m.Calls.WithLabelValues(string(e.Type)).Inc()
		},
	}
}
