// Package metrics collects per-run counters and writes them as a Prometheus
// textfile next to the run's other artifacts.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "swarm"

// Metrics holds the collectors of one run on a private registry.
// A nil *Metrics is a valid no-op.
type Metrics struct {
	registry *prometheus.Registry

	oracleCalls    *prometheus.CounterVec
	gateOutcomes   *prometheus.CounterVec
	fileOutcomes   *prometheus.CounterVec
	iterations     prometheus.Counter
	testsPassed    prometheus.Gauge
	testsTotal     prometheus.Gauge
	phaseDurations *prometheus.HistogramVec
	runSuccess     prometheus.Gauge
}

// New creates the run collectors on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		oracleCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "oracle_calls_total",
			Help:      "Oracle requests by operation and status",
		}, []string{"op", "status"}),
		gateOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "candidate_gates_total",
			Help:      "Candidate gate evaluations by gate and outcome",
		}, []string{"gate", "outcome"}),
		fileOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "file_outcomes_total",
			Help:      "Per-file fix outcomes (accepted, fallback, unchanged)",
		}, []string{"outcome"}),
		iterations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "iterations_total",
			Help:      "Completed outer iterations",
		}),
		testsPassed: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tests_passed",
			Help:      "Tests passing after the latest iteration",
		}),
		testsTotal: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tests_total",
			Help:      "Tests executed in the latest iteration",
		}),
		phaseDurations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "phase_duration_seconds",
			Help:      "Wall time per phase",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 60, 300},
		}, []string{"phase"}),
		runSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "run_success",
			Help:      "1 when the run met its success criteria",
		}),
	}
	m.registry.MustRegister(
		m.oracleCalls, m.gateOutcomes, m.fileOutcomes, m.iterations,
		m.testsPassed, m.testsTotal, m.phaseDurations, m.runSuccess,
	)
	return m
}

// OracleCall counts one oracle request.
func (m *Metrics) OracleCall(op string, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.oracleCalls.WithLabelValues(op, status).Inc()
}

// Gate counts one gate evaluation.
func (m *Metrics) Gate(gate string, passed bool) {
	if m == nil {
		return
	}
	outcome := "pass"
	if !passed {
		outcome = "fail"
	}
	m.gateOutcomes.WithLabelValues(gate, outcome).Inc()
}

// FileOutcome counts the final disposition of one file in one iteration.
func (m *Metrics) FileOutcome(outcome string) {
	if m == nil {
		return
	}
	m.fileOutcomes.WithLabelValues(outcome).Inc()
}

// Iteration records a completed iteration and its test counts.
func (m *Metrics) Iteration(passed, total int) {
	if m == nil {
		return
	}
	m.iterations.Inc()
	m.testsPassed.Set(float64(passed))
	m.testsTotal.Set(float64(total))
}

// Phase observes the duration of one phase in seconds.
func (m *Metrics) Phase(phase string, seconds float64) {
	if m == nil {
		return
	}
	m.phaseDurations.WithLabelValues(phase).Observe(seconds)
}

// Finish records the run outcome.
func (m *Metrics) Finish(success bool) {
	if m == nil {
		return
	}
	if success {
		m.runSuccess.Set(1)
	} else {
		m.runSuccess.Set(0)
	}
}

// WriteTextfile writes every collector in the Prometheus text format.
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("write metrics %s: %w", path, err)
	}
	return nil
}
