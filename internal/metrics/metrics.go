package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics wraps Prometheus collectors for deploy-shepherd.
type Metrics struct {
	registry *prometheus.Registry

	requestsTotal            *prometheus.CounterVec
	instancesHealthy         *prometheus.GaugeVec
	instancesTotal           *prometheus.GaugeVec
	reconciliationGeneration *prometheus.GaugeVec

	cycleDurationSeconds     prometheus.Histogram
	reconciliationsTotal     *prometheus.CounterVec
	orchestratorErrorsTotal  prometheus.Counter
	lastSuccessfulCycleGauge prometheus.Gauge
}

// New initializes a Metrics registry with all collectors registered.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	m := &Metrics{
		registry: registry,
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "requests_total",
			Help: "Total health probe requests issued per deployment.",
		}, []string{"deployment"}),
		instancesHealthy: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "instances_healthy",
			Help: "Instances currently passing health checks per deployment.",
		}, []string{"deployment"}),
		instancesTotal: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "instances_total",
			Help: "Instances known to the orchestrator per deployment.",
		}, []string{"deployment"}),
		reconciliationGeneration: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "reconciliation_generation",
			Help: "Desired-state generation currently being reconciled.",
		}, []string{"deployment"}),
		cycleDurationSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "deploy_shepherd_cycle_duration_seconds",
			Help:    "Duration of reconciliation cycles in seconds.",
			Buckets: prometheus.DefBuckets,
		}),
		reconciliationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "deploy_shepherd_reconciliations_total",
			Help: "Total reconciliation attempts by deployment and outcome.",
		}, []string{"deployment", "outcome"}),
		orchestratorErrorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "deploy_shepherd_orchestrator_errors_total",
			Help: "Total orchestrator API errors after retries.",
		}),
		lastSuccessfulCycleGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "deploy_shepherd_last_successful_cycle_timestamp",
			Help: "Unix timestamp of the last successful reconciliation cycle.",
		}),
	}

	registry.MustRegister(
		m.requestsTotal,
		m.instancesHealthy,
		m.instancesTotal,
		m.reconciliationGeneration,
		m.cycleDurationSeconds,
		m.reconciliationsTotal,
		m.orchestratorErrorsTotal,
		m.lastSuccessfulCycleGauge,
	)

	return m
}

// Handler returns a Prometheus HTTP handler for this registry.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// IncRequestsTotal counts one issued health probe.
func (m *Metrics) IncRequestsTotal(deployment string) {
	if m == nil {
		return
	}
	m.requestsTotal.WithLabelValues(deployment).Inc()
}

// SetInstancesHealthy records the healthy-instance rollup.
func (m *Metrics) SetInstancesHealthy(deployment string, value int) {
	if m == nil {
		return
	}
	m.instancesHealthy.WithLabelValues(deployment).Set(float64(value))
}

// SetInstancesTotal records the known-instance count.
func (m *Metrics) SetInstancesTotal(deployment string, value int) {
	if m == nil {
		return
	}
	m.instancesTotal.WithLabelValues(deployment).Set(float64(value))
}

// SetReconciliationGeneration records the generation under reconciliation.
func (m *Metrics) SetReconciliationGeneration(deployment string, generation int64) {
	if m == nil {
		return
	}
	m.reconciliationGeneration.WithLabelValues(deployment).Set(float64(generation))
}

// ObserveCycleDuration records the duration of a completed cycle.
func (m *Metrics) ObserveCycleDuration(duration time.Duration) {
	if m == nil {
		return
	}
	m.cycleDurationSeconds.Observe(duration.Seconds())
}

// IncReconciliations counts one reconciliation attempt per outcome.
func (m *Metrics) IncReconciliations(deployment, outcome string) {
	if m == nil {
		return
	}
	m.reconciliationsTotal.WithLabelValues(deployment, outcome).Inc()
}

// IncOrchestratorErrors counts an orchestrator failure after retries.
func (m *Metrics) IncOrchestratorErrors() {
	if m == nil {
		return
	}
	m.orchestratorErrorsTotal.Inc()
}

// SetLastSuccessfulCycleTimestamp sets the last successful cycle time.
func (m *Metrics) SetLastSuccessfulCycleTimestamp(t time.Time) {
	if m == nil {
		return
	}
	m.lastSuccessfulCycleGauge.Set(float64(t.Unix()))
}
