package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsUpdates(t *testing.T) {
	m := New()

	m.IncRequestsTotal("api")
	m.IncRequestsTotal("api")
	m.SetInstancesHealthy("api", 2)
	m.SetInstancesTotal("api", 3)
	m.SetReconciliationGeneration("api", 7)
	m.ObserveCycleDuration(2 * time.Second)
	m.IncReconciliations("api", "applied")
	m.IncOrchestratorErrors()
	m.SetLastSuccessfulCycleTimestamp(time.Unix(100, 0))

	if got := testutil.ToFloat64(m.requestsTotal.WithLabelValues("api")); got != 2 {
		t.Fatalf("expected requests 2, got %v", got)
	}
	if got := testutil.ToFloat64(m.instancesHealthy.WithLabelValues("api")); got != 2 {
		t.Fatalf("expected healthy instances 2, got %v", got)
	}
	if got := testutil.ToFloat64(m.instancesTotal.WithLabelValues("api")); got != 3 {
		t.Fatalf("expected total instances 3, got %v", got)
	}
	if got := testutil.ToFloat64(m.reconciliationGeneration.WithLabelValues("api")); got != 7 {
		t.Fatalf("expected generation 7, got %v", got)
	}
	if got := testutil.ToFloat64(m.reconciliationsTotal.WithLabelValues("api", "applied")); got != 1 {
		t.Fatalf("expected reconciliations 1, got %v", got)
	}
	if got := testutil.ToFloat64(m.orchestratorErrorsTotal); got != 1 {
		t.Fatalf("expected orchestrator errors 1, got %v", got)
	}
	if got := testutil.ToFloat64(m.lastSuccessfulCycleGauge); got != 100 {
		t.Fatalf("expected last successful cycle 100, got %v", got)
	}
	if count := testutil.CollectAndCount(m.cycleDurationSeconds); count == 0 {
		t.Fatalf("expected cycle duration histogram to be collected")
	}
}

func TestNilMetricsAreNoops(t *testing.T) {
	var m *Metrics

	m.IncRequestsTotal("api")
	m.SetInstancesHealthy("api", 1)
	m.SetInstancesTotal("api", 1)
	m.SetReconciliationGeneration("api", 1)
	m.ObserveCycleDuration(time.Second)
	m.IncReconciliations("api", "noop")
	m.IncOrchestratorErrors()
	m.SetLastSuccessfulCycleTimestamp(time.Now())

	if m.Handler() == nil {
		t.Fatalf("expected a handler even for nil metrics")
	}
}
