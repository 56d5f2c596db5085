package observability_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"famagpt-fabric/internal/observability"
)

func TestNewMetricsRegistersAllCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := observability.NewMetrics(reg)

	m.HTTPRequestsTotal.WithLabelValues("/webhook", "POST", "200").Inc()
	m.MessagesDuplicateTotal.Inc()
	m.QueueDepth.Set(42)
	m.CircuitBreakerState.WithLabelValues("pipeline", "rag").Set(1)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	if len(families) == 0 {
		t.Error("expected at least one registered metric family")
	}
}

func TestNewMetricsPanicsOnDuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	observability.NewMetrics(reg)

	defer func() {
		if r := recover(); r == nil {
			t.Error("expected a panic when registering the same collectors twice against one registry")
		}
	}()
	observability.NewMetrics(reg)
}
