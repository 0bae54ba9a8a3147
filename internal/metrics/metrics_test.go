package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveSetsRunningGauge(t *testing.T) {
	c := NewCollector()
	cpu := 12.5
	mem := int64(256)
	c.Observe("default", "web", Sample{Running: true, CPUUsage: &cpu, MemoryUsage: &mem})

	if got := testutil.ToFloat64(sandboxRunning.WithLabelValues("default", "web")); got != 1.0 {
		t.Errorf("expected running gauge 1.0, got %v", got)
	}
	if got := testutil.ToFloat64(sandboxCPUUsage.WithLabelValues("default", "web")); got != 12.5 {
		t.Errorf("expected cpu gauge 12.5, got %v", got)
	}
	c.Forget("default", "web")
}

func TestObserveStoppedSandbox(t *testing.T) {
	c := NewCollector()
	c.Observe("default", "idle", Sample{Running: false})
	if got := testutil.ToFloat64(sandboxRunning.WithLabelValues("default", "idle")); got != 0.0 {
		t.Errorf("expected running gauge 0.0, got %v", got)
	}
	c.Forget("default", "idle")
}
