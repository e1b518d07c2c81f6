package hagglemetrics_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	hagglemetrics "github.com/haggle-net/haggle/internal/metrics"
)

func TestNewCollector(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := hagglemetrics.NewCollector(reg)

	if c.Neighbors == nil {
		t.Error("Neighbors is nil")
	}
	if c.DataObjects == nil {
		t.Error("DataObjects is nil")
	}
	if c.SendSuccessful == nil {
		t.Error("SendSuccessful is nil")
	}
	if c.SendFailure == nil {
		t.Error("SendFailure is nil")
	}
	if c.SendDuplicate == nil {
		t.Error("SendDuplicate is nil")
	}
	if c.StateTransitions == nil {
		t.Error("StateTransitions is nil")
	}
	if c.FilterMatches == nil {
		t.Error("FilterMatches is nil")
	}

	// Verify all metrics are registered by gathering them.
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() error: %v", err)
	}

	// No data yet, so families may be empty -- but registration must not panic.
	_ = families
}

func TestNeighborsGauge(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := hagglemetrics.NewCollector(reg)

	c.SetNeighbors("ethernet", 3)
	if val := gaugeValue(t, c.Neighbors, "ethernet"); val != 3 {
		t.Errorf("Neighbors[ethernet] = %v, want 3", val)
	}

	c.SetNeighbors("bluetooth", 1)
	if val := gaugeValue(t, c.Neighbors, "bluetooth"); val != 1 {
		t.Errorf("Neighbors[bluetooth] = %v, want 1", val)
	}
	if val := gaugeValue(t, c.Neighbors, "ethernet"); val != 3 {
		t.Errorf("Neighbors[ethernet] = %v, want 3 (unaffected)", val)
	}
}

func TestDataObjectsGauge(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := hagglemetrics.NewCollector(reg)

	c.SetDataObjects(42)

	m := &dto.Metric{}
	if err := c.DataObjects.Write(m); err != nil {
		t.Fatalf("Write metric: %v", err)
	}
	if got := m.GetGauge().GetValue(); got != 42 {
		t.Errorf("DataObjects = %v, want 42", got)
	}
}

func TestSendCounters(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := hagglemetrics.NewCollector(reg)

	c.IncSendSuccessful()
	c.IncSendSuccessful()
	c.IncSendFailure()
	c.IncSendDuplicate()
	c.IncSendDuplicate()
	c.IncSendDuplicate()

	if val := singleCounterValue(t, c.SendSuccessful); val != 2 {
		t.Errorf("SendSuccessful = %v, want 2", val)
	}
	if val := singleCounterValue(t, c.SendFailure); val != 1 {
		t.Errorf("SendFailure = %v, want 1", val)
	}
	if val := singleCounterValue(t, c.SendDuplicate); val != 3 {
		t.Errorf("SendDuplicate = %v, want 3", val)
	}
}

func TestStateTransition(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := hagglemetrics.NewCollector(reg)

	c.RecordStateTransition("IDLE", "CONNECTING")
	if val := counterValue(t, c.StateTransitions, "IDLE", "CONNECTING"); val != 1 {
		t.Errorf("StateTransitions(IDLE->CONNECTING) = %v, want 1", val)
	}

	c.RecordStateTransition("CONNECTING", "CONNECTED")
	if val := counterValue(t, c.StateTransitions, "CONNECTING", "CONNECTED"); val != 1 {
		t.Errorf("StateTransitions(CONNECTING->CONNECTED) = %v, want 1", val)
	}

	c.RecordStateTransition("IDLE", "CONNECTING")
	if val := counterValue(t, c.StateTransitions, "IDLE", "CONNECTING"); val != 2 {
		t.Errorf("StateTransitions(IDLE->CONNECTING) = %v, want 2", val)
	}
}

func TestFilterMatches(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := hagglemetrics.NewCollector(reg)

	c.IncFilterMatches()
	c.IncFilterMatches()

	if val := singleCounterValue(t, c.FilterMatches); val != 2 {
		t.Errorf("FilterMatches = %v, want 2", val)
	}
}

// -------------------------------------------------------------------------
// Helpers
// -------------------------------------------------------------------------

// gaugeValue reads the current value of a GaugeVec with the given labels.
func gaugeValue(t *testing.T, vec *prometheus.GaugeVec, labels ...string) float64 {
	t.Helper()

	gauge, err := vec.GetMetricWithLabelValues(labels...)
	if err != nil {
		t.Fatalf("GetMetricWithLabelValues(%v): %v", labels, err)
	}

	m := &dto.Metric{}
	if err := gauge.Write(m); err != nil {
		t.Fatalf("Write metric: %v", err)
	}

	return m.GetGauge().GetValue()
}

// counterValue reads the current value of a CounterVec with the given labels.
func counterValue(t *testing.T, vec *prometheus.CounterVec, labels ...string) float64 {
	t.Helper()

	counter, err := vec.GetMetricWithLabelValues(labels...)
	if err != nil {
		t.Fatalf("GetMetricWithLabelValues(%v): %v", labels, err)
	}

	m := &dto.Metric{}
	if err := counter.Write(m); err != nil {
		t.Fatalf("Write metric: %v", err)
	}

	return m.GetCounter().GetValue()
}

// singleCounterValue reads the current value of an unlabeled Counter.
func singleCounterValue(t *testing.T, counter prometheus.Counter) float64 {
	t.Helper()

	m := &dto.Metric{}
	if err := counter.Write(m); err != nil {
		t.Fatalf("Write metric: %v", err)
	}

	return m.GetCounter().GetValue()
}
