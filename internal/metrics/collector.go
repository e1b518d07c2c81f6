// Package hagglemetrics defines the Prometheus metrics surface of the
// haggled daemon.
package hagglemetrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// -------------------------------------------------------------------------
// Prometheus Metric Constants
// -------------------------------------------------------------------------

const (
	namespace = "haggle"
	subsystem = "core"
)

// Label names.
const (
	labelInterfaceKind = "interface_kind"
	labelFromState     = "from_state"
	labelToState       = "to_state"
)

// -------------------------------------------------------------------------
// Collector — Prometheus Haggle Metrics
// -------------------------------------------------------------------------

// Collector holds every Prometheus metric the daemon exposes.
//
//   - Neighbors/DataObjects gauges track current store occupancy.
//   - Send counters track per-outcome delivery volume.
//   - StateTransitions records protocol instance FSM changes for alerting.
//   - FilterMatches counts data-store filter evaluation hits.
type Collector struct {
	// Neighbors tracks the number of currently reachable peer nodes,
	// labeled by the link-layer kind of the interface making them
	// reachable.
	Neighbors *prometheus.GaugeVec

	// DataObjects tracks the number of data objects currently held in the
	// store.
	DataObjects prometheus.Gauge

	// SendSuccessful counts data objects successfully delivered to a peer.
	SendSuccessful prometheus.Counter

	// SendFailure counts data object deliveries that failed.
	SendFailure prometheus.Counter

	// SendDuplicate counts data object insertions recognized as
	// already-known by ID.
	SendDuplicate prometheus.Counter

	// StateTransitions counts protocol instance FSM state transitions
	// (IDLE -> LISTENING|CONNECTING -> CONNECTED -> DONE).
	StateTransitions *prometheus.CounterVec

	// FilterMatches counts data store filter evaluation hits.
	FilterMatches prometheus.Counter
}

// NewCollector creates a Collector with every metric registered against
// the provided prometheus.Registerer. If reg is nil,
// prometheus.DefaultRegisterer is used.
//
// All metrics are created with the "haggle_core_" prefix (namespace_subsystem)
// to avoid collisions with other exporters.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	c := newMetrics()

	reg.MustRegister(
		c.Neighbors,
		c.DataObjects,
		c.SendSuccessful,
		c.SendFailure,
		c.SendDuplicate,
		c.StateTransitions,
		c.FilterMatches,
	)

	return c
}

// newMetrics creates all Prometheus metric vectors without registering them.
func newMetrics() *Collector {
	transitionLabels := []string{labelFromState, labelToState}

	return &Collector{
		Neighbors: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "neighbors",
			Help:      "Number of currently reachable peer nodes, by interface kind.",
		}, []string{labelInterfaceKind}),

		DataObjects: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "dataobjects",
			Help:      "Number of data objects currently held in the store.",
		}),

		SendSuccessful: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "send_successful_total",
			Help:      "Total data object deliveries that completed successfully.",
		}),

		SendFailure: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "send_failure_total",
			Help:      "Total data object deliveries that failed.",
		}),

		SendDuplicate: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "send_duplicate_total",
			Help:      "Total data object insertions recognized as already-known by ID.",
		}),

		StateTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "protocol_state_transitions_total",
			Help:      "Total protocol instance FSM state transitions.",
		}, transitionLabels),

		FilterMatches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "filter_matches_total",
			Help:      "Total data store filter evaluation hits.",
		}),
	}
}

// -------------------------------------------------------------------------
// Store Occupancy
// -------------------------------------------------------------------------

// SetNeighbors sets the reachable-neighbor gauge for the given interface
// kind.
func (c *Collector) SetNeighbors(interfaceKind string, n float64) {
	c.Neighbors.WithLabelValues(interfaceKind).Set(n)
}

// SetDataObjects sets the current data-object store size.
func (c *Collector) SetDataObjects(n float64) {
	c.DataObjects.Set(n)
}

// -------------------------------------------------------------------------
// Delivery Counters
// -------------------------------------------------------------------------

// IncSendSuccessful increments the successful-delivery counter.
func (c *Collector) IncSendSuccessful() { c.SendSuccessful.Inc() }

// IncSendFailure increments the failed-delivery counter.
func (c *Collector) IncSendFailure() { c.SendFailure.Inc() }

// IncSendDuplicate increments the duplicate-insertion counter.
func (c *Collector) IncSendDuplicate() { c.SendDuplicate.Inc() }

// -------------------------------------------------------------------------
// State Transitions
// -------------------------------------------------------------------------

// RecordStateTransition increments the protocol FSM transition counter
// with the old and new state labels.
func (c *Collector) RecordStateTransition(from, to string) {
	c.StateTransitions.WithLabelValues(from, to).Inc()
}

// -------------------------------------------------------------------------
// Filter Evaluation
// -------------------------------------------------------------------------

// IncFilterMatches increments the filter-match counter.
func (c *Collector) IncFilterMatches() { c.FilterMatches.Inc() }
