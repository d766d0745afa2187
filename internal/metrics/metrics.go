// Package metrics exposes prometheus counters for synchronized collections
// and the realtime transport.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "practicesync"

// Outcomes of an inbound change event.
const (
	EventApplied  = "applied"
	EventDropped  = "dropped"
	EventDeferred = "deferred"
)

// Collector is a prometheus.Collector for collection and transport metrics.
// All recording methods are safe to call on a nil *Collector.
type Collector struct {
	cacheLookups     *prometheus.CounterVec
	fetches          *prometheus.CounterVec
	fetchFailures    *prometheus.CounterVec
	mutations        *prometheus.CounterVec
	rollbacks        *prometheus.CounterVec
	events           *prometheus.CounterVec
	refreshes        *prometheus.CounterVec
	realtimeSessions prometheus.Gauge
}

// New returns a new Collector.
func New() *Collector {
	return &Collector{
		cacheLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "cache_lookups_total",
				Help:      "Snapshot cache lookups by table and result.",
			}, []string{"table", "result"},
		),
		fetches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "fetches_total",
				Help:      "Reads issued against the row store.",
			}, []string{"table"},
		),
		fetchFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "fetch_failures_total",
				Help:      "Reads against the row store that failed.",
			}, []string{"table"},
		),
		mutations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "mutations_total",
				Help:      "Optimistic mutations by table and operation.",
			}, []string{"table", "op"},
		),
		rollbacks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "rollbacks_total",
				Help:      "Optimistic mutations reconciled after a remote failure.",
			}, []string{"table", "op"},
		),
		events: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "inbound_events_total",
				Help:      "Inbound change events by table and outcome.",
			}, []string{"table", "outcome"},
		),
		refreshes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "refreshes_total",
				Help:      "Forced refreshes by table and reason.",
			}, []string{"table", "reason"},
		),
		realtimeSessions: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "realtime_sessions",
				Help:      "Open websocket sessions on the realtime server.",
			},
		),
	}
}

// Describe is part of the prometheus.Collector interface.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	c.cacheLookups.Describe(ch)
	c.fetches.Describe(ch)
	c.fetchFailures.Describe(ch)
	c.mutations.Describe(ch)
	c.rollbacks.Describe(ch)
	c.events.Describe(ch)
	c.refreshes.Describe(ch)
	c.realtimeSessions.Describe(ch)
}

// Collect is part of the prometheus.Collector interface.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.cacheLookups.Collect(ch)
	c.fetches.Collect(ch)
	c.fetchFailures.Collect(ch)
	c.mutations.Collect(ch)
	c.rollbacks.Collect(ch)
	c.events.Collect(ch)
	c.refreshes.Collect(ch)
	c.realtimeSessions.Collect(ch)
}

// CacheLookup records a snapshot cache hit or miss.
func (c *Collector) CacheLookup(table string, hit bool) {
	if c == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	c.cacheLookups.WithLabelValues(table, result).Inc()
}

// Fetch records a read against the row store.
func (c *Collector) Fetch(table string) {
	if c == nil {
		return
	}
	c.fetches.WithLabelValues(table).Inc()
}

// FetchFailure records a failed read.
func (c *Collector) FetchFailure(table string) {
	if c == nil {
		return
	}
	c.fetchFailures.WithLabelValues(table).Inc()
}

// Mutation records an optimistic mutation.
func (c *Collector) Mutation(table, op string) {
	if c == nil {
		return
	}
	c.mutations.WithLabelValues(table, op).Inc()
}

// Rollback records a reconciled mutation failure.
func (c *Collector) Rollback(table, op string) {
	if c == nil {
		return
	}
	c.rollbacks.WithLabelValues(table, op).Inc()
}

// Event records what happened to an inbound change event.
func (c *Collector) Event(table, outcome string) {
	if c == nil {
		return
	}
	c.events.WithLabelValues(table, outcome).Inc()
}

// Refresh records a forced refresh.
func (c *Collector) Refresh(table, reason string) {
	if c == nil {
		return
	}
	c.refreshes.WithLabelValues(table, reason).Inc()
}

// SessionOpened records a new realtime session.
func (c *Collector) SessionOpened() {
	if c == nil {
		return
	}
	c.realtimeSessions.Inc()
}

// SessionClosed records a closed realtime session.
func (c *Collector) SessionClosed() {
	if c == nil {
		return
	}
	c.realtimeSessions.Dec()
}
