package gc

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// ============================================================================
// Prometheus Metrics for Garbage Collection
// ============================================================================

// Label constants for metrics.
const (
	LabelSweep  = "sweep"
	LabelReason = "reason"
	LabelPhase  = "phase"
	LabelResult = "result"
)

// Sweep label values.
const (
	SweepNameIncremental = "incremental"
	SweepNameExpired     = "sweep_expired"
)

// Skip reason label values.
const (
	ReasonBloom     = "bloom"
	ReasonWindow    = "window"
	ReasonRefcount  = "refcount"
	ReasonProtected = "protected"
)

// Run result label values.
const (
	ResultSuccess = "success"
	ResultError   = "error"
	ResultAborted = "aborted"
	ResultDryRun  = "dry_run"
)

// Metrics provides Prometheus metrics for the collector and its sweeps.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	runsTotal     *prometheus.CounterVec
	phaseDuration *prometheus.HistogramVec
	activePhase   *prometheus.GaugeVec

	nodesScanned  prometheus.Counter
	nodesMissing  prometheus.Counter
	nodesDeleted  *prometheus.CounterVec
	nodesRecycled *prometheus.CounterVec
	nodesSkipped  *prometheus.CounterVec
	staleDropped  prometheus.Counter

	bloomBits      prometheus.Gauge
	bloomFillRatio prometheus.Gauge

	recycleEntries prometheus.Gauge
	recycleBytes   prometheus.Gauge

	compactionsTotal prometheus.Counter

	// Flag to track if metrics are registered
	registered bool
}

// NewMetrics creates and registers GC metrics.
// If registry is nil, metrics will be created but not registered (useful for testing).
func NewMetrics(registry prometheus.Registerer) *Metrics {
	m := &Metrics{
		runsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "stategc",
				Subsystem: "gc",
				Name:      "runs_total",
				Help:      "Total number of collection runs by result",
			},
			[]string{LabelResult},
		),

		phaseDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "stategc",
				Subsystem: "gc",
				Name:      "phase_duration_seconds",
				Help:      "Duration of collection phases",
				Buckets:   prometheus.ExponentialBuckets(0.01, 4, 12), // 10ms .. ~11h
			},
			[]string{LabelPhase},
		),

		activePhase: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "stategc",
				Subsystem: "gc",
				Name:      "active_phase",
				Help:      "1 for the phase currently running, 0 otherwise",
			},
			[]string{LabelPhase},
		),

		nodesScanned: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "stategc",
				Subsystem: "gc",
				Name:      "nodes_scanned_total",
				Help:      "Total number of nodes marked reachable",
			},
		),

		nodesMissing: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "stategc",
				Subsystem: "gc",
				Name:      "nodes_missing_total",
				Help:      "Total number of referenced nodes not found in the node store",
			},
		),

		nodesDeleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "stategc",
				Subsystem: "gc",
				Name:      "nodes_deleted_total",
				Help:      "Total number of nodes deleted by sweep",
			},
			[]string{LabelSweep},
		),

		nodesRecycled: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "stategc",
				Subsystem: "gc",
				Name:      "nodes_recycled_total",
				Help:      "Total number of deleted nodes staged in the recycle bin",
			},
			[]string{LabelSweep},
		),

		nodesSkipped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "stategc",
				Subsystem: "gc",
				Name:      "nodes_skipped_total",
				Help:      "Total number of delete candidates kept, by reason",
			},
			[]string{LabelSweep, LabelReason},
		),

		staleDropped: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "stategc",
				Subsystem: "gc",
				Name:      "stale_dropped_total",
				Help:      "Total number of stale entries dropped because the node was re-referenced",
			},
		),

		bloomBits: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "stategc",
				Subsystem: "gc",
				Name:      "bloom_bits",
				Help:      "Size of the last reachable-set filter in bits",
			},
		),

		bloomFillRatio: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "stategc",
				Subsystem: "gc",
				Name:      "bloom_fill_ratio",
				Help:      "Fraction of set bits in the last reachable-set filter",
			},
		),

		recycleEntries: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "stategc",
				Subsystem: "gc",
				Name:      "recycle_bin_entries",
				Help:      "Number of records in the recycle bin",
			},
		),

		recycleBytes: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "stategc",
				Subsystem: "gc",
				Name:      "recycle_bin_bytes",
				Help:      "Total node bytes held in the recycle bin",
			},
		),

		compactionsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "stategc",
				Subsystem: "gc",
				Name:      "compactions_total",
				Help:      "Total number of engine compactions requested after a sweep",
			},
		),
	}

	if registry != nil {
		registry.MustRegister(
			m.runsTotal,
			m.phaseDuration,
			m.activePhase,
			m.nodesScanned,
			m.nodesMissing,
			m.nodesDeleted,
			m.nodesRecycled,
			m.nodesSkipped,
			m.staleDropped,
			m.bloomBits,
			m.bloomFillRatio,
			m.recycleEntries,
			m.recycleBytes,
			m.compactionsTotal,
		)
		m.registered = true
	}

	return m
}

// ObserveRun records the outcome of a collection run.
func (m *Metrics) ObserveRun(result string) {
	if m == nil {
		return
	}
	m.runsTotal.WithLabelValues(result).Inc()
}

// StartPhase marks phase active and returns a function that records its
// duration and clears the mark.
func (m *Metrics) StartPhase(phase string) func() {
	if m == nil {
		return func() {}
	}
	start := time.Now()
	m.activePhase.WithLabelValues(phase).Set(1)
	return func() {
		m.activePhase.WithLabelValues(phase).Set(0)
		m.phaseDuration.WithLabelValues(phase).Observe(time.Since(start).Seconds())
	}
}

// AddScanned records nodes marked reachable.
func (m *Metrics) AddScanned(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.nodesScanned.Add(float64(n))
}

// AddMissing records referenced nodes that were not found.
func (m *Metrics) AddMissing(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.nodesMissing.Add(float64(n))
}

// ObserveSweep records the counters of one sweep batch.
func (m *Metrics) ObserveSweep(sweep string, s SweepStats) {
	if m == nil {
		return
	}
	add := func(c prometheus.Counter, n int) {
		if n > 0 {
			c.Add(float64(n))
		}
	}
	add(m.nodesDeleted.WithLabelValues(sweep), s.Deleted)
	add(m.nodesRecycled.WithLabelValues(sweep), s.Recycled)
	add(m.nodesSkipped.WithLabelValues(sweep, ReasonBloom), s.BloomSkipped)
	add(m.nodesSkipped.WithLabelValues(sweep, ReasonWindow), s.WindowSkipped)
	add(m.nodesSkipped.WithLabelValues(sweep, ReasonRefcount), s.RefSkipped)
	add(m.nodesSkipped.WithLabelValues(sweep, ReasonProtected), s.Protected)
	add(m.staleDropped, s.Dropped)
}

// SetBloom records the size and fill of the reachable-set filter.
func (m *Metrics) SetBloom(bits uint64, fillRatio float64) {
	if m == nil {
		return
	}
	m.bloomBits.Set(float64(bits))
	m.bloomFillRatio.Set(fillRatio)
}

// SetRecycleUsage records the recycle bin usage.
func (m *Metrics) SetRecycleUsage(entries, bytes uint64) {
	if m == nil {
		return
	}
	m.recycleEntries.Set(float64(entries))
	m.recycleBytes.Set(float64(bytes))
}

// IncCompactions records a compaction request.
func (m *Metrics) IncCompactions() {
	if m == nil {
		return
	}
	m.compactionsTotal.Inc()
}

// IsRegistered reports whether the metrics were registered with a registry.
func (m *Metrics) IsRegistered() bool {
	return m != nil && m.registered
}
