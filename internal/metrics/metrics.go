// Package metrics is a thin shared abstraction over Prometheus so that
// internal/store, internal/durability, internal/node, internal/proxy, and
// internal/health can all register to the same process-wide registry with
// consistent metric names, without each package hand-rolling its own
// collector set.
//
// ┌───────────────────────────────┬───────┬──────────────┐
// │ Metric                        │ Type  │ Labels       │
// ├────────────────────────────────┼───────┼──────────────┤
// │ meshkv_ops_total               │ Ctr   │ command      │
// │ meshkv_op_latency_seconds      │ Hist  │ command      │
// │ meshkv_shard_size              │ Gge   │ shard        │
// │ meshkv_evictions_total         │ Ctr   │ shard        │
// │ meshkv_expirations_total       │ Ctr   │ shard        │
// │ meshkv_wal_append_seconds      │ Hist  │ —            │
// │ meshkv_snapshot_duration_seconds │ Hist  │ —          │
// │ meshkv_health_checks_total     │ Ctr   │ node, result │
// │ meshkv_ring_lookup_total       │ Ctr   │ —            │
// └────────────────────────────────┴───────┴──────────────┘
//
// A nil *Metrics (via New(nil)) degrades every method to a no-op so hot
// paths never pay for metric updates when the operator hasn't wired a
// registry, mirroring Voskan-arena-cache's pkg/metrics.go noop/prometheus
// split.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles the collectors shared across meshkv processes.
type Metrics struct {
	ops            *prometheus.CounterVec
	opLatency      *prometheus.HistogramVec
	shardSize      *prometheus.GaugeVec
	evictions      *prometheus.CounterVec
	expirations    *prometheus.CounterVec
	walAppend      prometheus.Histogram
	snapshotDur    prometheus.Histogram
	healthChecks   *prometheus.CounterVec
	ringLookups    prometheus.Counter
	backendDials   *prometheus.CounterVec
	backendRetries *prometheus.CounterVec
}

// New registers meshkv's collector set against reg and returns a Metrics
// handle. If reg is nil, New returns a handle whose methods are no-ops so
// callers don't need to nil-check at every call site.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		return nil
	}

	m := &Metrics{
		ops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "meshkv",
			Name:      "ops_total",
			Help:      "Number of store operations processed, by command.",
		}, []string{"command"}),
		opLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "meshkv",
			Name:      "op_latency_seconds",
			Help:      "Store operation latency in seconds, by command.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"command"}),
		shardSize: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "meshkv",
			Name:      "shard_size",
			Help:      "Current number of live entries per shard.",
		}, []string{"shard"}),
		evictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "meshkv",
			Name:      "evictions_total",
			Help:      "Number of entries evicted, by shard.",
		}, []string{"shard"}),
		expirations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "meshkv",
			Name:      "expirations_total",
			Help:      "Number of entries removed by TTL expiry, by shard.",
		}, []string{"shard"}),
		walAppend: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "meshkv",
			Name:      "wal_append_seconds",
			Help:      "Latency of a single WAL append + fsync.",
			Buckets:   prometheus.DefBuckets,
		}),
		snapshotDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "meshkv",
			Name:      "snapshot_duration_seconds",
			Help:      "Duration of a full snapshot write.",
			Buckets:   prometheus.DefBuckets,
		}),
		healthChecks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "meshkv",
			Name:      "health_checks_total",
			Help:      "Number of health probes performed, by node and result.",
		}, []string{"node", "result"}),
		ringLookups: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "meshkv",
			Name:      "ring_lookup_total",
			Help:      "Number of consistent-hash ring lookups performed.",
		}),
		backendDials: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "meshkv",
			Name:      "backend_dials_total",
			Help:      "Number of backend connection dial attempts, by node and result.",
		}, []string{"node", "result"}),
		backendRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "meshkv",
			Name:      "backend_backoff_retries_total",
			Help:      "Number of backend reconnect backoff retries, by node.",
		}, []string{"node"}),
	}

	reg.MustRegister(
		m.ops, m.opLatency, m.shardSize, m.evictions, m.expirations,
		m.walAppend, m.snapshotDur, m.healthChecks, m.ringLookups,
		m.backendDials, m.backendRetries,
	)
	return m
}

func (m *Metrics) ObserveOp(command string, seconds float64) {
	if m == nil {
		return
	}
	m.ops.WithLabelValues(command).Inc()
	m.opLatency.WithLabelValues(command).Observe(seconds)
}

func (m *Metrics) SetShardSize(shard int, n int) {
	if m == nil {
		return
	}
	m.shardSize.WithLabelValues(strconv.Itoa(shard)).Set(float64(n))
}

func (m *Metrics) IncEviction(shard int) {
	if m == nil {
		return
	}
	m.evictions.WithLabelValues(strconv.Itoa(shard)).Inc()
}

func (m *Metrics) IncExpiration(shard int) {
	if m == nil {
		return
	}
	m.expirations.WithLabelValues(strconv.Itoa(shard)).Inc()
}

func (m *Metrics) ObserveWALAppend(seconds float64) {
	if m == nil {
		return
	}
	m.walAppend.Observe(seconds)
}

func (m *Metrics) ObserveSnapshot(seconds float64) {
	if m == nil {
		return
	}
	m.snapshotDur.Observe(seconds)
}

func (m *Metrics) IncHealthCheck(node, result string) {
	if m == nil {
		return
	}
	m.healthChecks.WithLabelValues(node, result).Inc()
}

func (m *Metrics) IncRingLookup() {
	if m == nil {
		return
	}
	m.ringLookups.Inc()
}

func (m *Metrics) IncBackendDial(node, result string) {
	if m == nil {
		return
	}
	m.backendDials.WithLabelValues(node, result).Inc()
}

func (m *Metrics) IncBackendRetry(node string) {
	if m == nil {
		return
	}
	m.backendRetries.WithLabelValues(node).Inc()
}
