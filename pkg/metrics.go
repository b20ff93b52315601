package cache

// metrics.go contains a thin abstraction over Prometheus so that stripecache
// can be used with or without metrics. When the user passes a
// *prometheus.Registry in New(..., WithMetrics(reg)), we create labeled
// metrics and expose them via the registry. Otherwise a no-op sink is used
// and the hot path does not pay for metric updates.
//
// All metrics are **shard-level**; aggregations can easily be done on the
// Prometheus side via sum() / rate().
//
// ┌──────────────────────────────────────┐
// │ Metric               │ Type │ Labels │
// ├──────────────────────┼──────┼────────┤
// │ cache_hits_total     │ Ctr  │ shard  │
// │ cache_misses_total   │ Ctr  │ shard  │
// │ cache_evictions_total│ Ctr  │ shard  │
// │ cache_bytes          │ Gge  │ shard  │
// └──────────────────────────────────────┘
//
// © 2025 stripecache authors. MIT License.

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// metricsSink is an internal interface abstracting away the concrete backend
// (Prometheus vs noop). It is *not* exposed outside the package; Cache and
// shards only know about the generic methods here.
type metricsSink interface {
	incHit(shard uint8)
	incMiss(shard uint8)
	incEvict(shard uint8)
	setBytes(shard uint8, value int64)
}

/*
   ---------------- No-op implementation ----------------
*/

type noopMetrics struct{}

func (noopMetrics) incHit(uint8)          {}
func (noopMetrics) incMiss(uint8)         {}
func (noopMetrics) incEvict(uint8)        {}
func (noopMetrics) setBytes(uint8, int64) {}

/*
   ---------------- Prometheus implementation ----------------
*/

type promMetrics struct {
	hits      *prometheus.CounterVec
	misses    *prometheus.CounterVec
	evictions *prometheus.CounterVec
	bytes     *prometheus.GaugeVec

	// Label values are pre-rendered per shard so the hot path never calls
	// strconv.
	labels []string
}

func newPromMetrics(shardCount int, reg *prometheus.Registry) *promMetrics {
	label := []string{"shard"}

	pm := &promMetrics{
		hits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "stripecache",
				Name:      "cache_hits_total",
				Help:      "Number of cache hits.",
			}, label),
		misses: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "stripecache",
				Name:      "cache_misses_total",
				Help:      "Number of cache misses.",
			}, label),
		evictions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "stripecache",
				Name:      "cache_evictions_total",
				Help:      "Number of items displaced by LRU pressure.",
			}, label),
		bytes: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "stripecache",
				Name:      "cache_bytes",
				Help:      "Charged key+value bytes per shard.",
			}, label),
		labels: make([]string, shardCount),
	}
	for i := range pm.labels {
		pm.labels[i] = strconv.Itoa(i)
	}

	// Register collectors. If registry is nil the caller decided to disable
	// metrics; function should never be called with nil.
	reg.MustRegister(pm.hits, pm.misses, pm.evictions, pm.bytes)
	return pm
}

func (m *promMetrics) incHit(shard uint8) {
	m.hits.WithLabelValues(m.labels[shard]).Inc()
}
func (m *promMetrics) incMiss(shard uint8) {
	m.misses.WithLabelValues(m.labels[shard]).Inc()
}
func (m *promMetrics) incEvict(shard uint8) {
	m.evictions.WithLabelValues(m.labels[shard]).Inc()
}
func (m *promMetrics) setBytes(shard uint8, value int64) {
	m.bytes.WithLabelValues(m.labels[shard]).Set(float64(value))
}

/*
   ---------------- Factory ----------------
*/

// newMetricsSink decides which implementation to use. Caller guarantees that
// shardCount is > 0.
func newMetricsSink(shardCount int, reg *prometheus.Registry) metricsSink {
	if reg == nil {
		return noopMetrics{}
	}
	return newPromMetrics(shardCount, reg)
}
