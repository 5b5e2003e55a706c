// Package metrics exports kernel outcomes, dispatches and queue depth to
// Prometheus.
package metrics

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jdziat/durable-kernel/pkg/core"
)

const namespace = "kernel"

// UnknownName replaces any name that was not tracked, so callers cannot
// grow the label set.
const UnknownName = "unknown"

// StatsFunc reports the number of stored jobs per status.
type StatsFunc func(ctx context.Context) (map[string]int64, error)

// Metrics owns a registry and the kernel's collectors.
type Metrics struct {
	registry   *prometheus.Registry
	outcomes   *prometheus.CounterVec
	durations  *prometheus.HistogramVec
	dispatches *prometheus.CounterVec

	mu    sync.RWMutex
	known map[core.OutcomeKind]map[string]struct{}
}

// New creates a registry with the Go and process collectors plus the
// kernel's own.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outcomes_total",
			Help:      "Task ticks and job deliveries by kind, name and result.",
		}, []string{"kind", "name", "result"}),
		durations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "handler_duration_seconds",
			Help:      "Handler run time for ticks and deliveries that ran.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 4, 8),
		}, []string{"kind", "name"}),
		dispatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatches_total",
			Help:      "Job submissions by name and result.",
		}, []string{"name", "result"}),
		known: make(map[core.OutcomeKind]map[string]struct{}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.outcomes,
		m.durations,
		m.dispatches,
	)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Track adds names that may appear as the name label for kind. Every other
// name is recorded as UnknownName.
func (m *Metrics) Track(kind core.OutcomeKind, names ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	set := m.known[kind]
	if set == nil {
		set = make(map[string]struct{}, len(names))
		m.known[kind] = set
	}
	for _, name := range names {
		set[name] = struct{}{}
	}
}

func (m *Metrics) label(kind core.OutcomeKind, name string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.known[kind][name]; ok {
		return name
	}
	return UnknownName
}

// ObserveOutcome records one tick or delivery. It matches core.OutcomeHook.
func (m *Metrics) ObserveOutcome(_ context.Context, o core.Outcome) {
	kind := string(o.Kind)
	name := UnknownName
	if !o.Unknown {
		name = m.label(o.Kind, o.Name)
	}
	m.outcomes.WithLabelValues(kind, name, o.Result()).Inc()
	if !o.Skipped && !o.Unknown {
		m.durations.WithLabelValues(kind, name).Observe(o.Elapsed.Seconds())
	}
}

// ObserveDispatch records one submission attempt.
func (m *Metrics) ObserveDispatch(_ context.Context, name string, err error) {
	result := "accepted"
	if err != nil {
		result = "rejected"
	}
	m.dispatches.WithLabelValues(m.label(core.KindJob, name), result).Inc()
}

// WatchQueue exports the broker's per-status job counts as the
// kernel_queue_jobs gauge, read at scrape time.
func (m *Metrics) WatchQueue(queue string, stats StatsFunc) error {
	return m.registry.Register(&queueCollector{
		stats: stats,
		desc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "queue", "jobs"),
			"Stored jobs by status.",
			[]string{"status"},
			prometheus.Labels{"queue": queue},
		),
	})
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

type queueCollector struct {
	stats StatsFunc
	desc  *prometheus.Desc
}

func (c *queueCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.desc
}

func (c *queueCollector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	counts, err := c.stats(ctx)
	if err != nil {
		ch <- prometheus.NewInvalidMetric(c.desc, err)
		return
	}
	for status, n := range counts {
		ch <- prometheus.MustNewConstMetric(c.desc, prometheus.GaugeValue, float64(n), status)
	}
}
