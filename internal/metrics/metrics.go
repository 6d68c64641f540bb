// Package metrics exposes supervisor activity as Prometheus metrics. Counters
// are fed from the event bus; gauges are read from the supervisor on scrape.
package metrics

import (
	"context"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lfcbot/lfc/internal/events"
)

const (
	namespace = "lfc"
	subsystem = "supervisor"
)

// Source supplies point-in-time state read at scrape time.
type Source interface {
	WorkerCounts() map[string]int
	PendingCounts() map[string]int
}

// Metrics owns a registry and the supervisor's metric families.
type Metrics struct {
	registry *prometheus.Registry

	spawned        *prometheus.CounterVec
	killed         *prometheus.CounterVec
	failures       *prometheus.CounterVec
	moduleNotFound *prometheus.CounterVec
	heartbeats     *prometheus.CounterVec
	messages       *prometheus.CounterVec
}

// New creates the metric families on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		// spawned counts worker processes started.
		// Labels: worker
		spawned: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "workers_spawned_total",
			Help:      "Worker processes spawned",
		}, []string{"worker"}),

		killed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "workers_killed_total",
			Help:      "Worker processes killed",
		}, []string{"worker"}),

		// failures counts workers replaced by the health monitor.
		// Labels: worker, kind (crashed, hung)
		failures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "worker_failures_total",
			Help:      "Workers found dead or hung by the health monitor",
		}, []string{"worker", "kind"}),

		moduleNotFound: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "module_not_found_total",
			Help:      "Worker creations rejected for an unknown module",
		}, []string{"worker"}),

		// heartbeats counts heartbeats consumed.
		// Labels: worker, healthy (true, false)
		heartbeats: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "heartbeats_total",
			Help:      "Heartbeats received from workers",
		}, []string{"worker", "healthy"}),

		// messages counts routing outcomes.
		// Labels: worker, outcome (delivered, pending, dropped, retry_exhausted)
		messages: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "messages_total",
			Help:      "Envelopes handled by the router by outcome",
		}, []string{"worker", "outcome"}),
	}
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler returns the /metrics HTTP handler.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// RegisterSource exposes src as live_workers and pending_messages gauges.
func (m *Metrics) RegisterSource(src Source) error {
	return m.registry.Register(&sourceCollector{src: src})
}

// Observe updates counters for one event.
func (m *Metrics) Observe(ev events.Event) {
	worker := ev.WorkerName()
	switch e := ev.(type) {
	case events.WorkerEvent:
		switch e.Type {
		case events.TypeWorkerSpawned:
			m.spawned.WithLabelValues(worker).Inc()
		case events.TypeWorkerKilled:
			m.killed.WithLabelValues(worker).Inc()
		case events.TypeWorkerCrashed:
			m.failures.WithLabelValues(worker, "crashed").Inc()
		case events.TypeWorkerHung:
			m.failures.WithLabelValues(worker, "hung").Inc()
		case events.TypeModuleNotFound:
			m.moduleNotFound.WithLabelValues(worker).Inc()
		}
	case events.HeartbeatEvent:
		m.heartbeats.WithLabelValues(worker, strconv.FormatBool(e.Healthy)).Inc()
	case events.MessageEvent:
		switch e.Type {
		case events.TypeMessageDelivered:
			m.messages.WithLabelValues(worker, "delivered").Inc()
		case events.TypeMessagePending:
			m.messages.WithLabelValues(worker, "pending").Inc()
		case events.TypeMessageDropped:
			m.messages.WithLabelValues(worker, "dropped").Inc()
		case events.TypeRetryExhausted:
			m.messages.WithLabelValues(worker, "retry_exhausted").Inc()
		}
	}
}

// Consume observes events from ch until it closes or ctx is canceled.
func (m *Metrics) Consume(ctx context.Context, ch <-chan events.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			m.Observe(ev)
		}
	}
}

var (
	liveWorkersDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, subsystem, "live_workers"),
		"Registered worker processes by name",
		[]string{"worker"}, nil,
	)
	pendingDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, subsystem, "pending_messages"),
		"Envelopes awaiting delivery by target worker",
		[]string{"worker"}, nil,
	)
)

type sourceCollector struct {
	src Source
}

func (c *sourceCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- liveWorkersDesc
	ch <- pendingDesc
}

func (c *sourceCollector) Collect(ch chan<- prometheus.Metric) {
	for name, n := range c.src.WorkerCounts() {
		ch <- prometheus.MustNewConstMetric(liveWorkersDesc, prometheus.GaugeValue, float64(n), name)
	}
	for name, n := range c.src.PendingCounts() {
		ch <- prometheus.MustNewConstMetric(pendingDesc, prometheus.GaugeValue, float64(n), name)
	}
}
