// Package metrics exports Prometheus metrics for the message pipeline.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every collector on one private registry.
type Metrics struct {
	registry *prometheus.Registry

	// Ingest pipeline
	MessagesIngested *prometheus.CounterVec
	MessagesDeduped  *prometheus.CounterVec

	// Delivery pipeline
	MessagesDelivered *prometheus.CounterVec
	MessagesFailed    *prometheus.CounterVec
	MessagesSkipped   *prometheus.CounterVec
	DeliveryAttempts  prometheus.Counter
	PendingDepth      prometheus.Gauge
	PlatformLatency   *prometheus.HistogramVec

	// Listener engine
	ActiveListeners *prometheus.GaugeVec

	// Agent clients
	AgentRequests *prometheus.CounterVec
	HealthyAgents prometheus.Gauge
	ManagedAgents prometheus.Gauge
	EventsDropped prometheus.Counter
}

// New creates all collectors on a fresh registry, including the standard Go
// and process collectors.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{registry: registry}

	m.MessagesIngested = newCounterVec(registry, "messages_ingested_total",
		"Messages persisted after dedup", "instance_id")
	m.MessagesDeduped = newCounterVec(registry, "messages_deduped_total",
		"Messages dropped by the dedup window", "instance_id")

	m.MessagesDelivered = newCounterVec(registry, "messages_delivered_total",
		"Messages that reached DELIVERED", "platform_id")
	m.MessagesFailed = newCounterVec(registry, "messages_failed_total",
		"Messages that reached FAILED", "platform_id")
	m.MessagesSkipped = newCounterVec(registry, "messages_skipped_total",
		"Messages skipped during dispatch", "reason")
	m.DeliveryAttempts = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "wxgate",
		Name:      "delivery_attempts_total",
		Help:      "Dispatch attempts, including retries",
	})
	m.PendingDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "wxgate",
		Name:      "pending_messages",
		Help:      "Messages waiting for delivery",
	})
	m.PlatformLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "wxgate",
		Name:      "platform_latency_seconds",
		Help:      "ProcessMessage latency per platform",
		Buckets:   []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
	}, []string{"platform_id", "kind"})

	m.ActiveListeners = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "wxgate",
		Name:      "active_listeners",
		Help:      "Listeners currently registered per instance",
	}, []string{"instance_id"})

	m.AgentRequests = newCounterVec(registry, "agent_requests_total",
		"Agent API calls by outcome", "instance_id", "outcome")
	m.HealthyAgents = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "wxgate",
		Name:      "healthy_agents",
		Help:      "Instances currently passing health checks",
	})
	m.ManagedAgents = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "wxgate",
		Name:      "managed_agents",
		Help:      "Instances managed by the agent pool",
	})
	m.EventsDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "wxgate",
		Name:      "events_dropped_total",
		Help:      "WebSocket events dropped on slow connections",
	})

	registry.MustRegister(
		m.DeliveryAttempts, m.PendingDepth, m.PlatformLatency,
		m.ActiveListeners, m.HealthyAgents, m.ManagedAgents, m.EventsDropped,
	)
	return m
}

// Handler returns the /metrics HTTP handler for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func newCounterVec(registry *prometheus.Registry, name, help string, labels ...string) *prometheus.CounterVec {
	c := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "wxgate",
		Name:      name,
		Help:      help,
	}, labels)
	registry.MustRegister(c)
	return c
}
