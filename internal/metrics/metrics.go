package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nerrad567/access-control-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/access-control-core/internal/router"
)

const namespace = "access"

// Publish outcome labels for ObservePublish.
const (
	PublishSent   = "sent"
	PublishQueued = "queued"
	PublishFailed = "failed"
)

// Collector holds every Prometheus metric exported by the service.
//
// Thread Safety: all methods are safe for concurrent use.
type Collector struct {
	registry *prometheus.Registry

	connectionStatus prometheus.Gauge
	stateTransitions *prometheus.CounterVec
	bufferedMessages prometheus.Gauge
	breakerOpen      prometheus.Gauge
	breakerFailures  prometheus.Gauge

	messagesReceived *prometheus.CounterVec
	messagesHandled  *prometheus.CounterVec
	handlerDuration  *prometheus.HistogramVec
	publishes        *prometheus.CounterVec

	// last holds the most recent connection stats snapshot. The cumulative
	// client counters are exported from it through CounterFuncs.
	mu   sync.RWMutex
	last mqtt.ConnectionStats
}

// New creates a Collector registered on a fresh registry, including the
// standard Go runtime and process collectors.
func New() *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	c := &Collector{registry: reg}

	c.connectionStatus = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "mqtt_connection_status",
		Help:      "1 when the MQTT session is connected, 0 otherwise",
	})
	c.stateTransitions = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "mqtt_state_transitions_total",
		Help:      "Connection state transitions by target state",
	}, []string{"state"})
	c.bufferedMessages = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "mqtt_buffered_messages",
		Help:      "Messages waiting in the outbound buffer",
	})
	c.breakerOpen = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "mqtt_circuit_breaker_open",
		Help:      "1 when the connection circuit breaker is open",
	})
	c.breakerFailures = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "mqtt_circuit_breaker_failures",
		Help:      "Consecutive connection failures counted by the breaker",
	})

	c.messagesReceived = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "router_messages_received_total",
		Help:      "Inbound messages accepted by the router, by category",
	}, []string{"category"})
	// Routable categories export zero before their first message.
	for _, cat := range router.Categories() {
		c.messagesReceived.WithLabelValues(cat.String())
	}
	c.messagesHandled = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "router_messages_processed_total",
		Help:      "Inbound messages finished by the router, by category and outcome",
	}, []string{"category", "outcome"})
	c.handlerDuration = factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "router_handler_duration_seconds",
		Help:      "Handler execution time in seconds",
		Buckets:   []float64{.001, .005, .01, .05, .1, .5, 1, 5, 30},
	}, []string{"category"})
	c.publishes = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "api_publishes_total",
		Help:      "Operator publishes through the HTTP API, by outcome",
	}, []string{"outcome"})

	counters := []struct {
		name, help string
		value      func(mqtt.ConnectionStats) uint64
	}{
		{"mqtt_messages_sent_total", "Messages delivered to the broker", func(s mqtt.ConnectionStats) uint64 { return s.MessagesSent }},
		{"mqtt_messages_received_total", "Messages received from the broker", func(s mqtt.ConnectionStats) uint64 { return s.MessagesReceived }},
		{"mqtt_publish_failures_total", "Publishes that failed while connected", func(s mqtt.ConnectionStats) uint64 { return s.PublishFailures }},
		{"mqtt_buffer_evictions_total", "Buffered messages evicted at capacity", func(s mqtt.ConnectionStats) uint64 { return s.BufferEvictions }},
		{"mqtt_reconnect_attempts_total", "Connection attempts after the first", func(s mqtt.ConnectionStats) uint64 { return s.ReconnectAttempts }},
	}
	for _, ctr := range counters {
		value := ctr.value
		factory.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      ctr.name,
			Help:      ctr.help,
		}, func() float64 {
			c.mu.RLock()
			defer c.mu.RUnlock()
			return float64(value(c.last))
		})
	}

	return c
}

// Registry returns the registry backing this Collector.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler returns an http.Handler serving the registry.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// ObserveStateChange records a connection state transition.
// Its signature matches mqtt.Client.SetOnStateChange.
func (c *Collector) ObserveStateChange(_, to mqtt.ConnectionState) {
	c.stateTransitions.WithLabelValues(to.String()).Inc()
	c.connectionStatus.Set(boolToFloat(to == mqtt.StateConnected))
}

// ObserveConnectionStats records a stats snapshot.
// Its signature matches mqtt.Client.SetStatsObserver.
func (c *Collector) ObserveConnectionStats(stats mqtt.ConnectionStats) {
	c.mu.Lock()
	c.last = stats
	c.mu.Unlock()

	c.connectionStatus.Set(boolToFloat(stats.Connected))
	c.bufferedMessages.Set(float64(stats.BufferedMessages))
	c.breakerOpen.Set(boolToFloat(stats.CircuitBreaker.IsOpen))
	c.breakerFailures.Set(float64(stats.CircuitBreaker.FailureCount))
}

// MessageReceived implements router.Observer.
func (c *Collector) MessageReceived(category string) {
	c.messagesReceived.WithLabelValues(category).Inc()
}

// MessageProcessed implements router.Observer.
func (c *Collector) MessageProcessed(category, outcome string, duration time.Duration) {
	c.messagesHandled.WithLabelValues(category, outcome).Inc()
	if duration > 0 {
		c.handlerDuration.WithLabelValues(category).Observe(duration.Seconds())
	}
}

// ObservePublish counts an operator publish by outcome
// (PublishSent, PublishQueued or PublishFailed).
func (c *Collector) ObservePublish(outcome string) {
	c.publishes.WithLabelValues(outcome).Inc()
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
