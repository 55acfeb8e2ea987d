package monitoring

import (
	"sync"
	"time"

	"livecast/internal/core/domain"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// RuntimeCollector exports session runtime measurements as Prometheus
// metrics. It implements ports.RuntimeMetrics.
//
// Metrics live on a private registry so several collectors can coexist in
// one process; Registry hands it to an exposition handler.
type RuntimeCollector struct {
	registry *prometheus.Registry

	sessionsStarted *prometheus.CounterVec
	sessionsActive  prometheus.Gauge
	sessionLifetime prometheus.Histogram

	componentState      *prometheus.GaugeVec
	chatMessages        *prometheus.CounterVec
	chatReconnects      prometheus.Counter
	dedupDropped        prometheus.Counter
	manifestReloads     prometheus.Counter
	viewerCount         prometheus.Gauge
	negotiationDuration prometheus.Histogram

	mu        sync.Mutex
	lastState map[string]string
}

func NewRuntimeCollector() *RuntimeCollector {
	return NewRuntimeCollectorWith(prometheus.NewRegistry())
}

func NewRuntimeCollectorWith(registry *prometheus.Registry) *RuntimeCollector {
	factory := promauto.With(registry)
	return &RuntimeCollector{
		registry: registry,

		sessionsStarted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "livecast_sessions_started_total",
			Help: "Sessions started, by role",
		}, []string{"role"}),

		sessionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "livecast_sessions_active",
			Help: "Currently running sessions",
		}),

		sessionLifetime: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "livecast_session_lifetime_seconds",
			Help:    "Session duration from start to teardown",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}),

		componentState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "livecast_component_state",
			Help: "Current component state (1 for the active state)",
		}, []string{"component", "state"}),

		chatMessages: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "livecast_chat_messages_total",
			Help: "Chat messages, by direction",
		}, []string{"direction"}),

		chatReconnects: factory.NewCounter(prometheus.CounterOpts{
			Name: "livecast_chat_reconnects_total",
			Help: "Chat channel reconnect attempts",
		}),

		dedupDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "livecast_chat_dedup_dropped_total",
			Help: "Duplicate chat events dropped by the dedup window",
		}),

		manifestReloads: factory.NewCounter(prometheus.CounterOpts{
			Name: "livecast_manifest_reloads_total",
			Help: "Playback manifest reloads",
		}),

		viewerCount: factory.NewGauge(prometheus.GaugeOpts{
			Name: "livecast_viewer_count",
			Help: "Viewers reported for the current session",
		}),

		negotiationDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "livecast_negotiation_duration_seconds",
			Help:    "Duration of the WHIP offer/answer exchange",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
		}),

		lastState: make(map[string]string),
	}
}

// Registry returns the registry all collector metrics are registered on.
func (c *RuntimeCollector) Registry() *prometheus.Registry {
	return c.registry
}

func (c *RuntimeCollector) SessionStarted(role domain.SessionRole) {
	c.sessionsStarted.WithLabelValues(string(role)).Inc()
	c.sessionsActive.Inc()
}

func (c *RuntimeCollector) SessionEnded(role domain.SessionRole, lifetime time.Duration) {
	c.sessionsActive.Dec()
	c.sessionLifetime.Observe(lifetime.Seconds())
}

// ComponentState marks state as the component's current state and clears
// the previously recorded one.
func (c *RuntimeCollector) ComponentState(component, state string) {
	c.mu.Lock()
	prev, had := c.lastState[component]
	c.lastState[component] = state
	c.mu.Unlock()

	if had && prev != state {
		c.componentState.WithLabelValues(component, prev).Set(0)
	}
	c.componentState.WithLabelValues(component, state).Set(1)
}

func (c *RuntimeCollector) ChatMessage(direction string) {
	c.chatMessages.WithLabelValues(direction).Inc()
}

func (c *RuntimeCollector) ChatReconnect() {
	c.chatReconnects.Inc()
}

func (c *RuntimeCollector) DedupDrop() {
	c.dedupDropped.Inc()
}

func (c *RuntimeCollector) ManifestReload() {
	c.manifestReloads.Inc()
}

func (c *RuntimeCollector) ViewerCount(count int) {
	c.viewerCount.Set(float64(count))
}

func (c *RuntimeCollector) NegotiationDuration(d time.Duration) {
	c.negotiationDuration.Observe(d.Seconds())
}
