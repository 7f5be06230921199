package hub

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "govhub"

// PrometheusRegistry collects the hub's prometheus mirror of its counters
var PrometheusRegistry = prometheus.NewRegistry()

var (
	promConnectionsTotal = promauto.With(PrometheusRegistry).NewCounter(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "connections_total",
			Help:      "Total connections ever registered",
		},
	)
	promActiveConnections = promauto.With(PrometheusRegistry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "active_connections",
			Help:      "Currently registered connections",
		},
	)
	promEventsTotal = promauto.With(PrometheusRegistry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "events_total",
			Help:      "Total events emitted, by channel",
		},
		[]string{"channel"},
	)
	promDroppedFrames = promauto.With(PrometheusRegistry).NewCounter(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "dropped_frames_total",
			Help:      "Frames dropped because a connection's delivery queue was full",
		},
	)
)

// MetricsSnapshot point-in-time view of the hub's aggregate counters.
// Counters are monotonic except ActiveConnections and the subscriber set
// sizes; none are ever negative.
type MetricsSnapshot struct {
	TotalConnections     uint64             `json:"total_connections"`
	ActiveConnections    int                `json:"active_connections"`
	TotalEvents          uint64             `json:"total_events"`
	DroppedFrames        uint64             `json:"dropped_frames"`
	EventsByChannel      map[Channel]uint64 `json:"events_by_channel"`
	SubscribersByChannel map[Channel]int    `json:"subscribers_by_channel"`
}

// metricsAggregator running counters derived from registry and broadcast
// activity. Increments are individually atomic; a snapshot is consistent
// but not linearizable against concurrent mutation.
type metricsAggregator struct {
	lock              sync.Mutex
	totalConnections  uint64
	activeConnections int
	totalEvents       uint64
	droppedFrames     uint64
	eventsByChannel   map[Channel]uint64
}

// newMetricsAggregator create a zeroed aggregator
func newMetricsAggregator() *metricsAggregator {
	return &metricsAggregator{
		eventsByChannel: make(map[Channel]uint64),
	}
}

// connectionOpened count one registration
func (m *metricsAggregator) connectionOpened() {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.totalConnections++
	m.activeConnections++
	promConnectionsTotal.Inc()
	promActiveConnections.Inc()
}

// connectionClosed count one deregistration
func (m *metricsAggregator) connectionClosed() {
	m.lock.Lock()
	defer m.lock.Unlock()
	if m.activeConnections > 0 {
		m.activeConnections--
		promActiveConnections.Dec()
	}
}

// eventEmitted count one emit call, once per call rather than per subscriber
func (m *metricsAggregator) eventEmitted(channel Channel) {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.totalEvents++
	m.eventsByChannel[channel]++
	promEventsTotal.WithLabelValues(string(channel)).Inc()
}

// frameDropped count one frame lost to a full delivery queue
func (m *metricsAggregator) frameDropped() {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.droppedFrames++
	promDroppedFrames.Inc()
}

// snapshot capture a consistent view, joining in the live subscriber set
// sizes computed by the registry
func (m *metricsAggregator) snapshot(subscribers map[Channel]int) MetricsSnapshot {
	m.lock.Lock()
	defer m.lock.Unlock()
	byChannel := make(map[Channel]uint64, len(m.eventsByChannel))
	for channel, count := range m.eventsByChannel {
		byChannel[channel] = count
	}
	return MetricsSnapshot{
		TotalConnections:     m.totalConnections,
		ActiveConnections:    m.activeConnections,
		TotalEvents:          m.totalEvents,
		DroppedFrames:        m.droppedFrames,
		EventsByChannel:      byChannel,
		SubscribersByChannel: subscribers,
	}
}
