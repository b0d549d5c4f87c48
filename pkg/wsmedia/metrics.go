package wsmedia

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "wsmedia"

// Metrics holds the per-process collectors of the streaming client.
type Metrics struct {
	FramesReceived *prometheus.CounterVec // by frame type
	FramesDropped  prometheus.Counter
	MediaBytes     prometheus.Counter
	ChunksComplete *prometheus.CounterVec // by frame type
	MessagesSent   *prometheus.CounterVec // by message type and event
	BufferAhead    prometheus.Gauge
	RebufferTotal  prometheus.Counter
	ActiveSessions prometheus.Gauge
}

// NewMetrics creates unregistered collectors.
func NewMetrics() *Metrics {
	return &Metrics{
		FramesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_received_total",
			Help:      "Media frames received, by frame type",
		}, []string{"type"}),
		FramesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_dropped_total",
			Help:      "Inbound frames dropped because they could not be decoded",
		}),
		MediaBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "media_bytes_total",
			Help:      "Video payload bytes handed to the media pipe",
		}),
		ChunksComplete: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunks_completed_total",
			Help:      "Media chunks whose final fragment was received",
		}, []string{"type"}),
		MessagesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_sent_total",
			Help:      "Protocol messages sent to the server",
		}, []string{"type", "event"}),
		BufferAhead: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "buffer_ahead_seconds",
			Help:      "Buffered media ahead of the playback position",
		}),
		RebufferTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rebuffer_seconds_total",
			Help:      "Time spent rebuffering",
		}),
		ActiveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Open streaming sessions",
		}),
	}
}

// Register adds all collectors to reg.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range m.collectors() {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.FramesReceived,
		m.FramesDropped,
		m.MediaBytes,
		m.ChunksComplete,
		m.MessagesSent,
		m.BufferAhead,
		m.RebufferTotal,
		m.ActiveSessions,
	}
}
