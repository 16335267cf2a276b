package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "voicechat"

// Client side.
var (
	PushStateTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "push",
			Name:      "state_transitions_total",
			Help:      "Push channel state transitions by target state.",
		},
		[]string{"state"},
	)

	PushReconnects = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "push",
			Name:      "reconnect_attempts_total",
			Help:      "Reconnect attempts made by push channels.",
		},
	)

	PushDroppedFrames = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "push",
			Name:      "dropped_frames_total",
			Help:      "Inbound frames dropped because they could not be decoded.",
		},
		[]string{"reason"},
	)

	EngineEventsApplied = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "events_applied_total",
			Help:      "Events applied to the message store by kind and outcome.",
		},
		[]string{"kind", "outcome"},
	)

	SearchRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "search",
			Name:      "requests_total",
			Help:      "Search requests by outcome (ok, error, cached, canceled).",
		},
		[]string{"outcome"},
	)
)

// Server side.
var (
	WSSubscribers = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "server",
			Name:      "ws_subscribers",
			Help:      "Open websocket subscriptions by kind (room, inbox).",
		},
		[]string{"kind"},
	)

	MessagesCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "server",
			Name:      "messages_created_total",
			Help:      "Messages persisted by message type.",
		},
		[]string{"type"},
	)

	TranscriptionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "server",
			Name:      "transcription_duration_seconds",
			Help:      "Background transcription and extraction duration.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"kind", "outcome"},
	)
)
