package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "whisperwave_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "whisperwave_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	// Business metrics
	UsersRegistered = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "whisperwave_users_registered_total",
			Help: "Total users registered",
		},
	)

	MessagesSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "whisperwave_messages_sent_total",
			Help: "Total messages sent",
		},
		[]string{"chat_type"}, // "direct" or "group"
	)

	// Delivery metrics: per recipient, a message is either pushed live or
	// lands on the unseen-count ledger.
	DeliveryOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "whisperwave_delivery_outcomes_total",
			Help: "Per-recipient delivery outcomes",
		},
		[]string{"outcome"}, // "push" or "unseen"
	)

	RosterBroadcasts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "whisperwave_roster_broadcasts_total",
			Help: "Total online-roster broadcasts",
		},
	)

	// Websocket metrics
	OpenConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "whisperwave_ws_connections",
			Help: "Currently open websocket connections",
		},
	)

	DroppedPushes = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "whisperwave_ws_dropped_pushes_total",
			Help: "Pushes dropped because a client send buffer was full",
		},
	)

	// Infrastructure metrics
	StoreLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "whisperwave_store_latency_seconds",
			Help:    "Persistent store operation latency",
			Buckets: []float64{.001, .005, .01, .025, .05, .1},
		},
		[]string{"op"},
	)
)
