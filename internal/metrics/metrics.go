// Package metrics содержит Prometheus-коллекторы ядра сообщений.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/dealhub/internal/logger"
)

var (
	MessagesSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dealhub_messages_sent_total",
			Help: "Messages persisted, by kind (channel, reply, direct).",
		},
		[]string{"kind"},
	)

	ReactionToggles = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dealhub_reaction_toggles_total",
			Help: "Reaction toggles, by direction (added, removed).",
		},
		[]string{"direction"},
	)

	ReputationEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dealhub_reputation_events_total",
			Help: "Applied reputation events, by kind.",
		},
		[]string{"kind"},
	)

	XPAwarded = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dealhub_xp_awarded_total",
		Help: "Total XP awarded across all users.",
	})

	ReputationDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dealhub_reputation_dropped_total",
		Help: "Reputation events discarded because the worker queue stayed full.",
	})

	NotificationsSent = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dealhub_notifications_total",
		Help: "Notifications appended to user inboxes.",
	})

	PushDeliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dealhub_push_deliveries_total",
			Help: "Web Push delivery attempts, by result (ok, gone, error).",
		},
		[]string{"result"},
	)

	WSConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "dealhub_ws_connections",
		Help: "Open WebSocket connections.",
	})

	LiveSubscriptions = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "dealhub_live_subscriptions",
		Help: "Active live subscriptions.",
	})
)

func init() {
	prometheus.MustRegister(
		MessagesSent,
		ReactionToggles,
		ReputationEvents,
		XPAwarded,
		ReputationDropped,
		NotificationsSent,
		PushDeliveries,
		WSConnections,
		LiveSubscriptions,
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "dealhub_log_records_dropped_total",
			Help: "Log records discarded because the logger buffer was full.",
		}, func() float64 { return float64(logger.Dropped()) }),
	)
}
