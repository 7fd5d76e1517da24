// Package instrument exposes Prometheus metrics for the relay.
package instrument

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	connections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "sechat_connections",
			Help: "Number of live client connections",
		},
	)
	actions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sechat_actions_total",
			Help: "Number of processed client actions",
		},
		[]string{"action"},
	)
	actionErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sechat_action_errors_total",
			Help: "Number of actions answered with an error event",
		},
	)
	messagesRelayed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sechat_messages_relayed_total",
			Help: "Number of encrypted messages appended and relayed",
		},
	)
	friendRequests = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sechat_friend_requests_total",
			Help: "Number of friend requests enqueued",
		},
	)
	resumes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sechat_resumes_total",
			Help: "Number of resume_session attempts by outcome",
		},
		[]string{"outcome"},
	)
	snapshots = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sechat_snapshots_total",
			Help: "Number of snapshot writes by status",
		},
		[]string{"status"},
	)
	eventsDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sechat_events_dropped_total",
			Help: "Number of outbound events dropped on full client queues",
		},
	)
)

// Init registers all collectors with the default registry. Call once at
// startup; metrics update regardless, registration only exposes them.
func Init() {
	prometheus.MustRegister(connections)
	prometheus.MustRegister(actions)
	prometheus.MustRegister(actionErrors)
	prometheus.MustRegister(messagesRelayed)
	prometheus.MustRegister(friendRequests)
	prometheus.MustRegister(resumes)
	prometheus.MustRegister(snapshots)
	prometheus.MustRegister(eventsDropped)
}

func ConnectionOpened() {
	connections.Inc()
}

func ConnectionClosed() {
	connections.Dec()
}

func Action(action string) {
	actions.With(prometheus.Labels{"action": action}).Inc()
}

func ActionError() {
	actionErrors.Inc()
}

func MessageRelayed() {
	messagesRelayed.Inc()
}

func FriendRequest() {
	friendRequests.Inc()
}

func Resume(outcome string) {
	resumes.With(prometheus.Labels{"outcome": outcome}).Inc()
}

func Snapshot(status string) {
	snapshots.With(prometheus.Labels{"status": status}).Inc()
}

func EventDropped() {
	eventsDropped.Inc()
}
