// ABOUTME: Prometheus counters for conversation lifecycle and timeline handling
// ABOUTME: Registered on the default registry; exposed when the embedder serves promhttp

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	messagesDelivered = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "foyer_messages_delivered_total",
			Help: "Timeline messages delivered to the embedding application, by sender role.",
		},
		[]string{"sender"},
	)

	eventsDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "foyer_events_dropped_total",
			Help: "Timeline events dropped before delivery, by reason.",
		},
		[]string{"reason"},
	)

	roomsCreated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "foyer_rooms_created_total",
			Help: "Conversation rooms created, by department.",
		},
		[]string{"department"},
	)

	roomsResumed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "foyer_rooms_resumed_total",
			Help: "Conversation rooms resumed, by how much repair was needed.",
		},
		[]string{"mode"},
	)

	recoveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "foyer_recoveries_total",
			Help: "Session recovery sweeps, by outcome.",
		},
		[]string{"outcome"},
	)

	guestsProvisioned = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "foyer_guests_provisioned_total",
			Help: "Guest identities created.",
		},
	)

	sessionResets = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "foyer_session_resets_total",
			Help: "Explicit session resets.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		messagesDelivered,
		eventsDropped,
		roomsCreated,
		roomsResumed,
		recoveries,
		guestsProvisioned,
		sessionResets,
	)
}

// MessageDelivered records a message handed to the embedding application.
func MessageDelivered(sender string) {
	messagesDelivered.WithLabelValues(sender).Inc()
}

// EventDropped records a timeline event dropped before delivery.
func EventDropped(reason string) {
	eventsDropped.WithLabelValues(reason).Inc()
}

// RoomCreated records a new conversation room.
func RoomCreated(department string) {
	roomsCreated.WithLabelValues(department).Inc()
}

// RoomResumed records a resumed conversation room. Mode is "active" when the
// room was usable as-is, "rejoined" when a silent rejoin was needed.
func RoomResumed(mode string) {
	roomsResumed.WithLabelValues(mode).Inc()
}

// RecoveryRun records a recovery sweep and its outcome.
func RecoveryRun(outcome string) {
	recoveries.WithLabelValues(outcome).Inc()
}

// GuestProvisioned records a newly created guest identity.
func GuestProvisioned() {
	guestsProvisioned.Inc()
}

// SessionReset records an explicit reset.
func SessionReset() {
	sessionResets.Inc()
}
