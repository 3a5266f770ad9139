// Package observability exposes the prometheus metrics of the
// synchronization core.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// MessagesEmitted counts outbound intent messages by event name.
	MessagesEmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "flowsync_messages_emitted_total",
		Help: "Total number of intent messages emitted to the remote authority",
	}, []string{"event"})

	// MessagesReceived counts inbound messages by event name.
	MessagesReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "flowsync_messages_received_total",
		Help: "Total number of messages received from the remote authority",
	}, []string{"event"})

	// EchoesSuppressed counts inbound messages classified as echoes of
	// locally initiated changes.
	EchoesSuppressed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "flowsync_echoes_suppressed_total",
		Help: "Total number of inbound messages matched against pending local changes",
	})

	// DuplicatesDropped counts redelivered bulk-delete acknowledgements
	// dropped by the dedup guard.
	DuplicatesDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "flowsync_duplicates_dropped_total",
		Help: "Total number of duplicate bulk-delete deliveries dropped",
	})

	// PasteSessionsCompleted counts finished clipboard sessions.
	PasteSessionsCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "flowsync_paste_sessions_completed_total",
		Help: "Total number of paste sessions driven to completion",
	})

	// RemoteRejections counts acknowledgements with a failed status.
	RemoteRejections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "flowsync_remote_rejections_total",
		Help: "Total number of failed-status acknowledgements",
	})

	// UndoDepth tracks the current undo stack depth.
	UndoDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "flowsync_undo_depth",
		Help: "Current depth of the undo stack",
	})
)
