package sync

import (
	"sync"

	"go.uber.org/zap"
)

// NotificationKind classifies notifications for the rendering layer.
type NotificationKind string

const (
	// NotificationGraphChanged signals that the canonical snapshot moved;
	// subscribers re-read Engine.Snapshot.
	NotificationGraphChanged NotificationKind = "graph:changed"
	// NotificationOperationFailed covers local validation failures and
	// emission errors.
	NotificationOperationFailed NotificationKind = "operation:failed"
	// NotificationRemoteRejected covers acknowledgements with a failed status.
	NotificationRemoteRejected NotificationKind = "remote:rejected"
	// NotificationPasteCompleted is the single summary fired when a paste
	// session finishes.
	NotificationPasteCompleted NotificationKind = "paste:completed"
)

// Notification is one entry in the change-notification stream. The rendering
// layer subscribes to these instead of reading mutable module state.
type Notification struct {
	Kind    NotificationKind `json:"kind"`
	Message string           `json:"message,omitempty"`
	// EntityIDs names the entities the notification is about, when known.
	EntityIDs []string `json:"entity_ids,omitempty"`
}

const subscriberBufferSize = 64

// NotificationHub fans notifications out to subscribers. Delivery is
// best-effort: a subscriber that stops draining loses messages rather than
// blocking the engine.
type NotificationHub struct {
	mu     sync.Mutex
	subs   []chan Notification
	closed bool
	logger *zap.Logger
}

// NewNotificationHub creates a hub.
func NewNotificationHub(logger *zap.Logger) *NotificationHub {
	return &NotificationHub{logger: logger}
}

// Subscribe registers a new subscriber channel.
func (h *NotificationHub) Subscribe() <-chan Notification {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch := make(chan Notification, subscriberBufferSize)
	if h.closed {
		close(ch)
		return ch
	}
	h.subs = append(h.subs, ch)
	return ch
}

// Publish delivers a notification to every subscriber without blocking.
func (h *NotificationHub) Publish(n Notification) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	for _, ch := range h.subs {
		select {
		case ch <- n:
		default:
			h.logger.Warn("notification dropped, subscriber not draining",
				zap.String("kind", string(n.Kind)))
		}
	}
}

// Close closes every subscriber channel. Idempotent.
func (h *NotificationHub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.closed = true
	for _, ch := range h.subs {
		close(ch)
	}
	h.subs = nil
}
