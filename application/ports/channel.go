// Package ports defines the interfaces through which the synchronization
// core reaches the outside world. This is a port in hexagonal architecture -
// the core doesn't know about the implementation.
package ports

import "encoding/json"

// MessageHandler receives the raw payload of a named inbound message.
type MessageHandler func(payload json.RawMessage)

// MessageChannel is the bidirectional, named-event transport to the remote
// authority. Emission is fire-and-forget: acknowledgements arrive later as
// independent inbound messages, unordered and at-least-once.
type MessageChannel interface {
	// Emit sends a named message. The error covers local submission only,
	// never remote processing.
	Emit(event string, payload interface{}) error

	// On subscribes a handler for a named inbound message. Handlers for the
	// same event run in registration order.
	On(event string, handler MessageHandler)

	// Close tears down the transport and drops all subscriptions. No
	// in-flight operation is guaranteed to complete afterwards.
	Close() error
}

// SessionContext is the key-value identity context an editing session runs
// under. Operations without a graph id are fatal-to-the-operation.
type SessionContext struct {
	UserID  string
	GraphID string
}

// Valid reports whether the context can carry an operation.
func (s SessionContext) Valid() bool {
	return s.GraphID != ""
}
