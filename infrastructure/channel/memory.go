package channel

import (
	"encoding/json"
	"sync"

	"flowsync/application/ports"
)

// EmittedMessage is one outbound message captured by the in-memory channel.
type EmittedMessage struct {
	Event   string
	Payload json.RawMessage
}

// Memory is an in-process MessageChannel. Tests use it to capture emissions
// and feed acknowledgements back through Deliver.
type Memory struct {
	mu       sync.Mutex
	handlers map[string][]ports.MessageHandler
	emitted  []EmittedMessage
	emitErr  error
	closed   bool
}

// NewMemory creates an in-memory channel.
func NewMemory() *Memory {
	return &Memory{handlers: make(map[string][]ports.MessageHandler)}
}

// Emit captures the message instead of sending it anywhere.
func (m *Memory) Emit(event string, payload interface{}) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.emitErr != nil {
		return m.emitErr
	}
	m.emitted = append(m.emitted, EmittedMessage{Event: event, Payload: raw})
	return nil
}

// On registers a handler for an inbound event.
func (m *Memory) On(event string, handler ports.MessageHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[event] = append(m.handlers[event], handler)
}

// Close marks the channel closed. Idempotent.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Deliver synchronously dispatches an inbound message to the registered
// handlers, simulating the remote authority.
func (m *Memory) Deliver(event string, payload interface{}) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	m.mu.Lock()
	handlers := m.handlers[event]
	m.mu.Unlock()

	for _, h := range handlers {
		h(raw)
	}
	return nil
}

// FailWith makes every subsequent Emit return err. Pass nil to restore
// normal behavior.
func (m *Memory) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.emitErr = err
}

// Emitted returns a copy of the captured emissions.
func (m *Memory) Emitted() []EmittedMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]EmittedMessage, len(m.emitted))
	copy(out, m.emitted)
	return out
}

// EmittedEvents returns just the event names, in emission order.
func (m *Memory) EmittedEvents() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.emitted))
	for i, e := range m.emitted {
		out[i] = e.Event
	}
	return out
}

// ClearEmitted discards captured emissions.
func (m *Memory) ClearEmitted() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.emitted = nil
}

// Closed reports whether Close has been called.
func (m *Memory) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}
