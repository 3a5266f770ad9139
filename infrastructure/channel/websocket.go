// Package channel provides MessageChannel implementations: a websocket
// transport for production and an in-process channel for tests.
package channel

import (
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"flowsync/application/ports"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 512 * 1024 // 512KB

	// Send buffer size
	sendBufferSize = 256

	handshakeTimeout     = 10 * time.Second
	initialReconnectWait = time.Second
)

var errChannelClosed = errors.New("channel closed")

// envelope is the wire framing: every message carries its event name and
// an opaque payload.
type envelope struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Options configures a websocket channel.
type Options struct {
	// Endpoint is the ws:// or wss:// URL of the remote authority.
	Endpoint string
	// Token is the bearer session token presented on connect.
	Token string
	// OnReconnect runs after a dropped connection has been re-established,
	// before any new inbound message is dispatched. The engine uses it to
	// re-request the authoritative snapshot.
	OnReconnect func()
	// MaxReconnectWait caps the reconnect backoff. Defaults to 30s.
	MaxReconnectWait time.Duration
	Logger           *zap.Logger
}

// WebSocket is the production MessageChannel: one connection, a buffered
// write pump with ping keepalive, a read loop dispatching inbound envelopes
// to registered handlers, and automatic reconnection with backoff. Emissions
// pass through a circuit breaker so a dead connection fails fast instead of
// filling the send buffer.
type WebSocket struct {
	opts    Options
	breaker *gobreaker.CircuitBreaker
	logger  *zap.Logger

	mu       sync.Mutex
	handlers map[string][]ports.MessageHandler

	send      chan []byte
	closed    chan struct{}
	closeOnce sync.Once
}

// Dial connects to the endpoint and starts the pumps.
func Dial(opts Options) (*WebSocket, error) {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.MaxReconnectWait <= 0 {
		opts.MaxReconnectWait = 30 * time.Second
	}

	c := &WebSocket{
		opts:     opts,
		logger:   opts.Logger.With(zap.String("endpoint", opts.Endpoint)),
		handlers: make(map[string][]ports.MessageHandler),
		send:     make(chan []byte, sendBufferSize),
		closed:   make(chan struct{}),
	}
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "channel-emit",
		MaxRequests: 5,
		Interval:    30 * time.Second,
		Timeout:     15 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 5 {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= 0.8
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.logger.Warn("circuit breaker state changed",
				zap.String("name", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})

	conn, err := c.connect()
	if err != nil {
		return nil, err
	}
	go c.run(conn)
	return c, nil
}

// Emit frames the payload and queues it for the write pump.
func (c *WebSocket) Emit(event string, payload interface{}) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	data, err := json.Marshal(envelope{Event: event, Payload: raw})
	if err != nil {
		return err
	}

	_, err = c.breaker.Execute(func() (interface{}, error) {
		select {
		case c.send <- data:
			return nil, nil
		case <-c.closed:
			return nil, errChannelClosed
		case <-time.After(writeWait):
			return nil, errors.New("send buffer full")
		}
	})
	return err
}

// On registers a handler for an inbound event. Handlers for one event run
// in registration order on the read goroutine, so dispatch preserves the
// arrival order of messages.
func (c *WebSocket) On(event string, handler ports.MessageHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[event] = append(c.handlers[event], handler)
}

// SetOnReconnect replaces the reconnect callback. The channel is dialed
// before the engine exists, so the callback is bound late.
func (c *WebSocket) SetOnReconnect(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.opts.OnReconnect = fn
}

func (c *WebSocket) onReconnect() func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.opts.OnReconnect
}

// Close stops the pumps and closes the connection. Idempotent.
func (c *WebSocket) Close() error {
	c.closeOnce.Do(func() {
		close(c.closed)
	})
	return nil
}

func (c *WebSocket) connect() (*websocket.Conn, error) {
	header := http.Header{}
	if c.opts.Token != "" {
		header.Set("Authorization", "Bearer "+c.opts.Token)
	}
	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, resp, err := dialer.Dial(c.opts.Endpoint, header)
	if err != nil {
		if resp != nil {
			c.logger.Error("websocket handshake failed",
				zap.Int("status", resp.StatusCode), zap.Error(err))
		}
		return nil, err
	}
	return conn, nil
}

// run owns the connection lifecycle: pumps for the current connection,
// then backoff reconnection until Close.
func (c *WebSocket) run(conn *websocket.Conn) {
	for {
		done := make(chan struct{})
		go c.writePump(conn, done)
		c.readPump(conn)
		close(done)
		conn.Close()

		select {
		case <-c.closed:
			return
		default:
		}

		conn = c.reconnect()
		if conn == nil {
			return
		}
		if fn := c.onReconnect(); fn != nil {
			fn()
		}
	}
}

func (c *WebSocket) reconnect() *websocket.Conn {
	wait := initialReconnectWait
	for {
		select {
		case <-c.closed:
			return nil
		case <-time.After(wait):
		}

		conn, err := c.connect()
		if err == nil {
			c.logger.Info("websocket reconnected")
			return conn
		}
		c.logger.Warn("reconnect failed", zap.Duration("next_attempt", wait), zap.Error(err))
		wait *= 2
		if wait > c.opts.MaxReconnectWait {
			wait = c.opts.MaxReconnectWait
		}
	}
}

// readPump pumps messages from the connection to the handlers. Returns when
// the connection drops.
func (c *WebSocket) readPump(conn *websocket.Conn) {
	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		messageType, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Error("websocket read error", zap.Error(err))
			}
			return
		}
		if messageType != websocket.TextMessage {
			c.logger.Warn("binary messages not supported")
			continue
		}

		var env envelope
		if err := json.Unmarshal(message, &env); err != nil {
			c.logger.Error("malformed envelope", zap.Error(err))
			continue
		}
		c.dispatch(env)
	}
}

func (c *WebSocket) dispatch(env envelope) {
	c.mu.Lock()
	handlers := c.handlers[env.Event]
	c.mu.Unlock()

	if len(handlers) == 0 {
		c.logger.Debug("no handler for event", zap.String("event", env.Event))
		return
	}
	for _, h := range handlers {
		h(env.Payload)
	}
}

// writePump pumps queued messages to the connection and keeps it alive with
// pings. Returns when the connection drops or the channel closes.
func (c *WebSocket) writePump(conn *websocket.Conn, done chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case message := <-c.send:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.logger.Error("failed to write message", zap.Error(err))
				return
			}

			// Drain queued messages into the same write window.
			n := len(c.send)
			for i := 0; i < n; i++ {
				if err := conn.WriteMessage(websocket.TextMessage, <-c.send); err != nil {
					c.logger.Error("failed to write batched message", zap.Error(err))
					return
				}
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logger.Error("failed to send ping", zap.Error(err))
				return
			}

		case <-done:
			return

		case <-c.closed:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}
