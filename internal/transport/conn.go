// ABOUTME: Single websocket connection with bounded exponential-backoff reconnection
// ABOUTME: Owns the read loop and buffers outbound events across reconnect windows

package transport

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/peerly/mentorsync/internal/session"
)

// Connection errors
var (
	ErrConnClosed  = errors.New("connection closed")
	ErrNoIdentity  = errors.New("no session identity")
	ErrSendDropped = errors.New("send buffer full, event dropped")
)

// State describes the connection lifecycle.
type State string

const (
	// StateConnecting is the initial dial, before the first successful handshake.
	StateConnecting State = "connecting"
	// StateConnected means the websocket is live and events are flowing.
	StateConnected State = "connected"
	// StateReconnecting means the transport dropped and the backoff loop is running.
	// Presence data is stale in this state.
	StateReconnecting State = "reconnecting"
	// StateClosed is terminal: either Close was called or reconnection attempts
	// were exhausted. Dependents must treat presence as unknown, not empty.
	StateClosed State = "closed"
)

// EventSink receives every inbound event. The dispatch table implements it.
type EventSink interface {
	Dispatch(event string, payload json.RawMessage) bool
}

// Options configures a Conn.
type Options struct {
	// URL is the websocket endpoint (ws:// or wss://).
	URL string
	// Identity authenticates the connection. Required.
	Identity *session.Identity
	// MaxReconnectAttempts bounds the backoff loop; 5 in production config.
	MaxReconnectAttempts int
	// ReconnectBaseDelay is doubled on each failed attempt.
	ReconnectBaseDelay time.Duration
	// HandshakeTimeout bounds each dial.
	HandshakeTimeout time.Duration
	// OnState, if set, is called on every state transition. Called from the
	// connection's goroutine; keep it short.
	OnState func(State)
	Logger  *slog.Logger
}

// pendingLimit bounds outbound events buffered while the transport is
// reconnecting. Sends beyond that are dropped, matching the fire-and-forget
// contract.
const pendingLimit = 64

// Conn is one live websocket connection. It is created through the Manager;
// only the Manager opens or closes it. All other components interact through
// Send and the registered event handlers.
type Conn struct {
	opts   Options
	sink   EventSink
	logger *slog.Logger

	mu      sync.Mutex
	ws      *websocket.Conn
	state   State
	pending []Envelope

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// newConn builds an unconnected Conn. The Manager calls dial afterwards.
func newConn(opts Options, sink EventSink) *Conn {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Conn{
		opts:   opts,
		sink:   sink,
		logger: logger.With("component", "transport"),
		state:  StateConnecting,
		done:   make(chan struct{}),
	}
}

// State returns the current lifecycle state.
func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Send emits an event on the live connection, fire-and-forget. While the
// transport is reconnecting the event is buffered and flushed after the next
// successful dial; once the buffer is full or the connection is terminally
// closed, events are dropped with an error.
func (c *Conn) Send(event string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling %s payload: %w", event, err)
	}
	env := Envelope{Event: event, Payload: raw}

	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case StateClosed:
		return ErrConnClosed

	case StateConnected:
		if err := c.ws.WriteJSON(env); err != nil {
			// The read loop will notice the broken socket and reconnect;
			// keep the event for the flush.
			c.bufferLocked(env)
			return nil
		}
		return nil

	default:
		if !c.bufferLocked(env) {
			return ErrSendDropped
		}
		return nil
	}
}

// bufferLocked queues env for the post-reconnect flush. Must hold mu.
func (c *Conn) bufferLocked(env Envelope) bool {
	if len(c.pending) >= pendingLimit {
		c.logger.Warn("send buffer full, dropping event", "event", env.Event)
		return false
	}
	c.pending = append(c.pending, env)
	return true
}

// dial performs the initial connect and starts the read loop. Identity
// travels as connection-time metadata: user id in the query string, the
// access token as a bearer header. A handshake error gets the same bounded
// backoff as a mid-session drop; only exhausting those attempts is terminal.
func (c *Conn) dial() error {
	ws, err := c.dialOnce()
	if err != nil {
		c.logger.Warn("dial failed", "error", err)
		if !c.reconnect() {
			c.transition(StateClosed)
			return err
		}
	} else {
		c.mu.Lock()
		c.ws = ws
		c.mu.Unlock()
		c.transition(StateConnected)
	}

	c.wg.Add(1)
	go c.readLoop()
	return nil
}

// dialOnce attempts a single websocket handshake.
func (c *Conn) dialOnce() (*websocket.Conn, error) {
	u, err := url.Parse(c.opts.URL)
	if err != nil {
		return nil, fmt.Errorf("parsing transport url: %w", err)
	}
	q := u.Query()
	q.Set("user_id", c.opts.Identity.UserID)
	u.RawQuery = q.Encode()

	header := http.Header{}
	if c.opts.Identity.Token != "" {
		header.Set("Authorization", "Bearer "+c.opts.Identity.Token)
	}

	dialer := &websocket.Dialer{
		HandshakeTimeout: c.opts.HandshakeTimeout,
	}

	ws, resp, err := dialer.Dial(u.String(), header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", u.Host, err)
	}
	return ws, nil
}

// readLoop consumes inbound frames until the socket breaks or Close is
// called. On a transport-level drop it runs the bounded reconnect loop; if
// that exhausts its attempts the connection goes terminally closed.
func (c *Conn) readLoop() {
	defer c.wg.Done()

	for {
		c.mu.Lock()
		ws := c.ws
		c.mu.Unlock()

		var env Envelope
		if err := ws.ReadJSON(&env); err != nil {
			if c.closing() {
				return
			}

			c.logger.Warn("transport dropped", "error", err)
			if !c.reconnect() {
				c.transition(StateClosed)
				return
			}
			continue
		}

		if env.Event == "" {
			c.logger.Debug("discarding frame without event name")
			continue
		}
		c.sink.Dispatch(env.Event, env.Payload)
	}
}

// reconnect runs exponential backoff up to MaxReconnectAttempts. Returns
// true once a new socket is live, false when attempts are exhausted or the
// connection was closed meanwhile.
func (c *Conn) reconnect() bool {
	c.transition(StateReconnecting)

	delay := c.opts.ReconnectBaseDelay
	for attempt := 1; attempt <= c.opts.MaxReconnectAttempts; attempt++ {
		select {
		case <-time.After(delay):
		case <-c.done:
			return false
		}

		ws, err := c.dialOnce()
		if err != nil {
			c.logger.Warn("reconnect attempt failed",
				"attempt", attempt,
				"max_attempts", c.opts.MaxReconnectAttempts,
				"error", err)
			delay *= 2
			continue
		}

		c.mu.Lock()
		c.ws = ws
		pending := c.pending
		c.pending = nil
		c.mu.Unlock()

		c.transition(StateConnected)
		c.flush(pending)

		c.logger.Info("transport reconnected", "attempt", attempt)
		return true
	}

	c.logger.Error("reconnect attempts exhausted",
		"max_attempts", c.opts.MaxReconnectAttempts)
	return false
}

// flush writes events buffered during the reconnect window. Holds mu for the
// duration: Send also writes under mu, and gorilla allows only one concurrent
// writer per socket.
func (c *Conn) flush(pending []Envelope) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, env := range pending {
		if err := c.ws.WriteJSON(env); err != nil {
			c.logger.Warn("flush failed, event lost", "event", env.Event)
			return
		}
	}
}

// Close tears the connection down. Idempotent; safe from any goroutine.
func (c *Conn) Close() {
	c.closeOnce.Do(func() {
		close(c.done)

		c.mu.Lock()
		ws := c.ws
		c.mu.Unlock()
		if ws != nil {
			// Best-effort close frame, then drop the socket.
			_ = ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			_ = ws.Close()
		}

		c.transition(StateClosed)
	})
	c.wg.Wait()
}

// closing reports whether Close has been initiated.
func (c *Conn) closing() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// transition swaps the state and fires the OnState hook outside the lock.
func (c *Conn) transition(next State) {
	c.mu.Lock()
	if c.state == next || c.state == StateClosed {
		c.mu.Unlock()
		return
	}
	c.state = next
	hook := c.opts.OnState
	c.mu.Unlock()

	c.logger.Debug("transport state change", "state", string(next))
	if hook != nil {
		hook(next)
	}
}
