// ABOUTME: Process-scoped owner of the single realtime connection
// ABOUTME: Idempotent open per identity, real teardown on logout, shared subscribe/send

package transport

import (
	"log/slog"
	"sync"

	"github.com/peerly/mentorsync/internal/config"
	"github.com/peerly/mentorsync/internal/dispatch"
	"github.com/peerly/mentorsync/internal/session"
)

// Manager owns the one Conn shared by every consumer in the process. It is
// the only component allowed to open or close the connection; everything
// else subscribes and sends through it.
type Manager struct {
	cfg    config.RealtimeConfig
	table  *dispatch.Table
	logger *slog.Logger

	mu   sync.Mutex
	conn *Conn

	// listeners has its own lock: state hooks fire while mu is held
	// during the initial dial.
	lmu       sync.Mutex
	listeners []func(State)
}

// NewManager creates a manager around the given handler table.
// Pass nil logger for default.
func NewManager(cfg config.RealtimeConfig, table *dispatch.Table, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		cfg:    cfg,
		table:  table,
		logger: logger.With("component", "transport_manager"),
	}
}

// Open establishes the connection for the given identity. Idempotent: if a
// connection already exists it is returned unchanged, regardless of how many
// consumers call Open. Callers must not invoke Open without a valid
// identity; doing so is logged and rejected.
func (m *Manager) Open(identity *session.Identity) (*Conn, error) {
	if !identity.Valid() {
		m.logger.Warn("open called without a session identity")
		return nil, ErrNoIdentity
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.conn != nil && m.conn.State() != StateClosed {
		return m.conn, nil
	}

	conn := newConn(Options{
		URL:                  m.cfg.URL,
		Identity:             identity,
		MaxReconnectAttempts: m.cfg.MaxReconnectAttempts,
		ReconnectBaseDelay:   m.cfg.ReconnectBaseDelay,
		HandshakeTimeout:     m.cfg.HandshakeTimeout,
		OnState:              m.fanoutState,
		Logger:               m.logger,
	}, m.table)

	if err := conn.dial(); err != nil {
		return nil, err
	}

	m.conn = conn
	m.logger.Info("realtime connection opened", "user_id", identity.UserID)
	return conn, nil
}

// Close tears down the connection and clears every registered handler. This
// is the logout path; unlike the UI-fragment unmount path, it really closes.
// Idempotent.
func (m *Manager) Close() {
	m.mu.Lock()
	conn := m.conn
	m.conn = nil
	m.mu.Unlock()

	if conn != nil {
		conn.Close()
		m.logger.Info("realtime connection closed")
	}
	m.table.Reset()
}

// Send emits an event on the live connection, fire-and-forget.
func (m *Manager) Send(event string, payload any) error {
	m.mu.Lock()
	conn := m.conn
	m.mu.Unlock()

	if conn == nil {
		return ErrConnClosed
	}
	return conn.Send(event, payload)
}

// Subscribe registers handler for event on the shared connection. The
// lifecycle guard ensures at most one handler per event name: re-subscribing
// replaces, never stacks.
func (m *Manager) Subscribe(event string, handler dispatch.Handler) {
	m.table.Register(event, handler)
}

// Unsubscribe removes the handler for event, if any.
func (m *Manager) Unsubscribe(event string) {
	m.table.Unregister(event)
}

// OnState registers a listener for connection state transitions. Listeners
// added after the connection is open do not receive a synthetic replay of
// the current state; read State() for that.
func (m *Manager) OnState(fn func(State)) {
	m.lmu.Lock()
	defer m.lmu.Unlock()
	m.listeners = append(m.listeners, fn)
}

// State returns the current connection state, or StateClosed when no
// connection has been opened.
func (m *Manager) State() State {
	m.mu.Lock()
	conn := m.conn
	m.mu.Unlock()

	if conn == nil {
		return StateClosed
	}
	return conn.State()
}

// fanoutState relays a connection state change to every listener.
func (m *Manager) fanoutState(s State) {
	m.lmu.Lock()
	listeners := make([]func(State), len(m.listeners))
	copy(listeners, m.listeners)
	m.lmu.Unlock()

	for _, fn := range listeners {
		fn(s)
	}
}
