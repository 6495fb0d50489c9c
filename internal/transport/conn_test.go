// ABOUTME: Tests for the websocket transport and its manager
// ABOUTME: Covers idempotent open, event dispatch, reconnection, and terminal closure

package transport

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/peerly/mentorsync/internal/config"
	"github.com/peerly/mentorsync/internal/dispatch"
	"github.com/peerly/mentorsync/internal/session"
)

// fakeServer is a minimal realtime endpoint: it upgrades, records the
// connection metadata, and funnels inbound envelopes to a channel.
type fakeServer struct {
	t        *testing.T
	srv      *httptest.Server
	upgrader websocket.Upgrader

	mu        sync.Mutex
	conns     []*websocket.Conn
	userID    string
	authHdr   string
	dials     atomic.Int32
	attempts  atomic.Int32
	rejectAll atomic.Bool
	rejectN   atomic.Int32

	inbound chan Envelope
}

func newFakeServer(t *testing.T) *fakeServer {
	t.Helper()
	fs := &fakeServer{t: t, inbound: make(chan Envelope, 64)}
	fs.srv = httptest.NewServer(http.HandlerFunc(fs.handle))
	t.Cleanup(fs.srv.Close)
	return fs
}

func (fs *fakeServer) handle(w http.ResponseWriter, r *http.Request) {
	fs.attempts.Add(1)
	if fs.rejectAll.Load() {
		http.Error(w, "go away", http.StatusForbidden)
		return
	}
	if fs.rejectN.Load() > 0 {
		fs.rejectN.Add(-1)
		http.Error(w, "not yet", http.StatusServiceUnavailable)
		return
	}

	ws, err := fs.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	fs.dials.Add(1)

	fs.mu.Lock()
	fs.userID = r.URL.Query().Get("user_id")
	fs.authHdr = r.Header.Get("Authorization")
	fs.conns = append(fs.conns, ws)
	fs.mu.Unlock()

	for {
		var env Envelope
		if err := ws.ReadJSON(&env); err != nil {
			return
		}
		fs.inbound <- env
	}
}

func (fs *fakeServer) url() string {
	return "ws" + strings.TrimPrefix(fs.srv.URL, "http")
}

// push sends an envelope to the most recent client connection.
func (fs *fakeServer) push(event string, payload any) {
	raw, err := json.Marshal(payload)
	require.NoError(fs.t, err)

	fs.mu.Lock()
	defer fs.mu.Unlock()
	require.NotEmpty(fs.t, fs.conns, "no client connected")
	ws := fs.conns[len(fs.conns)-1]
	require.NoError(fs.t, ws.WriteJSON(Envelope{Event: event, Payload: raw}))
}

// dropAll severs every client connection, simulating a transport drop.
func (fs *fakeServer) dropAll() {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	for _, ws := range fs.conns {
		ws.Close()
	}
	fs.conns = nil
}

func testIdentity() *session.Identity {
	return &session.Identity{UserID: "u1", Token: "tok-123"}
}

func testManager(t *testing.T, fs *fakeServer) *Manager {
	t.Helper()
	cfg := config.RealtimeConfig{
		URL:                  fs.url(),
		MaxReconnectAttempts: 5,
		ReconnectBaseDelay:   10 * time.Millisecond,
		HandshakeTimeout:     time.Second,
	}
	return NewManager(cfg, dispatch.NewTable(nil), nil)
}

func waitState(t *testing.T, states <-chan State, want State) {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case s := <-states:
			if s == want {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for state %q", want)
		}
	}
}

func TestManager_OpenPassesIdentityMetadata(t *testing.T) {
	fs := newFakeServer(t)
	m := testManager(t, fs)
	defer m.Close()

	_, err := m.Open(testIdentity())
	require.NoError(t, err)

	fs.mu.Lock()
	defer fs.mu.Unlock()
	assert.Equal(t, "u1", fs.userID)
	assert.Equal(t, "Bearer tok-123", fs.authHdr)
}

func TestManager_OpenIsIdempotent(t *testing.T) {
	fs := newFakeServer(t)
	m := testManager(t, fs)
	defer m.Close()

	c1, err := m.Open(testIdentity())
	require.NoError(t, err)
	c2, err := m.Open(testIdentity())
	require.NoError(t, err)

	assert.Same(t, c1, c2, "second open must return the existing connection")
	assert.Equal(t, int32(1), fs.dials.Load())
}

func TestManager_OpenWithoutIdentity(t *testing.T) {
	fs := newFakeServer(t)
	m := testManager(t, fs)

	_, err := m.Open(nil)
	assert.ErrorIs(t, err, ErrNoIdentity)

	_, err = m.Open(&session.Identity{})
	assert.ErrorIs(t, err, ErrNoIdentity)
}

func TestManager_OpenDialFailureRetriesThenCloses(t *testing.T) {
	fs := newFakeServer(t)
	fs.rejectAll.Store(true)
	m := testManager(t, fs)

	_, err := m.Open(testIdentity())
	require.Error(t, err)
	assert.Equal(t, StateClosed, m.State())

	// The initial handshake plus every backoff attempt hit the server.
	assert.Equal(t, int32(6), fs.attempts.Load())
}

func TestManager_OpenRecoversFromTransientDialFailure(t *testing.T) {
	fs := newFakeServer(t)
	fs.rejectN.Store(2)
	m := testManager(t, fs)
	defer m.Close()

	conn, err := m.Open(testIdentity())
	require.NoError(t, err)
	assert.Equal(t, StateConnected, conn.State())
	assert.Equal(t, int32(3), fs.attempts.Load())

	// The recovered connection carries events.
	got := make(chan json.RawMessage, 1)
	m.Subscribe(EventNewMessage, func(p json.RawMessage) { got <- p })
	fs.push(EventNewMessage, map[string]string{"id": "m1"})

	select {
	case <-got:
	case <-time.After(2 * time.Second):
		t.Fatal("no event after recovered dial")
	}
}

func TestManager_SubscribedHandlerReceivesEvents(t *testing.T) {
	fs := newFakeServer(t)
	m := testManager(t, fs)
	defer m.Close()

	got := make(chan json.RawMessage, 1)
	m.Subscribe(EventRosterUpdate, func(payload json.RawMessage) {
		got <- payload
	})

	_, err := m.Open(testIdentity())
	require.NoError(t, err)

	fs.push(EventRosterUpdate, []string{"u2", "u3"})

	select {
	case payload := <-got:
		assert.JSONEq(t, `["u2","u3"]`, string(payload))
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for roster event")
	}
}

func TestManager_SendReachesServer(t *testing.T) {
	fs := newFakeServer(t)
	m := testManager(t, fs)
	defer m.Close()

	_, err := m.Open(testIdentity())
	require.NoError(t, err)

	require.NoError(t, m.Send(EventSendMessage, map[string]string{"body": "hi"}))

	select {
	case env := <-fs.inbound:
		assert.Equal(t, EventSendMessage, env.Event)
		assert.JSONEq(t, `{"body":"hi"}`, string(env.Payload))
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for sent event")
	}
}

func TestManager_SendWithoutOpen(t *testing.T) {
	fs := newFakeServer(t)
	m := testManager(t, fs)

	assert.ErrorIs(t, m.Send(EventSendMessage, nil), ErrConnClosed)
}

func TestConn_ReconnectsAfterDrop(t *testing.T) {
	fs := newFakeServer(t)
	m := testManager(t, fs)
	defer m.Close()

	states := make(chan State, 16)
	m.OnState(func(s State) { states <- s })

	_, err := m.Open(testIdentity())
	require.NoError(t, err)

	fs.dropAll()
	waitState(t, states, StateReconnecting)
	waitState(t, states, StateConnected)

	assert.GreaterOrEqual(t, fs.dials.Load(), int32(2))

	// Events flow on the new socket.
	got := make(chan json.RawMessage, 1)
	m.Subscribe(EventNewMessage, func(p json.RawMessage) { got <- p })
	fs.push(EventNewMessage, map[string]string{"id": "m1"})

	select {
	case <-got:
	case <-time.After(2 * time.Second):
		t.Fatal("no event after reconnect")
	}
}

func TestConn_BuffersSendsDuringReconnect(t *testing.T) {
	fs := newFakeServer(t)
	m := testManager(t, fs)
	defer m.Close()

	states := make(chan State, 16)
	m.OnState(func(s State) { states <- s })

	_, err := m.Open(testIdentity())
	require.NoError(t, err)

	fs.dropAll()
	waitState(t, states, StateReconnecting)

	require.NoError(t, m.Send(EventSendMessage, map[string]string{"body": "buffered"}))

	waitState(t, states, StateConnected)

	select {
	case env := <-fs.inbound:
		assert.JSONEq(t, `{"body":"buffered"}`, string(env.Payload))
	case <-time.After(2 * time.Second):
		t.Fatal("buffered event never flushed")
	}
}

func TestConn_ConcurrentSendsDuringFlush(t *testing.T) {
	fs := newFakeServer(t)
	m := testManager(t, fs)
	defer m.Close()

	states := make(chan State, 16)
	m.OnState(func(s State) { states <- s })

	_, err := m.Open(testIdentity())
	require.NoError(t, err)

	fs.dropAll()
	waitState(t, states, StateReconnecting)

	const buffered = 10
	for i := 0; i < buffered; i++ {
		require.NoError(t, m.Send(EventSendMessage, map[string]int{"n": i}))
	}

	// Fire sends the moment the new socket is live so they overlap with the
	// flush of the buffered events. Every write shares one socket; the frames
	// must all arrive intact.
	waitState(t, states, StateConnected)
	const concurrent = 50
	var wg sync.WaitGroup
	for i := 0; i < concurrent; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, m.Send(EventSendMessage, map[string]int{"n": buffered + i}))
		}()
	}
	wg.Wait()

	received := 0
	deadline := time.After(3 * time.Second)
	for received < buffered+concurrent {
		select {
		case env := <-fs.inbound:
			assert.Equal(t, EventSendMessage, env.Event)
			received++
		case <-deadline:
			t.Fatalf("received %d of %d envelopes", received, buffered+concurrent)
		}
	}
}

func TestConn_TerminalAfterExhaustedAttempts(t *testing.T) {
	fs := newFakeServer(t)
	cfg := config.RealtimeConfig{
		URL:                  fs.url(),
		MaxReconnectAttempts: 2,
		ReconnectBaseDelay:   5 * time.Millisecond,
		HandshakeTimeout:     time.Second,
	}
	m := NewManager(cfg, dispatch.NewTable(nil), nil)

	states := make(chan State, 16)
	m.OnState(func(s State) { states <- s })

	_, err := m.Open(testIdentity())
	require.NoError(t, err)

	// Refuse all further dials, then sever the live socket.
	fs.rejectAll.Store(true)
	fs.dropAll()

	waitState(t, states, StateClosed)
	assert.Equal(t, StateClosed, m.State())
	assert.ErrorIs(t, m.Send(EventSendMessage, nil), ErrConnClosed)
}

func TestManager_CloseTearsDownAndResetsHandlers(t *testing.T) {
	fs := newFakeServer(t)
	table := dispatch.NewTable(nil)
	cfg := config.RealtimeConfig{
		URL:                  fs.url(),
		MaxReconnectAttempts: 5,
		ReconnectBaseDelay:   10 * time.Millisecond,
		HandshakeTimeout:     time.Second,
	}
	m := NewManager(cfg, table, nil)

	m.Subscribe(EventNewMessage, func(json.RawMessage) {})
	_, err := m.Open(testIdentity())
	require.NoError(t, err)

	m.Close()
	m.Close() // idempotent

	assert.Equal(t, StateClosed, m.State())
	assert.False(t, table.Has(EventNewMessage), "logout must clear registered handlers")
}
