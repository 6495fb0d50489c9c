// ABOUTME: Tracks which counterparties are online from roster snapshot events
// ABOUTME: Three-valued status so reconnect windows are not misreported as offline

package presence

import (
	"encoding/json"
	"log/slog"
	"slices"
	"sync"

	"github.com/peerly/mentorsync/internal/transport"
)

// Status is the three-valued presence answer. A boolean cannot distinguish
// "known offline" from "presence unknown" during reconnect windows, and the
// UI needs to surface that difference.
type Status string

const (
	StatusUnknown Status = "unknown"
	StatusOnline  Status = "online"
	StatusOffline Status = "offline"
)

// phase is the tracker's state machine: unknown until the first roster
// snapshot, populated while snapshots are flowing, stale after a transport
// drop until the next snapshot arrives.
type phase int

const (
	phaseUnknown phase = iota
	phasePopulated
	phaseStale
)

// Tracker owns the online roster. The roster is replaced wholesale on every
// snapshot event; the server sends full snapshots, not diffs, so merging
// would resurrect users who have since gone offline.
type Tracker struct {
	mu     sync.RWMutex
	roster map[string]struct{}
	phase  phase
	logger *slog.Logger
}

// NewTracker creates a tracker with no roster knowledge yet.
// Pass nil logger for default.
func NewTracker(logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		roster: make(map[string]struct{}),
		logger: logger.With("component", "presence"),
	}
}

// Bind subscribes the tracker to roster events and transport state changes
// on the shared connection. Safe to call again after a re-login; the
// lifecycle guard replaces the previous handler.
func (t *Tracker) Bind(m *transport.Manager) {
	m.Subscribe(transport.EventRosterUpdate, t.handleRoster)
	m.OnState(t.handleTransportState)
}

// handleRoster decodes a roster snapshot payload and applies it.
func (t *Tracker) handleRoster(payload json.RawMessage) {
	var ids []string
	if err := json.Unmarshal(payload, &ids); err != nil {
		t.logger.Warn("discarding malformed roster payload", "error", err)
		return
	}
	t.Apply(ids)
}

// handleTransportState marks the roster stale when the transport drops.
// Presence stays stale until the first snapshot after reconnect.
func (t *Tracker) handleTransportState(s transport.State) {
	switch s {
	case transport.StateReconnecting, transport.StateClosed:
		t.MarkStale()
	}
}

// Apply replaces the entire roster with the given snapshot.
func (t *Tracker) Apply(ids []string) {
	roster := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		roster[id] = struct{}{}
	}

	t.mu.Lock()
	t.roster = roster
	t.phase = phasePopulated
	t.mu.Unlock()

	t.logger.Debug("roster replaced", "online", len(ids))
}

// MarkStale flags the current roster as unreliable without discarding it.
func (t *Tracker) MarkStale() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.phase == phasePopulated {
		t.phase = phaseStale
		t.logger.Debug("roster marked stale")
	}
}

// Status returns the three-valued presence of a counterparty. Unknown is
// returned both before the first snapshot and while the roster is stale.
func (t *Tracker) Status(counterpartyID string) Status {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.phase != phasePopulated {
		return StatusUnknown
	}
	if _, ok := t.roster[counterpartyID]; ok {
		return StatusOnline
	}
	return StatusOffline
}

// IsOnline is the boolean convenience query. False covers both "offline"
// and "presence unknown"; callers that must tell those apart use Status.
func (t *Tracker) IsOnline(counterpartyID string) bool {
	return t.Status(counterpartyID) == StatusOnline
}

// Known reports whether the roster currently reflects live server state.
func (t *Tracker) Known() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.phase == phasePopulated
}

// Snapshot returns the online counterparty ids in sorted order. The result
// is only meaningful while Known() is true.
func (t *Tracker) Snapshot() []string {
	t.mu.RLock()
	ids := make([]string, 0, len(t.roster))
	for id := range t.roster {
		ids = append(ids, id)
	}
	t.mu.RUnlock()

	slices.Sort(ids)
	return ids
}
