// ABOUTME: Per-conversation ordered, deduplicated message sequences
// ABOUTME: Merges optimistic sends, live events, and history fetches into one timeline

package timeline

import (
	"log/slog"
	"sync"
	"time"
)

const (
	// seenTTL and seenMaxSize bound the redelivery guard. Ten minutes
	// comfortably covers the transport's reconnection buffering.
	seenTTL     = 10 * time.Minute
	seenMaxSize = 4096

	// reconcileWindow is how far apart an optimistic timestamp and its
	// durable echo may be for the content-match fallback to pair them.
	reconcileWindow = 2 * time.Minute
)

// conversationState holds one counterparty's message sequence.
// messages stays sorted by CreatedAt with arrival order preserved on ties.
type conversationState struct {
	messages []Message
	byID     map[string]struct{}
}

// Merger owns every conversation's message sequence. All mutation goes
// through its methods; no other component writes to a sequence directly.
//
// Three inputs feed a conversation and may interleave in any order:
// optimistic local sends, live transport events, and history fetches. The
// merger keeps one correct sequence regardless of interleaving by treating
// inserts as idempotent by id and reconciling optimistic entries in place.
type Merger struct {
	mu            sync.RWMutex
	conversations map[string]*conversationState
	seen          *seenSet
	logger        *slog.Logger
}

// NewMerger creates an empty merger. Pass nil logger for default.
func NewMerger(logger *slog.Logger) *Merger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Merger{
		conversations: make(map[string]*conversationState),
		seen:          newSeenSet(seenTTL, seenMaxSize),
		logger:        logger.With("component", "merger"),
	}
}

// AppendIncoming inserts a server-confirmed message delivered on the live
// transport. Redeliveries and messages already present (for example because
// a history fetch raced the live event) are dropped; the insert is
// idempotent by id. If the message carries a correlation id matching a
// pending optimistic entry, that entry is reconciled in place instead of a
// second copy being appended. Returns true if the sequence changed.
func (g *Merger) AppendIncoming(counterpartyID string, m Message) bool {
	if g.seen.observe(m.ID) {
		g.logger.Debug("dropping redelivered message", "message_id", m.ID)
		return false
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	conv := g.conversationLocked(counterpartyID)
	if _, dup := conv.byID[m.ID]; dup {
		return false
	}

	m.State = DeliverySent
	if conv.reconcileLocked(m) {
		g.logger.Debug("live echo reconciled optimistic entry",
			"message_id", m.ID,
			"correlation_id", m.CorrelationID)
		return true
	}

	conv.insertOrderedLocked(m)
	return true
}

// AppendOptimistic inserts a locally-originated message so the sender sees
// instant feedback. The entry carries a temporary id and pending state until
// Reconcile (or a live echo) replaces it with the durable version.
func (g *Merger) AppendOptimistic(counterpartyID string, m Message) {
	g.mu.Lock()
	defer g.mu.Unlock()

	conv := g.conversationLocked(counterpartyID)
	conv.insertOrderedLocked(m)
}

// Reconcile replaces the optimistic entry matching durable with the durable
// message, in place, so the sender's view never shows both. Matching is by
// correlation id; when the server echo lacks one, a pending entry with the
// same participants and body within reconcileWindow is accepted instead.
// If nothing matches (for example the live echo already reconciled it), the
// durable message is inserted idempotently by id.
func (g *Merger) Reconcile(counterpartyID string, durable Message) {
	g.mu.Lock()
	defer g.mu.Unlock()

	conv := g.conversationLocked(counterpartyID)
	if _, dup := conv.byID[durable.ID]; dup {
		return
	}

	durable.State = DeliverySent
	if conv.reconcileLocked(durable) {
		return
	}

	conv.insertOrderedLocked(durable)
}

// MarkFailed flags the optimistic entry with the given correlation id as
// failed. The entry stays visible so the UI can surface a retry affordance
// rather than pretending the send succeeded. Returns false if no pending
// entry carries that correlation id.
func (g *Merger) MarkFailed(counterpartyID, correlationID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	conv := g.conversationLocked(counterpartyID)
	for i := len(conv.messages) - 1; i >= 0; i-- {
		msg := &conv.messages[i]
		if msg.CorrelationID == correlationID && msg.State == DeliveryPending {
			msg.State = DeliveryFailed
			return true
		}
	}
	return false
}

// MergeHistory folds a history-fetch result into the conversation. Inserts
// are idempotent by id: messages that already arrived live or optimistically
// are left where they are, never duplicated and never discarded. Returns the
// number of messages actually added.
func (g *Merger) MergeHistory(counterpartyID string, history []Message) int {
	g.mu.Lock()
	defer g.mu.Unlock()

	conv := g.conversationLocked(counterpartyID)
	added := 0
	for _, m := range history {
		if _, dup := conv.byID[m.ID]; dup {
			continue
		}
		m.State = DeliverySent
		if conv.reconcileLocked(m) {
			continue
		}
		conv.insertOrderedLocked(m)
		added++
	}
	return added
}

// Messages returns a copy of the conversation's current sequence in
// presentation order.
func (g *Merger) Messages(counterpartyID string) []Message {
	g.mu.RLock()
	defer g.mu.RUnlock()

	conv, ok := g.conversations[counterpartyID]
	if !ok {
		return nil
	}
	out := make([]Message, len(conv.messages))
	copy(out, conv.messages)
	return out
}

// Clear empties a conversation's sequence without destroying the
// conversation itself. A later history fetch repopulates it; live
// redeliveries of already-seen ids stay suppressed by the seen set.
func (g *Merger) Clear(counterpartyID string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	conv, ok := g.conversations[counterpartyID]
	if !ok {
		return
	}
	conv.messages = conv.messages[:0]
	conv.byID = make(map[string]struct{})
}

// conversationLocked returns the state for counterpartyID, creating it on
// first use. Must be called with mu held.
func (g *Merger) conversationLocked(counterpartyID string) *conversationState {
	conv, ok := g.conversations[counterpartyID]
	if !ok {
		conv = &conversationState{byID: make(map[string]struct{})}
		g.conversations[counterpartyID] = conv
	}
	return conv
}

// insertOrderedLocked places m so the sequence stays sorted by CreatedAt,
// with ties keeping arrival order: the new message goes after every existing
// message with an equal or earlier timestamp. Scanning from the tail makes
// the common case (append of the newest message) O(1).
func (c *conversationState) insertOrderedLocked(m Message) {
	i := len(c.messages)
	for i > 0 && c.messages[i-1].CreatedAt.After(m.CreatedAt) {
		i--
	}

	c.messages = append(c.messages, Message{})
	copy(c.messages[i+1:], c.messages[i:])
	c.messages[i] = m
	c.byID[m.ID] = struct{}{}
}

// reconcileLocked tries to replace a pending optimistic entry with durable.
// Primary match is the correlation id; the content fallback covers servers
// that do not echo it. The durable message takes over the optimistic entry's
// slot so the sender's view does not jump. Returns true if a replacement
// happened.
func (c *conversationState) reconcileLocked(durable Message) bool {
	idx := -1
	if durable.CorrelationID != "" {
		for i := len(c.messages) - 1; i >= 0; i-- {
			msg := &c.messages[i]
			if msg.CorrelationID == durable.CorrelationID && msg.State != DeliverySent {
				idx = i
				break
			}
		}
	} else {
		for i := len(c.messages) - 1; i >= 0; i-- {
			msg := &c.messages[i]
			if msg.State == DeliveryPending &&
				msg.SenderID == durable.SenderID &&
				msg.RecipientID == durable.RecipientID &&
				msg.Body == durable.Body &&
				absDuration(msg.CreatedAt.Sub(durable.CreatedAt)) <= reconcileWindow {
				idx = i
				break
			}
		}
	}

	if idx < 0 {
		return false
	}

	delete(c.byID, c.messages[idx].ID)
	c.messages[idx] = durable
	c.byID[durable.ID] = struct{}{}
	return true
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
