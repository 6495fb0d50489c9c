// ABOUTME: Conversation session: open/close lifecycle, history hydration, optimistic send
// ABOUTME: Keeps history fetches and live traffic converging on one de-duplicated timeline

package realtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"

	"github.com/peerly/mentorsync/internal/timeline"
	"github.com/peerly/mentorsync/internal/transport"
)

// ErrEmptyMessage is returned by Send for whitespace-only bodies.
var ErrEmptyMessage = errors.New("message body is empty")

// Conversation is an open session with one counterparty. At most one
// conversation is active per service; opening a new one closes the previous.
type Conversation struct {
	svc            *Service
	counterpartyID string
	logger         *slog.Logger
	closed         atomic.Bool
}

// OpenConversation opens a session with the counterparty. The timeline is
// seeded from the local cache immediately and hydrated from the history API
// in the background; live messages keep flowing into it throughout. Opening
// the same counterparty again returns a fresh session over the same timeline.
func (s *Service) OpenConversation(ctx context.Context, counterpartyID string) (*Conversation, error) {
	if counterpartyID == "" {
		return nil, errors.New("counterparty id is required")
	}
	if counterpartyID == s.identity.UserID {
		return nil, errors.New("cannot open a conversation with yourself")
	}

	conv := &Conversation{
		svc:            s,
		counterpartyID: counterpartyID,
		logger:         s.logger.With("counterparty_id", counterpartyID),
	}
	s.setActive(conv)

	cached, err := s.cache.GetMessages(ctx, counterpartyID, cacheSeedLimit)
	if err != nil {
		conv.logger.Warn("cache seed failed", "error", err)
	} else if len(cached) > 0 {
		s.merger.MergeHistory(counterpartyID, cached)
	}

	go conv.hydrate()
	return conv, nil
}

// hydrate fetches server history and merges it into the timeline. A response
// that lands after the session was closed is dropped: it belongs to a
// conversation the user has already navigated away from, and a later open of
// the same counterparty runs its own fetch.
func (c *Conversation) hydrate() {
	ctx, cancel := context.WithTimeout(context.Background(), c.svc.cfg.API.RequestTimeout)
	defer cancel()

	history, err := c.svc.client.History(ctx, c.counterpartyID)
	if err != nil {
		c.logger.Warn("history fetch failed, showing cached view", "error", err)
		return
	}
	if c.closed.Load() {
		c.logger.Debug("dropping history response for closed conversation")
		return
	}

	c.svc.merger.MergeHistory(c.counterpartyID, history)
	if err := c.svc.cache.SaveMessages(ctx, c.counterpartyID, history); err != nil {
		c.logger.Warn("caching history failed", "error", err)
	}
}

// Send validates and sends a message. The message appears in the timeline
// immediately in the pending state, is mirrored over the realtime connection,
// and is reconciled against the persisted copy once the API confirms it. On
// persistence failure the entry stays visible, marked failed.
func (c *Conversation) Send(ctx context.Context, body string) (timeline.Message, error) {
	if strings.TrimSpace(body) == "" {
		return timeline.Message{}, ErrEmptyMessage
	}

	optimistic := timeline.NewOptimistic(c.svc.identity.UserID, c.counterpartyID, body)
	c.svc.merger.AppendOptimistic(c.counterpartyID, optimistic)

	if err := c.svc.manager.Send(transport.EventSendMessage, optimistic); err != nil {
		// Fire-and-forget: delivery over the socket is best-effort, the
		// recipient catches up from history either way.
		c.logger.Debug("realtime mirror not sent", "error", err)
	}

	durable, err := c.svc.client.PersistMessage(ctx, c.counterpartyID, optimistic.Body, optimistic.CorrelationID)
	if err != nil {
		c.svc.merger.MarkFailed(c.counterpartyID, optimistic.CorrelationID)
		return optimistic, fmt.Errorf("persisting message: %w", err)
	}

	c.svc.merger.Reconcile(c.counterpartyID, *durable)
	if err := c.svc.cache.SaveMessages(ctx, c.counterpartyID, []timeline.Message{*durable}); err != nil {
		c.logger.Warn("caching sent message failed", "message_id", durable.ID, "error", err)
	}
	return *durable, nil
}

// Messages returns the current ordered timeline of this conversation.
func (c *Conversation) Messages() []timeline.Message {
	return c.svc.merger.Messages(c.counterpartyID)
}

// CounterpartyID returns the id of the user on the other side.
func (c *Conversation) CounterpartyID() string {
	return c.counterpartyID
}

// Close ends the session and clears the in-memory timeline. Durable messages
// survive in the cache and on the server; unsent optimistic entries do not.
func (c *Conversation) Close() {
	c.svc.deactivate(c)
	c.svc.clearActive(c)
}

func (c *Conversation) markClosed() {
	c.closed.Store(true)
}
