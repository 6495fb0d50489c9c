// ABOUTME: Service facade wiring transport, presence, timeline, cache, and REST together
// ABOUTME: One instance per authenticated session; consumers share it instead of connecting twice

package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/peerly/mentorsync/internal/api"
	"github.com/peerly/mentorsync/internal/config"
	"github.com/peerly/mentorsync/internal/dispatch"
	"github.com/peerly/mentorsync/internal/presence"
	"github.com/peerly/mentorsync/internal/session"
	"github.com/peerly/mentorsync/internal/store"
	"github.com/peerly/mentorsync/internal/timeline"
	"github.com/peerly/mentorsync/internal/transport"
)

// cacheSeedLimit is how many cached messages seed a freshly opened
// conversation before the history fetch resolves.
const cacheSeedLimit = 50

// MessageListener is notified of every message recorded into a timeline,
// including ones for conversations that are not currently open.
type MessageListener func(counterpartyID string, msg timeline.Message)

// Service is the entry point of the realtime layer. It owns the single
// shared connection and every piece of state derived from it.
type Service struct {
	cfg      *config.Config
	identity *session.Identity
	logger   *slog.Logger

	manager *transport.Manager
	tracker *presence.Tracker
	merger  *timeline.Merger
	client  *api.Client
	cache   store.Store

	mu       sync.Mutex
	active   *Conversation
	listener MessageListener
}

// New builds a service for the authenticated user identified by the access
// token. No connection is opened yet; call Connect.
func New(cfg *config.Config, token string, logger *slog.Logger) (*Service, error) {
	if logger == nil {
		logger = slog.Default()
	}

	identity, err := session.FromToken(token)
	if err != nil {
		return nil, fmt.Errorf("deriving session identity: %w", err)
	}

	var cache store.Store
	if cfg.Cache.Path != "" {
		cache, err = store.NewSQLiteStore(cfg.Cache.Path, logger)
		if err != nil {
			return nil, fmt.Errorf("opening conversation cache: %w", err)
		}
	} else {
		cache = store.NewMemoryStore()
	}

	table := dispatch.NewTable(logger)
	return &Service{
		cfg:      cfg,
		identity: identity,
		logger:   logger.With("component", "realtime"),
		manager:  transport.NewManager(cfg.Realtime, table, logger),
		tracker:  presence.NewTracker(logger),
		merger:   timeline.NewMerger(logger),
		client:   api.NewClient(cfg.API, token, logger),
		cache:    cache,
	}, nil
}

// Connect opens the shared connection and wires the standing subscriptions.
// Idempotent: reconnecting consumers reuse the existing connection, and the
// lifecycle guard keeps handlers from stacking no matter how many times the
// subscriptions are re-registered.
func (s *Service) Connect() error {
	if _, err := s.manager.Open(s.identity); err != nil {
		return fmt.Errorf("opening realtime connection: %w", err)
	}

	s.tracker.Bind(s.manager)
	s.manager.Subscribe(transport.EventNewMessage, s.handleNewMessage)
	return nil
}

// Close is the logout path: it tears down the connection, clears every
// handler, and releases the cache. The service is not reusable afterwards.
func (s *Service) Close() error {
	s.manager.Close()
	return s.cache.Close()
}

// UserID returns the authenticated user's id.
func (s *Service) UserID() string {
	return s.identity.UserID
}

// ConnectionState exposes the transport lifecycle state.
func (s *Service) ConnectionState() transport.State {
	return s.manager.State()
}

// OnConnectionState registers a listener for transport state transitions.
func (s *Service) OnConnectionState(fn func(transport.State)) {
	s.manager.OnState(fn)
}

// Status returns the three-valued presence of a counterparty.
func (s *Service) Status(counterpartyID string) presence.Status {
	return s.tracker.Status(counterpartyID)
}

// IsOnline reports whether a counterparty is known to be online. False also
// covers "presence unknown"; use Status to distinguish.
func (s *Service) IsOnline(counterpartyID string) bool {
	return s.tracker.IsOnline(counterpartyID)
}

// PresenceKnown reports whether the roster reflects live server state. False
// before the first snapshot and while the roster is stale after a transport
// drop; in both cases Status answers unknown.
func (s *Service) PresenceKnown() bool {
	return s.tracker.Known()
}

// ForgetConversation drops a conversation's timeline and its cached history.
// The server copy is untouched; a later open re-fetches it.
func (s *Service) ForgetConversation(ctx context.Context, counterpartyID string) error {
	s.merger.Clear(counterpartyID)
	if err := s.cache.DeleteConversation(ctx, counterpartyID); err != nil {
		return fmt.Errorf("dropping cached conversation: %w", err)
	}
	return nil
}

// OnlineUsers returns the online roster enriched with profile data. Users
// whose profile lookup fails are returned with just their id; presence
// correctness never depends on the profile API.
func (s *Service) OnlineUsers(ctx context.Context) []api.User {
	ids := s.tracker.Snapshot()
	users := make([]api.User, 0, len(ids))
	for _, id := range ids {
		user, err := s.client.GetUser(ctx, id)
		if err != nil {
			s.logger.Debug("profile lookup failed", "user_id", id, "error", err)
			users = append(users, api.User{ID: id})
			continue
		}
		users = append(users, *user)
	}
	return users
}

// SetMessageListener installs the listener notified of recorded messages.
// Replaces any previous listener.
func (s *Service) SetMessageListener(fn MessageListener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listener = fn
}

// handleNewMessage is the standing new_message subscription. Messages are
// recorded for whichever conversation they belong to, open or not; the
// open-panel UI only re-renders for the active one.
func (s *Service) handleNewMessage(payload json.RawMessage) {
	var msg timeline.Message
	if err := json.Unmarshal(payload, &msg); err != nil {
		s.logger.Warn("discarding malformed message payload", "error", err)
		return
	}

	counterpartyID := msg.CounterpartyOf(s.identity.UserID)
	if !s.merger.AppendIncoming(counterpartyID, msg) {
		return
	}

	if err := s.cache.SaveMessages(context.Background(), counterpartyID, []timeline.Message{msg}); err != nil {
		s.logger.Warn("caching message failed", "message_id", msg.ID, "error", err)
	}

	s.mu.Lock()
	listener := s.listener
	s.mu.Unlock()
	if listener != nil {
		listener(counterpartyID, msg)
	}
}

// setActive installs conv as the open conversation, deactivating the
// previous one.
func (s *Service) setActive(conv *Conversation) {
	s.mu.Lock()
	prev := s.active
	s.active = conv
	s.mu.Unlock()

	if prev != nil && prev != conv {
		s.deactivate(prev)
	}
}

// deactivate ends a session and clears its in-memory timeline. Unsent
// optimistic entries go with it; durable messages come back from the cache
// and the history fetch on the next open.
func (s *Service) deactivate(conv *Conversation) {
	conv.markClosed()
	s.merger.Clear(conv.counterpartyID)
}

// clearActive detaches conv if it is still the open conversation.
func (s *Service) clearActive(conv *Conversation) {
	s.mu.Lock()
	if s.active == conv {
		s.active = nil
	}
	s.mu.Unlock()
}

// ActiveCounterparty returns the counterparty id of the open conversation,
// or "" when none is open.
func (s *Service) ActiveCounterparty() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil {
		return ""
	}
	return s.active.counterpartyID
}
