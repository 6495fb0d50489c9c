// ABOUTME: In-memory implementation of the conversation cache
// ABOUTME: Used in tests and when no cache path is configured

package store

import (
	"context"
	"slices"
	"strings"
	"sync"

	"github.com/peerly/mentorsync/internal/timeline"
)

// MemoryStore implements Store with plain maps. Safe for concurrent use.
type MemoryStore struct {
	mu            sync.RWMutex
	conversations map[string]map[string]timeline.Message // counterparty -> id -> message
	closed        bool
}

// NewMemoryStore creates an empty in-memory cache.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		conversations: make(map[string]map[string]timeline.Message),
	}
}

// SaveMessages upserts durable messages, ignoring ids already present.
func (s *MemoryStore) SaveMessages(_ context.Context, counterpartyID string, msgs []timeline.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}

	conv, ok := s.conversations[counterpartyID]
	if !ok {
		conv = make(map[string]timeline.Message)
		s.conversations[counterpartyID] = conv
	}
	for _, m := range msgs {
		if m.State != timeline.DeliverySent {
			continue
		}
		if _, exists := conv[m.ID]; !exists {
			conv[m.ID] = m
		}
	}
	return nil
}

// GetMessages returns the newest cached messages in ascending order.
func (s *MemoryStore) GetMessages(_ context.Context, counterpartyID string, limit int) ([]timeline.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrClosed
	}

	conv := s.conversations[counterpartyID]
	if len(conv) == 0 {
		return nil, nil
	}

	msgs := make([]timeline.Message, 0, len(conv))
	for _, m := range conv {
		msgs = append(msgs, m)
	}
	slices.SortFunc(msgs, func(a, b timeline.Message) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})

	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return msgs, nil
}

// DeleteConversation drops a conversation's cached messages.
func (s *MemoryStore) DeleteConversation(_ context.Context, counterpartyID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	delete(s.conversations, counterpartyID)
	return nil
}

// Close marks the store closed. Further operations return ErrClosed.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
