// ABOUTME: Shared behavioral tests run against both cache implementations
// ABOUTME: Covers upsert-by-id, ordering, limits, and conversation isolation

package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/peerly/mentorsync/internal/timeline"
)

func cachedMsg(id, sender, recipient, body string, atMillis int64) timeline.Message {
	return timeline.Message{
		ID:          id,
		SenderID:    sender,
		RecipientID: recipient,
		Body:        body,
		CreatedAt:   time.UnixMilli(atMillis).UTC(),
		State:       timeline.DeliverySent,
	}
}

// eachStore runs fn once per Store implementation.
func eachStore(t *testing.T, fn func(t *testing.T, s Store)) {
	t.Run("memory", func(t *testing.T) {
		s := NewMemoryStore()
		defer s.Close()
		fn(t, s)
	})

	t.Run("sqlite", func(t *testing.T) {
		s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "cache.db"), nil)
		require.NoError(t, err)
		defer s.Close()
		fn(t, s)
	})
}

func TestStore_SaveAndGet(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		err := s.SaveMessages(ctx, "u2", []timeline.Message{
			cachedMsg("m2", "u1", "u2", "second", 200),
			cachedMsg("m1", "u2", "u1", "first", 100),
		})
		require.NoError(t, err)

		msgs, err := s.GetMessages(ctx, "u2", 0)
		require.NoError(t, err)
		require.Len(t, msgs, 2)
		assert.Equal(t, "m1", msgs[0].ID, "ascending CreatedAt order")
		assert.Equal(t, "m2", msgs[1].ID)
		assert.Equal(t, timeline.DeliverySent, msgs[0].State)
	})
}

func TestStore_UpsertIgnoresExistingIDs(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		require.NoError(t, s.SaveMessages(ctx, "u2", []timeline.Message{
			cachedMsg("m1", "u2", "u1", "original", 100),
		}))
		require.NoError(t, s.SaveMessages(ctx, "u2", []timeline.Message{
			cachedMsg("m1", "u2", "u1", "rewritten", 100),
		}))

		msgs, err := s.GetMessages(ctx, "u2", 0)
		require.NoError(t, err)
		require.Len(t, msgs, 1)
		assert.Equal(t, "original", msgs[0].Body, "cached messages are immutable")
	})
}

func TestStore_PendingMessagesAreNotCached(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		pending := timeline.NewOptimistic("u1", "u2", "in flight")
		require.NoError(t, s.SaveMessages(ctx, "u2", []timeline.Message{pending}))

		msgs, err := s.GetMessages(ctx, "u2", 0)
		require.NoError(t, err)
		assert.Empty(t, msgs)
	})
}

func TestStore_LimitKeepsNewest(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		require.NoError(t, s.SaveMessages(ctx, "u2", []timeline.Message{
			cachedMsg("m1", "u2", "u1", "oldest", 100),
			cachedMsg("m2", "u2", "u1", "middle", 200),
			cachedMsg("m3", "u2", "u1", "newest", 300),
		}))

		msgs, err := s.GetMessages(ctx, "u2", 2)
		require.NoError(t, err)
		require.Len(t, msgs, 2)
		assert.Equal(t, "m2", msgs[0].ID, "newest N, oldest-first")
		assert.Equal(t, "m3", msgs[1].ID)
	})
}

func TestStore_ConversationsAreIsolated(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		require.NoError(t, s.SaveMessages(ctx, "u2", []timeline.Message{
			cachedMsg("m1", "u2", "u1", "for u2", 100),
		}))
		require.NoError(t, s.SaveMessages(ctx, "u3", []timeline.Message{
			cachedMsg("m2", "u3", "u1", "for u3", 100),
		}))

		msgs, err := s.GetMessages(ctx, "u2", 0)
		require.NoError(t, err)
		require.Len(t, msgs, 1)
		assert.Equal(t, "for u2", msgs[0].Body)
	})
}

func TestStore_DeleteConversation(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		require.NoError(t, s.SaveMessages(ctx, "u2", []timeline.Message{
			cachedMsg("m1", "u2", "u1", "hello", 100),
		}))
		require.NoError(t, s.DeleteConversation(ctx, "u2"))

		msgs, err := s.GetMessages(ctx, "u2", 0)
		require.NoError(t, err)
		assert.Empty(t, msgs)
	})
}

func TestStore_EmptyConversation(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		msgs, err := s.GetMessages(context.Background(), "nobody", 0)
		require.NoError(t, err)
		assert.Empty(t, msgs)
	})
}

func TestSQLiteStore_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.db")
	ctx := context.Background()

	s1, err := NewSQLiteStore(path, nil)
	require.NoError(t, err)
	require.NoError(t, s1.SaveMessages(ctx, "u2", []timeline.Message{
		cachedMsg("m1", "u2", "u1", "hello", 100),
	}))
	require.NoError(t, s1.Close())

	s2, err := NewSQLiteStore(path, nil)
	require.NoError(t, err)
	defer s2.Close()

	msgs, err := s2.GetMessages(ctx, "u2", 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "hello", msgs[0].Body)
}

func TestMemoryStore_ClosedReturnsError(t *testing.T) {
	s := NewMemoryStore()
	require.NoError(t, s.Close())

	err := s.SaveMessages(context.Background(), "u2", nil)
	assert.ErrorIs(t, err, ErrClosed)

	_, err = s.GetMessages(context.Background(), "u2", 0)
	assert.ErrorIs(t, err, ErrClosed)
}
