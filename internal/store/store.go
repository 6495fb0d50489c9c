// ABOUTME: Local conversation cache interface and errors
// ABOUTME: Lets a freshly opened conversation render before the history fetch resolves

package store

import (
	"context"
	"errors"

	"github.com/peerly/mentorsync/internal/timeline"
)

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("store closed")

// Store caches durable messages per conversation on the client side. It is
// a read accelerator, not the source of truth: the history API wins, and the
// merger's id-idempotent merge makes replaying cached and fetched copies of
// the same message harmless.
//
// Only durable (sent) messages are cached. Pending and failed optimistic
// entries are in-flight UI state and never outlive the process.
type Store interface {
	// SaveMessages upserts durable messages into a conversation's cache.
	// Messages already present (by id) are left untouched.
	SaveMessages(ctx context.Context, counterpartyID string, msgs []timeline.Message) error

	// GetMessages returns the newest cached messages of a conversation in
	// ascending CreatedAt order. limit <= 0 means no limit.
	GetMessages(ctx context.Context, counterpartyID string, limit int) ([]timeline.Message, error)

	// DeleteConversation drops a conversation's cached messages.
	DeleteConversation(ctx context.Context, counterpartyID string) error

	// Close releases any resources held by the store.
	Close() error
}
