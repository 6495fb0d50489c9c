// Package timeline maintains ordered, deduplicated message sequences per
// conversation.
//
// # Overview
//
// Three independent inputs feed a conversation and complete in no guaranteed
// order: optimistic local sends, live transport events, and history fetches.
// The Merger folds all three into a single correct sequence:
//
//   - Inserts are idempotent by message id, so a history fetch racing a live
//     delivery can never duplicate an entry.
//   - Optimistic entries (temporary id, pending state) are reconciled in
//     place when their durable counterpart arrives, matched by the
//     client-generated correlation id.
//   - Ordering is non-decreasing CreatedAt with arrival order preserved on
//     ties, so rapid exchanges never visually reorder.
//
// # Delivery states
//
// A message is pending while its persistence request is in flight, sent once
// the server confirms it, and failed when persistence fails. Failed entries
// stay in the timeline for the UI to mark and retry.
//
// # Redelivery guard
//
// A bounded recently-seen id set drops transport redeliveries after a
// reconnect before they touch conversation state.
package timeline
