// Package transport owns the single persistent websocket connection shared
// by every realtime consumer in the process.
//
// # Overview
//
// The Manager is the one component allowed to open or close the connection:
//
//	mgr := transport.NewManager(cfg.Realtime, table, logger)
//	conn, err := mgr.Open(identity)
//
// Open is idempotent; any number of consumers may call it and they all share
// the same Conn. Identity is connection-time metadata (user id in the query
// string, bearer token in the handshake headers), not a runtime event.
//
// # Framing
//
// Every frame is an Envelope: an event name plus a raw JSON payload.
// Inbound envelopes are handed to the dispatch table, which guarantees at
// most one handler per event name. Outbound sends are fire-and-forget.
//
// # Reconnection
//
// On a transport-level drop the connection retries with exponential backoff
// up to a configured ceiling (5 attempts in production). Sends during the
// window are buffered and flushed after the next successful handshake. Once
// attempts are exhausted the connection is terminally closed and dependents
// must treat presence data as unknown rather than empty.
//
// # Lifecycle states
//
//	connecting -> connected <-> reconnecting
//	                 \              \
//	                  +-> closed <--+
//
// State transitions are observable via Manager.OnState.
package transport
