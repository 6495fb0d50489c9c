// ABOUTME: Package doc for realtime, the facade the rest of the app talks to
// ABOUTME: Explains the service/conversation split and the single-connection model

// Package realtime ties the synchronization layer together behind one
// facade. A Service is created per authenticated session and owns the shared
// realtime connection, the presence roster, the message timelines, the local
// cache, and the REST client. Consumers never touch those pieces directly:
// presence queries and conversation sessions go through the Service.
//
// At most one Conversation is active at a time; opening a new one closes the
// previous session and clears its in-memory timeline, which is rebuilt from
// the cache and a fresh history fetch on the next open. Messages for
// counterparties without an open session are still recorded, so switching
// conversations never loses traffic. Closing the Service is the logout path
// and tears everything down.
package realtime
