// Package dispatch provides the subscription lifecycle guard for the shared
// realtime connection: a last-writer-wins table from event name to handler,
// so repeated attach/detach cycles from short-lived consumers can never stack
// duplicate handlers for the same event.
package dispatch
