// Package store is the local conversation cache: durable messages persisted
// client-side so an opened conversation renders instantly while the history
// fetch is in flight, and remains readable when the transport is down.
// SQLiteStore (modernc.org/sqlite, pure Go) backs normal use; MemoryStore
// backs tests and cacheless configurations.
package store
