// Package presence tracks which counterparties are currently online.
//
// The server sends full roster snapshots, not diffs, so every roster event
// replaces the tracked set wholesale. Presence answers are three-valued:
// unknown before the first snapshot and while the transport is down, then
// online or offline from the latest snapshot. IsOnline collapses that to a
// boolean where false also covers "unknown"; UIs that must distinguish the
// two use Status.
package presence
