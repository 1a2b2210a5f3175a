// Package state persists task execution state across process restarts.
//
// A Store holds per-task records in memory and flushes them to a single
// JSON document on disk. Flushes are batched: Update marks a record
// dirty and the store writes only when the save interval has elapsed or
// enough records are pending. The file is replaced atomically, so a
// crash mid-save leaves the previous document intact.
//
// Concurrent processes coordinate through a sidecar lock file carrying
// a liveness token. An expired token is treated as stale and taken over,
// so a crashed holder never wedges the store permanently.
package state
