// Package docstore provides a persistent, concurrent-safe store of whole JSON
// documents kept as plain files under a root directory.
//
// # Overview
//
// Each document is a single file holding one JSON object. [Store] exposes
// [Store.Read], [Store.Write] and [Store.Update] over named documents; the
// [Repository] interface is what collaborators should depend on.
//
// # Concurrency: Advisory Locks
//
// Every operation runs inside a critical section guarded by a per-document
// advisory lock materialized as a sibling "<name>.lock" file (see [Locker]).
// The lock is honoured by goroutines and by other processes on the same host
// that share the root directory. [Store.Update] holds the lock for the whole
// read-modify-write cycle so concurrent updates never lose each other's
// changes. Acquisition polls with a bounded timeout and fails with
// [ErrLockTimeout].
//
// # Crash Safety
//
// New content is written to a temporary file in the root, synced, then renamed
// over the document while the lock is still held. A reader observes either the
// old or the new content, never a truncated mix.
//
// # File Layout
//
//	<root>/<name>          document content
//	<root>/<name>.lock     lock sentinel, present only during a critical section
//	<root>/.<name>.*.tmp   in-flight write, present only during persist
//
// Names are validated (see [ValidateName]) so the three namespaces never
// overlap.
package docstore
