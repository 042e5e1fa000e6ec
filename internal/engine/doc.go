// Package engine wires the local store, change log, autosave schedulers,
// reconciler and session manager into one local-first sync engine.
//
// Event loop:
// Connectivity edges and sync requests are queued and handled one at a time
// by Run, on a single goroutine. An online edge notifies the user and starts
// a reconciliation pass; an offline edge only notifies. Autosave schedulers
// run on their own timers and meet the reconciler only through the store.
//
// Ownership:
// The caller constructs the store, remote and signal sources, passes them in
// and closes the store after Dispose. The engine owns its subscriptions and
// tears them down in Dispose.
package engine
