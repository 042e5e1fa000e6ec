// Package autosave decides when an in-memory working copy is committed.
//
// Three triggers share one save routine:
//
//   - a debounce timer restarted by every Set, so only the last edit of a
//     burst is written;
//   - a periodic timer that fires regardless of debounce activity;
//   - SaveNow, which cancels any pending debounce first.
//
// The routine serializes the current data canonically and skips the write
// when it matches the last successful save. Only one save runs at a time;
// a trigger that finds a save in flight is dropped, and the next trigger
// re-evaluates freshness, so an edit is deferred but never lost.
//
// Online, the caller's SaveFunc writes to the remote and the returned record
// is cached locally. Offline, the record is written to the local store and an
// update change is appended to the change log in the same transaction.
package autosave
