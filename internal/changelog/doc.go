// Package changelog implements the offline change log: a write-ahead queue of
// entity mutations that the remote has not yet confirmed.
//
// Changes are stored as documents in the store.StoreOfflineChanges store and
// read back in insertion order. The log never deletes an unsynced change;
// only synced changes past the retention window are pruned. Retry
// bookkeeping (RetryCount, LastError) is owned by the reconciler and written
// back through Update.
package changelog
