// Package store provides the durable local record store.
//
// A store set is a collection of named stores. Each store declares a primary
// key field and zero or more secondary indexes at construction time; records
// are doc.Object values addressed by (store, key).
//
// # Guarantees
//
//   - Save is an upsert and is visible to subsequent reads immediately.
//   - Every write is a full-record replace; the store never exposes its
//     internal representation, so callers always receive copies.
//   - BatchSave and Apply run in one transaction: every op lands or none do.
//     Apply may span stores (e.g. "write entity + enqueue change").
//   - GetAll and GetByIndex return records in insertion order. Upserting an
//     existing key keeps its original position.
//
// # Implementations
//
// SQLite is the production medium (WAL, single writer, embedded schema,
// PRAGMA user_version migrations). Memory is an in-process implementation
// with the same semantics, used by tests and for embedding without disk.
//
// Both return syncerr STORE_UNAVAILABLE when the medium cannot be opened or
// has been closed.
package store
