// Package doc provides the opaque document values persisted by the engine.
//
// Entity payloads, offline change payloads and session snapshots are all
// stored as doc.Object values. The package owns three serializations:
//
//   - MarshalJSON: plain JSON with sorted keys, used for wire bodies.
//   - Marshal: exact JSON (sorted keys in UTF-16 order, strings untouched, no
//     HTML escaping). Stored rows, index keys and the autosave dedup
//     fingerprint use it, so byte equality means structural equality.
//   - MarshalCanonical: Marshal with NFC strings, used to render traces.
//
// Values are treated as immutable snapshots. Callers that need to modify a
// record must Clone it first; the store never hands out references into its
// own representation.
package doc
