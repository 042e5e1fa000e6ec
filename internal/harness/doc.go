// Package harness runs scripted scenarios against a fully wired sync engine
// and checks the resulting trace and final state.
//
// # Scenario Format
//
// Scenarios are YAML files:
//
//	name: offline_edit_reconnect
//	description: "Edits made offline sync once on reconnect"
//	online: false
//	entities: [scenes]
//	resolver: local
//	steps:
//	  - op: set
//	    kind: scenes
//	    data: { id: s1, text: draft }
//	  - op: advance
//	    duration: 2s
//	  - op: connect
//	  - op: drain
//	assertions:
//	  - type: trace_count
//	    event: remote.update
//	    count: 1
//	  - type: unsynced
//	    count: 0
//
// # Steps
//
//   - set: replace the working copy of kind (starts the debounce timer)
//   - type: call set every `every` for `duration`, writing field `field`
//   - advance: move the fake clock forward by duration
//   - save: run SaveNow for kind
//   - connect, disconnect: flip connectivity
//   - drain: handle queued engine events
//   - sync: run one reconciliation pass directly
//   - terminate: fire the lifecycle terminate event
//   - fail: make writes to kind/id fail with error (empty error clears)
//   - conflict: queue one conflict for kind/id carrying data as the remote copy
//   - session: set user, project and scene on the session manager
//   - recover: recover the snapshot for user
//   - cleanup: prune expired sessions and synced changes
//
// # Assertion Types
//
//   - trace_contains: an event matching event (and kind, id, detail when set)
//   - trace_order: events appear in the given order, not necessarily adjacent
//   - trace_count: exactly count matching events
//   - unsynced: the change log holds exactly count unsynced changes
//   - pending: the reconciler reports count pending changes
//   - local_record, remote_record: the record kind/id has the expect fields
//
// # Determinism
//
// Every run uses a fake clock starting at a fixed instant, sequential change
// ids, an in-memory store and an in-memory remote, so the trace is byte-for-
// byte reproducible and can be compared against golden files.
package harness
