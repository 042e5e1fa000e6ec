package remote

import (
	"context"
	"sync"

	"github.com/roach88/autosync/internal/doc"
	"github.com/roach88/autosync/internal/syncerr"
)

// Call records one request received by Memory.
type Call struct {
	Method  string // "create", "update", "delete" or "beacon"
	Kind    string
	ID      string
	Payload doc.Object
}

// Memory is an in-process Remote. It keeps the latest record per entity and
// can be scripted to fail or conflict, which makes it the test double for
// the scheduler and reconciler.
type Memory struct {
	mu        sync.Mutex
	records   map[string]doc.Object
	calls     []Call
	failures  map[string]error
	conflicts map[string][]doc.Object
}

var (
	_ Remote   = (*Memory)(nil)
	_ Beaconer = (*Memory)(nil)
)

// NewMemory returns an empty remote.
func NewMemory() *Memory {
	return &Memory{
		records:   make(map[string]doc.Object),
		failures:  make(map[string]error),
		conflicts: make(map[string][]doc.Object),
	}
}

func entityKey(kind, id string) string { return kind + "/" + id }

// FailWith makes every write to (kind, id) fail with err until cleared with
// a nil err.
func (m *Memory) FailWith(kind, id string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.failures, entityKey(kind, id))
		return
	}
	m.failures[entityKey(kind, id)] = err
}

// ConflictOnce queues a conflict for the next write to (kind, id), carrying
// remoteRec as the current remote representation. Multiple calls queue
// multiple conflicts.
func (m *Memory) ConflictOnce(kind, id string, remoteRec doc.Object) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := entityKey(kind, id)
	m.conflicts[k] = append(m.conflicts[k], remoteRec.Clone())
}

// Seed stores rec as the remote's current version without recording a call.
func (m *Memory) Seed(kind string, rec doc.Object) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[entityKey(kind, rec.ID())] = rec.Clone()
}

// Record returns the remote's current version of (kind, id).
func (m *Memory) Record(kind, id string) (doc.Object, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[entityKey(kind, id)]
	return rec.Clone(), ok
}

// Calls returns every request received so far, in order.
func (m *Memory) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Call, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallCount returns how many requests used method.
func (m *Memory) CallCount(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		if c.Method == method {
			n++
		}
	}
	return n
}

func (m *Memory) Create(ctx context.Context, kind string, payload doc.Object) (doc.Object, error) {
	return m.write(ctx, "create", kind, payload.ID(), payload)
}

func (m *Memory) Update(ctx context.Context, kind, id string, payload doc.Object) (doc.Object, error) {
	return m.write(ctx, "update", kind, id, payload)
}

func (m *Memory) Delete(ctx context.Context, kind, id string) error {
	_, err := m.write(ctx, "delete", kind, id, nil)
	return err
}

// Beacon applies the write synchronously; callers cannot observe the
// difference since they never wait on a beacon. A beacon without an id is
// recorded but stores nothing, as there is no key to store it under.
func (m *Memory) Beacon(kind, id string, payload doc.Object) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: "beacon", Kind: kind, ID: id, Payload: payload.Clone()})
	if id != "" {
		m.records[entityKey(kind, id)] = payload.Clone()
	}
}

func (m *Memory) write(ctx context.Context, method, kind, id string, payload doc.Object) (doc.Object, error) {
	if err := ctx.Err(); err != nil {
		return nil, syncerr.RemoteWriteFailed(kind, id, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	k := entityKey(kind, id)
	m.calls = append(m.calls, Call{Method: method, Kind: kind, ID: id, Payload: payload.Clone()})

	if queued := m.conflicts[k]; len(queued) > 0 {
		m.conflicts[k] = queued[1:]
		return nil, &ConflictError{Kind: kind, ID: id, Remote: queued[0].Clone()}
	}
	if err, ok := m.failures[k]; ok {
		if syncerr.CodeOf(err) == "" {
			err = syncerr.RemoteWriteFailed(kind, id, err)
		}
		return nil, err
	}

	if method == "delete" {
		delete(m.records, k)
		return nil, nil
	}
	m.records[k] = payload.Clone()
	return payload.Clone(), nil
}
