package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/roach88/autosync/internal/doc"
	"github.com/roach88/autosync/internal/syncerr"
)

// Memory is an in-process RecordStore with the same ordering, copy and
// atomicity semantics as SQLite. Records are held as canonical JSON so no
// caller ever shares a reference with the store.
type Memory struct {
	schema schema

	mu          sync.RWMutex
	seq         int64
	tables      map[string]map[string]memRow
	unavailable error
	closed      bool
}

type memRow struct {
	seq     int64
	data    string
	indexes map[string]string
}

var _ RecordStore = (*Memory)(nil)

// NewMemory returns an empty store set. DefaultDefs are always included.
func NewMemory(defs ...Def) *Memory {
	sch := newSchema(append(DefaultDefs(), defs...))
	tables := make(map[string]map[string]memRow, len(sch))
	for name := range sch {
		tables[name] = make(map[string]memRow)
	}
	return &Memory{schema: sch, tables: tables}
}

// SetUnavailable makes every subsequent call fail with STORE_UNAVAILABLE
// wrapping err, simulating a medium that cannot be opened (quota exceeded,
// storage disabled). Pass nil to restore.
func (m *Memory) SetUnavailable(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unavailable = err
}

func (m *Memory) checkLocked() error {
	if m.closed {
		return syncerr.StoreUnavailable(ErrClosed)
	}
	if m.unavailable != nil {
		return syncerr.StoreUnavailable(m.unavailable)
	}
	return nil
}

// Init is a no-op unless the store was made unavailable or closed.
func (m *Memory) Init(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.checkLocked()
}

// Close releases nothing but makes later calls fail like a closed SQLite store.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *Memory) Save(ctx context.Context, store string, rec doc.Object) error {
	if err := m.Apply(ctx, Put(store, rec)); err != nil {
		return fmt.Errorf("save: %w", err)
	}
	return nil
}

func (m *Memory) BatchSave(ctx context.Context, store string, recs []doc.Object) error {
	ops := make([]Op, len(recs))
	for i, rec := range recs {
		ops[i] = Put(store, rec)
	}
	if err := m.Apply(ctx, ops...); err != nil {
		return fmt.Errorf("batch save: %w", err)
	}
	return nil
}

func (m *Memory) Delete(ctx context.Context, store, id string) error {
	if err := m.Apply(ctx, Remove(store, id)); err != nil {
		return fmt.Errorf("delete: %w", err)
	}
	return nil
}

func (m *Memory) Clear(ctx context.Context, store string) error {
	if _, err := m.schema.def(store); err != nil {
		return fmt.Errorf("clear: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkLocked(); err != nil {
		return fmt.Errorf("clear: %w", err)
	}
	m.tables[store] = make(map[string]memRow)
	return nil
}

// Apply validates every op first, then applies them under one lock.
func (m *Memory) Apply(ctx context.Context, ops ...Op) error {
	prepared, err := prepareOps(m.schema, ops)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkLocked(); err != nil {
		return err
	}

	for _, p := range prepared {
		table := m.tables[p.store]
		if p.delete {
			delete(table, p.id)
			continue
		}
		row, ok := table[p.id]
		if !ok {
			m.seq++
			row.seq = m.seq
		}
		row.data = p.data
		row.indexes = p.indexes
		table[p.id] = row
	}
	return nil
}

func (m *Memory) Get(ctx context.Context, store, id string) (doc.Object, bool, error) {
	if _, err := m.schema.def(store); err != nil {
		return nil, false, fmt.Errorf("get: %w", err)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.checkLocked(); err != nil {
		return nil, false, fmt.Errorf("get: %w", err)
	}

	row, ok := m.tables[store][id]
	if !ok {
		return nil, false, nil
	}
	rec, err := unmarshalRecord(row.data)
	if err != nil {
		return nil, false, fmt.Errorf("get: %w", err)
	}
	return rec, true, nil
}

func (m *Memory) GetAll(ctx context.Context, store string) ([]doc.Object, error) {
	if _, err := m.schema.def(store); err != nil {
		return nil, fmt.Errorf("get all: %w", err)
	}
	recs, err := m.collect(store, func(memRow) bool { return true })
	if err != nil {
		return nil, fmt.Errorf("get all: %w", err)
	}
	return recs, nil
}

func (m *Memory) GetByIndex(ctx context.Context, store, index string, value doc.Value) ([]doc.Object, error) {
	def, err := m.schema.def(store)
	if err != nil {
		return nil, fmt.Errorf("get by index: %w", err)
	}
	if !def.hasIndex(index) {
		return nil, fmt.Errorf("get by index: %w: %s.%s", ErrUnknownIndex, store, index)
	}
	enc, err := encodeIndexValue(value)
	if err != nil {
		return nil, fmt.Errorf("get by index: %w", err)
	}
	recs, err := m.collect(store, func(r memRow) bool {
		v, ok := r.indexes[index]
		return ok && v == enc
	})
	if err != nil {
		return nil, fmt.Errorf("get by index: %w", err)
	}
	return recs, nil
}

func (m *Memory) Prune(ctx context.Context, store string, match func(doc.Object) bool) (int, error) {
	if _, err := m.schema.def(store); err != nil {
		return 0, fmt.Errorf("prune: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkLocked(); err != nil {
		return 0, fmt.Errorf("prune: %w", err)
	}

	var doomed []string
	for id, row := range m.tables[store] {
		rec, err := unmarshalRecord(row.data)
		if err != nil {
			return 0, fmt.Errorf("prune: %w", err)
		}
		if match(rec) {
			doomed = append(doomed, id)
		}
	}
	for _, id := range doomed {
		delete(m.tables[store], id)
	}
	return len(doomed), nil
}

// collect returns matching rows of store as fresh records in seq order.
func (m *Memory) collect(store string, keep func(memRow) bool) ([]doc.Object, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.checkLocked(); err != nil {
		return nil, err
	}

	rows := make([]memRow, 0, len(m.tables[store]))
	for _, r := range m.tables[store] {
		if keep(r) {
			rows = append(rows, r)
		}
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].seq < rows[j].seq })

	out := make([]doc.Object, 0, len(rows))
	for _, r := range rows {
		rec, err := unmarshalRecord(r.data)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}
