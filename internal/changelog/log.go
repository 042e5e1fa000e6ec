package changelog

import (
	"context"
	"fmt"
	"time"

	"github.com/roach88/autosync/internal/clock"
	"github.com/roach88/autosync/internal/doc"
	"github.com/roach88/autosync/internal/store"
)

// DefaultRetention is how long a synced change is kept before PruneSynced
// removes it.
const DefaultRetention = 7 * 24 * time.Hour

// Log is the offline change log over a RecordStore.
//
// Thread-safety: Log holds no mutable state of its own; concurrent calls are
// serialized by the underlying store's transactions.
type Log struct {
	store store.RecordStore
	ids   IDGenerator
	clock clock.Clock
}

// Option configures a Log.
type Option func(*Log)

// WithIDGenerator overrides the UUIDv7 id generator.
func WithIDGenerator(g IDGenerator) Option {
	return func(l *Log) { l.ids = g }
}

// WithClock overrides the wall clock used for timestamps.
func WithClock(c clock.Clock) Option {
	return func(l *Log) { l.clock = c }
}

// New returns a Log writing to st.
func New(st store.RecordStore, opts ...Option) *Log {
	l := &Log{store: st, ids: UUIDv7Generator{}, clock: clock.Wall{}}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Add appends a change and returns it once durably written.
//
// extra ops are applied in the same transaction, so "write entity + enqueue
// change" either fully lands or not at all.
func (l *Log) Add(ctx context.Context, e Entry, extra ...store.Op) (Change, error) {
	if err := e.validate(); err != nil {
		return Change{}, fmt.Errorf("add change: %w", err)
	}

	c := Change{
		ID:         l.ids.Generate(),
		Type:       e.Type,
		EntityKind: e.EntityKind,
		EntityID:   e.EntityID,
		Payload:    e.Payload.Clone(),
		EnqueuedAt: l.clock.Now().UTC(),
	}
	rec, err := c.toRecord()
	if err != nil {
		return Change{}, err
	}

	ops := append(append([]store.Op{}, extra...), store.Put(store.StoreOfflineChanges, rec))
	if err := l.store.Apply(ctx, ops...); err != nil {
		return Change{}, fmt.Errorf("add change: %w", err)
	}
	return c, nil
}

// Get returns the change with id, or false if absent.
func (l *Log) Get(ctx context.Context, id string) (Change, bool, error) {
	rec, ok, err := l.store.Get(ctx, store.StoreOfflineChanges, id)
	if err != nil || !ok {
		return Change{}, false, err
	}
	c, err := fromRecord(rec)
	if err != nil {
		return Change{}, false, err
	}
	return c, true, nil
}

// All returns every change, synced or not, in enqueue order.
func (l *Log) All(ctx context.Context) ([]Change, error) {
	recs, err := l.store.GetAll(ctx, store.StoreOfflineChanges)
	if err != nil {
		return nil, fmt.Errorf("list changes: %w", err)
	}
	return decodeAll(recs)
}

// Unsynced returns changes not yet confirmed by the remote, in enqueue order.
// Exhausted changes are included; callers decide whether to skip them.
func (l *Log) Unsynced(ctx context.Context) ([]Change, error) {
	recs, err := l.store.GetByIndex(ctx, store.StoreOfflineChanges, "synced", doc.Bool(false))
	if err != nil {
		return nil, fmt.Errorf("list unsynced changes: %w", err)
	}
	return decodeAll(recs)
}

// CountUnsynced returns the number of unsynced changes.
func (l *Log) CountUnsynced(ctx context.Context) (int, error) {
	changes, err := l.Unsynced(ctx)
	if err != nil {
		return 0, err
	}
	return len(changes), nil
}

// MarkSynced records that the remote confirmed the change. A synced change
// is never dispatched again.
func (l *Log) MarkSynced(ctx context.Context, id string) error {
	c, ok, err := l.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("mark synced: %w", err)
	}
	if !ok {
		return fmt.Errorf("mark synced: %w: %s", ErrNotFound, id)
	}
	now := l.clock.Now().UTC()
	c.Synced = true
	c.SyncedAt = &now
	c.LastError = ""
	return l.Update(ctx, c)
}

// Update persists c in place, keeping its position in the log.
func (l *Log) Update(ctx context.Context, c Change) error {
	rec, err := c.toRecord()
	if err != nil {
		return err
	}
	if err := l.store.Save(ctx, store.StoreOfflineChanges, rec); err != nil {
		return fmt.Errorf("update change %s: %w", c.ID, err)
	}
	return nil
}

// PruneSynced deletes synced changes whose SyncedAt is older than retention.
// Unsynced changes are never pruned, exhausted or not.
func (l *Log) PruneSynced(ctx context.Context, retention time.Duration) (int, error) {
	cutoff := l.clock.Now().Add(-retention)
	n, err := l.store.Prune(ctx, store.StoreOfflineChanges, func(rec doc.Object) bool {
		c, err := fromRecord(rec)
		if err != nil || !c.Synced || c.SyncedAt == nil {
			return false
		}
		return c.SyncedAt.Before(cutoff)
	})
	if err != nil {
		return 0, fmt.Errorf("prune synced changes: %w", err)
	}
	return n, nil
}

func decodeAll(recs []doc.Object) ([]Change, error) {
	out := make([]Change, 0, len(recs))
	for _, rec := range recs {
		c, err := fromRecord(rec)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}
