package changelog

import (
	"errors"
	"fmt"
	"time"

	"github.com/roach88/autosync/internal/doc"
)

// Type is the kind of mutation a change carries.
type Type string

const (
	Create Type = "create"
	Update Type = "update"
	Delete Type = "delete"
)

// Valid reports whether t is one of the known mutation types.
func (t Type) Valid() bool {
	switch t {
	case Create, Update, Delete:
		return true
	}
	return false
}

// ErrNotFound is returned when a change id is not in the log.
var ErrNotFound = errors.New("change not found")

// Entry is a change as supplied by a caller, before the log assigns its id
// and bookkeeping fields.
type Entry struct {
	Type       Type
	EntityKind string
	EntityID   string
	Payload    doc.Object
}

func (e Entry) validate() error {
	if !e.Type.Valid() {
		return fmt.Errorf("invalid change type %q", e.Type)
	}
	if e.EntityKind == "" {
		return errors.New("entity kind is required")
	}
	if e.EntityID == "" {
		return errors.New("entity id is required")
	}
	return nil
}

// Change is one queued mutation.
type Change struct {
	ID         string     `json:"id"`
	Type       Type       `json:"type"`
	EntityKind string     `json:"entityKind"`
	EntityID   string     `json:"entityId"`
	Payload    doc.Object `json:"payload,omitempty"`
	EnqueuedAt time.Time  `json:"enqueuedAt"`
	Synced     bool       `json:"synced"`
	SyncedAt   *time.Time `json:"syncedAt,omitempty"`
	RetryCount int        `json:"retryCount"`
	LastError  string     `json:"lastError,omitempty"`
}

// Exhausted reports whether the change has used up maxRetries attempts.
func (c Change) Exhausted(maxRetries int) bool {
	return c.RetryCount >= maxRetries
}

// Key identifies the entity a change targets.
func (c Change) Key() string {
	return c.EntityKind + "/" + c.EntityID
}

func (c Change) toRecord() (doc.Object, error) {
	rec, err := doc.Encode(c)
	if err != nil {
		return nil, fmt.Errorf("encode change %s: %w", c.ID, err)
	}
	return rec, nil
}

func fromRecord(rec doc.Object) (Change, error) {
	var c Change
	if err := doc.Decode(rec, &c); err != nil {
		return Change{}, fmt.Errorf("decode change %s: %w", rec.ID(), err)
	}
	return c, nil
}

// Coalesce returns the newest unsynced change per entity, in the order those
// newest changes were enqueued. Older changes for the same entity are
// logically superseded; the reconciler still attempts them, this view exists
// for reporting.
func Coalesce(changes []Change) []Change {
	last := make(map[string]int, len(changes))
	for i, c := range changes {
		if !c.Synced {
			last[c.Key()] = i
		}
	}
	out := make([]Change, 0, len(last))
	for i, c := range changes {
		if !c.Synced && last[c.Key()] == i {
			out = append(out, c)
		}
	}
	return out
}
