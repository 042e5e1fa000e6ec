package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/roach88/autosync/internal/doc"
)

// Built-in store names.
const (
	StoreOfflineChanges = "offlineChanges"
	StoreSessions       = "sessions"
)

var (
	// ErrUnknownStore is returned for a store name that was not declared.
	ErrUnknownStore = errors.New("unknown store")

	// ErrUnknownIndex is returned for an index the store does not declare.
	ErrUnknownIndex = errors.New("unknown index")

	// ErrMissingKey is returned when a record lacks a string primary key.
	ErrMissingKey = errors.New("record has no primary key")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("store closed")
)

// Index declares a secondary index over a top-level record field.
// Records without the field are not indexed.
type Index struct {
	Name  string `yaml:"name" json:"name"`
	Field string `yaml:"field" json:"field"`
}

// Def declares a store: its name, primary key field and indexes.
type Def struct {
	Name    string  `yaml:"name" json:"name"`
	Key     string  `yaml:"key,omitempty" json:"key,omitempty"` // defaults to "id"
	Indexes []Index `yaml:"indexes,omitempty" json:"indexes,omitempty"`
}

// DefaultDefs returns the stores the engine itself needs.
func DefaultDefs() []Def {
	return []Def{
		{
			Name: StoreOfflineChanges,
			Indexes: []Index{
				{Name: "synced", Field: "synced"},
				{Name: "entityKind", Field: "entityKind"},
			},
		},
		{
			Name:    StoreSessions,
			Indexes: []Index{{Name: "userId", Field: "userId"}},
		},
	}
}

// Op is one write inside an Apply transaction: a Put when Record is set,
// otherwise a delete of DeleteID.
type Op struct {
	Store    string
	Record   doc.Object
	DeleteID string
}

// Put returns an upsert Op.
func Put(store string, rec doc.Object) Op {
	return Op{Store: store, Record: rec}
}

// Remove returns a delete Op.
func Remove(store, id string) Op {
	return Op{Store: store, DeleteID: id}
}

// RecordStore is the keyed, indexed persistence interface consumed by the
// change log, autosave scheduler and session manager.
type RecordStore interface {
	// Init opens the medium. Idempotent and safe for concurrent callers.
	Init(ctx context.Context) error

	Save(ctx context.Context, store string, rec doc.Object) error
	// Get returns (nil, false, nil) when the key is absent.
	Get(ctx context.Context, store, id string) (doc.Object, bool, error)
	GetAll(ctx context.Context, store string) ([]doc.Object, error)
	GetByIndex(ctx context.Context, store, index string, value doc.Value) ([]doc.Object, error)
	Delete(ctx context.Context, store, id string) error
	Clear(ctx context.Context, store string) error
	BatchSave(ctx context.Context, store string, recs []doc.Object) error
	Apply(ctx context.Context, ops ...Op) error
	// Prune deletes every record in store for which match returns true.
	Prune(ctx context.Context, store string, match func(doc.Object) bool) (int, error)

	Close() error
}

// schema resolves store definitions by name.
type schema map[string]Def

func newSchema(defs []Def) schema {
	s := make(schema, len(defs))
	for _, d := range defs {
		if d.Key == "" {
			d.Key = doc.FieldID
		}
		s[d.Name] = d
	}
	return s
}

func (s schema) def(name string) (Def, error) {
	d, ok := s[name]
	if !ok {
		return Def{}, fmt.Errorf("%w: %q", ErrUnknownStore, name)
	}
	return d, nil
}

func (d Def) hasIndex(name string) bool {
	for _, idx := range d.Indexes {
		if idx.Name == name {
			return true
		}
	}
	return false
}

// keyOf extracts the primary key of rec.
func (d Def) keyOf(rec doc.Object) (string, error) {
	key, ok := rec.GetString(d.Key)
	if !ok || key == "" {
		return "", fmt.Errorf("%w: store %q field %q", ErrMissingKey, d.Name, d.Key)
	}
	return key, nil
}

// indexValues returns index name -> encoded value for every index whose
// field is present on rec.
func (d Def) indexValues(rec doc.Object) (map[string]string, error) {
	out := make(map[string]string, len(d.Indexes))
	for _, idx := range d.Indexes {
		v, ok := rec[idx.Field]
		if !ok {
			continue
		}
		enc, err := encodeIndexValue(v)
		if err != nil {
			return nil, fmt.Errorf("index %q: %w", idx.Name, err)
		}
		out[idx.Name] = enc
	}
	return out, nil
}

func encodeIndexValue(v doc.Value) (string, error) {
	b, err := doc.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
