package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/autosync/internal/doc"
)

// Get returns the record stored under id, or (nil, false, nil) if absent.
func (s *SQLite) Get(ctx context.Context, store, id string) (doc.Object, bool, error) {
	if _, err := s.schema.def(store); err != nil {
		return nil, false, fmt.Errorf("get: %w", err)
	}
	db, err := s.conn(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("get: %w", err)
	}

	var data string
	err = db.QueryRowContext(ctx, `
		SELECT data FROM records WHERE store_name = ? AND record_id = ?
	`, store, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get: %w", err)
	}

	rec, err := unmarshalRecord(data)
	if err != nil {
		return nil, false, fmt.Errorf("get: %w", err)
	}
	return rec, true, nil
}

// GetAll returns every record in store in insertion order.
func (s *SQLite) GetAll(ctx context.Context, store string) ([]doc.Object, error) {
	if _, err := s.schema.def(store); err != nil {
		return nil, fmt.Errorf("get all: %w", err)
	}
	db, err := s.conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("get all: %w", err)
	}

	rows, err := db.QueryContext(ctx, `
		SELECT data FROM records
		WHERE store_name = ?
		ORDER BY seq ASC
	`, store)
	if err != nil {
		return nil, fmt.Errorf("get all: %w", err)
	}
	recs, err := scanRecords(rows)
	if err != nil {
		return nil, fmt.Errorf("get all: %w", err)
	}
	return recs, nil
}

// GetByIndex returns the records whose indexed field equals value, in
// insertion order.
func (s *SQLite) GetByIndex(ctx context.Context, store, index string, value doc.Value) ([]doc.Object, error) {
	def, err := s.schema.def(store)
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
	db, err := s.conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("get by index: %w", err)
	}

	rows, err := db.QueryContext(ctx, `
		SELECT r.data
		FROM record_indexes i
		JOIN records r ON r.store_name = i.store_name AND r.record_id = i.record_id
		WHERE i.store_name = ? AND i.index_name = ? AND i.value = ?
		ORDER BY r.seq ASC
	`, store, index, enc)
	if err != nil {
		return nil, fmt.Errorf("get by index: %w", err)
	}
	recs, err := scanRecords(rows)
	if err != nil {
		return nil, fmt.Errorf("get by index: %w", err)
	}
	return recs, nil
}
