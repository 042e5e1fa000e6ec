package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/roach88/autosync/internal/doc"
)

// Save upserts rec into store by its primary key.
func (s *SQLite) Save(ctx context.Context, store string, rec doc.Object) error {
	if err := s.Apply(ctx, Put(store, rec)); err != nil {
		return fmt.Errorf("save: %w", err)
	}
	return nil
}

// BatchSave upserts every record in one transaction.
func (s *SQLite) BatchSave(ctx context.Context, store string, recs []doc.Object) error {
	ops := make([]Op, len(recs))
	for i, rec := range recs {
		ops[i] = Put(store, rec)
	}
	if err := s.Apply(ctx, ops...); err != nil {
		return fmt.Errorf("batch save: %w", err)
	}
	return nil
}

// Delete removes one record. Deleting an absent key is not an error.
func (s *SQLite) Delete(ctx context.Context, store, id string) error {
	if err := s.Apply(ctx, Remove(store, id)); err != nil {
		return fmt.Errorf("delete: %w", err)
	}
	return nil
}

// Clear removes every record in store.
func (s *SQLite) Clear(ctx context.Context, store string) error {
	if _, err := s.schema.def(store); err != nil {
		return fmt.Errorf("clear: %w", err)
	}
	db, err := s.conn(ctx)
	if err != nil {
		return fmt.Errorf("clear: %w", err)
	}
	// record_indexes rows go with their records via ON DELETE CASCADE.
	if _, err := db.ExecContext(ctx, `DELETE FROM records WHERE store_name = ?`, store); err != nil {
		return fmt.Errorf("clear: %w", err)
	}
	return nil
}

// Apply runs every op in a single transaction. Validation failures (unknown
// store, missing key) abort the whole batch before anything is written.
func (s *SQLite) Apply(ctx context.Context, ops ...Op) error {
	if len(ops) == 0 {
		return nil
	}

	prepared, err := s.prepare(ops)
	if err != nil {
		return err
	}

	db, err := s.conn(ctx)
	if err != nil {
		return err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	for _, p := range prepared {
		if p.delete {
			if _, err := tx.ExecContext(ctx, `
				DELETE FROM records WHERE store_name = ? AND record_id = ?
			`, p.store, p.id); err != nil {
				return fmt.Errorf("delete %s/%s: %w", p.store, p.id, err)
			}
			continue
		}
		if err := writeRecord(ctx, tx, p); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Prune deletes every record in store matched by match, in one transaction.
func (s *SQLite) Prune(ctx context.Context, store string, match func(doc.Object) bool) (int, error) {
	if _, err := s.schema.def(store); err != nil {
		return 0, fmt.Errorf("prune: %w", err)
	}
	db, err := s.conn(ctx)
	if err != nil {
		return 0, fmt.Errorf("prune: %w", err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("prune: begin tx: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `
		SELECT record_id, data FROM records WHERE store_name = ? ORDER BY seq ASC
	`, store)
	if err != nil {
		return 0, fmt.Errorf("prune: query: %w", err)
	}
	var doomed []string
	for rows.Next() {
		var id, data string
		if err := rows.Scan(&id, &data); err != nil {
			rows.Close()
			return 0, fmt.Errorf("prune: scan: %w", err)
		}
		rec, err := unmarshalRecord(data)
		if err != nil {
			rows.Close()
			return 0, fmt.Errorf("prune: %w", err)
		}
		if match(rec) {
			doomed = append(doomed, id)
		}
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return 0, fmt.Errorf("prune: iterate: %w", err)
	}
	rows.Close()

	for _, id := range doomed {
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM records WHERE store_name = ? AND record_id = ?
		`, store, id); err != nil {
			return 0, fmt.Errorf("prune: delete %s: %w", id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("prune: commit: %w", err)
	}
	return len(doomed), nil
}

// preparedOp is an Op with its key, serialized data and index values resolved.
type preparedOp struct {
	store   string
	id      string
	delete  bool
	data    string
	indexes map[string]string
}

func (s *SQLite) prepare(ops []Op) ([]preparedOp, error) {
	return prepareOps(s.schema, ops)
}

func prepareOps(sch schema, ops []Op) ([]preparedOp, error) {
	out := make([]preparedOp, 0, len(ops))
	for _, op := range ops {
		def, err := sch.def(op.Store)
		if err != nil {
			return nil, err
		}
		if op.Record == nil {
			out = append(out, preparedOp{store: op.Store, id: op.DeleteID, delete: true})
			continue
		}
		id, err := def.keyOf(op.Record)
		if err != nil {
			return nil, err
		}
		data, err := marshalRecord(op.Record)
		if err != nil {
			return nil, err
		}
		indexes, err := def.indexValues(op.Record)
		if err != nil {
			return nil, err
		}
		out = append(out, preparedOp{store: op.Store, id: id, data: data, indexes: indexes})
	}
	return out, nil
}

// writeRecord upserts one record and replaces its index rows.
// ON CONFLICT DO UPDATE keeps the row's seq so insertion order is stable.
func writeRecord(ctx context.Context, tx *sql.Tx, p preparedOp) error {
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO records (store_name, record_id, data)
		VALUES (?, ?, ?)
		ON CONFLICT(store_name, record_id) DO UPDATE SET data = excluded.data
	`, p.store, p.id, p.data); err != nil {
		return fmt.Errorf("write %s/%s: %w", p.store, p.id, err)
	}

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM record_indexes WHERE store_name = ? AND record_id = ?
	`, p.store, p.id); err != nil {
		return fmt.Errorf("reindex %s/%s: %w", p.store, p.id, err)
	}

	for name, value := range p.indexes {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO record_indexes (store_name, index_name, record_id, value)
			VALUES (?, ?, ?, ?)
		`, p.store, name, p.id, value); err != nil {
			return fmt.Errorf("index %s/%s %s: %w", p.store, p.id, name, err)
		}
	}
	return nil
}
