package store

import (
	"database/sql"
	"fmt"

	"github.com/roach88/autosync/internal/doc"
)

// marshalRecord converts a record to exact JSON TEXT for storage.
func marshalRecord(rec doc.Object) (string, error) {
	data, err := doc.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("marshal record: %w", err)
	}
	return string(data), nil
}

// unmarshalRecord parses stored TEXT back into a fresh record.
func unmarshalRecord(data string) (doc.Object, error) {
	obj, err := doc.ParseObject([]byte(data))
	if err != nil {
		return nil, fmt.Errorf("unmarshal record: %w", err)
	}
	return obj, nil
}

// scanRecords reads every row's data column. Returns an empty slice (not nil)
// when there are no rows.
func scanRecords(rows *sql.Rows) ([]doc.Object, error) {
	defer rows.Close()

	out := []doc.Object{}
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		rec, err := unmarshalRecord(data)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}
	return out, nil
}
