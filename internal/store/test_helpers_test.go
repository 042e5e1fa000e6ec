package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/roach88/autosync/internal/doc"
)

var sceneDef = Def{
	Name:    "scenes",
	Indexes: []Index{{Name: "projectId", Field: "projectId"}},
}

// createTestStore creates a new SQLite store in a temp dir for testing.
func createTestStore(t *testing.T) *SQLite {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(context.Background(), path, sceneDef)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// implementations returns both RecordStore implementations for contract tests.
func implementations(t *testing.T) map[string]RecordStore {
	t.Helper()
	return map[string]RecordStore{
		"sqlite": createTestStore(t),
		"memory": NewMemory(sceneDef),
	}
}

func scene(id, project, text string) doc.Object {
	return doc.Object{
		"id":        doc.String(id),
		"projectId": doc.String(project),
		"text":      doc.String(text),
	}
}

func ids(recs []doc.Object) []string {
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = r.ID()
	}
	return out
}
