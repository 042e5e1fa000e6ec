package cli

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/autosync/internal/changelog"
	"github.com/roach88/autosync/internal/clock"
	"github.com/roach88/autosync/internal/config"
	"github.com/roach88/autosync/internal/doc"
	"github.com/roach88/autosync/internal/session"
	"github.com/roach88/autosync/internal/store"
)

// seedEpoch is far enough in the past that every retention window has
// elapsed by the time prune runs.
var seedEpoch = time.Date(2020, 1, 1, 9, 0, 0, 0, time.UTC)

// clearEnv blanks every config override so the host environment cannot
// leak into a test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		config.EnvDatabase, config.EnvUser, config.EnvRemoteURL, config.EnvRemoteToken,
		config.EnvSocketURL, config.EnvOffline, config.EnvMetricsAddr,
	} {
		t.Setenv(key, "")
	}
}

// execute runs the root command with args and returns stdout.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	clearEnv(t)

	out, errOut := &bytes.Buffer{}, &bytes.Buffer{}
	cmd := NewRootCommand()
	cmd.SetOut(out)
	cmd.SetErr(errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

// writeConfig writes a config declaring scenes and comments with a database
// in a temp dir. extra is appended verbatim.
func writeConfig(t *testing.T, extra string) (cfgPath, dbPath string) {
	t.Helper()
	dir := t.TempDir()
	dbPath = filepath.Join(dir, "state.db")
	cfgPath = filepath.Join(dir, "autosync.yaml")
	data := fmt.Sprintf(`database: %s
user: u1
entities:
  - name: scenes
  - name: comments
%s`, dbPath, extra)
	require.NoError(t, os.WriteFile(cfgPath, []byte(data), 0o644))
	return cfgPath, dbPath
}

// seedChanges writes three unsynced changes (the second exhausted), one
// synced change and a session snapshot for u1.
func seedChanges(t *testing.T, dbPath string) {
	t.Helper()
	ctx := context.Background()
	st, err := store.Open(ctx, dbPath, store.Def{Name: "scenes"}, store.Def{Name: "comments"})
	require.NoError(t, err)
	defer st.Close()

	clk := clock.NewFake(seedEpoch)
	log := changelog.New(st,
		changelog.WithClock(clk),
		changelog.WithIDGenerator(changelog.NewFixedGenerator("c1", "c2", "c3", "c4")),
	)
	payload := doc.Object{"id": doc.String("s1"), "text": doc.String("draft")}

	_, err = log.Add(ctx, changelog.Entry{Type: changelog.Create, EntityKind: "scenes", EntityID: "s1", Payload: payload})
	require.NoError(t, err)
	clk.Advance(time.Minute)

	c2, err := log.Add(ctx, changelog.Entry{Type: changelog.Update, EntityKind: "scenes", EntityID: "s2", Payload: payload.With("id", doc.String("s2"))})
	require.NoError(t, err)
	c2.RetryCount = 3
	c2.LastError = "remote write failed"
	require.NoError(t, log.Update(ctx, c2))
	clk.Advance(time.Minute)

	_, err = log.Add(ctx, changelog.Entry{Type: changelog.Delete, EntityKind: "comments", EntityID: "k1"})
	require.NoError(t, err)
	clk.Advance(time.Minute)

	c4, err := log.Add(ctx, changelog.Entry{Type: changelog.Update, EntityKind: "scenes", EntityID: "s1", Payload: payload})
	require.NoError(t, err)
	require.NoError(t, log.MarkSynced(ctx, c4.ID))

	sm := session.New(st, session.WithClock(clk))
	require.NoError(t, sm.Save(ctx, session.Snapshot{
		UserID:       "u1",
		ProjectID:    "p1",
		SceneID:      "s1",
		Route:        "/projects/p1/scenes/s1",
		LastActivity: seedEpoch,
	}))
}

// addEdit enqueues another unsynced update for scenes/<entityID>, ten minutes
// after the seeded changes.
func addEdit(t *testing.T, dbPath, changeID, entityID string) {
	t.Helper()
	ctx := context.Background()
	st, err := store.Open(ctx, dbPath, store.Def{Name: "scenes"}, store.Def{Name: "comments"})
	require.NoError(t, err)
	defer st.Close()

	log := changelog.New(st,
		changelog.WithClock(clock.NewFake(seedEpoch.Add(10*time.Minute))),
		changelog.WithIDGenerator(changelog.NewFixedGenerator(changeID)),
	)
	_, err = log.Add(ctx, changelog.Entry{
		Type:       changelog.Update,
		EntityKind: "scenes",
		EntityID:   entityID,
		Payload:    doc.Object{"id": doc.String(entityID), "text": doc.String("newer")},
	})
	require.NoError(t, err)
}
