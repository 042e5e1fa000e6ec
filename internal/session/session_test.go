package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/autosync/internal/changelog"
	"github.com/roach88/autosync/internal/clock"
	"github.com/roach88/autosync/internal/store"
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestManager(t *testing.T, opts ...Option) (*Manager, *store.Memory, *clock.Fake, *MemoryViewport) {
	t.Helper()
	st := store.NewMemory()
	clk := clock.NewFake(epoch)
	vp := &MemoryViewport{}
	all := append([]Option{WithClock(clk), WithViewport(vp)}, opts...)
	return New(st, all...), st, clk, vp
}

func TestCheckpoint_NoUserIsNoop(t *testing.T) {
	m, st, _, _ := newTestManager(t)

	require.NoError(t, m.Checkpoint(context.Background()))

	all, err := st.GetAll(context.Background(), store.StoreSessions)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestCheckpoint_OverwritesSingleSnapshot(t *testing.T) {
	m, st, clk, vp := newTestManager(t)
	ctx := context.Background()
	m.SetUser("u1")
	m.SetContext("p1", "s1")
	m.SetFormData("title", "Opening")

	vp.Navigate("/scene/1")
	vp.ScrollTo(420)
	require.NoError(t, m.Checkpoint(ctx))

	clk.Advance(time.Minute)
	vp.Navigate("/scene/2")
	vp.ScrollTo(80)
	require.NoError(t, m.Checkpoint(ctx))

	all, err := st.GetAll(ctx, store.StoreSessions)
	require.NoError(t, err)
	require.Len(t, all, 1, "one snapshot per user")

	snap, err := m.Recover(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, "session-u1", snap.ID)
	assert.Equal(t, "p1", snap.ProjectID)
	assert.Equal(t, "s1", snap.SceneID)
	assert.Equal(t, "/scene/2", snap.Route)
	assert.True(t, snap.LastActivity.Equal(epoch.Add(time.Minute)))
	assert.Equal(t, map[string]int{"/scene/1": 420, "/scene/2": 80}, snap.ScrollPositions)
	assert.Equal(t, "Opening", snap.FormData["title"])
}

func TestRecover_RestoresScrollForCurrentRoute(t *testing.T) {
	m, _, _, vp := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, m.Save(ctx, Snapshot{
		UserID:          "u1",
		LastActivity:    epoch,
		ScrollPositions: map[string]int{"/scene/1": 420},
	}))

	vp.Navigate("/scene/1")
	snap, err := m.Recover(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, 420, vp.ScrollOffset())
}

func TestRecover_OtherRouteLeavesScroll(t *testing.T) {
	m, _, _, vp := newTestManager(t)
	ctx := context.Background()
	require.NoError(t, m.Save(ctx, Snapshot{UserID: "u1", ScrollPositions: map[string]int{"/scene/1": 420}}))

	vp.Navigate("/projects")
	vp.ScrollTo(7)
	_, err := m.Recover(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 7, vp.ScrollOffset())
}

func TestRecover_MissingIsNil(t *testing.T) {
	m, _, _, _ := newTestManager(t)
	snap, err := m.Recover(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Nil(t, snap)
}

func TestCleanup_PrunesIdleSessionsAndSyncedChanges(t *testing.T) {
	st := store.NewMemory()
	clk := clock.NewFake(epoch)
	log := changelog.New(st, changelog.WithClock(clk), changelog.WithIDGenerator(changelog.NewFixedGenerator("c1", "c2")))
	m := New(st, WithClock(clk), WithChangeLog(log))
	ctx := context.Background()

	require.NoError(t, m.Save(ctx, Snapshot{UserID: "idle", LastActivity: epoch}))
	_, err := log.Add(ctx, changelog.Entry{Type: changelog.Update, EntityKind: "scenes", EntityID: "s1"})
	require.NoError(t, err)
	_, err = log.Add(ctx, changelog.Entry{Type: changelog.Update, EntityKind: "scenes", EntityID: "s2"})
	require.NoError(t, err)
	require.NoError(t, log.MarkSynced(ctx, "c1"))

	clk.Advance(31 * 24 * time.Hour)
	require.NoError(t, m.Save(ctx, Snapshot{UserID: "active", LastActivity: clk.Now()}))

	res, err := m.Cleanup(ctx)
	require.NoError(t, err)
	assert.Equal(t, CleanupResult{Sessions: 1, Changes: 1}, res)

	snap, err := m.Recover(ctx, "idle")
	require.NoError(t, err)
	assert.Nil(t, snap)
	snap, err = m.Recover(ctx, "active")
	require.NoError(t, err)
	assert.NotNil(t, snap)

	_, ok, err := log.Get(ctx, "c2")
	require.NoError(t, err)
	assert.True(t, ok, "unsynced change survives cleanup")
}

func TestSetFormData_NilRemoves(t *testing.T) {
	m, _, _, _ := newTestManager(t)
	ctx := context.Background()
	m.SetUser("u1")
	m.SetFormData("a", 1)
	m.SetFormData("a", nil)
	require.NoError(t, m.Checkpoint(ctx))

	snap, err := m.Recover(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, snap.FormData)
}
