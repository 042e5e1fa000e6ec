package metrics

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/autosync/internal/autosave"
	"github.com/roach88/autosync/internal/reconcile"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	return string(body)
}

func TestMetrics_Exposition(t *testing.T) {
	m := New()
	m.Saved("scenes", autosave.PathLocal)
	m.Saved("scenes", autosave.PathLocal)
	m.Skipped("scenes", autosave.SkipUnchanged)
	m.PassCompleted(reconcile.Result{Ran: true})
	m.PendingChanged(3)
	m.ChangeSynced("scenes")
	m.ChangeFailed("scenes", "conflict")

	out := scrape(t, m)
	assert.Contains(t, out, `autosync_saves_total{kind="scenes",path="local"} 2`)
	assert.Contains(t, out, `autosync_saves_skipped_total{kind="scenes",reason="unchanged"} 1`)
	assert.Contains(t, out, `autosync_sync_passes_total 1`)
	assert.Contains(t, out, `autosync_pending_changes 3`)
	assert.Contains(t, out, `autosync_changes_synced_total{kind="scenes"} 1`)
	assert.Contains(t, out, `autosync_change_failures_total{kind="scenes",reason="conflict"} 1`)
}

func TestMetrics_IndependentRegistries(t *testing.T) {
	a, b := New(), New()
	a.PendingChanged(5)
	assert.Contains(t, scrape(t, b), "autosync_pending_changes 0")
}
