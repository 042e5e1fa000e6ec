package cli

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/autosync/internal/clock"
	"github.com/roach88/autosync/internal/config"
	"github.com/roach88/autosync/internal/connectivity"
	"github.com/roach88/autosync/internal/engine"
	"github.com/roach88/autosync/internal/metrics"
	"github.com/roach88/autosync/internal/remote"
	"github.com/roach88/autosync/internal/store"
	"github.com/roach88/autosync/internal/testutil"
)

type apiFixture struct {
	srv    *httptest.Server
	api    *controlAPI
	eng    *engine.Engine
	remote *remote.Memory
	clock  *clock.Fake
}

func newAPIFixture(t *testing.T, state connectivity.State) *apiFixture {
	t.Helper()
	m := metrics.New()
	rem := remote.NewMemory()
	eng, err := engine.New(engine.Options{
		Store:        store.NewMemory(store.Def{Name: "scenes"}),
		Remote:       rem,
		Connectivity: connectivity.NewManual(state),
		Observer:     m,
		Logger:       testutil.DiscardLogger(),
		Debounce:     time.Hour,
		Interval:     time.Hour,
	})
	require.NoError(t, err)
	require.NoError(t, eng.Start(context.Background()))
	t.Cleanup(eng.Dispose)

	cfg := &config.Config{Entities: []store.Def{{Name: "scenes"}}}
	api := newControlAPI(eng, cfg, m.Handler(), testutil.DiscardLogger())
	clk := clock.NewFake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	api.clock = clk
	srv := httptest.NewServer(api.routes())
	t.Cleanup(srv.Close)
	return &apiFixture{srv: srv, api: api, eng: eng, remote: rem, clock: clk}
}

func (f *apiFixture) entities() []string {
	f.api.mu.Lock()
	defer f.api.mu.Unlock()
	var keys []string
	for k := range f.api.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func do(t *testing.T, method, url, body string) (int, string) {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, url, r)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(data)
}

func TestControlAPI_OfflineSaveIsQueued(t *testing.T) {
	f := newAPIFixture(t, connectivity.Offline)

	code, _ := do(t, http.MethodPut, f.srv.URL+"/entities/scenes/s1", `{"text":"draft"}`)
	assert.Equal(t, http.StatusAccepted, code)

	code, body := do(t, http.MethodPost, f.srv.URL+"/entities/scenes/s1/save", "")
	require.Equal(t, http.StatusOK, code, body)
	var saved SaveResult
	require.NoError(t, json.Unmarshal([]byte(body), &saved))
	assert.Equal(t, "local", saved.Path)
	assert.Equal(t, 1, saved.Pending)

	code, body = do(t, http.MethodGet, f.srv.URL+"/status", "")
	require.Equal(t, http.StatusOK, code)
	var st StatusResponse
	require.NoError(t, json.Unmarshal([]byte(body), &st))
	assert.Equal(t, 1, st.Pending)
	assert.False(t, st.Syncing)

	code, body = do(t, http.MethodGet, f.srv.URL+"/metrics", "")
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, `autosync_saves_total{kind="scenes",path="local"} 1`)
}

func TestControlAPI_OnlineSaveReachesRemote(t *testing.T) {
	f := newAPIFixture(t, connectivity.Online)

	code, _ := do(t, http.MethodPut, f.srv.URL+"/entities/scenes/s1", `{"id":"ignored","text":"hello"}`)
	require.Equal(t, http.StatusAccepted, code)
	code, body := do(t, http.MethodPost, f.srv.URL+"/entities/scenes/s1/save", "")
	require.Equal(t, http.StatusOK, code, body)

	rec, ok := f.remote.Record("scenes", "s1")
	require.True(t, ok, "the URL id wins over the body's")
	text, _ := rec.GetString("text")
	assert.Equal(t, "hello", text)

	// Nothing changed since the last save.
	code, body = do(t, http.MethodPost, f.srv.URL+"/entities/scenes/s1/save", "")
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, `"skipped":"unchanged"`)
}

func TestControlAPI_Errors(t *testing.T) {
	f := newAPIFixture(t, connectivity.Online)

	code, body := do(t, http.MethodPut, f.srv.URL+"/entities/widgets/w1", `{}`)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Contains(t, body, "UNKNOWN_KIND")

	code, _ = do(t, http.MethodPut, f.srv.URL+"/entities/scenes/s1", `not json`)
	assert.Equal(t, http.StatusBadRequest, code)

	code, body = do(t, http.MethodPost, f.srv.URL+"/entities/scenes/s2/save", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, `"skipped":"empty"`)
	assert.Empty(t, f.entities(), "a save of an unknown entity creates no scheduler")
}

func TestControlAPI_EvictsIdleCleanSchedulers(t *testing.T) {
	f := newAPIFixture(t, connectivity.Online)
	eviction := f.api.startEviction()
	defer eviction.Stop()

	code, _ := do(t, http.MethodPut, f.srv.URL+"/entities/scenes/s1", `{"text":"unsaved"}`)
	require.Equal(t, http.StatusAccepted, code)
	code, _ = do(t, http.MethodPut, f.srv.URL+"/entities/scenes/s2", `{"text":"saved"}`)
	require.Equal(t, http.StatusAccepted, code)
	code, body := do(t, http.MethodPost, f.srv.URL+"/entities/scenes/s2/save", "")
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, []string{"scenes/s1", "scenes/s2"}, f.entities())

	f.clock.Advance(schedulerIdle - time.Second)
	assert.Equal(t, []string{"scenes/s1", "scenes/s2"}, f.entities())

	f.clock.Advance(time.Second)
	assert.Equal(t, []string{"scenes/s1"}, f.entities(), "dirty schedulers are kept")

	code, body = do(t, http.MethodPost, f.srv.URL+"/entities/scenes/s1/save", "")
	require.Equal(t, http.StatusOK, code, body)
	f.clock.Advance(schedulerIdle)
	assert.Empty(t, f.entities())
	assert.Equal(t, 0, f.api.evictIdle())

	// A later edit gets a fresh scheduler.
	code, _ = do(t, http.MethodPut, f.srv.URL+"/entities/scenes/s1", `{"text":"again"}`)
	require.Equal(t, http.StatusAccepted, code)
	assert.Equal(t, []string{"scenes/s1"}, f.entities())
}

func TestControlAPI_SyncIsQueued(t *testing.T) {
	f := newAPIFixture(t, connectivity.Online)

	code, _ := do(t, http.MethodPost, f.srv.URL+"/sync", "")
	assert.Equal(t, http.StatusAccepted, code)
	assert.Equal(t, 1, f.eng.Drain(context.Background()))

	f.eng.Dispose()
	code, _ = do(t, http.MethodPost, f.srv.URL+"/sync", "")
	assert.Equal(t, http.StatusServiceUnavailable, code)
}

func TestRunDaemon_ServesUntilCancelled(t *testing.T) {
	clearEnv(t)
	cfg, _ := writeConfig(t, "")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	addrs := make(chan string, 1)
	opts := &RunOptions{
		RootOptions: &RootOptions{Format: "text", Config: cfg},
		Addr:        "127.0.0.1:0",
		Offline:     true,
		listening:   func(addr string) { addrs <- addr },
	}
	cmd := &cobra.Command{}
	cmd.SetContext(ctx)
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)

	done := make(chan error, 1)
	go func() { done <- runDaemon(opts, cmd) }()

	var base string
	select {
	case addr := <-addrs:
		base = "http://" + addr
	case err := <-done:
		t.Fatalf("daemon exited early: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("daemon did not start listening")
	}

	code, _ := do(t, http.MethodPut, base+"/entities/scenes/s1", `{"text":"draft"}`)
	require.Equal(t, http.StatusAccepted, code)
	code, body := do(t, http.MethodPost, base+"/entities/scenes/s1/save", "")
	require.Equal(t, http.StatusOK, code, body)
	assert.Contains(t, body, `"path":"local"`)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("daemon did not stop")
	}
}
