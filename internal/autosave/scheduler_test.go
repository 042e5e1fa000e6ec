package autosave

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/autosync/internal/changelog"
	"github.com/roach88/autosync/internal/clock"
	"github.com/roach88/autosync/internal/connectivity"
	"github.com/roach88/autosync/internal/doc"
	"github.com/roach88/autosync/internal/lifecycle"
	"github.com/roach88/autosync/internal/remote"
	"github.com/roach88/autosync/internal/store"
	"github.com/roach88/autosync/internal/syncerr"
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	sched   *Scheduler
	store   *store.Memory
	log     *changelog.Log
	remote  *remote.Memory
	conn    *connectivity.Manual
	clock   *clock.Fake
	pending *counter

	mu     sync.Mutex
	saves  []Path
	errors []error
}

type counter struct {
	mu sync.Mutex
	n  int
}

func (c *counter) AddPending(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.n += n
}

func (c *counter) value() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}

func newFixture(t *testing.T, online connectivity.State, tweak ...func(*Options)) *fixture {
	t.Helper()
	f := &fixture{
		store:   store.NewMemory(store.Def{Name: "scenes"}),
		remote:  remote.NewMemory(),
		conn:    connectivity.NewManual(online),
		clock:   clock.NewFake(epoch),
		pending: &counter{},
	}
	f.log = changelog.New(f.store, changelog.WithClock(f.clock))

	opts := Options{
		Kind:         "scenes",
		Save:         f.saveRemote,
		Store:        f.store,
		Changes:      f.log,
		Connectivity: f.conn,
		Beacon:       f.remote,
		Pending:      f.pending,
		Clock:        f.clock,
		OnSave: func(_ doc.Object, p Path) {
			f.mu.Lock()
			defer f.mu.Unlock()
			f.saves = append(f.saves, p)
		},
		OnError: func(err error) {
			f.mu.Lock()
			defer f.mu.Unlock()
			f.errors = append(f.errors, err)
		},
	}
	for _, fn := range tweak {
		fn(&opts)
	}
	sched, err := New(opts)
	require.NoError(t, err)
	t.Cleanup(sched.Dispose)
	f.sched = sched
	return f
}

func (f *fixture) saveRemote(ctx context.Context, data doc.Object) (doc.Object, error) {
	return f.remote.Update(ctx, "scenes", data.ID(), data)
}

func (f *fixture) remoteTexts() []string {
	var out []string
	for _, c := range f.remote.Calls() {
		text, _ := c.Payload.GetString("text")
		out = append(out, text)
	}
	return out
}

func scene(text string) doc.Object {
	return doc.Object{"id": doc.String("s1"), "text": doc.String(text)}
}

func TestNew_RequiresCollaborators(t *testing.T) {
	_, err := New(Options{Kind: "scenes"})
	assert.Error(t, err)
}

func TestOffline_RecordDurableImmediately(t *testing.T) {
	f := newFixture(t, connectivity.Offline)
	ctx := context.Background()
	rec := doc.Object{
		"id":      doc.String("s1"),
		"text":    doc.String("Cafe\u0301 <b>"),
		"zoom":    doc.Float(1.25),
		"order":   doc.Int(3),
		"tags":    doc.Array{doc.String("a")},
		"\u00e9":  doc.String("composed key"),
		"e\u0301": doc.String("decomposed key"),
	}

	f.sched.Set(rec)
	res, err := f.sched.SaveNow(ctx)
	require.NoError(t, err)
	assert.Equal(t, PathLocal, res.Path)

	got, ok, err := f.store.Get(ctx, "scenes", "s1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, rec, got)

	unsynced, err := f.log.Unsynced(ctx)
	require.NoError(t, err)
	require.Len(t, unsynced, 1)
	assert.Equal(t, changelog.Update, unsynced[0].Type)
	assert.Equal(t, "s1", unsynced[0].EntityID)
	assert.Equal(t, rec, unsynced[0].Payload)

	assert.Equal(t, 1, f.pending.value())
	assert.Empty(t, f.remote.Calls(), "offline path never calls the remote")
	assert.Equal(t, []Path{PathLocal}, f.saves)
}

func TestSaveNow_TwiceUnchangedWritesOnce(t *testing.T) {
	f := newFixture(t, connectivity.Online)
	ctx := context.Background()
	f.sched.Set(scene("draft"))

	first, err := f.sched.SaveNow(ctx)
	require.NoError(t, err)
	second, err := f.sched.SaveNow(ctx)
	require.NoError(t, err)

	assert.Equal(t, PathRemote, first.Path)
	assert.Equal(t, SkipUnchanged, second.Skipped)
	assert.Equal(t, 1, f.remote.CallCount("update"))
}

func TestSaveNow_KeyOrderIsNotAChange(t *testing.T) {
	f := newFixture(t, connectivity.Online)
	ctx := context.Background()

	f.sched.Set(doc.Object{"id": doc.String("s1"), "a": doc.Int(1), "b": doc.String("x")})
	_, err := f.sched.SaveNow(ctx)
	require.NoError(t, err)

	f.sched.Set(doc.Object{"b": doc.String("x"), "a": doc.Int(1), "id": doc.String("s1")})
	res, err := f.sched.SaveNow(ctx)
	require.NoError(t, err)
	assert.Equal(t, SkipUnchanged, res.Skipped)
	assert.Equal(t, 1, f.remote.CallCount("update"))
}

func TestSaveNow_UnicodeFormChangeIsSaved(t *testing.T) {
	f := newFixture(t, connectivity.Online)
	ctx := context.Background()

	f.sched.Set(scene("Caf\u00e9"))
	_, err := f.sched.SaveNow(ctx)
	require.NoError(t, err)

	f.sched.Set(scene("Cafe\u0301"))
	assert.True(t, f.sched.IsDirty())
	res, err := f.sched.SaveNow(ctx)
	require.NoError(t, err)
	assert.Empty(t, res.Skipped)
	assert.Equal(t, PathRemote, res.Path)
	assert.Equal(t, []string{"Caf\u00e9", "Cafe\u0301"}, f.remoteTexts())

	got, ok := f.remote.Record("scenes", "s1")
	require.True(t, ok)
	text, _ := got.GetString("text")
	assert.Equal(t, "Cafe\u0301", text)
}

func TestSaveNow_NothingToSave(t *testing.T) {
	f := newFixture(t, connectivity.Online)
	res, err := f.sched.SaveNow(context.Background())
	require.NoError(t, err)
	assert.Equal(t, SkipEmpty, res.Skipped)
}

func TestOnline_CachesNormalizedRecord(t *testing.T) {
	f := newFixture(t, connectivity.Online, func(o *Options) {
		o.Save = func(ctx context.Context, data doc.Object) (doc.Object, error) {
			return data.With("updatedAt", doc.String("2026-03-01T12:00:00Z")), nil
		}
	})
	ctx := context.Background()
	f.sched.Set(scene("draft"))

	_, err := f.sched.SaveNow(ctx)
	require.NoError(t, err)

	cached, ok, err := f.store.Get(ctx, "scenes", "s1")
	require.NoError(t, err)
	require.True(t, ok)
	updatedAt, _ := cached.GetString("updatedAt")
	assert.Equal(t, "2026-03-01T12:00:00Z", updatedAt)

	unsynced, err := f.log.Unsynced(ctx)
	require.NoError(t, err)
	assert.Empty(t, unsynced, "online saves are not queued")
	assert.Zero(t, f.pending.value())
}

func TestOnline_FailureKeepsPayloadForRetry(t *testing.T) {
	f := newFixture(t, connectivity.Online)
	ctx := context.Background()
	f.remote.FailWith("scenes", "s1", errors.New("503"))
	f.sched.Set(scene("draft"))

	_, err := f.sched.SaveNow(ctx)
	require.Error(t, err)
	assert.True(t, syncerr.IsRemoteWriteFailed(err))
	require.Len(t, f.errors, 1)
	assert.True(t, f.sched.IsDirty())

	f.remote.FailWith("scenes", "s1", nil)
	res, err := f.sched.SaveNow(ctx)
	require.NoError(t, err)
	assert.Equal(t, PathRemote, res.Path)
	assert.Equal(t, []string{"draft", "draft"}, f.remoteTexts())
	assert.False(t, f.sched.IsDirty())
}

func TestOnline_StoreUnavailableDegradesToRemoteOnly(t *testing.T) {
	f := newFixture(t, connectivity.Online)
	f.store.SetUnavailable(errors.New("quota exceeded"))
	f.sched.Set(scene("draft"))

	res, err := f.sched.SaveNow(context.Background())
	require.NoError(t, err)
	assert.Equal(t, PathRemoteOnly, res.Path)
	assert.Equal(t, 1, f.remote.CallCount("update"))
	assert.Empty(t, f.errors)
}

func TestOffline_StoreUnavailableFailsLoudly(t *testing.T) {
	f := newFixture(t, connectivity.Offline)
	f.store.SetUnavailable(errors.New("storage disabled"))
	f.sched.Set(scene("draft"))

	_, err := f.sched.SaveNow(context.Background())
	require.Error(t, err)
	assert.True(t, syncerr.IsStoreUnavailable(err))
	require.Len(t, f.errors, 1)
	assert.True(t, f.sched.IsDirty(), "edit stays pending, not discarded")
	assert.Zero(t, f.pending.value())
}

func TestOffline_DisabledFails(t *testing.T) {
	f := newFixture(t, connectivity.Offline, func(o *Options) { o.DisableOffline = true })
	f.sched.Set(scene("draft"))

	_, err := f.sched.SaveNow(context.Background())
	assert.ErrorIs(t, err, ErrOffline)
	all, _ := f.log.All(context.Background())
	assert.Empty(t, all)
}

func TestDebounce_BurstWritesLastEditOnce(t *testing.T) {
	f := newFixture(t, connectivity.Online)

	f.sched.Set(scene("first"))
	f.clock.Advance(500 * time.Millisecond)
	f.sched.Set(scene("second"))

	f.clock.Advance(1999 * time.Millisecond)
	assert.Empty(t, f.remote.Calls(), "debounce restarted by the second edit")

	f.clock.Advance(time.Millisecond)
	assert.Equal(t, []string{"second"}, f.remoteTexts())

	f.clock.Advance(10 * time.Second)
	assert.Equal(t, 1, f.remote.CallCount("update"))
}

func TestPeriodic_FiresThroughContinuousTyping(t *testing.T) {
	f := newFixture(t, connectivity.Online)

	// Type every 500ms for two minutes: the 2s debounce never settles.
	for i := 0; i < 240; i++ {
		f.sched.Set(scene("keystroke " + time.Duration(i).String()))
		f.clock.Advance(500 * time.Millisecond)
	}

	writes := f.remote.CallCount("update")
	assert.GreaterOrEqual(t, writes, 3)
	assert.Equal(t, 4, writes, "one periodic write every 30s")
}

func TestPeriodic_UnchangedContentIsNoop(t *testing.T) {
	f := newFixture(t, connectivity.Online)
	f.sched.Set(scene("draft"))
	_, err := f.sched.SaveNow(context.Background())
	require.NoError(t, err)

	f.clock.Advance(2 * time.Minute)
	assert.Equal(t, 1, f.remote.CallCount("update"))
}

func TestSaveNow_CancelsPendingDebounce(t *testing.T) {
	f := newFixture(t, connectivity.Online)
	f.sched.Set(scene("draft"))
	_, err := f.sched.SaveNow(context.Background())
	require.NoError(t, err)

	f.clock.Advance(5 * time.Second)
	assert.Equal(t, 1, f.remote.CallCount("update"))
}

func TestInFlight_OverlappingTriggerIsDropped(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var calls int
	var mu sync.Mutex
	f := newFixture(t, connectivity.Online, func(o *Options) {
		o.Save = func(ctx context.Context, data doc.Object) (doc.Object, error) {
			mu.Lock()
			calls++
			mu.Unlock()
			close(started)
			<-release
			return data, nil
		}
	})
	f.sched.Set(scene("draft"))

	done := make(chan Result, 1)
	go func() {
		res, _ := f.sched.SaveNow(context.Background())
		done <- res
	}()
	<-started

	res, err := f.sched.SaveNow(context.Background())
	require.NoError(t, err)
	assert.Equal(t, SkipInFlight, res.Skipped)

	close(release)
	first := <-done
	assert.Equal(t, PathRemote, first.Path)
	mu.Lock()
	assert.Equal(t, 1, calls)
	mu.Unlock()
}

func TestFlush_BeaconsDirtyDataAndConfirms(t *testing.T) {
	lc := &lifecycle.Manual{}
	f := newFixture(t, connectivity.Online, func(o *Options) { o.Lifecycle = lc })

	assert.False(t, lc.Terminate().Confirmed(), "nothing to flush yet")

	f.sched.Set(scene("unsaved"))
	ev := lc.Terminate()
	assert.True(t, ev.Confirmed())
	assert.Equal(t, 1, f.remote.CallCount("beacon"))

	_, err := f.sched.SaveNow(context.Background())
	require.NoError(t, err)
	assert.False(t, lc.Terminate().Confirmed())
	assert.Equal(t, 1, f.remote.CallCount("beacon"))
}

func TestDispose_StopsTimersAndUnsubscribes(t *testing.T) {
	lc := &lifecycle.Manual{}
	f := newFixture(t, connectivity.Online, func(o *Options) { o.Lifecycle = lc })
	f.sched.Set(scene("draft"))

	f.sched.Dispose()
	f.sched.Dispose()
	assert.Zero(t, f.clock.Pending())

	f.clock.Advance(time.Minute)
	assert.Empty(t, f.remote.Calls())
	assert.False(t, lc.Terminate().Confirmed())

	_, err := f.sched.SaveNow(context.Background())
	assert.ErrorIs(t, err, ErrDisposed)
}

type sessionSpy struct{ n int }

func (s *sessionSpy) Checkpoint(context.Context) error {
	s.n++
	return errors.New("checkpoint failures are not fatal")
}

func TestSession_CheckpointedOnEverySave(t *testing.T) {
	spy := &sessionSpy{}
	f := newFixture(t, connectivity.Online, func(o *Options) { o.Session = spy })
	ctx := context.Background()

	f.sched.Set(scene("a"))
	_, err := f.sched.SaveNow(ctx)
	require.NoError(t, err)

	f.conn.Set(connectivity.Offline)
	f.sched.Set(scene("b"))
	_, err = f.sched.SaveNow(ctx)
	require.NoError(t, err)

	assert.Equal(t, 2, spy.n)
	assert.Equal(t, []Path{PathRemote, PathLocal}, f.saves)
}
