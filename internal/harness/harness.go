package harness

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/roach88/autosync/internal/autosave"
	"github.com/roach88/autosync/internal/clock"
	"github.com/roach88/autosync/internal/connectivity"
	"github.com/roach88/autosync/internal/doc"
	"github.com/roach88/autosync/internal/engine"
	"github.com/roach88/autosync/internal/lifecycle"
	"github.com/roach88/autosync/internal/reconcile"
	"github.com/roach88/autosync/internal/remote"
	"github.com/roach88/autosync/internal/session"
	"github.com/roach88/autosync/internal/store"
	"github.com/roach88/autosync/internal/testutil"
)

// Epoch is the fake clock's starting instant.
var Epoch = time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)

// Harness holds one scenario run's wiring.
type Harness struct {
	engine     *engine.Engine
	store      *store.Memory
	remote     *remote.Memory
	conn       *connectivity.Manual
	life       *lifecycle.Manual
	clock      *clock.Fake
	trace      *tracer
	schedulers map[string]*autosave.Scheduler
}

// Run executes s against a freshly wired engine and evaluates its
// assertions. The returned error is reserved for setup failures and steps
// that could not run; failed assertions are reported on the Result.
func Run(s *Scenario) (*Result, error) {
	return RunWithLogger(s, testutil.DiscardLogger())
}

// RunWithLogger is Run with engine logs sent to logger.
func RunWithLogger(s *Scenario, logger *slog.Logger) (*Result, error) {
	ctx := context.Background()
	result := NewResult()

	defs := make([]store.Def, 0, len(s.Entities))
	for _, kind := range s.Entities {
		defs = append(defs, store.Def{Name: kind})
	}

	h := &Harness{
		store:      store.NewMemory(defs...),
		remote:     remote.NewMemory(),
		conn:       connectivity.NewManual(connectivity.State(s.Online)),
		life:       &lifecycle.Manual{},
		clock:      clock.NewFake(Epoch),
		trace:      &tracer{result: result},
		schedulers: make(map[string]*autosave.Scheduler),
	}
	for i, seed := range s.Seed {
		rec, err := toObject(seed.Record)
		if err != nil {
			return nil, fmt.Errorf("seed[%d]: %w", i, err)
		}
		h.remote.Seed(seed.Kind, rec)
	}

	opts := engine.Options{
		Store:        h.store,
		Remote:       &tracingRemote{mem: h.remote, trace: h.trace},
		Resolver:     resolverFor(s.Resolver),
		Connectivity: h.conn,
		Lifecycle:    h.life,
		Notifier:     h.trace,
		Observer:     h.trace,
		Viewport:     &session.MemoryViewport{},
		IDs:          testutil.NewSequentialIDs("change"),
		Clock:        h.clock,
		Logger:       logger,
		MaxRetries:   s.MaxRetries,
	}
	// Durations were checked by validateScenario.
	if s.Debounce != "" {
		opts.Debounce, _ = time.ParseDuration(s.Debounce)
	}
	if s.Interval != "" {
		opts.Interval, _ = time.ParseDuration(s.Interval)
	}

	eng, err := engine.New(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create engine: %w", err)
	}
	defer eng.Dispose()
	if err := eng.Start(ctx); err != nil {
		return nil, fmt.Errorf("failed to start engine: %w", err)
	}
	h.engine = eng

	for i, step := range s.Steps {
		if err := h.execute(ctx, step); err != nil {
			return nil, fmt.Errorf("steps[%d] %s: %w", i, step.Op, err)
		}
	}

	actx := &AssertionContext{Ctx: ctx, Store: h.store, Remote: h.remote, Engine: eng}
	for _, msg := range EvaluateAssertions(result, s.Assertions, actx) {
		result.AddError(msg)
	}
	return result, nil
}

func (h *Harness) execute(ctx context.Context, st Step) error {
	switch st.Op {
	case OpSet:
		sched, err := h.scheduler(st.Kind)
		if err != nil {
			return err
		}
		data, err := toObject(st.Data)
		if err != nil {
			return err
		}
		sched.Set(data)
	case OpType:
		return h.typeText(st)
	case OpAdvance:
		d, _ := time.ParseDuration(st.Duration)
		h.clock.Advance(d)
	case OpSave:
		sched, err := h.scheduler(st.Kind)
		if err != nil {
			return err
		}
		// Save failures are traced through the notifier; they are outcomes,
		// not harness errors.
		_, _ = sched.SaveNow(ctx)
	case OpConnect:
		h.trace.record(EventConnectivity, "", "", connectivity.Online.String())
		h.conn.Set(connectivity.Online)
	case OpDisconnect:
		h.trace.record(EventConnectivity, "", "", connectivity.Offline.String())
		h.conn.Set(connectivity.Offline)
	case OpDrain:
		h.engine.Drain(ctx)
	case OpSync:
		if _, err := h.engine.Sync(ctx); err != nil {
			return err
		}
	case OpTerminate:
		h.life.Terminate()
	case OpFail:
		if st.Error == "" {
			h.remote.FailWith(st.Kind, st.ID, nil)
		} else {
			h.remote.FailWith(st.Kind, st.ID, errors.New(st.Error))
		}
	case OpConflict:
		rec, err := toObject(st.Data)
		if err != nil {
			return err
		}
		h.remote.ConflictOnce(st.Kind, st.ID, rec)
	case OpSession:
		sm := h.engine.Sessions()
		sm.SetUser(st.User)
		sm.SetContext(st.Project, st.Scene)
	case OpRecover:
		snap, err := h.engine.Sessions().Recover(ctx, st.User)
		if err != nil {
			return err
		}
		detail := ""
		if snap != nil {
			detail = snap.SceneID
		}
		h.trace.record(EventRecovered, "", st.User, detail)
	case OpCleanup:
		res, err := h.engine.Cleanup(ctx)
		if err != nil {
			return err
		}
		h.trace.record(EventCleanup, "", "",
			fmt.Sprintf("sessions=%d changes=%d", res.Sessions, res.Changes))
	default:
		return fmt.Errorf("unknown op %q", st.Op)
	}
	return nil
}

// typeText simulates continuous typing: every tick rewrites st.Field with a
// keystroke counter and advances the clock.
func (h *Harness) typeText(st Step) error {
	sched, err := h.scheduler(st.Kind)
	if err != nil {
		return err
	}
	base, err := toObject(st.Data)
	if err != nil {
		return err
	}
	total, _ := time.ParseDuration(st.Duration)
	every, _ := time.ParseDuration(st.Every)
	prefix, _ := base.GetString(st.Field)
	for i := 1; time.Duration(i)*every <= total; i++ {
		sched.Set(base.With(st.Field, doc.String(prefix+strconv.Itoa(i))))
		h.clock.Advance(every)
	}
	return nil
}

func (h *Harness) scheduler(kind string) (*autosave.Scheduler, error) {
	if s, ok := h.schedulers[kind]; ok {
		return s, nil
	}
	s, err := h.engine.Autosave(kind, engine.AutosaveOptions{})
	if err != nil {
		return nil, err
	}
	h.schedulers[kind] = s
	return s, nil
}

func toObject(m map[string]any) (doc.Object, error) {
	v, err := doc.FromAny(m)
	if err != nil {
		return nil, err
	}
	obj, ok := v.(doc.Object)
	if !ok {
		return nil, fmt.Errorf("expected an object, got %T", v)
	}
	return obj, nil
}

func resolverFor(name string) reconcile.Resolver {
	if name == "fail" {
		return func(context.Context, doc.Object, doc.Object) (doc.Object, error) {
			return nil, errors.New("cannot merge")
		}
	}
	r, _ := reconcile.ResolverNamed(name)
	return r
}

// tracer records notices and save/sync outcomes as trace events.
type tracer struct {
	mu     sync.Mutex
	seq    testutil.Sequence
	result *Result
}

var (
	_ engine.Notifier = (*tracer)(nil)
	_ engine.Observer = (*tracer)(nil)
)

func (t *tracer) record(event, kind, id, detail string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.result.Trace = append(t.result.Trace, TraceEvent{
		Seq:    t.seq.Next(),
		Event:  event,
		Kind:   kind,
		ID:     id,
		Detail: detail,
	})
}

func (t *tracer) Notify(n engine.Notice) { t.record(EventNotice, "", "", string(n.Kind)) }

func (t *tracer) Saved(kind string, path autosave.Path) { t.record(EventSave, kind, "", string(path)) }

func (t *tracer) Skipped(kind, reason string) { t.record(EventSkip, kind, "", reason) }

func (t *tracer) PassCompleted(res reconcile.Result) {
	t.record(EventSyncPass, "", "", fmt.Sprintf("attempted=%d synced=%d conflicts=%d failed=%d exhausted=%d",
		res.Attempted, res.Synced, res.Conflicts, res.Failed, res.Exhausted))
}

func (t *tracer) PendingChanged(int) {}

func (t *tracer) ChangeSynced(kind string) { t.record(EventSyncOK, kind, "", "") }

func (t *tracer) ChangeFailed(kind, reason string) { t.record(EventSyncFailed, kind, "", reason) }

// tracingRemote records every remote call and its outcome.
type tracingRemote struct {
	mem   *remote.Memory
	trace *tracer
}

var (
	_ remote.Remote   = (*tracingRemote)(nil)
	_ remote.Beaconer = (*tracingRemote)(nil)
)

func (r *tracingRemote) Create(ctx context.Context, kind string, payload doc.Object) (doc.Object, error) {
	rec, err := r.mem.Create(ctx, kind, payload)
	r.trace.record(eventRemotePrefix+"create", kind, payload.ID(), outcome(err))
	return rec, err
}

func (r *tracingRemote) Update(ctx context.Context, kind, id string, payload doc.Object) (doc.Object, error) {
	rec, err := r.mem.Update(ctx, kind, id, payload)
	r.trace.record(eventRemotePrefix+"update", kind, id, outcome(err))
	return rec, err
}

func (r *tracingRemote) Delete(ctx context.Context, kind, id string) error {
	err := r.mem.Delete(ctx, kind, id)
	r.trace.record(eventRemotePrefix+"delete", kind, id, outcome(err))
	return err
}

func (r *tracingRemote) Beacon(kind, id string, payload doc.Object) {
	r.mem.Beacon(kind, id, payload)
	r.trace.record(eventRemotePrefix+"beacon", kind, id, "sent")
}

func outcome(err error) string {
	var ce *remote.ConflictError
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &ce):
		return "conflict"
	default:
		return "error"
	}
}
