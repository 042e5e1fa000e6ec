// Package reconcile drains the offline change log against the remote.
//
// A pass walks unsynced changes in enqueue order. Success marks the change
// synced. A conflict is handed to the caller's resolver; the resolved payload
// replaces the change's payload and is retried on the next pass, never in the
// same one. Any other failure bumps the retry count. Conflicts and hard
// failures share that one counter: once it reaches MaxRetries the change is
// skipped by every later pass and reported as RETRY_EXHAUSTED, but it is
// never deleted.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/roach88/autosync/internal/changelog"
	"github.com/roach88/autosync/internal/clock"
	"github.com/roach88/autosync/internal/doc"
	"github.com/roach88/autosync/internal/event"
	"github.com/roach88/autosync/internal/remote"
	"github.com/roach88/autosync/internal/syncerr"
)

// DefaultMaxRetries is the attempt budget per change.
const DefaultMaxRetries = 3

// ErrNoResolver is the cause recorded when a conflict arrives and no
// resolver is configured.
var ErrNoResolver = errors.New("no conflict resolver configured")

// Resolver merges a local payload with the remote's current version. An
// error counts as an ordinary failed attempt.
type Resolver func(ctx context.Context, local, remote doc.Object) (doc.Object, error)

// LocalWins resends the local payload unchanged.
func LocalWins(_ context.Context, local, _ doc.Object) (doc.Object, error) { return local, nil }

// RemoteWins adopts the remote version.
func RemoteWins(_ context.Context, _, remote doc.Object) (doc.Object, error) { return remote, nil }

// ResolverNamed returns the built-in resolver for name: "local", "remote",
// or "none" (and "") for no resolver.
func ResolverNamed(name string) (Resolver, error) {
	switch name {
	case "local":
		return LocalWins, nil
	case "remote":
		return RemoteWins, nil
	case "", "none":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown conflict resolver %q", name)
	}
}

// Status is the derived sync state. It is rebuilt from the change log, never
// persisted on its own.
type Status struct {
	IsSyncing      bool
	LastSyncTime   *time.Time
	PendingChanges int
	Errors         []error
}

// Result summarizes one pass.
type Result struct {
	// Ran is false when the call found a pass already running.
	Ran       bool
	Attempted int
	Synced    int
	Conflicts int
	Failed    int
	Exhausted int
}

// Observer receives per-change outcomes, for metrics.
type Observer interface {
	PassCompleted(res Result)
	PendingChanged(n int)
	ChangeSynced(kind string)
	ChangeFailed(kind, reason string)
}

// Options configures a Reconciler. Log and Remote are required.
type Options struct {
	Log        *changelog.Log
	Remote     remote.Remote
	Resolver   Resolver
	MaxRetries int
	// Limiter, when set, paces remote calls within a pass.
	Limiter  *rate.Limiter
	Clock    clock.Clock
	Logger   *slog.Logger
	Observer Observer
}

// Reconciler runs drain passes and owns the derived Status.
//
// Thread-safety: safe for concurrent use. Concurrent Sync calls do not queue;
// all but the one that starts the pass return immediately.
type Reconciler struct {
	opts Options

	syncing atomic.Bool

	mu     sync.Mutex
	status Status

	subs event.Registry[Status]
}

// New validates opts and returns an idle Reconciler. Call Refresh to load
// the pending count from the log.
func New(opts Options) (*Reconciler, error) {
	if opts.Log == nil {
		return nil, errors.New("reconcile: change log is required")
	}
	if opts.Remote == nil {
		return nil, errors.New("reconcile: remote is required")
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = DefaultMaxRetries
	}
	if opts.Clock == nil {
		opts.Clock = clock.Wall{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Reconciler{opts: opts}, nil
}

// Status returns a copy of the current status.
func (r *Reconciler) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

func (r *Reconciler) snapshotLocked() Status {
	st := r.status
	st.IsSyncing = r.syncing.Load()
	if st.LastSyncTime != nil {
		t := *st.LastSyncTime
		st.LastSyncTime = &t
	}
	st.Errors = append([]error(nil), r.status.Errors...)
	return st
}

// OnStatus registers h for every status change.
func (r *Reconciler) OnStatus(h func(Status)) (unsubscribe func()) {
	return r.subs.Subscribe(h)
}

func (r *Reconciler) publish() {
	st := r.Status()
	if r.opts.Observer != nil {
		r.opts.Observer.PendingChanged(st.PendingChanges)
	}
	r.subs.Emit(st)
}

// AddPending adjusts the pending count when the offline path queues changes.
func (r *Reconciler) AddPending(n int) {
	r.mu.Lock()
	r.status.PendingChanges += n
	if r.status.PendingChanges < 0 {
		r.status.PendingChanges = 0
	}
	r.mu.Unlock()
	r.publish()
}

// Refresh rebuilds the pending count and exhausted-change errors from the log.
func (r *Reconciler) Refresh(ctx context.Context) error {
	changes, err := r.opts.Log.Unsynced(ctx)
	if err != nil {
		return fmt.Errorf("refresh status: %w", err)
	}
	var errs []error
	for _, c := range changes {
		if c.Exhausted(r.opts.MaxRetries) {
			errs = append(errs, syncerr.RetryExhausted(c.ID, c.EntityKind, c.EntityID, c.RetryCount))
		}
	}

	r.mu.Lock()
	r.status.PendingChanges = len(changes)
	r.status.Errors = errs
	r.mu.Unlock()
	r.publish()
	return nil
}

// Sync runs one drain pass. It returns immediately with Result.Ran false if
// a pass is already running. Per-change failures are recorded on Status and
// do not make Sync return an error; only a failure to read the log does.
func (r *Reconciler) Sync(ctx context.Context) (Result, error) {
	if !r.syncing.CompareAndSwap(false, true) {
		return Result{}, nil
	}
	r.publish()
	defer func() {
		r.syncing.Store(false)
		r.publish()
	}()

	res := Result{Ran: true}
	changes, err := r.opts.Log.Unsynced(ctx)
	if err != nil {
		r.setErrors([]error{err})
		return res, fmt.Errorf("sync: %w", err)
	}

	r.opts.Logger.Info("sync pass started", "pending", len(changes))
	var errs []error
	for _, c := range changes {
		if ctx.Err() != nil {
			break
		}
		if c.Exhausted(r.opts.MaxRetries) {
			res.Exhausted++
			errs = append(errs, syncerr.RetryExhausted(c.ID, c.EntityKind, c.EntityID, c.RetryCount))
			continue
		}
		if r.opts.Limiter != nil {
			if err := r.opts.Limiter.Wait(ctx); err != nil {
				break
			}
		}

		res.Attempted++
		errs = append(errs, r.process(ctx, c, &res)...)
	}

	if n, err := r.opts.Log.CountUnsynced(ctx); err == nil {
		r.mu.Lock()
		r.status.PendingChanges = n
		r.mu.Unlock()
	}
	r.setErrors(errs)

	if r.opts.Observer != nil {
		r.opts.Observer.PassCompleted(res)
	}
	r.opts.Logger.Info("sync pass finished",
		"attempted", res.Attempted, "synced", res.Synced, "conflicts", res.Conflicts,
		"failed", res.Failed, "exhausted", res.Exhausted)
	return res, nil
}

// process dispatches one change and records the outcome. It returns the
// errors to surface on Status.
func (r *Reconciler) process(ctx context.Context, c changelog.Change, res *Result) []error {
	log := r.opts.Logger.With("change_id", c.ID, "entity_kind", c.EntityKind, "entity_id", c.EntityID)

	err := r.dispatch(ctx, c)
	if err == nil {
		if err := r.opts.Log.MarkSynced(ctx, c.ID); err != nil {
			log.Error("remote accepted change but marking it synced failed", "error", err)
			return []error{err}
		}
		res.Synced++
		now := r.opts.Clock.Now()
		r.mu.Lock()
		r.status.LastSyncTime = &now
		if r.status.PendingChanges > 0 {
			r.status.PendingChanges--
		}
		r.mu.Unlock()
		r.publish()
		if r.opts.Observer != nil {
			r.opts.Observer.ChangeSynced(c.EntityKind)
		}
		log.Debug("change synced")
		return nil
	}

	reason := "remote"
	if syncerr.IsConflict(err) {
		res.Conflicts++
		resolved, rerr := r.resolve(ctx, c, err)
		if rerr == nil {
			c.Payload = resolved
			c.RetryCount++
			c.LastError = err.Error()
			log.Info("conflict resolved, retrying next pass", "retry_count", c.RetryCount)
			if r.opts.Observer != nil {
				r.opts.Observer.ChangeFailed(c.EntityKind, "conflict")
			}
			return r.persist(ctx, c, nil)
		}
		err, reason = rerr, "resolve"
	}

	res.Failed++
	c.RetryCount++
	c.LastError = err.Error()
	log.Warn("change failed", "retry_count", c.RetryCount, "error", err)
	if r.opts.Observer != nil {
		r.opts.Observer.ChangeFailed(c.EntityKind, reason)
	}
	return r.persist(ctx, c, err)
}

// persist writes back retry bookkeeping and reports the change as exhausted
// if this attempt used up its budget.
func (r *Reconciler) persist(ctx context.Context, c changelog.Change, cause error) []error {
	var errs []error
	if cause != nil {
		errs = append(errs, cause)
	}
	if err := r.opts.Log.Update(ctx, c); err != nil {
		r.opts.Logger.Error("persisting retry count failed", "change_id", c.ID, "error", err)
		errs = append(errs, err)
	}
	if c.Exhausted(r.opts.MaxRetries) {
		errs = append(errs, syncerr.RetryExhausted(c.ID, c.EntityKind, c.EntityID, c.RetryCount))
	}
	return errs
}

func (r *Reconciler) dispatch(ctx context.Context, c changelog.Change) error {
	switch c.Type {
	case changelog.Create:
		_, err := r.opts.Remote.Create(ctx, c.EntityKind, c.Payload)
		return err
	case changelog.Update:
		_, err := r.opts.Remote.Update(ctx, c.EntityKind, c.EntityID, c.Payload)
		return err
	case changelog.Delete:
		return r.opts.Remote.Delete(ctx, c.EntityKind, c.EntityID)
	default:
		return syncerr.RemoteWriteFailed(c.EntityKind, c.EntityID, fmt.Errorf("unknown change type %q", c.Type))
	}
}

func (r *Reconciler) resolve(ctx context.Context, c changelog.Change, conflict error) (doc.Object, error) {
	if r.opts.Resolver == nil {
		return nil, syncerr.ResolveFailed(c.ID, c.EntityKind, c.EntityID, ErrNoResolver)
	}
	var remoteRec doc.Object
	var ce *remote.ConflictError
	if errors.As(conflict, &ce) {
		remoteRec = ce.Remote.Clone()
	}
	resolved, err := r.opts.Resolver(ctx, c.Payload.Clone(), remoteRec)
	if err != nil {
		return nil, syncerr.ResolveFailed(c.ID, c.EntityKind, c.EntityID, err)
	}
	if resolved == nil {
		return nil, syncerr.ResolveFailed(c.ID, c.EntityKind, c.EntityID, errors.New("resolver returned no record"))
	}
	return resolved, nil
}

func (r *Reconciler) setErrors(errs []error) {
	r.mu.Lock()
	r.status.Errors = errs
	r.mu.Unlock()
}
