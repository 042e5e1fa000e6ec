package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/roach88/autosync/internal/autosave"
	"github.com/roach88/autosync/internal/changelog"
	"github.com/roach88/autosync/internal/clock"
	"github.com/roach88/autosync/internal/connectivity"
	"github.com/roach88/autosync/internal/doc"
	"github.com/roach88/autosync/internal/lifecycle"
	"github.com/roach88/autosync/internal/reconcile"
	"github.com/roach88/autosync/internal/remote"
	"github.com/roach88/autosync/internal/session"
	"github.com/roach88/autosync/internal/store"
)

var (
	// ErrStarted is returned by a second call to Start.
	ErrStarted = errors.New("engine: already started")
	// ErrDisposed is returned after Dispose.
	ErrDisposed = errors.New("engine: disposed")
)

// Observer receives save and sync outcomes. *metrics.Metrics implements it.
type Observer interface {
	autosave.Observer
	reconcile.Observer
}

// Options configures an Engine. Store and Remote are required.
type Options struct {
	Store  store.RecordStore
	Remote remote.Remote
	// Beacon defaults to Remote when it implements remote.Beaconer.
	Beacon   remote.Beaconer
	Resolver reconcile.Resolver

	// Connectivity defaults to always online.
	Connectivity connectivity.Source
	Lifecycle    lifecycle.Source

	Notifier Notifier
	Observer Observer
	Viewport session.Viewport
	IDs      changelog.IDGenerator
	Clock    clock.Clock
	Logger   *slog.Logger

	Limiter        *rate.Limiter
	MaxRetries     int
	Debounce       time.Duration
	Interval       time.Duration
	DisableOffline bool

	SessionRetention time.Duration
	ChangeRetention  time.Duration
	// CleanupOnStart prunes expired sessions and synced changes in Start.
	CleanupOnStart bool
}

// AutosaveOptions configures one entity's scheduler.
type AutosaveOptions struct {
	// Save defaults to an update (or create, for records without an id)
	// against the engine's remote.
	Save    autosave.SaveFunc
	OnSave  func(rec doc.Object, path autosave.Path)
	OnError func(err error)
}

// Engine is the local-first sync engine.
//
// Thread-safety: all methods are safe for concurrent use. Run must be called
// by at most one goroutine.
type Engine struct {
	opts     Options
	logger   *slog.Logger
	notifier Notifier

	changes    *changelog.Log
	reconciler *reconcile.Reconciler
	sessions   *session.Manager
	queue      *eventQueue

	mu         sync.Mutex
	started    bool
	disposed   bool
	unsubConn  func()
	schedulers []*autosave.Scheduler
}

// New wires the components. It performs no I/O; call Start to open the store.
func New(opts Options) (*Engine, error) {
	if opts.Store == nil {
		return nil, errors.New("engine: store is required")
	}
	if opts.Remote == nil {
		return nil, errors.New("engine: remote is required")
	}
	if opts.Clock == nil {
		opts.Clock = clock.Wall{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Notifier == nil {
		opts.Notifier = LogNotifier{Logger: opts.Logger}
	}
	if opts.Beacon == nil {
		if b, ok := opts.Remote.(remote.Beaconer); ok {
			opts.Beacon = b
		}
	}

	logOpts := []changelog.Option{changelog.WithClock(opts.Clock)}
	if opts.IDs != nil {
		logOpts = append(logOpts, changelog.WithIDGenerator(opts.IDs))
	}
	changes := changelog.New(opts.Store, logOpts...)

	var syncObserver reconcile.Observer
	if opts.Observer != nil {
		syncObserver = opts.Observer
	}
	rec, err := reconcile.New(reconcile.Options{
		Log:        changes,
		Remote:     opts.Remote,
		Resolver:   opts.Resolver,
		MaxRetries: opts.MaxRetries,
		Limiter:    opts.Limiter,
		Clock:      opts.Clock,
		Logger:     opts.Logger.With("component", "reconcile"),
		Observer:   syncObserver,
	})
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}

	sessOpts := []session.Option{
		session.WithClock(opts.Clock),
		session.WithLogger(opts.Logger.With("component", "session")),
		session.WithChangeLog(changes),
		session.WithRetention(opts.SessionRetention, opts.ChangeRetention),
	}
	if opts.Viewport != nil {
		sessOpts = append(sessOpts, session.WithViewport(opts.Viewport))
	}

	return &Engine{
		opts:       opts,
		logger:     opts.Logger.With("component", "engine"),
		notifier:   opts.Notifier,
		changes:    changes,
		reconciler: rec,
		sessions:   session.New(opts.Store, sessOpts...),
		queue:      newEventQueue(),
	}, nil
}

// Start opens the store, loads the pending count and subscribes to
// connectivity. When already online with pending changes a sync is queued.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.disposed {
		e.mu.Unlock()
		return ErrDisposed
	}
	if e.started {
		e.mu.Unlock()
		return ErrStarted
	}
	e.started = true
	e.mu.Unlock()

	if err := e.opts.Store.Init(ctx); err != nil {
		return fmt.Errorf("engine start: %w", err)
	}
	if err := e.reconciler.Refresh(ctx); err != nil {
		return fmt.Errorf("engine start: %w", err)
	}
	if e.opts.CleanupOnStart {
		if res, err := e.sessions.Cleanup(ctx); err != nil {
			e.logger.Warn("cleanup failed", "error", err)
		} else {
			e.logger.Debug("cleanup finished", "sessions", res.Sessions, "changes", res.Changes)
		}
	}

	if e.opts.Connectivity != nil {
		unsub := e.opts.Connectivity.Subscribe(func(s connectivity.State) {
			if s == connectivity.Online {
				e.queue.Enqueue(Event{Type: EventOnline})
			} else {
				e.queue.Enqueue(Event{Type: EventOffline})
			}
		})
		e.mu.Lock()
		e.unsubConn = unsub
		e.mu.Unlock()
	}

	st := e.reconciler.Status()
	e.logger.Info("engine started", "online", e.online(), "pending", st.PendingChanges)
	if e.online() && st.PendingChanges > 0 {
		e.queue.Enqueue(Event{Type: EventSync})
	}
	return nil
}

// Run processes queued events until ctx is cancelled or the engine is
// disposed.
func (e *Engine) Run(ctx context.Context) error {
	for {
		if ev, ok := e.queue.TryDequeue(); ok {
			e.handle(ctx, ev)
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case _, ok := <-e.queue.Wait():
			if !ok {
				return nil
			}
		}
	}
}

// Drain handles every queued event on the calling goroutine and returns how
// many were handled. Do not mix with a running Run loop.
func (e *Engine) Drain(ctx context.Context) int {
	n := 0
	for {
		ev, ok := e.queue.TryDequeue()
		if !ok {
			return n
		}
		e.handle(ctx, ev)
		n++
	}
}

// RequestSync queues a reconciliation pass for the Run loop.
func (e *Engine) RequestSync() bool {
	return e.queue.Enqueue(Event{Type: EventSync})
}

func (e *Engine) handle(ctx context.Context, ev Event) {
	e.logger.Debug("event", "type", ev.Type.String())
	switch ev.Type {
	case EventOnline:
		n := e.reconciler.Status().PendingChanges
		msg := "Back online"
		if n > 0 {
			msg = fmt.Sprintf("Back online, syncing %d pending change(s)", n)
		}
		e.notifier.Notify(Notice{Kind: NoticeOnline, Message: msg})
		e.sync(ctx)
	case EventOffline:
		e.notifier.Notify(Notice{
			Kind:    NoticeOffline,
			Message: "You are offline. Changes are saved locally and will sync when you reconnect",
		})
	case EventSync:
		e.sync(ctx)
	}
}

func (e *Engine) sync(ctx context.Context) {
	if !e.online() {
		e.logger.Debug("sync skipped while offline")
		return
	}
	res, err := e.reconciler.Sync(ctx)
	if err != nil {
		e.notifier.Notify(Notice{Kind: NoticeSyncFailed, Message: fmt.Sprintf("Sync failed: %v", err)})
		return
	}
	if !res.Ran {
		return
	}
	st := e.reconciler.Status()
	switch {
	case res.Failed > 0 || res.Exhausted > 0:
		e.notifier.Notify(Notice{
			Kind:    NoticeSyncFailed,
			Message: fmt.Sprintf("%d change(s) could not be synced", st.PendingChanges),
		})
	case res.Synced > 0 && st.PendingChanges == 0:
		e.notifier.Notify(Notice{Kind: NoticeSyncSettled, Message: "All changes synced"})
	}
}

// Sync runs one reconciliation pass on the calling goroutine.
func (e *Engine) Sync(ctx context.Context) (reconcile.Result, error) {
	return e.reconciler.Sync(ctx)
}

// Status returns the reconciler's status snapshot.
func (e *Engine) Status() reconcile.Status {
	return e.reconciler.Status()
}

// OnStatus subscribes to status changes.
func (e *Engine) OnStatus(h func(reconcile.Status)) (unsubscribe func()) {
	return e.reconciler.OnStatus(h)
}

// Changes returns the offline change log.
func (e *Engine) Changes() *changelog.Log { return e.changes }

// Sessions returns the session manager.
func (e *Engine) Sessions() *session.Manager { return e.sessions }

// Cleanup prunes expired sessions and synced changes.
func (e *Engine) Cleanup(ctx context.Context) (session.CleanupResult, error) {
	return e.sessions.Cleanup(ctx)
}

// Autosave returns a scheduler for kind wired to the engine's store, change
// log, connectivity, lifecycle, session and pending counter.
func (e *Engine) Autosave(kind string, o AutosaveOptions) (*autosave.Scheduler, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.disposed {
		return nil, ErrDisposed
	}

	save := o.Save
	if save == nil {
		save = e.remoteSave(kind)
	}
	var observer autosave.Observer
	if e.opts.Observer != nil {
		observer = e.opts.Observer
	}
	s, err := autosave.New(autosave.Options{
		Kind:           kind,
		Save:           save,
		Store:          e.opts.Store,
		Changes:        e.changes,
		Connectivity:   e.opts.Connectivity,
		Lifecycle:      e.opts.Lifecycle,
		Beacon:         e.opts.Beacon,
		Session:        e.sessions,
		Pending:        e.reconciler,
		Observer:       observer,
		Clock:          e.opts.Clock,
		Logger:         e.opts.Logger.With("component", "autosave"),
		Debounce:       e.opts.Debounce,
		Interval:       e.opts.Interval,
		DisableOffline: e.opts.DisableOffline,
		OnSave: func(rec doc.Object, path autosave.Path) {
			if path == autosave.PathLocal {
				e.notifier.Notify(Notice{
					Kind:    NoticeSavedLocal,
					Message: "Saved locally, will sync when back online",
				})
			}
			if o.OnSave != nil {
				o.OnSave(rec, path)
			}
		},
		OnError: func(err error) {
			e.notifier.Notify(Notice{Kind: NoticeSaveFailed, Message: fmt.Sprintf("Save failed: %v", err)})
			if o.OnError != nil {
				o.OnError(err)
			}
		},
	})
	if err != nil {
		return nil, err
	}
	e.schedulers = append(e.schedulers, s)
	return s, nil
}

// Release disposes a scheduler returned by Autosave and forgets it. Unsaved
// edits held by s are dropped; callers release only clean schedulers.
func (e *Engine) Release(s *autosave.Scheduler) {
	e.mu.Lock()
	for i, cur := range e.schedulers {
		if cur == s {
			e.schedulers = append(e.schedulers[:i], e.schedulers[i+1:]...)
			break
		}
	}
	e.mu.Unlock()
	s.Dispose()
}

func (e *Engine) remoteSave(kind string) autosave.SaveFunc {
	return func(ctx context.Context, data doc.Object) (doc.Object, error) {
		if id := data.ID(); id != "" {
			return e.opts.Remote.Update(ctx, kind, id, data)
		}
		return e.opts.Remote.Create(ctx, kind, data)
	}
}

func (e *Engine) online() bool {
	if e.opts.Connectivity == nil {
		return true
	}
	return e.opts.Connectivity.State() == connectivity.Online
}

// Dispose releases subscriptions, disposes every scheduler created by
// Autosave and stops Run. The store is left open. Safe to call more than once.
func (e *Engine) Dispose() {
	e.mu.Lock()
	if e.disposed {
		e.mu.Unlock()
		return
	}
	e.disposed = true
	unsub := e.unsubConn
	scheds := e.schedulers
	e.schedulers = nil
	e.mu.Unlock()

	if unsub != nil {
		unsub()
	}
	for _, s := range scheds {
		s.Dispose()
	}
	e.queue.Close()
	e.logger.Debug("engine disposed")
}
