package autosave

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/roach88/autosync/internal/changelog"
	"github.com/roach88/autosync/internal/clock"
	"github.com/roach88/autosync/internal/connectivity"
	"github.com/roach88/autosync/internal/doc"
	"github.com/roach88/autosync/internal/lifecycle"
	"github.com/roach88/autosync/internal/remote"
	"github.com/roach88/autosync/internal/store"
	"github.com/roach88/autosync/internal/syncerr"
)

// Defaults for the two timers.
const (
	DefaultDebounce = 2 * time.Second
	DefaultInterval = 30 * time.Second
)

var (
	// ErrOffline is reported when a save is attempted offline with offline
	// support disabled.
	ErrOffline = errors.New("offline and offline saving is disabled")

	// ErrDisposed is returned by SaveNow after Dispose.
	ErrDisposed = errors.New("scheduler disposed")
)

// Trigger names what started a save.
type Trigger string

const (
	TriggerDebounce Trigger = "debounce"
	TriggerPeriodic Trigger = "periodic"
	TriggerManual   Trigger = "manual"
)

// Path is where a completed save went.
type Path string

const (
	// PathRemote: written to the remote and cached locally.
	PathRemote Path = "remote"
	// PathRemoteOnly: written to the remote; the local cache was unavailable.
	PathRemoteOnly Path = "remote_only"
	// PathLocal: written locally and queued for sync.
	PathLocal Path = "local"
)

// Skip reasons.
const (
	SkipEmpty     = "empty"
	SkipUnchanged = "unchanged"
	SkipInFlight  = "in_flight"
)

// SaveFunc performs the remote write and returns the record as normalized
// by the remote.
type SaveFunc func(ctx context.Context, data doc.Object) (doc.Object, error)

// Checkpointer refreshes recovery context after a successful save.
type Checkpointer interface {
	Checkpoint(ctx context.Context) error
}

// PendingCounter is told about changes queued by the offline path.
type PendingCounter interface {
	AddPending(n int)
}

// Observer receives save outcomes, for metrics.
type Observer interface {
	Saved(kind string, path Path)
	Skipped(kind, reason string)
}

// Options configures a Scheduler. Kind, Save, Store and Changes are required.
type Options struct {
	Kind    string
	Save    SaveFunc
	Store   store.RecordStore
	Changes *changelog.Log

	// Connectivity reports online state. Nil means always online.
	Connectivity connectivity.Source
	// Lifecycle, when set, triggers Flush on termination.
	Lifecycle lifecycle.Source
	// Beacon sends the unload flush. Without it Flush only reports dirtiness.
	Beacon remote.Beaconer

	Session  Checkpointer
	Pending  PendingCounter
	Observer Observer

	Clock    clock.Clock
	Logger   *slog.Logger
	Debounce time.Duration
	Interval time.Duration
	// DisableOffline turns the offline path off: saves while offline fail
	// with ErrOffline instead of queueing.
	DisableOffline bool

	OnSave  func(rec doc.Object, path Path)
	OnError func(err error)
}

// Result describes one run of the save routine.
type Result struct {
	Trigger Trigger
	// Skipped is non-empty when nothing was written.
	Skipped string
	Path    Path
	Record  doc.Object
}

// Scheduler commits one entity's working copy.
//
// Thread-safety: all methods are safe for concurrent use. Timer callbacks run
// on the clock's goroutine.
type Scheduler struct {
	opts Options

	inFlight atomic.Bool

	mu       sync.Mutex
	data     doc.Object
	lastHash string
	debounce clock.Timer
	periodic clock.Timer
	unsub    func()
	disposed bool
}

// New validates opts, starts the periodic timer and subscribes to lifecycle.
func New(opts Options) (*Scheduler, error) {
	switch {
	case opts.Kind == "":
		return nil, errors.New("autosave: kind is required")
	case opts.Save == nil:
		return nil, errors.New("autosave: save function is required")
	case opts.Store == nil:
		return nil, errors.New("autosave: store is required")
	case opts.Changes == nil:
		return nil, errors.New("autosave: change log is required")
	}
	if opts.Clock == nil {
		opts.Clock = clock.Wall{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	opts.Logger = opts.Logger.With("entity_kind", opts.Kind)

	s := &Scheduler{opts: opts}
	s.periodic = opts.Clock.Every(opts.Interval, func() {
		s.run(context.Background(), TriggerPeriodic)
	})
	if opts.Lifecycle != nil {
		s.unsub = opts.Lifecycle.Subscribe(func(ev *lifecycle.TerminateEvent) {
			if s.Flush() {
				ev.Confirm()
			}
		})
	}
	return s, nil
}

// Set replaces the working copy and restarts the debounce timer. data is
// copied; later mutation by the caller has no effect.
func (s *Scheduler) Set(data doc.Object) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = data.Clone()
	if s.disposed {
		return
	}
	if s.debounce != nil {
		s.debounce.Stop()
	}
	s.debounce = s.opts.Clock.AfterFunc(s.opts.Debounce, func() {
		s.run(context.Background(), TriggerDebounce)
	})
}

// Data returns a copy of the current working copy.
func (s *Scheduler) Data() doc.Object {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.Clone()
}

// SaveNow cancels any pending debounce and saves immediately.
func (s *Scheduler) SaveNow(ctx context.Context) (Result, error) {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return Result{Trigger: TriggerManual}, ErrDisposed
	}
	if s.debounce != nil {
		s.debounce.Stop()
		s.debounce = nil
	}
	s.mu.Unlock()
	return s.run(ctx, TriggerManual)
}

// IsDirty reports whether the working copy differs from the last save.
func (s *Scheduler) IsDirty() bool {
	_, dirty := s.pending()
	return dirty
}

// Flush is the termination hook. When the working copy is dirty it sends one
// fire-and-forget beacon and returns true so the host can prompt before
// tearing down. Delivery is not guaranteed.
func (s *Scheduler) Flush() bool {
	data, dirty := s.pending()
	if !dirty {
		return false
	}
	if s.opts.Beacon != nil {
		s.opts.Beacon.Beacon(s.opts.Kind, data.ID(), data)
		s.opts.Logger.Info("unload flush sent", "entity_id", data.ID())
	}
	return true
}

// Dispose stops both timers and the lifecycle subscription. A save already
// in flight completes.
func (s *Scheduler) Dispose() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed {
		return
	}
	s.disposed = true
	if s.debounce != nil {
		s.debounce.Stop()
		s.debounce = nil
	}
	s.periodic.Stop()
	if s.unsub != nil {
		s.unsub()
	}
}

// pending returns the working copy and whether it differs from the last save.
func (s *Scheduler) pending() (doc.Object, bool) {
	s.mu.Lock()
	data, last := s.data, s.lastHash
	s.mu.Unlock()
	if data == nil {
		return nil, false
	}
	_, hash, err := doc.Fingerprint(data)
	if err != nil {
		return data, true
	}
	return data, hash != last
}

// run is the save routine every trigger funnels into.
func (s *Scheduler) run(ctx context.Context, trigger Trigger) (Result, error) {
	res := Result{Trigger: trigger}
	if !s.inFlight.CompareAndSwap(false, true) {
		return s.skip(res, SkipInFlight), nil
	}
	defer s.inFlight.Store(false)

	// Read the latest working copy at execution time, not trigger time.
	s.mu.Lock()
	data, last := s.data, s.lastHash
	s.mu.Unlock()
	if data == nil {
		return s.skip(res, SkipEmpty), nil
	}

	_, hash, err := doc.Fingerprint(data)
	if err != nil {
		return res, s.fail(fmt.Errorf("serialize %s: %w", data.ID(), err))
	}
	if hash == last {
		return s.skip(res, SkipUnchanged), nil
	}

	var rec doc.Object
	if s.online() {
		rec, res.Path, err = s.saveOnline(ctx, data)
	} else {
		rec, res.Path, err = s.saveOffline(ctx, data)
	}
	if err != nil {
		return res, s.fail(err)
	}
	res.Record = rec

	s.mu.Lock()
	s.lastHash = hash
	s.mu.Unlock()

	s.opts.Logger.Debug("saved", "entity_id", data.ID(), "trigger", string(trigger), "path", string(res.Path))
	if s.opts.Observer != nil {
		s.opts.Observer.Saved(s.opts.Kind, res.Path)
	}
	if s.opts.OnSave != nil {
		s.opts.OnSave(rec.Clone(), res.Path)
	}
	if s.opts.Session != nil {
		if err := s.opts.Session.Checkpoint(ctx); err != nil {
			s.opts.Logger.Warn("session checkpoint failed", "error", err)
		}
	}
	return res, nil
}

func (s *Scheduler) online() bool {
	return s.opts.Connectivity == nil || s.opts.Connectivity.State() == connectivity.Online
}

func (s *Scheduler) saveOnline(ctx context.Context, data doc.Object) (doc.Object, Path, error) {
	rec, err := s.opts.Save(ctx, data.Clone())
	if err != nil {
		if syncerr.CodeOf(err) == "" {
			err = syncerr.RemoteWriteFailed(s.opts.Kind, data.ID(), err)
		}
		return nil, "", err
	}
	if rec == nil || rec.ID() == "" {
		rec = data.Clone()
	}

	if err := s.opts.Store.Save(ctx, s.opts.Kind, rec); err != nil {
		if !syncerr.IsStoreUnavailable(err) {
			return nil, "", fmt.Errorf("cache %s: %w", rec.ID(), err)
		}
		s.opts.Logger.Warn("local store unavailable, saved remote only", "entity_id", rec.ID(), "error", err)
		return rec, PathRemoteOnly, nil
	}
	return rec, PathRemote, nil
}

func (s *Scheduler) saveOffline(ctx context.Context, data doc.Object) (doc.Object, Path, error) {
	if s.opts.DisableOffline {
		return nil, "", syncerr.RemoteWriteFailed(s.opts.Kind, data.ID(), ErrOffline)
	}
	_, err := s.opts.Changes.Add(ctx, changelog.Entry{
		Type:       changelog.Update,
		EntityKind: s.opts.Kind,
		EntityID:   data.ID(),
		Payload:    data,
	}, store.Put(s.opts.Kind, data))
	if err != nil {
		return nil, "", err
	}
	if s.opts.Pending != nil {
		s.opts.Pending.AddPending(1)
	}
	return data.Clone(), PathLocal, nil
}

func (s *Scheduler) skip(res Result, reason string) Result {
	res.Skipped = reason
	if s.opts.Observer != nil {
		s.opts.Observer.Skipped(s.opts.Kind, reason)
	}
	return res
}

func (s *Scheduler) fail(err error) error {
	s.opts.Logger.Warn("save failed", "error", err)
	if s.opts.OnError != nil {
		s.opts.OnError(err)
	}
	return err
}
