// Package lifecycle delivers the "about to terminate" signal that gives the
// autosave scheduler one best-effort chance to flush.
package lifecycle

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/roach88/autosync/internal/event"
)

// TerminateEvent is delivered once per termination request. Handlers must
// not block: they may start one fire-and-forget transmission and call
// Confirm to ask the host to prompt before tearing down.
type TerminateEvent struct {
	confirm atomic.Bool
}

// Confirm marks the event as having unsaved changes.
func (e *TerminateEvent) Confirm() { e.confirm.Store(true) }

// Confirmed reports whether any handler called Confirm.
func (e *TerminateEvent) Confirmed() bool { return e.confirm.Load() }

// Source emits termination events.
type Source interface {
	Subscribe(h func(*TerminateEvent)) (unsubscribe func())
}

// Manual is a Source fired by the caller.
type Manual struct {
	subs event.Registry[*TerminateEvent]
}

var _ Source = (*Manual)(nil)

// Subscribe registers h.
func (m *Manual) Subscribe(h func(*TerminateEvent)) func() {
	return m.subs.Subscribe(h)
}

// Terminate runs every handler synchronously and returns the event so the
// caller can check Confirmed.
func (m *Manual) Terminate() *TerminateEvent {
	ev := &TerminateEvent{}
	m.subs.Emit(ev)
	return ev
}

// Signals is a Source driven by OS signals (SIGINT, SIGTERM by default).
type Signals struct {
	Manual
	signals []os.Signal
	logger  *slog.Logger
}

// NewSignals returns a source for sigs, or SIGINT and SIGTERM when none are given.
func NewSignals(logger *slog.Logger, sigs ...os.Signal) *Signals {
	if len(sigs) == 0 {
		sigs = []os.Signal{os.Interrupt, syscall.SIGTERM}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Signals{signals: sigs, logger: logger}
}

// Run waits for the first signal, fires one TerminateEvent and returns it.
// It returns nil if ctx ends first.
func (s *Signals) Run(ctx context.Context) *TerminateEvent {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, s.signals...)
	defer signal.Stop(ch)

	select {
	case <-ctx.Done():
		return nil
	case sig := <-ch:
		s.logger.Info("received signal, flushing", "signal", sig.String())
		ev := s.Terminate()
		if ev.Confirmed() {
			s.logger.Warn("unsaved changes were in flight at shutdown")
		}
		return ev
	}
}
