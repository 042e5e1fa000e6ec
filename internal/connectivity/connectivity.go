// Package connectivity reports online/offline transitions to the engine.
//
// Sources emit edges, not levels: a handler is called only when the state
// actually changes.
package connectivity

import (
	"sync"

	"github.com/roach88/autosync/internal/event"
)

// State is the connectivity level.
type State bool

const (
	Offline State = false
	Online  State = true
)

func (s State) String() string {
	if s {
		return "online"
	}
	return "offline"
}

// Source is a connectivity signal.
type Source interface {
	// State returns the current level.
	State() State
	// Subscribe registers h for transitions and returns its unsubscribe func.
	Subscribe(h func(State)) (unsubscribe func())
}

// edge tracks the current level and emits only on change. emitMu orders
// transitions so subscribers see them in the order the level changed; mu
// guards state alone so State stays readable from inside a handler.
type edge struct {
	emitMu sync.Mutex
	mu     sync.Mutex
	state  State
	subs   event.Registry[State]
}

func (e *edge) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *edge) Subscribe(h func(State)) func() {
	return e.subs.Subscribe(h)
}

// set stores s and reports whether it was a transition. Handlers run
// before set returns and must not call set themselves.
func (e *edge) set(s State) bool {
	e.emitMu.Lock()
	defer e.emitMu.Unlock()

	e.mu.Lock()
	changed := e.state != s
	e.state = s
	e.mu.Unlock()
	if changed {
		e.subs.Emit(s)
	}
	return changed
}

// Manual is a Source driven by the caller: tests, the CLI, or an embedding
// application that has its own network probe.
type Manual struct {
	edge
}

var _ Source = (*Manual)(nil)

// NewManual returns a source starting at initial.
func NewManual(initial State) *Manual {
	m := &Manual{}
	m.state = initial
	return m
}

// Set moves the source to s, notifying subscribers if it changed.
func (m *Manual) Set(s State) bool {
	return m.set(s)
}
