// Package event provides the subscribe/unsubscribe registry shared by the
// connectivity, lifecycle and status sources.
package event

import (
	"sort"
	"sync"
)

// Registry holds handlers for events of type T. The zero value is ready to use.
//
// Thread-safety: all methods are safe for concurrent use. Handlers run on the
// emitting goroutine, outside the registry lock, in subscription order.
type Registry[T any] struct {
	mu       sync.Mutex
	next     int
	handlers map[int]func(T)
}

// Subscribe registers h and returns a function that removes it. The
// returned function is idempotent.
func (r *Registry[T]) Subscribe(h func(T)) (unsubscribe func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.handlers == nil {
		r.handlers = make(map[int]func(T))
	}
	id := r.next
	r.next++
	r.handlers[id] = h

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			delete(r.handlers, id)
		})
	}
}

// Emit calls every current handler with v.
func (r *Registry[T]) Emit(v T) {
	for _, h := range r.snapshot() {
		h(v)
	}
}

func (r *Registry[T]) snapshot() []func(T) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]int, 0, len(r.handlers))
	for id := range r.handlers {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	out := make([]func(T), len(ids))
	for i, id := range ids {
		out[i] = r.handlers[id]
	}
	return out
}
