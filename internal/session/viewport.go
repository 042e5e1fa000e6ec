package session

import "sync"

// MemoryViewport is a Viewport held in memory, for hosts without a real
// scrollable surface (the CLI, tests).
type MemoryViewport struct {
	mu     sync.Mutex
	route  string
	offset int
}

var _ Viewport = (*MemoryViewport)(nil)

// Navigate moves to route with the scroll offset reset to 0.
func (v *MemoryViewport) Navigate(route string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.route, v.offset = route, 0
}

func (v *MemoryViewport) Route() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.route
}

func (v *MemoryViewport) ScrollOffset() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.offset
}

func (v *MemoryViewport) ScrollTo(offset int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.offset = offset
}
