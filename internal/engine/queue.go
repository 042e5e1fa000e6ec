package engine

import "sync"

// EventType distinguishes queued engine events.
type EventType int

const (
	// EventOnline is a transition to online.
	EventOnline EventType = iota + 1
	// EventOffline is a transition to offline.
	EventOffline
	// EventSync is a request for a reconciliation pass.
	EventSync
)

func (t EventType) String() string {
	switch t {
	case EventOnline:
		return "online"
	case EventOffline:
		return "offline"
	case EventSync:
		return "sync"
	default:
		return "unknown"
	}
}

// Event is one unit of work for the Run loop.
type Event struct {
	Type EventType
}

// eventQueue is a thread-safe unbounded FIFO.
//
// The signal channel (buffer 1) coalesces wakeups so Run can wait with
// select on both the queue and its context.
type eventQueue struct {
	mu     sync.Mutex
	events []Event
	closed bool
	signal chan struct{}
}

func newEventQueue() *eventQueue {
	return &eventQueue{
		events: make([]Event, 0, 8),
		signal: make(chan struct{}, 1),
	}
}

// Enqueue adds e to the back of the queue. Returns false once closed.
func (q *eventQueue) Enqueue(e Event) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	q.events = append(q.events, e)
	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

// TryDequeue removes the front event without blocking.
func (q *eventQueue) TryDequeue() (Event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.events) == 0 {
		return Event{}, false
	}
	e := q.events[0]
	if len(q.events) == 1 {
		q.events = q.events[:0]
	} else {
		q.events = q.events[1:]
	}
	return e, true
}

// Wait returns a channel that signals when events may be available. It is
// closed by Close.
func (q *eventQueue) Wait() <-chan struct{} {
	return q.signal
}

// Close stops accepting events and wakes any waiter.
func (q *eventQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.signal)
}
