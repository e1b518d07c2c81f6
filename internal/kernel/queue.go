package kernel

import (
	"container/heap"
	"sync"
	"sync/atomic"
	"time"
)

// eventHeap is a container/heap.Interface min-heap on Event.When.
type eventHeap []Event

func (h eventHeap) Len() int            { return len(h) }
func (h eventHeap) Less(i, j int) bool  { return h[i].When.Before(h[j].When) }
func (h eventHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *eventHeap) Push(x interface{}) { *h = append(*h, x.(Event)) }
func (h *eventHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// Queue is the kernel's priority event queue (spec.md §4.1): a min-heap on
// `when`, woken by a single-bit signal so pushes interrupt any pending
// wait, with a distinct shutdown flag that makes Pop yield a synthetic
// EvShutdown event ahead of everything else.
type Queue struct {
	mu       sync.Mutex
	heap     eventHeap
	wake     chan struct{}
	shutdown atomic.Bool
}

// NewQueue constructs an empty Queue.
func NewQueue() *Queue {
	return &Queue{wake: make(chan struct{}, 1)}
}

// Push inserts ev and signals Wake(), interrupting any pending wait.
func (q *Queue) Push(ev Event) {
	q.mu.Lock()
	heap.Push(&q.heap, ev)
	q.mu.Unlock()
	q.signal()
}

func (q *Queue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Wake returns the channel that fires whenever an event is pushed or the
// queue is shut down.
func (q *Queue) Wake() <-chan struct{} { return q.wake }

// Peek returns the earliest-due event without removing it, and whether
// the queue (ignoring the shutdown flag) is non-empty.
func (q *Queue) Peek() (Event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.heap) == 0 {
		return Event{}, false
	}
	return q.heap[0], true
}

// Pop removes and returns the earliest-due event. If the shutdown flag is
// set, the first call after it was set yields a synthetic EvShutdown event
// ahead of everything else still queued (spec.md §4.1).
func (q *Queue) Pop() (Event, bool) {
	if q.shutdown.CompareAndSwap(true, false) {
		return Event{Type: EvShutdown, When: time.Now()}, true
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.heap) == 0 {
		return Event{}, false
	}
	ev := heap.Pop(&q.heap).(Event)
	return ev, true
}

// Len reports the number of events currently queued (excluding the
// synthetic shutdown event).
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.heap)
}

// Shutdown sets the shutdown flag and wakes any pending wait; the next
// Pop yields the synthetic EvShutdown event regardless of queue contents.
func (q *Queue) Shutdown() {
	q.shutdown.Store(true)
	q.signal()
}
