package outbox

import (
	"sync"
	"sync/atomic"

	list "github.com/bahlo/generic-list-go"
)

// Queue is an unbounded multi-producer single-consumer FIFO with channel
// semantics on the receive side.
//
// Producers never block: Send appends to an in-memory list and returns.
// A pump goroutine moves items to the channel returned by C in the order they
// were sent. Order is therefore preserved per producer (and globally, in Send
// call order).
//
// # Example
//
//	q := outbox.NewQueue[int]()
//	go func() {
//	    for i := 0; i < 3; i++ {
//	        q.Send(i)
//	    }
//	    q.Close()
//	}()
//	for v := range q.C() {
//	    fmt.Println(v)
//	}
//
// Lifecycle:
//   - Close stops accepting items; pending items are still delivered, then C is closed.
//   - Detach is called by a consumer that stops receiving. Pending items are
//     dropped and subsequent sends report false. Sending never panics.
type Queue[T any] struct {
	mu      sync.Mutex
	pending *list.List[T]
	closed  bool

	out      chan T
	signal   chan struct{}
	detached chan struct{}
	detach   sync.Once

	metrics Metrics
}

// NewQueue creates a queue and starts its pump goroutine
func NewQueue[T any]() *Queue[T] {
	q := &Queue[T]{
		pending:  list.New[T](),
		out:      make(chan T),
		signal:   make(chan struct{}, 1),
		detached: make(chan struct{}),
	}
	go q.pump()
	return q
}

// C returns the receive-only channel. It is closed after Close once every
// pending item has been delivered, or right after Detach.
func (q *Queue[T]) C() <-chan T {
	return q.out
}

// Send enqueues v without blocking.
// Returns false when the queue no longer accepts items (closed or detached).
func (q *Queue[T]) Send(v T) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		q.metrics.Rejected.Add(1)
		return false
	}
	q.pending.PushBack(v)
	q.mu.Unlock()

	q.metrics.Sent.Add(1)
	q.wake()
	return true
}

// Len returns the number of items waiting for the consumer
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pending.Len()
}

// Close stops accepting new items. Pending items are still delivered.
// Safe to call more than once.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.wake()
}

// Detach signals that the consumer is gone. Pending items are discarded.
// Safe to call more than once and concurrently with Send.
func (q *Queue[T]) Detach() {
	q.detach.Do(func() {
		q.mu.Lock()
		q.closed = true
		q.metrics.Dropped.Add(int64(q.pending.Len()))
		q.pending.Init()
		q.mu.Unlock()
		close(q.detached)
	})
}

// GetMetrics returns a snapshot of the queue counters
func (q *Queue[T]) GetMetrics() MetricsSnapshot {
	return MetricsSnapshot{
		Sent:      q.metrics.Sent.Load(),
		Delivered: q.metrics.Delivered.Load(),
		Rejected:  q.metrics.Rejected.Load(),
		Dropped:   q.metrics.Dropped.Load(),
	}
}

func (q *Queue[T]) wake() {
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

func (q *Queue[T]) pump() {
	defer close(q.out)

	for {
		q.mu.Lock()
		front := q.pending.Front()
		if front == nil {
			closed := q.closed
			q.mu.Unlock()
			if closed {
				return
			}
			select {
			case <-q.signal:
			case <-q.detached:
				return
			}
			continue
		}
		v := q.pending.Remove(front)
		q.mu.Unlock()

		select {
		case q.out <- v:
			q.metrics.Delivered.Add(1)
		case <-q.detached:
			q.metrics.Dropped.Add(1)
			return
		}
	}
}

// Metrics provides lock-free counters for a Queue
type Metrics struct {
	Sent      atomic.Int64
	Delivered atomic.Int64
	Rejected  atomic.Int64 // sends refused after Close/Detach
	Dropped   atomic.Int64 // accepted items discarded by Detach
}

// MetricsSnapshot is a point-in-time copy of Metrics
type MetricsSnapshot struct {
	Sent      int64
	Delivered int64
	Rejected  int64
	Dropped   int64
}
