package queue

import (
	"runtime"
	"sync"
	"sync/atomic"
)

// node represents a single element in the queue
type node[T any] struct {
	value T
	next  atomic.Pointer[node[T]]
}

// Queue is a lock-free multi-producer single-consumer queue.
// Implementation uses a linked list of nodes with atomic operations
// for concurrent push operations without locks
type Queue[T any] struct {
	head   atomic.Pointer[node[T]]
	tail   atomic.Pointer[node[T]]
	out    chan T
	closed atomic.Bool

	// Condition variable for waiting consumers
	mu   sync.Mutex
	cond *sync.Cond
}

// New creates a new queue and starts its consumer goroutine
func New[T any]() *Queue[T] {
	// Create a sentinel node (dummy node at the beginning)
	sentinel := &node[T]{}

	q := &Queue[T]{
		out: make(chan T),
	}
	q.cond = sync.NewCond(&q.mu)

	q.head.Store(sentinel)
	q.tail.Store(sentinel)

	go q.consume()

	return q
}

// Push adds a value to the queue.
// Returns true if the value was added, or false if the queue is closed.
func (q *Queue[T]) Push(value T) bool {
	if q.closed.Load() {
		return false
	}

	newNode := &node[T]{value: value}

	var backoff uint8 = 0
	for {
		tailNode := q.tail.Load()

		next := tailNode.next.Load()
		if next == nil {
			if tailNode.next.CompareAndSwap(nil, newNode) {
				// CAS may fail if another producer already helped, the tail is updated either way
				q.tail.CompareAndSwap(tailNode, newNode)
				q.signal()
				return true
			}
		} else {
			// help a producer that appended but has not moved the tail yet
			q.tail.CompareAndSwap(tailNode, next)
		}

		// spin first, then yield under contention
		if backoff < 10 {
			backoff++
			for i := 0; i < 1<<backoff; i++ {
				runtime.Gosched()
			}
		}
		runtime.Gosched()
	}
}

// signal wakes the consumer. The mutex is taken so a wakeup can not fall between
// the consumer's emptiness check and its Wait.
func (q *Queue[T]) signal() {
	q.mu.Lock()
	q.cond.Signal()
	q.mu.Unlock()
}

// consume moves values from the linked list to the output channel
func (q *Queue[T]) consume() {
	defer close(q.out)

	var zero T
	for {
		hasItems := false

		for {
			head := q.head.Load()
			next := head.next.Load()
			if next == nil {
				break
			}
			hasItems = true

			value := next.value
			q.head.Store(next)
			q.out <- value

			// release the reference for the gc
			next.value = zero
		}

		if !hasItems && q.closed.Load() {
			// a push may have won the race against Close
			if q.head.Load().next.Load() == nil {
				return
			}
			continue
		}

		if !hasItems {
			q.mu.Lock()
			if q.head.Load().next.Load() == nil && !q.closed.Load() {
				q.cond.Wait()
			}
			q.mu.Unlock()
		}
	}
}

// Recv returns the receive-only channel values are delivered on.
// The channel is closed once the queue is closed and drained.
func (q *Queue[T]) Recv() <-chan T {
	return q.out
}

// Close closes the queue, preventing further pushes.
// Values already in the queue are still delivered to the consumer.
func (q *Queue[T]) Close() {
	q.closed.Store(true)
	q.signal()
}

// Discard closes the queue and drops every value still buffered. It is used by
// consumers that stop reading before the queue is drained.
func (q *Queue[T]) Discard() {
	q.Close()
	go func() {
		for range q.out {
		}
	}()
}

// IsClosed returns true if the queue is closed.
func (q *Queue[T]) IsClosed() bool {
	return q.closed.Load()
}

// Len returns an approximate count of buffered values.
// This is O(n) and should only be used for debugging.
func (q *Queue[T]) Len() int {
	count := 0
	current := q.head.Load()
	for {
		next := current.next.Load()
		if next == nil {
			break
		}
		count++
		current = next
	}
	return count
}
