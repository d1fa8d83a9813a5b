package ds

import (
	"errors"
	"sync"
	"time"

	"lazymap/util"
)

var (
	ErrQueueClosed  = errors.New("queue is closed")
	ErrQueueTimeout = errors.New("queue dequeue timed out")
)

// BlockingQueue is a bounded FIFO for producer/consumer hand-off.
// After Close, enqueues fail and dequeues drain what is left.
type BlockingQueue[T any] struct {
	items  chan T
	closed chan struct{}
	once   sync.Once
}

func NewBlockingQueue[T any](capacity int) *BlockingQueue[T] {
	if capacity <= 0 {
		capacity = 1
	}
	return &BlockingQueue[T]{
		items:  make(chan T, capacity),
		closed: make(chan struct{}),
	}
}

// Enqueue blocks while the queue is full.
func (q *BlockingQueue[T]) Enqueue(v T) error {
	select {
	case <-q.closed:
		return ErrQueueClosed
	default:
	}
	select {
	case q.items <- v:
		return nil
	case <-q.closed:
		return ErrQueueClosed
	}
}

// TryEnqueue adds v only if there is room and the queue is open.
func (q *BlockingQueue[T]) TryEnqueue(v T) bool {
	select {
	case <-q.closed:
		return false
	default:
	}
	select {
	case q.items <- v:
		return true
	default:
		return false
	}
}

// Dequeue blocks until an item is available. It returns false once the
// queue is closed and drained.
func (q *BlockingQueue[T]) Dequeue() (T, bool) {
	select {
	case v := <-q.items:
		return v, true
	case <-q.closed:
		return q.drainOne()
	}
}

// DequeueTimeout waits at most ms milliseconds for an item.
func (q *BlockingQueue[T]) DequeueTimeout(ms int64) (T, error) {
	select {
	case v := <-q.items:
		return v, nil
	default:
	}
	var zero T
	if ms <= 0 {
		if q.IsClosed() {
			return zero, ErrQueueClosed
		}
		return zero, ErrQueueTimeout
	}

	timer := time.NewTimer(util.MsToDuration(ms))
	defer timer.Stop()
	select {
	case v := <-q.items:
		return v, nil
	case <-q.closed:
		if v, ok := q.drainOne(); ok {
			return v, nil
		}
		return zero, ErrQueueClosed
	case <-timer.C:
		return zero, ErrQueueTimeout
	}
}

func (q *BlockingQueue[T]) drainOne() (T, bool) {
	select {
	case v := <-q.items:
		return v, true
	default:
		var zero T
		return zero, false
	}
}

func (q *BlockingQueue[T]) IsClosed() bool {
	select {
	case <-q.closed:
		return true
	default:
		return false
	}
}

func (q *BlockingQueue[T]) Len() int {
	return len(q.items)
}

func (q *BlockingQueue[T]) Cap() int {
	return cap(q.items)
}

// Close is idempotent.
func (q *BlockingQueue[T]) Close() {
	q.once.Do(func() {
		close(q.closed)
	})
}
