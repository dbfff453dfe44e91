package bus

import (
	"context"
	"sync"
)

// ringQueue is a fixed-capacity FIFO that evicts its oldest entry when full.
// One producer side (the bus) and one consumer (the owning session).
type ringQueue struct {
	mu      sync.Mutex
	buf     [][]byte
	head    int
	size    int
	dropped uint64
	closed  bool

	ready chan struct{} // capacity 1, signalled on every push
	done  chan struct{} // closed on close
}

func newRingQueue(capacity int) *ringQueue {
	return &ringQueue{
		buf:   make([][]byte, capacity),
		ready: make(chan struct{}, 1),
		done:  make(chan struct{}),
	}
}

// push appends p, discarding the oldest entry if the queue is full. It reports
// whether an entry was discarded. Pushing to a closed queue is a no-op.
func (q *ringQueue) push(p []byte) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}

	evicted := false
	if q.size == len(q.buf) {
		q.buf[q.head] = nil
		q.head = (q.head + 1) % len(q.buf)
		q.size--
		q.dropped++
		evicted = true
	}
	q.buf[(q.head+q.size)%len(q.buf)] = p
	q.size++
	q.mu.Unlock()

	select {
	case q.ready <- struct{}{}:
	default:
	}
	return evicted
}

func (q *ringQueue) tryPop() ([]byte, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed || q.size == 0 {
		return nil, false
	}
	p := q.buf[q.head]
	q.buf[q.head] = nil
	q.head = (q.head + 1) % len(q.buf)
	q.size--
	return p, true
}

func (q *ringQueue) pop(ctx context.Context) ([]byte, error) {
	for {
		if p, ok := q.tryPop(); ok {
			return p, nil
		}
		if q.isClosed() {
			return nil, ErrClosed
		}

		select {
		case <-q.ready:
		case <-q.done:
			return nil, ErrClosed
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (q *ringQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}

func (q *ringQueue) droppedCount() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

func (q *ringQueue) isClosed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// close discards pending entries and wakes any waiting consumer. Safe to call
// more than once.
func (q *ringQueue) close() bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	q.closed = true
	for i := range q.buf {
		q.buf[i] = nil
	}
	q.size = 0
	close(q.done)
	return true
}
