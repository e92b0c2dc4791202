package journal

import "sync"

// queue is a FIFO that doubles its backing array when full, up to max
// items. Once at max, push drops instead of blocking the caller.
type queue[T any] struct {
	mu     sync.Mutex
	cond   *sync.Cond
	buf    []T
	head   int
	count  int
	max    int
	closed bool

	dropped int64
	grows   int
}

func newQueue[T any](initial, max int) *queue[T] {
	if initial < 1 {
		initial = 1
	}
	if max < initial {
		max = initial
	}
	q := &queue[T]{buf: make([]T, initial), max: max}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// push appends item. Returns false if the queue is closed or full.
func (q *queue[T]) push(item T) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		q.dropped++
		return false
	}
	if q.count == len(q.buf) {
		if len(q.buf) >= q.max {
			q.dropped++
			return false
		}
		q.grow()
	}

	q.buf[(q.head+q.count)%len(q.buf)] = item
	q.count++
	q.cond.Signal()
	return true
}

// pop blocks until an item is available. After close it returns the
// remaining items, then false.
func (q *queue[T]) pop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for q.count == 0 && !q.closed {
		q.cond.Wait()
	}

	var zero T
	if q.count == 0 {
		return zero, false
	}

	item := q.buf[q.head]
	q.buf[q.head] = zero
	q.head = (q.head + 1) % len(q.buf)
	q.count--
	return item, true
}

func (q *queue[T]) close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.cond.Broadcast()
}

func (q *queue[T]) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count
}

func (q *queue[T]) droppedCount() int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

// grow must be called with the lock held.
func (q *queue[T]) grow() {
	size := len(q.buf) * 2
	if size > q.max {
		size = q.max
	}
	buf := make([]T, size)
	n := copy(buf, q.buf[q.head:])
	copy(buf[n:], q.buf[:q.head])

	q.buf = buf
	q.head = 0
	q.grows++
}
