// Package eventq provides an unbounded FIFO that forwards items to a channel
// without ever blocking the producer.
package eventq

import "sync"

// Queue forwards pushed items to Out in push order.
//
// Push never blocks, so producers may call it while holding locks. Out is
// closed after Stop; items still queued at that point are discarded.
type Queue[T any] struct {
	mu      sync.Mutex
	items   []T
	signal  chan struct{}
	out     chan T
	done    chan struct{}
	stopped bool
	once    sync.Once
}

// New creates a queue and starts its forwarding goroutine.
func New[T any]() *Queue[T] {
	q := &Queue[T]{
		signal: make(chan struct{}, 1),
		out:    make(chan T),
		done:   make(chan struct{}),
	}
	go q.run()

	return q
}

// Out returns the delivery channel.
func (q *Queue[T]) Out() <-chan T { return q.out }

// Done is closed once Stop has been called.
func (q *Queue[T]) Done() <-chan struct{} { return q.done }

// Len returns the number of undelivered items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return len(q.items)
}

// Push appends items. It is a no-op after Stop.
func (q *Queue[T]) Push(items ...T) {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return
	}
	q.items = append(q.items, items...)
	q.mu.Unlock()

	select {
	case q.signal <- struct{}{}:
	default:
	}
}

// Stop discards pending items and closes Out. It is idempotent.
func (q *Queue[T]) Stop() {
	q.once.Do(func() {
		q.mu.Lock()
		q.stopped = true
		q.items = nil
		q.mu.Unlock()
		close(q.done)
	})
}

func (q *Queue[T]) run() {
	defer close(q.out)

	for {
		q.mu.Lock()
		if len(q.items) == 0 {
			q.mu.Unlock()
			select {
			case <-q.done:
				return
			case <-q.signal:
				continue
			}
		}
		item := q.items[0]
		var zero T
		q.items[0] = zero
		q.items = q.items[1:]
		q.mu.Unlock()

		select {
		case <-q.done:
			return
		case q.out <- item:
		}
	}
}
