package xpub

import (
	"context"
	"sync"
)

// queue is the bounded FIFO between producers and the dispatcher. Both insertion
// modes write to the same channel, so they share one order.
type queue struct {
	ch chan *Message

	// closing is closed first to wake blocked senders; mu then waits for every
	// sender to leave before ch itself is closed.
	closing   chan struct{}
	mu        sync.RWMutex
	closed    bool
	closeOnce sync.Once
}

func newQueue(capacity int) *queue {
	if capacity < 1 {
		capacity = DefaultQueueCapacity
	}
	return &queue{
		ch:      make(chan *Message, capacity),
		closing: make(chan struct{}),
	}
}

// tryEnqueue inserts msg without blocking.
func (q *queue) tryEnqueue(msg *Message) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}
	select {
	case <-q.closing:
		return ErrQueueClosed
	default:
	}
	select {
	case q.ch <- msg:
		return nil
	default:
		return ErrQueueFull
	}
}

// send inserts msg, waiting for a free slot.
func (q *queue) send(ctx context.Context, msg *Message) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}
	select {
	case <-q.closing:
		return ErrQueueClosed
	default:
	}
	select {
	case q.ch <- msg:
		return nil
	case <-q.closing:
		return ErrQueueClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// recv returns the oldest message. It returns ErrQueueClosed once the queue is
// closed and drained, or ctx.Err() when ctx ends first.
func (q *queue) recv(ctx context.Context) (*Message, error) {
	select {
	case msg, ok := <-q.ch:
		if !ok {
			return nil, ErrQueueClosed
		}
		return msg, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// drain removes whatever is buffered without waiting.
func (q *queue) drain() []*Message {
	var out []*Message
	for {
		select {
		case msg, ok := <-q.ch:
			if !ok {
				return out
			}
			out = append(out, msg)
		default:
			return out
		}
	}
}

// close stops accepting messages. Buffered messages remain receivable.
func (q *queue) close() {
	q.closeOnce.Do(func() {
		close(q.closing)
		q.mu.Lock()
		q.closed = true
		close(q.ch)
		q.mu.Unlock()
	})
}

func (q *queue) len() int { return len(q.ch) }
func (q *queue) cap() int { return cap(q.ch) }
