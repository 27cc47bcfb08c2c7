package xpub

import (
	"context"
	"slices"
	"sync"
	"sync/atomic"
	"time"
)

const defaultObserverBuffer = 1000

// fanout is one event plus the observers registered when it was raised.
type fanout struct {
	event   Event
	targets []Observer
}

// ObserverPool hands events to observers on a fixed set of worker goroutines so
// a slow observer never stalls producers or the dispatcher. An event that finds
// the buffer full is discarded and counted in PoolStats.Dropped.
//
// The pool stops on Close or when the context passed to NewObserverPool ends.
// Events already buffered at that point are still delivered.
type ObserverPool struct {
	pending chan fanout
	workers int

	// mu orders Notify's sends against close(pending).
	mu      sync.RWMutex
	stopped bool
	running sync.WaitGroup
	unwatch func() bool

	dropped   atomic.Uint64
	processed atomic.Uint64
}

// NewObserverPool starts workers goroutines reading from a buffer of bufferSize
// events. Non-positive arguments fall back to one worker and 1000 events.
func NewObserverPool(ctx context.Context, workers, bufferSize int) *ObserverPool {
	if bufferSize < 1 {
		bufferSize = defaultObserverBuffer
	}
	op := &ObserverPool{
		pending: make(chan fanout, bufferSize),
		workers: max(workers, 1),
	}
	op.running.Add(op.workers)
	for range op.workers {
		go op.work()
	}
	op.unwatch = context.AfterFunc(ctx, op.stop)
	return op
}

// Notify queues e for observers and returns at once.
func (op *ObserverPool) Notify(e Event, observers []Observer) {
	if len(observers) == 0 {
		return
	}
	op.mu.RLock()
	defer op.mu.RUnlock()
	if op.stopped {
		return
	}
	select {
	case op.pending <- fanout{event: e, targets: slices.Clone(observers)}:
	default:
		op.dropped.Add(1)
	}
}

func (op *ObserverPool) work() {
	defer op.running.Done()
	for f := range op.pending {
		for _, o := range f.targets {
			if o != nil {
				safeNotify(o, f.event)
			}
		}
		op.processed.Add(1)
	}
}

// stop refuses further events. Workers exit once the buffer is empty.
func (op *ObserverPool) stop() {
	op.mu.Lock()
	defer op.mu.Unlock()
	if op.stopped {
		return
	}
	op.stopped = true
	close(op.pending)
}

// Close stops the pool and waits up to timeout for buffered events to be delivered.
func (op *ObserverPool) Close(timeout time.Duration) error {
	op.unwatch()
	op.stop()

	finished := make(chan struct{})
	go func() {
		op.running.Wait()
		close(finished)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-finished:
		return nil
	case <-timer.C:
		return ErrObserverPoolShutdownTimeout
	}
}

// Stats returns current pool statistics.
func (op *ObserverPool) Stats() PoolStats {
	return PoolStats{
		Dropped:      op.dropped.Load(),
		Processed:    op.processed.Load(),
		ActiveEvents: len(op.pending),
		Workers:      op.workers,
		BufferSize:   cap(op.pending),
	}
}
