package xpub

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/trickstertwo/xclock"
	"github.com/trickstertwo/xlog"
)

// core is the state shared by every clone of a Handle: one queue, one dispatcher.
type core struct {
	topic    string
	producer string
	codec    Codec

	queue    *queue
	notifier *notifier
	metrics  *coreMetrics
	logger   *xlog.Logger
	clock    xclock.Clock

	cancel context.CancelFunc
	done   chan struct{}

	refs         atomic.Int64
	shutdownOnce sync.Once
	shutdownErr  error
}

// coreMetrics uses lock-free atomics so Stats never contends with the dispatcher.
type coreMetrics struct {
	queued          atomic.Uint64
	sent            atomic.Uint64
	sendFailures    atomic.Uint64
	connectFailures atomic.Uint64
	reconnects      atomic.Uint64
	abandoned       atomic.Uint64
	inFlight        atomic.Int64
	sendNs          atomic.Int64

	connected    atomic.Bool
	pendingRetry atomic.Bool
	stopped      atomic.Bool
}

// recordSendTime records send latency using exponential moving average.
func (m *coreMetrics) recordSendTime(ns int64) {
	const alpha = 0.2 // 20% weight to new sample
	current := m.sendNs.Load()
	if current == 0 {
		m.sendNs.Store(ns)
		return
	}
	m.sendNs.Store(int64(float64(ns)*alpha + float64(current)*(1-alpha)))
}

func (c *core) acquire() bool {
	for {
		n := c.refs.Load()
		if n <= 0 {
			return false
		}
		if c.refs.CompareAndSwap(n, n+1) {
			return true
		}
	}
}

// release drops one reference and reports whether it was the last one.
func (c *core) release() bool {
	return c.refs.Add(-1) == 0
}

// shutdown closes the queue and waits for the dispatcher to drain it. When ctx
// ends first the dispatcher is cancelled and undelivered messages are abandoned.
func (c *core) shutdown(ctx context.Context) error {
	c.shutdownOnce.Do(func() {
		c.queue.close()

		select {
		case <-c.done:
		case <-ctx.Done():
			c.logger.Warn().
				Str("topic", c.topic).
				Err(ctx.Err()).
				Msg("xpub: shutdown deadline reached before queue drained")
			c.cancel()
			<-c.done
			c.shutdownErr = fmt.Errorf("xpub: close %q: %w", c.topic, ctx.Err())
		}
		c.cancel()

		if c.notifier.pool != nil {
			if err := c.notifier.pool.Close(closeTimeout); err != nil {
				c.logger.Warn().Err(err).Msg("xpub: observer pool shutdown timeout")
				if c.shutdownErr == nil {
					c.shutdownErr = err
				}
			}
		}
	})
	return c.shutdownErr
}

// Handle is the caller-facing front end of a publisher. Handles are safe for
// concurrent use; Clone returns another Handle on the same queue and dispatcher.
type Handle struct {
	core     *core
	released atomic.Bool
}

func newHandle(c *core) *Handle {
	return &Handle{core: c}
}

// Topic returns the topic messages are published to.
func (h *Handle) Topic() string { return h.core.topic }

// Producer returns the producer name used in logs and metric labels.
func (h *Handle) Producer() string { return h.core.producer }

// Produce starts a message bound to this handle.
func (h *Handle) Produce() ProducedMessage {
	return ProducedMessage{
		builder: NewMessage().WithClock(h.core.clock).WithCodec(h.core.codec),
		dest:    h,
	}
}

// Publish is an alias of Produce.
func (h *Handle) Publish() ProducedMessage { return h.Produce() }

// EnqueueMessage hands msg to the queue without blocking. It returns ErrQueueFull
// when the queue has no free slot.
func (h *Handle) EnqueueMessage(msg *Message) error {
	return h.admit(msg, h.core.queue.tryEnqueue)
}

// SendMessage hands msg to the queue, waiting for a free slot. It returns once
// the message is accepted, not once the broker acknowledged it.
func (h *Handle) SendMessage(ctx context.Context, msg *Message) error {
	return h.admit(msg, func(m *Message) error { return h.core.queue.send(ctx, m) })
}

// admit announces msg before inserting it: once inserted the dispatcher may
// report it sent at any moment. A refused message is announced again as rejected.
func (h *Handle) admit(msg *Message, insert func(*Message) error) error {
	if h.released.Load() {
		return ErrHandleClosed
	}
	if msg == nil {
		return ErrNilMessage
	}
	c := h.core
	c.metrics.queued.Add(1)
	c.metrics.inFlight.Add(1)
	c.event(EventQueued, msg, nil)

	if err := insert(msg); err != nil {
		c.metrics.queued.Add(^uint64(0))
		c.metrics.inFlight.Add(-1)
		c.event(EventRejected, msg, err)
		return err
	}
	return nil
}

func (c *core) event(t EventType, msg *Message, err error) {
	c.notifier.notify(Event{
		Type:      t,
		Topic:     c.topic,
		Producer:  c.producer,
		MessageID: msg.ID(),
		Err:       err,
	})
}

// Clone returns a new Handle sharing this one's queue and dispatcher. Cloning a
// handle whose publisher already shut down yields a closed handle.
func (h *Handle) Clone() *Handle {
	clone := newHandle(h.core)
	if h.released.Load() || !h.core.acquire() {
		clone.released.Store(true)
	}
	return clone
}

// Close releases this handle. Releasing the last handle closes the queue and
// waits, bounded by ctx, for the dispatcher to deliver what was accepted.
// Closing a handle twice is a no-op.
func (h *Handle) Close(ctx context.Context) error {
	if h.released.Swap(true) {
		return nil
	}
	if !h.core.release() {
		return nil
	}
	return h.core.shutdown(ctx)
}

// Done is closed once the dispatcher has stopped.
func (h *Handle) Done() <-chan struct{} { return h.core.done }

// AddObserver registers an observer (thread-safe). The returned func removes
// this registration and works for any observer, ObserverFunc included.
func (h *Handle) AddObserver(obs Observer) (remove func()) { return h.core.notifier.add(obs) }

// RemoveObserver removes the first registered observer equal to obs. Observers
// that cannot be compared with ==, such as ObserverFunc, are left in place; use
// the func returned by AddObserver for those.
func (h *Handle) RemoveObserver(obs Observer) { h.core.notifier.remove(obs) }

// Stats returns current publisher counters.
func (h *Handle) Stats() Stats {
	c := h.core
	s := Stats{
		Queued:          c.metrics.queued.Load(),
		Sent:            c.metrics.sent.Load(),
		SendFailures:    c.metrics.sendFailures.Load(),
		ConnectFailures: c.metrics.connectFailures.Load(),
		Reconnects:      c.metrics.reconnects.Load(),
		Abandoned:       c.metrics.abandoned.Load(),
		InFlight:        c.metrics.inFlight.Load(),
		QueueDepth:      c.queue.len(),
		QueueCapacity:   c.queue.cap(),
		Connected:       c.metrics.connected.Load(),
		PendingRetry:    c.metrics.pendingRetry.Load(),
		Stopped:         c.metrics.stopped.Load(),
		AvgSendTimeMs:   float64(c.metrics.sendNs.Load()) / 1e6,
	}
	if c.notifier.pool != nil {
		s.EventsDropped = c.notifier.pool.Stats().Dropped
	}
	return s
}

// Health checks publisher health for Kubernetes probes.
func (h *Handle) Health(_ context.Context) HealthStatus {
	stats := h.Stats()
	now := h.core.clock.Now()

	switch {
	case stats.Stopped:
		return HealthStatus{Status: StatusUnhealthy, Stats: stats, Timestamp: now, Message: "dispatcher stopped"}
	case stats.PendingRetry:
		return HealthStatus{Status: StatusDegraded, Stats: stats, Timestamp: now, Message: "delivery pending retry"}
	case !stats.Connected:
		return HealthStatus{Status: StatusDegraded, Stats: stats, Timestamp: now, Message: "no broker connection"}
	}
	return HealthStatus{Status: StatusHealthy, Stats: stats, Timestamp: now}
}
