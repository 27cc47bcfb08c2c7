package xpub

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/trickstertwo/xclock"
	"github.com/trickstertwo/xlog"
)

// dispatcher is the single consumer of a queue. It alone touches the connection
// and the retry slot, so neither needs a lock.
type dispatcher struct {
	topic    string
	producer string

	queue    *queue
	retry    *retryScheduler
	notifier *notifier
	metrics  *coreMetrics
	logger   *xlog.Logger
	clock    xclock.Clock

	factory        ConnectionFactory
	conn           Connection
	sender         Sender
	middlewares    []Middleware
	sendTimeout    time.Duration
	connectTimeout time.Duration

	done chan struct{}
}

// run drives deliveries until the queue is closed and drained, or ctx is cancelled.
func (d *dispatcher) run(ctx context.Context) {
	defer close(d.done)
	defer d.metrics.stopped.Store(true)
	defer d.dropConnection(false)

	ctx = InjectAll(ctx, d.logger, d.clock, d.topic, d.producer)

	for {
		dl, slot, err := d.retry.next(ctx, d.queue)
		if err != nil {
			if errors.Is(err, ErrQueueClosed) {
				d.logger.Debug().Str("topic", d.topic).Msg("xpub: queue drained, dispatcher stopped")
				return
			}
			d.abandon(err)
			return
		}
		d.metrics.pendingRetry.Store(false)
		dl.attempts++

		if d.conn == nil {
			if err := d.connect(ctx); err != nil {
				if ctx.Err() != nil {
					d.abandon(ctx.Err(), dl)
					return
				}
				d.reschedule(slot, dl, err)
				continue
			}
		}

		if err := d.deliver(ctx, dl); err != nil {
			if ctx.Err() != nil {
				d.abandon(ctx.Err(), dl)
				return
			}
			d.dropConnection(true)
			d.reschedule(slot, dl, err)
		}
	}
}

func (d *dispatcher) deliver(ctx context.Context, dl delivery) error {
	start := d.clock.Now()
	err := d.sender(ctx, dl.msg)
	duration := d.clock.Since(start)

	if err == nil {
		d.metrics.sent.Add(1)
		d.metrics.inFlight.Add(-1)
		d.metrics.recordSendTime(duration.Nanoseconds())
		d.notifier.notify(Event{
			Type:      EventSent,
			Topic:     d.topic,
			Producer:  d.producer,
			MessageID: dl.msg.ID(),
			Attempt:   dl.attempts,
			Duration:  duration,
		})
		return nil
	}

	serr := &SendError{
		Topic:     d.topic,
		MessageID: dl.msg.ID(),
		Timeout:   errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil,
		Err:       err,
	}
	d.metrics.sendFailures.Add(1)
	d.notifier.notify(Event{
		Type:      EventSendFailed,
		Topic:     d.topic,
		Producer:  d.producer,
		MessageID: dl.msg.ID(),
		Attempt:   dl.attempts,
		Duration:  duration,
		Err:       serr,
	})
	return serr
}

// connect recreates the connection through the factory.
func (d *dispatcher) connect(ctx context.Context) error {
	conn, err := callFactory(ctx, d.factory, d.connectTimeout)
	if err != nil {
		d.metrics.connectFailures.Add(1)
		cerr := &ConnectionError{Topic: d.topic, Err: err}
		d.notifier.notify(Event{Type: EventConnectFailed, Topic: d.topic, Producer: d.producer, Err: cerr})
		return cerr
	}
	d.metrics.reconnects.Add(1)
	d.adopt(conn)
	d.logger.Info().Str("topic", d.topic).Str("producer", d.producer).Msg("xpub: connection recreated")
	return nil
}

// adopt installs conn as the live connection and rebuilds the send chain.
func (d *dispatcher) adopt(conn Connection) {
	d.conn = conn
	d.sender = buildSender(conn, d.sendTimeout, d.middlewares)
	d.metrics.connected.Store(true)
	d.notifier.notify(Event{Type: EventConnected, Topic: d.topic, Producer: d.producer})
}

// dropConnection forgets the live connection and reports it as disconnected.
// A failed connection is closed in the background since a timed-out send may
// still hold it.
func (d *dispatcher) dropConnection(async bool) {
	conn := d.conn
	d.conn = nil
	d.sender = nil
	d.metrics.connected.Store(false)
	if conn == nil {
		return
	}
	d.notifier.notify(Event{Type: EventDisconnected, Topic: d.topic, Producer: d.producer})
	if async {
		go closeConnection(d.logger, conn)
		return
	}
	closeConnection(d.logger, conn)
}

func (d *dispatcher) reschedule(slot idle, dl delivery, cause error) {
	d.retry.postpone(slot, dl)
	d.metrics.pendingRetry.Store(true)

	d.logger.Warn().
		Str("topic", d.topic).
		Str("message_id", dl.msg.ID()).
		Str("attempt", strconv.Itoa(dl.attempts)).
		Dur("retry_in", d.retry.delay).
		Err(cause).
		Msg("xpub: delivery failed, retry scheduled")

	d.notifier.notify(Event{
		Type:      EventRetryScheduled,
		Topic:     d.topic,
		Producer:  d.producer,
		MessageID: dl.msg.ID(),
		Attempt:   dl.attempts,
		Duration:  d.retry.delay,
		Err:       cause,
	})
}

// abandon gives up on everything the dispatcher still owns: the delivery in hand,
// a pending retry and whatever is left in the queue. Only reachable when the
// shutdown deadline expired.
func (d *dispatcher) abandon(cause error, inHand ...delivery) {
	lost := append([]delivery(nil), inHand...)
	if p, ok := d.retry.pending(); ok {
		lost = append(lost, p)
		d.retry.state = idle{}
	}
	for _, msg := range d.queue.drain() {
		lost = append(lost, delivery{msg: msg})
	}
	d.metrics.pendingRetry.Store(false)
	if len(lost) == 0 {
		return
	}

	d.metrics.abandoned.Add(uint64(len(lost)))
	d.metrics.inFlight.Add(-int64(len(lost)))
	for _, dl := range lost {
		d.notifier.notify(Event{
			Type:      EventAbandoned,
			Topic:     d.topic,
			Producer:  d.producer,
			MessageID: dl.msg.ID(),
			Attempt:   dl.attempts,
			Err:       cause,
		})
	}
	d.logger.Error().
		Str("topic", d.topic).
		Str("abandoned", strconv.Itoa(len(lost))).
		Err(cause).
		Msg("xpub: dispatcher cancelled with undelivered messages")
}

// buildSender wraps conn.Send in the fixed middlewares and then the user's.
// The timeout is outermost so it bounds everything the attempt does.
func buildSender(conn Connection, timeout time.Duration, user []Middleware) Sender {
	mws := make([]Middleware, 0, 2+len(user))
	mws = append(mws, TimeoutMiddleware(timeout), RecoveryMiddleware())
	mws = append(mws, user...)
	return Chain(conn.Send, mws...)
}

// callFactory bounds a factory call by timeout even if the factory ignores ctx.
// A connection that arrives after the deadline is closed.
func callFactory(ctx context.Context, factory ConnectionFactory, timeout time.Duration) (Connection, error) {
	cctx := ctx
	cancel := func() {}
	if timeout > 0 {
		cctx, cancel = context.WithTimeout(ctx, timeout)
	}
	defer cancel()

	type result struct {
		conn Connection
		err  error
	}
	resCh := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				resCh <- result{err: errors.New("xpub: connection factory panicked")}
			}
		}()
		conn, err := factory(cctx)
		resCh <- result{conn: conn, err: err}
	}()

	select {
	case res := <-resCh:
		if res.err == nil && res.conn == nil {
			return nil, errors.New("xpub: connection factory returned nil connection")
		}
		return res.conn, res.err
	case <-cctx.Done():
		go func() {
			if res := <-resCh; res.conn != nil {
				_ = res.conn.Close(context.Background())
			}
		}()
		return nil, cctx.Err()
	}
}

func closeConnection(logger *xlog.Logger, conn Connection) {
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	if err := conn.Close(ctx); err != nil {
		logger.Debug().Str("topic", conn.Topic()).Err(err).Msg("xpub: close connection failed")
	}
}
