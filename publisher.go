package xpub

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/trickstertwo/xclock"
	"github.com/trickstertwo/xlog"
)

// Publisher delivers each message on the calling goroutine and returns the
// broker's answer. It has no queue and never retries: a failed send drops the
// connection and the next send asks the factory for a new one. Sends are
// serialized, so a Publisher shares one Connection safely between goroutines.
//
// Build one with PublisherBuilder.BuildPublisher or Connect.
type Publisher struct {
	topic    string
	producer string
	codec    Codec
	clock    xclock.Clock
	logger   *xlog.Logger
	notifier *notifier
	metrics  *coreMetrics

	factory        ConnectionFactory
	connectTimeout time.Duration
	sendTimeout    time.Duration
	middlewares    []Middleware

	mu     sync.Mutex
	conn   Connection
	sender Sender
	closed bool
}

// Topic returns the topic messages are published to.
func (p *Publisher) Topic() string { return p.topic }

// Producer returns the producer name used in logs and metric labels.
func (p *Publisher) Producer() string { return p.producer }

// Produce starts a message bound to this publisher. Its Send delivers directly;
// its Enqueue always fails with ErrEnqueueUnsupported.
func (p *Publisher) Produce() ProducedMessage {
	return ProducedMessage{
		builder: NewMessage().WithClock(p.clock).WithCodec(p.codec),
		dest:    p,
	}
}

// Publish is an alias of Produce.
func (p *Publisher) Publish() ProducedMessage { return p.Produce() }

// EnqueueMessage is not supported without a queue.
func (p *Publisher) EnqueueMessage(*Message) error { return ErrEnqueueUnsupported }

// SendMessage delivers msg and waits for the broker. A missing connection is
// recreated first; a failure there is returned as *ConnectionError. A failed
// delivery is returned as *SendError.
func (p *Publisher) SendMessage(ctx context.Context, msg *Message) error {
	if msg == nil {
		return ErrNilMessage
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrPublisherClosed
	}

	ctx = InjectAll(ctx, p.logger, p.clock, p.topic, p.producer)
	if p.conn == nil {
		if err := p.reconnect(ctx); err != nil {
			return err
		}
	}

	start := p.clock.Now()
	err := p.sender(ctx, msg)
	duration := p.clock.Since(start)

	if err == nil {
		p.metrics.sent.Add(1)
		p.metrics.recordSendTime(duration.Nanoseconds())
		p.notifier.notify(Event{
			Type:      EventSent,
			Topic:     p.topic,
			Producer:  p.producer,
			MessageID: msg.ID(),
			Attempt:   1,
			Duration:  duration,
		})
		return nil
	}

	serr := &SendError{
		Topic:     p.topic,
		MessageID: msg.ID(),
		Timeout:   errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil,
		Err:       err,
	}
	p.metrics.sendFailures.Add(1)
	p.notifier.notify(Event{
		Type:      EventSendFailed,
		Topic:     p.topic,
		Producer:  p.producer,
		MessageID: msg.ID(),
		Attempt:   1,
		Duration:  duration,
		Err:       serr,
	})
	p.logger.Warn().
		Str("topic", p.topic).
		Str("message_id", msg.ID()).
		Err(err).
		Msg("xpub: direct send failed, connection dropped")
	p.drop(true)
	return serr
}

func (p *Publisher) reconnect(ctx context.Context) error {
	conn, err := callFactory(ctx, p.factory, p.connectTimeout)
	if err != nil {
		p.metrics.connectFailures.Add(1)
		cerr := &ConnectionError{Topic: p.topic, Err: err}
		p.notifier.notify(Event{Type: EventConnectFailed, Topic: p.topic, Producer: p.producer, Err: cerr})
		return cerr
	}
	p.metrics.reconnects.Add(1)
	p.adopt(conn)
	p.logger.Info().Str("topic", p.topic).Str("producer", p.producer).Msg("xpub: connection recreated")
	return nil
}

func (p *Publisher) adopt(conn Connection) {
	p.conn = conn
	p.sender = buildSender(conn, p.sendTimeout, p.middlewares)
	p.metrics.connected.Store(true)
	p.notifier.notify(Event{Type: EventConnected, Topic: p.topic, Producer: p.producer})
}

// drop forgets the connection. async closes it in the background, where a
// timed-out send may still be holding it.
func (p *Publisher) drop(async bool) {
	conn := p.conn
	p.conn = nil
	p.sender = nil
	p.metrics.connected.Store(false)
	if conn == nil {
		return
	}
	p.notifier.notify(Event{Type: EventDisconnected, Topic: p.topic, Producer: p.producer})
	if async {
		go closeConnection(p.logger, conn)
		return
	}
	closeConnection(p.logger, conn)
}

// Close waits for a send in progress, then closes the connection. Later sends
// fail with ErrPublisherClosed. Closing twice is a no-op.
func (p *Publisher) Close(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	p.metrics.stopped.Store(true)

	var err error
	if conn := p.conn; conn != nil {
		p.conn = nil
		p.sender = nil
		p.metrics.connected.Store(false)
		p.notifier.notify(Event{Type: EventDisconnected, Topic: p.topic, Producer: p.producer})
		err = conn.Close(ctx)
	}
	if p.notifier.pool != nil {
		err = errors.Join(err, p.notifier.pool.Close(closeTimeout))
	}
	return err
}

// AddObserver registers an observer and returns a func that removes it.
func (p *Publisher) AddObserver(obs Observer) (remove func()) { return p.notifier.add(obs) }

// Stats returns delivery counters. Queue fields stay zero.
func (p *Publisher) Stats() Stats {
	s := Stats{
		Sent:            p.metrics.sent.Load(),
		SendFailures:    p.metrics.sendFailures.Load(),
		ConnectFailures: p.metrics.connectFailures.Load(),
		Reconnects:      p.metrics.reconnects.Load(),
		Connected:       p.metrics.connected.Load(),
		Stopped:         p.metrics.stopped.Load(),
		AvgSendTimeMs:   float64(p.metrics.sendNs.Load()) / 1e6,
	}
	if p.notifier.pool != nil {
		s.EventsDropped = p.notifier.pool.Stats().Dropped
	}
	return s
}

// Health reports unhealthy once closed and degraded while no connection is held.
func (p *Publisher) Health(_ context.Context) HealthStatus {
	stats := p.Stats()
	now := p.clock.Now()
	switch {
	case stats.Stopped:
		return HealthStatus{Status: StatusUnhealthy, Stats: stats, Timestamp: now, Message: "publisher closed"}
	case !stats.Connected:
		return HealthStatus{Status: StatusDegraded, Stats: stats, Timestamp: now, Message: "no broker connection"}
	}
	return HealthStatus{Status: StatusHealthy, Stats: stats, Timestamp: now}
}
