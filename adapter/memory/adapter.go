package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/trickstertwo/xpub"
)

const BackendName = "memory"

var (
	// ErrUnavailable is returned while the broker is marked unavailable.
	ErrUnavailable = errors.New("memory broker unavailable")
	// ErrInjectedFailure is returned by sends and connects failed on purpose via FailSends/FailConnects.
	ErrInjectedFailure = errors.New("memory broker injected failure")
	// ErrConnectionClosed is returned by a connection used after Close.
	ErrConnectionClosed = errors.New("memory connection closed")
)

// Config controls memory broker behavior.
type Config struct {
	// BufferSize is the per-subscriber channel size (default: 1024).
	BufferSize int
	// SendDelay is added to every send, e.g. to exercise send timeouts (default: 0).
	SendDelay time.Duration
	// Broker selects the broker to publish into (default: the process-wide Default broker).
	Broker *Broker
}

func ConfigFromMap(cfg map[string]any) Config {
	getInt := func(k string, d int) int {
		switch v := cfg[k].(type) {
		case int:
			return v
		case int32:
			return int(v)
		case int64:
			return int(v)
		case float64:
			return int(v)
		default:
			return d
		}
	}

	getDur := func(k string, d time.Duration) time.Duration {
		switch v := cfg[k].(type) {
		case time.Duration:
			return v
		case string:
			if p, err := time.ParseDuration(v); err == nil {
				return p
			}
		case float64:
			return time.Duration(v)
		}
		return d
	}

	c := Config{
		BufferSize: max(1, getInt("buffer_size", 1024)),
		SendDelay:  getDur("send_delay", 0),
	}
	if b, ok := cfg["broker"].(*Broker); ok {
		c.Broker = b
	}
	return c
}

// Broker is an in-memory topic store (dev/testing). It records every message it
// accepts, fans them out to subscribers and can be told to misbehave.
// Not suitable for production but excellent for local development and tests.
type Broker struct {
	cfg Config

	mu     sync.RWMutex
	topics map[string]*topic

	unavailable  atomic.Bool
	failSends    atomic.Int64
	failConnects atomic.Int64
	sendDelay    atomic.Int64

	// Metrics for observability
	metrics *brokerMetrics
}

type brokerMetrics struct {
	published       atomic.Uint64
	connects        atomic.Uint64
	connectFailures atomic.Uint64
	sendFailures    atomic.Uint64
	dropped         atomic.Uint64
}

var (
	defaultBroker     *Broker
	defaultBrokerOnce sync.Once
)

// Default returns the process-wide broker used when Config.Broker is nil.
func Default() *Broker {
	defaultBrokerOnce.Do(func() { defaultBroker = NewBroker(Config{}) })
	return defaultBroker
}

// NewBroker creates a new in-memory broker.
func NewBroker(cfg Config) *Broker {
	if cfg.BufferSize < 1 {
		cfg.BufferSize = 1024
	}
	b := &Broker{
		cfg:     cfg,
		topics:  make(map[string]*topic),
		metrics: &brokerMetrics{},
	}
	b.sendDelay.Store(int64(cfg.SendDelay))
	return b
}

// Factory returns a ConnectionFactory producing connections bound to topic.
func (b *Broker) Factory(topic string) xpub.ConnectionFactory {
	return func(ctx context.Context) (xpub.Connection, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if b.unavailable.Load() {
			b.metrics.connectFailures.Add(1)
			return nil, ErrUnavailable
		}
		if consume(&b.failConnects) {
			b.metrics.connectFailures.Add(1)
			return nil, ErrInjectedFailure
		}
		b.metrics.connects.Add(1)
		return &connection{broker: b, topic: topic}, nil
	}
}

// SetAvailable toggles whether connects and sends succeed.
func (b *Broker) SetAvailable(ok bool) { b.unavailable.Store(!ok) }

// FailSends makes the next n sends fail with ErrInjectedFailure.
func (b *Broker) FailSends(n int) { b.failSends.Store(int64(n)) }

// FailConnects makes the next n factory calls fail with ErrInjectedFailure.
func (b *Broker) FailConnects(n int) { b.failConnects.Store(int64(n)) }

// SetSendDelay changes the latency added to every send.
func (b *Broker) SetSendDelay(d time.Duration) { b.sendDelay.Store(int64(d)) }

// Messages returns a snapshot of everything accepted on topic, in order.
func (b *Broker) Messages(topic string) []*xpub.Message {
	b.mu.RLock()
	tp, ok := b.topics[topic]
	b.mu.RUnlock()
	if !ok {
		return nil
	}
	tp.mu.RLock()
	defer tp.mu.RUnlock()
	out := make([]*xpub.Message, len(tp.log))
	copy(out, tp.log)
	return out
}

// Subscribe streams messages accepted on topic from now on. Messages are dropped
// for a subscriber whose buffer is full. The returned func unsubscribes.
func (b *Broker) Subscribe(topic string) (<-chan *xpub.Message, func()) {
	tp := b.ensureTopic(topic)
	ch := make(chan *xpub.Message, b.cfg.BufferSize)

	tp.mu.Lock()
	tp.subs = append(tp.subs, ch)
	tp.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			tp.mu.Lock()
			defer tp.mu.Unlock()
			for i, s := range tp.subs {
				if s == ch {
					tp.subs = append(tp.subs[:i], tp.subs[i+1:]...)
					close(ch)
					return
				}
			}
		})
	}
}

// Reset forgets all topics, subscribers and injected faults.
func (b *Broker) Reset() {
	b.mu.Lock()
	for _, tp := range b.topics {
		tp.mu.Lock()
		for _, s := range tp.subs {
			close(s)
		}
		tp.subs = nil
		tp.mu.Unlock()
	}
	b.topics = make(map[string]*topic)
	b.mu.Unlock()

	b.unavailable.Store(false)
	b.failSends.Store(0)
	b.failConnects.Store(0)
	b.sendDelay.Store(int64(b.cfg.SendDelay))
}

// Stats returns broker telemetry.
type Stats struct {
	Published       uint64
	Connects        uint64
	ConnectFailures uint64
	SendFailures    uint64
	Dropped         uint64
}

// Stats returns current broker metrics.
func (b *Broker) Stats() Stats {
	return Stats{
		Published:       b.metrics.published.Load(),
		Connects:        b.metrics.connects.Load(),
		ConnectFailures: b.metrics.connectFailures.Load(),
		SendFailures:    b.metrics.sendFailures.Load(),
		Dropped:         b.metrics.dropped.Load(),
	}
}

func (b *Broker) publish(ctx context.Context, topic string, msg *xpub.Message) error {
	if d := time.Duration(b.sendDelay.Load()); d > 0 {
		timer := time.NewTimer(d)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			b.metrics.sendFailures.Add(1)
			return ctx.Err()
		case <-timer.C:
		}
	}
	if b.unavailable.Load() {
		b.metrics.sendFailures.Add(1)
		return ErrUnavailable
	}
	if consume(&b.failSends) {
		b.metrics.sendFailures.Add(1)
		return ErrInjectedFailure
	}

	tp := b.ensureTopic(topic)
	tp.mu.Lock()
	tp.log = append(tp.log, msg)
	for _, s := range tp.subs {
		select {
		case s <- msg:
		default:
			b.metrics.dropped.Add(1)
		}
	}
	tp.mu.Unlock()

	b.metrics.published.Add(1)
	return nil
}

func (b *Broker) ensureTopic(name string) *topic {
	b.mu.Lock()
	defer b.mu.Unlock()

	if tp, ok := b.topics[name]; ok {
		return tp
	}
	tp := &topic{}
	b.topics[name] = tp
	return tp
}

type topic struct {
	mu   sync.RWMutex
	log  []*xpub.Message
	subs []chan *xpub.Message
}

// connection implements xpub.Connection on top of a Broker.
type connection struct {
	broker *Broker
	topic  string
	closed atomic.Bool
}

var _ xpub.Connection = (*connection)(nil)

func (c *connection) Topic() string { return c.topic }

func (c *connection) Send(ctx context.Context, msg *xpub.Message) error {
	if c.closed.Load() {
		return ErrConnectionClosed
	}
	if msg == nil {
		return fmt.Errorf("memory: nil message")
	}
	return c.broker.publish(ctx, c.topic, msg)
}

func (c *connection) Close(_ context.Context) error {
	c.closed.Store(true)
	return nil
}

// consume decrements a positive counter and reports whether it did.
func consume(n *atomic.Int64) bool {
	for {
		v := n.Load()
		if v <= 0 {
			return false
		}
		if n.CompareAndSwap(v, v-1) {
			return true
		}
	}
}
