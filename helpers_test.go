package xpub

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/trickstertwo/xclock"
	"github.com/trickstertwo/xlog"
	"github.com/trickstertwo/xlog/adapter/zerolog"
)

var errBroken = errors.New("broken pipe")

func quietLogger() *xlog.Logger {
	return zerolog.Use(zerolog.Config{
		MinLevel: xlog.LevelDebug,
		Writer:   io.Discard,
	})
}

// sendFunc scripts the outcome of one send attempt.
type sendFunc func(ctx context.Context, msg *Message) error

func failWith(err error) sendFunc {
	return func(context.Context, *Message) error { return err }
}

// hang blocks until the attempt's ctx ends.
func hang() sendFunc {
	return func(ctx context.Context, _ *Message) error {
		<-ctx.Done()
		return ctx.Err()
	}
}

// stub is a scripted broker: the factory and every connection it hands out
// record into the same timeline.
type stub struct {
	topic string

	mu           sync.Mutex
	timeline     []string
	delivered    []string
	connectTimes []time.Time
	sendTimes    map[string][]time.Time
	sends        []sendFunc
	failConnects int
	closes       int
}

func newStub(topic string) *stub {
	return &stub{topic: topic, sendTimes: map[string][]time.Time{}}
}

// script queues outcomes for the next send attempts; attempts past the script succeed.
func (s *stub) script(fns ...sendFunc) {
	s.mu.Lock()
	s.sends = append(s.sends, fns...)
	s.mu.Unlock()
}

func (s *stub) failNextConnects(n int) {
	s.mu.Lock()
	s.failConnects = n
	s.mu.Unlock()
}

func (s *stub) factory(ctx context.Context) (Connection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connectTimes = append(s.connectTimes, time.Now())
	if s.failConnects > 0 {
		s.failConnects--
		s.timeline = append(s.timeline, "connect!")
		return nil, errBroken
	}
	s.timeline = append(s.timeline, "connect")
	return &stubConn{stub: s}, nil
}

func (s *stub) Timeline() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.timeline...)
}

func (s *stub) Delivered() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.delivered...)
}

func (s *stub) Connects() []time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Time(nil), s.connectTimes...)
}

func (s *stub) SendTimes(payload string) []time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Time(nil), s.sendTimes[payload]...)
}

type stubConn struct {
	stub   *stub
	closed bool
}

func (c *stubConn) Topic() string { return c.stub.topic }

func (c *stubConn) Send(ctx context.Context, msg *Message) error {
	s := c.stub
	payload := string(msg.Payload())

	s.mu.Lock()
	if c.closed {
		s.mu.Unlock()
		return errors.New("send on closed connection")
	}
	s.sendTimes[payload] = append(s.sendTimes[payload], time.Now())
	var fn sendFunc
	if len(s.sends) > 0 {
		fn = s.sends[0]
		s.sends = s.sends[1:]
	}
	s.mu.Unlock()

	var err error
	if fn != nil {
		err = fn(ctx, msg)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.timeline = append(s.timeline, "send!"+payload)
		return err
	}
	s.timeline = append(s.timeline, "send:"+payload)
	s.delivered = append(s.delivered, payload)
	return nil
}

func (c *stubConn) Close(context.Context) error {
	c.stub.mu.Lock()
	c.closed = true
	c.stub.closes++
	c.stub.mu.Unlock()
	return nil
}

// recorder collects events in arrival order.
type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) OnEvent(e Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *recorder) ofType(t EventType) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, e := range r.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

func spawnStub(t *testing.T, s *stub, opts ...Option) *Handle {
	t.Helper()
	opts = append([]Option{
		WithLogger(quietLogger()),
		WithProducerName("test"),
	}, opts...)
	h, err := Spawn(context.Background(), s.factory, opts...)
	require.NoError(t, err)
	return h
}

func closeWithin(t *testing.T, h *Handle, d time.Duration) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	require.NoError(t, h.Close(ctx))
}

// manualClock only moves on Advance. Tickers are not simulated.
type manualClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*manualTimer
}

func newManualClock(start time.Time) *manualClock { return &manualClock{now: start} }

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Since(t time.Time) time.Duration { return c.Now().Sub(t) }
func (c *manualClock) Sleep(d time.Duration)           { <-c.After(d) }
func (c *manualClock) After(d time.Duration) <-chan time.Time {
	return c.NewTimer(d).C()
}

func (c *manualClock) AfterFunc(d time.Duration, f func()) xclock.CancelFunc {
	t := c.NewTimer(d)
	go func() {
		if _, ok := <-t.C(); ok {
			f()
		}
	}()
	return t.Stop
}

func (c *manualClock) NewTimer(d time.Duration) xclock.Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &manualTimer{clock: c, c: make(chan time.Time, 1), at: c.now.Add(d), active: true}
	c.timers = append(c.timers, t)
	return t
}

func (c *manualClock) NewTicker(d time.Duration) xclock.Ticker { return xclock.Default().NewTicker(d) }

// Advance moves the clock forward and fires every timer that came due.
func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	for _, t := range c.timers {
		if t.active && !t.at.After(c.now) {
			t.active = false
			t.c <- c.now
		}
	}
}

// armed counts timers that have not fired or been stopped.
func (c *manualClock) armed() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if t.active {
			n++
		}
	}
	return n
}

type manualTimer struct {
	clock  *manualClock
	c      chan time.Time
	at     time.Time
	active bool
}

func (t *manualTimer) C() <-chan time.Time { return t.c }

func (t *manualTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	was := t.active
	t.active = false
	return was
}

func (t *manualTimer) Reset(d time.Duration) bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	was := t.active
	t.at = t.clock.now.Add(d)
	t.active = true
	return was
}
