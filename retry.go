package xpub

import (
	"context"
	"time"

	"github.com/trickstertwo/xclock"
)

// delivery is a message plus the number of attempts already spent on it.
type delivery struct {
	msg      *Message
	attempts int
}

// retryState is sealed: its only implementations are idle and pendingRetry.
type retryState interface{ isRetryState() }

// idle holds no message. It is the only state that can schedule a retry, so a
// pending message can never be overwritten by another one.
type idle struct{}

// pendingRetry holds exactly one failed delivery and the instant it becomes eligible again.
type pendingRetry struct {
	d  delivery
	at time.Time
}

func (idle) isRetryState()         {}
func (pendingRetry) isRetryState() {}

func (idle) schedule(d delivery, at time.Time) pendingRetry {
	return pendingRetry{d: d, at: at}
}

// retryScheduler decides which message the dispatcher handles next: a pending
// retry (after its deadline) always wins over new arrivals.
type retryScheduler struct {
	state retryState
	delay time.Duration
	clock xclock.Clock
}

func newRetryScheduler(delay time.Duration, clock xclock.Clock) *retryScheduler {
	if delay <= 0 {
		delay = DefaultRetryDelay
	}
	return &retryScheduler{state: idle{}, delay: delay, clock: clock}
}

// next blocks until a delivery is eligible. The returned idle value is the slot
// the caller must use to reschedule that delivery if it fails again.
func (s *retryScheduler) next(ctx context.Context, q *queue) (delivery, idle, error) {
	if p, ok := s.state.(pendingRetry); ok {
		if err := s.sleepUntil(ctx, p.at); err != nil {
			return delivery{}, idle{}, err
		}
		s.state = idle{}
		return p.d, idle{}, nil
	}
	msg, err := q.recv(ctx)
	if err != nil {
		return delivery{}, idle{}, err
	}
	return delivery{msg: msg}, idle{}, nil
}

// postpone parks d in the free slot with a fixed delay and returns its deadline.
func (s *retryScheduler) postpone(slot idle, d delivery) time.Time {
	p := slot.schedule(d, s.clock.Now().Add(s.delay))
	s.state = p
	return p.at
}

// pending reports the parked delivery, if any.
func (s *retryScheduler) pending() (delivery, bool) {
	p, ok := s.state.(pendingRetry)
	return p.d, ok
}

// sleepUntil waits on the scheduler's clock, which also produced at.
func (s *retryScheduler) sleepUntil(ctx context.Context, at time.Time) error {
	wait := at.Sub(s.clock.Now())
	if wait <= 0 {
		return ctx.Err()
	}
	timer := s.clock.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-timer.C():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
