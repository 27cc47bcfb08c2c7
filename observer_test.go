package xpub

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNotifier_PanickingObserverIsContained(t *testing.T) {
	var calls atomic.Int32
	n := &notifier{}
	n.add(ObserverFunc(func(Event) { panic("observer") }))
	n.add(ObserverFunc(func(Event) { calls.Add(1) }))
	n.add(nil)

	require.NotPanics(t, func() { n.notify(Event{Type: EventSent}) })
	assert.Equal(t, int32(1), calls.Load())
}

func TestLoggingObserver(t *testing.T) {
	require.NotPanics(t, func() {
		LoggingObserver{}.OnEvent(Event{Type: EventSent})
		obs := LoggingObserver{Logger: quietLogger()}
		obs.OnEvent(Event{Type: EventSent, Attempt: 2, Duration: time.Millisecond})
		obs.OnEvent(Event{Type: EventSendFailed, Err: errBroken})
		obs.OnEvent(Event{Type: EventAbandoned, Err: context.Canceled})
	})
}

func TestObserverPool_DropsWhenFull(t *testing.T) {
	pool := NewObserverPool(context.Background(), 1, 1)

	entered := make(chan struct{}, 1)
	gate := make(chan struct{})
	var seen atomic.Int32
	obs := []Observer{ObserverFunc(func(Event) {
		seen.Add(1)
		select {
		case entered <- struct{}{}:
		default:
		}
		<-gate
	})}

	pool.Notify(Event{Type: EventQueued}, obs)
	<-entered
	pool.Notify(Event{Type: EventQueued}, obs)
	pool.Notify(Event{Type: EventQueued}, obs)

	stats := pool.Stats()
	assert.Equal(t, uint64(1), stats.Dropped)
	assert.Equal(t, 1, stats.Workers)
	assert.Equal(t, 1, stats.BufferSize)

	close(gate)
	require.NoError(t, pool.Close(time.Second))
	assert.Equal(t, int32(2), seen.Load())
	assert.Equal(t, uint64(2), pool.Stats().Processed)

	pool.Notify(Event{Type: EventQueued}, obs)
	assert.Equal(t, int32(2), seen.Load())
	require.NoError(t, pool.Close(time.Second))
}

func TestObserverPool_CloseTimeout(t *testing.T) {
	pool := NewObserverPool(context.Background(), 1, 4)
	gate := make(chan struct{})
	defer close(gate)

	pool.Notify(Event{}, []Observer{ObserverFunc(func(Event) { <-gate })})
	assert.ErrorIs(t, pool.Close(20*time.Millisecond), ErrObserverPoolShutdownTimeout)
}

// holder is comparable by type but holds a func, so == on it panics.
type holder struct{ fn any }

func (holder) OnEvent(Event) {}

func TestNotifier_RemoveSkipsUncomparableObservers(t *testing.T) {
	n := &notifier{}
	rec := &recorder{}
	fn := ObserverFunc(func(Event) {})
	h := holder{fn: func() {}}
	n.add(fn)
	n.add(h)
	n.add(rec)

	require.NotPanics(t, func() {
		n.remove(fn)
		n.remove(h)
		n.remove(rec)
	})
	assert.Len(t, n.entries, 2)

	n.notify(Event{Type: EventSent})
	assert.Empty(t, rec.ofType(EventSent))
}

func TestNotifier_UnregisterRemovesOnlyItsOwnEntry(t *testing.T) {
	n := &notifier{}
	rec := &recorder{}
	first := n.add(rec)
	n.add(rec)

	first()
	first()
	n.notify(Event{Type: EventSent})
	assert.Len(t, rec.ofType(EventSent), 1)
	assert.NotPanics(t, n.add(nil))
}

func TestObserverPool_StopsWithContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	pool := NewObserverPool(ctx, 2, 8)
	var seen atomic.Int32

	pool.Notify(Event{Type: EventSent}, []Observer{ObserverFunc(func(Event) { seen.Add(1) })})
	cancel()

	require.Eventually(t, func() bool { return pool.Stats().Processed == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, int32(1), seen.Load())
	require.NoError(t, pool.Close(time.Second))
}
