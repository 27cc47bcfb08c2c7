package xpub

import (
	"reflect"
	"slices"
	"strconv"
	"sync"

	"github.com/trickstertwo/xlog"
)

// ObserverFunc is an Adapter that lets a plain function satisfy Observer.
type ObserverFunc func(e Event)

func (f ObserverFunc) OnEvent(e Event) { f(e) }

// LoggingObserver is an Adapter that emits publisher events via xlog.
type LoggingObserver struct {
	Logger *xlog.Logger
}

func (o LoggingObserver) OnEvent(e Event) {
	if o.Logger == nil {
		return
	}
	ev := o.Logger.With(
		xlog.Str("type", string(e.Type)),
		xlog.Str("topic", e.Topic),
		xlog.Str("producer", e.Producer),
		xlog.Str("message_id", e.MessageID),
	)
	if e.Attempt > 0 {
		ev = ev.With(xlog.Str("attempt", strconv.Itoa(e.Attempt)))
	}
	if e.Duration > 0 {
		ev = ev.With(xlog.Dur("duration", e.Duration))
	}
	switch e.Type {
	case EventAbandoned:
		ev.Warn().Err(e.Err).Msg("xpub event")
	case EventSendFailed, EventConnectFailed, EventRejected:
		ev.Debug().Err(e.Err).Msg("xpub event")
	default:
		ev.Debug().Msg("xpub event")
	}
}

// notifier fans events out to observers, synchronously or through an ObserverPool.
type notifier struct {
	mu      sync.RWMutex
	entries []registration
	nextID  uint64
	pool    *ObserverPool
}

type registration struct {
	id  uint64
	obs Observer
}

// add registers obs and returns a func that unregisters exactly this registration.
func (n *notifier) add(obs Observer) (unregister func()) {
	if obs == nil {
		return func() {}
	}
	n.mu.Lock()
	n.nextID++
	id := n.nextID
	n.entries = append(n.entries, registration{id: id, obs: obs})
	n.mu.Unlock()

	var once sync.Once
	return func() { once.Do(func() { n.drop(id) }) }
}

func (n *notifier) drop(id uint64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.entries = slices.DeleteFunc(n.entries, func(r registration) bool { return r.id == id })
}

// remove unregisters the first observer equal to obs. Observers whose dynamic
// type cannot be compared, such as ObserverFunc, never match.
func (n *notifier) remove(obs Observer) {
	if obs == nil {
		return
	}
	n.mu.Lock()
	defer n.mu.Unlock()

	for i, r := range n.entries {
		if sameObserver(r.obs, obs) {
			n.entries = slices.Delete(n.entries, i, i+1)
			return
		}
	}
}

// sameObserver is == on two interface values without the runtime panic for
// func, map or slice dynamic types.
func sameObserver(a, b Observer) (same bool) {
	ta, tb := reflect.TypeOf(a), reflect.TypeOf(b)
	if ta != tb || !ta.Comparable() {
		return false
	}
	// A comparable struct can still hold an uncomparable value in an interface field.
	defer func() {
		if recover() != nil {
			same = false
		}
	}()
	return a == b
}

func (n *notifier) notify(e Event) {
	n.mu.RLock()
	if len(n.entries) == 0 {
		n.mu.RUnlock()
		return
	}
	obs := make([]Observer, len(n.entries))
	for i, r := range n.entries {
		obs[i] = r.obs
	}
	n.mu.RUnlock()

	if n.pool != nil {
		n.pool.Notify(e, obs)
		return
	}
	for _, o := range obs {
		safeNotify(o, e)
	}
}

// safeNotify keeps a panicking observer from taking down the dispatcher.
func safeNotify(o Observer, e Event) {
	defer func() { _ = recover() }()
	o.OnEvent(e)
}
