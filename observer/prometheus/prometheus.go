// Package prometheus exports publisher events as Prometheus metrics.
//
// The observer is registered on a caller-supplied Registerer; nothing is
// registered globally.
//
//	reg := prometheus.NewRegistry()
//	obs, err := xpubprom.New(reg)
//	h, err := xpub.Spawn(ctx, factory, xpub.WithObserver(obs))
package prometheus

import (
	"errors"

	prom "github.com/prometheus/client_golang/prometheus"

	"github.com/trickstertwo/xpub"
)

const Namespace = "xpub"

const (
	labelProducer = "producer"
	labelTopic    = "topic"
)

// Observer implements xpub.Observer by updating Prometheus collectors.
type Observer struct {
	queued          *prom.CounterVec
	rejected        *prom.CounterVec
	sent            *prom.CounterVec
	sendFailures    *prom.CounterVec
	sendTimeouts    *prom.CounterVec
	connectFailures *prom.CounterVec
	retries         *prom.CounterVec
	abandoned       *prom.CounterVec
	sendDuration    *prom.HistogramVec
	connected       *prom.GaugeVec
}

var _ xpub.Observer = (*Observer)(nil)

// New creates an Observer and registers its collectors with reg.
// Returns an error if any metric registration fails.
func New(reg prom.Registerer) (*Observer, error) {
	return NewWithLabels(reg, nil)
}

// NewWithLabels is New with constant labels applied to all metrics, for telling
// several services apart on a shared registry.
func NewWithLabels(reg prom.Registerer, labels prom.Labels) (*Observer, error) {
	if len(labels) > 0 {
		reg = prom.WrapRegistererWith(labels, reg)
	}

	labelNames := []string{labelProducer, labelTopic}
	o := &Observer{
		queued: prom.NewCounterVec(prom.CounterOpts{
			Namespace: Namespace,
			Name:      "messages_queued_total",
			Help:      "Messages handed to the publisher queue, rejected ones included",
		}, labelNames),
		rejected: prom.NewCounterVec(prom.CounterOpts{
			Namespace: Namespace,
			Name:      "messages_rejected_total",
			Help:      "Messages the publisher queue refused",
		}, labelNames),
		sent: prom.NewCounterVec(prom.CounterOpts{
			Namespace: Namespace,
			Name:      "messages_sent_total",
			Help:      "Messages acknowledged by the broker",
		}, labelNames),
		sendFailures: prom.NewCounterVec(prom.CounterOpts{
			Namespace: Namespace,
			Name:      "send_failures_total",
			Help:      "Failed send attempts, timeouts included",
		}, labelNames),
		sendTimeouts: prom.NewCounterVec(prom.CounterOpts{
			Namespace: Namespace,
			Name:      "send_timeouts_total",
			Help:      "Send attempts that exceeded the send timeout",
		}, labelNames),
		connectFailures: prom.NewCounterVec(prom.CounterOpts{
			Namespace: Namespace,
			Name:      "connect_failures_total",
			Help:      "Failed connection factory calls",
		}, labelNames),
		retries: prom.NewCounterVec(prom.CounterOpts{
			Namespace: Namespace,
			Name:      "retries_scheduled_total",
			Help:      "Deliveries parked for a retry",
		}, labelNames),
		abandoned: prom.NewCounterVec(prom.CounterOpts{
			Namespace: Namespace,
			Name:      "messages_abandoned_total",
			Help:      "Messages dropped undelivered at shutdown",
		}, labelNames),
		sendDuration: prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: Namespace,
			Name:      "send_duration_seconds",
			Help:      "Duration of successful sends",
			Buckets:   prom.ExponentialBuckets(0.0005, 2, 16),
		}, labelNames),
		connected: prom.NewGaugeVec(prom.GaugeOpts{
			Namespace: Namespace,
			Name:      "connected",
			Help:      "1 while the publisher holds a broker connection",
		}, labelNames),
	}

	err := errors.Join(
		reg.Register(o.queued),
		reg.Register(o.rejected),
		reg.Register(o.sent),
		reg.Register(o.sendFailures),
		reg.Register(o.sendTimeouts),
		reg.Register(o.connectFailures),
		reg.Register(o.retries),
		reg.Register(o.abandoned),
		reg.Register(o.sendDuration),
		reg.Register(o.connected),
	)
	if err != nil {
		return nil, err
	}
	return o, nil
}

// OnEvent updates the collectors for one publisher event.
func (o *Observer) OnEvent(e xpub.Event) {
	if o == nil {
		return
	}
	switch e.Type {
	case xpub.EventQueued:
		o.queued.WithLabelValues(e.Producer, e.Topic).Inc()
	case xpub.EventRejected:
		o.rejected.WithLabelValues(e.Producer, e.Topic).Inc()
	case xpub.EventSent:
		o.sent.WithLabelValues(e.Producer, e.Topic).Inc()
		o.sendDuration.WithLabelValues(e.Producer, e.Topic).Observe(e.Duration.Seconds())
	case xpub.EventSendFailed:
		o.sendFailures.WithLabelValues(e.Producer, e.Topic).Inc()
		var serr *xpub.SendError
		if errors.As(e.Err, &serr) && serr.Timeout {
			o.sendTimeouts.WithLabelValues(e.Producer, e.Topic).Inc()
		}
	case xpub.EventConnectFailed:
		o.connectFailures.WithLabelValues(e.Producer, e.Topic).Inc()
	case xpub.EventRetryScheduled:
		o.retries.WithLabelValues(e.Producer, e.Topic).Inc()
	case xpub.EventConnected:
		o.connected.WithLabelValues(e.Producer, e.Topic).Set(1)
	case xpub.EventDisconnected:
		o.connected.WithLabelValues(e.Producer, e.Topic).Set(0)
	case xpub.EventAbandoned:
		o.abandoned.WithLabelValues(e.Producer, e.Topic).Inc()
	}
}
