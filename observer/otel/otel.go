// Package otel exports publisher events as OpenTelemetry metrics.
package otel

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/trickstertwo/xpub"
)

const meterName = "github.com/trickstertwo/xpub"

// Observer holds OpenTelemetry metric instruments for a publisher.
type Observer struct {
	queued          metric.Int64Counter
	rejected        metric.Int64Counter
	sent            metric.Int64Counter
	sendFailures    metric.Int64Counter
	connectFailures metric.Int64Counter
	retries         metric.Int64Counter
	abandoned       metric.Int64Counter
	sendDuration    metric.Float64Histogram
}

var _ xpub.Observer = (*Observer)(nil)

// New creates an Observer on mp, or on the global MeterProvider when mp is nil.
func New(mp metric.MeterProvider) (*Observer, error) {
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	meter := mp.Meter(meterName)
	o := &Observer{}

	var err error
	counter := func(name, desc string) metric.Int64Counter {
		c, cerr := meter.Int64Counter(name, metric.WithDescription(desc))
		if cerr != nil {
			err = errors.Join(err, fmt.Errorf("failed to create %s counter: %w", name, cerr))
		}
		return c
	}

	o.queued = counter("xpub.messages.queued", "Messages handed to the publisher queue, rejected ones included")
	o.rejected = counter("xpub.messages.rejected", "Messages the publisher queue refused")
	o.sent = counter("xpub.messages.sent", "Messages acknowledged by the broker")
	o.sendFailures = counter("xpub.send.failures", "Failed send attempts, timeouts included")
	o.connectFailures = counter("xpub.connect.failures", "Failed connection factory calls")
	o.retries = counter("xpub.retries.scheduled", "Deliveries parked for a retry")
	o.abandoned = counter("xpub.messages.abandoned", "Messages dropped undelivered at shutdown")

	h, herr := meter.Float64Histogram(
		"xpub.send.duration",
		metric.WithDescription("Duration of successful sends"),
		metric.WithUnit("s"),
	)
	if herr != nil {
		err = errors.Join(err, fmt.Errorf("failed to create sendDuration histogram: %w", herr))
	}
	if err != nil {
		return nil, err
	}
	o.sendDuration = h
	return o, nil
}

// OnEvent records one publisher event.
func (o *Observer) OnEvent(e xpub.Event) {
	ctx := context.Background()
	attrs := metric.WithAttributes(
		attribute.String("producer", e.Producer),
		attribute.String("topic", e.Topic),
	)

	switch e.Type {
	case xpub.EventQueued:
		o.queued.Add(ctx, 1, attrs)
	case xpub.EventRejected:
		o.rejected.Add(ctx, 1, attrs)
	case xpub.EventSent:
		o.sent.Add(ctx, 1, attrs)
		o.sendDuration.Record(ctx, e.Duration.Seconds(), attrs)
	case xpub.EventSendFailed:
		var serr *xpub.SendError
		timeout := errors.As(e.Err, &serr) && serr.Timeout
		o.sendFailures.Add(ctx, 1, attrs, metric.WithAttributes(attribute.Bool("timeout", timeout)))
	case xpub.EventConnectFailed:
		o.connectFailures.Add(ctx, 1, attrs)
	case xpub.EventRetryScheduled:
		o.retries.Add(ctx, 1, attrs)
	case xpub.EventAbandoned:
		o.abandoned.Add(ctx, 1, attrs)
	}
}
