package xpub

import (
	"context"

	"github.com/trickstertwo/xclock"
	"github.com/trickstertwo/xlog"
)

// ctxKey is the base for all context keys in xpub (prevents collisions).
type ctxKey string

const (
	loggerCtxKey   ctxKey = "xpub:logger"
	clockCtxKey    ctxKey = "xpub:clock"
	topicCtxKey    ctxKey = "xpub:topic"
	producerCtxKey ctxKey = "xpub:producer"
)

func injectLogger(ctx context.Context, l *xlog.Logger) context.Context {
	if l == nil {
		return ctx
	}
	return context.WithValue(ctx, loggerCtxKey, l)
}

// LoggerFromContext returns the publisher logger handed to factories and sends.
func LoggerFromContext(ctx context.Context) (*xlog.Logger, bool) {
	if v := ctx.Value(loggerCtxKey); v != nil {
		if l, ok := v.(*xlog.Logger); ok && l != nil {
			return l, true
		}
	}
	return nil, false
}

func injectClock(ctx context.Context, c xclock.Clock) context.Context {
	if c == nil {
		return ctx
	}
	return context.WithValue(ctx, clockCtxKey, c)
}

func ClockFromContext(ctx context.Context) (xclock.Clock, bool) {
	if v := ctx.Value(clockCtxKey); v != nil {
		if c, ok := v.(xclock.Clock); ok && c != nil {
			return c, true
		}
	}
	return nil, false
}

// ProducerFromContext returns the producer name of the publisher driving the call.
func ProducerFromContext(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(producerCtxKey).(string)
	return v, ok && v != ""
}

// TopicFromContext returns the topic of the publisher driving the call.
func TopicFromContext(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(topicCtxKey).(string)
	return v, ok && v != ""
}

// InjectAll is a convenience helper to inject all standard dependencies.
func InjectAll(ctx context.Context, logger *xlog.Logger, clock xclock.Clock, topic, producer string) context.Context {
	ctx = injectLogger(ctx, logger)
	ctx = injectClock(ctx, clock)
	if topic != "" {
		ctx = context.WithValue(ctx, topicCtxKey, topic)
	}
	if producer != "" {
		ctx = context.WithValue(ctx, producerCtxKey, producer)
	}
	return ctx
}
