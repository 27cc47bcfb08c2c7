package redisstream

import (
	"context"
	"fmt"

	"github.com/trickstertwo/xpub"
)

// Backend: Redis Streams (Strategy + Adapter patterns)

const BackendName = "redis-streams"

func init() {
	if err := xpub.RegisterBackend(BackendName, func(topic string, cfg map[string]any) (xpub.ConnectionFactory, error) {
		c := ConfigFromMap(cfg)
		if err := c.Validate(); err != nil {
			return nil, err
		}
		return Factory(topic, c), nil
	}); err != nil {
		panic(fmt.Errorf("xpub: failed to register backend %q: %w", BackendName, err))
	}
}

// Factory returns a ConnectionFactory that dials a fresh client per call.
func Factory(stream string, cfg Config) xpub.ConnectionFactory {
	return func(ctx context.Context) (xpub.Connection, error) {
		return Dial(ctx, stream, cfg)
	}
}

// Use builds a publisher on a Redis stream.
func Use(ctx context.Context, stream string, cfg Config, opts ...xpub.Option) (*xpub.Handle, error) {
	pb := xpub.NewPublisherBuilder().
		WithTopic(stream).
		WithBackend(BackendName, cfg.toMap())

	for _, o := range opts {
		if o != nil {
			o(pb)
		}
	}
	h, err := pb.Build(ctx)
	if err != nil {
		return nil, fmt.Errorf("redisstream.Use: %w", err)
	}
	return h, nil
}
