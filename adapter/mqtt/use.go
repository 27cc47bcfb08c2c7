package mqtt

import (
	"context"
	"fmt"

	"github.com/trickstertwo/xpub"
)

const BackendName = "mqtt"

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

// Factory returns a ConnectionFactory that connects a fresh client per call.
func Factory(topic string, cfg Config) xpub.ConnectionFactory {
	return func(ctx context.Context) (xpub.Connection, error) {
		return Dial(ctx, topic, cfg)
	}
}

// Use builds a publisher on an MQTT topic.
func Use(ctx context.Context, topic string, cfg Config, opts ...xpub.Option) (*xpub.Handle, error) {
	pb := xpub.NewPublisherBuilder().
		WithTopic(topic).
		WithBackend(BackendName, cfg.toMap())

	for _, o := range opts {
		if o != nil {
			o(pb)
		}
	}
	h, err := pb.Build(ctx)
	if err != nil {
		return nil, fmt.Errorf("mqtt.Use: %w", err)
	}
	return h, nil
}
