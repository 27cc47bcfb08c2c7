package memory

import (
	"context"
	"fmt"

	"github.com/trickstertwo/xpub"
)

func init() {
	if err := xpub.RegisterBackend(BackendName, func(topic string, cfg map[string]any) (xpub.ConnectionFactory, error) {
		c := ConfigFromMap(cfg)
		b := c.Broker
		if b == nil {
			b = Default()
		}
		return b.Factory(topic), nil
	}); err != nil {
		panic(fmt.Errorf("xpub/memory: failed to register backend: %w", err))
	}
}

// Use builds a publisher on the in-memory broker.
//
// Example:
//
//	broker := memory.NewBroker(memory.Config{})
//	h, err := memory.Use(ctx, "orders", memory.Config{Broker: broker},
//	    xpub.WithLogger(logger),
//	    xpub.WithObserver(observer),
//	)
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
		return nil, fmt.Errorf("memory.Use: %w", err)
	}
	return h, nil
}

// toMap converts Config to the generic map expected by the backend factory.
func (c Config) toMap() map[string]any {
	m := map[string]any{
		"buffer_size": c.BufferSize,
		"send_delay":  c.SendDelay,
	}
	if c.Broker != nil {
		m["broker"] = c.Broker
	}
	return m
}
