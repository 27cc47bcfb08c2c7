package pulsar

import (
	"context"
	"fmt"
	"sync"

	"github.com/apache/pulsar-client-go/pulsar"

	"github.com/trickstertwo/xpub"
)

// Connection publishes to one Pulsar topic.
type Connection struct {
	topic    string
	client   pulsar.Client
	producer pulsar.Producer

	closeOnce sync.Once
}

var _ xpub.Connection = (*Connection)(nil)

// Dial creates a client and a producer for topic.
func Dial(ctx context.Context, topic string, cfg Config) (*Connection, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	opts := pulsar.ClientOptions{
		URL:               cfg.URL,
		ConnectionTimeout: cfg.ConnectionTimeout,
		OperationTimeout:  cfg.OperationTimeout,
	}
	if cfg.Token != "" {
		opts.Authentication = pulsar.NewAuthenticationToken(cfg.Token)
	}
	client, err := pulsar.NewClient(opts)
	if err != nil {
		return nil, fmt.Errorf("pulsar: new client: %w", err)
	}

	name := cfg.ProducerName
	if name == "" {
		name, _ = xpub.ProducerFromContext(ctx)
	}
	producer, err := client.CreateProducer(pulsar.ProducerOptions{
		Topic:                   topic,
		Name:                    name,
		DisableBatching:         !cfg.EnableBatching,
		BatchingMaxPublishDelay: cfg.BatchingMaxDelay,
	})
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("pulsar: create producer on %s: %w", topic, err)
	}

	if lg, ok := xpub.LoggerFromContext(ctx); ok {
		lg.Debug().Str("url", cfg.URL).Str("topic", topic).Str("producer", producer.Name()).Msg("pulsar: producer created")
	}
	return &Connection{topic: topic, client: client, producer: producer}, nil
}

func (c *Connection) Topic() string { return c.topic }

// Send publishes msg and waits for the broker receipt.
func (c *Connection) Send(ctx context.Context, msg *xpub.Message) error {
	_, err := c.producer.Send(ctx, &pulsar.ProducerMessage{
		Payload:    msg.Payload(),
		Properties: msg.Properties(),
		EventTime:  msg.Timestamp(),
	})
	if err != nil {
		return fmt.Errorf("pulsar: send to %s: %w", c.topic, err)
	}
	return nil
}

// Close closes the producer and its client.
func (c *Connection) Close(_ context.Context) error {
	c.closeOnce.Do(func() {
		c.producer.Close()
		c.client.Close()
	})
	return nil
}
