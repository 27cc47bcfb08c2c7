package amqp

import (
	"context"
	"errors"
	"fmt"
	"sync"

	amqp091 "github.com/rabbitmq/amqp091-go"

	"github.com/trickstertwo/xpub"
)

var (
	// ErrNacked is returned when the broker negatively acknowledged a publish.
	ErrNacked = errors.New("amqp: message was not acknowledged by broker")
	// ErrReturned is returned when a mandatory publish could not be routed.
	ErrReturned = errors.New("amqp: message returned unroutable")
	// ErrChannelClosed is returned when the channel went away while waiting for a confirm.
	ErrChannelClosed = errors.New("amqp: channel closed")
)

// Connection publishes to one routing key with publisher confirms. Each send
// waits for its confirm, so at most one publish is outstanding.
type Connection struct {
	cfg        Config
	routingKey string
	producer   string

	conn     *amqp091.Connection
	channel  *amqp091.Channel
	confirms chan amqp091.Confirmation
	returns  chan amqp091.Return

	closeOnce sync.Once
}

var _ xpub.Connection = (*Connection)(nil)

// Dial connects, opens a channel in confirm mode and declares the configured topology.
func Dial(ctx context.Context, topic string, cfg Config) (*Connection, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	producer, _ := xpub.ProducerFromContext(ctx)

	props := amqp091.Table{}
	if producer != "" {
		props["connection_name"] = producer
	}
	conn, err := amqp091.DialConfig(cfg.URL, amqp091.Config{
		Dial:       amqp091.DefaultDial(cfg.DialTimeout),
		Properties: props,
	})
	if err != nil {
		return nil, fmt.Errorf("amqp: dial: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to create channel: %w", err)
	}

	if err := declare(channel, topic, cfg); err != nil {
		_ = conn.Close()
		return nil, err
	}

	if err := channel.Confirm(false); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to enable publisher confirms: %w", err)
	}

	c := &Connection{
		cfg:        cfg,
		routingKey: topic,
		producer:   producer,
		conn:       conn,
		channel:    channel,
		confirms:   channel.NotifyPublish(make(chan amqp091.Confirmation, 1)),
	}
	if cfg.Mandatory {
		c.returns = channel.NotifyReturn(make(chan amqp091.Return, 1))
	}

	if lg, ok := xpub.LoggerFromContext(ctx); ok {
		lg.Debug().Str("exchange", cfg.Exchange).Str("routing_key", topic).Msg("amqp: connected")
	}
	return c, nil
}

func declare(ch *amqp091.Channel, topic string, cfg Config) error {
	if cfg.DeclareExchange {
		if err := ch.ExchangeDeclare(cfg.Exchange, cfg.ExchangeKind, true, false, false, false, nil); err != nil {
			return fmt.Errorf("amqp: declare exchange %s: %w", cfg.Exchange, err)
		}
	}
	if cfg.DeclareQueue {
		if _, err := ch.QueueDeclare(topic, true, false, false, false, nil); err != nil {
			return fmt.Errorf("amqp: declare queue %s: %w", topic, err)
		}
		if cfg.Exchange != "" {
			if err := ch.QueueBind(topic, topic, cfg.Exchange, false, nil); err != nil {
				return fmt.Errorf("amqp: bind queue %s: %w", topic, err)
			}
		}
	}
	return nil
}

func (c *Connection) Topic() string { return c.routingKey }

// Send publishes msg and waits for the broker's confirm.
func (c *Connection) Send(ctx context.Context, msg *xpub.Message) error {
	props := msg.Properties()
	headers := make(amqp091.Table, len(props))
	for k, v := range props {
		headers[k] = v
	}

	publishing := amqp091.Publishing{
		Headers:     headers,
		ContentType: c.cfg.ContentType,
		MessageId:   msg.ID(),
		AppId:       c.producer,
		Timestamp:   msg.Timestamp(),
		Body:        msg.Payload(),
	}
	if c.cfg.Persistent {
		publishing.DeliveryMode = amqp091.Persistent
	}

	err := c.channel.PublishWithContext(
		ctx,
		c.cfg.Exchange,
		c.routingKey,
		c.cfg.Mandatory,
		false,
		publishing,
	)
	if err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}

	// A return, when it happens, is delivered before the confirm for the same publish.
	select {
	case ret, ok := <-c.returns:
		if ok {
			<-c.confirms
			return fmt.Errorf("%w: %d %s", ErrReturned, ret.ReplyCode, ret.ReplyText)
		}
		return ErrChannelClosed
	case confirm, ok := <-c.confirms:
		if !ok {
			return ErrChannelClosed
		}
		if !confirm.Ack {
			return ErrNacked
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close closes the channel and the underlying connection.
func (c *Connection) Close(_ context.Context) error {
	var err error
	c.closeOnce.Do(func() {
		_ = c.channel.Close()
		if cerr := c.conn.Close(); cerr != nil && !errors.Is(cerr, amqp091.ErrClosed) {
			err = cerr
		}
	})
	return err
}
