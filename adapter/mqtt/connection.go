package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/trickstertwo/xpub"
)

// ErrNotConnected is returned when the client lost its broker connection.
var ErrNotConnected = errors.New("mqtt: not connected")

// Envelope is the JSON document published when Config.Envelope is set.
type Envelope struct {
	ID         string            `json:"id"`
	Producer   string            `json:"producer,omitempty"`
	Timestamp  time.Time         `json:"timestamp"`
	Properties map[string]string `json:"properties,omitempty"`
	Payload    []byte            `json:"payload"`
}

// Connection publishes to one MQTT topic through a dedicated client.
type Connection struct {
	cfg      Config
	topic    string
	producer string
	client   paho.Client

	closeOnce sync.Once
}

var _ xpub.Connection = (*Connection)(nil)

// Dial connects a new client, bounded by ctx and cfg.ConnectTimeout.
func Dial(ctx context.Context, topic string, cfg Config) (*Connection, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	producer, _ := xpub.ProducerFromContext(ctx)

	clientID := cfg.ClientID
	if clientID == "" {
		prefix := producer
		if prefix == "" {
			prefix = "xpub"
		}
		clientID = fmt.Sprintf("%s-%s", prefix, uuid.NewString()[:8])
	}

	opts := paho.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(clientID).
		SetUsername(cfg.Username).
		SetPassword(cfg.Password).
		SetCleanSession(true).
		SetProtocolVersion(4).
		SetConnectTimeout(cfg.ConnectTimeout).
		SetAutoReconnect(false).
		SetConnectRetry(false)

	client := paho.NewClient(opts)
	if err := wait(ctx, client.Connect()); err != nil {
		client.Disconnect(0)
		return nil, fmt.Errorf("mqtt: connect %s: %w", cfg.Broker, err)
	}

	if lg, ok := xpub.LoggerFromContext(ctx); ok {
		lg.Debug().Str("broker", cfg.Broker).Str("client_id", clientID).Str("topic", topic).Msg("mqtt: connected")
	}
	return &Connection{
		cfg:      cfg,
		topic:    topic,
		producer: producer,
		client:   client,
	}, nil
}

func (c *Connection) Topic() string { return c.topic }

// Send publishes msg and waits for the broker acknowledgement its QoS requires.
func (c *Connection) Send(ctx context.Context, msg *xpub.Message) error {
	if !c.client.IsConnectionOpen() {
		return ErrNotConnected
	}
	payload := msg.Payload()
	if c.cfg.Envelope {
		b, err := json.Marshal(Envelope{
			ID:         msg.ID(),
			Producer:   c.producer,
			Timestamp:  msg.Timestamp(),
			Properties: msg.Properties(),
			Payload:    payload,
		})
		if err != nil {
			return fmt.Errorf("mqtt: encode envelope: %w", err)
		}
		payload = b
	}
	if err := wait(ctx, c.client.Publish(c.topic, c.cfg.QoS, c.cfg.Retain, payload)); err != nil {
		return fmt.Errorf("mqtt: publish %s: %w", c.topic, err)
	}
	return nil
}

// Close disconnects the client.
func (c *Connection) Close(_ context.Context) error {
	c.closeOnce.Do(func() {
		c.client.Disconnect(c.cfg.DisconnectQuiesce)
	})
	return nil
}

// wait blocks until tok completes or ctx ends.
func wait(ctx context.Context, tok paho.Token) error {
	select {
	case <-tok.Done():
		return tok.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}
