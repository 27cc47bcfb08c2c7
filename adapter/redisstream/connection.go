package redisstream

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/redis/go-redis/v9"

	"github.com/trickstertwo/xpub"
)

// Connection publishes to one Redis stream. It owns its client, so a failed
// connection is discarded along with its pool.
type Connection struct {
	cfg      Config
	stream   string
	producer string
	client   *redis.Client

	closeOnce sync.Once
	closed    atomic.Bool

	published     atomic.Uint64
	publishErrors atomic.Uint64
}

var _ xpub.Connection = (*Connection)(nil)

// Dial opens a client for stream and verifies it with PING.
func Dial(ctx context.Context, stream string, cfg Config) (*Connection, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	opts := &redis.Options{
		Addr:     cfg.Addr,
		Username: cfg.Username,
		Password: cfg.Password,
		DB:       cfg.DB,
		// Retries belong to the dispatcher.
		MaxRetries:   -1,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: 1,
	}

	if cfg.TLS {
		opts.TLSConfig = &tls.Config{
			MinVersion:    tls.VersionTLS12,
			ServerName:    cfg.TLSServerName,
			Renegotiation: tls.RenegotiateNever,
		}
	}

	client := redis.NewClient(opts)
	if err := ping(ctx, client, cfg); err != nil {
		_ = client.Close()
		return nil, err
	}

	producer, _ := xpub.ProducerFromContext(ctx)
	if lg, ok := xpub.LoggerFromContext(ctx); ok {
		lg.Debug().Str("addr", cfg.Addr).Str("stream", stream).Msg("redisstream: connected")
	}

	return &Connection{
		cfg:      cfg,
		stream:   stream,
		producer: producer,
		client:   client,
	}, nil
}

func (c *Connection) Topic() string { return c.stream }

// Send appends msg to the stream with XADD.
func (c *Connection) Send(ctx context.Context, msg *xpub.Message) error {
	if c.closed.Load() {
		return errors.New("redisstream: connection closed")
	}

	props := msg.Properties()
	// Pre-size map to reduce rehashing: id, producer, payload, timestamp + properties
	vals := make(map[string]any, 4+len(props))
	vals[fieldID] = msg.ID()
	if c.producer != "" {
		vals[fieldProducer] = c.producer
	}
	// raw payload bytes (binary-safe, no base64 encoding overhead)
	vals[fieldPayload] = msg.Payload()
	vals[fieldTimestamp] = msg.Timestamp().UnixNano()

	// Flatten properties to avoid nested map allocations
	for k, v := range props {
		vals[fieldPropPrefix+k] = v
	}

	args := &redis.XAddArgs{
		Stream: c.stream,
		ID:     "*", // Let Redis generate ID
		Values: vals,
	}

	// Approximate trimming to keep stream bounded
	if c.cfg.MaxLenApprox > 0 {
		args.MaxLen = c.cfg.MaxLenApprox
		args.Approx = true
	}

	if err := c.client.XAdd(ctx, args).Err(); err != nil {
		c.publishErrors.Add(1)
		return fmt.Errorf("redisstream: xadd %s: %w", c.stream, err)
	}
	c.published.Add(1)
	return nil
}

// Close releases the client pool.
func (c *Connection) Close(_ context.Context) error {
	var err error
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		err = c.client.Close()
	})
	return err
}

// Stats returns connection telemetry.
type Stats struct {
	Published     uint64
	PublishErrors uint64
}

func (c *Connection) Stats() Stats {
	return Stats{
		Published:     c.published.Load(),
		PublishErrors: c.publishErrors.Load(),
	}
}

func ping(ctx context.Context, c *redis.Client, cfg Config) error {
	ctx, cancel := context.WithTimeout(ctx, cfg.DialTimeout)
	defer cancel()

	res, err := c.Ping(ctx).Result()
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return fmt.Errorf("redis ping timeout: %w", err)
		}
		return err
	}

	if strings.ToUpper(res) != "PONG" {
		return fmt.Errorf("unexpected redis ping result: %s", res)
	}

	return nil
}
