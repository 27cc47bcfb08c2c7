package pulsar

import (
	"fmt"
	"time"
)

// Config for the Apache Pulsar backend.
type Config struct {
	URL   string
	Token string

	ConnectionTimeout time.Duration
	OperationTimeout  time.Duration

	// ProducerName overrides the publisher's producer name. Pulsar requires
	// producer names to be unique per topic.
	ProducerName string
	// EnableBatching lets the client batch sends, flushing after BatchingMaxDelay.
	EnableBatching   bool
	BatchingMaxDelay time.Duration
}

// Defaults returns a Config pointing at a local standalone Pulsar.
func Defaults() Config {
	return Config{
		URL:               "pulsar://127.0.0.1:6650",
		ConnectionTimeout: 5 * time.Second,
		OperationTimeout:  30 * time.Second,
		BatchingMaxDelay:  10 * time.Millisecond,
	}
}

// Validate checks Config for production readiness.
func (c Config) Validate() error {
	if c.URL == "" {
		return fmt.Errorf("config: url required")
	}
	if c.ConnectionTimeout <= 0 {
		return fmt.Errorf("config: connection_timeout must be > 0, got %v", c.ConnectionTimeout)
	}
	if c.OperationTimeout <= 0 {
		return fmt.Errorf("config: operation_timeout must be > 0, got %v", c.OperationTimeout)
	}
	return nil
}

func (c Config) toMap() map[string]any {
	return map[string]any{
		"url":                c.URL,
		"token":              c.Token,
		"connection_timeout": c.ConnectionTimeout,
		"operation_timeout":  c.OperationTimeout,
		"producer_name":      c.ProducerName,
		"enable_batching":    c.EnableBatching,
		"batching_max_delay": c.BatchingMaxDelay,
	}
}

// ConfigFromMap safely converts generic map to Config with defaults.
func ConfigFromMap(m map[string]any) Config {
	c := Defaults()

	getDur := func(k string, d time.Duration) time.Duration {
		switch v := m[k].(type) {
		case time.Duration:
			if v > 0 {
				return v
			}
		case string:
			if p, err := time.ParseDuration(v); err == nil && p > 0 {
				return p
			}
		}
		return d
	}

	if v, ok := m["url"].(string); ok && v != "" {
		c.URL = v
	}
	if v, ok := m["token"].(string); ok {
		c.Token = v
	}
	if v, ok := m["producer_name"].(string); ok {
		c.ProducerName = v
	}
	if v, ok := m["enable_batching"].(bool); ok {
		c.EnableBatching = v
	}
	c.ConnectionTimeout = getDur("connection_timeout", c.ConnectionTimeout)
	c.OperationTimeout = getDur("operation_timeout", c.OperationTimeout)
	c.BatchingMaxDelay = getDur("batching_max_delay", c.BatchingMaxDelay)
	return c
}
