package mqtt

import (
	"fmt"
	"time"
)

// Config for the MQTT backend.
type Config struct {
	// Broker is the server URL, e.g. "tcp://localhost:1883".
	Broker   string
	Username string
	Password string
	// ClientID defaults to the producer name plus a random suffix.
	ClientID string

	QoS    byte
	Retain bool
	// Envelope wraps each payload in a JSON document carrying id, producer,
	// timestamp and properties, which MQTT 3.1.1 has no headers for.
	Envelope bool

	ConnectTimeout time.Duration
	// DisconnectQuiesce is how long Close waits for in-flight work, in milliseconds.
	DisconnectQuiesce uint
}

// Defaults returns a Config with production-safe defaults.
func Defaults() Config {
	return Config{
		Broker:            "tcp://localhost:1883",
		QoS:               1,
		ConnectTimeout:    5 * time.Second,
		DisconnectQuiesce: 250,
	}
}

// Validate checks Config for production readiness.
func (c Config) Validate() error {
	if c.Broker == "" {
		return fmt.Errorf("config: broker required")
	}
	if c.QoS > 2 {
		return fmt.Errorf("config: qos must be 0, 1 or 2, got %d", c.QoS)
	}
	if c.ConnectTimeout <= 0 {
		return fmt.Errorf("config: connect_timeout must be > 0, got %v", c.ConnectTimeout)
	}
	return nil
}

func (c Config) toMap() map[string]any {
	return map[string]any{
		"broker":             c.Broker,
		"username":           c.Username,
		"password":           c.Password,
		"client_id":          c.ClientID,
		"qos":                int(c.QoS),
		"retain":             c.Retain,
		"envelope":           c.Envelope,
		"connect_timeout":    c.ConnectTimeout,
		"disconnect_quiesce": int(c.DisconnectQuiesce),
	}
}

// ConfigFromMap safely converts generic map to Config with defaults.
func ConfigFromMap(m map[string]any) Config {
	c := Defaults()

	if v, ok := m["broker"].(string); ok && v != "" {
		c.Broker = v
	}
	if v, ok := m["username"].(string); ok {
		c.Username = v
	}
	if v, ok := m["password"].(string); ok {
		c.Password = v
	}
	if v, ok := m["client_id"].(string); ok {
		c.ClientID = v
	}
	if v, ok := m["qos"].(int); ok && v >= 0 {
		c.QoS = byte(v)
	}
	if v, ok := m["retain"].(bool); ok {
		c.Retain = v
	}
	if v, ok := m["envelope"].(bool); ok {
		c.Envelope = v
	}
	switch v := m["connect_timeout"].(type) {
	case time.Duration:
		if v > 0 {
			c.ConnectTimeout = v
		}
	case string:
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			c.ConnectTimeout = d
		}
	}
	if v, ok := m["disconnect_quiesce"].(int); ok && v >= 0 {
		c.DisconnectQuiesce = uint(v)
	}
	return c
}
