package redisstream

import (
	"fmt"
	"time"
)

// Config for the Redis Streams backend.
type Config struct {
	// Connection
	Addr          string
	Username      string
	Password      string
	DB            int
	TLS           bool
	TLSServerName string
	PoolSize      int
	DialTimeout   time.Duration

	// Stream management
	MaxLenApprox int64
}

// Defaults returns a Config with production-safe defaults.
func Defaults() Config {
	return Config{
		Addr:        "127.0.0.1:6379",
		DB:          0,
		TLS:         false,
		PoolSize:    4,
		DialTimeout: 2 * time.Second,
	}
}

// Validate checks Config for production readiness.
func (c Config) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("config: addr required")
	}
	if c.PoolSize < 1 {
		return fmt.Errorf("config: pool_size must be >= 1, got %d", c.PoolSize)
	}
	if c.DialTimeout <= 0 {
		return fmt.Errorf("config: dial_timeout must be > 0, got %v", c.DialTimeout)
	}
	if c.MaxLenApprox < 0 {
		return fmt.Errorf("config: max_len_approx must be >= 0, got %d", c.MaxLenApprox)
	}
	return nil
}

// toMap converts Config to generic map for the backend factory.
func (c Config) toMap() map[string]any {
	return map[string]any{
		"addr":            c.Addr,
		"username":        c.Username,
		"password":        c.Password,
		"db":              c.DB,
		"tls":             c.TLS,
		"tls_server_name": c.TLSServerName,
		"pool_size":       c.PoolSize,
		"dial_timeout":    c.DialTimeout,
		"max_len_approx":  c.MaxLenApprox,
	}
}

// ConfigFromMap safely converts generic map to Config with defaults.
func ConfigFromMap(m map[string]any) Config {
	c := Defaults()

	if v, ok := m["addr"].(string); ok && v != "" {
		c.Addr = v
	}
	if v, ok := m["username"].(string); ok {
		c.Username = v
	}
	if v, ok := m["password"].(string); ok {
		c.Password = v
	}
	if v, ok := m["db"].(int); ok {
		c.DB = v
	}
	if v, ok := m["tls"].(bool); ok {
		c.TLS = v
	}
	if v, ok := m["tls_server_name"].(string); ok {
		c.TLSServerName = v
	}
	if v, ok := m["pool_size"].(int); ok && v > 0 {
		c.PoolSize = v
	}
	switch v := m["dial_timeout"].(type) {
	case time.Duration:
		if v > 0 {
			c.DialTimeout = v
		}
	case string:
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			c.DialTimeout = d
		}
	}
	switch v := m["max_len_approx"].(type) {
	case int64:
		if v > 0 {
			c.MaxLenApprox = v
		}
	case int:
		if v > 0 {
			c.MaxLenApprox = int64(v)
		}
	}

	return c
}
