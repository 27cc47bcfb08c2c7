package xpub

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

const (
	DefaultQueueCapacity  = 1000
	DefaultSendTimeout    = 30 * time.Second
	DefaultRetryDelay     = 1 * time.Second
	DefaultConnectTimeout = 30 * time.Second

	closeTimeout = 5 * time.Second
)

// Config is the declarative form of the PublisherBuilder options. Zero values
// mean "use the default".
type Config struct {
	Topic          string         `yaml:"topic"           env:"XPUB_TOPIC"`
	ProducerName   string         `yaml:"producer_name"   env:"XPUB_PRODUCER_NAME"`
	QueueCapacity  int            `yaml:"queue_capacity"  env:"XPUB_QUEUE_CAPACITY"`
	SendTimeout    time.Duration  `yaml:"send_timeout"    env:"XPUB_SEND_TIMEOUT"`
	RetryDelay     time.Duration  `yaml:"retry_delay"     env:"XPUB_RETRY_DELAY"`
	ConnectTimeout time.Duration  `yaml:"connect_timeout" env:"XPUB_CONNECT_TIMEOUT"`
	Backend        string         `yaml:"backend"         env:"XPUB_BACKEND"`
	BackendConfig  map[string]any `yaml:"backend_config"`
}

// Defaults returns a Config carrying the documented defaults.
func Defaults() Config {
	return Config{
		QueueCapacity:  DefaultQueueCapacity,
		SendTimeout:    DefaultSendTimeout,
		RetryDelay:     DefaultRetryDelay,
		ConnectTimeout: DefaultConnectTimeout,
	}
}

// Validate checks if the configuration is usable.
func (c Config) Validate() error {
	var errs []error
	if c.QueueCapacity < 0 {
		errs = append(errs, errors.New("queue_capacity cannot be negative"))
	}
	if c.SendTimeout < 0 {
		errs = append(errs, errors.New("send_timeout cannot be negative"))
	}
	if c.RetryDelay < 0 {
		errs = append(errs, errors.New("retry_delay cannot be negative"))
	}
	if c.ConnectTimeout < 0 {
		errs = append(errs, errors.New("connect_timeout cannot be negative"))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("xpub: invalid config: %w", err)
	}
	return nil
}

// LoadConfig reads a YAML file and overlays XPUB_* environment variables.
// An empty path or a missing file yields the defaults plus the environment.
func LoadConfig(path string) (Config, error) {
	cfg := Defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return Config{}, fmt.Errorf("xpub: read config file: %w", err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("xpub: parse config file: %w", err)
			}
		}
	}

	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("xpub: parse environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ConfigFromEnv reads the configuration from XPUB_* environment variables only.
func ConfigFromEnv() (Config, error) {
	return LoadConfig("")
}

func defaultProducerName() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "localhost"
	}
	return fmt.Sprintf("xpub-%s-%d", host, os.Getpid())
}
