// Package config is the functional-options Config every Runinator service
// builds at startup, in the shape of gofire/internal/models/config.GofireConfig
// (one struct per concern, Option func(*Config) error, With* constructors
// that validate and return custom_errors-style aggregated failures).
package config

import (
	"time"

	"runinator/internal/errs"
)

// BrokerBackend selects which broker.Client transport a service binds to.
type BrokerBackend string

const (
	BackendHTTP      BrokerBackend = "http"
	BackendInMemory  BrokerBackend = "in-memory"
	BackendAMQP      BrokerBackend = "amqp"
)

// Config holds the settings shared across the broker, scheduler, worker,
// and web service processes. Each service only reads the fields it needs;
// carrying them in one struct mirrors GofireConfig's single monolithic
// config rather than four disjoint ones, since most fields (gossip, log,
// broker endpoint) are genuinely shared.
type Config struct {
	Instance string

	LogLevel    string
	LogEncoding string
	ConfigFile  string

	GossipBind    string
	GossipPort    uint16
	GossipTargets []string
	AnnounceAddr  string

	APIBaseURL        string
	APITimeout        time.Duration
	BrokerEndpoint    string
	BrokerBackend     BrokerBackend
	AMQPURL           string
	AMQPQueue         string
	RedisAddr         string

	PollInterval time.Duration
	PoolSize     int
	TickInterval time.Duration

	MetricsAddr string
	PostgresDSN string
	ListenAddr  string
}

// Option configures a Config at construction, per GofireConfig's Option
// pattern.
type Option func(*Config) error

// New builds a Config from defaults plus options, aggregating every
// validation failure into one errs-wrapped error instead of failing fast on
// the first bad option — the same "collect everything" shape as
// custom_errors.ValidationError.
func New(instance string, opts ...Option) (*Config, error) {
	cfg := &Config{
		Instance:      instance,
		LogLevel:      "info",
		LogEncoding:   "json",
		GossipBind:    "127.0.0.1",
		GossipPort:    5504,
		APITimeout:    30 * time.Second,
		BrokerBackend: BackendHTTP,
		PollInterval:  time.Second,
		PoolSize:      4,
		TickInterval:  time.Second,
		ListenAddr:    ":8080",
	}

	var failures []error
	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			failures = append(failures, err)
		}
	}
	if len(failures) > 0 {
		return nil, &aggregateError{failures}
	}
	return cfg, nil
}

type aggregateError struct{ errs []error }

func (a *aggregateError) Error() string {
	msg := "config: invalid configuration:"
	for _, e := range a.errs {
		msg += " " + e.Error() + ";"
	}
	return msg
}

func WithLogging(level, encoding string) Option {
	return func(c *Config) error {
		if level == "" {
			return &errs.ConfigError{Field: "log-level", Reason: "must not be empty"}
		}
		c.LogLevel = level
		if encoding != "" {
			c.LogEncoding = encoding
		}
		return nil
	}
}

func WithGossip(bind string, port uint16, targets []string, announceAddr string) Option {
	return func(c *Config) error {
		if port == 0 {
			return &errs.ConfigError{Field: "gossip-port", Reason: "must be nonzero"}
		}
		c.GossipBind = bind
		c.GossipPort = port
		c.GossipTargets = targets
		c.AnnounceAddr = announceAddr
		return nil
	}
}

func WithAPI(baseURL string, timeout time.Duration) Option {
	return func(c *Config) error {
		if baseURL == "" {
			return &errs.ConfigError{Field: "api-base-url", Reason: "must not be empty"}
		}
		c.APIBaseURL = baseURL
		if timeout > 0 {
			c.APITimeout = timeout
		}
		return nil
	}
}

func WithBrokerHTTP(endpoint string) Option {
	return func(c *Config) error {
		if endpoint == "" {
			return &errs.ConfigError{Field: "broker-endpoint", Reason: "must not be empty"}
		}
		c.BrokerBackend = BackendHTTP
		c.BrokerEndpoint = endpoint
		return nil
	}
}

func WithBrokerInMemory() Option {
	return func(c *Config) error {
		c.BrokerBackend = BackendInMemory
		return nil
	}
}

func WithBrokerAMQP(url, queue string) Option {
	return func(c *Config) error {
		if url == "" || queue == "" {
			return &errs.ConfigError{Field: "amqp", Reason: "both --amqp-url and --amqp-queue are required"}
		}
		c.BrokerBackend = BackendAMQP
		c.AMQPURL = url
		c.AMQPQueue = queue
		return nil
	}
}

func WithRedisDirectory(addr string) Option {
	return func(c *Config) error {
		if addr == "" {
			return &errs.ConfigError{Field: "redis-addr", Reason: "must not be empty"}
		}
		c.RedisAddr = addr
		return nil
	}
}

func WithPollInterval(d time.Duration) Option {
	return func(c *Config) error {
		if d <= 0 {
			return &errs.ConfigError{Field: "poll-interval-seconds", Reason: "must be positive"}
		}
		c.PollInterval = d
		return nil
	}
}

func WithPoolSize(n int) Option {
	return func(c *Config) error {
		if n < 1 {
			return &errs.ConfigError{Field: "pool-size", Reason: "must be positive"}
		}
		c.PoolSize = n
		return nil
	}
}

func WithTickInterval(d time.Duration) Option {
	return func(c *Config) error {
		if d <= 0 {
			return &errs.ConfigError{Field: "tick-interval", Reason: "must be positive"}
		}
		c.TickInterval = d
		return nil
	}
}

func WithMetricsAddr(addr string) Option {
	return func(c *Config) error {
		c.MetricsAddr = addr
		return nil
	}
}

func WithConfigFile(path string) Option {
	return func(c *Config) error {
		c.ConfigFile = path
		return nil
	}
}

func WithPostgresDSN(dsn string) Option {
	return func(c *Config) error {
		c.PostgresDSN = dsn
		return nil
	}
}

func WithListenAddr(addr string) Option {
	return func(c *Config) error {
		if addr == "" {
			return &errs.ConfigError{Field: "listen-addr", Reason: "must not be empty"}
		}
		c.ListenAddr = addr
		return nil
	}
}
