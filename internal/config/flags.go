package config

import (
	"flag"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// FlagSet is the shared CLI surface from spec §6, parsed directly with the
// standard flag package the way inipew-pewbot/cmd/bot parses --config with
// no subcommand framework, then layered with viper env-var binding the way
// Crabzie's config/utils.New binds PG_HOST-style variables.
type FlagSet struct {
	Instance string

	GossipBind    string
	GossipPort    uint
	GossipTargets string
	AnnounceAddr  string

	APIBaseURL          string
	APITimeoutSeconds   int
	BrokerEndpoint      string
	BrokerBackend       string
	PollIntervalSeconds int

	AMQPURL   string
	AMQPQueue string
	RedisAddr string

	PoolSize     int
	TickInterval time.Duration

	LogLevel     string
	LogEncoding  string
	ConfigFile   string
	MetricsAddr  string
	PostgresDSN  string
	ListenAddr   string
}

// ParseFlags registers the shared flag surface on fs (typically
// flag.CommandLine). It reads no environment variables itself; see BindEnv
// and ToConfig for the env fallback that exists.
func ParseFlags(fs *flag.FlagSet, instance string) *FlagSet {
	f := &FlagSet{}

	fs.StringVar(&f.Instance, "instance", instance, "unique identifier for this process")
	fs.StringVar(&f.GossipBind, "gossip-bind", "127.0.0.1", "UDP address this process announces from and listens on")
	fs.UintVar(&f.GossipPort, "gossip-port", 5504, "UDP port for gossip datagrams")
	fs.StringVar(&f.GossipTargets, "gossip-targets", "", "comma-separated host:port peer list to announce to")
	fs.StringVar(&f.AnnounceAddr, "announce-address", "", "address to embed in this process's own announcements (blank: let receivers infer it)")
	fs.StringVar(&f.APIBaseURL, "api-base-url", "", "base URL of the web service (scheduler/worker)")
	fs.IntVar(&f.APITimeoutSeconds, "api-timeout-seconds", 30, "deadline for control-plane HTTP calls")
	fs.StringVar(&f.BrokerEndpoint, "broker-endpoint", "http://127.0.0.1:8090", "broker HTTP base URL")
	fs.StringVar(&f.BrokerBackend, "broker-backend", "http", "broker transport: http, in-memory, or amqp")
	fs.IntVar(&f.PollIntervalSeconds, "poll-interval-seconds", 1, "worker: how long each lease call waits for a firing")
	fs.StringVar(&f.AMQPURL, "amqp-url", "", "AMQP connection URL, only used when --broker-backend=amqp")
	fs.StringVar(&f.AMQPQueue, "amqp-queue", "runinator.firings", "AMQP queue name, only used when --broker-backend=amqp")
	fs.StringVar(&f.RedisAddr, "redis-addr", "", "Redis address for the gossip directory backing store, if set")
	fs.IntVar(&f.PoolSize, "pool-size", 4, "worker: number of cooperative lease-run-report slots")
	fs.DurationVar(&f.TickInterval, "tick-interval", time.Second, "scheduler: cadence between due-task scans")
	fs.StringVar(&f.LogLevel, "log-level", "info", "zap level: debug, info, warn, error")
	fs.StringVar(&f.LogEncoding, "log-encoding", "json", "zap encoding: json or console")
	fs.StringVar(&f.ConfigFile, "config-file", "", "optional YAML config file to live-reload log level from")
	fs.StringVar(&f.MetricsAddr, "metrics-addr", ":9090", "bind address for the /metrics endpoint")
	fs.StringVar(&f.PostgresDSN, "postgres-dsn", "", "web service: Postgres connection string; empty uses the in-memory repository")
	fs.StringVar(&f.ListenAddr, "listen-addr", ":8080", "bind address for this process's own HTTP surface (web service API or broker control plane)")

	return f
}

// BindEnv binds each RUNINATOR_* environment variable in viper, matching
// Crabzie's config/utils.New()'s per-field viper.BindEnv calls. ToConfig
// reads back only some of them (see orEnv).
func BindEnv() {
	viper.SetEnvPrefix("runinator")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))

	for _, key := range []string{
		"gossip-bind", "gossip-port", "gossip-targets", "announce-address",
		"api-base-url", "api-timeout-seconds", "broker-endpoint", "broker-backend",
		"poll-interval-seconds", "amqp-url", "amqp-queue", "redis-addr",
		"pool-size", "tick-interval", "log-level", "log-encoding", "metrics-addr",
		"postgres-dsn", "listen-addr",
	} {
		_ = viper.BindEnv(key)
	}
}

// Targets splits the comma-separated --gossip-targets flag.
func (f *FlagSet) Targets() []string {
	if f.GossipTargets == "" {
		return nil
	}
	parts := strings.Split(f.GossipTargets, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// ToConfig assembles the functional-options Config from parsed flags. Only
// log level, log encoding and gossip bind consult viper (env vars), and only
// when the flag value is empty; those flags have non-empty defaults, so the
// env var takes effect only when the flag is passed as an empty string.
// Every other field comes from the parsed flags alone.
func (f *FlagSet) ToConfig() (*Config, error) {
	opts := []Option{
		WithLogging(orEnv(f.LogLevel, "log-level"), orEnv(f.LogEncoding, "log-encoding")),
		WithGossip(orEnv(f.GossipBind, "gossip-bind"), uint16(f.GossipPort), f.Targets(), f.AnnounceAddr),
		WithPollInterval(time.Duration(f.PollIntervalSeconds) * time.Second),
		WithPoolSize(f.PoolSize),
		WithTickInterval(f.TickInterval),
		WithMetricsAddr(f.MetricsAddr),
		WithConfigFile(f.ConfigFile),
		WithPostgresDSN(f.PostgresDSN),
		WithListenAddr(f.ListenAddr),
	}

	if f.APIBaseURL != "" {
		opts = append(opts, WithAPI(f.APIBaseURL, time.Duration(f.APITimeoutSeconds)*time.Second))
	}

	switch f.BrokerBackend {
	case string(BackendInMemory):
		opts = append(opts, WithBrokerInMemory())
	case string(BackendAMQP):
		opts = append(opts, WithBrokerAMQP(f.AMQPURL, f.AMQPQueue))
	default:
		opts = append(opts, WithBrokerHTTP(f.BrokerEndpoint))
	}

	if f.RedisAddr != "" {
		opts = append(opts, WithRedisDirectory(f.RedisAddr))
	}

	return New(f.Instance, opts...)
}

// orEnv returns flagValue unless it is empty, in which case it falls back
// to the bound viper environment variable for key.
func orEnv(flagValue, key string) string {
	if flagValue != "" {
		return flagValue
	}
	return viper.GetString(key)
}
