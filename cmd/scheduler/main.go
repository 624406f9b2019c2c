// Command scheduler runs the tick loop from spec §4.3: scan due tasks
// (from the web service, or an embedded repository for standalone runs)
// and publish firings to the broker.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"runinator/internal/broker"
	"runinator/internal/broker/amqptransport"
	"runinator/internal/broker/httptransport"
	"runinator/internal/config"
	"runinator/internal/eventbus"
	"runinator/internal/gossip"
	"runinator/internal/logging"
	"runinator/internal/metrics"
	"runinator/internal/repository"
	"runinator/internal/scheduler"
	"runinator/internal/webservice"
)

func main() {
	fs := config.ParseFlags(flag.CommandLine, "scheduler-1")
	flag.Parse()
	config.BindEnv()

	cfg, err := fs.ToConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}

	log, err := logging.Build(logging.Config{Level: cfg.LogLevel, Encoding: cfg.LogEncoding})
	if err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
	defer log.Sync()
	if err := logging.WatchConfigFile(log, cfg.ConfigFile); err != nil {
		log.Warn("failed to watch config file", zap.Error(err))
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	brokerClient, closeBroker := openBrokerClient(cfg, log)
	defer closeBroker()

	bus := eventbus.New()
	advertiser, listener, dir := gossip.Join(cfg, "scheduler", cfg.MetricsAddr, bus, log)
	if advertiser != nil {
		defer advertiser.Close()
	}
	if listener != nil {
		defer listener.Close()
	}

	source := openTaskSource(ctx, cfg, dir, bus, log)
	sched := scheduler.New(source, brokerClient, cfg.Instance, cfg.TickInterval, log)

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		log.Info("scheduler: metrics listening", zap.String("addr", cfg.MetricsAddr))
		if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil && err != http.ErrServerClosed {
			log.Error("scheduler: metrics server error", zap.Error(err))
		}
	}()

	log.Info("scheduler: starting tick loop", zap.Duration("interval", cfg.TickInterval))
	if err := sched.Start(ctx); err != nil && err != context.Canceled {
		log.Error("scheduler: stopped", zap.Error(err))
	}
}

func openBrokerClient(cfg *config.Config, log *zap.Logger) (broker.Client, func()) {
	switch cfg.BrokerBackend {
	case config.BackendInMemory:
		return broker.NewLocal(broker.New()), func() {}
	case config.BackendAMQP:
		client, err := amqptransport.Dial(amqptransport.Config{URL: cfg.AMQPURL, Queue: cfg.AMQPQueue})
		if err != nil {
			log.Fatal("scheduler: failed to dial amqp broker", zap.Error(err))
		}
		return client, func() { client.Close() }
	default:
		return httptransport.NewClient(cfg.BrokerEndpoint, cfg.APITimeout), func() {}
	}
}

// openTaskSource picks the HTTP-backed path (spec §4.3's normal deployment)
// whenever a web service base URL is available — either statically
// configured via --api-base-url, or discovered through the gossip
// directory (spec §1/§2: services find each other without static
// configuration) — falling back to an embedded in-memory repository only
// when neither is available, for standalone/test runs.
func openTaskSource(ctx context.Context, cfg *config.Config, dir gossip.Directory, bus eventbus.Bus, log *zap.Logger) scheduler.TaskSource {
	baseURL := cfg.APIBaseURL
	if baseURL == "" {
		if ann, err := dir.Freshest(ctx, "web_service"); err == nil && ann != nil {
			baseURL = ann.URL()
			log.Info("scheduler: resolved web service via gossip", zap.String("url", baseURL))
		}
	}
	if baseURL == "" {
		log.Info("scheduler: no --api-base-url and no gossip web_service announcement yet, using embedded in-memory repository")
		return scheduler.NewRepositorySource(repository.NewMemory())
	}

	client := webservice.NewClient(baseURL, &http.Client{Timeout: cfg.APITimeout})
	go followGossipSelection(bus, client, log)
	return scheduler.NewHTTPSource(client)
}

// followGossipSelection repoints client at whatever web service the gossip
// directory currently prefers, reacting to the gossip_selection_changed
// event a Listener publishes on absorb (spec §4.5).
func followGossipSelection(bus eventbus.Bus, client *webservice.Client, log *zap.Logger) {
	ch, unsubscribe := bus.Subscribe(8)
	defer unsubscribe()
	for e := range ch {
		if e.Type != "gossip_selection_changed" {
			continue
		}
		ann, ok := e.Data.(*gossip.Announcement)
		if !ok || ann == nil || ann.Kind != "web_service" {
			continue
		}
		log.Info("scheduler: web service selection changed", zap.String("url", ann.URL()))
		client.SetBaseURL(ann.URL())
	}
}
