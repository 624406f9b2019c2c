// Command worker runs a pool of POOL_SIZE lease→run→report cycles against
// the broker and the handler registry from spec §4.4/§4.6.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"runinator/internal/broker"
	"runinator/internal/broker/amqptransport"
	"runinator/internal/broker/httptransport"
	"runinator/internal/config"
	"runinator/internal/eventbus"
	"runinator/internal/gossip"
	"runinator/internal/handler"
	"runinator/internal/logging"
	"runinator/internal/metrics"
	"runinator/internal/webservice"
	"runinator/internal/worker"
)

func main() {
	fs := config.ParseFlags(flag.CommandLine, "worker-1")
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

	registry := handler.NewRegistry()
	if err := handler.RegisterConsoleHandlers(registry); err != nil {
		log.Fatal("worker: failed to register console handlers", zap.Error(err))
	}

	brokerClient, closeBroker := openBrokerClient(cfg, log)
	defer closeBroker()

	bus := eventbus.New()
	advertiser, listener, dir := gossip.Join(cfg, "worker", cfg.MetricsAddr, bus, log)
	if advertiser != nil {
		defer advertiser.Close()
	}
	if listener != nil {
		defer listener.Close()
	}

	reporter := openReporter(ctx, cfg, dir, bus, log)
	pool := worker.NewPool(brokerClient, registry, reporter, cfg.Instance, int64(cfg.PoolSize),
		time.Duration(cfg.PollInterval), log)

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		log.Info("worker: metrics listening", zap.String("addr", cfg.MetricsAddr))
		if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil && err != http.ErrServerClosed {
			log.Error("worker: metrics server error", zap.Error(err))
		}
	}()

	log.Info("worker: starting pool", zap.Int("pool_size", cfg.PoolSize))
	pool.Start(ctx)
	log.Info("worker: stopped")
}

// openReporter picks the web service base URL to post TaskRuns to: the
// static --api-base-url flag if given, otherwise whatever the gossip
// directory's freshest web_service announcement resolves to (spec §1/§2's
// "services find each other without static configuration"), then keeps
// following later gossip_selection_changed events so a worker started
// before any web service announced itself still converges once one does.
func openReporter(ctx context.Context, cfg *config.Config, dir gossip.Directory, bus eventbus.Bus, log *zap.Logger) worker.RunReporter {
	baseURL := cfg.APIBaseURL
	if baseURL == "" {
		if ann, err := dir.Freshest(ctx, "web_service"); err == nil && ann != nil {
			baseURL = ann.URL()
			log.Info("worker: resolved web service via gossip", zap.String("url", baseURL))
		}
	}
	if baseURL == "" {
		log.Fatal("worker: --api-base-url is required to report task runs, and no gossip web_service announcement was seen yet")
	}

	client := webservice.NewClient(baseURL, &http.Client{Timeout: cfg.APITimeout})
	go followGossipSelection(bus, client, log)
	return client
}

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
		log.Info("worker: web service selection changed", zap.String("url", ann.URL()))
		client.SetBaseURL(ann.URL())
	}
}

func openBrokerClient(cfg *config.Config, log *zap.Logger) (broker.Client, func()) {
	switch cfg.BrokerBackend {
	case config.BackendInMemory:
		return broker.NewLocal(broker.New()), func() {}
	case config.BackendAMQP:
		client, err := amqptransport.Dial(amqptransport.Config{URL: cfg.AMQPURL, Queue: cfg.AMQPQueue})
		if err != nil {
			log.Fatal("worker: failed to dial amqp broker", zap.Error(err))
		}
		return client, func() { client.Close() }
	default:
		return httptransport.NewClient(cfg.BrokerEndpoint, cfg.APITimeout), func() {}
	}
}
