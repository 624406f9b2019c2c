// Command webservice runs the HTTP API from spec §6: task CRUD, run
// reporting, and the request_run out-of-schedule trigger. It also carries
// this process's gossip advertiser/listener so schedulers and workers can
// discover it, following pewbot/cmd/bot's signal.NotifyContext shutdown
// shape.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
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
	"runinator/internal/repository/postgres"
	"runinator/internal/webservice"
)

func main() {
	fs := config.ParseFlags(flag.CommandLine, "webservice-1")
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

	repo, closeRepo := openRepository(ctx, cfg, log)
	defer closeRepo()

	brokerClient, closeBroker := openBrokerClient(cfg, log)
	defer closeBroker()

	server := webservice.NewServer(repo, brokerClient, log)
	mux := http.NewServeMux()
	server.Routes(mux)
	mux.Handle("/metrics", metrics.Handler())

	httpServer := &http.Server{Addr: cfg.ListenAddr, Handler: mux}
	go func() {
		log.Info("webservice: listening", zap.String("addr", cfg.ListenAddr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("webservice: server error", zap.Error(err))
		}
	}()

	bus := eventbus.New()
	advertiser, listener, _ := gossip.Join(cfg, "web_service", cfg.ListenAddr, bus, log)
	if advertiser != nil {
		defer advertiser.Close()
	}
	if listener != nil {
		defer listener.Close()
	}

	<-ctx.Done()
	log.Info("webservice: shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = httpServer.Shutdown(shutdownCtx)
}

func openRepository(ctx context.Context, cfg *config.Config, log *zap.Logger) (repository.Repository, func()) {
	if cfg.PostgresDSN == "" {
		log.Info("webservice: using in-memory repository (no --postgres-dsn given)")
		return repository.NewMemory(), func() {}
	}

	db, err := sql.Open("postgres", cfg.PostgresDSN)
	if err != nil {
		log.Fatal("webservice: failed to open postgres", zap.Error(err))
	}
	if err := postgres.Migrate(ctx, db); err != nil {
		log.Fatal("webservice: failed to migrate postgres schema", zap.Error(err))
	}
	repo := postgres.New(db)
	log.Info("webservice: using postgres repository")
	return repo, func() { _ = repo.Close() }
}

func openBrokerClient(cfg *config.Config, log *zap.Logger) (broker.Client, func()) {
	switch cfg.BrokerBackend {
	case config.BackendInMemory:
		return broker.NewLocal(broker.New()), func() {}
	case config.BackendAMQP:
		client, err := amqptransport.Dial(amqptransport.Config{URL: cfg.AMQPURL, Queue: cfg.AMQPQueue})
		if err != nil {
			log.Fatal("webservice: failed to dial amqp broker", zap.Error(err))
		}
		return client, func() { client.Close() }
	default:
		return httptransport.NewClient(cfg.BrokerEndpoint, cfg.APITimeout), func() {}
	}
}

