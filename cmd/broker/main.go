// Command broker runs the standalone HTTP broker server for
// --broker-backend=http deployments: the claim-once firing queue exposed
// over /publish, /lease, /ack, /nack.
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
	"runinator/internal/broker/httptransport"
	"runinator/internal/config"
	"runinator/internal/eventbus"
	"runinator/internal/gossip"
	"runinator/internal/logging"
	"runinator/internal/metrics"
)

func main() {
	fs := config.ParseFlags(flag.CommandLine, "broker-1")
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

	b := broker.New()
	go b.RunSweeper(ctx)
	server := httptransport.NewServer(b, log)

	mux := http.NewServeMux()
	server.Routes(mux)
	mux.Handle("/metrics", metrics.Handler())

	httpServer := &http.Server{Addr: cfg.ListenAddr, Handler: mux}
	go func() {
		log.Info("broker: listening", zap.String("addr", cfg.ListenAddr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("broker: server error", zap.Error(err))
		}
	}()

	bus := eventbus.New()
	advertiser, listener, _ := gossip.Join(cfg, "broker", cfg.ListenAddr, bus, log)
	if advertiser != nil {
		defer advertiser.Close()
	}
	if listener != nil {
		defer listener.Close()
	}

	<-ctx.Done()
	log.Info("broker: shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = httpServer.Shutdown(shutdownCtx)
}
