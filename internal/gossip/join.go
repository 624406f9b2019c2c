package gossip

import (
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"runinator/internal/config"
	"runinator/internal/eventbus"
)

// Join starts an advertiser+listener pair for kind against listenAddr and
// wires the shared Directory: Redis-backed when cfg.RedisAddr is set (so
// multiple hosts share one directory, per Crabzie's nodeCoordinator), an
// in-memory MemDirectory otherwise. Every runinator process — broker,
// scheduler, worker, web service — calls this the same way, per spec §1/§2's
// "decoupled services find each other without static configuration".
//
// Socket-bind failures are logged, not returned: per spec §4.5, gossip
// failures are fatal to gossip only, never to the hosting process.
func Join(cfg *config.Config, kind, listenAddr string, bus eventbus.Bus, log *zap.Logger) (*Advertiser, *Listener, Directory) {
	dir := openDirectory(cfg, log)

	listener, err := NewListener(cfg.GossipBind, cfg.GossipPort, dir, bus, log)
	if err != nil {
		log.Error("gossip: listener failed to bind, discovery disabled", zap.String("kind", kind), zap.Error(err))
		return nil, nil, dir
	}
	go listener.Run()

	address := cfg.AnnounceAddr
	port := portFromAddr(listenAddr)
	advertiser, err := NewAdvertiser(kind, cfg.GossipBind, Targets(cfg.GossipPort, cfg.GossipTargets),
		NewServiceID(), address, port, "", log)
	if err != nil {
		log.Error("gossip: advertiser failed to bind, discovery disabled", zap.String("kind", kind), zap.Error(err))
		return nil, listener, dir
	}
	go advertiser.Run(2*time.Second, make(chan struct{}))
	return advertiser, listener, dir
}

func openDirectory(cfg *config.Config, log *zap.Logger) Directory {
	if cfg.RedisAddr == "" {
		return NewMemDirectory(DefaultAnnounceTTL)
	}
	log.Info("gossip: using redis-backed directory", zap.String("addr", cfg.RedisAddr))
	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	return NewRedisDirectory(client, DefaultAnnounceTTL, log)
}

func portFromAddr(addr string) uint16 {
	for i := len(addr) - 1; i >= 0; i-- {
		if addr[i] == ':' {
			var port int
			fmt.Sscanf(addr[i+1:], "%d", &port)
			return uint16(port)
		}
	}
	return 0
}
