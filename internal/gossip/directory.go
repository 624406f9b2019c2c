package gossip

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// DefaultAnnounceTTL is ANNOUNCE_TTL from spec §4.5 — entries older than
// this are pruned on read.
const DefaultAnnounceTTL = 10 * time.Second

// Directory is the announcement table a gossip Listener upserts into and a
// consumer reads "the current selection" from (spec §4.5). MemDirectory and
// RedisDirectory both satisfy it, so a Listener or a scheduler/worker can be
// pointed at either backing store interchangeably.
type Directory interface {
	Upsert(ctx context.Context, a Announcement) error
	All(ctx context.Context) ([]Announcement, error)
	// Freshest returns the most recently heard-from announcement of the
	// given kind (web_service, scheduler, broker, worker) — a shared
	// directory hears all four, so a consumer wanting "the current web
	// service" must ask for that kind specifically.
	Freshest(ctx context.Context, kind string) (*Announcement, error)
}

// MemDirectory is the in-memory, TTL-pruned announcement table used when no
// Redis address is configured. Reads prune expired entries first, matching
// the "expires entries older than ANNOUNCE_TTL on every read" rule.
type MemDirectory struct {
	mu  sync.Mutex
	ttl time.Duration
	m   map[string]Announcement
}

func NewMemDirectory(ttl time.Duration) *MemDirectory {
	if ttl <= 0 {
		ttl = DefaultAnnounceTTL
	}
	return &MemDirectory{ttl: ttl, m: make(map[string]Announcement)}
}

func (d *MemDirectory) Upsert(_ context.Context, a Announcement) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.m[a.ServiceID] = a
	return nil
}

func (d *MemDirectory) pruneLocked() {
	cutoff := time.Now().Add(-d.ttl)
	for id, a := range d.m {
		if a.LastHeartbeat.Before(cutoff) {
			delete(d.m, id)
		}
	}
}

// All returns every live announcement, pruning expired ones first.
func (d *MemDirectory) All(_ context.Context) ([]Announcement, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pruneLocked()

	out := make([]Announcement, 0, len(d.m))
	for _, a := range d.m {
		out = append(out, a)
	}
	return out, nil
}

// Freshest returns the kind-matching announcement with the most recent
// LastHeartbeat, or nil if none survive pruning — the selection a consumer
// wanting "the current web service URL" makes per spec §4.5.
func (d *MemDirectory) Freshest(ctx context.Context, kind string) (*Announcement, error) {
	all, _ := d.All(ctx)
	return freshestOfKind(all, kind), nil
}

func freshestOfKind(all []Announcement, kind string) *Announcement {
	var best *Announcement
	for i := range all {
		a := all[i]
		if a.Kind != kind {
			continue
		}
		if best == nil || a.LastHeartbeat.After(best.LastHeartbeat) {
			best = &a
		}
	}
	return best
}

// RedisDirectory is the alternate, multi-host-shared backing store, built
// directly on Crabzie's nodeCoordinator: SETEX per announcement keyed by
// service id, SCAN-style key listing to read back, relying on Redis's own
// TTL instead of MemDirectory's in-memory prune.
type RedisDirectory struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
	log    *zap.Logger
}

func NewRedisDirectory(client *redis.Client, ttl time.Duration, log *zap.Logger) *RedisDirectory {
	if ttl <= 0 {
		ttl = DefaultAnnounceTTL
	}
	return &RedisDirectory{client: client, ttl: ttl, prefix: "runinator:gossip:", log: log}
}

func (r *RedisDirectory) Upsert(ctx context.Context, a Announcement) error {
	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("gossip: marshal announcement: %w", err)
	}
	key := r.prefix + a.ServiceID
	if err := r.client.Set(ctx, key, data, r.ttl).Err(); err != nil {
		return fmt.Errorf("gossip: redis set: %w", err)
	}
	return nil
}

func (r *RedisDirectory) All(ctx context.Context) ([]Announcement, error) {
	keys, err := r.client.Keys(ctx, r.prefix+"*").Result()
	if err != nil {
		return nil, fmt.Errorf("gossip: redis keys: %w", err)
	}

	var out []Announcement
	for _, key := range keys {
		val, err := r.client.Get(ctx, key).Result()
		if err != nil {
			continue // expired between Keys and Get: skip, matches nodeCoordinator.GetActiveNodes
		}
		var a Announcement
		if err := json.Unmarshal([]byte(val), &a); err != nil {
			r.log.Warn("gossip: corrupt redis directory entry", zap.String("key", key), zap.Error(err))
			continue
		}
		out = append(out, a)
	}
	return out, nil
}

func (r *RedisDirectory) Freshest(ctx context.Context, kind string) (*Announcement, error) {
	all, err := r.All(ctx)
	if err != nil {
		return nil, err
	}
	return freshestOfKind(all, kind), nil
}
