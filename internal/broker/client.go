package broker

import (
	"context"
	"time"
)

// Client is the logical broker contract shared by every transport binding
// (in-memory, HTTP, AMQP) — the scheduler and worker depend only on this.
type Client interface {
	Publish(ctx context.Context, f Firing) (int64, error)
	Lease(ctx context.Context, consumerID string, maxWait time.Duration) (*Snapshot, error)
	Ack(ctx context.Context, firingID int64, leaseToken string) error
	Nack(ctx context.Context, firingID int64, leaseToken string, requeue bool, reason string) error
}
