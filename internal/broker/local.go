package broker

import (
	"context"
	"time"
)

// Local binds the Client interface directly to an in-process Broker, for
// --broker-backend=in-memory and embedded tests.
type Local struct {
	B *Broker
}

func NewLocal(b *Broker) *Local { return &Local{B: b} }

func (l *Local) Publish(ctx context.Context, f Firing) (int64, error) {
	return l.B.Publish(f)
}

func (l *Local) Lease(ctx context.Context, consumerID string, maxWait time.Duration) (*Snapshot, error) {
	return l.B.Lease(ctx, consumerID, maxWait)
}

func (l *Local) Ack(ctx context.Context, firingID int64, leaseToken string) error {
	return l.B.Ack(firingID, leaseToken)
}

func (l *Local) Nack(ctx context.Context, firingID int64, leaseToken string, requeue bool, reason string) error {
	return l.B.Nack(firingID, leaseToken, requeue, reason)
}
