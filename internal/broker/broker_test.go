package broker

import (
	"context"
	"sync"
	"testing"
	"time"
)

func newFiring(taskID int64, scheduledFor time.Time) Firing {
	return Firing{
		TaskID:       taskID,
		ScheduledFor: scheduledFor,
		TimeoutMS:    1000,
	}
}

func TestPublishIdempotent(t *testing.T) {
	b := New()
	now := time.Now()
	id1, err := b.Publish(newFiring(1, now))
	if err != nil {
		t.Fatal(err)
	}
	id2, err := b.Publish(newFiring(1, now))
	if err != nil {
		t.Fatal(err)
	}
	if id1 != id2 {
		t.Fatalf("expected idempotent publish to return same id: %d != %d", id1, id2)
	}
}

func TestLeaseAckRemovesFiring(t *testing.T) {
	b := New()
	now := time.Now()
	id, _ := b.Publish(newFiring(1, now))

	ctx := context.Background()
	snap, err := b.Lease(ctx, "worker-1", time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if snap == nil || snap.ID != id {
		t.Fatalf("expected to lease firing %d, got %+v", id, snap)
	}

	if err := b.Ack(snap.ID, snap.LeaseToken); err != nil {
		t.Fatalf("ack failed: %v", err)
	}

	if _, ok := b.Get(id); ok {
		t.Fatal("expected firing to be removed after ack")
	}
}

func TestAckWithStaleTokenRejected(t *testing.T) {
	b := New()
	now := time.Now()
	b.Publish(newFiring(1, now))

	snap, _ := b.Lease(context.Background(), "w1", time.Second)
	if err := b.Ack(snap.ID, "not-the-real-token"); err != ErrStale {
		t.Fatalf("expected ErrStale, got %v", err)
	}
}

func TestNackRequeueIncrementsAttempt(t *testing.T) {
	b := New()
	now := time.Now()
	b.Publish(newFiring(1, now))

	snap, _ := b.Lease(context.Background(), "w1", time.Second)
	if err := b.Nack(snap.ID, snap.LeaseToken, true, "handler_failed"); err != nil {
		t.Fatal(err)
	}

	got, ok := b.Get(snap.ID)
	if !ok {
		t.Fatal("expected firing to remain after requeue")
	}
	if got.State != Pending {
		t.Fatalf("expected Pending, got %v", got.State)
	}
	if got.Attempt != 1 {
		t.Fatalf("expected attempt 1, got %d", got.Attempt)
	}
}

func TestNackDropIsTerminal(t *testing.T) {
	b := New()
	now := time.Now()
	b.Publish(newFiring(1, now))

	snap, _ := b.Lease(context.Background(), "w1", time.Second)
	if err := b.Nack(snap.ID, snap.LeaseToken, false, "handler_not_found"); err != nil {
		t.Fatal(err)
	}

	got, _ := b.Get(snap.ID)
	if got.State != Dead {
		t.Fatalf("expected Dead, got %v", got.State)
	}
}

func TestMaxAttemptsMovesToDead(t *testing.T) {
	b := New(WithMaxAttempts(2))
	now := time.Now()
	id, _ := b.Publish(newFiring(1, now))

	// Attempt goes 1, 2, 3: only the third requeue exceeds the max of 2.
	for i := 0; i < 3; i++ {
		snap, err := b.Lease(context.Background(), "w1", time.Second)
		if err != nil || snap == nil {
			t.Fatalf("lease %d failed: %v %v", i, snap, err)
		}
		if err := b.Nack(snap.ID, snap.LeaseToken, true, "retryable"); err != nil {
			t.Fatal(err)
		}
	}

	got, _ := b.Get(id)
	if got.State != Dead {
		t.Fatalf("expected Dead after exceeding max attempts, got %v", got.State)
	}
}

func TestSweepRequeuesExpiredLease(t *testing.T) {
	b := New(WithMinLeaseMS(1), WithLeaseGraceMS(1))
	now := time.Now()
	f := newFiring(1, now)
	f.TimeoutMS = 1 // lease lasts max(TimeoutMS, min lease) + grace = 2ms
	b.Publish(f)

	snap, _ := b.Lease(context.Background(), "w1", time.Second)
	if snap == nil {
		t.Fatal("expected lease")
	}

	time.Sleep(10 * time.Millisecond)
	b.Sweep()

	got, _ := b.Get(snap.ID)
	if got.State != Pending {
		t.Fatalf("expected Pending after sweep of expired lease, got %v", got.State)
	}
	if got.Attempt != 1 {
		t.Fatalf("expected attempt incremented by sweep, got %d", got.Attempt)
	}
}

func TestSweepInvariant_LeasedDeadlineNeverPast(t *testing.T) {
	b := New(WithMinLeaseMS(1), WithLeaseGraceMS(1))
	now := time.Now()
	for i := 0; i < 5; i++ {
		b.Publish(newFiring(int64(i), now.Add(time.Duration(i)*time.Second)))
	}

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.Lease(context.Background(), "w", 200*time.Millisecond)
		}()
	}
	wg.Wait()

	time.Sleep(10 * time.Millisecond)
	b.Sweep()

	// Any firing still in Leased state must have a deadline that hasn't
	// passed — Sweep must have requeued everything else.
	for i := 0; i < 5; i++ {
		if s, ok := b.Get(int64(i) + 1); ok && s.State == Leased {
			if s.LeaseDeadline.Before(time.Now()) {
				t.Fatalf("firing %d leased with expired deadline after sweep", i)
			}
		}
	}
}

func TestLeaseAtMostOneHolder(t *testing.T) {
	b := New()
	now := time.Now()
	id, _ := b.Publish(newFiring(1, now))

	var wg sync.WaitGroup
	leased := make([]bool, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			snap, _ := b.Lease(context.Background(), "w", 50*time.Millisecond)
			if snap != nil && snap.ID == id {
				leased[i] = true
			}
		}(i)
	}
	wg.Wait()

	count := 0
	for _, l := range leased {
		if l {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("expected exactly one goroutine to win the lease, got %d", count)
	}
}

func TestLeaseFIFOByScheduledFor(t *testing.T) {
	b := New()
	base := time.Now()
	idLater, _ := b.Publish(newFiring(1, base.Add(time.Minute)))
	idEarlier, _ := b.Publish(newFiring(2, base))

	snap, _ := b.Lease(context.Background(), "w", time.Second)
	if snap.ID != idEarlier {
		t.Fatalf("expected earlier-scheduled firing %d first, got %d", idEarlier, snap.ID)
	}
	_ = idLater
}

func TestLeaseEmptyReturnsNil(t *testing.T) {
	b := New()
	snap, err := b.Lease(context.Background(), "w", 20*time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	if snap != nil {
		t.Fatalf("expected nil on empty queue, got %+v", snap)
	}
}
