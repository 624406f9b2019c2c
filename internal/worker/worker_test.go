package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"runinator/internal/broker"
	"runinator/internal/handler"
	"runinator/internal/repository"
)

type fakeReporter struct {
	mu    sync.Mutex
	fails int32
	runs  []repository.TaskRun
}

func (f *fakeReporter) RecordTaskRun(ctx context.Context, r repository.TaskRun) error {
	if atomic.LoadInt32(&f.fails) > 0 {
		atomic.AddInt32(&f.fails, -1)
		return context.DeadlineExceeded
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs = append(f.runs, r)
	return nil
}

func TestCycleAcksOnSuccess(t *testing.T) {
	b := broker.New()
	local := &broker.Local{B: b}

	registry := handler.NewRegistry()
	_ = registry.Register("Console", "run_console", func(ctx context.Context, cfg []byte, deadline time.Time) handler.Outcome {
		return handler.Outcome{Kind: handler.Success}
	})

	reporter := &fakeReporter{}
	pool := NewPool(local, registry, reporter, "worker-1", 1, 50*time.Millisecond, zap.NewNop())

	_, err := local.Publish(context.Background(), broker.Firing{
		TaskID: 1, ActionName: "Console", ActionFunction: "run_console", TimeoutMS: 1000,
	})
	if err != nil {
		t.Fatalf("publish: %v", err)
	}

	pool.cycle(context.Background())

	reporter.mu.Lock()
	defer reporter.mu.Unlock()
	if len(reporter.runs) != 1 {
		t.Fatalf("expected one reported run, got %d", len(reporter.runs))
	}
	if _, ok := b.Get(1); ok {
		t.Fatal("expected firing to be acked and removed")
	}
}

func TestCycleNacksUnknownHandler(t *testing.T) {
	b := broker.New()
	local := &broker.Local{B: b}
	registry := handler.NewRegistry()
	reporter := &fakeReporter{}
	pool := NewPool(local, registry, reporter, "worker-1", 1, 50*time.Millisecond, zap.NewNop())

	_, err := local.Publish(context.Background(), broker.Firing{
		TaskID: 1, ActionName: "Console", ActionFunction: "missing", TimeoutMS: 1000,
	})
	if err != nil {
		t.Fatalf("publish: %v", err)
	}

	pool.cycle(context.Background())

	reporter.mu.Lock()
	defer reporter.mu.Unlock()
	if len(reporter.runs) != 0 {
		t.Fatalf("expected no reported run for a dropped firing, got %d", len(reporter.runs))
	}
	if dead := b.ListDead(); len(dead) != 1 {
		t.Fatalf("expected the firing nacked to Dead, got %d dead firings", len(dead))
	}
}

func TestReportRunRetriesThenGivesUp(t *testing.T) {
	reporter := &fakeReporter{fails: maxReportAttempts}
	pool := NewPool(&broker.Local{B: broker.New()},
		handler.NewRegistry(), reporter, "worker-1", 1, time.Second, zap.NewNop())

	pool.reportRun(context.Background(), 42, time.Now(), time.Millisecond)

	if reporter.fails != 0 {
		t.Fatalf("expected all attempts consumed, %d fail-tokens left", reporter.fails)
	}
	if len(reporter.runs) != 0 {
		t.Fatalf("expected no successful run recorded, got %d", len(reporter.runs))
	}
}
