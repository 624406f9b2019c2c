package handler

import (
	"context"
	"testing"
	"time"
)

func TestRegisterAndExecute(t *testing.T) {
	r := NewRegistry()
	if err := r.Register("Console", "run_console", func(ctx context.Context, cfg []byte, deadline time.Time) Outcome {
		return Outcome{Kind: Success, Stdout: string(cfg)}
	}); err != nil {
		t.Fatal(err)
	}

	if !r.Exists("Console", "run_console") {
		t.Fatal("expected handler to be registered")
	}

	out := r.Execute(context.Background(), "Console", "run_console", []byte("hi"), time.Now().Add(time.Second))
	if out.Kind != Success || out.Stdout != "hi" {
		t.Fatalf("unexpected outcome: %+v", out)
	}
}

func TestRegisterDuplicateRejected(t *testing.T) {
	r := NewRegistry()
	fn := func(ctx context.Context, cfg []byte, deadline time.Time) Outcome { return Outcome{Kind: Success} }
	if err := r.Register("Console", "run_console", fn); err != nil {
		t.Fatal(err)
	}
	if err := r.Register("Console", "run_console", fn); err == nil {
		t.Fatal("expected error re-registering the same key")
	}
}

func TestExecuteUnknownHandler(t *testing.T) {
	r := NewRegistry()
	out := r.Execute(context.Background(), "Console", "missing", nil, time.Now().Add(time.Second))
	if out.Kind != Failure || out.Message != "handler_not_found" {
		t.Fatalf("expected handler_not_found failure, got %+v", out)
	}
}

func TestExecuteTimeout(t *testing.T) {
	r := NewRegistry()
	_ = r.Register("Console", "slow", func(ctx context.Context, cfg []byte, deadline time.Time) Outcome {
		select {
		case <-time.After(time.Second):
			return Outcome{Kind: Success}
		case <-ctx.Done():
			return Outcome{Kind: Timeout}
		}
	})

	out := r.Execute(context.Background(), "Console", "slow", nil, time.Now().Add(10*time.Millisecond))
	if out.Kind != Timeout {
		t.Fatalf("expected timeout, got %+v", out)
	}
}
