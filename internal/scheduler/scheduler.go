// Package scheduler is the single-threaded cooperative tick loop from spec
// §4.3, shaped after gofire/client.CronJobManager — a struct wrapping a
// task source and a dispatch target with a Start(ctx, interval) loop — but
// replacing CronJobManager's per-tick row-locking with the broker's
// idempotent-publish race handling, since ownership of "who runs a given
// firing" now lives in the broker rather than in a locked_by column.
package scheduler

import (
	"context"
	"time"

	"go.uber.org/zap"

	"runinator/internal/broker"
	"runinator/internal/cronexpr"
	"runinator/internal/metrics"
)

// Task is the subset of a ScheduledTask the scheduler needs to decide
// whether to fire and how to advance.
type Task struct {
	ID                  int64
	CronSchedule        string
	ActionName          string
	ActionFunction      string
	ActionConfiguration []byte
	TimeoutMS           int64
	NextExecution       *time.Time
	Enabled             bool
}

// TaskSource abstracts where due tasks come from: the web service's HTTP
// API in a real deployment, or a repository.Repository directly in
// embedded tests, per spec §4.3's "from the web service ... or directly
// from the repository in embedded tests."
type TaskSource interface {
	DueTasks(ctx context.Context, now time.Time) ([]Task, error)
	Advance(ctx context.Context, taskID int64, next *time.Time) error
}

// Scheduler runs the tick loop.
type Scheduler struct {
	source     TaskSource
	client     broker.Client
	consumerID string
	tick       time.Duration
	log        *zap.Logger
}

func New(source TaskSource, client broker.Client, consumerID string, tick time.Duration, log *zap.Logger) *Scheduler {
	return &Scheduler{source: source, client: client, consumerID: consumerID, tick: tick, log: log}
}

// Start runs the tick loop until ctx is cancelled. It never blocks on
// handler execution — only on publish, which the broker does not block
// indefinitely for.
func (s *Scheduler) Start(ctx context.Context) error {
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.runTick(ctx)
		}
	}
}

func (s *Scheduler) runTick(ctx context.Context) {
	metrics.SchedulerTicks.Inc()
	now := time.Now().UTC()

	tasks, err := s.source.DueTasks(ctx, now)
	if err != nil {
		s.log.Warn("scheduler: failed to list due tasks, retrying next tick", zap.Error(err))
		return
	}

	for _, t := range tasks {
		if !t.Enabled || t.NextExecution == nil {
			continue
		}
		s.fireOne(ctx, t, now)
	}
}

func (s *Scheduler) fireOne(ctx context.Context, t Task, now time.Time) {
	scheduledFor := *t.NextExecution

	_, err := s.client.Publish(ctx, broker.Firing{
		TaskID:         t.ID,
		ScheduledFor:   scheduledFor,
		Attempt:        0,
		Configuration:  t.ActionConfiguration,
		ActionName:     t.ActionName,
		ActionFunction: t.ActionFunction,
		TimeoutMS:      t.TimeoutMS,
	})
	if err != nil {
		// Per spec §4.3: on publish failure, next_execution is not advanced;
		// the tick retries on the next pass.
		metrics.SchedulerPublishFailures.Inc()
		s.log.Warn("scheduler: publish failed, will retry next tick",
			zap.Int64("task_id", t.ID), zap.Error(err))
		return
	}
	// A broker rejecting the publish because the same (task_id, scheduled_for)
	// is already in flight is treated as success (idempotent) — Publish above
	// already returns the existing id rather than an error in that case, so
	// there's nothing extra to special-case here.

	// Catch-up policy: advance from max(scheduled_for, now), not from
	// scheduled_for itself, so a long-stale next_execution jumps straight to
	// the next future slot instead of backfilling every missed tick.
	base := scheduledFor
	if now.After(base) {
		base = now
	}
	next, err := cronexpr.NextAfterExpr(t.CronSchedule, base)
	if err != nil {
		s.log.Error("scheduler: cron expression became invalid after publish",
			zap.Int64("task_id", t.ID), zap.String("cron", t.CronSchedule), zap.Error(err))
		return
	}

	if err := s.source.Advance(ctx, t.ID, &next); err != nil {
		s.log.Warn("scheduler: failed to persist advanced next_execution",
			zap.Int64("task_id", t.ID), zap.Error(err))
	}
}
