// Package worker runs the lease → resolve → invoke → report cycle from
// spec §4.4, shaped after gofire/client.CronJobManager's
// semaphore.Weighted-bounded fan-out (processCronJobs/executeJob) but
// replacing its store-lock-then-goroutine dispatch with a lease-per-slot
// loop, since ownership of a firing now comes from the broker's lease
// instead of a locked_by column.
package worker

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"runinator/internal/broker"
	"runinator/internal/handler"
	"runinator/internal/metrics"
	"runinator/internal/repository"
)

// RunReporter is the subset of webservice.Client the worker needs to post
// completed TaskRuns; an interface so embedded tests can swap in a
// repository.Repository-backed fake without a live HTTP server.
type RunReporter interface {
	RecordTaskRun(ctx context.Context, r repository.TaskRun) error
}

// DefaultPollBackoff is the sleep between empty leases, per spec §4.4
// step 1 ("on empty, sleep a short backoff and retry").
const DefaultPollBackoff = 250 * time.Millisecond

// reportBackoff is the fixed 100ms/500ms/2s retry ladder from spec §4.4
// step 4, paced through a rate.Limiter instead of a bare time.Sleep loop.
var reportBackoff = []time.Duration{100 * time.Millisecond, 500 * time.Millisecond, 2 * time.Second}

// maxReportAttempts is one initial post plus one retry per reportBackoff step.
const maxReportAttempts = 4

// Pool runs POOL_SIZE cooperative lease→run→report cycles.
type Pool struct {
	client     broker.Client
	registry   *handler.Registry
	reporter   RunReporter
	consumerID string
	poolSize   int64
	pollWait   time.Duration
	log        *zap.Logger
}

func NewPool(client broker.Client, registry *handler.Registry, reporter RunReporter, consumerID string, poolSize int64, pollWait time.Duration, log *zap.Logger) *Pool {
	if poolSize <= 0 {
		poolSize = 1
	}
	if pollWait <= 0 {
		pollWait = 5 * time.Second
	}
	return &Pool{
		client: client, registry: registry, reporter: reporter,
		consumerID: consumerID, poolSize: poolSize, pollWait: pollWait, log: log,
	}
}

// Start runs POOL_SIZE concurrent cycles until ctx is cancelled, blocking
// until every in-flight cycle has returned.
func (p *Pool) Start(ctx context.Context) {
	sem := semaphore.NewWeighted(p.poolSize)
	var wg sync.WaitGroup

	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			return
		default:
		}

		if err := sem.Acquire(ctx, 1); err != nil {
			wg.Wait()
			return
		}

		wg.Add(1)
		go func() {
			defer sem.Release(1)
			defer wg.Done()
			p.cycle(ctx)
		}()
	}
}

// cycle runs exactly one lease→run→report iteration for one pool slot.
func (p *Pool) cycle(ctx context.Context) {
	snap, err := p.client.Lease(ctx, p.consumerID, p.pollWait)
	if err != nil {
		if ctx.Err() == nil {
			p.log.Warn("worker: lease failed", zap.Error(err))
			time.Sleep(DefaultPollBackoff)
		}
		return
	}
	if snap == nil {
		time.Sleep(DefaultPollBackoff)
		return
	}

	if !p.registry.Exists(snap.ActionName, snap.ActionFunction) {
		metrics.FiringsDead.Inc()
		_ = p.client.Nack(ctx, snap.ID, snap.LeaseToken, false, "handler_not_found")
		return
	}

	deadline := time.Now().Add(time.Duration(snap.TimeoutMS) * time.Millisecond)
	start := time.Now().UTC()

	label := snap.ActionName + "/" + snap.ActionFunction
	timer := time.Now()
	outcome := p.registry.Execute(ctx, snap.ActionName, snap.ActionFunction, snap.Configuration, deadline)
	duration := time.Since(timer)

	metrics.HandlerInvocations.WithLabelValues(label, outcome.Kind.String()).Inc()
	metrics.HandlerDurationSeconds.Observe(duration.Seconds())

	p.reportRun(ctx, snap.TaskID, start, duration)

	switch outcome.Kind {
	case handler.Success:
		metrics.FiringsAcked.Inc()
		if err := p.client.Ack(ctx, snap.ID, snap.LeaseToken); err != nil {
			p.log.Warn("worker: ack failed", zap.Int64("firing_id", snap.ID), zap.Error(err))
		}
	case handler.Timeout:
		metrics.FiringsNacked.Inc()
		if err := p.client.Nack(ctx, snap.ID, snap.LeaseToken, true, "timeout"); err != nil {
			p.log.Warn("worker: nack failed", zap.Int64("firing_id", snap.ID), zap.Error(err))
		}
	case handler.Failure:
		metrics.FiringsNacked.Inc()
		if err := p.client.Nack(ctx, snap.ID, snap.LeaseToken, outcome.Retryable, outcome.Message); err != nil {
			p.log.Warn("worker: nack failed", zap.Int64("firing_id", snap.ID), zap.Error(err))
		}
	}
}

// reportRun posts a completed TaskRun with bounded, rate-paced retries —
// fire-and-forget per spec §4.4 step 4: failure after the final attempt is
// logged, never surfaced to the lease/ack decision.
func (p *Pool) reportRun(ctx context.Context, taskID int64, start time.Time, duration time.Duration) {
	run := repository.TaskRun{TaskID: taskID, StartTime: start, DurationMS: duration.Milliseconds()}

	// One limiter reused across the whole retry ladder: a fresh limiter
	// always starts with its burst token available, so constructing one
	// per attempt would make every wait return instantly. Draining the
	// initial token up front forces the first real wait to actually block.
	limiter := rate.NewLimiter(rate.Every(reportBackoff[0]), 1)
	limiter.Allow()

	for attempt := 0; attempt < maxReportAttempts; attempt++ {
		if attempt > 0 {
			limiter.SetLimit(rate.Every(reportBackoff[attempt-1]))
			if err := limiter.Wait(ctx); err != nil {
				return
			}
		}
		if err := p.reporter.RecordTaskRun(ctx, run); err == nil {
			return
		} else if attempt == maxReportAttempts-1 {
			p.log.Warn("worker: giving up reporting task run",
				zap.Int64("task_id", taskID), zap.Error(err))
		}
	}
}
