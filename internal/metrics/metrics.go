// Package metrics exposes the /metrics endpoint each service scrapes from,
// the producing counterpart to Crabzie's
// internal/adapter/monitoring/prometheus, which only queries Prometheus.
// The scheduler and worker update the counters below; the broker process
// serves /metrics but updates none of them itself.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Broker counters/gauges, per spec §4.2's operations. FiringsAcked,
// FiringsNacked and FiringsDead are incremented by the worker as it acks or
// nacks; nothing updates FiringsPublished, FiringsLeased or PendingFirings.
var (
	FiringsPublished = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "runinator_broker_firings_published_total",
		Help: "Total firings accepted by publish (idempotent repeats not counted twice).",
	})
	FiringsLeased = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "runinator_broker_firings_leased_total",
		Help: "Total successful lease operations.",
	})
	FiringsAcked = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "runinator_broker_firings_acked_total",
		Help: "Total firings acked.",
	})
	FiringsNacked = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "runinator_broker_firings_nacked_total",
		Help: "Total firings nacked, requeued or dropped.",
	})
	FiringsDead = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "runinator_broker_firings_dead_total",
		Help: "Total firings moved to the terminal dead bucket.",
	})
	PendingFirings = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "runinator_broker_firings_pending",
		Help: "Current count of PENDING firings awaiting lease.",
	})

	// Scheduler, per spec §4.3.
	SchedulerTicks = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "runinator_scheduler_ticks_total",
		Help: "Total scheduler tick iterations.",
	})
	SchedulerPublishFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "runinator_scheduler_publish_failures_total",
		Help: "Total publish attempts that failed and were left for the next tick.",
	})

	// Worker, per spec §4.4.
	HandlerInvocations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "runinator_worker_handler_invocations_total",
		Help: "Total handler invocations by (action_name/action_function, outcome).",
	}, []string{"handler", "outcome"})
	HandlerDurationSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name: "runinator_worker_handler_duration_seconds",
		Help: "Observed handler execution duration.",
	})
)

func init() {
	prometheus.MustRegister(
		FiringsPublished, FiringsLeased, FiringsAcked, FiringsNacked, FiringsDead, PendingFirings,
		SchedulerTicks, SchedulerPublishFailures,
		HandlerInvocations, HandlerDurationSeconds,
	)
}

// Handler returns the Prometheus scrape endpoint handler for GET /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}
