// Package metrics exposes the orchestrator's Prometheus counters and
// gauges: work-item throughput, retries, and reaper reclaims.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// WorkItemsLeased counts successful leases, labeled by service image.
	WorkItemsLeased = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "harmony_work_items_leased_total",
		Help: "Work items leased to a worker, by service image.",
	}, []string{"service_image"})

	// WorkItemsCompleted counts terminal completions, labeled by outcome.
	WorkItemsCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "harmony_work_items_completed_total",
		Help: "Work items completed, by terminal outcome.",
	}, []string{"outcome"})

	// WorkItemsRequeued counts retry-on-failure requeues.
	WorkItemsRequeued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "harmony_work_items_requeued_total",
		Help: "Work items requeued after a retryable failure.",
	})

	// LeasesReclaimed counts expired leases reclaimed by the Lease Reaper.
	LeasesReclaimed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "harmony_leases_reclaimed_total",
		Help: "Expired leases reclaimed by the Lease Reaper.",
	})

	// JobsByStatus is a per-status gauge of job counts. It is registered but
	// no component sets it, so it reports no values.
	JobsByStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "harmony_jobs_by_status",
		Help: "Number of jobs in each status.",
	}, []string{"status"})
)
