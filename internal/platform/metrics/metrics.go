// Package metrics defines the Prometheus instrumentation for the
// download queue and worker pool.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Failure kind label values for TasksFailed.
const (
	FailureKindTransient = "transient"
	FailureKindPermanent = "permanent"
)

// Metrics bundles the collectors the queue components update. All
// collectors are registered on the registry passed to New, so tests can
// use private registries.
type Metrics struct {
	// TasksEnqueued counts tasks accepted by the submission surface.
	TasksEnqueued prometheus.Counter

	// TasksLeased counts successful lease acquisitions across all workers.
	TasksLeased prometheus.Counter

	// TasksCompleted counts tasks that reached done.
	TasksCompleted prometheus.Counter

	// TasksFailed counts reported attempt failures by kind.
	TasksFailed *prometheus.CounterVec

	// TasksReclaimed counts orphaned leases returned to pending.
	TasksReclaimed prometheus.Counter

	// LeasesLost counts leases observed as reclaimed mid-execution.
	LeasesLost prometheus.Counter

	// WorkerRestarts counts workers replaced by the manager.
	WorkerRestarts prometheus.Counter

	// QueueDepth tracks the number of tasks per status.
	QueueDepth *prometheus.GaugeVec
}

// New creates and registers the queue collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		TasksEnqueued: factory.NewCounter(prometheus.CounterOpts{
			Name: "crate_tasks_enqueued_total",
			Help: "Number of download tasks accepted by the submission API.",
		}),
		TasksLeased: factory.NewCounter(prometheus.CounterOpts{
			Name: "crate_tasks_leased_total",
			Help: "Number of successful task lease acquisitions.",
		}),
		TasksCompleted: factory.NewCounter(prometheus.CounterOpts{
			Name: "crate_tasks_completed_total",
			Help: "Number of download tasks completed successfully.",
		}),
		TasksFailed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "crate_tasks_failed_total",
			Help: "Number of reported task attempt failures by kind.",
		}, []string{"kind"}),
		TasksReclaimed: factory.NewCounter(prometheus.CounterOpts{
			Name: "crate_tasks_reclaimed_total",
			Help: "Number of orphaned running tasks returned to pending.",
		}),
		LeasesLost: factory.NewCounter(prometheus.CounterOpts{
			Name: "crate_leases_lost_total",
			Help: "Number of leases observed as reclaimed mid-execution.",
		}),
		WorkerRestarts: factory.NewCounter(prometheus.CounterOpts{
			Name: "crate_worker_restarts_total",
			Help: "Number of download workers replaced by the manager.",
		}),
		QueueDepth: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "crate_queue_depth",
			Help: "Number of download tasks per status.",
		}, []string{"status"}),
	}
}
