package queue

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	jobsEnqueued = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "subledger",
		Subsystem: "queue",
		Name:      "jobs_enqueued_total",
		Help:      "Jobs accepted into the billing queue.",
	})
	jobsDeduplicated = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "subledger",
		Subsystem: "queue",
		Name:      "jobs_deduplicated_total",
		Help:      "Enqueue attempts collapsed onto an existing dedup key.",
	})
	jobsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "subledger",
		Subsystem: "queue",
		Name:      "jobs_processed_total",
		Help:      "Job deliveries by outcome.",
	}, []string{"outcome"})
	jobsDeadLettered = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "subledger",
		Subsystem: "queue",
		Name:      "jobs_dead_lettered_total",
		Help:      "Jobs that exhausted all retry attempts.",
	})
)
