package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Engine metrics
var (
	TasksCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "athena_tasks_created_total",
		Help: "Tasks created, by kind",
	}, []string{"kind"})

	TasksCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "athena_tasks_completed_total",
		Help: "Tasks that reached completed, by mode",
	}, []string{"mode"})

	TasksFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "athena_tasks_failed_total",
		Help: "Tasks that reached failed, by mode",
	}, []string{"mode"})

	TasksCancelled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "athena_tasks_cancelled_total",
		Help: "Tasks cancelled by their owner",
	})

	TaskDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "athena_task_duration_seconds",
		Help:    "Wall-clock duration of task execution, by mode",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
	}, []string{"mode"})

	ConsensusScore = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "athena_consensus_score",
		Help:    "Final consensus score of completed tasks",
		Buckets: prometheus.LinearBuckets(0, 0.1, 11),
	})

	AgentFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "athena_agent_failures_total",
		Help: "Per-agent failures recorded during strategy runs, by agent type",
	}, []string{"agent_type"})
)

// Scheduler metrics
var (
	WorkerRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "athena_worker_runs_total",
		Help: "Worker iterations, by worker and outcome",
	}, []string{"worker", "status"})

	WorkerDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "athena_worker_duration_seconds",
		Help:    "Duration of worker iterations",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
	}, []string{"worker"})

	EmergencyTriggers = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "athena_emergency_triggers_total",
		Help: "Emergency escalations, by kind",
	}, []string{"kind"})
)
