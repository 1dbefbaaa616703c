package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Engine collectors. Label values are drawn from small fixed sets.
var (
	// HookLogs counts captured events by source (polling|webhook).
	HookLogs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "area_hook_logs_total",
			Help: "Trigger occurrences recorded as hook logs.",
		},
		[]string{"source"},
	)

	// Polls counts poll attempts by result (new|unchanged|error).
	Polls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "area_polls_total",
			Help: "Poll attempts made by the polling detector.",
		},
		[]string{"result"},
	)

	// QueueJobs counts settled queue deliveries by outcome
	// (completed|retried|failed).
	QueueJobs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "area_queue_jobs_total",
			Help: "Queue deliveries by outcome.",
		},
		[]string{"outcome"},
	)

	// ReactionExecutions counts reaction invocations by status.
	ReactionExecutions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "area_reaction_executions_total",
			Help: "Reaction invocations by status.",
		},
		[]string{"status"},
	)

	// ReactionDuration observes reaction call latency.
	ReactionDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "area_reaction_duration_seconds",
			Help:    "Duration of reaction capability calls in seconds.",
			Buckets: prometheus.DefBuckets,
		},
	)

	// HookJobsPaused counts automatic pauses by reason.
	HookJobsPaused = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "area_hook_jobs_paused_total",
			Help: "Hook jobs paused automatically, by reason.",
		},
		[]string{"reason"},
	)
)

func init() {
	prometheus.MustRegister(HookLogs, Polls, QueueJobs, ReactionExecutions, ReactionDuration, HookJobsPaused)
}
