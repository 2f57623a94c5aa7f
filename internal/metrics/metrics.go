package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// WorkflowsStarted counts workflows that began executing.
	WorkflowsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "agentd_workflows_started_total",
		Help: "Total number of workflows that started executing.",
	})
	// WorkflowsFinished counts workflows reaching a terminal status.
	WorkflowsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agentd_workflows_finished_total",
		Help: "Total number of workflows that reached a terminal status.",
	}, []string{"status"})
	// StepsExecuted counts step outcomes by status.
	StepsExecuted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agentd_steps_executed_total",
		Help: "Total number of saga step executions by outcome.",
	}, []string{"status"})
	// StepDuration tracks step execution latency.
	StepDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "agentd_step_duration_seconds",
		Help:    "Latency distribution for saga step execution.",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60, 300},
	})
	// CompensationsRun counts compensation executions by outcome.
	CompensationsRun = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agentd_compensations_total",
		Help: "Total number of compensation executions by outcome.",
	}, []string{"status"})
	// SnapshotsPersisted counts snapshot writes by outcome.
	SnapshotsPersisted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agentd_snapshots_persisted_total",
		Help: "Total number of snapshot writes by outcome.",
	}, []string{"status"})
	// ReasoningIterations tracks iterations used per reasoning run.
	ReasoningIterations = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "agentd_reasoning_iterations",
		Help:    "Distribution of thinking iterations used per reasoning run.",
		Buckets: []float64{1, 2, 3, 5, 8, 10, 15, 20},
	})
	// ReasoningTruncations counts runs that exhausted the thinking budget.
	ReasoningTruncations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "agentd_reasoning_truncations_total",
		Help: "Total number of reasoning runs truncated by the thinking budget.",
	})
)
