package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Run metrics
	RunsStarted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "concord_runs_started_total",
			Help: "Total number of swarm runs started",
		},
		[]string{"strategy"},
	)

	RunsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "concord_runs_completed_total",
			Help: "Total number of swarm runs finished, by terminal status",
		},
		[]string{"strategy", "status"},
	)

	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "concord_stage_duration_seconds",
			Help:    "Pipeline stage duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"stage"},
	)

	// Agent metrics
	AgentCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "concord_agent_calls_total",
			Help: "Total number of agent calls by operation",
		},
		[]string{"agent_id", "operation"},
	)

	AgentFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "concord_agent_failures_total",
			Help: "Total number of failed agent calls by reason",
		},
		[]string{"agent_id", "reason"},
	)

	AgentCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "concord_agent_call_duration_seconds",
			Help:    "Agent call duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"agent_id", "operation"},
	)

	// Debate metrics
	DebatesOpened = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "concord_debates_opened_total",
			Help: "Total number of debate topics opened, by trigger kind",
		},
		[]string{"kind"},
	)

	DebatesClosed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "concord_debates_closed_total",
			Help: "Total number of debate topics closed, by outcome",
		},
		[]string{"outcome"},
	)

	DebateRounds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "concord_debate_rounds",
			Help:    "Number of rounds per debate topic",
			Buckets: []float64{1, 2, 3, 4, 5},
		},
	)

	DebateConvergence = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "concord_debate_convergence",
			Help:    "Final convergence score per debate topic",
			Buckets: []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1.0},
		},
	)

	// Budget metrics
	TokensSpent = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "concord_tokens_spent_total",
			Help: "Total tokens spent across all runs",
		},
	)

	BudgetDenials = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "concord_budget_denials_total",
			Help: "Dispatches denied by budget exhaustion, by action taken",
		},
		[]string{"action"},
	)

	// Event stream metrics
	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "concord_events_published_total",
			Help: "Streaming events published, by type",
		},
		[]string{"type"},
	)

	EventsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "concord_events_dropped_total",
			Help: "Streaming events dropped on slow subscribers",
		},
	)
)
