// Package strategy schedules one run's agent dispatches and enforces the
// shared resource budget. Failures never escape a strategy: every requested
// agent comes back as exactly one Outcome, success or absence.
package strategy

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/praxislabs/concord/internal/agents"
	"github.com/praxislabs/concord/internal/budget"
	"github.com/praxislabs/concord/internal/llm"
	"github.com/praxislabs/concord/internal/metrics"
	"github.com/praxislabs/concord/internal/models"
)

// Outcome is one agent's result for the ANALYZING stage. Absence is nil on
// success.
type Outcome struct {
	AgentID  string
	Analysis *models.AgentAnalysis
	Absence  *models.Absence
}

// Events lets the coordinator observe per-agent boundaries without the
// strategy knowing about the event stream. All callbacks are optional.
type Events struct {
	Started   func(agentID string)
	Completed func(analysis *models.AgentAnalysis)
	Failed    func(absence models.Absence)
}

func (e Events) started(id string) {
	if e.Started != nil {
		e.Started(id)
	}
}

func (e Events) completed(a *models.AgentAnalysis) {
	if e.Completed != nil {
		e.Completed(a)
	}
}

func (e Events) failed(abs models.Absence) {
	if e.Failed != nil {
		e.Failed(abs)
	}
}

// ExecContext carries everything a strategy needs for one run.
type ExecContext struct {
	Doc     *models.Document
	Budget  *budget.Budget
	Run     agents.RunContext
	Events  Events
	Timeout time.Duration // global stage timeout; zero means 5 minutes
	Logger  *zap.Logger
}

func (ec *ExecContext) timeout() time.Duration {
	if ec.Timeout > 0 {
		return ec.Timeout
	}
	return 5 * time.Minute
}

func (ec *ExecContext) logger() *zap.Logger {
	if ec.Logger != nil {
		return ec.Logger
	}
	return zap.NewNop()
}

// Strategy governs how agents are dispatched for one run.
type Strategy interface {
	Name() string
	Execute(ctx context.Context, roster []agents.Agent, ec ExecContext) []Outcome
}

// FromName resolves a strategy by its configuration name.
func FromName(name string) (Strategy, error) {
	switch name {
	case "", "parallel", "all_at_once":
		return &Parallel{}, nil
	case "staged":
		return &Staged{}, nil
	case "priority":
		return &Priority{}, nil
	case "adaptive":
		return &Adaptive{}, nil
	}
	return nil, fmt.Errorf("unknown execution strategy %q", name)
}

// absenceFor classifies a contained agent failure.
func absenceFor(agentID string, err error) models.Absence {
	abs := models.Absence{
		AgentID: agentID,
		Stage:   models.RunAnalyzing,
		Detail:  err.Error(),
	}
	switch {
	case budget.IsExceeded(err):
		abs.Reason = models.AbsenceBudgetSkipped
	case llm.IsSchema(err):
		abs.Reason = models.AbsenceSchemaError
	case errors.Is(err, context.DeadlineExceeded):
		abs.Reason = models.AbsenceTimeout
	case errors.Is(err, context.Canceled):
		abs.Reason = models.AbsenceCancelled
	default:
		abs.Reason = models.AbsenceBackendError
	}
	return abs
}

// runOne performs a single budgeted analyze call, translating every failure
// into an absence outcome.
func runOne(ctx context.Context, a agents.Agent, ec ExecContext) Outcome {
	ec.Events.started(a.ID())

	if err := ec.Budget.Acquire(ctx); err != nil {
		abs := absenceFor(a.ID(), err)
		ec.Events.failed(abs)
		return Outcome{AgentID: a.ID(), Absence: &abs}
	}
	defer ec.Budget.Release()

	analysis, err := a.Analyze(ctx, ec.Doc, ec.Run)
	if err != nil {
		abs := absenceFor(a.ID(), err)
		metrics.AgentFailures.WithLabelValues(a.ID(), string(abs.Reason)).Inc()
		ec.logger().Warn("Agent analysis failed",
			zap.String("agent_id", a.ID()),
			zap.String("reason", string(abs.Reason)),
			zap.Error(err),
		)
		ec.Events.failed(abs)
		return Outcome{AgentID: a.ID(), Absence: &abs}
	}

	ec.Events.completed(analysis)
	return Outcome{AgentID: a.ID(), Analysis: analysis}
}

// skipped builds a budget-skip or relevance-skip outcome without dispatch.
func skipped(agentID string, reason models.AbsenceReason, detail string, ec ExecContext) Outcome {
	abs := models.Absence{
		AgentID: agentID,
		Stage:   models.RunAnalyzing,
		Reason:  reason,
		Detail:  detail,
	}
	ec.Events.failed(abs)
	return Outcome{AgentID: agentID, Absence: &abs}
}

// Usable counts outcomes that produced an analysis.
func Usable(outcomes []Outcome) int {
	n := 0
	for _, o := range outcomes {
		if o.Analysis != nil {
			n++
		}
	}
	return n
}

// Analyses extracts successful analyses in outcome order.
func Analyses(outcomes []Outcome) []*models.AgentAnalysis {
	out := make([]*models.AgentAnalysis, 0, len(outcomes))
	for _, o := range outcomes {
		if o.Analysis != nil {
			out = append(out, o.Analysis)
		}
	}
	return out
}
