package strategy

import (
	"context"
	"sort"

	"github.com/praxislabs/concord/internal/agents"
	"github.com/praxislabs/concord/internal/metrics"
	"github.com/praxislabs/concord/internal/models"
)

// Staged runs agents in ordered stages (the profile's Stage field). Each
// stage's analyses become prior context for the next. Budget exhaustion
// defers an agent to a single end-of-run retry instead of failing it.
type Staged struct{}

func (Staged) Name() string { return "staged" }

func (Staged) Execute(ctx context.Context, roster []agents.Agent, ec ExecContext) []Outcome {
	ctx, cancel := context.WithTimeout(ctx, ec.timeout())
	defer cancel()

	stages := groupByStage(roster)

	var (
		outcomes []Outcome
		deferred []agents.Agent
	)
	for _, stage := range stages {
		stageOuts := fanOut(ctx, stage, ec)
		for _, out := range stageOuts {
			if out.Absence != nil && out.Absence.Reason == models.AbsenceBudgetSkipped {
				if a, ok := find(stage, out.AgentID); ok {
					deferred = append(deferred, a)
					metrics.BudgetDenials.WithLabelValues("defer").Inc()
					continue
				}
			}
			outcomes = append(outcomes, out)
		}
		// Later stages see everything produced so far.
		ec.Run.Prior = append(ec.Run.Prior, Analyses(stageOuts)...)
	}

	outcomes = append(outcomes, retryDeferred(ctx, deferred, ec)...)
	return outcomes
}

// groupByStage splits the roster into ascending stage buckets, preserving
// priority order within a stage.
func groupByStage(roster []agents.Agent) [][]agents.Agent {
	byStage := make(map[int][]agents.Agent)
	var keys []int
	for _, a := range roster {
		if _, ok := byStage[a.Stage()]; !ok {
			keys = append(keys, a.Stage())
		}
		byStage[a.Stage()] = append(byStage[a.Stage()], a)
	}
	sort.Ints(keys)
	out := make([][]agents.Agent, 0, len(keys))
	for _, k := range keys {
		out = append(out, byStage[k])
	}
	return out
}

// retryDeferred gives budget-deferred agents one sequential retry once the
// rest of the roster has settled. Agents still over budget are recorded as
// deferred absences, never as run failures.
func retryDeferred(ctx context.Context, deferred []agents.Agent, ec ExecContext) []Outcome {
	outcomes := make([]Outcome, 0, len(deferred))
	for _, a := range deferred {
		out := runOne(ctx, a, ec)
		if out.Absence != nil && out.Absence.Reason == models.AbsenceBudgetSkipped {
			out.Absence.Reason = models.AbsenceDeferred
		}
		outcomes = append(outcomes, out)
	}
	return outcomes
}

func find(list []agents.Agent, id string) (agents.Agent, bool) {
	for _, a := range list {
		if a.ID() == id {
			return a, true
		}
	}
	return nil, false
}
