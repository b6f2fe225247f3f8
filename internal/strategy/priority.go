package strategy

import (
	"context"

	"github.com/praxislabs/concord/internal/agents"
	"github.com/praxislabs/concord/internal/metrics"
	"github.com/praxislabs/concord/internal/models"
)

// Priority dispatches agents one at a time in ascending priority order, so
// the most important perspectives land before the budget thins out. A
// budget-denied agent goes to the back of the line and gets one retry after
// the rest of the roster has run.
type Priority struct{}

func (Priority) Name() string { return "priority" }

func (Priority) Execute(ctx context.Context, roster []agents.Agent, ec ExecContext) []Outcome {
	ctx, cancel := context.WithTimeout(ctx, ec.timeout())
	defer cancel()

	var (
		outcomes []Outcome
		deferred []agents.Agent
	)
	for _, a := range roster {
		out := runOne(ctx, a, ec)
		if out.Absence != nil && out.Absence.Reason == models.AbsenceBudgetSkipped {
			deferred = append(deferred, a)
			metrics.BudgetDenials.WithLabelValues("defer").Inc()
			continue
		}
		if out.Analysis != nil {
			ec.Run.Prior = append(ec.Run.Prior, out.Analysis)
		}
		outcomes = append(outcomes, out)
	}

	return append(outcomes, retryDeferred(ctx, deferred, ec)...)
}
