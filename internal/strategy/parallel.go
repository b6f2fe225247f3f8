package strategy

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/praxislabs/concord/internal/agents"
)

// Parallel launches every agent at once, capped by the budget's concurrency
// ceiling, under one global stage timeout. Still-running calls are aborted
// at the deadline and the run proceeds with partial results.
type Parallel struct{}

func (Parallel) Name() string { return "parallel" }

func (Parallel) Execute(ctx context.Context, roster []agents.Agent, ec ExecContext) []Outcome {
	ctx, cancel := context.WithTimeout(ctx, ec.timeout())
	defer cancel()

	return fanOut(ctx, roster, ec)
}

// fanOut dispatches the given agents concurrently and collects outcomes
// keyed by agent identity. Completion order is never significant.
func fanOut(ctx context.Context, roster []agents.Agent, ec ExecContext) []Outcome {
	var (
		mu      sync.Mutex
		results = make(map[string]Outcome, len(roster))
	)

	g, gctx := errgroup.WithContext(ctx)
	for _, a := range roster {
		a := a
		g.Go(func() error {
			out := runOne(gctx, a, ec)
			mu.Lock()
			results[a.ID()] = out
			mu.Unlock()
			return nil // failures are contained in the outcome
		})
	}
	_ = g.Wait()

	// Roster order, not arrival order.
	outcomes := make([]Outcome, 0, len(roster))
	for _, a := range roster {
		outcomes = append(outcomes, results[a.ID()])
	}
	return outcomes
}
