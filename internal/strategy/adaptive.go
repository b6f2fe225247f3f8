package strategy

import (
	"context"

	"github.com/praxislabs/concord/internal/agents"
	"github.com/praxislabs/concord/internal/ingest"
	"github.com/praxislabs/concord/internal/models"
)

// Adaptive scans the document for each agent's concepts and only dispatches
// the agents whose domain the document actually touches. Skipped agents are
// recorded as not-relevant absences so the report's provenance stays honest.
// Agents with an empty concept list always run.
type Adaptive struct{}

func (Adaptive) Name() string { return "adaptive" }

func (Adaptive) Execute(ctx context.Context, roster []agents.Agent, ec ExecContext) []Outcome {
	ctx, cancel := context.WithTimeout(ctx, ec.timeout())
	defer cancel()

	relevant := make([]agents.Agent, 0, len(roster))
	skippedByID := make(map[string]Outcome)
	for _, a := range roster {
		if len(a.Concepts()) > 0 && !ingest.Mentions(ec.Doc, a.Concepts()) {
			skippedByID[a.ID()] = skipped(a.ID(), models.AbsenceNotRelevant,
				"document mentions none of the agent's concepts", ec)
			continue
		}
		relevant = append(relevant, a)
	}

	ran := fanOut(ctx, relevant, ec)
	ranByID := make(map[string]Outcome, len(ran))
	for _, out := range ran {
		ranByID[out.AgentID] = out
	}

	// Roster order, skips interleaved where the agent would have run.
	outcomes := make([]Outcome, 0, len(roster))
	for _, a := range roster {
		if out, ok := skippedByID[a.ID()]; ok {
			outcomes = append(outcomes, out)
			continue
		}
		outcomes = append(outcomes, ranByID[a.ID()])
	}
	return outcomes
}
