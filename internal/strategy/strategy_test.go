package strategy

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/praxislabs/concord/internal/agents"
	"github.com/praxislabs/concord/internal/budget"
	"github.com/praxislabs/concord/internal/llm"
	"github.com/praxislabs/concord/internal/llm/llmtest"
	"github.com/praxislabs/concord/internal/models"
)

func okHandler(req llm.Request) (*llm.Completion, error) {
	return llmtest.Analysis(0.8, llmtest.Finding(
		"deficit_impact", "finding from "+req.Specialization, "moderate", 0.8, 0)), nil
}

func testAgents(t *testing.T, client llm.Client, profiles []agents.Profile) []agents.Agent {
	t.Helper()
	out := make([]agents.Agent, 0, len(profiles))
	for _, p := range profiles {
		out = append(out, agents.New(p, client, time.Second, zaptest.NewLogger(t)))
	}
	return out
}

func execContext(t *testing.T, maxTokens int) ExecContext {
	t.Helper()
	b := budget.New(budget.Limits{MaxTokens: maxTokens, MaxConcurrency: 4}, zaptest.NewLogger(t))
	return ExecContext{
		Doc:    &models.Document{ID: "d1", Title: "Act", Text: "raises the payroll tax and expands medicare"},
		Budget: b,
		Run:    agents.RunContext{RunID: "r1", Budget: b},
		Logger: zaptest.NewLogger(t),
	}
}

func threeProfiles() []agents.Profile {
	return []agents.Profile{
		{ID: "fiscal-1", Specialization: models.SpecFiscal, Priority: 1, Stage: 0, HistoricalAccuracy: 0.7},
		{ID: "economic-1", Specialization: models.SpecEconomic, Priority: 2, Stage: 0, HistoricalAccuracy: 0.7},
		{ID: "healthcare-1", Specialization: models.SpecHealthcare, Priority: 3, Stage: 1, HistoricalAccuracy: 0.7},
	}
}

func TestFromName(t *testing.T) {
	for _, name := range []string{"", "parallel", "all_at_once", "staged", "priority", "adaptive"} {
		s, err := FromName(name)
		require.NoError(t, err, name)
		require.NotNil(t, s)
	}
	_, err := FromName("roundrobin")
	assert.Error(t, err)
}

func TestParallelReturnsRosterOrder(t *testing.T) {
	fake := &llmtest.Fake{Handler: okHandler}
	roster := testAgents(t, fake, threeProfiles())

	outcomes := (Parallel{}).Execute(context.Background(), roster, execContext(t, 100000))

	require.Len(t, outcomes, 3)
	assert.Equal(t, "fiscal-1", outcomes[0].AgentID)
	assert.Equal(t, "economic-1", outcomes[1].AgentID)
	assert.Equal(t, "healthcare-1", outcomes[2].AgentID)
	assert.Equal(t, 3, Usable(outcomes))
}

func TestParallelContainsFailures(t *testing.T) {
	fake := &llmtest.Fake{Handler: func(req llm.Request) (*llm.Completion, error) {
		if req.Specialization == string(models.SpecEconomic) {
			return nil, &llm.SchemaError{Reason: "malformed output", Raw: "{oops"}
		}
		return okHandler(req)
	}}
	roster := testAgents(t, fake, threeProfiles())

	outcomes := (Parallel{}).Execute(context.Background(), roster, execContext(t, 100000))

	require.Len(t, outcomes, 3)
	assert.Equal(t, 2, Usable(outcomes))
	require.NotNil(t, outcomes[1].Absence)
	assert.Equal(t, models.AbsenceSchemaError, outcomes[1].Absence.Reason)
	assert.Equal(t, models.RunAnalyzing, outcomes[1].Absence.Stage)
}

func TestAdaptiveSkipsIrrelevantAgents(t *testing.T) {
	fake := &llmtest.Fake{Handler: okHandler}
	profiles := threeProfiles()
	profiles[0].Concepts = []string{"tax", "budget"}       // mentioned
	profiles[1].Concepts = []string{"pension", "annuity"}  // not mentioned
	profiles[2].Concepts = nil                             // always runs
	roster := testAgents(t, fake, profiles)

	outcomes := (Adaptive{}).Execute(context.Background(), roster, execContext(t, 100000))

	require.Len(t, outcomes, 3)
	assert.NotNil(t, outcomes[0].Analysis)
	require.NotNil(t, outcomes[1].Absence)
	assert.Equal(t, models.AbsenceNotRelevant, outcomes[1].Absence.Reason)
	assert.NotNil(t, outcomes[2].Analysis)
	// The skipped agent never reached the backend.
	assert.Equal(t, 2, fake.CallsFor(llm.SchemaAnalysis))
}

func TestPriorityDefersWhenBudgetRunsOut(t *testing.T) {
	fake := &llmtest.Fake{Handler: okHandler}
	roster := testAgents(t, fake, threeProfiles())

	// Room for exactly one analysis reservation.
	outcomes := (Priority{}).Execute(context.Background(), roster, execContext(t, 2000))

	require.Len(t, outcomes, 3)
	assert.Equal(t, 1, Usable(outcomes))
	assert.Equal(t, "fiscal-1", outcomes[0].AgentID)
	for _, o := range outcomes[1:] {
		require.NotNil(t, o.Absence)
		assert.Equal(t, models.AbsenceDeferred, o.Absence.Reason)
	}
}

func TestPriorityFeedsPriorAnalysesForward(t *testing.T) {
	fake := &llmtest.Fake{Handler: okHandler}
	roster := testAgents(t, fake, threeProfiles())

	outcomes := (Priority{}).Execute(context.Background(), roster, execContext(t, 100000))
	require.Equal(t, 3, Usable(outcomes))

	calls := fake.Calls()
	require.Len(t, calls, 3)
	assert.Empty(t, calls[0].Context)
	assert.Len(t, calls[1].Context, 1)
	assert.Len(t, calls[2].Context, 2)
}

func TestStagedPassesEarlierStagesAsContext(t *testing.T) {
	fake := &llmtest.Fake{Handler: okHandler}
	roster := testAgents(t, fake, threeProfiles()) // stages 0,0,1

	outcomes := (Staged{}).Execute(context.Background(), roster, execContext(t, 100000))
	require.Equal(t, 3, Usable(outcomes))

	var stageOneCall llm.Request
	for _, c := range fake.Calls() {
		if c.Specialization == string(models.SpecHealthcare) {
			stageOneCall = c
		}
	}
	assert.Len(t, stageOneCall.Context, 2) // both stage-0 analyses
}

func TestGroupByStageOrdersAscending(t *testing.T) {
	fake := &llmtest.Fake{Handler: okHandler}
	profiles := []agents.Profile{
		{ID: "late", Specialization: models.SpecEquity, Stage: 2, HistoricalAccuracy: 0.7},
		{ID: "early", Specialization: models.SpecFiscal, Stage: 0, HistoricalAccuracy: 0.7},
	}
	stages := groupByStage(testAgents(t, fake, profiles))
	require.Len(t, stages, 2)
	assert.Equal(t, "early", stages[0][0].ID())
	assert.Equal(t, "late", stages[1][0].ID())
}

func TestAbsenceForClassification(t *testing.T) {
	cases := []struct {
		err  error
		want models.AbsenceReason
	}{
		{&budget.ExceededError{Requested: 10}, models.AbsenceBudgetSkipped},
		{&llm.SchemaError{Reason: "bad"}, models.AbsenceSchemaError},
		{context.DeadlineExceeded, models.AbsenceTimeout},
		{context.Canceled, models.AbsenceCancelled},
		{&llm.TransientError{Op: "analyze", Err: context.DeadlineExceeded}, models.AbsenceTimeout},
		{assert.AnError, models.AbsenceBackendError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, absenceFor("a", tc.err).Reason, tc.err.Error())
	}
}
