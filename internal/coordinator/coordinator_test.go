package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/praxislabs/concord/internal/config"
	"github.com/praxislabs/concord/internal/llm"
	"github.com/praxislabs/concord/internal/llm/llmtest"
	"github.com/praxislabs/concord/internal/models"
	"github.com/praxislabs/concord/internal/streaming"
)

func testConfig() *config.Config {
	cfg, err := config.LoadFile("/nonexistent/concord.yaml")
	if err != nil {
		panic(err)
	}
	cfg.Roster = []config.AgentProfile{
		{ID: "fiscal-1", Specialization: models.SpecFiscal, Priority: 1, ConfidenceThreshold: 0.6, HistoricalAccuracy: 0.7},
		{ID: "economic-1", Specialization: models.SpecEconomic, Priority: 2, ConfidenceThreshold: 0.6, HistoricalAccuracy: 0.7},
		{ID: "judge-1", Specialization: models.SpecJudge, Priority: 99, HistoricalAccuracy: 0.7},
	}
	cfg.Pipeline.AgentTimeout = 2 * time.Second
	cfg.Pipeline.GlobalTimeout = 10 * time.Second
	cfg.Pipeline.Debate.Timeout = 5 * time.Second
	return cfg
}

func testRequest() Request {
	return Request{
		Title:  "Budget Reconciliation Act",
		Source: "test",
		Text:   "raises the payroll tax and expands medicare coverage",
	}
}

// votesFor answers a votes request by parsing the proposals the agent was
// shown, one uniform vote per proposal.
func votesFor(req llm.Request, support models.SupportLevel, confidence float64) (*llm.Completion, error) {
	payloads := make([]llm.VotePayload, 0, len(req.Context))
	for _, raw := range req.Context {
		var p models.Proposal
		if err := json.Unmarshal([]byte(raw), &p); err != nil {
			return nil, &llm.SchemaError{Reason: "bad proposal context", Raw: raw}
		}
		payloads = append(payloads, llm.VotePayload{
			ProposalID: p.ID,
			Support:    support,
			Confidence: confidence,
			Reasoning:  "test vote",
		})
	}
	return llmtest.Votes(payloads...), nil
}

// agreeableHandler produces identical findings, no critiques and unanimous
// support: a run with nothing to debate.
func agreeableHandler(req llm.Request) (*llm.Completion, error) {
	switch req.Schema {
	case llm.SchemaAnalysis:
		return llmtest.Analysis(0.85, llmtest.Finding(
			"deficit_impact", "adds 100B to the deficit over ten years", "moderate", 0.85, 100e9)), nil
	case llm.SchemaCritiques:
		return llmtest.Critiques(), nil
	case llm.SchemaVotes:
		return votesFor(req, models.SupportStrong, 0.9)
	}
	return nil, &llm.SchemaError{Reason: "unexpected schema " + string(req.Schema)}
}

func newTestCoordinator(t *testing.T, cfg *config.Config, client llm.Client, store Store) (*Coordinator, *streaming.Manager) {
	t.Helper()
	streams := streaming.NewManager(0)
	return New(cfg, client, streams, store, zaptest.NewLogger(t)), streams
}

func eventTypes(events []streaming.Event) []string {
	out := make([]string, 0, len(events))
	for _, e := range events {
		out = append(out, e.Type)
	}
	return out
}

func TestRunCompletesWithConsensus(t *testing.T) {
	fake := &llmtest.Fake{Handler: agreeableHandler}
	coord, streams := newTestCoordinator(t, testConfig(), fake, nil)

	runID, err := coord.Start(context.Background(), testRequest())
	require.NoError(t, err)
	require.NoError(t, coord.Wait(context.Background(), runID))

	status, err := coord.Status(runID)
	require.NoError(t, err)
	assert.Equal(t, models.RunComplete, status.State)
	assert.False(t, status.Partial)
	assert.Empty(t, status.Absences)
	assert.Greater(t, status.TokensSpent, 0)

	report, err := coord.Report(runID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"fiscal-1", "economic-1"}, report.Provenance)
	require.NotEmpty(t, report.Agreed)
	assert.Empty(t, report.Disputes)
	assert.NotEmpty(t, report.Recommendation.Summary)

	types := eventTypes(streams.ReplaySince(runID, 0))
	require.NotEmpty(t, types)
	assert.Equal(t, streaming.TypeRunStarted, types[0])
	assert.Equal(t, streaming.TypeRunCompleted, types[len(types)-1])
	assert.Contains(t, types, streaming.TypeFinding)
	assert.Contains(t, types, streaming.TypeVoteCast)
	assert.NotContains(t, types, streaming.TypeDebateOpened, "nothing contested, the debate stage is silent")
	assert.Equal(t, 0, fake.CallsFor(llm.SchemaArbitration))
	// The judge analyzes nothing and votes on nothing.
	assert.Equal(t, 2, fake.CallsFor(llm.SchemaAnalysis))
	assert.Equal(t, 2, fake.CallsFor(llm.SchemaVotes))
}

func TestRunFailsWhenEveryAgentIsAbsent(t *testing.T) {
	fake := &llmtest.Fake{Handler: func(req llm.Request) (*llm.Completion, error) {
		return nil, &llm.TransientError{Op: string(req.Schema), Err: errors.New("backend down")}
	}}
	coord, streams := newTestCoordinator(t, testConfig(), fake, nil)

	runID, err := coord.Start(context.Background(), testRequest())
	require.NoError(t, err)
	require.NoError(t, coord.Wait(context.Background(), runID))

	status, err := coord.Status(runID)
	require.NoError(t, err)
	assert.Equal(t, models.RunError, status.State)
	assert.Contains(t, status.Error, "no usable analyses")
	require.Len(t, status.Absences, 2)
	for _, abs := range status.Absences {
		assert.Equal(t, models.AbsenceBackendError, abs.Reason)
	}

	_, err = coord.Report(runID)
	assert.Error(t, err, "failed runs have no report")

	types := eventTypes(streams.ReplaySince(runID, 0))
	assert.Equal(t, streaming.TypeRunError, types[len(types)-1], "run.error is published last")
}

func TestCancelMidRunSynthesizesPartialReport(t *testing.T) {
	fake := &llmtest.Fake{Handler: func(req llm.Request) (*llm.Completion, error) {
		switch req.Schema {
		case llm.SchemaAnalysis:
			return agreeableHandler(req)
		case llm.SchemaCritiques:
			time.Sleep(250 * time.Millisecond) // hold the run in cross-review
			return llmtest.Critiques(), nil
		case llm.SchemaVotes:
			return votesFor(req, models.SupportStrong, 0.9)
		}
		return nil, &llm.SchemaError{Reason: "unexpected schema"}
	}}
	coord, streams := newTestCoordinator(t, testConfig(), fake, nil)

	runID, err := coord.Start(context.Background(), testRequest())
	require.NoError(t, err)

	// Wait for cross-review to begin, then cancel.
	require.Eventually(t, func() bool {
		status, err := coord.Status(runID)
		return err == nil && status.State == models.RunCrossReviewing
	}, 5*time.Second, 5*time.Millisecond, "cross-review never started")
	require.NoError(t, coord.Cancel(runID))
	require.NoError(t, coord.Wait(context.Background(), runID))

	status, err := coord.Status(runID)
	require.NoError(t, err)
	assert.Equal(t, models.RunComplete, status.State)
	assert.True(t, status.Partial)
	assert.Equal(t, models.RunCrossReviewing, status.InterruptedStage)

	report, err := coord.Report(runID)
	require.NoError(t, err)
	assert.True(t, report.Partial)
	assert.Len(t, report.Provenance, 2, "completed analyses survive the cancellation")

	types := eventTypes(streams.ReplaySince(runID, 0))
	assert.Equal(t, streaming.TypeRunPartial, types[len(types)-1])
}

func TestDisputedRunEscalatesToArbitration(t *testing.T) {
	// The two analysts disagree by 2x on the same category; debate critiques
	// repeat verbatim, so the debate stalls and the judge decides.
	fake := &llmtest.Fake{Handler: func(req llm.Request) (*llm.Completion, error) {
		switch req.Schema {
		case llm.SchemaAnalysis:
			impact := 100e9
			if req.Specialization == string(models.SpecEconomic) {
				impact = 50e9
			}
			return llmtest.Analysis(0.85, llmtest.Finding(
				"deficit_impact", "deficit impact estimate", "moderate", 0.85, impact)), nil
		case llm.SchemaCritiques:
			return llmtest.Critiques(llm.CritiquePayload{
				Type: models.CritiqueMethodology, Severity: models.SeverityMedium,
				Content: "your baseline assumes outdated growth",
			}), nil
		case llm.SchemaRebuttal:
			return llmtest.Rebuttal("standing by the estimate", nil), nil
		case llm.SchemaArbitration:
			return llmtest.Arbitration("the impact is 80B over ten years", 80e9, 0.8), nil
		case llm.SchemaVotes:
			return votesFor(req, models.SupportFavor, 0.8)
		}
		return nil, &llm.SchemaError{Reason: "unexpected schema " + string(req.Schema)}
	}}
	coord, streams := newTestCoordinator(t, testConfig(), fake, nil)

	runID, err := coord.Start(context.Background(), testRequest())
	require.NoError(t, err)
	require.NoError(t, coord.Wait(context.Background(), runID))

	status, err := coord.Status(runID)
	require.NoError(t, err)
	require.Equal(t, models.RunComplete, status.State, status.Error)

	assert.Equal(t, 1, fake.CallsFor(llm.SchemaArbitration))

	report, err := coord.Report(runID)
	require.NoError(t, err)
	require.Len(t, report.Disputes, 1)
	d := report.Disputes[0]
	assert.Equal(t, "deficit_impact", d.Topic)
	assert.Equal(t, models.DebateArbitrated, d.Outcome)
	require.NotNil(t, d.Determination)
	assert.Equal(t, "judge-1", d.Determination.JudgeID)
	assert.Equal(t, 80e9, d.Determination.Value)

	types := eventTypes(streams.ReplaySince(runID, 0))
	assert.Contains(t, types, streaming.TypeDebateOpened)
	assert.Contains(t, types, streaming.TypeDebateClosed)

	// The arbitrated ruling went to the vote alongside the two findings.
	var voteCall llm.Request
	for _, call := range fake.Calls() {
		if call.Schema == llm.SchemaVotes {
			voteCall = call
		}
	}
	require.Len(t, voteCall.Context, 3)
}

func TestStartRejectsBadRequests(t *testing.T) {
	coord, _ := newTestCoordinator(t, testConfig(), &llmtest.Fake{Handler: agreeableHandler}, nil)

	_, err := coord.Start(context.Background(), Request{})
	assert.ErrorContains(t, err, "text")

	req := testRequest()
	req.Strategy = "roundrobin"
	_, err = coord.Start(context.Background(), req)
	assert.ErrorContains(t, err, "strategy")

	req = testRequest()
	req.AgentIDs = []string{"nobody"}
	_, err = coord.Start(context.Background(), req)
	assert.ErrorContains(t, err, "unknown agent")
}

func TestCancelRejectsTerminalRuns(t *testing.T) {
	coord, _ := newTestCoordinator(t, testConfig(), &llmtest.Fake{Handler: agreeableHandler}, nil)

	runID, err := coord.Start(context.Background(), testRequest())
	require.NoError(t, err)
	require.NoError(t, coord.Wait(context.Background(), runID))

	assert.Error(t, coord.Cancel(runID))
	assert.Error(t, coord.Cancel("no-such-run"))
}

func TestHotReloadDoesNotTouchInFlightRuns(t *testing.T) {
	fake := &llmtest.Fake{Handler: func(req llm.Request) (*llm.Completion, error) {
		if req.Schema == llm.SchemaAnalysis {
			time.Sleep(100 * time.Millisecond)
		}
		return agreeableHandler(req)
	}}
	coord, _ := newTestCoordinator(t, testConfig(), fake, nil)

	runID, err := coord.Start(context.Background(), testRequest())
	require.NoError(t, err)

	// Swap in a roster the running pipeline must not see.
	next := testConfig()
	next.Roster = next.Roster[:1]
	coord.UpdateConfig(next)

	require.NoError(t, coord.Wait(context.Background(), runID))
	report, err := coord.Report(runID)
	require.NoError(t, err)
	assert.Len(t, report.Provenance, 2, "run keeps the roster it started with")
}

type memStore struct {
	mu      sync.Mutex
	runs    map[string]models.RunStatus
	reports map[string]*models.ConsensusReport
}

func newMemStore() *memStore {
	return &memStore{
		runs:    make(map[string]models.RunStatus),
		reports: make(map[string]*models.ConsensusReport),
	}
}

func (s *memStore) SaveRun(_ context.Context, status *models.RunStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[status.RunID] = *status
	return nil
}

func (s *memStore) SaveReport(_ context.Context, report *models.ConsensusReport) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reports[report.RunID] = report
	return nil
}

func TestRunAndReportArePersisted(t *testing.T) {
	store := newMemStore()
	coord, _ := newTestCoordinator(t, testConfig(), &llmtest.Fake{Handler: agreeableHandler}, store)

	runID, err := coord.Start(context.Background(), testRequest())
	require.NoError(t, err)
	require.NoError(t, coord.Wait(context.Background(), runID))

	store.mu.Lock()
	defer store.mu.Unlock()
	saved, ok := store.runs[runID]
	require.True(t, ok)
	assert.Equal(t, models.RunComplete, saved.State)
	require.NotNil(t, store.reports[runID])
	assert.Equal(t, runID, store.reports[runID].RunID)
}
