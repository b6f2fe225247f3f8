package debate

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/praxislabs/concord/internal/agents"
	"github.com/praxislabs/concord/internal/llm"
	"github.com/praxislabs/concord/internal/llm/llmtest"
	"github.com/praxislabs/concord/internal/models"
)

func testRegistry(t *testing.T, client llm.Client, withJudge bool) *agents.Registry {
	t.Helper()
	profiles := []agents.Profile{
		{ID: "fiscal-1", Specialization: models.SpecFiscal, Priority: 1, ConfidenceThreshold: 0.6, HistoricalAccuracy: 0.7},
		{ID: "economic-1", Specialization: models.SpecEconomic, Priority: 2, ConfidenceThreshold: 0.6, HistoricalAccuracy: 0.7},
	}
	if withJudge {
		profiles = append(profiles, agents.Profile{
			ID: "judge-1", Specialization: models.SpecJudge, Priority: 99, HistoricalAccuracy: 0.7,
		})
	}
	reg, err := agents.NewRegistry(profiles, client, time.Second, zaptest.NewLogger(t))
	require.NoError(t, err)
	return reg
}

func magnitudeTopic() models.DisputedTopic {
	return models.DisputedTopic{
		ID:           "t1",
		Kind:         models.DisputeMagnitude,
		Domain:       models.SpecFiscal,
		Metric:       "deficit_impact",
		Participants: []string{"fiscal-1", "economic-1"},
		Initial: map[string]models.Position{
			"fiscal-1":   {AgentID: "fiscal-1", Topic: "deficit_impact", Value: 100, Confidence: 0.9, Argument: "costs 100B"},
			"economic-1": {AgentID: "economic-1", Topic: "deficit_impact", Value: 50, Confidence: 0.8, Argument: "costs 50B"},
		},
	}
}

func TestDebateResolvesWhenPositionsConverge(t *testing.T) {
	fake := &llmtest.Fake{Handler: func(req llm.Request) (*llm.Completion, error) {
		switch req.Schema {
		case llm.SchemaCritiques:
			return llmtest.Critiques(llm.CritiquePayload{
				Type: models.CritiqueEvidence, Severity: models.SeverityMedium,
				Content: "estimate unsupported, per " + req.Specialization,
			}), nil
		case llm.SchemaRebuttal:
			return llmtest.Rebuttal("conceding the midpoint", &llm.PositionPayload{
				Value: 75, Confidence: 0.9, Argument: "midpoint is defensible",
			}), nil
		}
		t.Fatalf("unexpected schema %s", req.Schema)
		return nil, nil
	}}
	eng := NewEngine(Config{}, testRegistry(t, fake, true), Events{}, zaptest.NewLogger(t))

	tl, err := eng.Run(context.Background(), magnitudeTopic(), agents.RunContext{RunID: "r1"})
	require.NoError(t, err)

	assert.Equal(t, models.DebateResolved, tl.Outcome)
	assert.Len(t, tl.Rounds, 1)
	require.Len(t, tl.Final, 2)
	for _, p := range tl.Final {
		assert.Equal(t, 75.0, p.Value)
	}
	// Trajectories keep the opening stance plus the update.
	assert.Len(t, tl.Trajectories["economic-1"], 2)
	assert.Equal(t, 0, fake.CallsFor(llm.SchemaArbitration))
}

func TestDebateStallEscalatesToArbitration(t *testing.T) {
	fake := &llmtest.Fake{Handler: func(req llm.Request) (*llm.Completion, error) {
		switch req.Schema {
		case llm.SchemaCritiques:
			// Identical content every round: the moderator suppresses the
			// repeats, nobody moves, the debate stalls.
			return llmtest.Critiques(llm.CritiquePayload{
				Type: models.CritiqueMethodology, Severity: models.SeverityHigh,
				Content: "your discount rate is wrong",
			}), nil
		case llm.SchemaRebuttal:
			return llmtest.Rebuttal("standing firm", nil), nil
		case llm.SchemaArbitration:
			return llmtest.Arbitration("the impact is 80B", 80, 0.85), nil
		}
		t.Fatalf("unexpected schema %s", req.Schema)
		return nil, nil
	}}
	eng := NewEngine(Config{StallRounds: 2}, testRegistry(t, fake, true), Events{}, zaptest.NewLogger(t))

	tl, err := eng.Run(context.Background(), magnitudeTopic(), agents.RunContext{RunID: "r1"})
	require.NoError(t, err)

	assert.Equal(t, models.DebateArbitrated, tl.Outcome)
	require.NotNil(t, tl.Determination)
	assert.Equal(t, "judge-1", tl.Determination.JudgeID)
	assert.Equal(t, 80.0, tl.Determination.Value)
	assert.Equal(t, "deficit_impact", tl.Determination.Topic)
	assert.Equal(t, 1, fake.CallsFor(llm.SchemaArbitration))
	assert.Len(t, tl.Rounds, 2)
}

func TestDebateWithoutJudgeClosesAsStalemate(t *testing.T) {
	fake := &llmtest.Fake{Handler: func(req llm.Request) (*llm.Completion, error) {
		switch req.Schema {
		case llm.SchemaCritiques:
			return llmtest.Critiques(llm.CritiquePayload{
				Type: models.CritiqueLogic, Severity: models.SeverityLow, Content: "same objection",
			}), nil
		case llm.SchemaRebuttal:
			return llmtest.Rebuttal("no change", nil), nil
		}
		return nil, nil
	}}
	eng := NewEngine(Config{StallRounds: 2}, testRegistry(t, fake, false), Events{}, zaptest.NewLogger(t))

	tl, err := eng.Run(context.Background(), magnitudeTopic(), agents.RunContext{RunID: "r1"})
	require.NoError(t, err)

	assert.Equal(t, models.DebateStalemate, tl.Outcome)
	assert.Nil(t, tl.Determination)
	assert.Contains(t, tl.Reason, "no judge")
}

func TestDebateRoundCapIsHonored(t *testing.T) {
	round := 0
	fake := &llmtest.Fake{Handler: func(req llm.Request) (*llm.Completion, error) {
		switch req.Schema {
		case llm.SchemaCritiques:
			round++
			return llmtest.Critiques(llm.CritiquePayload{
				Type: models.CritiqueEvidence, Severity: models.SeverityMedium,
				Topic: "deficit_impact", Content: "objection variant",
			}), nil
		case llm.SchemaRebuttal:
			// Always moves, never converges: oscillating updates.
			v := 100.0
			if round%2 == 0 {
				v = 20.0
			}
			return llmtest.Rebuttal("moving", &llm.PositionPayload{Value: v, Confidence: 0.9, Argument: "shifted"}), nil
		case llm.SchemaArbitration:
			return llmtest.Arbitration("settled at 60B", 60, 0.8), nil
		}
		return nil, nil
	}}
	eng := NewEngine(Config{MaxRounds: 3}, testRegistry(t, fake, true), Events{}, zaptest.NewLogger(t))

	tl, err := eng.Run(context.Background(), magnitudeTopic(), agents.RunContext{RunID: "r1"})
	require.NoError(t, err)
	assert.LessOrEqual(t, len(tl.Rounds), 3)
	assert.Contains(t, []models.DebateOutcome{models.DebateArbitrated, models.DebateStalemate}, tl.Outcome)
}

func TestModeratorSuppressesRepeatedCritiques(t *testing.T) {
	m := newModerator()
	assert.True(t, m.admit("a", "b", "same text"))
	assert.False(t, m.admit("a", "b", "same text"))
	// Same text toward a different rival is a new critique.
	assert.True(t, m.admit("a", "c", "same text"))
}

func TestModeratorAvoidsConsecutiveRival(t *testing.T) {
	m := newModerator()
	participants := []string{"a", "b", "c"}
	current := map[string]models.Position{
		"a": {AgentID: "a", Value: 0},
		"b": {AgentID: "b", Value: 100},
		"c": {AgentID: "c", Value: 90},
	}

	first, ok := m.pickRival("a", participants, current)
	require.True(t, ok)
	assert.Equal(t, "b", first) // farthest position

	second, ok := m.pickRival("a", participants, current)
	require.True(t, ok)
	assert.Equal(t, "c", second) // b was last round's rival
}

func TestModeratorTwoPartyDebateAllowsRepeatRival(t *testing.T) {
	m := newModerator()
	participants := []string{"a", "b"}
	current := map[string]models.Position{
		"a": {AgentID: "a", Value: 0},
		"b": {AgentID: "b", Value: 100},
	}
	for i := 0; i < 3; i++ {
		rival, ok := m.pickRival("a", participants, current)
		require.True(t, ok)
		assert.Equal(t, "b", rival)
	}
}
