package consensus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/praxislabs/concord/internal/models"
)

type fakeVoter struct {
	id        string
	spec      models.Specialization
	accuracy  float64
	threshold float64
}

func (f fakeVoter) ID() string                            { return f.id }
func (f fakeVoter) Specialization() models.Specialization { return f.spec }
func (f fakeVoter) HistoricalAccuracy() float64           { return f.accuracy }
func (f fakeVoter) ConfidenceThreshold() float64          { return f.threshold }

func voterMap(vs ...fakeVoter) map[string]Voter {
	out := make(map[string]Voter, len(vs))
	for _, v := range vs {
		out[v.id] = v
	}
	return out
}

func TestWeightAppliesSpecialtyBoost(t *testing.T) {
	v := fakeVoter{id: "fiscal-1", spec: models.SpecFiscal, accuracy: 0.8}

	inDomain := Weight(v, models.SpecFiscal, 0.9)
	outOfDomain := Weight(v, models.SpecHealthcare, 0.9)

	assert.InDelta(t, 1.5*0.8*0.9, inDomain, 1e-9)
	assert.InDelta(t, 1.0*0.8*0.9, outOfDomain, 1e-9)
}

func TestLevelForBoundaries(t *testing.T) {
	assert.Equal(t, models.ConsensusStrong, LevelFor(0.90))
	assert.Equal(t, models.ConsensusReached, LevelFor(0.75))
	assert.Equal(t, models.ConsensusMajority, LevelFor(0.60))
	assert.Equal(t, models.ConsensusDivided, LevelFor(0.40))
	assert.Equal(t, models.ConsensusMinority, LevelFor(0.39))
}

func TestAggregateIsOrderIndependent(t *testing.T) {
	eng := NewEngine(0.6, zaptest.NewLogger(t))
	voters := voterMap(
		fakeVoter{id: "a", spec: models.SpecFiscal, accuracy: 0.8, threshold: 0.6},
		fakeVoter{id: "b", spec: models.SpecEconomic, accuracy: 0.6, threshold: 0.6},
		fakeVoter{id: "c", spec: models.SpecEquity, accuracy: 0.7, threshold: 0.6},
	)
	proposals := []models.Proposal{{ID: "p1", Domain: models.SpecFiscal, Statement: "cuts deficit"}}
	votes := []models.Vote{
		{AgentID: "a", ProposalID: "p1", Support: models.SupportStrong, Confidence: 0.9},
		{AgentID: "b", ProposalID: "p1", Support: models.SupportOppose, Confidence: 0.7},
		{AgentID: "c", ProposalID: "p1", Support: models.SupportFavor, Confidence: 0.8},
	}
	reversed := []models.Vote{votes[2], votes[1], votes[0]}

	t1 := eng.Aggregate(proposals, votes, voters)
	t2 := eng.Aggregate(proposals, reversed, voters)

	require.Len(t, t1, 1)
	assert.Equal(t, t1[0].WeightedAgreement, t2[0].WeightedAgreement)
	assert.Equal(t, t1[0].Level, t2[0].Level)
	assert.Equal(t, t1[0].Supporting, t2[0].Supporting)
}

func TestTallyCapturesDissentVerbatim(t *testing.T) {
	eng := NewEngine(0.6, zaptest.NewLogger(t))
	voters := voterMap(
		fakeVoter{id: "a", spec: models.SpecFiscal, accuracy: 0.8, threshold: 0.6},
		fakeVoter{id: "b", spec: models.SpecEconomic, accuracy: 0.8, threshold: 0.6},
	)
	proposals := []models.Proposal{{ID: "p1", Domain: models.SpecFiscal, Statement: "x"}}
	votes := []models.Vote{
		{AgentID: "a", ProposalID: "p1", Support: models.SupportStrong, Confidence: 0.9},
		{AgentID: "b", ProposalID: "p1", Support: models.SupportStrongOpp, Confidence: 0.9,
			Reasoning: "the savings estimate ignores enrollment churn"},
	}

	tallies := eng.Aggregate(proposals, votes, voters)
	require.Len(t, tallies, 1)
	require.Len(t, tallies[0].Dissenting, 1)
	assert.Equal(t, "b", tallies[0].Dissenting[0].AgentID)
	assert.Equal(t, "the savings estimate ignores enrollment churn", tallies[0].Dissenting[0].Reasoning)
}

func TestTallyFlagsLowConfidenceProposals(t *testing.T) {
	eng := NewEngine(0.6, zaptest.NewLogger(t))
	voters := voterMap(
		fakeVoter{id: "a", spec: models.SpecFiscal, accuracy: 0.8, threshold: 0.7},
		fakeVoter{id: "b", spec: models.SpecEconomic, accuracy: 0.8, threshold: 0.7},
	)
	proposals := []models.Proposal{{ID: "p1", Domain: models.SpecFiscal, Statement: "murky"}}
	votes := []models.Vote{
		{AgentID: "a", ProposalID: "p1", Support: models.SupportFavor, Confidence: 0.5},
		{AgentID: "b", ProposalID: "p1", Support: models.SupportFavor, Confidence: 0.6},
	}

	tallies := eng.Aggregate(proposals, votes, voters)
	require.Len(t, tallies, 1)
	assert.True(t, tallies[0].NoConfidentVoter)
}

func TestReportFiltersByAgreementThreshold(t *testing.T) {
	eng := NewEngine(0.6, zaptest.NewLogger(t))

	in := ReportInput{
		RunID: "r1",
		Findings: map[string]models.Finding{
			"f1": {ID: "f1", Category: "deficit_impact", Statement: "cuts deficit"},
			"f2": {ID: "f2", Category: "coverage", Statement: "reduces coverage"},
		},
		Tallies: []Tally{
			{Proposal: models.Proposal{ID: "f1", FindingID: "f1", Statement: "cuts deficit"},
				WeightedAgreement: 0.82, Level: models.ConsensusReached, Supporting: []string{"a", "b"}, Voters: []string{"a", "b"}},
			{Proposal: models.Proposal{ID: "f2", FindingID: "f2", Statement: "reduces coverage"},
				WeightedAgreement: 0.35, Level: models.ConsensusMinority, Voters: []string{"a", "b"}},
		},
		Provenance: []string{"a", "b"},
	}
	// Voters were confident; silence the uncertainty path.
	in.Tallies[0].NoConfidentVoter = false
	in.Tallies[1].NoConfidentVoter = false

	rep := eng.Report(in)
	require.Len(t, rep.Agreed, 1)
	assert.Equal(t, "f1", rep.Agreed[0].Finding.ID)
	assert.Equal(t, "cuts deficit", rep.Recommendation.Summary)
	assert.Equal(t, models.ConsensusReached, rep.Recommendation.Level)
}

func TestReportKeepsUnresolvedDisputesWithBothSides(t *testing.T) {
	eng := NewEngine(0.6, zaptest.NewLogger(t))

	tl := &models.DebateTimeline{
		Topic:   "coverage_cost",
		Outcome: models.DebateStalemate,
		Final: []models.Position{
			{AgentID: "a", Value: 100, Argument: "costs rise"},
			{AgentID: "b", Value: -50, Argument: "costs fall"},
		},
		Rounds: make([]models.DebateRound, 3),
	}
	rep := eng.Report(ReportInput{
		RunID:     "r1",
		Timelines: []*models.DebateTimeline{tl},
		Disputes: []models.DisputedTopic{
			{Metric: "coverage_cost", Kind: models.DisputeMagnitude},
		},
	})

	require.Len(t, rep.Disputes, 1)
	d := rep.Disputes[0]
	assert.Equal(t, models.DisputeMagnitude, d.Kind)
	assert.Equal(t, models.DebateStalemate, d.Outcome)
	assert.Len(t, d.Sides, 2)
	assert.Equal(t, 3, d.Rounds)
	// No agreed findings: the recommendation must say so, not invent one.
	assert.Equal(t, models.ConsensusMinority, rep.Recommendation.Level)
	assert.NotEmpty(t, rep.Recommendation.Caveats)
}

func TestReportExcludesResolvedDebates(t *testing.T) {
	eng := NewEngine(0.6, zaptest.NewLogger(t))
	rep := eng.Report(ReportInput{
		RunID: "r1",
		Timelines: []*models.DebateTimeline{
			{Topic: "x", Outcome: models.DebateResolved},
		},
	})
	assert.Empty(t, rep.Disputes)
}
