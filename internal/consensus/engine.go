// Package consensus turns the swarm's votes into a weighted verdict and
// synthesizes the terminal report. Aggregation is deterministic: the same
// votes in any arrival order produce the same tallies, and dissent is
// preserved verbatim rather than averaged away.
package consensus

import (
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/praxislabs/concord/internal/models"
)

// Tally is the weighted result for one proposal.
type Tally struct {
	Proposal          models.Proposal
	Level             models.ConsensusLevel
	WeightedAgreement float64
	Supporting        []string
	Dissenting        []models.DissentingView
	// NoConfidentVoter is true when no voter's confidence on this proposal
	// cleared that voter's own threshold.
	NoConfidentVoter bool
	Voters           []string
}

// Engine aggregates votes and synthesizes reports.
type Engine struct {
	// threshold is the minimum weighted agreement for a finding to be
	// reported as agreed.
	threshold float64
	logger    *zap.Logger
}

func NewEngine(agreementThreshold float64, logger *zap.Logger) *Engine {
	if agreementThreshold <= 0 {
		agreementThreshold = 0.6
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{threshold: agreementThreshold, logger: logger}
}

// Aggregate tallies every proposal from the cast votes. votes holds each
// agent's ballot; voters resolves agent IDs to their weighting attributes.
// Votes from unknown agents are dropped.
func (e *Engine) Aggregate(proposals []models.Proposal, votes []models.Vote, voters map[string]Voter) []Tally {
	byProposal := make(map[string][]models.Vote)
	for _, v := range votes {
		if _, known := voters[v.AgentID]; !known {
			e.logger.Warn("Dropping vote from unknown agent", zap.String("agent_id", v.AgentID))
			continue
		}
		byProposal[v.ProposalID] = append(byProposal[v.ProposalID], v)
	}

	tallies := make([]Tally, 0, len(proposals))
	for _, p := range proposals {
		tallies = append(tallies, e.tally(p, byProposal[p.ID], voters))
	}
	return tallies
}

func (e *Engine) tally(p models.Proposal, votes []models.Vote, voters map[string]Voter) Tally {
	// Agent-ID order, never arrival order.
	sort.Slice(votes, func(i, j int) bool { return votes[i].AgentID < votes[j].AgentID })

	t := Tally{Proposal: p, NoConfidentVoter: true}
	var weightSum, agreeSum float64
	for _, v := range votes {
		voter := voters[v.AgentID]
		w := Weight(voter, p.Domain, v.Confidence)
		weightSum += w
		agreeSum += w * v.Support.Agreement()
		t.Voters = append(t.Voters, v.AgentID)

		if v.Confidence >= voter.ConfidenceThreshold() {
			t.NoConfidentVoter = false
		}
		switch v.Support {
		case models.SupportStrong, models.SupportFavor:
			t.Supporting = append(t.Supporting, v.AgentID)
		case models.SupportOppose, models.SupportStrongOpp:
			t.Dissenting = append(t.Dissenting, models.DissentingView{
				AgentID:   v.AgentID,
				Support:   v.Support,
				Reasoning: v.Reasoning,
			})
		}
	}

	if weightSum > 0 {
		t.WeightedAgreement = agreeSum / weightSum
	}
	t.Level = LevelFor(t.WeightedAgreement)
	return t
}

// ReportInput is everything the synthesis step consumes.
type ReportInput struct {
	RunID            string
	DocumentID       string
	Findings         map[string]models.Finding // by finding ID
	Tallies          []Tally
	Disputes         []models.DisputedTopic
	Timelines        []*models.DebateTimeline
	Absences         []models.Absence
	Partial          bool
	InterruptedStage models.RunState
	Provenance       []string
	TokensSpent      int
}

// Report synthesizes the terminal consensus report. It never fails: thin
// input produces a thin report, not an error.
func (e *Engine) Report(in ReportInput) *models.ConsensusReport {
	rep := &models.ConsensusReport{
		RunID:            in.RunID,
		DocumentID:       in.DocumentID,
		GeneratedAt:      time.Now(),
		Absences:         in.Absences,
		Partial:          in.Partial,
		InterruptedStage: in.InterruptedStage,
		Provenance:       in.Provenance,
		TokensSpent:      in.TokensSpent,
	}

	for _, t := range in.Tallies {
		if t.NoConfidentVoter && len(t.Voters) > 0 {
			rep.Uncertainties = append(rep.Uncertainties, models.Uncertainty{
				Topic:  t.Proposal.Statement,
				Reason: "no voter cleared its own confidence threshold",
				Agents: t.Voters,
			})
		}
		if t.WeightedAgreement < e.threshold {
			continue
		}
		f, ok := in.Findings[t.Proposal.FindingID]
		if !ok {
			// Debate-outcome proposals carry no finding; synthesize one from
			// the proposal so the report stays self-contained.
			f = models.Finding{
				ID:        t.Proposal.ID,
				RunID:     in.RunID,
				Category:  string(t.Proposal.Domain),
				Statement: t.Proposal.Statement,
			}
		}
		rep.Agreed = append(rep.Agreed, models.AgreedFinding{
			Finding:           f,
			Level:             t.Level,
			WeightedAgreement: t.WeightedAgreement,
			Supporting:        t.Supporting,
			Dissenting:        t.Dissenting,
		})
	}

	// Strongest backing first; ties break on finding ID for stable output.
	sort.SliceStable(rep.Agreed, func(i, j int) bool {
		if rep.Agreed[i].WeightedAgreement != rep.Agreed[j].WeightedAgreement {
			return rep.Agreed[i].WeightedAgreement > rep.Agreed[j].WeightedAgreement
		}
		return rep.Agreed[i].Finding.ID < rep.Agreed[j].Finding.ID
	})

	kinds := make(map[string]models.DisputeKind, len(in.Disputes))
	for _, d := range in.Disputes {
		kinds[d.Metric] = d.Kind
	}
	for _, tl := range in.Timelines {
		if tl.Outcome == models.DebateResolved {
			continue
		}
		rep.Disputes = append(rep.Disputes, models.UnresolvedDispute{
			Topic:         tl.Topic,
			Kind:          kinds[tl.Topic],
			Outcome:       tl.Outcome,
			Sides:         tl.Final,
			Determination: tl.Determination,
			Rounds:        len(tl.Rounds),
		})
	}

	rep.Recommendation = e.recommend(rep)
	return rep
}

// recommend anchors the primary recommendation on the best-backed agreed
// finding and folds dissent, open disputes and partiality into caveats.
func (e *Engine) recommend(rep *models.ConsensusReport) models.Recommendation {
	var caveats []string
	for _, d := range rep.Disputes {
		caveats = append(caveats, fmt.Sprintf("dispute on %q ended in %s", d.Topic, d.Outcome))
	}
	for _, u := range rep.Uncertainties {
		caveats = append(caveats, fmt.Sprintf("low confidence on %q", u.Topic))
	}
	if rep.Partial {
		caveats = append(caveats, fmt.Sprintf("partial run: interrupted during %s", rep.InterruptedStage))
	}

	if len(rep.Agreed) == 0 {
		return models.Recommendation{
			Summary: "No finding cleared the agreement threshold; the swarm could not issue a recommendation.",
			Level:   models.ConsensusMinority,
			Caveats: caveats,
		}
	}

	anchor := rep.Agreed[0]
	for _, dv := range anchor.Dissenting {
		caveats = append(caveats, fmt.Sprintf("%s dissents: %s", dv.AgentID, dv.Reasoning))
	}
	return models.Recommendation{
		Summary:           anchor.Finding.Statement,
		Level:             anchor.Level,
		WeightedAgreement: anchor.WeightedAgreement,
		Caveats:           caveats,
	}
}
