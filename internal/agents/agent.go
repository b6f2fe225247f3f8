// Package agents implements the agent runtime: a closed set of specialist
// analyzers behind one capability interface. All specialists share the same
// implementation parameterized by specialization; the arbitration judge is
// the same type with voting disabled and arbitration enabled.
package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/praxislabs/concord/internal/budget"
	"github.com/praxislabs/concord/internal/llm"
	"github.com/praxislabs/concord/internal/metrics"
	"github.com/praxislabs/concord/internal/models"
)

// ThoughtSink receives streaming "thought" events an agent emits before its
// blocking backend call returns. An explicit sink parameter, never a
// generator: nil means the caller wants no thoughts.
type ThoughtSink func(agentID, thought string)

// RunContext carries per-run collaboration state into agent calls. Agents
// never mutate shared state; everything here is read-only to them except the
// budget, which is internally synchronized.
type RunContext struct {
	RunID  string
	Budget *budget.Budget
	Sink   ThoughtSink
	// Prior holds earlier-stage analyses for staged/priority strategies.
	Prior []*models.AgentAnalysis
}

func (rc RunContext) emit(agentID, thought string) {
	if rc.Sink != nil {
		rc.Sink(agentID, thought)
	}
}

// Agent is the uniform contract every specialist implements.
type Agent interface {
	ID() string
	Specialization() models.Specialization
	ConfidenceThreshold() float64
	HistoricalAccuracy() float64
	Concepts() []string
	Priority() int
	Stage() int
	// CanVote is false only for the arbitration judge.
	CanVote() bool
	// CanArbitrate is true only for the arbitration judge.
	CanArbitrate() bool

	Analyze(ctx context.Context, doc *models.Document, rc RunContext) (*models.AgentAnalysis, error)
	Critique(ctx context.Context, analysis *models.AgentAnalysis, rc RunContext) ([]models.Critique, error)
	CritiquePosition(ctx context.Context, topic string, own, rival models.Position, rc RunContext) (*models.Critique, error)
	Rebut(ctx context.Context, critique models.Critique, own models.Position, rc RunContext) (*models.Rebuttal, error)
	Vote(ctx context.Context, proposals []models.Proposal, rc RunContext) ([]models.Vote, error)
	Arbitrate(ctx context.Context, timeline *models.DebateTimeline, rc RunContext) (*models.Determination, error)
}

// Token estimates per operation, used for budget reservations ahead of the
// real spend reported by the backend.
const (
	estAnalyze     = 2000
	estCritique    = 800
	estRebuttal    = 600
	estVote        = 400
	estArbitration = 1500
)

// Profile describes one rostered agent.
type Profile struct {
	ID                  string
	Specialization      models.Specialization
	Priority            int
	Stage               int
	ConfidenceThreshold float64
	HistoricalAccuracy  float64
	Concepts            []string
}

type specialist struct {
	profile Profile
	timeout time.Duration
	client  llm.Client
	logger  *zap.Logger
}

// New creates an agent from a profile. timeout bounds every individual
// backend call; it defaults to 60s.
func New(profile Profile, client llm.Client, timeout time.Duration, logger *zap.Logger) Agent {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	if profile.HistoricalAccuracy <= 0 {
		profile.HistoricalAccuracy = 0.5
	}
	return &specialist{
		profile: profile,
		timeout: timeout,
		client:  client,
		logger:  logger.With(zap.String("agent_id", profile.ID)),
	}
}

func (s *specialist) ID() string                             { return s.profile.ID }
func (s *specialist) Specialization() models.Specialization  { return s.profile.Specialization }
func (s *specialist) ConfidenceThreshold() float64           { return s.profile.ConfidenceThreshold }
func (s *specialist) HistoricalAccuracy() float64            { return s.profile.HistoricalAccuracy }
func (s *specialist) Concepts() []string                     { return s.profile.Concepts }
func (s *specialist) Priority() int                          { return s.profile.Priority }
func (s *specialist) Stage() int                             { return s.profile.Stage }
func (s *specialist) CanVote() bool                          { return s.profile.Specialization != models.SpecJudge }
func (s *specialist) CanArbitrate() bool                     { return s.profile.Specialization == models.SpecJudge }

// complete reserves budget, waits for the rate limiter and performs the
// single blocking backend call.
func (s *specialist) complete(ctx context.Context, op string, est int, rc RunContext, req llm.Request) (*llm.Completion, error) {
	var res *budget.Reservation
	if rc.Budget != nil {
		var err error
		res, err = rc.Budget.Reserve(est)
		if err != nil {
			return nil, err
		}
		if err := rc.Budget.WaitRate(ctx); err != nil {
			res.Cancel()
			return nil, &llm.TransientError{Op: op, Err: err}
		}
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	metrics.AgentCalls.WithLabelValues(s.profile.ID, op).Inc()
	comp, err := s.client.Complete(ctx, req)
	metrics.AgentCallDuration.WithLabelValues(s.profile.ID, op).Observe(time.Since(start).Seconds())
	if err != nil {
		res.Cancel()
		return nil, err
	}
	res.Commit(comp.TokensUsed)
	return comp, nil
}

func (s *specialist) Analyze(ctx context.Context, doc *models.Document, rc RunContext) (*models.AgentAnalysis, error) {
	rc.emit(s.profile.ID, fmt.Sprintf("analyzing %q through a %s lens", doc.Title, s.profile.Specialization))

	req := llm.Request{
		Role:           roleFor(s.profile.Specialization),
		Specialization: string(s.profile.Specialization),
		Instructions:   analyzeInstructions(s.profile.Specialization),
		Document:       excerpt(doc.Text, maxExcerpt),
		Context:        priorContext(rc.Prior),
		Schema:         llm.SchemaAnalysis,
		MaxTokens:      estAnalyze,
	}

	start := time.Now()
	comp, err := s.complete(ctx, "analyze", estAnalyze, rc, req)
	if err != nil {
		return nil, err
	}

	p := comp.Analysis
	analysis := &models.AgentAnalysis{
		RunID:          rc.RunID,
		AgentID:        s.profile.ID,
		Specialization: s.profile.Specialization,
		Assumptions:    p.Assumptions,
		Confidence:     p.Confidence,
		Uncertainties:  p.Uncertainties,
		Evidence:       p.Evidence,
		TokensUsed:     comp.TokensUsed,
		Duration:       time.Since(start),
	}
	for _, fp := range p.Findings {
		analysis.Findings = append(analysis.Findings, models.Finding{
			ID:              uuid.New().String(),
			RunID:           rc.RunID,
			AgentID:         s.profile.ID,
			Category:        fp.Category,
			Statement:       fp.Statement,
			Magnitude:       fp.Magnitude,
			Confidence:      fp.Confidence,
			Horizon:         fp.Horizon,
			Populations:     fp.Populations,
			FiscalImpactUSD: fp.FiscalImpactUSD,
			Evidence:        fp.Evidence,
		})
	}
	return analysis, nil
}

func (s *specialist) Critique(ctx context.Context, analysis *models.AgentAnalysis, rc RunContext) ([]models.Critique, error) {
	if analysis.AgentID == s.profile.ID {
		return nil, nil // agents do not critique themselves
	}
	rc.emit(s.profile.ID, fmt.Sprintf("reviewing %s's analysis", analysis.AgentID))

	req := llm.Request{
		Role:           roleFor(s.profile.Specialization),
		Specialization: string(s.profile.Specialization),
		Instructions:   critiqueInstructions(analysis.AgentID),
		Context:        analysisContext(analysis),
		Schema:         llm.SchemaCritiques,
		MaxTokens:      estCritique,
	}

	comp, err := s.complete(ctx, "critique", estCritique, rc, req)
	if err != nil {
		return nil, err
	}

	out := make([]models.Critique, 0, len(comp.Critiques))
	for _, cp := range comp.Critiques {
		out = append(out, models.Critique{
			ID:                uuid.New().String(),
			RunID:             rc.RunID,
			FromAgent:         s.profile.ID,
			ToAgent:           analysis.AgentID,
			Topic:             cp.Topic,
			TargetFindingID:   cp.TargetFindingID,
			Type:              cp.Type,
			Severity:          cp.Severity,
			Content:           cp.Content,
			SuggestedRevision: cp.SuggestedRevision,
		})
	}
	return out, nil
}

func (s *specialist) CritiquePosition(ctx context.Context, topic string, own, rival models.Position, rc RunContext) (*models.Critique, error) {
	rc.emit(s.profile.ID, fmt.Sprintf("challenging %s on %s", rival.AgentID, topic))

	req := llm.Request{
		Role:           roleFor(s.profile.Specialization),
		Specialization: string(s.profile.Specialization),
		Instructions:   debateCritiqueInstructions(topic),
		Context:        positionContext(own, rival),
		Schema:         llm.SchemaCritiques,
		MaxTokens:      estCritique,
	}

	comp, err := s.complete(ctx, "critique_position", estCritique, rc, req)
	if err != nil {
		return nil, err
	}
	if len(comp.Critiques) == 0 {
		return nil, nil
	}

	cp := comp.Critiques[0]
	return &models.Critique{
		ID:                uuid.New().String(),
		RunID:             rc.RunID,
		FromAgent:         s.profile.ID,
		ToAgent:           rival.AgentID,
		Topic:             topic,
		Type:              cp.Type,
		Severity:          cp.Severity,
		Content:           cp.Content,
		SuggestedRevision: cp.SuggestedRevision,
	}, nil
}

func (s *specialist) Rebut(ctx context.Context, critique models.Critique, own models.Position, rc RunContext) (*models.Rebuttal, error) {
	rc.emit(s.profile.ID, fmt.Sprintf("rebutting %s critique from %s", critique.Type, critique.FromAgent))

	req := llm.Request{
		Role:           roleFor(s.profile.Specialization),
		Specialization: string(s.profile.Specialization),
		Instructions:   rebuttalInstructions(critique),
		Context:        rebuttalContext(critique, own),
		Schema:         llm.SchemaRebuttal,
		MaxTokens:      estRebuttal,
	}

	comp, err := s.complete(ctx, "rebut", estRebuttal, rc, req)
	if err != nil {
		return nil, err
	}

	reb := &models.Rebuttal{
		CritiqueID: critique.ID,
		FromAgent:  s.profile.ID,
		Content:    comp.Rebuttal.Content,
	}
	if up := comp.Rebuttal.UpdatedPosition; up != nil {
		reb.UpdatedPosition = &models.Position{
			AgentID:    s.profile.ID,
			Topic:      own.Topic,
			Value:      up.Value,
			Low:        up.Low,
			High:       up.High,
			Confidence: up.Confidence,
			Argument:   up.Argument,
			UpdatedAt:  time.Now(),
		}
	}
	return reb, nil
}

func (s *specialist) Vote(ctx context.Context, proposals []models.Proposal, rc RunContext) ([]models.Vote, error) {
	if !s.CanVote() {
		return nil, fmt.Errorf("agent %s cannot vote", s.profile.ID)
	}
	if len(proposals) == 0 {
		return nil, nil
	}
	rc.emit(s.profile.ID, fmt.Sprintf("voting on %d proposals", len(proposals)))

	req := llm.Request{
		Role:           roleFor(s.profile.Specialization),
		Specialization: string(s.profile.Specialization),
		Instructions:   voteInstructions(len(proposals)),
		Context:        proposalContext(proposals),
		Schema:         llm.SchemaVotes,
		MaxTokens:      estVote,
	}

	comp, err := s.complete(ctx, "vote", estVote, rc, req)
	if err != nil {
		return nil, err
	}

	// Exactly one vote per proposal, keyed by proposal ID.
	byProposal := make(map[string]llm.VotePayload, len(comp.Votes))
	for _, vp := range comp.Votes {
		byProposal[vp.ProposalID] = vp
	}
	out := make([]models.Vote, 0, len(proposals))
	for _, prop := range proposals {
		vp, ok := byProposal[prop.ID]
		if !ok {
			return nil, &llm.SchemaError{
				Reason: fmt.Sprintf("vote missing for proposal %s", prop.ID),
			}
		}
		out = append(out, models.Vote{
			AgentID:    s.profile.ID,
			RunID:      rc.RunID,
			ProposalID: prop.ID,
			Support:    vp.Support,
			Confidence: vp.Confidence,
			Reasoning:  vp.Reasoning,
			Conditions: vp.Conditions,
		})
	}
	return out, nil
}

func (s *specialist) Arbitrate(ctx context.Context, timeline *models.DebateTimeline, rc RunContext) (*models.Determination, error) {
	if !s.CanArbitrate() {
		return nil, fmt.Errorf("agent %s cannot arbitrate", s.profile.ID)
	}
	rc.emit(s.profile.ID, fmt.Sprintf("arbitrating stalled debate on %s", timeline.Topic))

	tl, err := json.Marshal(timeline)
	if err != nil {
		return nil, fmt.Errorf("marshal timeline: %w", err)
	}

	req := llm.Request{
		Role:           roleFor(models.SpecJudge),
		Specialization: string(models.SpecJudge),
		Instructions:   arbitrationInstructions(timeline.Topic),
		Context:        []string{string(tl)},
		Schema:         llm.SchemaArbitration,
		MaxTokens:      estArbitration,
	}

	comp, err := s.complete(ctx, "arbitrate", estArbitration, rc, req)
	if err != nil {
		return nil, err
	}

	return &models.Determination{
		JudgeID:    s.profile.ID,
		Topic:      timeline.Topic,
		Ruling:     comp.Arbitration.Ruling,
		Value:      comp.Arbitration.Value,
		Confidence: comp.Arbitration.Confidence,
		Rationale:  comp.Arbitration.Rationale,
	}, nil
}
