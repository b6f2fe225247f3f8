package coordinator

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/praxislabs/concord/internal/agents"
	"github.com/praxislabs/concord/internal/budget"
	"github.com/praxislabs/concord/internal/config"
	"github.com/praxislabs/concord/internal/consensus"
	"github.com/praxislabs/concord/internal/debate"
	"github.com/praxislabs/concord/internal/metrics"
	"github.com/praxislabs/concord/internal/models"
	"github.com/praxislabs/concord/internal/strategy"
	"github.com/praxislabs/concord/internal/streaming"
	"github.com/praxislabs/concord/internal/tracing"
)

// pipeline carries one run's accumulating state between stages. cfg is the
// configuration snapshot taken when the run started; hot reloads never touch
// an in-flight run.
type pipeline struct {
	cfg       *config.Config
	doc       *models.Document
	budget    *budget.Budget
	outcomes  []strategy.Outcome
	analyses  []*models.AgentAnalysis
	critiques []models.Critique
	disputes  []models.DisputedTopic
	timelines []*models.DebateTimeline
	proposals []models.Proposal
	votes     []models.Vote
}

// execute drives one run to a terminal state. Every exit path publishes a
// terminal event last and persists the final status.
func (c *Coordinator) execute(ctx context.Context, r *run, runID string, req Request, reg *agents.Registry, roster []agents.Agent) {
	log := c.logger.With(zap.String("run_id", runID))
	metrics.RunsStarted.WithLabelValues(r.status.Strategy).Inc()

	c.publish(runID, streaming.Event{
		Type:    streaming.TypeRunStarted,
		Message: req.Title,
		Payload: map[string]interface{}{"strategy": r.status.Strategy},
	})

	cfg := c.config()
	p := &pipeline{
		cfg: cfg,
		budget: budget.New(budget.Limits{
			MaxTokens:      cfg.Budget.MaxTokens,
			MaxCostUSD:     cfg.Budget.MaxCostUSD,
			MaxConcurrency: cfg.Budget.MaxConcurrency,
			RatePerMinute:  cfg.Budget.RatePerMinute,
			CostPer1K:      cfg.Budget.CostPer1K,
		}, log),
	}
	rc := agents.RunContext{
		RunID:  runID,
		Budget: p.budget,
		Sink: func(agentID, thought string) {
			c.publish(runID, streaming.Event{
				Type:    streaming.TypeAgentThought,
				AgentID: agentID,
				Message: thought,
			})
		},
	}

	// The global deadline covers everything that calls the backend.
	// Synthesis runs afterward regardless, on whatever survived.
	timeout := cfg.Pipeline.GlobalTimeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	stages := []struct {
		state models.RunState
		fn    func(context.Context, *pipeline, agents.RunContext, *agents.Registry, []agents.Agent, string) error
	}{
		{models.RunIngesting, func(_ context.Context, p *pipeline, _ agents.RunContext, _ *agents.Registry, _ []agents.Agent, _ string) error {
			doc, err := ingestDocument(req)
			if err != nil {
				return err
			}
			p.doc = doc
			r.mu.Lock()
			r.status.DocumentID = doc.ID
			r.mu.Unlock()
			return nil
		}},
		{models.RunAnalyzing, c.analyze},
		{models.RunCrossReviewing, c.crossReview},
		{models.RunDebating, c.debate},
		{models.RunVoting, c.vote},
	}

	partial := false
	var interrupted models.RunState
	for _, st := range stages {
		if runCtx.Err() != nil {
			partial, interrupted = true, st.state
			log.Warn("Pipeline interrupted before stage",
				zap.String("stage", string(st.state)), zap.Error(runCtx.Err()))
			break
		}
		c.setState(r, runID, st.state)
		sctx, span := tracing.StartStageSpan(runCtx, runID, string(st.state))
		begin := time.Now()
		err := st.fn(sctx, p, rc, reg, roster, runID)
		metrics.StageDuration.WithLabelValues(string(st.state)).Observe(time.Since(begin).Seconds())
		span.End()

		if err != nil {
			if runCtx.Err() != nil {
				// Timeout or cancellation mid-stage degrades, never fails.
				partial, interrupted = true, st.state
				log.Warn("Stage interrupted, synthesizing partial report",
					zap.String("stage", string(st.state)), zap.Error(runCtx.Err()))
				break
			}
			c.fail(r, runID, st.state, err)
			return
		}
	}

	// Zero usable analyses is the one condition a partial report cannot
	// paper over.
	if strategy.Usable(p.outcomes) == 0 {
		c.fail(r, runID, models.RunAnalyzing, &PipelineFatalError{
			RunID: runID,
			Stage: string(models.RunAnalyzing),
			Err:   fmt.Errorf("no usable analyses: all %d agents absent", len(p.outcomes)),
		})
		return
	}

	c.setState(r, runID, models.RunSynthesizing)
	report := c.synthesize(p, r, runID, partial, interrupted, reg, roster)

	r.mu.Lock()
	r.report = report
	r.status.State = models.RunComplete
	r.status.Partial = partial
	r.status.InterruptedStage = interrupted
	r.status.TokensSpent = report.TokensSpent
	r.status.UpdatedAt = time.Now()
	status := r.status
	r.mu.Unlock()

	c.persist(&status, report)
	metrics.RunsCompleted.WithLabelValues(status.Strategy, string(models.RunComplete)).Inc()

	evtType := streaming.TypeRunCompleted
	if partial {
		evtType = streaming.TypeRunPartial
	}
	c.publish(runID, streaming.Event{
		Type: evtType,
		Payload: map[string]interface{}{
			"partial":      partial,
			"agreed":       len(report.Agreed),
			"disputes":     len(report.Disputes),
			"tokens_spent": report.TokensSpent,
		},
	})
	log.Info("Run complete",
		zap.Bool("partial", partial),
		zap.Int("agreed_findings", len(report.Agreed)),
		zap.Int("unresolved_disputes", len(report.Disputes)),
	)
}

func (c *Coordinator) analyze(ctx context.Context, p *pipeline, rc agents.RunContext, _ *agents.Registry, roster []agents.Agent, runID string) error {
	strat, err := strategy.FromName(statusStrategy(c, runID))
	if err != nil {
		return err
	}

	ec := strategy.ExecContext{
		Doc:     p.doc,
		Budget:  p.budget,
		Run:     rc,
		Timeout: p.cfg.Pipeline.GlobalTimeout,
		Logger:  c.logger,
		Events: strategy.Events{
			Started: func(agentID string) {
				c.publish(runID, streaming.Event{Type: streaming.TypeAgentStarted, AgentID: agentID})
			},
			Completed: func(a *models.AgentAnalysis) {
				c.publish(runID, streaming.Event{
					Type:    streaming.TypeAgentCompleted,
					AgentID: a.AgentID,
					Payload: map[string]interface{}{
						"findings":   len(a.Findings),
						"confidence": a.Confidence,
					},
				})
				for _, f := range a.Findings {
					c.publish(runID, streaming.Event{
						Type:    streaming.TypeFinding,
						AgentID: a.AgentID,
						Topic:   f.Category,
						Message: f.Statement,
						Payload: map[string]interface{}{
							"finding_id": f.ID,
							"magnitude":  string(f.Magnitude),
							"confidence": f.Confidence,
						},
					})
				}
			},
			Failed: func(abs models.Absence) {
				c.recordAbsence(runID, abs)
				c.publish(runID, streaming.Event{
					Type:    streaming.TypeAgentFailed,
					AgentID: abs.AgentID,
					Message: string(abs.Reason),
				})
			},
		},
	}

	p.outcomes = strat.Execute(ctx, roster, ec)
	p.analyses = strategy.Analyses(p.outcomes)
	return nil
}

// crossReview has every contributing analyst review every other analysis,
// sequentially. Review failures cost the reviewer's critiques, nothing more.
func (c *Coordinator) crossReview(ctx context.Context, p *pipeline, rc agents.RunContext, reg *agents.Registry, _ []agents.Agent, runID string) error {
	for _, analysis := range p.analyses {
		for _, other := range p.analyses {
			if other.AgentID == analysis.AgentID {
				continue
			}
			reviewer, ok := reg.Get(other.AgentID)
			if !ok {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			crits, err := reviewer.Critique(ctx, analysis, rc)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				c.logger.Warn("Cross-review critique failed",
					zap.String("run_id", runID),
					zap.String("reviewer", other.AgentID),
					zap.String("target", analysis.AgentID),
					zap.Error(err),
				)
				continue
			}
			p.critiques = append(p.critiques, crits...)
		}
	}
	return nil
}

func (c *Coordinator) debate(ctx context.Context, p *pipeline, rc agents.RunContext, reg *agents.Registry, _ []agents.Agent, runID string) error {
	p.disputes = debate.DetectDisputes(p.analyses, p.critiques)
	if len(p.disputes) == 0 {
		return nil // nothing contested, the stage is a no-op
	}

	eng := debate.NewEngine(debate.Config{
		MaxRounds:         p.cfg.Pipeline.Debate.MaxRounds,
		ResolveThreshold:  p.cfg.Pipeline.Debate.ResolveThreshold,
		EscalateThreshold: p.cfg.Pipeline.Debate.EscalateBelow,
		StallRounds:       p.cfg.Pipeline.Debate.StallRounds,
		Timeout:           p.cfg.Pipeline.Debate.Timeout,
	}, reg, debate.Events{
		Opened: func(t models.DisputedTopic) {
			c.publish(runID, streaming.Event{
				Type:    streaming.TypeDebateOpened,
				Topic:   t.Metric,
				Message: t.Description,
				Payload: map[string]interface{}{"kind": string(t.Kind), "participants": t.Participants},
			})
		},
		Round: func(topic string, n int) {
			c.publish(runID, streaming.Event{
				Type:    streaming.TypeDebateRound,
				Topic:   topic,
				Payload: map[string]interface{}{"round": n},
			})
		},
		Critique: func(cr models.Critique) {
			c.publish(runID, streaming.Event{
				Type:    streaming.TypeDebateCritique,
				AgentID: cr.FromAgent,
				Topic:   cr.Topic,
				Message: cr.Content,
			})
		},
		Rebuttal: func(rb models.Rebuttal) {
			c.publish(runID, streaming.Event{
				Type:    streaming.TypeDebateRebuttal,
				AgentID: rb.FromAgent,
				Message: rb.Content,
			})
		},
		Convergence: func(topic string, n int, score float64) {
			c.publish(runID, streaming.Event{
				Type:    streaming.TypeDebateConvergence,
				Topic:   topic,
				Payload: map[string]interface{}{"round": n, "score": score},
			})
		},
		Closed: func(tl *models.DebateTimeline) {
			c.publish(runID, streaming.Event{
				Type:    streaming.TypeDebateClosed,
				Topic:   tl.Topic,
				Message: string(tl.Outcome),
				Payload: map[string]interface{}{"rounds": len(tl.Rounds), "reason": tl.Reason},
			})
		},
	}, c.logger)

	for _, topic := range p.disputes {
		tl, err := eng.Run(ctx, topic, rc)
		if tl != nil {
			p.timelines = append(p.timelines, tl)
		}
		if err != nil {
			return err // run cancelled mid-debate
		}
	}
	return nil
}

func (c *Coordinator) vote(ctx context.Context, p *pipeline, rc agents.RunContext, reg *agents.Registry, roster []agents.Agent, runID string) error {
	p.proposals = buildProposals(p)
	if len(p.proposals) == 0 {
		return nil
	}

	contributed := make(map[string]bool, len(p.analyses))
	for _, a := range p.analyses {
		contributed[a.AgentID] = true
	}

	for _, a := range roster {
		if !a.CanVote() || !contributed[a.ID()] {
			continue
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		votes, err := a.Vote(ctx, p.proposals, rc)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Warn("Agent failed to vote",
				zap.String("run_id", runID),
				zap.String("agent_id", a.ID()),
				zap.Error(err),
			)
			c.recordAbsence(runID, models.Absence{
				AgentID: a.ID(),
				Stage:   models.RunVoting,
				Reason:  models.AbsenceBackendError,
				Detail:  err.Error(),
			})
			continue
		}
		p.votes = append(p.votes, votes...)
		for _, v := range votes {
			c.publish(runID, streaming.Event{
				Type:    streaming.TypeVoteCast,
				AgentID: v.AgentID,
				Payload: map[string]interface{}{
					"proposal_id": v.ProposalID,
					"support":     string(v.Support),
					"confidence":  v.Confidence,
				},
			})
		}
	}
	return nil
}

// buildProposals puts every emitted finding plus every closed debate outcome
// to the vote.
func buildProposals(p *pipeline) []models.Proposal {
	var out []models.Proposal
	for _, a := range p.analyses {
		for _, f := range a.Findings {
			out = append(out, models.Proposal{
				ID:        f.ID,
				Domain:    a.Specialization,
				Statement: f.Statement,
				FindingID: f.ID,
			})
		}
	}
	for _, tl := range p.timelines {
		stmt := debateStatement(tl)
		if stmt == "" {
			continue
		}
		out = append(out, models.Proposal{
			ID:        "debate:" + tl.Topic,
			Domain:    domainOf(p.disputes, tl.Topic),
			Statement: stmt,
			Topic:     tl.Topic,
		})
	}
	return out
}

func debateStatement(tl *models.DebateTimeline) string {
	switch tl.Outcome {
	case models.DebateArbitrated:
		return tl.Determination.Ruling
	case models.DebateResolved:
		if len(tl.Final) == 0 {
			return ""
		}
		// Converged positions share a stance; any participant's argument
		// states it.
		return tl.Final[0].Argument
	}
	return "" // stalemates go to the report as unresolved, not to the vote
}

func domainOf(disputes []models.DisputedTopic, topic string) models.Specialization {
	for _, d := range disputes {
		if d.Metric == topic {
			return d.Domain
		}
	}
	return ""
}

func (c *Coordinator) synthesize(p *pipeline, r *run, runID string, partial bool, interrupted models.RunState, _ *agents.Registry, roster []agents.Agent) *models.ConsensusReport {
	eng := consensus.NewEngine(p.cfg.Pipeline.AgreementThreshold, c.logger)

	voters := make(map[string]consensus.Voter, len(roster))
	for _, a := range roster {
		voters[a.ID()] = a
	}
	tallies := eng.Aggregate(p.proposals, p.votes, voters)

	findings := make(map[string]models.Finding)
	provenance := make([]string, 0, len(p.analyses))
	for _, a := range p.analyses {
		provenance = append(provenance, a.AgentID)
		for _, f := range a.Findings {
			findings[f.ID] = f
		}
	}

	r.mu.Lock()
	absences := append([]models.Absence(nil), r.status.Absences...)
	r.mu.Unlock()

	var docID string
	if p.doc != nil {
		docID = p.doc.ID
	}
	return eng.Report(consensus.ReportInput{
		RunID:            runID,
		DocumentID:       docID,
		Findings:         findings,
		Tallies:          tallies,
		Disputes:         p.disputes,
		Timelines:        p.timelines,
		Absences:         absences,
		Partial:          partial,
		InterruptedStage: interrupted,
		Provenance:       provenance,
		TokensSpent:      p.budget.Snapshot().UsedTokens,
	})
}

// fail ends the run in ERROR. The run.error event is published last.
func (c *Coordinator) fail(r *run, runID string, stage models.RunState, err error) {
	c.logger.Error("Run failed",
		zap.String("run_id", runID),
		zap.String("stage", string(stage)),
		zap.Error(err),
	)
	r.mu.Lock()
	r.status.State = models.RunError
	r.status.Error = err.Error()
	r.status.UpdatedAt = time.Now()
	status := r.status
	r.mu.Unlock()

	c.persist(&status, nil)
	metrics.RunsCompleted.WithLabelValues(status.Strategy, string(models.RunError)).Inc()
	c.publish(runID, streaming.Event{
		Type:    streaming.TypeRunError,
		Message: err.Error(),
		Payload: map[string]interface{}{"stage": string(stage)},
	})
}

func (c *Coordinator) setState(r *run, runID string, state models.RunState) {
	r.mu.Lock()
	from := r.status.State
	r.status.State = state
	r.status.UpdatedAt = time.Now()
	status := r.status
	r.mu.Unlock()

	c.persist(&status, nil)
	c.publish(runID, streaming.Event{
		Type:    streaming.TypeStageChanged,
		Message: string(state),
		Payload: map[string]interface{}{"from": string(from), "to": string(state)},
	})
}

func (c *Coordinator) recordAbsence(runID string, abs models.Absence) {
	if r, ok := c.get(runID); ok {
		r.mu.Lock()
		r.status.Absences = append(r.status.Absences, abs)
		r.mu.Unlock()
	}
}

func (c *Coordinator) publish(runID string, evt streaming.Event) {
	if c.streams != nil {
		c.streams.Publish(runID, evt)
	}
}

func (c *Coordinator) persist(status *models.RunStatus, report *models.ConsensusReport) {
	if c.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.store.SaveRun(ctx, status); err != nil {
		c.logger.Warn("Failed to persist run status", zap.Error(err))
	}
	if report != nil {
		if err := c.store.SaveReport(ctx, report); err != nil {
			c.logger.Warn("Failed to persist report", zap.Error(err))
		}
	}
}

// statusStrategy reads the strategy name recorded at Start.
func statusStrategy(c *Coordinator, runID string) string {
	if r, ok := c.get(runID); ok {
		r.mu.Lock()
		defer r.mu.Unlock()
		return r.status.Strategy
	}
	return "parallel"
}
