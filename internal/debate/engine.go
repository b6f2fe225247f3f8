// Package debate runs structured argumentation over disputed topics. A
// debate is a bounded state machine: opened on a detected dispute, it cycles
// critique exchange and convergence checks until the positions converge, the
// participants stall, or the round cap forces escalation to arbitration.
package debate

import (
	"context"
	"errors"
	"hash/fnv"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/praxislabs/concord/internal/agents"
	"github.com/praxislabs/concord/internal/metrics"
	"github.com/praxislabs/concord/internal/models"
)

// Config bounds a debate. Zero values take the defaults.
type Config struct {
	MaxRounds         int           // hard round cap (default 5)
	ResolveThreshold  float64       // convergence at or above closes as resolved (default 0.8)
	EscalateThreshold float64       // convergence below this at the cap escalates (default 0.6)
	StallRounds       int           // consecutive no-change rounds before stalemate (default 2)
	Timeout           time.Duration // wall clock per topic (default 2m)
}

func (c Config) withDefaults() Config {
	if c.MaxRounds <= 0 {
		c.MaxRounds = 5
	}
	if c.ResolveThreshold <= 0 {
		c.ResolveThreshold = 0.8
	}
	if c.EscalateThreshold <= 0 {
		c.EscalateThreshold = 0.6
	}
	if c.StallRounds <= 0 {
		c.StallRounds = 2
	}
	if c.Timeout <= 0 {
		c.Timeout = 2 * time.Minute
	}
	return c
}

// Events lets the coordinator stream debate boundaries. All callbacks are
// optional.
type Events struct {
	Opened      func(topic models.DisputedTopic)
	Round       func(topic string, round int)
	Critique    func(c models.Critique)
	Rebuttal    func(r models.Rebuttal)
	Convergence func(topic string, round int, score float64)
	Closed      func(timeline *models.DebateTimeline)
}

func (e Events) opened(t models.DisputedTopic) {
	if e.Opened != nil {
		e.Opened(t)
	}
}
func (e Events) round(topic string, n int) {
	if e.Round != nil {
		e.Round(topic, n)
	}
}
func (e Events) critique(c models.Critique) {
	if e.Critique != nil {
		e.Critique(c)
	}
}
func (e Events) rebuttal(r models.Rebuttal) {
	if e.Rebuttal != nil {
		e.Rebuttal(r)
	}
}
func (e Events) convergence(topic string, n int, s float64) {
	if e.Convergence != nil {
		e.Convergence(topic, n, s)
	}
}
func (e Events) closed(tl *models.DebateTimeline) {
	if e.Closed != nil {
		e.Closed(tl)
	}
}

// Engine drives one run's debates. It holds no per-topic state; every Run
// call is independent.
type Engine struct {
	cfg    Config
	reg    *agents.Registry
	events Events
	logger *zap.Logger
}

func NewEngine(cfg Config, reg *agents.Registry, events Events, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{cfg: cfg.withDefaults(), reg: reg, events: events, logger: logger}
}

// Run debates one disputed topic to a terminal outcome. The returned timeline
// is always non-nil; an error is returned only when the run context itself is
// cancelled before any outcome could be reached.
func (e *Engine) Run(ctx context.Context, topic models.DisputedTopic, rc agents.RunContext) (*models.DebateTimeline, error) {
	metrics.DebatesOpened.WithLabelValues(string(topic.Kind)).Inc()
	e.events.opened(topic)

	log := e.logger.With(
		zap.String("run_id", rc.RunID),
		zap.String("topic", topic.Metric),
		zap.String("kind", string(topic.Kind)),
	)
	log.Info("Debate opened", zap.Strings("participants", topic.Participants))

	tl := &models.DebateTimeline{
		Topic:        topic.Metric,
		Trajectories: make(map[string][]models.Position),
	}
	current := make(map[string]models.Position, len(topic.Initial))
	for id, p := range topic.Initial {
		current[id] = p
		tl.Trajectories[id] = append(tl.Trajectories[id], p)
	}

	// The debate itself runs under its own wall clock; arbitration after a
	// debate timeout still uses the run context, so a cancelled run cancels
	// arbitration too.
	dctx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	mod := newModerator()
	stalled := 0

	for round := 1; round <= e.cfg.MaxRounds; round++ {
		e.events.round(topic.Metric, round)
		r, changed, err := e.playRound(dctx, round, topic, current, mod, rc)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
				log.Warn("Debate timed out, escalating to arbitration",
					zap.Int("round", round))
				return e.arbitrate(ctx, tl, rc, "debate wall clock expired")
			}
			return tl, err // run cancelled
		}
		tl.Rounds = append(tl.Rounds, *r)
		for _, p := range r.Updates {
			current[p.AgentID] = p
			tl.Trajectories[p.AgentID] = append(tl.Trajectories[p.AgentID], p)
		}

		e.events.convergence(topic.Metric, round, r.Convergence)
		log.Debug("Round closed",
			zap.Int("round", round),
			zap.Float64("convergence", r.Convergence),
			zap.Bool("positions_changed", changed),
		)

		if r.Convergence >= e.cfg.ResolveThreshold {
			return e.close(tl, current, models.DebateResolved, "positions converged"), nil
		}

		if changed {
			stalled = 0
		} else {
			stalled++
		}
		if stalled >= e.cfg.StallRounds {
			log.Info("Debate stalled, escalating to arbitration", zap.Int("round", round))
			return e.arbitrate(ctx, tl, rc, "positions unchanged for consecutive rounds")
		}
	}

	final := lastConvergence(tl)
	if final < e.cfg.EscalateThreshold {
		log.Info("Round cap reached without convergence, escalating to arbitration",
			zap.Float64("convergence", final))
		return e.arbitrate(ctx, tl, rc, "round cap reached below escalation threshold")
	}
	return e.close(tl, current, models.DebateStalemate, "round cap reached"), nil
}

// playRound runs one critique/rebuttal exchange. changed reports whether any
// participant moved their position.
func (e *Engine) playRound(ctx context.Context, number int, topic models.DisputedTopic, current map[string]models.Position, mod *moderator, rc agents.RunContext) (*models.DebateRound, bool, error) {
	r := &models.DebateRound{
		Number:       number,
		Topic:        topic.Metric,
		Participants: topic.Participants,
		Entering:     orderedPositions(topic.Participants, current),
		StartedAt:    time.Now(),
	}

	changed := false
	for _, id := range topic.Participants {
		if ctx.Err() != nil {
			return nil, false, ctx.Err()
		}
		agent, ok := e.reg.Get(id)
		if !ok {
			continue
		}
		own := current[id]
		rival, ok := mod.pickRival(id, topic.Participants, current)
		if !ok {
			continue
		}

		crit, err := agent.CritiquePosition(ctx, topic.Metric, own, current[rival], rc)
		if err != nil {
			if ctx.Err() != nil {
				return nil, false, ctx.Err()
			}
			e.logger.Warn("Critique failed, participant skips this round",
				zap.String("agent_id", id), zap.Error(err))
			continue
		}
		if crit == nil {
			continue // agent found nothing to attack
		}
		if !mod.admit(id, rival, crit.Content) {
			e.logger.Debug("Moderator suppressed repeated critique",
				zap.String("from", id), zap.String("to", rival))
			continue
		}
		r.Critiques = append(r.Critiques, *crit)
		e.events.critique(*crit)

		target, ok := e.reg.Get(rival)
		if !ok {
			continue
		}
		reb, err := target.Rebut(ctx, *crit, current[rival], rc)
		if err != nil {
			if ctx.Err() != nil {
				return nil, false, ctx.Err()
			}
			e.logger.Warn("Rebuttal failed, critique stands unanswered",
				zap.String("agent_id", rival), zap.Error(err))
			continue
		}
		r.Rebuttals = append(r.Rebuttals, *reb)
		e.events.rebuttal(*reb)

		if up := reb.UpdatedPosition; up != nil {
			up.Round = number
			if !current[rival].Equal(*up) {
				changed = true
			}
			r.Updates = append(r.Updates, *up)
			current[rival] = *up
		}
	}

	r.Convergence = Convergence(orderedPositions(topic.Participants, current))
	r.EndedAt = time.Now()
	return r, changed, nil
}

// arbitrate hands the timeline to the judge for a binding determination. A
// roster without a judge closes as a stalemate instead.
func (e *Engine) arbitrate(ctx context.Context, tl *models.DebateTimeline, rc agents.RunContext, reason string) (*models.DebateTimeline, error) {
	judge, ok := e.reg.Judge()
	if !ok {
		tl.Outcome = models.DebateStalemate
		tl.Reason = reason + "; no judge rostered"
		e.finish(tl)
		return tl, nil
	}

	det, err := judge.Arbitrate(ctx, tl, rc)
	if err != nil {
		if ctx.Err() != nil {
			return tl, ctx.Err()
		}
		e.logger.Warn("Arbitration failed, closing as stalemate", zap.Error(err))
		tl.Outcome = models.DebateStalemate
		tl.Reason = reason + "; arbitration failed"
		e.finish(tl)
		return tl, nil
	}

	tl.Outcome = models.DebateArbitrated
	tl.Determination = det
	tl.Reason = reason
	e.finish(tl)
	return tl, nil
}

func (e *Engine) close(tl *models.DebateTimeline, current map[string]models.Position, outcome models.DebateOutcome, reason string) *models.DebateTimeline {
	tl.Outcome = outcome
	tl.Reason = reason
	ids := make([]string, 0, len(current))
	for id := range current {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	tl.Final = orderedPositions(ids, current)
	e.finish(tl)
	return tl
}

func (e *Engine) finish(tl *models.DebateTimeline) {
	metrics.DebatesClosed.WithLabelValues(string(tl.Outcome)).Inc()
	metrics.DebateRounds.Observe(float64(len(tl.Rounds)))
	metrics.DebateConvergence.Observe(lastConvergence(tl))
	e.events.closed(tl)
}

func lastConvergence(tl *models.DebateTimeline) float64 {
	if len(tl.Rounds) == 0 {
		return 0
	}
	return tl.Rounds[len(tl.Rounds)-1].Convergence
}

func orderedPositions(ids []string, current map[string]models.Position) []models.Position {
	out := make([]models.Position, 0, len(ids))
	for _, id := range ids {
		if p, ok := current[id]; ok {
			out = append(out, p)
		}
	}
	return out
}

// moderator enforces the exchange rules: no agent attacks the same rival in
// consecutive rounds when another rival exists, and verbatim-repeated
// critiques are suppressed.
type moderator struct {
	lastRival map[string]string
	seen      map[uint64]struct{}
}

func newModerator() *moderator {
	return &moderator{
		lastRival: make(map[string]string),
		seen:      make(map[uint64]struct{}),
	}
}

// pickRival selects the rival whose position is farthest from the agent's,
// skipping last round's rival when a third participant exists.
func (m *moderator) pickRival(agentID string, participants []string, current map[string]models.Position) (string, bool) {
	own := current[agentID]
	best, bestGap := "", -1.0
	for _, id := range participants {
		if id == agentID {
			continue
		}
		if id == m.lastRival[agentID] && len(participants) > 2 {
			continue
		}
		gap := abs(current[id].Value - own.Value)
		if gap > bestGap {
			best, bestGap = id, gap
		}
	}
	if best == "" {
		return "", false
	}
	m.lastRival[agentID] = best
	return best, true
}

// admit records a critique and reports whether its content is new for this
// pairing.
func (m *moderator) admit(from, to, content string) bool {
	h := fnv.New64a()
	h.Write([]byte(from))
	h.Write([]byte{0})
	h.Write([]byte(to))
	h.Write([]byte{0})
	h.Write([]byte(content))
	key := h.Sum64()
	if _, dup := m.seen[key]; dup {
		return false
	}
	m.seen[key] = struct{}{}
	return true
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
