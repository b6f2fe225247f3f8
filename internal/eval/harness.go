package eval

import (
	"context"
	"fmt"
	"math"
	"sort"

	"go.uber.org/zap"

	"github.com/praxislabs/concord/internal/coordinator"
	"github.com/praxislabs/concord/internal/models"
)

// Runner is the slice of the coordinator the harness drives.
type Runner interface {
	Start(ctx context.Context, req coordinator.Request) (string, error)
	Wait(ctx context.Context, runID string) error
	Report(runID string) (*models.ConsensusReport, error)
}

// DocumentResult scores one corpus document.
type DocumentResult struct {
	DocumentID     string             `json:"document_id"`
	RunID          string             `json:"run_id"`
	Expected       int                `json:"expected"`
	Matched        int                `json:"matched"`
	DirectionHits  int                `json:"direction_hits"`
	MagnitudeHits  int                `json:"magnitude_hits"`
	Brier          float64            `json:"brier"`
	AgentCorrect   map[string]int     `json:"agent_correct"`
	AgentAttempted map[string]int     `json:"agent_attempted"`
	Err            string             `json:"error,omitempty"`
}

// Summary aggregates a whole evaluation pass.
type Summary struct {
	Documents           int                `json:"documents"`
	Failed              int                `json:"failed"`
	DirectionalAccuracy float64            `json:"directional_accuracy"`
	MagnitudeAccuracy   float64            `json:"magnitude_accuracy"`
	Calibration         float64            `json:"calibration"` // mean Brier score, lower is better
	AgentAccuracy       map[string]float64 `json:"agent_accuracy"`
	Results             []DocumentResult   `json:"results"`
}

// Harness runs the swarm across the corpus, scores every report against its
// labels and folds per-agent samples back into tracked accuracy.
type Harness struct {
	corpus   *Corpus
	runner   Runner
	strategy string
	logger   *zap.Logger
}

func NewHarness(corpus *Corpus, runner Runner, strategyName string, logger *zap.Logger) *Harness {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Harness{corpus: corpus, runner: runner, strategy: strategyName, logger: logger}
}

// Run evaluates the full corpus sequentially. A failed run scores zero for
// its document; it never aborts the pass.
func (h *Harness) Run(ctx context.Context) (*Summary, error) {
	docs, err := h.corpus.Documents(ctx)
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, fmt.Errorf("corpus is empty")
	}

	summary := &Summary{AgentAccuracy: make(map[string]float64)}
	agentHits := make(map[string]int)
	agentTries := make(map[string]int)

	for _, doc := range docs {
		res := h.evalOne(ctx, doc)
		summary.Results = append(summary.Results, res)
		summary.Documents++
		if res.Err != "" {
			summary.Failed++
			continue
		}
		for id, n := range res.AgentCorrect {
			agentHits[id] += n
		}
		for id, n := range res.AgentAttempted {
			agentTries[id] += n
		}
	}

	var dirHits, magHits, matched int
	var brierSum float64
	var scored int
	for _, r := range summary.Results {
		if r.Err != "" {
			continue
		}
		dirHits += r.DirectionHits
		magHits += r.MagnitudeHits
		matched += r.Matched
		brierSum += r.Brier
		scored++
	}
	if matched > 0 {
		summary.DirectionalAccuracy = float64(dirHits) / float64(matched)
		summary.MagnitudeAccuracy = float64(magHits) / float64(matched)
	}
	if scored > 0 {
		summary.Calibration = brierSum / float64(scored)
	}

	ids := make([]string, 0, len(agentTries))
	for id := range agentTries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		sample := float64(agentHits[id]) / float64(agentTries[id])
		updated, err := h.corpus.UpdateAccuracy(ctx, id, sample)
		if err != nil {
			return nil, err
		}
		summary.AgentAccuracy[id] = updated
		h.logger.Info("Agent accuracy updated",
			zap.String("agent_id", id),
			zap.Float64("sample", sample),
			zap.Float64("accuracy", updated),
		)
	}
	return summary, nil
}

func (h *Harness) evalOne(ctx context.Context, doc LabeledDocument) DocumentResult {
	res := DocumentResult{DocumentID: doc.ID, Expected: len(doc.Expected)}

	runID, err := h.runner.Start(ctx, coordinator.Request{
		Title:    doc.Title,
		Source:   "eval-corpus",
		Text:     doc.Text,
		Strategy: h.strategy,
	})
	if err != nil {
		res.Err = err.Error()
		return res
	}
	res.RunID = runID
	if err := h.runner.Wait(ctx, runID); err != nil {
		res.Err = err.Error()
		return res
	}
	report, err := h.runner.Report(runID)
	if err != nil {
		res.Err = err.Error()
		return res
	}

	scored := Score(report, doc.Expected)
	scored.DocumentID = doc.ID
	scored.RunID = runID
	return scored
}

// Score grades one report against expected outcomes. Matching is by finding
// category; an expected outcome the swarm never addressed counts as a miss
// for calibration but credits no agent.
func Score(report *models.ConsensusReport, expected []ExpectedOutcome) DocumentResult {
	res := DocumentResult{
		Expected:       len(expected),
		AgentCorrect:   make(map[string]int),
		AgentAttempted: make(map[string]int),
	}

	byCategory := make(map[string]models.AgreedFinding)
	for _, af := range report.Agreed {
		if _, taken := byCategory[af.Finding.Category]; !taken {
			byCategory[af.Finding.Category] = af // strongest backing wins, Agreed is sorted
		}
	}

	var brierSum float64
	for _, exp := range expected {
		af, ok := byCategory[exp.Category]
		if !ok {
			brierSum += 1 // silent on a labeled outcome: maximally wrong
			continue
		}
		res.Matched++

		dirHit := direction(af.Finding) == exp.Direction
		if dirHit {
			res.DirectionHits++
		}
		if magnitudeClose(af.Finding.Magnitude, exp.Magnitude) {
			res.MagnitudeHits++
		}

		correct := 0.0
		if dirHit {
			correct = 1.0
		}
		d := af.WeightedAgreement - correct
		brierSum += d * d

		for _, agentID := range af.Supporting {
			res.AgentAttempted[agentID]++
			if dirHit {
				res.AgentCorrect[agentID]++
			}
		}
		for _, dv := range af.Dissenting {
			res.AgentAttempted[dv.AgentID]++
			if !dirHit {
				res.AgentCorrect[dv.AgentID]++
			}
		}
	}
	if len(expected) > 0 {
		res.Brier = brierSum / float64(len(expected))
	}
	return res
}

func direction(f models.Finding) int {
	if f.FiscalImpactUSD == nil {
		return 0
	}
	switch {
	case *f.FiscalImpactUSD > 0:
		return 1
	case *f.FiscalImpactUSD < 0:
		return -1
	}
	return 0
}

// magnitudeClose accepts a one-class miss; severe vs negligible is wrong,
// major vs severe is close enough.
func magnitudeClose(got, want models.Magnitude) bool {
	rg, rw := got.Rank(), want.Rank()
	if rg == 0 || rw == 0 {
		return got == want
	}
	return math.Abs(float64(rg-rw)) <= 1
}
