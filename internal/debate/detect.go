package debate

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/praxislabs/concord/internal/models"
)

// Dispute triggers. A topic opens when two agents' findings on the same
// category diverge past these bounds, or when a cross-review critique
// attacks an assumption with high severity.
const (
	confidenceDivergence = 0.3
	magnitudeTolerance   = 0.2
)

type attributed struct {
	agentID string
	spec    models.Specialization
	f       models.Finding
}

// DetectDisputes scans cross-agent findings and review critiques for the
// four dispute triggers and returns at most one topic per (category, kind).
// Output order is deterministic: categories sorted, kinds in declaration
// order.
func DetectDisputes(analyses []*models.AgentAnalysis, critiques []models.Critique) []models.DisputedTopic {
	byCategory := make(map[string][]attributed)
	for _, a := range analyses {
		for _, f := range a.Findings {
			byCategory[f.Category] = append(byCategory[f.Category], attributed{
				agentID: a.AgentID,
				spec:    a.Specialization,
				f:       f,
			})
		}
	}

	categories := make([]string, 0, len(byCategory))
	for c := range byCategory {
		categories = append(categories, c)
	}
	sort.Strings(categories)

	var topics []models.DisputedTopic
	for _, cat := range categories {
		group := byCategory[cat]
		if len(group) < 2 {
			continue
		}
		sort.Slice(group, func(i, j int) bool { return group[i].agentID < group[j].agentID })

		for _, kind := range []models.DisputeKind{
			models.DisputeConfidenceDivergence,
			models.DisputeContradiction,
			models.DisputeMagnitude,
		} {
			if parties := triggered(kind, group); len(parties) >= 2 {
				topics = append(topics, newTopic(kind, cat, parties))
			}
		}
	}

	if t, ok := assumptionDispute(critiques, analyses); ok {
		topics = append(topics, t...)
	}
	return topics
}

// triggered returns the findings implicated by one trigger kind, or nil.
func triggered(kind models.DisputeKind, group []attributed) []attributed {
	implicated := make(map[string]attributed)
	for i := 0; i < len(group); i++ {
		for j := i + 1; j < len(group); j++ {
			a, b := group[i], group[j]
			if a.agentID == b.agentID {
				continue
			}
			if pairTriggers(kind, a.f, b.f) {
				implicated[a.agentID] = a
				implicated[b.agentID] = b
			}
		}
	}
	out := make([]attributed, 0, len(implicated))
	for _, p := range implicated {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].agentID < out[j].agentID })
	return out
}

func pairTriggers(kind models.DisputeKind, a, b models.Finding) bool {
	switch kind {
	case models.DisputeConfidenceDivergence:
		return math.Abs(a.Confidence-b.Confidence) > confidenceDivergence
	case models.DisputeContradiction:
		// Opposite-sign fiscal impacts, or magnitudes two or more classes
		// apart, cannot both be right.
		if a.FiscalImpactUSD != nil && b.FiscalImpactUSD != nil &&
			*a.FiscalImpactUSD**b.FiscalImpactUSD < 0 {
			return true
		}
		ra, rb := a.Magnitude.Rank(), b.Magnitude.Rank()
		return ra > 0 && rb > 0 && abs(float64(ra-rb)) >= 2
	case models.DisputeMagnitude:
		if a.FiscalImpactUSD == nil || b.FiscalImpactUSD == nil {
			return false
		}
		va, vb := *a.FiscalImpactUSD, *b.FiscalImpactUSD
		base := math.Max(math.Abs(va), math.Abs(vb))
		if base == 0 {
			return false
		}
		return math.Abs(va-vb)/base > magnitudeTolerance
	}
	return false
}

func newTopic(kind models.DisputeKind, category string, parties []attributed) models.DisputedTopic {
	t := models.DisputedTopic{
		ID:          uuid.New().String(),
		Kind:        kind,
		Metric:      category,
		Description: fmt.Sprintf("%s on %s", kind, category),
		Initial:     make(map[string]models.Position, len(parties)),
	}

	// The topic's domain is the specialization of its most confident party.
	best := parties[0]
	for _, p := range parties {
		t.Participants = append(t.Participants, p.agentID)
		t.Initial[p.agentID] = models.Position{
			AgentID:    p.agentID,
			Topic:      category,
			Value:      positionValue(p.f),
			Confidence: p.f.Confidence,
			Argument:   p.f.Statement,
			UpdatedAt:  time.Now(),
		}
		if p.f.Confidence > best.f.Confidence {
			best = p
		}
	}
	t.Domain = best.spec
	return t
}

// positionValue projects a finding onto the debated numeric axis: the dollar
// figure when quantified, otherwise the magnitude class rank.
func positionValue(f models.Finding) float64 {
	if f.FiscalImpactUSD != nil {
		return *f.FiscalImpactUSD
	}
	return float64(f.Magnitude.Rank())
}

// assumptionDispute opens a topic for every assumption attacked with high
// severity during cross-review, pairing the critic against the assumption's
// owner.
func assumptionDispute(critiques []models.Critique, analyses []*models.AgentAnalysis) ([]models.DisputedTopic, bool) {
	specs := make(map[string]models.Specialization, len(analyses))
	confidence := make(map[string]float64, len(analyses))
	for _, a := range analyses {
		specs[a.AgentID] = a.Specialization
		confidence[a.AgentID] = a.Confidence
	}

	var topics []models.DisputedTopic
	seen := make(map[string]bool)
	for _, c := range critiques {
		if c.Type != models.CritiqueAssumption || c.Severity != models.SeverityHigh {
			continue
		}
		key := c.FromAgent + "|" + c.ToAgent + "|" + c.Topic
		if seen[key] {
			continue
		}
		seen[key] = true

		metric := c.Topic
		if metric == "" {
			metric = "assumption:" + c.ToAgent
		}
		topics = append(topics, models.DisputedTopic{
			ID:           uuid.New().String(),
			Kind:         models.DisputeAssumption,
			Domain:       specs[c.ToAgent],
			Metric:       metric,
			Description:  fmt.Sprintf("disputed assumption held by %s", c.ToAgent),
			Participants: []string{c.FromAgent, c.ToAgent},
			Initial: map[string]models.Position{
				c.FromAgent: {
					AgentID:    c.FromAgent,
					Topic:      metric,
					Value:      0,
					Confidence: confidence[c.FromAgent],
					Argument:   c.Content,
					UpdatedAt:  time.Now(),
				},
				c.ToAgent: {
					AgentID:    c.ToAgent,
					Topic:      metric,
					Value:      1,
					Confidence: confidence[c.ToAgent],
					Argument:   "assumption stands as analyzed",
					UpdatedAt:  time.Now(),
				},
			},
		})
	}
	return topics, len(topics) > 0
}
