package llm

import (
	"fmt"

	"github.com/praxislabs/concord/internal/models"
)

// Schema names the structured result shape a completion must carry.
type Schema string

const (
	SchemaAnalysis    Schema = "analysis"
	SchemaCritiques   Schema = "critiques"
	SchemaRebuttal    Schema = "rebuttal"
	SchemaVotes       Schema = "votes"
	SchemaArbitration Schema = "arbitration"
)

// Request is the structured prompt sent to the backend: role, instructions,
// document excerpt and optional prior context. The wire format beyond this
// JSON contract is the backend's business.
type Request struct {
	Role           string   `json:"role"`
	Specialization string   `json:"specialization"`
	Instructions   string   `json:"instructions"`
	Document       string   `json:"document,omitempty"`
	Context        []string `json:"context,omitempty"`
	Schema         Schema   `json:"schema"`
	MaxTokens      int      `json:"max_tokens,omitempty"`
}

// FindingPayload is a backend-produced finding before run/agent attribution.
type FindingPayload struct {
	Category        string             `json:"category"`
	Statement       string             `json:"statement"`
	Magnitude       models.Magnitude   `json:"magnitude"`
	Confidence      float64            `json:"confidence"`
	Horizon         models.TimeHorizon `json:"horizon"`
	Populations     []string           `json:"populations,omitempty"`
	FiscalImpactUSD *float64           `json:"fiscal_impact_usd,omitempty"`
	Evidence        []string           `json:"evidence,omitempty"`
}

// AnalysisPayload is the schema-"analysis" result body.
type AnalysisPayload struct {
	Findings      []FindingPayload `json:"findings"`
	Assumptions   []string         `json:"assumptions,omitempty"`
	Confidence    float64          `json:"confidence"`
	Uncertainties []string         `json:"uncertainties,omitempty"`
	Evidence      []string         `json:"evidence,omitempty"`
}

// CritiquePayload is one entry of a schema-"critiques" result body.
type CritiquePayload struct {
	Topic             string              `json:"topic,omitempty"`
	TargetFindingID   string              `json:"target_finding_id,omitempty"`
	Type              models.CritiqueType `json:"type"`
	Severity          models.Severity     `json:"severity"`
	Content           string              `json:"content"`
	SuggestedRevision string              `json:"suggested_revision,omitempty"`
}

// PositionPayload carries a stance update inside a rebuttal.
type PositionPayload struct {
	Value      float64 `json:"value"`
	Low        float64 `json:"low,omitempty"`
	High       float64 `json:"high,omitempty"`
	Confidence float64 `json:"confidence"`
	Argument   string  `json:"argument"`
}

// RebuttalPayload is the schema-"rebuttal" result body.
type RebuttalPayload struct {
	Content         string           `json:"content"`
	UpdatedPosition *PositionPayload `json:"updated_position,omitempty"`
}

// VotePayload is one entry of a schema-"votes" result body.
type VotePayload struct {
	ProposalID string              `json:"proposal_id"`
	Support    models.SupportLevel `json:"support"`
	Confidence float64             `json:"confidence"`
	Reasoning  string              `json:"reasoning"`
	Conditions []string            `json:"conditions,omitempty"`
}

// ArbitrationPayload is the schema-"arbitration" result body.
type ArbitrationPayload struct {
	Ruling     string  `json:"ruling"`
	Value      float64 `json:"value"`
	Confidence float64 `json:"confidence"`
	Rationale  string  `json:"rationale"`
}

// Completion is a validated backend result. Exactly one payload field
// matching Schema is populated.
type Completion struct {
	Schema      Schema              `json:"schema"`
	Analysis    *AnalysisPayload    `json:"analysis,omitempty"`
	Critiques   []CritiquePayload   `json:"critiques,omitempty"`
	Rebuttal    *RebuttalPayload    `json:"rebuttal,omitempty"`
	Votes       []VotePayload       `json:"votes,omitempty"`
	Arbitration *ArbitrationPayload `json:"arbitration,omitempty"`
	TokensUsed  int                 `json:"tokens_used"`
	Model       string              `json:"model,omitempty"`
}

// Validate checks the completion against the requested schema. Anything that
// fails here is a SchemaError at the call site.
func (c *Completion) Validate(want Schema) error {
	if c.Schema != want {
		return fmt.Errorf("schema mismatch: want %q, got %q", want, c.Schema)
	}
	switch want {
	case SchemaAnalysis:
		if c.Analysis == nil {
			return fmt.Errorf("analysis payload missing")
		}
		if !inUnit(c.Analysis.Confidence) {
			return fmt.Errorf("analysis confidence %f out of [0,1]", c.Analysis.Confidence)
		}
		for i, f := range c.Analysis.Findings {
			if f.Category == "" || f.Statement == "" {
				return fmt.Errorf("finding %d missing category or statement", i)
			}
			if !inUnit(f.Confidence) {
				return fmt.Errorf("finding %d confidence %f out of [0,1]", i, f.Confidence)
			}
		}
	case SchemaCritiques:
		for i, cr := range c.Critiques {
			if cr.Content == "" {
				return fmt.Errorf("critique %d missing content", i)
			}
		}
	case SchemaRebuttal:
		if c.Rebuttal == nil {
			return fmt.Errorf("rebuttal payload missing")
		}
		if up := c.Rebuttal.UpdatedPosition; up != nil && !inUnit(up.Confidence) {
			return fmt.Errorf("rebuttal position confidence %f out of [0,1]", up.Confidence)
		}
	case SchemaVotes:
		if len(c.Votes) == 0 {
			return fmt.Errorf("votes payload empty")
		}
		for i, v := range c.Votes {
			if v.ProposalID == "" {
				return fmt.Errorf("vote %d missing proposal_id", i)
			}
			if !inUnit(v.Confidence) {
				return fmt.Errorf("vote %d confidence %f out of [0,1]", i, v.Confidence)
			}
		}
	case SchemaArbitration:
		if c.Arbitration == nil {
			return fmt.Errorf("arbitration payload missing")
		}
		if !inUnit(c.Arbitration.Confidence) {
			return fmt.Errorf("arbitration confidence %f out of [0,1]", c.Arbitration.Confidence)
		}
	default:
		return fmt.Errorf("unknown schema %q", want)
	}
	return nil
}

func inUnit(f float64) bool { return f >= 0 && f <= 1 }
