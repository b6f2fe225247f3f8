package models

import (
	"time"
)

// Specialization identifies the closed set of analyst types. New analyst
// kinds are added here, not by open-ended subclassing.
type Specialization string

const (
	SpecFiscal         Specialization = "fiscal"
	SpecEconomic       Specialization = "economic"
	SpecHealthcare     Specialization = "healthcare"
	SpecRetirement     Specialization = "retirement"
	SpecEquity         Specialization = "equity"
	SpecImplementation Specialization = "implementation"
	// SpecJudge is the non-voting arbitration specialization. Judges never
	// analyze documents on their own behalf and never vote.
	SpecJudge Specialization = "judge"
)

// Specializations lists every analyst specialization that can be rostered
// for analysis work (everything except the judge).
func Specializations() []Specialization {
	return []Specialization{
		SpecFiscal, SpecEconomic, SpecHealthcare,
		SpecRetirement, SpecEquity, SpecImplementation,
	}
}

// Document is an ingested policy document. Immutable once ingested.
type Document struct {
	ID         string            `json:"id"`
	Title      string            `json:"title"`
	Source     string            `json:"source,omitempty"`
	Text       string            `json:"text"`
	WordCount  int               `json:"word_count"`
	Concepts   []string          `json:"concepts,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	IngestedAt time.Time         `json:"ingested_at"`
}

// Magnitude classifies the size of a projected impact.
type Magnitude string

const (
	MagnitudeNegligible Magnitude = "negligible"
	MagnitudeMinor      Magnitude = "minor"
	MagnitudeModerate   Magnitude = "moderate"
	MagnitudeMajor      Magnitude = "major"
	MagnitudeSevere     Magnitude = "severe"
)

// Rank orders magnitudes for disagreement checks. Unknown values rank 0.
func (m Magnitude) Rank() int {
	switch m {
	case MagnitudeNegligible:
		return 1
	case MagnitudeMinor:
		return 2
	case MagnitudeModerate:
		return 3
	case MagnitudeMajor:
		return 4
	case MagnitudeSevere:
		return 5
	}
	return 0
}

// TimeHorizon buckets when an impact is expected to materialize.
type TimeHorizon string

const (
	HorizonShort  TimeHorizon = "short"  // < 2 years
	HorizonMedium TimeHorizon = "medium" // 2-10 years
	HorizonLong   TimeHorizon = "long"   // > 10 years
)

// Finding is one atomic claim about the document. Immutable; a correction is
// a new Finding carrying CorrectsID.
type Finding struct {
	ID              string      `json:"id"`
	RunID           string      `json:"run_id"`
	AgentID         string      `json:"agent_id"`
	Category        string      `json:"category"`
	Statement       string      `json:"statement"`
	Magnitude       Magnitude   `json:"magnitude"`
	Confidence      float64     `json:"confidence"`
	Horizon         TimeHorizon `json:"horizon"`
	Populations     []string    `json:"populations,omitempty"`
	FiscalImpactUSD *float64    `json:"fiscal_impact_usd,omitempty"`
	Evidence        []string    `json:"evidence,omitempty"`
	CorrectsID      string      `json:"corrects_id,omitempty"`
}

// AgentAnalysis is one agent's complete output for one document. Emitted
// once per agent per run and never mutated afterward.
type AgentAnalysis struct {
	RunID          string         `json:"run_id"`
	AgentID        string         `json:"agent_id"`
	Specialization Specialization `json:"specialization"`
	Findings       []Finding      `json:"findings"`
	Assumptions    []string       `json:"assumptions,omitempty"`
	Confidence     float64        `json:"confidence"`
	Uncertainties  []string       `json:"uncertainties,omitempty"`
	Evidence       []string       `json:"evidence,omitempty"`
	TokensUsed     int            `json:"tokens_used"`
	Duration       time.Duration  `json:"duration"`
}

// Position is an agent's stance on one disputed topic at one debate moment.
// The ordered positions per agent per topic form that agent's trajectory.
type Position struct {
	AgentID    string    `json:"agent_id"`
	Topic      string    `json:"topic"`
	Value      float64   `json:"value"`
	Low        float64   `json:"low,omitempty"`
	High       float64   `json:"high,omitempty"`
	Confidence float64   `json:"confidence"`
	Argument   string    `json:"argument"`
	Round      int       `json:"round"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Equal reports whether two positions carry the same stance (value, bounds
// and confidence). Arguments may differ without counting as change.
func (p Position) Equal(o Position) bool {
	return p.Value == o.Value && p.Low == o.Low && p.High == o.High && p.Confidence == o.Confidence
}

// CritiqueType classifies what a critique attacks.
type CritiqueType string

const (
	CritiqueMethodology CritiqueType = "methodology"
	CritiqueAssumption  CritiqueType = "assumption"
	CritiqueEvidence    CritiqueType = "evidence"
	CritiqueLogic       CritiqueType = "logic"
)

// Severity grades how damaging a critique is claimed to be.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Critique is a directed edge against another agent's position or analysis.
type Critique struct {
	ID                string       `json:"id"`
	RunID             string       `json:"run_id"`
	FromAgent         string       `json:"from_agent"`
	ToAgent           string       `json:"to_agent"`
	Topic             string       `json:"topic,omitempty"`
	TargetFindingID   string       `json:"target_finding_id,omitempty"`
	Type              CritiqueType `json:"type"`
	Severity          Severity     `json:"severity"`
	Content           string       `json:"content"`
	SuggestedRevision string       `json:"suggested_revision,omitempty"`
}

// Rebuttal answers one specific critique and may carry a position update.
type Rebuttal struct {
	CritiqueID      string    `json:"critique_id"`
	FromAgent       string    `json:"from_agent"`
	Content         string    `json:"content"`
	UpdatedPosition *Position `json:"updated_position,omitempty"`
}

// DebateRound is one ply of argument on a topic. Convergence is computed
// when the round closes and never altered afterwards.
type DebateRound struct {
	Number       int        `json:"number"`
	Topic        string     `json:"topic"`
	Participants []string   `json:"participants"`
	Entering     []Position `json:"entering"`
	Critiques    []Critique `json:"critiques"`
	Rebuttals    []Rebuttal `json:"rebuttals"`
	Updates      []Position `json:"updates,omitempty"`
	Convergence  float64    `json:"convergence"`
	StartedAt    time.Time  `json:"started_at"`
	EndedAt      time.Time  `json:"ended_at"`
}

// DebateOutcome is the terminal state of a debate topic.
type DebateOutcome string

const (
	DebateResolved   DebateOutcome = "resolved"
	DebateArbitrated DebateOutcome = "arbitrated"
	DebateStalemate  DebateOutcome = "stalemate"
)

// Determination is a judge's binding ruling on a topic.
type Determination struct {
	JudgeID    string  `json:"judge_id"`
	Topic      string  `json:"topic"`
	Ruling     string  `json:"ruling"`
	Value      float64 `json:"value"`
	Confidence float64 `json:"confidence"`
	Rationale  string  `json:"rationale"`
}

// DebateTimeline is the full record of one topic's debate: ordered rounds
// plus per-agent position trajectories and the terminal outcome.
type DebateTimeline struct {
	Topic         string                `json:"topic"`
	Rounds        []DebateRound         `json:"rounds"`
	Trajectories  map[string][]Position `json:"trajectories"`
	Outcome       DebateOutcome         `json:"outcome"`
	Final         []Position            `json:"final"`
	Determination *Determination        `json:"determination,omitempty"`
	Reason        string                `json:"reason,omitempty"`
}

// DisputeKind names the trigger that opened a debate topic.
type DisputeKind string

const (
	DisputeConfidenceDivergence DisputeKind = "confidence_divergence"
	DisputeContradiction        DisputeKind = "contradictory_findings"
	DisputeAssumption           DisputeKind = "disputed_assumption"
	DisputeMagnitude            DisputeKind = "magnitude_disagreement"
)

// DisputedTopic describes one cross-agent disagreement queued for debate.
type DisputedTopic struct {
	ID           string              `json:"id"`
	Kind         DisputeKind         `json:"kind"`
	Domain       Specialization      `json:"domain"`
	Metric       string              `json:"metric"`
	Description  string              `json:"description"`
	Participants []string            `json:"participants"`
	Initial      map[string]Position `json:"initial"`
}

// SupportLevel is an agent's discrete judgment on a proposal.
type SupportLevel string

const (
	SupportStrong    SupportLevel = "strong_support"
	SupportFavor     SupportLevel = "support"
	SupportNeutral   SupportLevel = "neutral"
	SupportOppose    SupportLevel = "oppose"
	SupportStrongOpp SupportLevel = "strong_oppose"
)

// Agreement maps a support level onto [0,1] for weighted aggregation.
func (s SupportLevel) Agreement() float64 {
	switch s {
	case SupportStrong:
		return 1.0
	case SupportFavor:
		return 0.75
	case SupportNeutral:
		return 0.5
	case SupportOppose:
		return 0.25
	case SupportStrongOpp:
		return 0.0
	}
	return 0.5
}

// Vote is an agent's weighted judgment on one proposal.
type Vote struct {
	AgentID    string       `json:"agent_id"`
	RunID      string       `json:"run_id"`
	ProposalID string       `json:"proposal_id"`
	Support    SupportLevel `json:"support"`
	Confidence float64      `json:"confidence"`
	Reasoning  string       `json:"reasoning"`
	Conditions []string     `json:"conditions,omitempty"`
}

// Proposal is a claim put to the voting stage: either a finding that
// survived cross-review, or a debate outcome.
type Proposal struct {
	ID        string         `json:"id"`
	Domain    Specialization `json:"domain"`
	Statement string         `json:"statement"`
	FindingID string         `json:"finding_id,omitempty"`
	Topic     string         `json:"topic,omitempty"`
}
