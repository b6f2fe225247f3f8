package models

import (
	"time"
)

// RunState is a stage of the swarm pipeline.
type RunState string

const (
	RunInitialized    RunState = "initialized"
	RunIngesting      RunState = "ingesting"
	RunAnalyzing      RunState = "analyzing"
	RunCrossReviewing RunState = "cross_reviewing"
	RunDebating       RunState = "debating"
	RunVoting         RunState = "voting"
	RunSynthesizing   RunState = "synthesizing"
	RunComplete       RunState = "complete"
	RunError          RunState = "error"
)

// Terminal reports whether a run in this state is finished.
func (s RunState) Terminal() bool {
	return s == RunComplete || s == RunError
}

// AbsenceReason classifies why an agent contributed nothing to a stage.
type AbsenceReason string

const (
	AbsenceTimeout       AbsenceReason = "timeout"
	AbsenceBackendError  AbsenceReason = "backend_error"
	AbsenceSchemaError   AbsenceReason = "schema_error"
	AbsenceBudgetSkipped AbsenceReason = "budget_skipped"
	AbsenceDeferred      AbsenceReason = "budget_deferred"
	AbsenceNotRelevant   AbsenceReason = "not_relevant"
	AbsenceCancelled     AbsenceReason = "cancelled"
)

// Absence records one agent's failure to contribute, and where.
type Absence struct {
	AgentID string        `json:"agent_id"`
	Stage   RunState      `json:"stage"`
	Reason  AbsenceReason `json:"reason"`
	Detail  string        `json:"detail,omitempty"`
}

// RunStatus is the externally visible state of one pipeline run.
type RunStatus struct {
	RunID            string    `json:"run_id"`
	DocumentID       string    `json:"document_id"`
	State            RunState  `json:"state"`
	Strategy         string    `json:"strategy"`
	Partial          bool      `json:"partial"`
	InterruptedStage RunState  `json:"interrupted_stage,omitempty"`
	Error            string    `json:"error,omitempty"`
	Absences         []Absence `json:"absences,omitempty"`
	TokensSpent      int       `json:"tokens_spent"`
	StartedAt        time.Time `json:"started_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// ConsensusLevel classifies weighted agreement strength.
type ConsensusLevel string

const (
	ConsensusStrong   ConsensusLevel = "strong_consensus"
	ConsensusReached  ConsensusLevel = "consensus"
	ConsensusMajority ConsensusLevel = "majority"
	ConsensusDivided  ConsensusLevel = "divided"
	ConsensusMinority ConsensusLevel = "minority"
)

// AgreedFinding is a finding that cleared the agreement threshold, together
// with how strongly the swarm backed it.
type AgreedFinding struct {
	Finding           Finding        `json:"finding"`
	Level             ConsensusLevel `json:"level"`
	WeightedAgreement float64        `json:"weighted_agreement"`
	Supporting        []string       `json:"supporting_agents"`
	Dissenting        []DissentingView `json:"dissenting,omitempty"`
}

// DissentingView preserves a minority argument verbatim.
type DissentingView struct {
	AgentID   string       `json:"agent_id"`
	Support   SupportLevel `json:"support"`
	Reasoning string       `json:"reasoning"`
}

// UnresolvedDispute captures a debate that ended without mutual agreement.
// Both sides' arguments are retained.
type UnresolvedDispute struct {
	Topic         string         `json:"topic"`
	Kind          DisputeKind    `json:"kind"`
	Outcome       DebateOutcome  `json:"outcome"`
	Sides         []Position     `json:"sides"`
	Determination *Determination `json:"determination,omitempty"`
	Rounds        int            `json:"rounds"`
}

// Uncertainty is a topic where no agent exceeded its own confidence
// threshold.
type Uncertainty struct {
	Topic  string   `json:"topic"`
	Reason string   `json:"reason"`
	Agents []string `json:"agents,omitempty"`
}

// Recommendation is the single synthesized primary recommendation.
type Recommendation struct {
	Summary           string         `json:"summary"`
	Level             ConsensusLevel `json:"level"`
	WeightedAgreement float64        `json:"weighted_agreement"`
	Caveats           []string       `json:"caveats,omitempty"`
}

// ConsensusReport is the terminal artifact of a completed run. Emitted
// exactly once; immutable.
type ConsensusReport struct {
	RunID            string              `json:"run_id"`
	DocumentID       string              `json:"document_id"`
	GeneratedAt      time.Time           `json:"generated_at"`
	Agreed           []AgreedFinding     `json:"agreed_findings"`
	Disputes         []UnresolvedDispute `json:"unresolved_disputes,omitempty"`
	Uncertainties    []Uncertainty       `json:"key_uncertainties,omitempty"`
	Recommendation   Recommendation      `json:"recommendation"`
	Provenance       []string            `json:"provenance"` // agent IDs whose analyses fed the report
	Absences         []Absence           `json:"absences,omitempty"`
	Partial          bool                `json:"partial"`
	InterruptedStage RunState            `json:"interrupted_stage,omitempty"`
	TokensSpent      int                 `json:"tokens_spent"`
}
