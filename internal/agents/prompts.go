package agents

import (
	"encoding/json"
	"fmt"

	"github.com/praxislabs/concord/internal/models"
)

// maxExcerpt bounds the document text shipped to the backend per call.
const maxExcerpt = 12000

var roles = map[models.Specialization]string{
	models.SpecFiscal:         "You are a fiscal policy analyst focused on budgetary cost, revenue effects and deficit impact.",
	models.SpecEconomic:       "You are a macroeconomic analyst focused on growth, employment and price-level effects.",
	models.SpecHealthcare:     "You are a healthcare policy analyst focused on coverage, cost and care-delivery effects.",
	models.SpecRetirement:     "You are a retirement-policy analyst focused on pensions, social insurance and benefit adequacy.",
	models.SpecEquity:         "You are a distributional-equity analyst focused on which populations gain or lose.",
	models.SpecImplementation: "You are an implementation-feasibility analyst focused on administrative capacity, timelines and compliance.",
	models.SpecJudge:          "You are a neutral arbitration judge. You did not participate in the debate and hold no position of your own.",
}

func roleFor(spec models.Specialization) string {
	if r, ok := roles[spec]; ok {
		return r
	}
	return "You are a policy analyst."
}

func analyzeInstructions(spec models.Specialization) string {
	return fmt.Sprintf(
		"Analyze the policy document from the %s perspective. Emit atomic findings, "+
			"each with a category, magnitude classification, confidence in [0,1], time "+
			"horizon and affected populations. Quantify fiscal impact in USD where "+
			"defensible. State the assumptions you relied on and the areas you remain "+
			"uncertain about.", spec)
}

func critiqueInstructions(targetAgent string) string {
	return fmt.Sprintf(
		"Review %s's analysis. Emit zero or more critiques, each classified as "+
			"methodology, assumption, evidence or logic, with a severity. Only raise "+
			"points you can substantiate; an empty critique list is a valid answer.",
		targetAgent)
}

func debateCritiqueInstructions(topic string) string {
	return fmt.Sprintf(
		"You are debating the disputed topic %q. Critique the rival position: attack "+
			"its weakest classified aspect (methodology, assumption, evidence or logic) "+
			"and propose a concrete revision if one exists.", topic)
}

func rebuttalInstructions(critique models.Critique) string {
	return fmt.Sprintf(
		"Answer the %s critique from %s. Defend your position or concede the point; "+
			"if you concede, include an updated position value and confidence.",
		critique.Type, critique.FromAgent)
}

func voteInstructions(n int) string {
	return fmt.Sprintf(
		"Vote on each of the %d proposals. Emit exactly one vote per proposal keyed "+
			"by its proposal_id, with a support level (strong_support, support, neutral, "+
			"oppose, strong_oppose), your confidence and reasoning. Attach conditions "+
			"if your support is contingent.", n)
}

func arbitrationInstructions(topic string) string {
	return fmt.Sprintf(
		"The debate on %q failed to converge. Review the full timeline and cited "+
			"evidence, then issue a binding determination: a ruling, a numeric value "+
			"for the disputed metric and your confidence. Your determination closes "+
			"the debate.", topic)
}

func excerpt(text string, max int) string {
	if len(text) <= max {
		return text
	}
	return text[:max]
}

func priorContext(prior []*models.AgentAnalysis) []string {
	if len(prior) == 0 {
		return nil
	}
	out := make([]string, 0, len(prior))
	for _, a := range prior {
		out = append(out, summarizeAnalysis(a))
	}
	return out
}

func analysisContext(a *models.AgentAnalysis) []string {
	return []string{summarizeAnalysis(a)}
}

func summarizeAnalysis(a *models.AgentAnalysis) string {
	b, _ := json.Marshal(struct {
		AgentID     string           `json:"agent_id"`
		Spec        string           `json:"specialization"`
		Confidence  float64          `json:"confidence"`
		Findings    []models.Finding `json:"findings"`
		Assumptions []string         `json:"assumptions,omitempty"`
	}{a.AgentID, string(a.Specialization), a.Confidence, a.Findings, a.Assumptions})
	return string(b)
}

func positionContext(own, rival models.Position) []string {
	ownJSON, _ := json.Marshal(own)
	rivalJSON, _ := json.Marshal(rival)
	return []string{
		"your position: " + string(ownJSON),
		"rival position: " + string(rivalJSON),
	}
}

func rebuttalContext(critique models.Critique, own models.Position) []string {
	critJSON, _ := json.Marshal(critique)
	ownJSON, _ := json.Marshal(own)
	return []string{
		"critique: " + string(critJSON),
		"your position: " + string(ownJSON),
	}
}

func proposalContext(proposals []models.Proposal) []string {
	out := make([]string, 0, len(proposals))
	for _, p := range proposals {
		b, _ := json.Marshal(p)
		out = append(out, string(b))
	}
	return out
}
