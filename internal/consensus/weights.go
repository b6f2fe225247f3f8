package consensus

import (
	"github.com/praxislabs/concord/internal/models"
)

// specialtyBoost multiplies a vote cast inside the voter's own domain.
const specialtyBoost = 1.5

// Voter is the slice of an agent the consensus engine needs. The agent
// registry's agents satisfy it.
type Voter interface {
	ID() string
	Specialization() models.Specialization
	HistoricalAccuracy() float64
	ConfidenceThreshold() float64
}

// Weight computes one vote's weight: specialty multiplier times the voter's
// historical accuracy times the confidence they attached to this vote. A
// fiscal analyst voting on a fiscal proposal counts 1.5x; the same analyst
// voting on a healthcare proposal counts 1x.
func Weight(v Voter, domain models.Specialization, confidence float64) float64 {
	mult := 1.0
	if v.Specialization() == domain {
		mult = specialtyBoost
	}
	return mult * v.HistoricalAccuracy() * confidence
}

// LevelFor maps a weighted agreement fraction onto a consensus level.
func LevelFor(agreement float64) models.ConsensusLevel {
	switch {
	case agreement >= 0.90:
		return models.ConsensusStrong
	case agreement >= 0.75:
		return models.ConsensusReached
	case agreement >= 0.60:
		return models.ConsensusMajority
	case agreement >= 0.40:
		return models.ConsensusDivided
	}
	return models.ConsensusMinority
}
