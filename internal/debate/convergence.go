package debate

import (
	"math"

	"github.com/praxislabs/concord/internal/models"
)

// Convergence scores how tightly a set of positions agrees, in [0,1]. 1 is
// unanimity; 0 means the spread is on the order of the consensus value
// itself. Each position contributes in proportion to its confidence, so a
// diffident outlier moves the score less than a confident one.
func Convergence(positions []models.Position) float64 {
	if len(positions) < 2 {
		return 1
	}

	var wsum, mean float64
	for _, p := range positions {
		w := weight(p)
		wsum += w
		mean += w * p.Value
	}
	mean /= wsum

	var variance float64
	for _, p := range positions {
		d := p.Value - mean
		variance += weight(p) * d * d
	}
	variance /= wsum

	scale := math.Abs(mean)
	if scale < 1 {
		scale = 1 // positions near zero are compared on an absolute scale
	}
	score := 1 - math.Sqrt(variance)/scale
	return clamp01(score)
}

func weight(p models.Position) float64 {
	if p.Confidence <= 0 {
		return 0.01
	}
	return p.Confidence
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
