package debate

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/praxislabs/concord/internal/models"
)

func pos(id string, value, confidence float64) models.Position {
	return models.Position{AgentID: id, Value: value, Confidence: confidence}
}

func TestConvergenceUnanimous(t *testing.T) {
	score := Convergence([]models.Position{
		pos("a", 120, 0.9),
		pos("b", 120, 0.8),
		pos("c", 120, 0.7),
	})
	assert.Equal(t, 1.0, score)
}

func TestConvergenceSinglePositionIsTrivial(t *testing.T) {
	assert.Equal(t, 1.0, Convergence([]models.Position{pos("a", 5, 0.5)}))
	assert.Equal(t, 1.0, Convergence(nil))
}

func TestConvergenceDropsWithSpread(t *testing.T) {
	tight := Convergence([]models.Position{pos("a", 100, 0.8), pos("b", 105, 0.8)})
	wide := Convergence([]models.Position{pos("a", 100, 0.8), pos("b", 300, 0.8)})
	assert.Greater(t, tight, wide)
	assert.GreaterOrEqual(t, tight, 0.9)
}

func TestConvergenceWeightsByConfidence(t *testing.T) {
	// The same outlier value moves the score less when held diffidently.
	confident := Convergence([]models.Position{
		pos("a", 100, 0.9), pos("b", 100, 0.9), pos("c", 200, 0.9),
	})
	diffident := Convergence([]models.Position{
		pos("a", 100, 0.9), pos("b", 100, 0.9), pos("c", 200, 0.1),
	})
	assert.Greater(t, diffident, confident)
}

func TestConvergenceClampedToUnit(t *testing.T) {
	score := Convergence([]models.Position{pos("a", -1000, 1), pos("b", 1000, 1)})
	assert.GreaterOrEqual(t, score, 0.0)
	assert.LessOrEqual(t, score, 1.0)
}
