package robust

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestScorers_InclusiveThreshold(t *testing.T) {
	residuals := []float64{0, 0.5, 0.5000001, 2}
	want := []bool{true, true, false, false}

	for _, method := range []Method{RANSAC, MSAC, PROSAC} {
		cfg := DefaultConfig()
		cfg.Threshold = 0.5
		s := newScorer(method, cfg, 2, len(residuals))
		inliers := make([]bool, len(residuals))
		ev := s.evaluate(residuals, inliers)
		assert.Equal(t, want, inliers, method.String())
		assert.Equal(t, 2, ev.numInliers, method.String())
	}
}

func TestMSACScorer_TruncatedLoss(t *testing.T) {
	s := msacScorer{threshold: 1}
	inliers := make([]bool, 3)
	ev := s.evaluate([]float64{0.5, 1, 10}, inliers)
	assert.InDelta(t, 0.25+1+1, ev.cost, 1e-12)

	assert.True(t, s.better(evaluation{cost: 1}, evaluation{cost: 2}))
	assert.False(t, s.better(evaluation{cost: 2}, evaluation{cost: 2}))
}

func TestPROSACScorer_TieBreak(t *testing.T) {
	s := prosacScorer{threshold: 1}
	best := evaluation{numInliers: 5, cost: 1}
	assert.True(t, s.better(evaluation{numInliers: 6, cost: 3}, best))
	assert.True(t, s.better(evaluation{numInliers: 5, cost: 0.5}, best))
	assert.False(t, s.better(evaluation{numInliers: 5, cost: 1.5}, best))
	assert.False(t, s.better(evaluation{numInliers: 4, cost: 0}, best))
}

func TestMedianScorer(t *testing.T) {
	s := &medianScorer{sampleSize: 2, inlierFactor: 2.5, stopThreshold: 1e-3, scratch: make([]float64, 6)}

	residuals := []float64{0.1, 0.2, 0.1, 0.2, 50, 0.1}
	inliers := make([]bool, len(residuals))
	ev := s.evaluate(residuals, inliers)

	// squares sorted: 0.01 0.01 0.01 0.04 0.04 2500
	assert.InDelta(t, 0.025, ev.cost, 1e-12)
	sigma := 1.4826 * (1 + 5.0/4.0) * math.Sqrt(0.025)
	assert.InDelta(t, sigma, robustSigma(0.025, 6, 2), 1e-12)
	assert.Equal(t, []bool{true, true, true, true, false, true}, inliers, "bound is %v", 2.5*sigma)
	assert.Equal(t, 5, ev.numInliers)

	// Residual slice is left untouched.
	assert.Equal(t, []float64{0.1, 0.2, 0.1, 0.2, 50, 0.1}, residuals)
}

func TestMedianScorer_StopThresholdFloor(t *testing.T) {
	s := &medianScorer{sampleSize: 2, inlierFactor: 1.5, stopThreshold: 0.01, scratch: make([]float64, 5)}
	inliers := make([]bool, 5)
	ev := s.evaluate([]float64{0, 0, 0.01, 0, 0.02}, inliers)
	assert.Equal(t, []bool{true, true, true, true, false}, inliers)
	assert.Equal(t, 4, ev.numInliers)
	assert.False(t, s.better(evaluation{cost: 0}, ev), "equal medians keep the current best")
}
