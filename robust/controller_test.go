package robust

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequiredIterations_Formula(t *testing.T) {
	cases := []struct {
		confidence float64
		ratio      float64
		m          int
	}{
		{0.99, 0.5, 2},
		{0.99, 0.5, 4},
		{0.95, 0.8, 6},
		{0.999, 0.7, 3},
		{0.99, 0.3, 2},
	}
	for _, tc := range cases {
		want := int(math.Ceil(math.Log(1-tc.confidence) / math.Log(1-math.Pow(tc.ratio, float64(tc.m)))))
		got := RequiredIterations(tc.confidence, tc.ratio, tc.m, 1_000_000)
		assert.Equal(t, want, got, "confidence=%v ratio=%v m=%d", tc.confidence, tc.ratio, tc.m)
	}

	assert.Equal(t, 17, RequiredIterations(0.99, 0.5, 2, 5000))
	assert.Equal(t, 72, RequiredIterations(0.99, 0.5, 4, 5000))
}

func TestRequiredIterations_Edges(t *testing.T) {
	assert.Equal(t, 1, RequiredIterations(0.99, 1, 4, 100), "all inliers converges at once")
	assert.Equal(t, 100, RequiredIterations(0.99, 0, 4, 100), "no inliers uses the cap")
	assert.Equal(t, 100, RequiredIterations(0.99, 0.01, 6, 100), "clamped to the cap")
	assert.Equal(t, 100, RequiredIterations(1, 0.5, 2, 100), "certainty uses the cap")
	assert.Equal(t, 1, RequiredIterations(0, 0.5, 2, 100))
	assert.Equal(t, 1, RequiredIterations(0.99, 0.5, 2, 0), "cap is at least one")
}

func TestController_ConvergesAtRequired(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxIterations = 1000
	c := newController(RANSAC, cfg, 2, 100)

	c.iteration = 1
	c.accept(evaluation{numInliers: 50}, make([]bool, 100))
	require.Equal(t, 17, c.required)

	for c.iteration < 16 {
		assert.True(t, c.advance())
		c.iteration++
	}
	assert.True(t, c.advance(), "iteration 16 is below the bound")
	c.iteration++
	assert.False(t, c.advance())
	assert.Equal(t, Converged, c.state)
}

func TestController_ExhaustsWithoutQualifiedModel(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxIterations = 3
	c := newController(RANSAC, cfg, 2, 10)

	c.iteration = 1
	c.accept(evaluation{numInliers: 1}, make([]bool, 10))
	assert.True(t, c.advance())
	c.iteration = 3
	assert.False(t, c.advance())
	assert.Equal(t, ExhaustedIterations, c.state)
}

func TestController_MedianEarlyStop(t *testing.T) {
	cfg := DefaultConfig()
	cfg.StopThreshold = 0.1
	c := newController(LMedS, cfg, 2, 10)

	c.iteration = 1
	c.accept(evaluation{numInliers: 5, cost: 0.5 * 0.5}, make([]bool, 10))
	assert.True(t, c.advance())

	c.accept(evaluation{numInliers: 5, cost: 0.05 * 0.05}, make([]bool, 10))
	assert.False(t, c.advance())
	assert.Equal(t, Converged, c.state)
}

func TestController_MedianBoundIgnoresWideSupport(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxIterations = 1000
	n := 100
	half := RequiredIterations(cfg.Confidence, 0.5, 2, cfg.MaxIterations)
	require.Equal(t, 17, half)

	// A wrong model with a huge median marks every point as an inlier.
	all := make([]bool, n)
	for i := range all {
		all[i] = true
	}
	for _, method := range []Method{LMedS, PROMedS} {
		t.Run(method.String(), func(t *testing.T) {
			c := newController(method, cfg, 2, n)
			if method.progressive() {
				order := make([]int, n)
				for i := range order {
					order[i] = i
				}
				c.withProgressiveOrder(order)
			}
			c.iteration = 1
			c.accept(evaluation{numInliers: n, cost: 400}, all)
			assert.Equal(t, half, c.required)
			assert.True(t, c.advance(), "a single sample must not end the search")
		})
	}

	// Below half the support drives the bound as usual.
	c := newController(LMedS, cfg, 2, n)
	c.accept(evaluation{numInliers: 30, cost: 400}, make([]bool, n))
	assert.Equal(t, RequiredIterations(cfg.Confidence, 0.3, 2, cfg.MaxIterations), c.required)

	// The threshold rules still trust their support.
	r := newController(RANSAC, cfg, 2, n)
	r.accept(evaluation{numInliers: n}, all)
	assert.Equal(t, 1, r.required)
}

func TestController_Progress(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxIterations = 200
	c := newController(RANSAC, cfg, 2, 100)

	c.iteration = 50
	assert.InDelta(t, 0.25, c.progress(), 1e-12, "relative to the cap before a best exists")

	c.accept(evaluation{numInliers: 50}, make([]bool, 100))
	c.iteration = 10
	assert.InDelta(t, 10.0/17.0, c.progress(), 1e-12)

	c.iteration = 40
	assert.Equal(t, 1.0, c.progress())
}

func TestNonRandomSupport(t *testing.T) {
	table := nonRandomSupport(2, 100)
	require.Len(t, table, 101)

	assert.Equal(t, 2, table[2])
	for n := 3; n <= 100; n++ {
		assert.GreaterOrEqual(t, table[n], table[n-1], "n=%d", n)
		assert.LessOrEqual(t, table[n], n+1, "n=%d", n)
	}
	// Binomial(98, 0.01): P(X >= 3) ~ 0.076, P(X >= 4) ~ 0.017.
	assert.Equal(t, 6, table[100])
}

func TestController_ProgressiveBound(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxIterations = 10000
	n := 100
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	c := newController(PROSAC, cfg, 2, n).withProgressiveOrder(order)

	// The best 40 by quality are inliers, nothing else is.
	inliers := make([]bool, n)
	for i := 0; i < 40; i++ {
		inliers[i] = true
	}
	c.iteration = 1
	c.accept(evaluation{numInliers: 40}, inliers)

	// The prefix of size 40 is all inliers.
	assert.Equal(t, 1, c.required)

	// A support that is random everywhere keeps the cap.
	c2 := newController(PROSAC, cfg, 2, n).withProgressiveOrder(order)
	sparse := make([]bool, n)
	sparse[99] = true
	c2.accept(evaluation{numInliers: 1}, sparse)
	assert.Equal(t, cfg.MaxIterations, c2.required)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "running", Running.String())
	assert.Equal(t, "converged", Converged.String())
	assert.Equal(t, "exhausted iterations", ExhaustedIterations.String())
	assert.Equal(t, "failed", Failed.String())
	assert.Equal(t, "unknown", State(42).String())
}
