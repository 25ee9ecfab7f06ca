package robust

import (
	"math"

	"gonum.org/v1/gonum/stat/distuv"
)

// State is the termination state of one Estimate call.
type State int

const (
	Running State = iota
	Converged
	ExhaustedIterations
	Failed
)

func (s State) String() string {
	switch s {
	case Running:
		return "running"
	case Converged:
		return "converged"
	case ExhaustedIterations:
		return "exhausted iterations"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

const (
	// nonRandomBeta is the probability that an outlier is consistent with a
	// wrong model by chance.
	nonRandomBeta = 0.01
	// nonRandomPsi is the accepted probability that a support of the found
	// size arose at random.
	nonRandomPsi = 0.05
)

// RequiredIterations returns the number of minimal samples needed to draw
// at least one all-inlier sample of size sampleSize with the given
// confidence, when a fraction inlierRatio of the data are inliers. The
// result is clamped to [1, maxIterations].
func RequiredIterations(confidence, inlierRatio float64, sampleSize, maxIterations int) int {
	if maxIterations < 1 {
		maxIterations = 1
	}
	if inlierRatio >= 1 || confidence <= 0 {
		return 1
	}
	if inlierRatio <= 0 || confidence >= 1 {
		return maxIterations
	}
	den := math.Log(1 - math.Pow(inlierRatio, float64(sampleSize)))
	if den == 0 || math.IsNaN(den) {
		return maxIterations
	}
	k := math.Ceil(math.Log(1-confidence) / den)
	if math.IsNaN(k) || k > float64(maxIterations) {
		return maxIterations
	}
	if k < 1 {
		return 1
	}
	return int(k)
}

// controller tracks the best evaluation and decides when the search stops.
// A new controller is created for every Estimate call.
type controller struct {
	state         State
	iteration     int
	maxIterations int
	required      int
	confidence    float64
	sampleSize    int
	n             int

	hasBest bool
	best    evaluation

	// median based early stop, zero when unused
	stopThreshold float64
	medianBased   bool

	// progressive sampling: quality order and minimal non-random support
	// per prefix size
	order     []int
	minimalIn []int
}

func newController(method Method, cfg Config, sampleSize, n int) *controller {
	c := &controller{
		state:         Running,
		maxIterations: cfg.MaxIterations,
		required:      cfg.MaxIterations,
		confidence:    cfg.Confidence,
		sampleSize:    sampleSize,
		n:             n,
	}
	if method.medianBased() {
		c.stopThreshold = cfg.StopThreshold
		c.medianBased = true
	}
	return c
}

// withProgressiveOrder enables the non-randomness criterion for the given
// descending quality order.
func (c *controller) withProgressiveOrder(order []int) *controller {
	c.order = order
	c.minimalIn = nonRandomSupport(c.sampleSize, len(order))
	return c
}

// nonRandomSupport returns, for each prefix size n (index n), the smallest
// inlier count whose probability of arising from a wrong model is below
// nonRandomPsi. Entries below sampleSize are unused.
func nonRandomSupport(sampleSize, n int) []int {
	table := make([]int, n+1)
	if n < sampleSize {
		return table
	}
	table[sampleSize] = sampleSize
	j := sampleSize + 1
	for size := sampleSize + 1; size <= n; size++ {
		dist := distuv.Binomial{N: float64(size - sampleSize), P: nonRandomBeta}
		// P(X >= j-M) = Survival(j-M-1); the bound never decreases with size.
		for j <= size && dist.Survival(float64(j-sampleSize-1)) >= nonRandomPsi {
			j++
		}
		table[size] = j
	}
	return table
}

// accept records a new best evaluation and recomputes the required number
// of iterations. inliers is the mask of the new best model.
func (c *controller) accept(e evaluation, inliers []bool) {
	c.hasBest = true
	c.best = e
	if c.order == nil {
		c.required = RequiredIterations(c.confidence, c.supportRatio(e.numInliers, c.n), c.sampleSize, c.maxIterations)
		return
	}
	c.required = c.progressiveRequired(inliers)
}

// progressiveRequired is the minimum of the standard bound over the prefix
// sizes whose support passes the non-randomness test. When no prefix passes
// the search continues up to maxIterations.
func (c *controller) progressiveRequired(inliers []bool) int {
	required := c.maxIterations
	count := 0
	for size := 1; size <= len(c.order); size++ {
		if inliers[c.order[size-1]] {
			count++
		}
		if size < c.sampleSize || count < c.minimalIn[size] {
			continue
		}
		k := RequiredIterations(c.confidence, c.supportRatio(count, size), c.sampleSize, c.maxIterations)
		if k < required {
			required = k
		}
	}
	return required
}

// supportRatio is the inlier ratio the iteration bound is derived from. The
// median rules scale their inlier bound with the median itself, so a wrong
// model can classify nearly every point as an inlier; all the median
// certifies is that half the points lie within it.
func (c *controller) supportRatio(count, size int) float64 {
	ratio := float64(count) / float64(size)
	if c.medianBased && ratio > 0.5 {
		return 0.5
	}
	return ratio
}

func (c *controller) qualified() bool {
	return c.hasBest && c.best.numInliers >= c.sampleSize
}

// advance moves to the next iteration and updates the state. It returns
// true while the search should continue.
func (c *controller) advance() bool {
	if c.state != Running {
		return false
	}
	switch {
	case c.qualified() && c.stopThreshold > 0 && math.Sqrt(c.best.cost) <= c.stopThreshold:
		c.state = Converged
	case c.qualified() && c.iteration >= c.required:
		c.state = Converged
	case c.iteration >= c.maxIterations:
		if c.qualified() {
			c.state = Converged
		} else {
			c.state = ExhaustedIterations
		}
	}
	return c.state == Running
}

// progress is the completed fraction of the current iteration bound.
func (c *controller) progress() float64 {
	bound := c.maxIterations
	if c.hasBest {
		bound = c.required
	}
	p := float64(c.iteration) / float64(bound)
	if p > 1 {
		return 1
	}
	return p
}
