package robust

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
)

// evaluation is the score of one candidate model. cost carries the method
// specific quantity: truncated loss for MSAC, median squared residual for
// the median based methods, squared residual sum over inliers for PROSAC.
type evaluation struct {
	numInliers int
	cost       float64
}

// scorer turns a residual vector into an evaluation and fills the inlier
// mask. One implementation per scoring rule; the estimation loop is shared.
type scorer interface {
	evaluate(residuals []float64, inliers []bool) evaluation
	better(candidate, best evaluation) bool
}

func newScorer(method Method, cfg Config, sampleSize, n int) scorer {
	switch method {
	case MSAC:
		return msacScorer{threshold: cfg.Threshold}
	case PROSAC:
		return prosacScorer{threshold: cfg.Threshold}
	case LMedS, PROMedS:
		return &medianScorer{
			sampleSize:    sampleSize,
			inlierFactor:  cfg.InlierFactor,
			stopThreshold: cfg.StopThreshold,
			scratch:       make([]float64, n),
		}
	default:
		return ransacScorer{threshold: cfg.Threshold}
	}
}

// classify marks r <= threshold as inliers and returns the inlier count.
func classify(residuals []float64, inliers []bool, threshold float64) int {
	count := 0
	for i, r := range residuals {
		inliers[i] = r <= threshold
		if inliers[i] {
			count++
		}
	}
	return count
}

type ransacScorer struct {
	threshold float64
}

func (s ransacScorer) evaluate(residuals []float64, inliers []bool) evaluation {
	return evaluation{numInliers: classify(residuals, inliers, s.threshold)}
}

func (ransacScorer) better(candidate, best evaluation) bool {
	return candidate.numInliers > best.numInliers
}

type msacScorer struct {
	threshold float64
}

func (s msacScorer) evaluate(residuals []float64, inliers []bool) evaluation {
	t2 := s.threshold * s.threshold
	cost := 0.0
	for _, r := range residuals {
		cost += math.Min(r*r, t2)
	}
	return evaluation{numInliers: classify(residuals, inliers, s.threshold), cost: cost}
}

func (msacScorer) better(candidate, best evaluation) bool {
	return candidate.cost < best.cost
}

type prosacScorer struct {
	threshold float64
}

func (s prosacScorer) evaluate(residuals []float64, inliers []bool) evaluation {
	count := classify(residuals, inliers, s.threshold)
	ssr := 0.0
	for i, r := range residuals {
		if inliers[i] {
			ssr += r * r
		}
	}
	return evaluation{numInliers: count, cost: ssr}
}

func (prosacScorer) better(candidate, best evaluation) bool {
	if candidate.numInliers != best.numInliers {
		return candidate.numInliers > best.numInliers
	}
	return candidate.cost < best.cost
}

// medianScorer implements the least median of squares rule used by LMedS
// and PROMedS. Inliers are the residuals within inlierFactor robust standard
// deviations, never tighter than stopThreshold.
type medianScorer struct {
	sampleSize    int
	inlierFactor  float64
	stopThreshold float64
	scratch       []float64
}

func (s *medianScorer) evaluate(residuals []float64, inliers []bool) evaluation {
	med := s.medianSquared(residuals)
	bound := math.Max(s.inlierFactor*robustSigma(med, len(residuals), s.sampleSize), s.stopThreshold)
	return evaluation{numInliers: classify(residuals, inliers, bound), cost: med}
}

func (*medianScorer) better(candidate, best evaluation) bool {
	return candidate.cost < best.cost
}

func (s *medianScorer) medianSquared(residuals []float64) float64 {
	sq := s.scratch[:len(residuals)]
	copy(sq, residuals)
	floats.Mul(sq, residuals)
	sort.Float64s(sq)
	mid := len(sq) / 2
	if len(sq)%2 == 1 {
		return sq[mid]
	}
	return (sq[mid-1] + sq[mid]) / 2
}

// robustSigma is the Rousseeuw estimate of the residual standard deviation
// from the median squared residual, with the finite sample correction.
func robustSigma(medianSquared float64, n, sampleSize int) float64 {
	correction := 1.0
	if n > sampleSize {
		correction += 5 / float64(n-sampleSize)
	}
	return 1.4826 * correction * math.Sqrt(medianSquared)
}
