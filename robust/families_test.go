package robust

import (
	"errors"
	"math"
	"math/rand"
)

// Test families. lineFamily fits a 2D line through two points (single input
// sequence); offsetFamily fits a scalar offset between paired values.

type pt struct{ x, y float64 }

// line is a*x + b*y + c = 0 with a²+b² = 1.
type line struct{ a, b, c float64 }

func (l line) slope() float64     { return -l.a / l.b }
func (l line) intercept() float64 { return -l.c / l.b }

type lineFamily struct{}

func (lineFamily) SampleSize() int { return 2 }
func (lineFamily) Paired() bool    { return false }

func (lineFamily) Fit(inputs []pt, _ []struct{}, sample []int, _ bool) ([]line, error) {
	p, q := inputs[sample[0]], inputs[sample[1]]
	dx, dy := q.x-p.x, q.y-p.y
	n := math.Hypot(dx, dy)
	if n < 1e-12 {
		return nil, ErrDegenerate
	}
	a, b := -dy/n, dx/n
	return []line{{a: a, b: b, c: -(a*p.x + b*p.y)}}, nil
}

func (lineFamily) Residual(l line, in pt, _ struct{}) float64 {
	return math.Abs(l.a*in.x + l.b*in.y + l.c)
}

func (lineFamily) Parameters(l line) []float64 { return []float64{l.a, l.b, l.c} }

func (lineFamily) FromParameters(p []float64, _ line) (line, error) {
	n := math.Hypot(p[0], p[1])
	if n == 0 {
		return line{}, ErrDegenerate
	}
	return line{a: p[0] / n, b: p[1] / n, c: p[2] / n}, nil
}

func (lineFamily) ResidualDims() int { return 1 }

func (f lineFamily) ResidualVector(dst []float64, l line, in pt, _ struct{}) {
	dst[0] = l.a*in.x + l.b*in.y + l.c
}

type lineEstimator = Estimator[pt, struct{}, line]

func newLineEstimator(method Method, opts ...Option) (*lineEstimator, error) {
	return New[pt, struct{}, line](lineFamily{}, method, opts...)
}

// linePoints samples n points on y = slope*x + intercept. A fraction
// outlierRatio is displaced uniformly in [-100, 100]; the rest get Gaussian
// noise with the given sigma. Quality is inversely related to displacement.
func linePoints(rng *rand.Rand, n int, slope, intercept, sigma, outlierRatio float64) ([]pt, []float64) {
	points := make([]pt, n)
	quality := make([]float64, n)
	for i := range points {
		x := rng.Float64()*100 - 50
		y := slope*x + intercept
		var e float64
		if rng.Float64() < outlierRatio {
			e = rng.Float64()*200 - 100
		} else if sigma > 0 {
			e = rng.NormFloat64() * sigma
		}
		points[i] = pt{x, y + e}
		quality[i] = 1 / (1 + math.Abs(e))
	}
	return points, quality
}

type offsetFamily struct {
	constraints []Constraint
	failRebuild bool
}

func (*offsetFamily) SampleSize() int { return 1 }
func (*offsetFamily) Paired() bool    { return true }

func (*offsetFamily) Fit(inputs, outputs []float64, sample []int, _ bool) ([]float64, error) {
	i := sample[0]
	return []float64{outputs[i] - inputs[i]}, nil
}

func (*offsetFamily) Residual(d, in, out float64) float64 { return math.Abs(out - in - d) }

func (*offsetFamily) Parameters(d float64) []float64 { return []float64{d} }

func (f *offsetFamily) FromParameters(p []float64, _ float64) (float64, error) {
	if f.failRebuild {
		return 0, errors.New("rebuild failed")
	}
	return p[0], nil
}

func (*offsetFamily) ResidualDims() int { return 1 }

func (*offsetFamily) ResidualVector(dst []float64, d, in, out float64) { dst[0] = out - in - d }

func (f *offsetFamily) Constraints() []Constraint { return f.constraints }

// pull is a soft constraint pulling parameter 0 toward target.
type pull struct{ target, weight float64 }

func (pull) Dims() int { return 1 }

func (c pull) Residuals(dst, params []float64) {
	dst[0] = math.Sqrt(c.weight) * (params[0] - c.target)
}

// firstWrongFamily is lineFamily except that its first fit returns a steep
// line far from the data.
type firstWrongFamily struct {
	lineFamily
	calls *int
}

func (f firstWrongFamily) Fit(inputs []pt, outputs []struct{}, sample []int, normalize bool) ([]line, error) {
	*f.calls++
	if *f.calls == 1 {
		return f.lineFamily.Fit([]pt{{0, 0}, {1, 30}}, nil, []int{0, 1}, normalize)
	}
	return f.lineFamily.Fit(inputs, outputs, sample, normalize)
}

// stubFamily returns fixed results from Fit.
type stubFamily struct {
	models []line
	err    error
}

func (stubFamily) SampleSize() int { return 2 }
func (stubFamily) Paired() bool    { return false }

func (s stubFamily) Fit([]pt, []struct{}, []int, bool) ([]line, error) { return s.models, s.err }

func (stubFamily) Residual(l line, in pt, _ struct{}) float64 {
	return math.Abs(l.a*in.x + l.b*in.y + l.c)
}
