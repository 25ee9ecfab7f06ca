package robust

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Refiner is the optional capability a Family implements to take part in
// non-linear refinement. The model is mapped to a flat parameter vector and
// each correspondence contributes ResidualDims residual components.
type Refiner[I, O, M any] interface {
	Parameters(m M) []float64
	// FromParameters builds a model from params. template is the model the
	// parameters were taken from and carries any fixed state.
	FromParameters(params []float64, template M) (M, error)
	ResidualDims() int
	ResidualVector(dst []float64, m M, in I, out O)
}

// Constraint is a soft penalty on the parameter vector. It writes Dims
// weighted terms of the form sqrt(weight)*(f(params)-target).
type Constraint interface {
	Dims() int
	Residuals(dst, params []float64)
}

// Constrained is implemented by families that add soft constraints to the
// refinement cost, such as suggested camera parameters.
type Constrained interface {
	Constraints() []Constraint
}

const (
	lmInitialLambda = 1e-3
	lmMaxLambda     = 1e12
	lmMaxRetries    = 10
	maxCondition    = 1e14
)

type refineOptions struct {
	fast       bool
	covariance bool
}

func (o refineOptions) limits() (iterations int, tolerance float64) {
	if o.fast {
		return 20, 1e-6
	}
	return 100, 1e-12
}

type refineResult[M any] struct {
	model       M
	covariance  *mat.SymDense
	initialCost float64
	cost        float64
	iterations  int
}

// refineModel minimises the squared residuals of the correspondences in
// indices plus the constraint terms with Levenberg-Marquardt. Steps are
// only accepted when they lower the cost, so the result is never worse than
// model.
func refineModel[I, O, M any](r Refiner[I, O, M], model M, inputs []I, output func(int) O,
	indices []int, constraints []Constraint, opts refineOptions) (refineResult[M], error) {

	res := refineResult[M]{model: model}
	x := append([]float64(nil), r.Parameters(model)...)
	dims := r.ResidualDims()

	rows := dims * len(indices)
	for _, c := range constraints {
		rows += c.Dims()
	}
	if rows < len(x) {
		return res, fmt.Errorf("%d residuals cannot determine %d parameters", rows, len(x))
	}

	f := func(y, params []float64) {
		m, err := r.FromParameters(params, model)
		if err != nil {
			for i := range y {
				y[i] = math.NaN()
			}
			return
		}
		off := 0
		for _, idx := range indices {
			r.ResidualVector(y[off:off+dims], m, inputs[idx], output(idx))
			off += dims
		}
		for _, c := range constraints {
			c.Residuals(y[off:off+c.Dims()], params)
			off += c.Dims()
		}
	}
	cost := func(y, params []float64) float64 {
		f(y, params)
		return floats.Dot(y, y)
	}

	y := make([]float64, rows)
	trial := make([]float64, rows)
	current := cost(y, x)
	if math.IsNaN(current) || math.IsInf(current, 0) {
		return res, fmt.Errorf("initial cost is not finite")
	}
	res.initialCost = current

	maxIter, tol := opts.limits()
	p := len(x)
	jac := mat.NewDense(rows, p, nil)
	settings := &fd.JacobianSettings{Formula: fd.Central}
	lambda := lmInitialLambda
	step := make([]float64, p)

	for res.iterations < maxIter && current > 0 {
		res.iterations++
		fd.Jacobian(jac, f, x, settings)

		normal := mat.NewSymDense(p, nil)
		normal.SymOuterK(1, jac.T())
		var grad mat.VecDense
		grad.MulVec(jac.T(), mat.NewVecDense(rows, y))

		accepted := false
		var next float64
		for try := 0; try < lmMaxRetries && lambda < lmMaxLambda; try++ {
			damped := mat.NewSymDense(p, nil)
			damped.CopySym(normal)
			for i := 0; i < p; i++ {
				d := normal.At(i, i)
				if d == 0 {
					d = 1
				}
				damped.SetSym(i, i, normal.At(i, i)+lambda*d)
			}
			var chol mat.Cholesky
			if !chol.Factorize(damped) {
				lambda *= 10
				continue
			}
			var delta mat.VecDense
			if err := chol.SolveVecTo(&delta, &grad); err != nil {
				lambda *= 10
				continue
			}
			for i := range step {
				step[i] = x[i] - delta.AtVec(i)
			}
			next = cost(trial, step)
			if next < current {
				accepted = true
				break
			}
			lambda *= 10
		}
		if !accepted {
			break
		}

		copy(x, step)
		y, trial = trial, y
		decrease := current - next
		current = next
		lambda = math.Max(lambda/10, 1e-12)
		if decrease <= tol*(1+current) {
			break
		}
	}

	refined, err := r.FromParameters(x, model)
	if err != nil {
		return res, fmt.Errorf("building refined model: %w", err)
	}
	res.model = refined
	res.cost = current

	if opts.covariance {
		fd.Jacobian(jac, f, x, settings)
		res.covariance = covariance(jac)
	}
	return res, nil
}

// covariance returns (JᵀJ)⁻¹, or nil when JᵀJ is singular or too badly
// conditioned to invert.
func covariance(jac mat.Matrix) *mat.SymDense {
	_, p := jac.Dims()
	normal := mat.NewSymDense(p, nil)
	normal.SymOuterK(1, jac.T())

	var chol mat.Cholesky
	if !chol.Factorize(normal) {
		return nil
	}
	if c := chol.Cond(); math.IsInf(c, 0) || c > maxCondition {
		return nil
	}
	inv := mat.NewSymDense(p, nil)
	if err := chol.InverseTo(inv); err != nil {
		return nil
	}
	return inv
}
