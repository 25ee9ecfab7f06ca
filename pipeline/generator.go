package pipeline

import (
	"fmt"
	"math"
	"math/rand"
	"sort"
	"time"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/kwv/robustfit/geometry"
)

// GenerateOptions describes a synthetic dataset.
type GenerateOptions struct {
	Model        ModelKind `json:"model" yaml:"model"`
	N            int       `json:"n" yaml:"n"`
	OutlierRatio float64   `json:"outlierRatio" yaml:"outlierRatio"`
	Noise        float64   `json:"noise" yaml:"noise"` // inlier standard deviation
	Seed         int64     `json:"seed" yaml:"seed"`   // 0 picks a time based seed
}

// DefaultGenerateOptions returns a 200 point affine dataset with 30% outliers.
func DefaultGenerateOptions() GenerateOptions {
	return GenerateOptions{
		Model:        ModelAffine,
		N:            200,
		OutlierRatio: 0.3,
		Noise:        0.5,
		Seed:         1,
	}
}

// minGenerated is the smallest dataset Generate produces; it covers the
// largest minimal sample of any family.
const minGenerated = 10

// Generate builds a synthetic dataset with known truth. Inliers are
// perturbed by gaussian noise of standard deviation Noise; the outliers are
// displaced by at least ten times that (and never less than 10 units).
// Quality scores decrease with the perturbation of each correspondence.
func Generate(opts GenerateOptions) (*Dataset, error) {
	if opts.N < minGenerated {
		return nil, fmt.Errorf("generate: need at least %d correspondences, got %d", minGenerated, opts.N)
	}
	if !(opts.OutlierRatio >= 0 && opts.OutlierRatio < 1) {
		return nil, fmt.Errorf("generate: outlier ratio must be in [0,1), got %g", opts.OutlierRatio)
	}
	if !(opts.Noise >= 0) || math.IsInf(opts.Noise, 0) {
		return nil, fmt.Errorf("generate: noise must be non-negative, got %g", opts.Noise)
	}

	seed := opts.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	g := &generator{
		rng:   rand.New(rand.NewSource(seed)),
		noise: distuv.Normal{Mu: 0, Sigma: opts.Noise},
		n:     opts.N,
	}
	g.pickOutliers(int(math.Round(opts.OutlierRatio * float64(opts.N))))
	g.minOutlier = math.Max(10, 10*opts.Noise)

	ds := &Dataset{Model: opts.Model, Quality: make([]float64, opts.N)}
	switch opts.Model {
	case ModelPoint2D:
		g.point2D(ds)
	case ModelPoint3D:
		g.point3D(ds)
	case ModelAffine:
		g.affine(ds)
	case ModelEuclidean:
		g.euclidean(ds)
	case ModelHomography:
		g.homography(ds)
	case ModelCamera, ModelPose:
		g.camera(ds)
	default:
		return nil, fmt.Errorf("generate: unknown model %q", opts.Model)
	}
	ds.Outliers = g.outlierList()

	Logf("[PIPELINE] Generated %s dataset: %d correspondences, %d outliers, noise %.3g",
		ds.Model, opts.N, len(ds.Outliers), opts.Noise)
	return ds, nil
}

type generator struct {
	rng        *rand.Rand
	noise      distuv.Normal
	n          int
	outlier    []bool
	minOutlier float64
}

func (g *generator) pickOutliers(k int) {
	g.outlier = make([]bool, g.n)
	for _, i := range g.rng.Perm(g.n)[:k] {
		g.outlier[i] = true
	}
}

func (g *generator) outlierList() []int {
	var idx []int
	for i, o := range g.outlier {
		if o {
			idx = append(idx, i)
		}
	}
	sort.Ints(idx)
	return idx
}

// gauss draws one noise sample by inverting the normal CDF on the
// generator's own stream, which keeps datasets reproducible per seed.
func (g *generator) gauss() float64 {
	if g.noise.Sigma == 0 {
		return 0
	}
	p := g.rng.Float64()
	for p == 0 {
		p = g.rng.Float64()
	}
	return g.noise.Quantile(p)
}

func (g *generator) uniform(lo, hi float64) float64 {
	return lo + g.rng.Float64()*(hi-lo)
}

// perturb2D returns the displacement of correspondence i: gaussian for
// inliers, a large random offset for outliers.
func (g *generator) perturb2D(i int) r2.Point {
	if g.outlier[i] {
		angle := g.uniform(0, 2*math.Pi)
		mag := g.uniform(g.minOutlier, 10*g.minOutlier)
		return r2.Point{X: mag * math.Cos(angle), Y: mag * math.Sin(angle)}
	}
	return r2.Point{X: g.gauss(), Y: g.gauss()}
}

// offset returns a signed scalar displacement for correspondence i.
func (g *generator) offset(i int) float64 {
	if g.outlier[i] {
		mag := g.uniform(g.minOutlier, 10*g.minOutlier)
		if g.rng.Intn(2) == 0 {
			return -mag
		}
		return mag
	}
	return g.gauss()
}

func quality(perturbation float64) float64 {
	return 1 / (1 + math.Abs(perturbation))
}

func (g *generator) point2D(ds *Dataset) {
	target := r2.Point{X: g.uniform(-100, 100), Y: g.uniform(-100, 100)}
	ds.Lines = make([]geometry.Line, g.n)
	for i := range ds.Lines {
		angle := g.uniform(0, math.Pi)
		dir := r2.Point{X: math.Cos(angle), Y: math.Sin(angle)}
		off := g.offset(i)
		p := target.Add(dir.Ortho().Mul(off))
		// dir is a unit vector, so the points never coincide.
		ds.Lines[i], _ = geometry.LineThrough(p, p.Add(dir))
		ds.Quality[i] = quality(off)
	}
	ds.Truth = geometry.PointFromLines{}.Parameters(target)
}

func (g *generator) point3D(ds *Dataset) {
	target := r3.Vector{X: g.uniform(-100, 100), Y: g.uniform(-100, 100), Z: g.uniform(-100, 100)}
	ds.Planes = make([]geometry.Plane, g.n)
	for i := range ds.Planes {
		normal := r3.Vector{X: g.rng.NormFloat64(), Y: g.rng.NormFloat64(), Z: g.rng.NormFloat64()}.Normalize()
		off := g.offset(i)
		ds.Planes[i] = geometry.Plane{Normal: normal, D: -normal.Dot(target) + off}
		ds.Quality[i] = quality(off)
	}
	ds.Truth = geometry.PointFromPlanes{}.Parameters(target)
}

func (g *generator) mapped(ds *Dataset, apply func(r2.Point) r2.Point, lo, hi r2.Point) {
	ds.Source = make([]r2.Point, g.n)
	ds.Target = make([]r2.Point, g.n)
	for i := range ds.Source {
		ds.Source[i] = r2.Point{X: g.uniform(lo.X, hi.X), Y: g.uniform(lo.Y, hi.Y)}
		d := g.perturb2D(i)
		ds.Target[i] = apply(ds.Source[i]).Add(d)
		ds.Quality[i] = quality(d.Norm())
	}
}

func (g *generator) affine(ds *Dataset) {
	truth := geometry.AffineMatrix{
		A: g.uniform(0.8, 1.2), B: g.uniform(-0.2, 0.2), Tx: g.uniform(-50, 50),
		C: g.uniform(-0.2, 0.2), D: g.uniform(0.8, 1.2), Ty: g.uniform(-50, 50),
	}
	g.mapped(ds, truth.Apply, r2.Point{X: -100, Y: -100}, r2.Point{X: 100, Y: 100})
	ds.Truth = geometry.Affine2D{}.Parameters(truth)
}

func (g *generator) euclidean(ds *Dataset) {
	truth := geometry.Euclidean(g.uniform(-math.Pi, math.Pi), g.uniform(-50, 50), g.uniform(-50, 50))
	g.mapped(ds, truth.Apply, r2.Point{X: -100, Y: -100}, r2.Point{X: 100, Y: 100})
	ds.Truth = geometry.Euclidean2D{}.Parameters(truth)
}

func (g *generator) homography(ds *Dataset) {
	// A mild perspective keeps every point of the 640x480 frame in front of
	// the horizon line.
	truth, err := geometry.NewHomography([]float64{
		g.uniform(0.9, 1.1), g.uniform(-0.1, 0.1), g.uniform(-20, 20),
		g.uniform(-0.1, 0.1), g.uniform(0.9, 1.1), g.uniform(-20, 20),
		g.uniform(-2e-4, 2e-4), g.uniform(-2e-4, 2e-4), 1,
	})
	if err != nil {
		panic(err) // h33 is 1
	}
	g.mapped(ds, truth.Apply, r2.Point{}, r2.Point{X: 640, Y: 480})
	ds.Truth = geometry.Homography2D{}.Parameters(truth)
}

// generatedIntrinsics is the calibration of every generated camera.
var generatedIntrinsics = geometry.Intrinsics{FocalX: 800, FocalY: 800, PrincipalX: 320, PrincipalY: 240}

func (g *generator) camera(ds *Dataset) {
	rotation := geometry.RotationFromVector(r3.Vector{
		X: g.uniform(-0.2, 0.2), Y: g.uniform(-0.2, 0.2), Z: g.uniform(-0.2, 0.2),
	})
	center := r3.Vector{X: g.uniform(-1, 1), Y: g.uniform(-1, 1), Z: -10}
	cam := geometry.ComposeCamera(generatedIntrinsics, rotation, center)

	ds.World = make([]r3.Vector, g.n)
	ds.Image = make([]r2.Point, g.n)
	for i := range ds.World {
		ds.World[i] = r3.Vector{X: g.uniform(-5, 5), Y: g.uniform(-5, 5), Z: g.uniform(0, 10)}
		d := g.perturb2D(i)
		ds.Image[i] = cam.Project(ds.World[i]).Add(d)
		ds.Quality[i] = quality(d.Norm())
	}

	if ds.Model == ModelPose {
		k := generatedIntrinsics
		ds.Intrinsics = &k
		family, err := geometry.NewKnownIntrinsicsPose(k)
		if err != nil {
			panic(err) // constant intrinsics are valid
		}
		ds.Truth = family.Parameters(family.NewPose(rotation, center))
		return
	}
	ds.Truth = (&geometry.PinholeCamera{}).Parameters(cam)
}
