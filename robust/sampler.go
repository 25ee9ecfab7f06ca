package robust

import (
	"math"
	"math/rand"
	"sort"
)

// sampler fills dst with len(dst) distinct correspondence indices. It is
// called exactly once per iteration.
type sampler interface {
	sample(dst []int)
}

// drawDistinct fills dst with distinct values from [0, n) using Floyd's
// algorithm: each subset of size len(dst) is equally likely and duplicates
// cannot occur.
func drawDistinct(rng *rand.Rand, n int, dst []int) {
	k := 0
	for j := n - len(dst); j < n; j++ {
		t := rng.Intn(j + 1)
		if containsIndex(dst[:k], t) {
			t = j
		}
		dst[k] = t
		k++
	}
}

func containsIndex(s []int, v int) bool {
	for _, x := range s {
		if x == v {
			return true
		}
	}
	return false
}

type uniformSampler struct {
	n   int
	rng *rand.Rand
}

func newUniformSampler(n int, rng *rand.Rand) *uniformSampler {
	return &uniformSampler{n: n, rng: rng}
}

func (s *uniformSampler) sample(dst []int) {
	drawDistinct(s.rng, s.n, dst)
}

// progressiveSampler implements PROSAC sampling. Correspondences are sorted
// once by descending quality, ties in random order; draws are restricted to a prefix of that order
// whose size grows from the sample size to N following the growth function
// T_n, so early samples favor the best scored correspondences and late
// samples are uniform over the whole set.
type progressiveSampler struct {
	rng   *rand.Rand
	order []int
	m     int

	t       int     // samples drawn so far
	subset  int     // current prefix size
	tn      float64 // T_n
	tnPrime int     // T'_n

	positions []int
}

func newProgressiveSampler(quality []float64, m, maxIterations int, rng *rand.Rand) *progressiveSampler {
	n := len(quality)
	// Equal scores carry no ranking, so ties fall in a seeded random order.
	order := rng.Perm(n)
	sort.SliceStable(order, func(a, b int) bool {
		return quality[order[a]] > quality[order[b]]
	})

	// T_M = T_N * prod_{i=0}^{m-1} (m-i)/(n-i)
	tn := float64(maxIterations)
	for i := 0; i < m; i++ {
		tn *= float64(m-i) / float64(n-i)
	}
	return &progressiveSampler{
		rng:       rng,
		order:     order,
		m:         m,
		subset:    m,
		tn:        tn,
		tnPrime:   1,
		positions: make([]int, m),
	}
}

func (s *progressiveSampler) sample(dst []int) {
	s.t++
	n := len(s.order)
	for s.t > s.tnPrime && s.subset < n {
		next := s.tn * float64(s.subset+1) / float64(s.subset+1-s.m)
		s.tnPrime += int(math.Ceil(next - s.tn))
		s.tn = next
		s.subset++
	}

	if s.tnPrime < s.t {
		drawDistinct(s.rng, s.subset, s.positions)
	} else {
		// m-1 points from the first subset-1, plus the newest member.
		drawDistinct(s.rng, s.subset-1, s.positions[:s.m-1])
		s.positions[s.m-1] = s.subset - 1
	}
	for i, p := range s.positions {
		dst[i] = s.order[p]
	}
}

// prefixSize reports the current size of the sampling prefix.
func (s *progressiveSampler) prefixSize() int {
	return s.subset
}
