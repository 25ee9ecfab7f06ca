package robust

import (
	"math/rand"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func assertDistinct(t *testing.T, sample []int, n int) {
	t.Helper()
	seen := make(map[int]bool, len(sample))
	for _, idx := range sample {
		require.True(t, idx >= 0 && idx < n, "index %d out of range", idx)
		require.False(t, seen[idx], "duplicate index %d in %v", idx, sample)
		seen[idx] = true
	}
}

func TestUniformSampler_DistinctAndCovering(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	s := newUniformSampler(10, rng)
	sample := make([]int, 4)
	hits := make([]int, 10)

	for i := 0; i < 2000; i++ {
		s.sample(sample)
		assertDistinct(t, sample, 10)
		for _, idx := range sample {
			hits[idx]++
		}
	}
	// 800 expected hits per index.
	for idx, h := range hits {
		assert.InDelta(t, 800, h, 150, "index %d", idx)
	}
}

func TestUniformSampler_FullSet(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	s := newUniformSampler(5, rng)
	sample := make([]int, 5)
	s.sample(sample)
	sorted := append([]int(nil), sample...)
	sort.Ints(sorted)
	assert.Equal(t, []int{0, 1, 2, 3, 4}, sorted)
}

func TestProgressiveSampler_StartsWithBestScored(t *testing.T) {
	quality := make([]float64, 20)
	for i := range quality {
		quality[i] = float64(i)
	}
	s := newProgressiveSampler(quality, 3, 200, rand.New(rand.NewSource(3)))
	assert.Equal(t, 19, s.order[0])
	assert.Equal(t, 0, s.order[19])

	sample := make([]int, 3)
	s.sample(sample)
	sort.Ints(sample)
	assert.Equal(t, []int{17, 18, 19}, sample)
}

func TestProgressiveSampler_PrefixGrowsToFullSet(t *testing.T) {
	const n, m, maxIter = 20, 3, 200
	quality := make([]float64, n)
	for i := range quality {
		quality[i] = float64(n - i)
	}
	s := newProgressiveSampler(quality, m, maxIter, rand.New(rand.NewSource(5)))

	rank := make(map[int]int, n)
	for r, idx := range s.order {
		rank[idx] = r
	}

	sample := make([]int, m)
	prev := s.prefixSize()
	for i := 0; i < maxIter+n+m; i++ {
		s.sample(sample)
		assertDistinct(t, sample, n)
		size := s.prefixSize()
		require.GreaterOrEqual(t, size, prev)
		for _, idx := range sample {
			require.Less(t, rank[idx], size, "sample outside prefix")
		}
		prev = size
	}
	assert.Equal(t, n, s.prefixSize())
}

func TestProgressiveSampler_RandomOrderForTies(t *testing.T) {
	quality := make([]float64, 50)
	for i := range quality {
		quality[i] = 1
	}
	quality[40] = 2

	s := newProgressiveSampler(quality, 2, 10, rand.New(rand.NewSource(1)))
	assert.Equal(t, 40, s.order[0], "the single best score leads")

	sorted := append([]int(nil), s.order...)
	sort.Ints(sorted)
	for i, v := range sorted {
		require.Equal(t, i, v, "order is a permutation")
	}
	assert.NotEqual(t, []int{40, 0, 1, 2, 3}, s.order[:5], "ties are not in index order")

	again := newProgressiveSampler(quality, 2, 10, rand.New(rand.NewSource(1)))
	assert.Equal(t, s.order, again.order, "same seed, same order")
}
