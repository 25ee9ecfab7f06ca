package pipeline

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kwv/robustfit/robust"
)

func TestRunTracker_BeginFinish(t *testing.T) {
	rt := NewRunTracker(10)
	ds := &Dataset{Model: ModelAffine}

	rt.Begin("a", ds)
	run, ok := rt.Get("a")
	require.True(t, ok)
	assert.Same(t, ds, run.Dataset)
	assert.Nil(t, run.Result)

	rt.RunProgressed("a", robust.Status{Method: robust.RANSAC, Iteration: 3})
	run, _ = rt.Get("a")
	require.NotNil(t, run.Status)
	assert.Equal(t, 3, run.Status.Iteration)

	res := &Result{ID: "a", Model: ModelAffine, NumInliers: 7}
	rt.Finish(res, nil)
	run, _ = rt.Get("a")
	assert.Same(t, res, run.Result)
	assert.Same(t, ds, run.Dataset, "Finish with nil dataset keeps the registered one")

	_, ok = rt.Get("missing")
	assert.False(t, ok)
}

func TestRunTracker_Eviction(t *testing.T) {
	rt := NewRunTracker(3)
	for i := 0; i < 5; i++ {
		rt.Finish(&Result{ID: fmt.Sprintf("run-%d", i)}, nil)
	}

	assert.Equal(t, 3, rt.Len())
	_, ok := rt.Get("run-0")
	assert.False(t, ok)
	_, ok = rt.Get("run-1")
	assert.False(t, ok)

	list := rt.List()
	require.Len(t, list, 3)
	assert.Equal(t, "run-4", list[0].ID)
	assert.Equal(t, "run-2", list[2].ID)

	latest, ok := rt.Latest()
	require.True(t, ok)
	assert.Equal(t, "run-4", latest.ID)
}

func TestRunTracker_ListOmitsDatasets(t *testing.T) {
	rt := NewRunTracker(2)
	rt.Begin("x", &Dataset{Model: ModelPoint2D})
	list := rt.List()
	require.Len(t, list, 1)
	assert.Nil(t, list[0].Dataset)

	run, _ := rt.Get("x")
	assert.NotNil(t, run.Dataset, "List must not clear the stored dataset")
}

func TestRunTracker_EmptyAndMinimumLimit(t *testing.T) {
	rt := NewRunTracker(0)
	_, ok := rt.Latest()
	assert.False(t, ok)
	assert.Empty(t, rt.List())

	rt.Finish(&Result{ID: "a"}, nil)
	rt.Finish(&Result{ID: "b"}, nil)
	assert.Equal(t, 1, rt.Len())
}

func TestRunTracker_ObserverRegistersUnknownRuns(t *testing.T) {
	rt := NewRunTracker(5)
	rt.RunStarted("live", robust.Status{StateName: robust.Running.String()})
	rt.RunFinished("live", robust.Status{StateName: robust.Converged.String()})

	run, ok := rt.Get("live")
	require.True(t, ok)
	assert.Equal(t, robust.Converged.String(), run.Status.StateName)
}

func TestRunTracker_Cache(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache", "runs.json")

	rt := NewRunTrackerWithCache(5, path)
	assert.Equal(t, 0, rt.Len())
	rt.Begin("a", &Dataset{Model: ModelEuclidean})
	rt.Finish(&Result{ID: "a", Model: ModelEuclidean, NumInliers: 12}, nil)
	rt.Finish(&Result{ID: "b", Model: ModelAffine}, nil)

	_, err := os.Stat(path)
	require.NoError(t, err)

	reloaded := NewRunTrackerWithCache(5, path)
	require.Equal(t, 2, reloaded.Len())
	run, ok := reloaded.Get("a")
	require.True(t, ok)
	assert.Equal(t, 12, run.Result.NumInliers)
	assert.Equal(t, ModelEuclidean, run.Dataset.Model)

	latest, _ := reloaded.Latest()
	assert.Equal(t, "b", latest.ID)
}

func TestRunTracker_CorruptCache(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs.json")
	require.NoError(t, os.WriteFile(path, []byte("not json"), 0644))

	rt := NewRunTrackerWithCache(5, path)
	assert.Equal(t, 0, rt.Len())

	_, err := LoadRuns(path)
	assert.Error(t, err)

	_, err = LoadRuns(filepath.Join(t.TempDir(), "absent.json"))
	assert.True(t, os.IsNotExist(err))
}

func TestRunTracker_Concurrent(t *testing.T) {
	rt := NewRunTracker(100)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("run-%d", i)
			rt.Begin(id, nil)
			rt.RunProgressed(id, robust.Status{Iteration: i})
			rt.Finish(&Result{ID: id}, nil)
			_ = rt.List()
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 20, rt.Len())
}

func TestObservers_FanOut(t *testing.T) {
	a, b := &recordingObserver{}, &recordingObserver{}
	obs := Observers{a, nil, b}

	obs.RunStarted("r", robust.Status{})
	obs.RunProgressed("r", robust.Status{})
	obs.RunFinished("r", robust.Status{Iteration: 9})

	for _, o := range []*recordingObserver{a, b} {
		assert.Equal(t, []string{EventStart, EventProgress, EventEnd}, o.events)
		assert.Equal(t, 9, o.last.Iteration)
	}
}
