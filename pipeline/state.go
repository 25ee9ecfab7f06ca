package pipeline

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/kwv/robustfit/robust"
)

// Run is one tracked estimation: the dataset it ran on, its live status
// while it runs, and its result once it finished.
type Run struct {
	ID      string         `json:"id"`
	Status  *robust.Status `json:"status,omitempty"`
	Result  *Result        `json:"result,omitempty"`
	Dataset *Dataset       `json:"dataset,omitempty"`
}

// RunTracker keeps the most recent runs in memory for the HTTP endpoints.
// It implements Observer so it can follow runs in progress.
type RunTracker struct {
	mu        sync.RWMutex
	limit     int
	order     []string // oldest first
	runs      map[string]*Run
	cachePath string // empty disables persistence
}

// NewRunTracker creates a tracker that keeps at most limit runs.
func NewRunTracker(limit int) *RunTracker {
	if limit < 1 {
		limit = 1
	}
	return &RunTracker{
		limit: limit,
		runs:  make(map[string]*Run),
	}
}

// NewRunTrackerWithCache creates a tracker persisted to cachePath. Runs saved
// by a previous process are loaded when the file exists.
func NewRunTrackerWithCache(limit int, cachePath string) *RunTracker {
	rt := NewRunTracker(limit)
	rt.cachePath = cachePath
	if cachePath == "" {
		return rt
	}
	runs, err := LoadRuns(cachePath)
	if err != nil {
		if !os.IsNotExist(err) {
			Logf("[PIPELINE] Ignoring run cache %s: %v", cachePath, err)
		}
		return rt
	}
	for _, r := range runs {
		rt.insert(r)
	}
	return rt
}

// Begin registers a run before it starts so its progress can be observed.
func (rt *RunTracker) Begin(id string, ds *Dataset) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.insert(&Run{ID: id, Dataset: ds})
}

// Finish stores the result of a run, registering it if needed.
func (rt *RunTracker) Finish(res *Result, ds *Dataset) {
	rt.mu.Lock()
	run, ok := rt.runs[res.ID]
	if !ok {
		run = &Run{ID: res.ID}
		rt.insert(run)
	}
	run.Result = res
	if ds != nil {
		run.Dataset = ds
	}
	snapshot := rt.snapshotLocked()
	rt.mu.Unlock()

	if rt.cachePath != "" {
		if err := SaveRuns(rt.cachePath, snapshot); err != nil {
			Logf("[PIPELINE] warning: failed to save run cache: %v", err)
		}
	}
}

// insert adds a run and evicts the oldest beyond the limit. Callers hold the
// write lock.
func (rt *RunTracker) insert(r *Run) {
	if _, ok := rt.runs[r.ID]; !ok {
		rt.order = append(rt.order, r.ID)
	}
	rt.runs[r.ID] = r
	for len(rt.order) > rt.limit {
		delete(rt.runs, rt.order[0])
		rt.order = rt.order[1:]
	}
}

// Get returns a copy of the run with the given ID.
func (rt *RunTracker) Get(id string) (Run, bool) {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	r, ok := rt.runs[id]
	if !ok {
		return Run{}, false
	}
	return *r, true
}

// List returns the tracked runs, newest first, without their datasets.
func (rt *RunTracker) List() []Run {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	out := make([]Run, 0, len(rt.order))
	for i := len(rt.order) - 1; i >= 0; i-- {
		r := *rt.runs[rt.order[i]]
		r.Dataset = nil
		out = append(out, r)
	}
	return out
}

// Latest returns the most recently registered run.
func (rt *RunTracker) Latest() (Run, bool) {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	if len(rt.order) == 0 {
		return Run{}, false
	}
	return *rt.runs[rt.order[len(rt.order)-1]], true
}

// Len returns the number of tracked runs.
func (rt *RunTracker) Len() int {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	return len(rt.order)
}

func (rt *RunTracker) setStatus(id string, st robust.Status) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	r, ok := rt.runs[id]
	if !ok {
		r = &Run{ID: id}
		rt.insert(r)
	}
	r.Status = &st
}

func (rt *RunTracker) RunStarted(id string, st robust.Status)    { rt.setStatus(id, st) }
func (rt *RunTracker) RunProgressed(id string, st robust.Status) { rt.setStatus(id, st) }
func (rt *RunTracker) RunFinished(id string, st robust.Status)   { rt.setStatus(id, st) }

func (rt *RunTracker) snapshotLocked() []*Run {
	out := make([]*Run, 0, len(rt.order))
	for _, id := range rt.order {
		r := *rt.runs[id]
		out = append(out, &r)
	}
	return out
}

// SaveRuns writes runs to disk as JSON.
func SaveRuns(path string, runs []*Run) error {
	data, err := json.MarshalIndent(runs, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal runs: %w", err)
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create cache directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write run cache: %w", err)
	}
	return nil
}

// LoadRuns reads runs saved by SaveRuns. A missing file is reported with an
// error satisfying os.IsNotExist.
func LoadRuns(path string) ([]*Run, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var runs []*Run
	if err := json.Unmarshal(data, &runs); err != nil {
		return nil, fmt.Errorf("unmarshal run cache: %w", err)
	}
	return runs, nil
}

// Observers fans notifications out to several observers. Nil entries are
// skipped.
type Observers []Observer

func (obs Observers) RunStarted(id string, st robust.Status) {
	for _, o := range obs {
		if o != nil {
			o.RunStarted(id, st)
		}
	}
}

func (obs Observers) RunProgressed(id string, st robust.Status) {
	for _, o := range obs {
		if o != nil {
			o.RunProgressed(id, st)
		}
	}
}

func (obs Observers) RunFinished(id string, st robust.Status) {
	for _, o := range obs {
		if o != nil {
			o.RunFinished(id, st)
		}
	}
}
