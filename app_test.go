package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kwv/robustfit/geometry"
	"github.com/kwv/robustfit/pipeline"
	"github.com/kwv/robustfit/robust"
)

func init() {
	pipeline.SetLogger(nil)
	robust.SetLogger(nil)
	geometry.SetLogger(nil)
}

// newTestApp returns an App writing to a buffer with a default config.
func newTestApp(t *testing.T) (*App, *bytes.Buffer) {
	t.Helper()
	var out bytes.Buffer
	app := NewApp()
	app.Out = &out
	app.Config = pipeline.DefaultConfig()
	app.Config.Estimation.Robust.Seed = 3
	return app, &out
}

func generateFile(t *testing.T, dir string, model pipeline.ModelKind) string {
	t.Helper()
	ds, err := pipeline.Generate(pipeline.GenerateOptions{Model: model, N: 60, OutlierRatio: 0.25, Noise: 0.2, Seed: 4})
	require.NoError(t, err)
	path := filepath.Join(dir, string(model)+".json")
	require.NoError(t, pipeline.SaveDataset(path, ds))
	return path
}

func TestNewApp(t *testing.T) {
	app := NewApp()
	require.NotNil(t, app.Tracker)
	assert.Equal(t, os.Stdout, app.Out)
	assert.Nil(t, app.Config)
	assert.Nil(t, app.Publisher)
}

func TestApplyOptions(t *testing.T) {
	app := NewApp()
	opts := AppOptions{
		ConfigFile:   "c.yaml",
		Method:       "LMedS",
		Generate:     true,
		Model:        "pose",
		N:            30,
		OutlierRatio: 0.1,
		Noise:        2,
		Seed:         8,
		DatasetFile:  "d.json",
		FetchURL:     "http://x",
		OutputFile:   "o.json",
		PlotFile:     "p.svg",
		ChartFile:    "c.png",
		GeoJSONFile:  "g.json",
		HttpMode:     true,
		HttpPort:     1234,
		MqttMode:     true,
		RunCache:     "runs.json",
	}
	app.ApplyOptions(opts)

	assert.Equal(t, "c.yaml", app.ConfigFile)
	assert.Equal(t, "LMedS", app.Method)
	assert.Equal(t, "pose", app.Model)
	assert.Equal(t, 30, app.N)
	assert.Equal(t, 0.1, app.OutlierRatio)
	assert.Equal(t, 2.0, app.Noise)
	assert.Equal(t, int64(8), app.Seed)
	assert.Equal(t, "d.json", app.DatasetFile)
	assert.Equal(t, "http://x", app.FetchURL)
	assert.Equal(t, "o.json", app.OutputFile)
	assert.Equal(t, "p.svg", app.PlotFile)
	assert.Equal(t, "c.png", app.ChartFile)
	assert.Equal(t, "g.json", app.GeoJSONFile)
	assert.True(t, app.HttpMode)
	assert.Equal(t, 1234, app.HttpPort)
	assert.True(t, app.MqttMode)
	assert.Equal(t, "runs.json", app.RunCache)
}

func TestLoadConfig_DefaultsWhenMissing(t *testing.T) {
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	app := NewApp()
	app.ConfigFile = pipeline.DefaultConfigPath
	app.Method = "RANSAC"
	require.NoError(t, app.loadConfig())
	assert.Equal(t, robust.RANSAC, app.Config.Estimation.Method)
}

func TestLoadConfig_ExplicitMissingFile(t *testing.T) {
	app := NewApp()
	app.ConfigFile = filepath.Join(t.TempDir(), "absent.yaml")
	err := app.loadConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load config")
}

func TestLoadConfig_FromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "robustfit.yaml")
	require.NoError(t, os.WriteFile(path, []byte("estimation:\n  method: LMedS\nhistory: 7\n"), 0644))

	app := NewApp()
	app.ConfigFile = path
	require.NoError(t, app.loadConfig())
	assert.Equal(t, robust.LMedS, app.Config.Estimation.Method)
	assert.Equal(t, 7, app.Config.History)
}

func TestRunGenerate(t *testing.T) {
	app, out := newTestApp(t)
	app.Model = "euclidean"
	app.N = 25
	app.OutlierRatio = 0.2
	app.Noise = 0.1
	app.Seed = 3
	app.OutputFile = filepath.Join(t.TempDir(), "out", "euclidean.json")

	require.NoError(t, app.RunGenerate())
	assert.Contains(t, out.String(), "Wrote euclidean dataset with 25 correspondences (5 outliers)")

	ds, err := pipeline.LoadDataset(app.OutputFile)
	require.NoError(t, err)
	assert.Equal(t, pipeline.ModelEuclidean, ds.Model)
	assert.Equal(t, 25, ds.Len())
}

func TestRunGenerate_InvalidModel(t *testing.T) {
	app, _ := newTestApp(t)
	app.Model = "spline"
	app.N = 20
	app.OutputFile = filepath.Join(t.TempDir(), "x.json")
	assert.Error(t, app.RunGenerate())
}

func TestRunEstimate_WritesOutputs(t *testing.T) {
	dir := t.TempDir()
	app, out := newTestApp(t)
	app.ConfigFile = filepath.Join(dir, "robustfit.yaml")
	require.NoError(t, os.WriteFile(app.ConfigFile, []byte("estimation:\n  method: MSAC\n  seed: 3\n"), 0644))

	app.DatasetFile = generateFile(t, dir, pipeline.ModelHomography)
	app.OutputFile = filepath.Join(dir, "result.json")
	app.PlotFile = filepath.Join(dir, "plot.svg")
	app.ChartFile = filepath.Join(dir, "chart.png")
	app.GeoJSONFile = filepath.Join(dir, "run.geojson")

	require.NoError(t, app.RunEstimate())

	report := out.String()
	assert.Contains(t, report, "Model:       homography")
	assert.Contains(t, report, "Method:      MSAC")
	assert.Contains(t, report, "Inliers:     ")

	data, err := os.ReadFile(app.OutputFile)
	require.NoError(t, err)
	var res pipeline.Result
	require.NoError(t, json.Unmarshal(data, &res))
	assert.Equal(t, pipeline.ModelHomography, res.Model)
	assert.Equal(t, robust.MSAC, res.Method)
	assert.Len(t, res.Parameters, 8)

	for _, p := range []string{app.PlotFile, app.ChartFile, app.GeoJSONFile} {
		info, err := os.Stat(p)
		require.NoError(t, err, p)
		assert.Positive(t, info.Size(), p)
	}

	// Runs are tracked.
	run, ok := app.Tracker.Latest()
	require.True(t, ok)
	assert.Equal(t, res.ID, run.ID)
}

func TestRunEstimate_PNGPlot(t *testing.T) {
	dir := t.TempDir()
	app, _ := newTestApp(t)
	app.ConfigFile = filepath.Join(dir, "absent", "robustfit.yaml")
	app.DatasetFile = generateFile(t, dir, pipeline.ModelAffine)
	app.PlotFile = filepath.Join(dir, "plot.png")

	// Explicit config paths must exist.
	require.Error(t, app.RunEstimate())

	app.ConfigFile = filepath.Join(dir, "robustfit.yaml")
	require.NoError(t, os.WriteFile(app.ConfigFile, []byte("render:\n  width: 200\n  height: 100\n"), 0644))
	require.NoError(t, app.RunEstimate())

	data, err := os.ReadFile(app.PlotFile)
	require.NoError(t, err)
	assert.Equal(t, "\x89PNG", string(data[:4]))
}

func TestRunEstimate_NonPlanarPlotFails(t *testing.T) {
	dir := t.TempDir()
	app, _ := newTestApp(t)
	app.ConfigFile = filepath.Join(dir, "robustfit.yaml")
	require.NoError(t, os.WriteFile(app.ConfigFile, []byte("history: 3\n"), 0644))
	app.DatasetFile = generateFile(t, dir, pipeline.ModelPoint3D)
	app.PlotFile = filepath.Join(dir, "plot.svg")

	err := app.RunEstimate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "planar")
}

func TestRunEstimate_MissingDataset(t *testing.T) {
	dir := t.TempDir()
	app, _ := newTestApp(t)
	app.ConfigFile = filepath.Join(dir, "robustfit.yaml")
	require.NoError(t, os.WriteFile(app.ConfigFile, []byte("history: 3\n"), 0644))
	app.DatasetFile = filepath.Join(dir, "absent.json")
	assert.Error(t, app.RunEstimate())
}

func TestEstimate_InvalidDatasetIsTracked(t *testing.T) {
	app, _ := newTestApp(t)
	res, err := app.Estimate(&pipeline.Dataset{Model: pipeline.ModelAffine}, app.Config.Estimation)
	require.Error(t, err)
	assert.Nil(t, res)

	run, ok := app.Tracker.Latest()
	require.True(t, ok)
	require.NotNil(t, run.Result)
	assert.Equal(t, pipeline.StateInvalid, run.Result.State)
	assert.NotEmpty(t, run.Result.Error)
}

func TestFormatFloats(t *testing.T) {
	assert.Equal(t, "[]", formatFloats(nil))
	assert.Equal(t, "[1 0.5 -2.25]", formatFloats([]float64{1, 0.5, -2.25}))
}
