package main

import (
	"bytes"
	"errors"
	"flag"
	"strings"
	"testing"
)

type mockApp struct {
	opts   AppOptions
	called map[string]bool
	err    error
}

func newMockApp() *mockApp {
	return &mockApp{
		called: make(map[string]bool),
	}
}

func (m *mockApp) ApplyOptions(opts AppOptions) { m.opts = opts }
func (m *mockApp) RunGenerate() error           { m.called["RunGenerate"] = true; return m.err }
func (m *mockApp) RunEstimate() error           { m.called["RunEstimate"] = true; return m.err }
func (m *mockApp) RunService() error            { m.called["RunService"] = true; return m.err }

func TestRun_Flags(t *testing.T) {
	tests := []struct {
		name           string
		args           []string
		expectedCalled string
		verifyOpts     func(*testing.T, AppOptions)
	}{
		{
			name:           "Generate",
			args:           []string{"--generate", "--model", "homography", "--n", "80", "--outliers", "0.4", "--noise", "1.5", "--seed", "9", "--output", "h.json"},
			expectedCalled: "RunGenerate",
			verifyOpts: func(t *testing.T, opts AppOptions) {
				if opts.Model != "homography" {
					t.Errorf("expected Model homography, got %s", opts.Model)
				}
				if opts.N != 80 || opts.OutlierRatio != 0.4 || opts.Noise != 1.5 || opts.Seed != 9 {
					t.Errorf("unexpected generate options: %+v", opts)
				}
				if opts.OutputFile != "h.json" {
					t.Errorf("expected OutputFile h.json, got %s", opts.OutputFile)
				}
			},
		},
		{
			name:           "GenerateDefaults",
			args:           []string{"--generate"},
			expectedCalled: "RunGenerate",
			verifyOpts: func(t *testing.T, opts AppOptions) {
				if opts.Model != "affine" || opts.N != 200 || opts.Seed != 1 {
					t.Errorf("unexpected defaults: %+v", opts)
				}
				if opts.ConfigFile != "robustfit.yaml" {
					t.Errorf("expected default config robustfit.yaml, got %s", opts.ConfigFile)
				}
			},
		},
		{
			name:           "EstimateFile",
			args:           []string{"--dataset", "d.json", "--method", "msac", "--plot", "p.svg", "--chart", "c.png", "--geojson", "g.json"},
			expectedCalled: "RunEstimate",
			verifyOpts: func(t *testing.T, opts AppOptions) {
				if opts.DatasetFile != "d.json" {
					t.Errorf("expected DatasetFile d.json, got %s", opts.DatasetFile)
				}
				if opts.Method != "msac" {
					t.Errorf("expected Method msac, got %s", opts.Method)
				}
				if opts.PlotFile != "p.svg" || opts.ChartFile != "c.png" || opts.GeoJSONFile != "g.json" {
					t.Errorf("unexpected output files: %+v", opts)
				}
			},
		},
		{
			name:           "EstimateFetch",
			args:           []string{"--fetch", "http://example.test/ds.json"},
			expectedCalled: "RunEstimate",
			verifyOpts: func(t *testing.T, opts AppOptions) {
				if opts.FetchURL != "http://example.test/ds.json" {
					t.Errorf("expected FetchURL, got %s", opts.FetchURL)
				}
			},
		},
		{
			name:           "HTTP",
			args:           []string{"--http", "--http-port", "9090", "--run-cache", ""},
			expectedCalled: "RunService",
			verifyOpts: func(t *testing.T, opts AppOptions) {
				if !opts.HttpMode || opts.HttpPort != 9090 {
					t.Errorf("expected HTTP on 9090, got %+v", opts)
				}
				if opts.RunCache != "" {
					t.Errorf("expected empty RunCache, got %s", opts.RunCache)
				}
			},
		},
		{
			name:           "MQTT",
			args:           []string{"--mqtt", "--config", "svc.yaml"},
			expectedCalled: "RunService",
			verifyOpts: func(t *testing.T, opts AppOptions) {
				if !opts.MqttMode {
					t.Error("expected MqttMode true")
				}
				if opts.ConfigFile != "svc.yaml" {
					t.Errorf("expected ConfigFile svc.yaml, got %s", opts.ConfigFile)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := newMockApp()
			var out bytes.Buffer
			if err := run(tt.args, &out, app); err != nil {
				t.Fatalf("run failed: %v", err)
			}
			if !app.called[tt.expectedCalled] {
				t.Errorf("expected %s to be called, called: %v", tt.expectedCalled, app.called)
			}
			if len(app.called) != 1 {
				t.Errorf("expected exactly one mode, called: %v", app.called)
			}
			if tt.verifyOpts != nil {
				tt.verifyOpts(t, app.opts)
			}
		})
	}
}

func TestRun_Help(t *testing.T) {
	app := newMockApp()
	var out bytes.Buffer
	err := run([]string{"--help"}, &out, app)
	if !errors.Is(err, flag.ErrHelp) {
		t.Errorf("expected flag.ErrHelp, got %v", err)
	}
	if !strings.Contains(out.String(), "Usage of robustfit") {
		t.Errorf("expected usage info in output, got: %s", out.String())
	}
	if !strings.Contains(out.String(), "-mqtt") {
		t.Error("expected usage to document -mqtt")
	}
}

func TestRun_InvalidMethod(t *testing.T) {
	app := newMockApp()
	var out bytes.Buffer
	err := run([]string{"--dataset", "d.json", "--method", "simplex"}, &out, app)
	if err == nil {
		t.Fatal("expected error for unknown method")
	}
	if len(app.called) != 0 {
		t.Errorf("expected no mode to run, called: %v", app.called)
	}
}

func TestRun_PropagatesErrors(t *testing.T) {
	app := newMockApp()
	app.err = errors.New("boom")
	var out bytes.Buffer
	if err := run([]string{"--generate"}, &out, app); err == nil || err.Error() != "boom" {
		t.Errorf("expected boom, got %v", err)
	}
}

func TestRun_Default(t *testing.T) {
	app := newMockApp()
	var out bytes.Buffer
	err := run([]string{}, &out, app)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	expectedPrefix := "robustfit version: " + Version
	if !strings.Contains(out.String(), expectedPrefix) {
		t.Errorf("expected output to contain version, got: %s", out.String())
	}

	if !strings.Contains(out.String(), "Use --generate") {
		t.Errorf("expected output to contain usage hints, got: %s", out.String())
	}
	if len(app.called) != 0 {
		t.Errorf("expected no mode to run, called: %v", app.called)
	}
}

func TestMain_Execute(t *testing.T) {
	// Smoke test to ensure version is set
	if Version == "" {
		t.Error("expected Version to be set")
	}
}
