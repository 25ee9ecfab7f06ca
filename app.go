package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/kwv/robustfit/pipeline"
	"github.com/kwv/robustfit/robust"
)

// App encapsulates the application state and dependencies
type App struct {
	Config     *pipeline.Config
	Tracker    *pipeline.RunTracker
	MQTTClient *pipeline.MQTTClient
	Publisher  *pipeline.Publisher
	Out        io.Writer

	// CLI Flags (effectively dependencies)
	ConfigFile   string
	Method       string
	Model        string
	N            int
	OutlierRatio float64
	Noise        float64
	Seed         int64
	DatasetFile  string
	FetchURL     string
	OutputFile   string
	PlotFile     string
	ChartFile    string
	GeoJSONFile  string
	HttpPort     int
	HttpMode     bool
	MqttMode     bool
	RunCache     string
}

// NewApp creates a new App instance
func NewApp() *App {
	return &App{
		Tracker: pipeline.NewRunTracker(pipeline.DefaultConfig().History),
		Out:     os.Stdout,
	}
}

// ApplyOptions applies CLI options to the App instance
func (a *App) ApplyOptions(opts AppOptions) {
	a.ConfigFile = opts.ConfigFile
	a.Method = opts.Method
	a.Model = opts.Model
	a.N = opts.N
	a.OutlierRatio = opts.OutlierRatio
	a.Noise = opts.Noise
	a.Seed = opts.Seed
	a.DatasetFile = opts.DatasetFile
	a.FetchURL = opts.FetchURL
	a.OutputFile = opts.OutputFile
	a.PlotFile = opts.PlotFile
	a.ChartFile = opts.ChartFile
	a.GeoJSONFile = opts.GeoJSONFile
	a.HttpPort = opts.HttpPort
	a.HttpMode = opts.HttpMode
	a.MqttMode = opts.MqttMode
	a.RunCache = opts.RunCache
}

// loadConfig reads the configuration file. A missing file at the default
// path falls back to the defaults; an explicitly named file must exist.
func (a *App) loadConfig() error {
	path := a.ConfigFile
	if path == "" {
		path = pipeline.DefaultConfigPath
	}

	config, err := pipeline.LoadConfig(path)
	if err != nil {
		if _, statErr := os.Stat(path); !os.IsNotExist(statErr) || path != pipeline.DefaultConfigPath {
			return fmt.Errorf("failed to load config: %w (looked at %s)", err, path)
		}
		log.Printf("No config file at %s, using defaults", path)
		config = pipeline.DefaultConfig()
		config.ApplyEnv()
	} else {
		log.Printf("Loaded config from %s", path)
	}

	if a.Method != "" {
		m, err := robust.ParseMethod(a.Method)
		if err != nil {
			return err
		}
		config.Estimation.Method = m
	}
	a.Config = config
	return nil
}

// RunGenerate writes a synthetic dataset.
func (a *App) RunGenerate() error {
	opts := pipeline.GenerateOptions{
		Model:        pipeline.ModelKind(a.Model),
		N:            a.N,
		OutlierRatio: a.OutlierRatio,
		Noise:        a.Noise,
		Seed:         a.Seed,
	}
	ds, err := pipeline.Generate(opts)
	if err != nil {
		return err
	}

	output := a.OutputFile
	if output == "" {
		output = fmt.Sprintf("%s-dataset.json", ds.Model)
	}
	if err := pipeline.SaveDataset(output, ds); err != nil {
		return err
	}
	_, _ = fmt.Fprintf(a.Out, "Wrote %s dataset with %d correspondences (%d outliers) to %s\n",
		ds.Model, ds.Len(), len(ds.Outliers), output)
	return nil
}

// RunEstimate estimates the model of one dataset, prints a report and
// writes the requested outputs. Outputs are written even when estimation
// fails so the failure can be inspected.
func (a *App) RunEstimate() error {
	if err := a.loadConfig(); err != nil {
		return err
	}

	var ds *pipeline.Dataset
	var err error
	if a.FetchURL != "" {
		log.Printf("Fetching dataset from %s", a.FetchURL)
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		ds, err = pipeline.FetchDatasetWithContext(ctx, a.FetchURL)
		stop()
	} else {
		ds, err = pipeline.LoadDataset(a.DatasetFile)
	}
	if err != nil {
		return err
	}

	res, runErr := a.Estimate(ds, a.Config.Estimation)
	if res == nil {
		return runErr
	}
	a.printResult(res)
	if err := a.writeOutputs(ds, res); err != nil {
		return err
	}
	return runErr
}

// Estimate runs one tracked estimation. Run events go to the tracker and,
// when MQTT is active, to the publisher, which also receives the result.
func (a *App) Estimate(ds *pipeline.Dataset, est pipeline.EstimationConfig) (*pipeline.Result, error) {
	id := uuid.NewString()
	observers := pipeline.Observers{a.Tracker}
	if a.Publisher != nil {
		observers = append(observers, a.Publisher)
	}
	a.Tracker.Begin(id, ds)

	opts := []pipeline.RunOption{pipeline.WithRunID(id), pipeline.WithObserver(observers)}
	if a.Config != nil && a.Config.Suggestions != nil {
		opts = append(opts, pipeline.WithSuggestions(a.Config.Suggestions))
	}

	res, err := pipeline.Estimate(ds, est, opts...)
	if res == nil {
		a.Tracker.Finish(&pipeline.Result{ID: id, Model: ds.Model, Method: est.Method, State: pipeline.StateInvalid, Error: err.Error()}, ds)
		return nil, err
	}
	a.Tracker.Finish(res, ds)

	if a.Publisher != nil {
		if pubErr := a.Publisher.PublishResult(res); pubErr != nil {
			log.Printf("[MQTT] Error publishing result of run %s: %v", res.ID, pubErr)
		}
	}
	return res, err
}

// printResult prints a human readable summary of a run
func (a *App) printResult(res *pipeline.Result) {
	out := a.Out
	_, _ = fmt.Fprintf(out, "\nRun %s\n", res.ID)
	_, _ = fmt.Fprintln(out, strings.Repeat("=", 4+len(res.ID)))
	_, _ = fmt.Fprintf(out, "  Model:       %s\n", res.Model)
	_, _ = fmt.Fprintf(out, "  Method:      %s\n", res.Method)
	_, _ = fmt.Fprintf(out, "  State:       %s\n", res.State)
	_, _ = fmt.Fprintf(out, "  Iterations:  %d\n", res.Iterations)
	_, _ = fmt.Fprintf(out, "  Duration:    %.2fms\n", res.DurationMS)
	if res.Error != "" {
		_, _ = fmt.Fprintf(out, "  Error:       %s\n", res.Error)
		return
	}
	_, _ = fmt.Fprintf(out, "  Inliers:     %d/%d\n", res.NumInliers, len(res.Inliers))
	_, _ = fmt.Fprintf(out, "  Median:      %.6g\n", res.Summary.Median)
	_, _ = fmt.Fprintf(out, "  Inlier RMS:  %.6g\n", res.Summary.InlierRMS)
	_, _ = fmt.Fprintf(out, "  Parameters:  %s\n", formatFloats(res.Parameters))
	if len(res.Covariance) > 0 {
		_, _ = fmt.Fprintf(out, "  Variances:   %s\n", formatFloats(res.Covariance))
	}
	if res.ParameterError > 0 {
		_, _ = fmt.Fprintf(out, "  Truth error: %.6g\n", res.ParameterError)
	}
}

func formatFloats(vals []float64) string {
	parts := make([]string, len(vals))
	for i, v := range vals {
		parts[i] = fmt.Sprintf("%.6g", v)
	}
	return "[" + strings.Join(parts, " ") + "]"
}

// writeOutputs writes the result JSON, plots and GeoJSON requested on the
// command line
func (a *App) writeOutputs(ds *pipeline.Dataset, res *pipeline.Result) error {
	if a.OutputFile != "" {
		data, err := json.MarshalIndent(res, "", "  ")
		if err != nil {
			return fmt.Errorf("marshaling result: %w", err)
		}
		if err := os.WriteFile(a.OutputFile, data, 0644); err != nil {
			return fmt.Errorf("writing result: %w", err)
		}
		_, _ = fmt.Fprintf(a.Out, "Result written to %s\n", a.OutputFile)
	}

	if a.ChartFile != "" {
		if err := pipeline.NewResidualRenderer(res, a.Config.Render).SavePNG(a.ChartFile); err != nil {
			return fmt.Errorf("writing residual chart: %w", err)
		}
		_, _ = fmt.Fprintf(a.Out, "Residual chart written to %s\n", a.ChartFile)
	}

	if a.PlotFile != "" {
		if err := writePlot(a.PlotFile, ds, res, a.Config.Render); err != nil {
			return err
		}
		_, _ = fmt.Fprintf(a.Out, "Plot written to %s\n", a.PlotFile)
	}

	if a.GeoJSONFile != "" {
		fc, err := pipeline.ResultToFeatureCollection(ds, res)
		if err != nil {
			return err
		}
		data, err := json.MarshalIndent(fc, "", "  ")
		if err != nil {
			return fmt.Errorf("marshaling GeoJSON: %w", err)
		}
		if err := os.WriteFile(a.GeoJSONFile, data, 0644); err != nil {
			return fmt.Errorf("writing GeoJSON: %w", err)
		}
		_, _ = fmt.Fprintf(a.Out, "GeoJSON written to %s\n", a.GeoJSONFile)
	}
	return nil
}

// writePlot renders the correspondence plot as SVG or PNG depending on the
// file extension.
func writePlot(path string, ds *pipeline.Dataset, res *pipeline.Result, cfg pipeline.RenderConfig) error {
	plot, err := pipeline.NewPlotRenderer(ds, res, cfg)
	if err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating plot file: %w", err)
	}
	defer func() { _ = f.Close() }()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".png":
		err = plot.RenderToPNG(f)
	default:
		err = plot.RenderToSVG(f)
	}
	if err != nil {
		return fmt.Errorf("rendering plot: %w", err)
	}
	return nil
}

// handleRequest estimates a dataset received over MQTT.
func (a *App) handleRequest(ds *pipeline.Dataset, err error) {
	if err != nil {
		log.Printf("[MQTT] Ignoring request: %v", err)
		return
	}
	res, err := a.Estimate(ds, a.Config.Estimation)
	if err != nil {
		log.Printf("[MQTT] Request run failed: %v", err)
		return
	}
	log.Printf("[MQTT] Request run %s: %d/%d inliers", res.ID, res.NumInliers, ds.Len())
}

// setupMQTT connects the request subscription and the run event publisher.
func (a *App) setupMQTT() error {
	client, err := pipeline.NewMQTTClient(a.Config.MQTT, a.handleRequest)
	if err != nil {
		return fmt.Errorf("failed to initialize MQTT: %w", err)
	}
	if client == nil {
		return errors.New("MQTT broker not configured (set mqtt.broker or MQTT_BROKER)")
	}
	a.MQTTClient = client

	a.Publisher = pipeline.NewPublisher(client.Client(), client.Config().PublishPrefix)
	a.Publisher.SetQoS(a.Config.MQTT.QoS)
	a.Publisher.SetRetain(a.Config.MQTT.Retain)
	client.Start()
	return nil
}

// RunService runs the HTTP and/or MQTT services until interrupted.
func (a *App) RunService() error {
	_, _ = fmt.Fprintln(a.Out, "Starting robustfit service...")

	if err := a.loadConfig(); err != nil {
		return err
	}
	a.Tracker = pipeline.NewRunTrackerWithCache(a.Config.History, a.RunCache)
	if n := a.Tracker.Len(); n > 0 {
		log.Printf("Loaded %d runs from %s", n, a.RunCache)
	}

	if a.MqttMode {
		if err := a.setupMQTT(); err != nil {
			return err
		}
	}

	var server *http.Server
	if a.HttpMode {
		server = &http.Server{
			Addr:              fmt.Sprintf("0.0.0.0:%d", a.HttpPort),
			Handler:           newHTTPServer(a),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			log.Printf("[HTTP] Starting server on %s", server.Addr)
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Fatalf("[HTTP] Server error: %v", err)
			}
		}()
	}

	_, _ = fmt.Fprintln(a.Out, "\nService Running")
	_, _ = fmt.Fprintln(a.Out, "===============")
	_, _ = fmt.Fprintf(a.Out, "  Method: %s\n", a.Config.Estimation.Method)

	if a.MqttMode {
		prefix := a.MQTTClient.Config().PublishPrefix
		_, _ = fmt.Fprintln(a.Out, "\nMQTT:")
		_, _ = fmt.Fprintf(a.Out, "  Requests:   %s\n", a.MQTTClient.RequestTopic())
		_, _ = fmt.Fprintf(a.Out, "  Run events: %s/{runID}/{start,progress,end,result}\n", prefix)
	}

	if a.HttpMode {
		_, _ = fmt.Fprintf(a.Out, "\nHTTP endpoints (port %d):\n", a.HttpPort)
		_, _ = fmt.Fprintln(a.Out, "  GET  /health                   - Health check")
		_, _ = fmt.Fprintln(a.Out, "  POST /estimate                 - Estimate a JSON dataset")
		_, _ = fmt.Fprintln(a.Out, "  POST /generate                 - Generate a synthetic dataset")
		_, _ = fmt.Fprintln(a.Out, "  GET  /runs                     - Recent runs")
		_, _ = fmt.Fprintln(a.Out, "  GET  /runs/{id}                - Run status, result and dataset")
		_, _ = fmt.Fprintln(a.Out, "  GET  /runs/{id}/residuals.png  - Residual chart")
		_, _ = fmt.Fprintln(a.Out, "  GET  /runs/{id}/plot.svg       - Correspondence plot (also .png)")
		_, _ = fmt.Fprintln(a.Out, "  GET  /runs/{id}/geojson        - GeoJSON export")
	}

	_, _ = fmt.Fprintln(a.Out, "\nPress Ctrl+C to stop")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	_, _ = fmt.Fprintln(a.Out, "\nShutting down service...")
	if server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			log.Printf("[HTTP] Shutdown error: %v", err)
		}
	}
	if a.MQTTClient != nil {
		a.MQTTClient.Disconnect()
	}
	_, _ = fmt.Fprintln(a.Out, "Service stopped")
	return nil
}
