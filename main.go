package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/kwv/robustfit/pipeline"
	"github.com/kwv/robustfit/robust"
)

// Version is set at build time via -ldflags
var Version = "dev"

// AppOptions holds the parsed command line.
type AppOptions struct {
	ConfigFile string
	Method     string // overrides estimation.method when set

	// Generate mode
	Generate     bool
	Model        string
	N            int
	OutlierRatio float64
	Noise        float64
	Seed         int64

	// Estimate mode
	DatasetFile string
	FetchURL    string
	OutputFile  string
	PlotFile    string
	ChartFile   string
	GeoJSONFile string

	// Service mode
	HttpMode bool
	HttpPort int
	MqttMode bool
	RunCache string
}

// Runner executes the selected mode. App implements it; tests substitute a
// recorder.
type Runner interface {
	ApplyOptions(opts AppOptions)
	RunGenerate() error
	RunEstimate() error
	RunService() error
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	if err := run(os.Args[1:], os.Stdout, NewApp()); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		log.Fatal(err)
	}
}

// run parses args and dispatches to the selected mode.
func run(args []string, out io.Writer, app Runner) error {
	fs := flag.NewFlagSet("robustfit", flag.ContinueOnError)
	fs.SetOutput(out)

	defaults := pipeline.DefaultGenerateOptions()
	var opts AppOptions
	fs.StringVar(&opts.ConfigFile, "config", pipeline.DefaultConfigPath, "Path to configuration file")
	fs.StringVar(&opts.Method, "method", "", "Estimation method: RANSAC, LMedS, MSAC, PROSAC or PROMedS (default: from config)")

	fs.BoolVar(&opts.Generate, "generate", false, "Generate a synthetic dataset and exit")
	fs.StringVar(&opts.Model, "model", string(defaults.Model), "Model for --generate: point2d, point3d, affine, euclidean, homography, camera, pose")
	fs.IntVar(&opts.N, "n", defaults.N, "Number of correspondences for --generate")
	fs.Float64Var(&opts.OutlierRatio, "outliers", defaults.OutlierRatio, "Outlier ratio for --generate, in [0,1)")
	fs.Float64Var(&opts.Noise, "noise", defaults.Noise, "Inlier noise standard deviation for --generate")
	fs.Int64Var(&opts.Seed, "seed", defaults.Seed, "Random seed for --generate (0 = time based)")

	fs.StringVar(&opts.DatasetFile, "dataset", "", "Estimate the model of a JSON dataset file")
	fs.StringVar(&opts.FetchURL, "fetch", "", "Estimate the model of a JSON dataset fetched over HTTP")
	fs.StringVar(&opts.OutputFile, "output", "", "Output file: dataset for --generate, result JSON for estimation")
	fs.StringVar(&opts.PlotFile, "plot", "", "Write a correspondence plot (.svg or .png) for planar models")
	fs.StringVar(&opts.ChartFile, "chart", "", "Write a residual chart PNG")
	fs.StringVar(&opts.GeoJSONFile, "geojson", "", "Write a GeoJSON export for planar models")

	fs.BoolVar(&opts.HttpMode, "http", false, "Run the HTTP estimation service")
	fs.IntVar(&opts.HttpPort, "http-port", 8080, "HTTP server port")
	fs.BoolVar(&opts.MqttMode, "mqtt", false, "Accept datasets and publish run events over MQTT")
	fs.StringVar(&opts.RunCache, "run-cache", ".robustfit-runs.json", "Path to the run history cache (empty disables)")

	if err := fs.Parse(args); err != nil {
		return err
	}

	_, _ = fmt.Fprintf(out, "robustfit version: %s\n", Version)

	if opts.Method != "" {
		if _, err := robust.ParseMethod(opts.Method); err != nil {
			return err
		}
	}

	app.ApplyOptions(opts)

	switch {
	case opts.Generate:
		return app.RunGenerate()
	case opts.DatasetFile != "" || opts.FetchURL != "":
		return app.RunEstimate()
	case opts.HttpMode || opts.MqttMode:
		return app.RunService()
	}

	_, _ = fmt.Fprintln(out, "Use --generate [--model M --n N --outliers R --noise S --seed X] --output FILE to create a dataset")
	_, _ = fmt.Fprintln(out, "Use --dataset FILE or --fetch URL to estimate its model")
	_, _ = fmt.Fprintln(out, "Use --http to run the HTTP estimation service")
	_, _ = fmt.Fprintln(out, "Use --mqtt to accept datasets on <prefix>/request and publish run events")
	_, _ = fmt.Fprintln(out, "Use --mqtt --http to run both together")
	_, _ = fmt.Fprintln(out, "\nConfiguration:")
	_, _ = fmt.Fprintf(out, "  %s - estimation parameters, camera suggestions, MQTT and rendering\n", pipeline.DefaultConfigPath)
	return nil
}
