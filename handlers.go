package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/kwv/robustfit/pipeline"
	"github.com/kwv/robustfit/robust"
)

// maxRequestBytes limits uploaded datasets to 50 MB.
const maxRequestBytes = 50 << 20

// newHTTPServer creates an HTTP server with all endpoints
func newHTTPServer(app *App) http.Handler {
	mux := http.NewServeMux()

	// Health check endpoint
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		log.Printf("[HTTP] /health request from %s", r.RemoteAddr)
		status := struct {
			Status        string    `json:"status"`
			Version       string    `json:"version"`
			Timestamp     time.Time `json:"timestamp"`
			Method        string    `json:"method"`
			Runs          int       `json:"runs"`
			MQTTConnected bool      `json:"mqttConnected"`
		}{
			Status:        "ok",
			Version:       Version,
			Timestamp:     time.Now(),
			Method:        app.Config.Estimation.Method.String(),
			Runs:          app.Tracker.Len(),
			MQTTConnected: app.MQTTClient != nil && app.MQTTClient.IsConnected(),
		}
		writeJSON(w, http.StatusOK, status)
	})

	// Estimate the model of an uploaded dataset. ?method= overrides the
	// configured variant.
	mux.HandleFunc("POST /estimate", func(w http.ResponseWriter, r *http.Request) {
		est := app.Config.Estimation
		if m := r.URL.Query().Get("method"); m != "" {
			method, err := robust.ParseMethod(m)
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			est.Method = method
		}

		ds, err := pipeline.DecodeDataset(http.MaxBytesReader(w, r.Body, maxRequestBytes))
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		res, err := app.Estimate(ds, est)
		switch {
		case res == nil:
			http.Error(w, err.Error(), http.StatusBadRequest)
		case err != nil:
			log.Printf("[HTTP] Run %s failed: %v", res.ID, err)
			writeJSON(w, http.StatusUnprocessableEntity, res)
		default:
			writeJSON(w, http.StatusOK, res)
		}
	})

	// Generate a synthetic dataset from query parameters
	mux.HandleFunc("POST /generate", func(w http.ResponseWriter, r *http.Request) {
		opts, err := generateOptionsFromQuery(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		ds, err := pipeline.Generate(opts)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		writeJSON(w, http.StatusOK, ds)
	})

	mux.HandleFunc("GET /runs", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, app.Tracker.List())
	})

	mux.HandleFunc("GET /runs/{id}", func(w http.ResponseWriter, r *http.Request) {
		run, ok := app.Tracker.Get(r.PathValue("id"))
		if !ok {
			http.Error(w, "Run not found", http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, run)
	})

	mux.HandleFunc("GET /runs/{id}/residuals.png", func(w http.ResponseWriter, r *http.Request) {
		run, ok := finishedRun(w, r, app.Tracker)
		if !ok {
			return
		}
		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Cache-Control", "no-cache")
		if err := pipeline.NewResidualRenderer(run.Result, app.Config.Render).WritePNG(w); err != nil {
			log.Printf("Error encoding residual chart PNG: %v", err)
		}
	})

	plot := func(format string) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			run, ok := finishedRun(w, r, app.Tracker)
			if !ok {
				return
			}
			renderer, err := pipeline.NewPlotRenderer(run.Dataset, run.Result, app.Config.Render)
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			w.Header().Set("Cache-Control", "no-cache")
			if format == "svg" {
				w.Header().Set("Content-Type", "image/svg+xml")
				err = renderer.RenderToSVG(w)
			} else {
				w.Header().Set("Content-Type", "image/png")
				err = renderer.RenderToPNG(w)
			}
			if err != nil {
				log.Printf("Error rendering %s plot: %v", format, err)
			}
		}
	}
	mux.HandleFunc("GET /runs/{id}/plot.svg", plot("svg"))
	mux.HandleFunc("GET /runs/{id}/plot.png", plot("png"))

	mux.HandleFunc("GET /runs/{id}/geojson", func(w http.ResponseWriter, r *http.Request) {
		run, ok := finishedRun(w, r, app.Tracker)
		if !ok {
			return
		}
		fc, err := pipeline.ResultToFeatureCollection(run.Dataset, run.Result)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/geo+json")
		if err := json.NewEncoder(w).Encode(fc); err != nil {
			log.Printf("Error encoding GeoJSON: %v", err)
		}
	})

	return mux
}

// finishedRun looks up the run named in the path and checks that it has a
// successful result and its dataset. It writes the error response itself.
func finishedRun(w http.ResponseWriter, r *http.Request, tracker *pipeline.RunTracker) (pipeline.Run, bool) {
	run, ok := tracker.Get(r.PathValue("id"))
	if !ok {
		http.Error(w, "Run not found", http.StatusNotFound)
		return run, false
	}
	if run.Result == nil || run.Result.Error != "" || run.Dataset == nil {
		http.Error(w, "Run has no result", http.StatusServiceUnavailable)
		return run, false
	}
	return run, true
}

// generateOptionsFromQuery reads model, n, outliers, noise and seed, each
// defaulting to pipeline.DefaultGenerateOptions.
func generateOptionsFromQuery(r *http.Request) (pipeline.GenerateOptions, error) {
	opts := pipeline.DefaultGenerateOptions()
	q := r.URL.Query()
	if v := q.Get("model"); v != "" {
		opts.Model = pipeline.ModelKind(v)
	}
	var errs []error
	parseFloat := func(key string, dst *float64) {
		if v := q.Get(key); v != "" {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				errs = append(errs, fmt.Errorf("invalid %s: %w", key, err))
				return
			}
			*dst = f
		}
	}
	parseFloat("outliers", &opts.OutlierRatio)
	parseFloat("noise", &opts.Noise)
	if v := q.Get("n"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("invalid n: %w", err))
		}
		opts.N = n
	}
	if v := q.Get("seed"); v != "" {
		seed, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("invalid seed: %w", err))
		}
		opts.Seed = seed
	}
	return opts, errors.Join(errs...)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Error encoding JSON response: %v", err)
	}
}
