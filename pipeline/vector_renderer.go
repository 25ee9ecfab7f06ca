package pipeline

import (
	"fmt"
	"image/color"
	"image/png"
	"io"
	"math"

	"github.com/golang/geo/r2"
	"github.com/tdewolff/canvas"
	"github.com/tdewolff/canvas/renderers/rasterizer"
	"github.com/tdewolff/canvas/renderers/svg"
)

// nrgbaToRGBA converts color.NRGBA to color.RGBA by premultiplying alpha
// This is needed for the canvas library which expects premultiplied RGBA
func nrgbaToRGBA(c color.NRGBA) color.RGBA {
	if c.A == 0 {
		return color.RGBA{0, 0, 0, 0}
	}
	if c.A == 255 {
		return color.RGBA{c.R, c.G, c.B, 255}
	}
	alpha32 := uint32(c.A)
	return color.RGBA{
		R: uint8((uint32(c.R) * alpha32) / 255),
		G: uint8((uint32(c.G) * alpha32) / 255),
		B: uint8((uint32(c.B) * alpha32) / 255),
		A: c.A,
	}
}

// PlotRenderer draws a planar run as vector graphics: measured points
// colored by consensus membership, model predictions and the residual
// vector joining each pair.
type PlotRenderer struct {
	Observed  []r2.Point
	Predicted []r2.Point
	Inliers   []bool

	Width      float64 // Canvas width in millimeters
	Height     float64 // Canvas height in millimeters
	Padding    float64 // Padding in millimeters
	Resolution canvas.Resolution

	InlierColor    color.NRGBA
	OutlierColor   color.NRGBA
	PredictedColor color.NRGBA
	ResidualColor  color.NRGBA
	MarkerRadius   float64
}

// NewPlotRenderer creates a plot of res over ds. The canvas is sized so
// that PNG output at cfg.DPI is cfg.Width by cfg.Height pixels.
func NewPlotRenderer(ds *Dataset, res *Result, cfg RenderConfig) (*PlotRenderer, error) {
	if !ds.Model.Planar() {
		return nil, fmt.Errorf("plot: model %s has no planar measurements", ds.Model)
	}
	observed := ds.observed()
	if res.Predicted != nil && len(res.Predicted) != len(observed) {
		return nil, fmt.Errorf("plot: %d predictions for %d measurements", len(res.Predicted), len(observed))
	}
	mmPerPixel := 25.4 / cfg.DPI
	return &PlotRenderer{
		Observed:       observed,
		Predicted:      res.Predicted,
		Inliers:        res.Inliers,
		Width:          float64(cfg.Width) * mmPerPixel,
		Height:         float64(cfg.Height) * mmPerPixel,
		Padding:        cfg.Padding * mmPerPixel,
		Resolution:     canvas.DPI(cfg.DPI),
		InlierColor:    color.NRGBA{34, 139, 34, 255},
		OutlierColor:   color.NRGBA{220, 20, 60, 255},
		PredictedColor: color.NRGBA{0, 0, 139, 200},
		ResidualColor:  color.NRGBA{128, 128, 128, 160},
		MarkerRadius:   2.0 * 25.4 / 96,
	}, nil
}

// canvasRenderer is an interface that both svg and rasterizer renderers implement
type canvasRenderer interface {
	RenderPath(path *canvas.Path, style canvas.Style, m canvas.Matrix)
}

// RenderToSVG writes the plot as an SVG to the provided writer
func (r *PlotRenderer) RenderToSVG(w io.Writer) error {
	svgRenderer := svg.New(w, r.Width, r.Height, nil)
	r.renderToCanvas(svgRenderer)
	return svgRenderer.Close()
}

// RenderToPNG writes the plot as a PNG to the provided writer
func (r *PlotRenderer) RenderToPNG(w io.Writer) error {
	rast := rasterizer.New(r.Width, r.Height, r.Resolution, canvas.DefaultColorSpace)
	r.renderToCanvas(rast)
	return png.Encode(w, rast)
}

// dataBounds returns the bounding box of all finite points, padded when
// degenerate.
func (r *PlotRenderer) dataBounds() (minX, minY, maxX, maxY float64) {
	minX, minY = math.Inf(1), math.Inf(1)
	maxX, maxY = math.Inf(-1), math.Inf(-1)
	visit := func(p r2.Point) {
		if !isFinite(p.X) || !isFinite(p.Y) {
			return
		}
		minX, maxX = math.Min(minX, p.X), math.Max(maxX, p.X)
		minY, maxY = math.Min(minY, p.Y), math.Max(maxY, p.Y)
	}
	for _, p := range r.Observed {
		visit(p)
	}
	for _, p := range r.Predicted {
		visit(p)
	}
	if math.IsInf(minX, 1) {
		return 0, 0, 1, 1
	}
	if maxX-minX == 0 {
		minX, maxX = minX-0.5, maxX+0.5
	}
	if maxY-minY == 0 {
		minY, maxY = minY-0.5, maxY+0.5
	}
	return minX, minY, maxX, maxY
}

func (r *PlotRenderer) renderToCanvas(renderer canvasRenderer) {
	bgStyle := canvas.DefaultStyle
	bgStyle.Fill = canvas.Paint{Color: canvas.White}
	renderer.RenderPath(canvas.Rectangle(r.Width, r.Height), bgStyle, canvas.Identity)

	minX, minY, maxX, maxY := r.dataBounds()
	plotW := math.Max(r.Width-2*r.Padding, 1)
	plotH := math.Max(r.Height-2*r.Padding, 1)
	scale := math.Min(plotW/(maxX-minX), plotH/(maxY-minY))

	// Image rows grow downwards, canvas y grows upwards
	toCanvas := func(p r2.Point) (float64, float64, bool) {
		if !isFinite(p.X) || !isFinite(p.Y) {
			return 0, 0, false
		}
		return r.Padding + (p.X-minX)*scale, r.Height - r.Padding - (p.Y-minY)*scale, true
	}

	// Frame
	frameStyle := canvas.DefaultStyle
	frameStyle.Fill = canvas.Paint{Color: canvas.Transparent}
	frameStyle.Stroke = canvas.Paint{Color: canvas.Gray}
	frameStyle.StrokeWidth = 0.2
	frame := canvas.Rectangle((maxX-minX)*scale, (maxY-minY)*scale).Translate(r.Padding, r.Height-r.Padding-(maxY-minY)*scale)
	renderer.RenderPath(frame, frameStyle, canvas.Identity)

	if len(r.Predicted) == len(r.Observed) {
		residualStyle := canvas.DefaultStyle
		residualStyle.Fill = canvas.Paint{Color: canvas.Transparent}
		residualStyle.Stroke = canvas.Paint{Color: nrgbaToRGBA(r.ResidualColor)}
		residualStyle.StrokeWidth = 0.15

		predictedStyle := canvas.DefaultStyle
		predictedStyle.Fill = canvas.Paint{Color: canvas.Transparent}
		predictedStyle.Stroke = canvas.Paint{Color: nrgbaToRGBA(r.PredictedColor)}
		predictedStyle.StrokeWidth = 0.15

		for i, pred := range r.Predicted {
			px, py, ok := toCanvas(pred)
			if !ok {
				continue
			}
			if ox, oy, ok := toCanvas(r.Observed[i]); ok {
				seg := &canvas.Path{}
				seg.MoveTo(px, py)
				seg.LineTo(ox, oy)
				renderer.RenderPath(seg, residualStyle, canvas.Identity)
			}
			renderer.RenderPath(canvas.Circle(r.MarkerRadius).Translate(px, py), predictedStyle, canvas.Identity)
		}
	}

	inlierStyle := canvas.DefaultStyle
	inlierStyle.Fill = canvas.Paint{Color: nrgbaToRGBA(r.InlierColor)}
	inlierStyle.Stroke = canvas.Paint{Color: canvas.Transparent}

	outlierStyle := inlierStyle
	outlierStyle.Fill = canvas.Paint{Color: nrgbaToRGBA(r.OutlierColor)}

	for i, p := range r.Observed {
		x, y, ok := toCanvas(p)
		if !ok {
			continue
		}
		style := outlierStyle
		if r.Inliers != nil && r.Inliers[i] {
			style = inlierStyle
		}
		renderer.RenderPath(canvas.Circle(r.MarkerRadius).Translate(x, y), style, canvas.Identity)
	}
}
