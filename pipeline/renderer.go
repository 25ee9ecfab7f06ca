package pipeline

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"math"
	"os"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// ChartColors defines the palette used by the residual chart.
type ChartColors struct {
	Background color.RGBA
	Inlier     color.RGBA
	Outlier    color.RGBA
	Bound      color.RGBA
	Text       color.RGBA
}

// DefaultChartColors returns the default residual chart palette.
func DefaultChartColors() ChartColors {
	return ChartColors{
		Background: color.RGBA{240, 240, 240, 255},
		Inlier:     color.RGBA{34, 139, 34, 255}, // Forest green
		Outlier:    color.RGBA{220, 20, 60, 255}, // Crimson
		Bound:      color.RGBA{0, 0, 139, 255},   // Dark blue
		Text:       color.RGBA{0, 0, 0, 255},
	}
}

// ResidualRenderer draws one bar per sample, its height the sample's
// residual, with the inlier bound as a horizontal line.
type ResidualRenderer struct {
	Result  *Result
	Width   int
	Height  int
	Padding int
	Colors  ChartColors
}

// NewResidualRenderer creates a renderer for res sized by cfg.
func NewResidualRenderer(res *Result, cfg RenderConfig) *ResidualRenderer {
	return &ResidualRenderer{
		Result:  res,
		Width:   cfg.Width,
		Height:  cfg.Height,
		Padding: int(cfg.Padding),
		Colors:  DefaultChartColors(),
	}
}

// scaleMax returns the residual mapped to the top of the plot. Outliers
// far above the bound are clipped so inliers remain visible.
func (r *ResidualRenderer) scaleMax() float64 {
	bound := r.Result.Summary.Bound
	top := 0.0
	for _, v := range r.Result.Residuals {
		if v > top && v < math.MaxFloat64 && !math.IsNaN(v) {
			top = v
		}
	}
	if bound > 0 && top > 4*bound {
		top = 4 * bound
	}
	if top <= 0 {
		top = 1
	}
	return top
}

// Render draws the chart.
func (r *ResidualRenderer) Render() *image.RGBA {
	width, height := r.Width, r.Height
	minSize := 2*r.Padding + 1
	if width < minSize {
		width = minSize
	}
	if height < minSize {
		height = minSize
	}

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, r.Colors.Background)
		}
	}

	res := r.Result
	n := len(res.Residuals)
	plotW := width - 2*r.Padding
	plotH := height - 2*r.Padding
	baseline := height - r.Padding
	top := r.scaleMax()

	toY := func(v float64) int {
		if v > top {
			v = top
		}
		return baseline - int(v/top*float64(plotH))
	}

	if n > 0 {
		barW := float64(plotW) / float64(n)
		for i, v := range res.Residuals {
			c := r.Colors.Outlier
			if res.Inliers != nil && res.Inliers[i] {
				c = r.Colors.Inlier
			}
			x0 := r.Padding + int(float64(i)*barW)
			x1 := r.Padding + int(float64(i+1)*barW)
			if x1 <= x0 {
				x1 = x0 + 1
			}
			fillRect(img, x0, toY(v), x1, baseline, c)
		}
	}

	// Axis
	fillRect(img, r.Padding, baseline, width-r.Padding, baseline+1, r.Colors.Text)

	if b := res.Summary.Bound; b > 0 && b <= top {
		y := toY(b)
		fillRect(img, r.Padding, y, width-r.Padding, y+1, r.Colors.Bound)
		drawText(img, width-r.Padding-70, y-3, fmt.Sprintf("%.3g", b), r.Colors.Bound)
	}

	r.drawLegend(img)
	return img
}

// drawLegend prints the run summary in the top-left corner
func (r *ResidualRenderer) drawLegend(img *image.RGBA) {
	res := r.Result
	lines := []string{
		fmt.Sprintf("%s %s", res.Model, res.Method),
		fmt.Sprintf("inliers %d/%d", res.NumInliers, len(res.Residuals)),
		fmt.Sprintf("median %.3g", res.Summary.Median),
	}
	y := 15
	for _, line := range lines {
		drawText(img, 10, y, line, r.Colors.Text)
		y += 15
	}
}

// WritePNG encodes the chart as PNG.
func (r *ResidualRenderer) WritePNG(w io.Writer) error {
	return png.Encode(w, r.Render())
}

// SavePNG saves the chart to a file
func (r *ResidualRenderer) SavePNG(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	return r.WritePNG(f)
}

// fillRect fills [x0,x1)x[y0,y1), clipped to the image.
func fillRect(img *image.RGBA, x0, y0, x1, y1 int, c color.RGBA) {
	b := img.Bounds()
	if y0 > y1 {
		y0, y1 = y1, y0
	}
	for y := max(y0, b.Min.Y); y < min(y1, b.Max.Y); y++ {
		for x := max(x0, b.Min.X); x < min(x1, b.Max.X); x++ {
			img.SetRGBA(x, y, c)
		}
	}
}

// drawText renders text onto an image at the specified position
func drawText(img *image.RGBA, x, y int, text string, c color.RGBA) {
	face := basicfont.Face7x13
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(c),
		Face: face,
		Dot:  fixed.Point26_6{X: fixed.I(x), Y: fixed.I(y)},
	}
	d.DrawString(text)
}
