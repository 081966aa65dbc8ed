// Package preview renders read-only views of the current parameter set: the
// raster grid the scan axes describe and the pulse windows of one sequence.
package preview

import (
	"errors"
	"fmt"
	"io"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/TestaLab/Multi-sheet-RESOLFT-code/internal/params"
)

// MaxAxisSamples caps the positions plotted along one axis.
const MaxAxisSamples = 256

// ErrNoRasterData is returned when the scan start voltage is not a finite
// number.
var ErrNoRasterData = errors.New("raster axes hold no plottable positions")

// AxisSamples returns the voltages visited along a, from StartV towards
// StartV+LenV in StepSizeV increments. A zero length or step yields just the
// start position.
func AxisSamples(a params.Axis) []float64 {
	start := float64(a.StartV)
	length := float64(a.LenV)
	step := math.Abs(float64(a.StepSizeV))
	if !finite(start) {
		return nil
	}
	if !finite(length) || !finite(step) || step == 0 || length == 0 {
		return []float64{start}
	}

	// float32 steps such as 0.1 are slightly above their decimal value
	n := int(math.Floor(math.Abs(length)/step+1e-6)) + 1
	if n > MaxAxisSamples {
		n = MaxAxisSamples
	}
	if n < 2 {
		return []float64{start}
	}
	end := start + math.Copysign(step*float64(n-1), length)
	return floats.Span(make([]float64, n), start, end)
}

// RasterPath returns the dimOne/dimTwo positions in scan order: dimOne is
// the fast axis.
func RasterPath(cfg params.Config) plotter.XYs {
	axes := cfg.Axes()
	xs := AxisSamples(axes[0])
	ys := AxisSamples(axes[1])

	path := make(plotter.XYs, 0, len(xs)*len(ys))
	for _, y := range ys {
		for _, x := range xs {
			path = append(path, plotter.XY{X: x, Y: y})
		}
	}
	return path
}

// RenderRasterPNG draws the raster path as a PNG of the given size.
func RenderRasterPNG(w io.Writer, cfg params.Config, width, height vg.Length) error {
	path := RasterPath(cfg)
	if len(path) == 0 {
		return ErrNoRasterData
	}
	axes := cfg.Axes()

	p := plot.New()
	p.Title.Text = fmt.Sprintf("Raster scan (%d positions)", len(path))
	p.X.Label.Text = fmt.Sprintf("dimOne, DAC %d (V)", axes[0].Chan)
	p.Y.Label.Text = fmt.Sprintf("dimTwo, DAC %d (V)", axes[1].Chan)
	p.Add(plotter.NewGrid())

	line, points, err := plotter.NewLinePoints(path)
	if err != nil {
		return fmt.Errorf("failed to build raster path: %w", err)
	}
	line.Width = vg.Points(0.5)
	points.Radius = vg.Points(1.5)
	p.Add(line, points)

	wt, err := p.WriterTo(width, height, "png")
	if err != nil {
		return fmt.Errorf("failed to render raster preview: %w", err)
	}
	_, err = wt.WriteTo(w)
	return err
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
