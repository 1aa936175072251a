package timing

import (
	"fmt"
	"image/color"
	"math"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// PlotPNG draws achieved rate against time, with the target rate as a
// reference line when the run had one, and saves it to path. The image
// format follows the file extension (png, svg, pdf).
func PlotPNG(records []Record, title, path string) error {
	if len(records) == 0 {
		return fmt.Errorf("plot: no records")
	}

	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "time (s)"
	p.Y.Label.Text = "achieved rate (Hz)"

	actual := make(plotter.XYs, 0, len(records))
	target := make(plotter.XYs, 0, len(records))
	for _, r := range records {
		if !math.IsNaN(r.ActualHz) && !math.IsInf(r.ActualHz, 0) {
			actual = append(actual, plotter.XY{X: r.Time, Y: r.ActualHz})
		}
		if !math.IsNaN(r.TargetHz) {
			target = append(target, plotter.XY{X: r.Time, Y: r.TargetHz})
		}
	}
	if len(actual) == 0 {
		return fmt.Errorf("plot: no defined achieved-rate values")
	}

	line, err := plotter.NewLine(actual)
	if err != nil {
		return fmt.Errorf("plot: achieved line: %w", err)
	}
	line.Width = vg.Points(1)
	line.Color = color.RGBA{R: 31, G: 119, B: 180, A: 255}
	p.Add(line)
	p.Legend.Add("achieved", line)

	if len(target) > 0 {
		tl, err := plotter.NewLine(target)
		if err != nil {
			return fmt.Errorf("plot: target line: %w", err)
		}
		tl.Width = vg.Points(1)
		tl.Dashes = []vg.Length{vg.Points(4), vg.Points(2)}
		tl.Color = color.RGBA{R: 214, G: 39, B: 40, A: 255}
		p.Add(tl)
		p.Legend.Add("target", tl)
	}
	p.Add(plotter.NewGrid())

	if err := p.Save(14*vg.Inch, 6*vg.Inch, path); err != nil {
		return fmt.Errorf("plot: save %s: %w", path, err)
	}
	return nil
}
