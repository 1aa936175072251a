package timing

import (
	"fmt"
	"io"
	"math"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
)

// RenderChart writes an interactive HTML line chart of dt and achieved rate
// over time. NaN points are left as gaps.
func RenderChart(w io.Writer, records []Record, title string) error {
	if len(records) == 0 {
		return fmt.Errorf("chart: no records")
	}

	xs := make([]string, len(records))
	actual := make([]opts.LineData, len(records))
	dtMs := make([]opts.LineData, len(records))
	target := make([]opts.LineData, len(records))
	for i, r := range records {
		xs[i] = fmt.Sprintf("%.3f", r.Time)
		actual[i] = lineValue(r.ActualHz)
		dtMs[i] = lineValue(r.DT * 1000)
		target[i] = lineValue(r.TargetHz)
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: title, Width: "1200px", Height: "600px"}),
		charts.WithTitleOpts(opts.Title{Title: title, Subtitle: fmt.Sprintf("records=%d", len(records))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "time (s)", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Name: "Hz / ms"}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "slider", Start: 0, End: 100}),
	)
	line.SetXAxis(xs).
		AddSeries("achieved Hz", actual).
		AddSeries("target Hz", target).
		AddSeries("dt (ms)", dtMs)

	if err := line.Render(w); err != nil {
		return fmt.Errorf("chart: render: %w", err)
	}
	return nil
}

func lineValue(v float64) opts.LineData {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return opts.LineData{Value: "-"}
	}
	return opts.LineData{Value: v}
}
