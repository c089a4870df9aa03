// Package report renders debug charts for processed scans as standalone
// HTML pages using go-echarts.
package report

import (
	"fmt"
	"io"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/survey.report/internal/survey/floors"
	"github.com/banshee-data/survey.report/internal/survey/walls"
)

// AssetsHost overrides where the echarts javascript is loaded from. Empty
// uses the go-echarts default.
var AssetsHost string

func initOpts(title string) opts.Initialization {
	return opts.Initialization{PageTitle: title, Width: "100%", Height: "720px", AssetsHost: AssetsHost}
}

// WriteHistogram renders the z histogram as a bar chart with the detected
// floor bands marked.
func WriteHistogram(w io.Writer, subtitle string, h *floors.Histogram, fl []floors.Floor) error {
	if h == nil {
		return fmt.Errorf("no histogram")
	}
	x := make([]string, len(h.Counts))
	y := make([]opts.BarData, len(h.Counts))
	for i, c := range h.Counts {
		x[i] = fmt.Sprintf("%.2f", h.Center(i))
		y[i] = opts.BarData{Value: c}
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(initOpts("Z histogram")),
		charts.WithTitleOpts(opts.Title{Title: "Point height distribution", Subtitle: subtitle}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "z (m)", NameLocation: "middle", NameGap: 30}),
		charts.WithYAxisOpts(opts.YAxis{Name: "points"}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "slider"}),
	)
	bar.SetXAxis(x).AddSeries("points", y)

	// One series per floor band so the legend lists them.
	for _, f := range fl {
		band := make([]opts.BarData, len(h.Counts))
		for i := range h.Counts {
			c := h.Center(i)
			if c >= f.ZMinM && c <= f.ZMaxM {
				band[i] = opts.BarData{Value: h.Counts[i]}
			} else {
				band[i] = opts.BarData{Value: 0}
			}
		}
		bar.AddSeries(fmt.Sprintf("%s (%.2f m, conf %.2f)", f.Label, f.HeightM, f.Confidence), band,
			charts.WithBarChartOpts(opts.BarChart{BarGap: "-100%"}))
	}
	return bar.Render(w)
}

// WriteWalls renders wall segments in plan view as a line chart with value
// axes, one series per wall.
func WriteWalls(w io.Writer, subtitle string, ws []walls.Wall) error {
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(initOpts("Walls")),
		charts.WithTitleOpts(opts.Title{Title: "Detected walls", Subtitle: subtitle}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Type: "value", Name: "x (m)", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Type: "value", Name: "y (m)", NameLocation: "middle", NameGap: 30}),
	)
	for _, wall := range ws {
		data := []opts.LineData{
			{Value: []interface{}{wall.Start[0], wall.Start[1]}},
			{Value: []interface{}{wall.End[0], wall.End[1]}},
		}
		line.AddSeries(fmt.Sprintf("%s %.2f m", wall.Label, wall.LengthM), data,
			charts.WithLineStyleOpts(opts.LineStyle{Width: 3}))
	}
	return line.Render(w)
}
