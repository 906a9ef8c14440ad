// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package diag

import (
	"io"
	"net/http"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"github.com/go-echarts/go-echarts/v2/types"

	"github.com/curioloop/nonlinear/nksol"
)

// Charts renders a recorded trace as a self-contained HTML page
// of interactive line charts. A Charts must not be copied after
// its Watch hook has been installed.
type Charts struct {
	Recorder
}

// Render writes the HTML page to w.
//
// The page holds three charts: the scaled residual norm together with
// the forcing term on a logarithmic axis, the accepted step length with
// the line search multiplier, and the per-iteration work counters.
func (c *Charts) Render(w io.Writer) error {
	stats := c.Stats()

	xs := make([]int, len(stats))
	for i, s := range stats {
		xs[i] = s.Iter
	}

	residual := charts.NewLine()
	residual.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{
			Theme: types.ThemeWesteros,
		}),
		charts.WithTitleOpts(opts.Title{
			Title:    "Residual",
			Subtitle: "Scaled norm of F and forcing term",
		}),
		charts.WithLegendOpts(opts.Legend{
			Type:   "scroll",
			Orient: "vertical",
			Right:  "10",
			Top:    "20",
			Bottom: "20",
		}),
		charts.WithXAxisOpts(opts.XAxis{
			SplitNumber: 20,
		}),
		charts.WithYAxisOpts(opts.YAxis{
			Type: "log",
		}),
		charts.WithDataZoomOpts(opts.DataZoom{
			Type:       "inside",
			Start:      0,
			End:        100,
			XAxisIndex: []int{0},
		}),
		charts.WithAnimation(true),
	)
	residual.SetXAxis(xs).
		AddSeries("fnorm", lineData(stats, func(s nksol.IterStat) any { return s.FNorm })).
		AddSeries("eta", lineData(stats, func(s nksol.IterStat) any { return s.Eta }))

	step := charts.NewLine()
	step.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{
			Theme: types.ThemeWesteros,
		}),
		charts.WithTitleOpts(opts.Title{
			Title:    "Step",
			Subtitle: "Scaled step length and line search multiplier",
		}),
		charts.WithLegendOpts(opts.Legend{
			Type:   "scroll",
			Orient: "vertical",
			Right:  "10",
			Top:    "20",
			Bottom: "20",
		}),
		charts.WithXAxisOpts(opts.XAxis{
			SplitNumber: 20,
		}),
		charts.WithYAxisOpts(opts.YAxis{
			Scale: opts.Bool(true),
		}),
		charts.WithDataZoomOpts(opts.DataZoom{
			Type:       "inside",
			Start:      0,
			End:        100,
			XAxisIndex: []int{0},
		}),
		charts.WithAnimation(true),
	)
	step.SetXAxis(xs).
		AddSeries("stepl", lineData(stats, func(s nksol.IterStat) any { return s.StepLen })).
		AddSeries("lambda", lineData(stats, func(s nksol.IterStat) any { return s.Lambda }))

	work := charts.NewLine()
	work.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{
			Theme: types.ThemeWesteros,
		}),
		charts.WithTitleOpts(opts.Title{
			Title:    "Work",
			Subtitle: "Linear iterations and backtracks per step",
		}),
		charts.WithLegendOpts(opts.Legend{
			Type:   "scroll",
			Orient: "vertical",
			Right:  "10",
			Top:    "20",
			Bottom: "20",
		}),
		charts.WithXAxisOpts(opts.XAxis{
			SplitNumber: 20,
		}),
		charts.WithYAxisOpts(opts.YAxis{
			Scale: opts.Bool(true),
		}),
		charts.WithDataZoomOpts(opts.DataZoom{
			Type:       "inside",
			Start:      0,
			End:        100,
			XAxisIndex: []int{0},
		}),
		charts.WithAnimation(true),
	)
	work.SetXAxis(xs).
		AddSeries("nli", lineData(stats, func(s nksol.IterStat) any { return s.LinIters })).
		AddSeries("nbk", lineData(stats, func(s nksol.IterStat) any { return s.Backtracks }))

	page := components.NewPage()
	page.AddCharts(
		residual,
		step,
		work,
	)
	return page.Render(w)
}

// Handler serves the rendered page over HTTP.
func (c *Charts) Handler(w http.ResponseWriter, _ *http.Request) {
	_ = c.Render(w)
}

func lineData(stats []nksol.IterStat, pick func(nksol.IterStat) any) []opts.LineData {
	items := make([]opts.LineData, len(stats))
	for i, s := range stats {
		items[i].Value = pick(s)
	}
	return items
}
