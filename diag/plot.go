// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package diag

import (
	"errors"
	"io"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"

	"github.com/curioloop/nonlinear/nksol"
)

// Plot renders a recorded trace as a static image for embedding in
// reports. A Plot must not be copied after its Watch hook has been
// installed.
type Plot struct {
	Recorder
}

// Render writes the convergence history to w in the given image format
// ("png", "svg", "pdf", "eps", "jpg", "tif" or "tex").
//
// All series share one logarithmic vertical axis, so points with a
// nonpositive value are dropped.
func (p *Plot) Render(w io.Writer, format string) error {
	stats := p.Stats()
	if len(stats) == 0 {
		return errors.New("no trace to plot")
	}

	plt := plot.New()
	plt.Title.Text = "Convergence"
	plt.X.Label.Text = "iteration"
	plt.Y.Scale = plot.LogScale{}
	plt.Y.Tick.Marker = plot.LogTicks{Prec: -1}

	err := plotutil.AddLines(plt,
		"fnorm", tracePoints(stats, func(s nksol.IterStat) float64 { return s.FNorm }),
		"eta", tracePoints(stats, func(s nksol.IterStat) float64 { return s.Eta }),
		"stepl", tracePoints(stats, func(s nksol.IterStat) float64 { return s.StepLen }),
		"lambda", tracePoints(stats, func(s nksol.IterStat) float64 { return s.Lambda }),
	)
	if err != nil {
		return err
	}

	wt, err := plt.WriterTo(6*vg.Inch, 4*vg.Inch, format)
	if err != nil {
		return err
	}
	_, err = wt.WriteTo(w)
	return err
}

func tracePoints(stats []nksol.IterStat, pick func(nksol.IterStat) float64) plotter.XYs {
	pts := make(plotter.XYs, 0, len(stats))
	for _, s := range stats {
		if v := pick(s); v > 0 {
			pts = append(pts, plotter.XY{X: float64(s.Iter), Y: v})
		}
	}
	return pts
}
