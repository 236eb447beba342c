// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package plots

import (
	"fmt"

	"github.com/pkg/errors"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
)

// SaveImage draws the series of points of the given kind as lines, and saves the plot to filePath.
// The image format is chosen from the file extension (".png", ".svg", ".pdf", ...), see plot.Plot.Save.
func (points Points) SaveImage(filePath, kind string, width, height vg.Length) error {
	p := plot.New()
	p.Title.Text = fmt.Sprintf("%s per step", kind)
	p.X.Label.Text = "Steps"
	p.Y.Label.Text = kind

	perSeries := make(map[string]plotter.XYs)
	points.Map(func(pt *Point) {
		if pt.Kind == kind {
			perSeries[pt.Series] = append(perSeries[pt.Series], plotter.XY{X: pt.Step, Y: pt.Value})
		}
	})
	if len(perSeries) == 0 {
		return errors.Errorf("no points of kind %q to plot", kind)
	}
	for ii, name := range points.SeriesNames() {
		xys, found := perSeries[name]
		if !found {
			continue
		}
		line, err := plotter.NewLine(xys)
		if err != nil {
			return errors.Wrapf(err, "failed to create line for series %q", name)
		}
		line.Color = plotutil.Color(ii)
		p.Add(line)
		p.Legend.Add(name, line)
	}
	if err := p.Save(width, height, filePath); err != nil {
		return errors.Wrapf(err, "failed to save plot to %q", filePath)
	}
	return nil
}

// DefaultImageWidth and DefaultImageHeight are used by the CLIs when saving plots with SaveImage.
var DefaultImageWidth, DefaultImageHeight = 12 * vg.Inch, 6 * vg.Inch
