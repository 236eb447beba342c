// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package plots

import (
	"fmt"
	"io"
	"maps"
	"slices"

	mg "github.com/erkkah/margaid"
	"github.com/pkg/errors"
)

// RenderSVG draws one line plot per kind of measurement, each with one line per series, and writes them as
// SVG documents (one after the other) to w.
//
// If logScaleY is set, the Y axis uses a logarithmic projection, useful for latencies of layers of very
// different sizes.
func (points Points) RenderSVG(w io.Writer, width, height int, logScaleY bool) error {
	if len(points) == 0 {
		return errors.New("no points to plot")
	}
	yProjection := mg.Lin
	if logScaleY {
		yProjection = mg.Log
	}
	for _, kind := range points.Kinds() {
		perSeries := make(map[string]*mg.Series)
		allPoints := mg.NewSeries()
		points.Map(func(p *Point) {
			if p.Kind != kind {
				return
			}
			s, found := perSeries[p.Series]
			if !found {
				s = mg.NewSeries(mg.Titled(p.Series))
				perSeries[p.Series] = s
			}
			value := mg.MakeValue(p.Step, p.Value)
			s.Add(value)
			allPoints.Add(value)
		})

		names := slices.Sorted(maps.Keys(perSeries))
		allSeries := make([]*mg.Series, 0, len(names))
		for _, name := range names {
			allSeries = append(allSeries, perSeries[name])
		}
		diagram := mg.New(width, height,
			mg.WithAutorange(mg.XAxis, allSeries...),
			mg.WithProjection(mg.XAxis, mg.Lin),
			mg.WithAutorange(mg.YAxis, allSeries...),
			mg.WithProjection(mg.YAxis, yProjection),
			mg.WithInset(70),
			mg.WithPadding(2),
			mg.WithColorScheme(90),
			mg.WithBackgroundColor("#f8f8f8"),
		)
		for _, s := range allSeries {
			diagram.Line(s, mg.UsingAxes(mg.XAxis, mg.YAxis), mg.UsingMarker("square"), mg.UsingStrokeWidth(2))
		}
		diagram.Axis(allPoints, mg.XAxis, diagram.ValueTicker('f', 0, 10), false, "Steps")
		diagram.Axis(allPoints, mg.YAxis, diagram.ValueTicker('f', 3, 10), true, kind)
		diagram.Frame()
		diagram.Title(fmt.Sprintf("%s per step", kind))
		if len(names) > 1 || names[0] != "" {
			diagram.Legend(mg.BottomLeft)
		}
		if err := diagram.Render(w); err != nil {
			return errors.Wrapf(err, "failed to render plot for %q", kind)
		}
	}
	return nil
}
