// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"slices"
	"time"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/gomlx/nnlayers/backends"
	"github.com/gomlx/nnlayers/ui/commandline"
	"github.com/gomlx/nnlayers/ui/plots"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Kinds of the points collected by runBenchmark.
const (
	LatencyKind    = "latency_ms"
	ThroughputKind = "examples_per_sec"
)

// runBenchmark runs warmup+steps forward passes of the layer on a fixed random input, and returns the
// latency and throughput of each of the timed steps.
func runBenchmark(backend backends.Backend, bl *benchLayer, steps, warmup int, showProgress bool) (plots.Points, error) {
	x, err := backend.RandomUniform(-1, 1, bl.inputDims, firstDevice(bl))
	if err != nil {
		return nil, errors.WithMessagef(err, "creating input of shape %v", bl.inputDims)
	}
	for range warmup {
		if _, err = bl.layer.Forward(x); err != nil {
			return nil, errors.WithMessage(err, "warmup")
		}
	}

	var pBar *commandline.ProgressBar
	if showProgress {
		pBar = commandline.NewProgressBar(steps, bl.kind)
	}
	batchSize := float64(bl.inputDims[0])
	points := make(plots.Points)
	for step := range steps {
		start := time.Now()
		y, err := bl.layer.Forward(x)
		elapsed := time.Since(start)
		if err != nil {
			if pBar != nil {
				pBar.Done()
			}
			return nil, errors.WithMessagef(err, "step %d", step)
		}
		if step == 0 {
			klog.V(1).Infof("%s: input %v -> output %s", bl.kind, bl.inputDims, y.Shape())
		}
		if pBar != nil {
			pBar.Step(elapsed)
		}
		seconds := max(elapsed.Seconds(), 1e-9)
		points.Add(plots.Point{Series: bl.kind, Kind: LatencyKind, Step: float64(step), Value: seconds * 1000})
		points.Add(plots.Point{Series: bl.kind, Kind: ThroughputKind, Step: float64(step), Value: batchSize / seconds})
	}
	if pBar != nil {
		pBar.Done()
	}
	return points, nil
}

// firstDevice returns the device of the parameters of the layer.
func firstDevice(bl *benchLayer) string {
	for _, t := range bl.layer.Params().Walk() {
		return t.Device()
	}
	return ""
}

// latencies returns the sorted latencies collected by runBenchmark.
func latencies(points plots.Points) []time.Duration {
	var durations []time.Duration
	points.Map(func(p *plots.Point) {
		if p.Kind == LatencyKind {
			durations = append(durations, time.Duration(p.Value*float64(time.Millisecond)))
		}
	})
	slices.Sort(durations)
	return durations
}

// report returns a table with the size of the layer and the statistics of its latency.
func report(backend backends.Backend, bl *benchLayer, points plots.Points) string {
	table := lgtable.New().
		Border(lipgloss.RoundedBorder()).
		StyleFunc(func(row, col int) lipgloss.Style {
			if col == 0 {
				return lipgloss.NewStyle().Bold(true).Align(lipgloss.Right).Padding(0, 1)
			}
			return lipgloss.NewStyle().Padding(0, 1)
		})
	c := bl.layer.Params()
	table.Row("Layer", bl.kind)
	table.Row("Backend", fmt.Sprintf("%s (%s)", backend.Name(), backend.Description()))
	table.Row("Input shape", fmt.Sprintf("%v", bl.inputDims))
	table.Row("Variables", humanize.Comma(int64(c.NumVariables())))
	table.Row("Parameters", fmt.Sprintf("%s (%s)", humanize.Comma(int64(c.NumParameters())), humanize.Bytes(uint64(c.Memory()))))
	durations := latencies(points)
	if len(durations) > 0 {
		var total time.Duration
		for _, d := range durations {
			total += d
		}
		mean := total / time.Duration(len(durations))
		table.Row("Steps", humanize.Comma(int64(len(durations))))
		table.Row("Min latency", commandline.FormatDuration(durations[0]))
		table.Row("Median latency", commandline.FormatDuration(durations[len(durations)/2]))
		table.Row("Mean latency", commandline.FormatDuration(mean))
		table.Row("Max latency", commandline.FormatDuration(durations[len(durations)-1]))
		if mean > 0 {
			table.Row("Throughput", fmt.Sprintf("%s examples/s",
				humanize.CommafWithDigits(float64(bl.inputDims[0])/mean.Seconds(), 1)))
		}
	}
	return table.String()
}
