// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package plots collects measurements (e.g. the latency of a layer's forward pass at each benchmark step),
// saves and loads them, and renders them as tables, SVG line plots (using Margaid) or CSV (using Gota dataframes).
package plots

import (
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"sort"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/gomlx/nnlayers/types"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// PointsFileName is the default file name within a checkpoint directory to store the points
// collected during a benchmark.
const PointsFileName = "bench_points.json"

// Point represents one measurement. It is used to save/load plots.
type Point struct {
	// Series this point belongs to, e.g. "conv2d".
	Series string

	// Kind of the measurement, typically "latency_ms" or "steps_per_sec".
	// It's used in plotting to aggregate series of the same kind in the same plot.
	Kind string

	// Step at which the measurement was taken.
	// Usually, this is an int value, stored as a float64.
	Step float64

	// Value measured.
	Value float64
}

// LoadPointsFromDir loads all points saved in the file PointsFileName in the given directory.
func LoadPointsFromDir(dir string) ([]Point, error) {
	return LoadPoints(filepath.Join(dir, PointsFileName))
}

// LoadPoints parses all points saved in the given file, one JSON object per line.
func LoadPoints(filePath string) ([]Point, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read plots file %q", filePath)
	}
	defer func() { _ = f.Close() }()

	dec := json.NewDecoder(f)
	var points []Point
	for {
		var point Point
		err := dec.Decode(&point)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrapf(err, "error while decoding plots file %q", filePath)
		}
		points = append(points, point)
	}
	return points, nil
}

// CreatePointsWriter creates a channel to write Point to the given file, appending to it if it exists.
// It creates an errReport channel to report an error (or nil) back at the very end.
// If any error occurs, it stops writing, and will report the error back once pointWriter is closed.
func CreatePointsWriter(filePath string) (pointWriter chan<- Point, errReport <-chan error) {
	pointChan := make(chan Point, 100)
	errChan := make(chan error, 1)
	go func() {
		f, err := os.OpenFile(filePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0664)
		if err != nil {
			err = errors.Wrapf(err, "failed to open plots file %q for append", filePath)
			klog.Errorf("Error: %v", err)
		}
		var enc *json.Encoder
		if f != nil {
			enc = json.NewEncoder(f)
		}
		for point := range pointChan {
			if err != nil {
				continue
			}
			if err = enc.Encode(point); err != nil {
				err = errors.Wrapf(err, "failed to encode point %v", point)
				klog.Errorf("Error: %v", err)
			}
		}
		if f != nil {
			if closeErr := f.Close(); err == nil {
				err = closeErr
			}
		}
		errChan <- err
	}()
	return pointChan, errChan
}

// Points is a collection of Point objects organized by their Step value.
// It's a `map[float64][]Point` with several utility methods.
type Points map[float64][]Point

// NewPoints create a Points object from a collection of individual `Point`.
func NewPoints(rawPoints []Point) (points Points) {
	points = make(map[float64][]Point)
	for _, p := range rawPoints {
		points[p.Step] = append(points[p.Step], p)
	}
	return points
}

// Map executes the given function on all individual points, in `Step` order.
// Note that if `p.Step` change, it is not re-indexed.
func (points Points) Map(fn func(p *Point)) {
	for _, step := range slices.Sorted(maps.Keys(points)) {
		stepPoints := points[step]
		for ii := range stepPoints {
			fn(&stepPoints[ii])
		}
	}
}

// Extract converts the Points structure back to a list of individual points, sorted by Point.Step.
func (points Points) Extract() (rawPoints []Point) {
	points.Map(func(p *Point) {
		rawPoints = append(rawPoints, *p)
	})
	return
}

// Add a point to the collection.
func (points Points) Add(p Point) {
	points[p.Step] = append(points[p.Step], p)
}

// SeriesNames return the list of series names in the whole collection, sorted alphabetically by their kind and
// then by their name.
func (points Points) SeriesNames() []string {
	nameToKind := make(map[string]string)
	points.Map(func(p *Point) {
		nameToKind[p.Series] = p.Kind
	})
	names := slices.Sorted(maps.Keys(nameToKind))
	sort.SliceStable(names, func(i, j int) bool {
		return nameToKind[names[i]] < nameToKind[names[j]]
	})
	return names
}

// Kinds returns the sorted list of the kinds of measurements in the collection.
func (points Points) Kinds() []string {
	kinds := make(types.Set[string])
	points.Map(func(p *Point) {
		kinds.Insert(p.Kind)
	})
	return types.Sorted(kinds)
}

// TableForSeries returns a table with the first column being the `Step` followed
// by the columns given by the `series` names.
// If `series` is empty, it will include all series in the table.
func (points Points) TableForSeries(series ...string) string {
	cellStyle := lipgloss.NewStyle().Padding(0, 1)
	headerStyle := lipgloss.NewStyle().Padding(0, 1).Bold(true).Reverse(true)
	table := lgtable.New().
		Border(lipgloss.RoundedBorder()).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == lgtable.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})

	if len(series) == 0 {
		series = points.SeriesNames()
	}
	headers := []string{"Step"}
	headers = append(headers, series...)
	table.Headers(headers...)

	for _, step := range slices.Sorted(maps.Keys(points)) {
		row := make([]string, 1+len(series))
		row[0] = fmt.Sprintf("%.0f", step)
		for _, pt := range points[step] {
			idx := slices.Index(series, pt.Series)
			if idx != -1 {
				row[idx+1] = fmt.Sprintf("%.4g", pt.Value)
			}
		}
		table.Row(row...)
	}
	return table.String()
}

func (points Points) String() string {
	return points.TableForSeries()
}
