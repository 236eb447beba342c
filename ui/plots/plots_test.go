// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package plots

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPoints() Points {
	return NewPoints([]Point{
		{Series: "conv2d", Kind: "latency_ms", Step: 1, Value: 2.5},
		{Series: "linear", Kind: "latency_ms", Step: 0, Value: 0.5},
		{Series: "conv2d", Kind: "latency_ms", Step: 0, Value: 3},
		{Series: "linear", Kind: "latency_ms", Step: 1, Value: 0.25},
	})
}

func TestPointsFile(t *testing.T) {
	dir := t.TempDir()
	writer, errReport := CreatePointsWriter(filepath.Join(dir, PointsFileName))
	for _, p := range testPoints().Extract() {
		writer <- p
	}
	close(writer)
	require.NoError(t, <-errReport)

	loaded, err := LoadPointsFromDir(dir)
	require.NoError(t, err)
	require.Len(t, loaded, 4)
	assert.Equal(t, 0.0, loaded[0].Step)
	assert.Equal(t, 1.0, loaded[3].Step)

	_, err = LoadPointsFromDir(filepath.Join(dir, "missing"))
	require.Error(t, err)
}

func TestPoints(t *testing.T) {
	points := testPoints()
	assert.Equal(t, []string{"conv2d", "linear"}, points.SeriesNames())
	assert.Equal(t, []string{"latency_ms"}, points.Kinds())
	points.Add(Point{Series: "lstm", Kind: "steps_per_sec", Step: 2, Value: 100})
	assert.Equal(t, []string{"conv2d", "linear", "lstm"}, points.SeriesNames())
	assert.Len(t, points.Extract(), 5)

	table := points.TableForSeries("linear")
	assert.Contains(t, table, "linear")
	assert.Contains(t, table, "0.25")
	assert.NotContains(t, table, "conv2d")
}

func TestRenderSVG(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, testPoints().RenderSVG(&buf, 640, 320, false))
	assert.Contains(t, buf.String(), "<svg")
	assert.Contains(t, buf.String(), "latency_ms")

	buf.Reset()
	require.Error(t, Points{}.RenderSVG(&buf, 640, 320, true))
}

func TestWriteCSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, testPoints().WriteCSV(&buf))
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 5)
	assert.Equal(t, "Series,Kind,Step,Value", lines[0])
	assert.True(t, strings.HasPrefix(lines[1], "linear,latency_ms,"), lines[1])

	require.Error(t, Points{}.WriteCSV(&buf))
}

func TestSaveImage(t *testing.T) {
	filePath := filepath.Join(t.TempDir(), "latency.png")
	require.NoError(t, testPoints().SaveImage(filePath, "latency_ms", DefaultImageWidth, DefaultImageHeight))
	assert.FileExists(t, filePath)
	require.Error(t, testPoints().SaveImage(filePath, "unknown_kind", DefaultImageWidth, DefaultImageHeight))
}
