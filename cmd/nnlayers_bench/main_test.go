// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gomlx/nnlayers/backends/simplego"
	"github.com/gomlx/nnlayers/ml/checkpoints"
	"github.com/gomlx/nnlayers/ml/layers"
	"github.com/gomlx/nnlayers/ui/plots"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func smallHyperparams() map[string]any {
	hyperparams := defaultHyperparams()
	hyperparams["batch"] = 2
	hyperparams["in"] = 3
	hyperparams["out"] = 4
	hyperparams["size"] = 5
	return hyperparams
}

func TestBuildLayer(t *testing.T) {
	backend, err := simplego.NewWithConfig("seed=1")
	require.NoError(t, err)
	wantInputDims := map[string][]int{
		"linear":           {2, 3},
		"conv1d":           {2, 5, 3},
		"conv1d_transpose": {2, 5, 3},
		"conv2d":           {2, 5, 5, 3},
		"conv2d_transpose": {2, 5, 5, 3},
		"lstm":             {2, 5, 3},
	}
	for _, kind := range layerKinds {
		t.Run(kind, func(t *testing.T) {
			bl, err := buildLayer(backend, kind, smallHyperparams(), nil)
			require.NoError(t, err)
			assert.Equal(t, wantInputDims[kind], bl.inputDims)
			assert.Equal(t, "cpu:0", firstDevice(bl))

			points, err := runBenchmark(backend, bl, 4, 1, false)
			require.NoError(t, err)
			assert.Len(t, latencies(points), 4)
			assert.Equal(t, []string{kind}, points.SeriesNames())
			assert.Contains(t, report(backend, bl, points), "Median latency")
		})
	}

	hyperparams := smallHyperparams()
	hyperparams["channels_first"] = true
	bl, err := buildLayer(backend, "conv2d", hyperparams, nil)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 3, 5, 5}, bl.inputDims)

	_, err = buildLayer(backend, "gru", smallHyperparams(), nil)
	require.Error(t, err)

	hyperparams = smallHyperparams()
	hyperparams["padding"] = "reflect"
	_, err = buildLayer(backend, "conv1d", hyperparams, nil)
	require.Error(t, err)

	hyperparams = smallHyperparams()
	hyperparams["out"] = 0
	_, err = buildLayer(backend, "linear", hyperparams, nil)
	require.ErrorIs(t, err, layers.ErrInvalidConfiguration)

	hyperparams = smallHyperparams()
	hyperparams["size"] = "large"
	_, err = buildLayer(backend, "linear", hyperparams, nil)
	require.Error(t, err)
}

func TestCheckpointRoundTrip(t *testing.T) {
	backend, err := simplego.NewWithConfig("seed=1")
	require.NoError(t, err)
	dir := t.TempDir()
	*flagLayer = "conv1d"
	defer func() { *flagLayer = "conv2d" }()

	hyperparams := smallHyperparams()
	handler, borrowed, err := loadCheckpoint(dir, hyperparams)
	require.NoError(t, err)
	require.Nil(t, borrowed)

	hyperparams["out"] = 6
	bl, err := buildLayer(backend, "conv1d", hyperparams, nil)
	require.NoError(t, err)
	points, err := runBenchmark(backend, bl, 2, 0, false)
	require.NoError(t, err)
	require.NoError(t, saveCheckpoint(handler, bl, hyperparams, points))

	saved, err := plots.LoadPointsFromDir(dir)
	require.NoError(t, err)
	assert.Len(t, saved, 4)

	// Loading restores the hyperparameters and the parameters.
	reloaded := defaultHyperparams()
	_, borrowed, err = loadCheckpoint(dir, reloaded)
	require.NoError(t, err)
	require.NotNil(t, borrowed)
	assert.Equal(t, 6, reloaded["out"])
	bl2, err := buildLayer(backend, "conv1d", reloaded, borrowed)
	require.NoError(t, err)
	assert.Equal(t, layers.Borrowed, bl2.layer.(*layers.Conv).Ownership())

	// A different layer kind is rejected.
	*flagLayer = "lstm"
	_, _, err = loadCheckpoint(dir, defaultHyperparams())
	require.Error(t, err)

	list, err := handler.ListCheckpoints()
	require.NoError(t, err)
	loaded, err := checkpoints.Load(dir, list[0])
	require.NoError(t, err)
	assert.Equal(t, "conv1d", loaded.Hyperparams["layer"])
}

func TestWriteOutputs(t *testing.T) {
	dir := t.TempDir()
	*flagSVG = filepath.Join(dir, "plot.svg")
	*flagCSV = filepath.Join(dir, "points.csv")
	*flagImage = filepath.Join(dir, "latency.png")
	defer func() { *flagSVG, *flagCSV, *flagImage = "", "", "" }()

	points := plots.NewPoints([]plots.Point{
		{Series: "linear", Kind: LatencyKind, Step: 0, Value: 1.5},
		{Series: "linear", Kind: LatencyKind, Step: 1, Value: 1.25},
		{Series: "linear", Kind: ThroughputKind, Step: 0, Value: 1000},
		{Series: "linear", Kind: ThroughputKind, Step: 1, Value: 1200},
	})
	require.NoError(t, writeOutputs(points))

	svg, err := os.ReadFile(*flagSVG)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, strings.Count(string(svg), "<svg"), 2)
	csv, err := os.ReadFile(*flagCSV)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(csv), "Series,Kind,Step,Value\n"))
	assert.FileExists(t, *flagImage)
}
