// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"testing"

	"github.com/gomlx/nnlayers/ml/checkpoints"
	"github.com/gomlx/nnlayers/ml/params"
	"github.com/gomlx/nnlayers/types/tensors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMinimalUniquePaths(t *testing.T) {
	assert.Equal(t, []string{"checkpoint-n0000001"}, MinimalUniquePaths("/tmp/a/checkpoint-n0000001"))
	assert.Equal(t, []string{"a", "b"}, MinimalUniquePaths("/tmp/a/ckpt", "/tmp/b/ckpt"))
	assert.Equal(t, []string{"a...x", "b...y"}, MinimalUniquePaths("/tmp/a/x", "/tmp/b/y"))
	assert.Equal(t, []string{"ckpt", "ckpt"}, MinimalUniquePaths("/tmp/ckpt", "/tmp/ckpt"))
}

func TestReports(t *testing.T) {
	dirs := []string{t.TempDir(), t.TempDir()}
	for ii, dir := range dirs {
		c, err := params.New(
			params.T("w", tensors.FromFlatData([]float32{1, 2, 3, 4, 5, 6}, 2, 3).AsVariable()),
			params.T("b", tensors.FromFlatData([]float32{0, 0}, 2).AsVariable()))
		require.NoError(t, err)
		handler, err := checkpoints.Build(dir).Done()
		require.NoError(t, err)
		_, err = handler.Save(c, map[string]any{"outputs": 2, "activation": []string{"relu", "tanh"}[ii]})
		require.NoError(t, err)
	}

	infos, names := readCheckpoints(dirs)
	require.Len(t, infos, 2)
	require.Len(t, names, 2)

	rows := summaryRows(infos, names)
	require.Len(t, rows, 7)
	assert.Equal(t, []string{"# variables", "2", "2"}, rows[4])
	assert.Equal(t, []string{"# parameters", "8", "8"}, rows[5])
	assert.Equal(t, "gzip", rows[3][1])

	paramRows := paramsRows(infos)
	require.Len(t, paramRows, 2)
	assert.Equal(t, []string{"activation", "string", "relu", "tanh"}, paramRows[0])
	assert.False(t, isAllEqual(paramRows[0][2:]))
	assert.Equal(t, []string{"outputs", "int", "2", "2"}, paramRows[1])
	assert.True(t, isAllEqual(paramRows[1][2:]))

	// Smoke test the printing.
	Summary(infos, names)
	Params(infos, names)
	ListVariables(infos[0].dir, infos[0].BaseName)
}
