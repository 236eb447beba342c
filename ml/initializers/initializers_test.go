// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package initializers

import (
	"math"
	"testing"

	"github.com/gomlx/nnlayers/backends"
	"github.com/gomlx/nnlayers/backends/notimplemented"
	"github.com/gomlx/nnlayers/backends/simplego"
	"github.com/janpfeifer/must"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGlorotBound(t *testing.T) {
	assert.InDelta(t, math.Sqrt(6.0/7.0), GlorotBound(3, 4), 1e-12)
	assert.InDelta(t, 1.0, GlorotBound(3, 3), 1e-12)
}

func TestInitializers(t *testing.T) {
	backend := must.M1(simplego.NewWithConfig("seed=1"))

	zeros, err := Zero(backend, []int{3, 2}, "cpu")
	require.NoError(t, err)
	assert.Equal(t, make([]float32, 6), zeros.CopyFlatData())

	limit := GlorotBound(10, 30)
	v, err := Variable(backend, GlorotUniform(10, 30), []int{30, 10}, "cpu")
	require.NoError(t, err)
	require.True(t, v.IsVariable())
	assert.Equal(t, []int{30, 10}, v.Shape().Dimensions)
	assert.Equal(t, "cpu:0", v.Device())
	var maxAbs float64
	for _, value := range v.CopyFlatData() {
		require.LessOrEqual(t, math.Abs(float64(value)), limit)
		maxAbs = max(maxAbs, math.Abs(float64(value)))
	}
	// With 300 samples the values should spread close to the limit.
	assert.Greater(t, maxAbs, limit/2)

	_, err = Variable(backend, Zero, []int{2}, "gpu")
	require.True(t, errors.Is(err, backends.ErrInvalidDevice))
	_, err = Variable(&notimplemented.Backend{}, RandomUniform(0, 1), []int{2}, "cpu")
	require.True(t, errors.Is(err, backends.ErrNotImplemented))
}
