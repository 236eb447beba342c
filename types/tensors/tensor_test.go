// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package tensors

import (
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/nnlayers/types/shapes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromShape(t *testing.T) {
	tensor := FromShape(shapes.Make(dtypes.Float32, 2, 3))
	require.Equal(t, 6, tensor.Size())
	require.Equal(t, DefaultDevice, tensor.Device())
	require.False(t, tensor.IsVariable())
	assert.Equal(t, make([]float32, 6), tensor.CopyFlatData())
	assert.Equal(t, uintptr(24), tensor.Memory())

	require.Panics(t, func() { _ = FromShape(shapes.Make(dtypes.Float64, 2)) })
	require.Panics(t, func() { _ = FromShape(shapes.Invalid()) })
}

func TestFromFlatData(t *testing.T) {
	data := []float32{1, 2, 3, 4}
	tensor := FromFlatData(data, 2, 2)
	data[0] = 100
	assert.Equal(t, []float32{1, 2, 3, 4}, tensor.CopyFlatData(), "data must be copied")
	assert.Equal(t, "(Float32)[2 2] on cpu:0: [[1 2] [3 4]]", tensor.String())

	require.Panics(t, func() { _ = FromFlatData([]float32{1, 2, 3}, 2, 2) })

	f64 := FromValues([]float64{0.5, 1.5}, 2)
	assert.Equal(t, []float32{0.5, 1.5}, f64.CopyFlatData())
	assert.Equal(t, "(Float32) on cpu:0: 7", FromScalar(7).String())
}

func TestViews(t *testing.T) {
	tensor := FromFlatData([]float32{1, 2, 3, 4, 5, 6}, 2, 3)
	variable := tensor.AsVariable()
	require.True(t, variable.IsVariable())
	require.False(t, tensor.IsVariable())
	assert.Contains(t, variable.String(), "variable")

	reshaped := tensor.Reshaped(3, 2)
	assert.Equal(t, []int{3, 2}, reshaped.Shape().Dimensions)
	require.Panics(t, func() { _ = tensor.Reshaped(4, 2) })

	onDevice := tensor.OnDevice("cpu:1")
	assert.Equal(t, "cpu:1", onDevice.Device())
	assert.Equal(t, DefaultDevice, tensor.Device())

	// Views share data, clones don't.
	clone := tensor.Clone()
	tensor.MutableFlatData(func(flat []float32) { flat[0] = -1 })
	assert.Equal(t, float32(-1), reshaped.CopyFlatData()[0])
	assert.Equal(t, float32(1), clone.CopyFlatData()[0])
}

func TestEqualAndInDelta(t *testing.T) {
	a := FromFlatData([]float32{1, 2}, 2)
	b := FromFlatData([]float32{1, 2.001}, 2)
	assert.True(t, a.Equal(a))
	assert.False(t, a.Equal(b))
	assert.True(t, a.InDelta(b, 0.01))
	assert.False(t, a.InDelta(FromFlatData([]float32{1, 2}, 1, 2), 0.01))
}
