// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package shapes

import (
	"testing"

	. "github.com/gomlx/gopjrt/dtypes"
	"github.com/stretchr/testify/require"
)

func TestShape(t *testing.T) {
	invalidShape := Invalid()
	require.False(t, invalidShape.Ok())

	shape0 := Make(Float64)
	require.True(t, shape0.Ok())
	require.True(t, shape0.IsScalar())
	require.Equal(t, 0, shape0.Rank())
	require.Len(t, shape0.Dimensions, 0)
	require.Equal(t, 1, shape0.Size())
	require.Equal(t, 8, int(shape0.Memory()))

	shape1 := Make(Float32, 4, 3, 2)
	require.True(t, shape1.Ok())
	require.False(t, shape1.IsScalar())
	require.Equal(t, 3, shape1.Rank())
	require.Len(t, shape1.Dimensions, 3)
	require.Equal(t, 4*3*2, shape1.Size())
	require.Equal(t, 4*4*3*2, int(shape1.Memory()))

	require.Panics(t, func() { _ = Make(Float32, 2, 0) })
	require.Panics(t, func() { _ = Make(Float32, -1) })
}

func TestDim(t *testing.T) {
	shape := Make(Float32, 4, 3, 2)
	require.Equal(t, 4, shape.Dim(0))
	require.Equal(t, 3, shape.Dim(1))
	require.Equal(t, 2, shape.Dim(2))
	require.Equal(t, 4, shape.Dim(-3))
	require.Equal(t, 3, shape.Dim(-2))
	require.Equal(t, 2, shape.Dim(-1))
	require.Panics(t, func() { _ = shape.Dim(3) })
	require.Panics(t, func() { _ = shape.Dim(-4) })
}

func TestEqualAndClone(t *testing.T) {
	s := Make(Float32, 2, 3)
	clone := s.Clone()
	require.True(t, s.Equal(clone))
	clone.Dimensions[0] = 5
	require.Equal(t, 2, s.Dimensions[0], "Clone must not share the dimensions slice")
	require.False(t, s.Equal(clone))
	require.True(t, s.EqualDimensions(Make(Float64, 2, 3)))
	require.False(t, s.Equal(Make(Float64, 2, 3)))
}

func TestStrides(t *testing.T) {
	require.Equal(t, []int{6, 2, 1}, Make(Float32, 4, 3, 2).Strides())
	require.Nil(t, Make(Float32).Strides())
}

func TestConcatenateDimensions(t *testing.T) {
	got := ConcatenateDimensions(Make(Float32, 3), Make(Float32, 5, 7))
	require.True(t, got.Equal(Make(Float32, 3, 5, 7)))
	got = ConcatenateDimensions(Make(Float32), Make(Float32, 5))
	require.True(t, got.Equal(Make(Float32, 5)))
	require.False(t, ConcatenateDimensions(Make(Float32, 3), Make(Float64, 3)).Ok())
}

func TestCheckDims(t *testing.T) {
	s := Make(Float32, 3, 5)
	require.NoError(t, s.CheckDims(3, 5))
	require.NoError(t, s.CheckDims(UncheckedAxis, 5))
	require.Error(t, s.CheckDims(3))
	require.Error(t, s.CheckDims(3, 4))
	require.NoError(t, s.CheckRank(2))
	require.Error(t, s.CheckRank(3))
	require.Error(t, CheckDims(s, 5, 3))
	require.NoError(t, CheckDims(s, 3, -1))
}
