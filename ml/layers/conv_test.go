// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package layers

import (
	"fmt"
	"testing"

	"github.com/gomlx/nnlayers/backends"
	"github.com/gomlx/nnlayers/ml/params"
	"github.com/gomlx/nnlayers/types/tensors"
	"github.com/janpfeifer/must"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConvVariables(t *testing.T) {
	backend := newBackend(t)
	testCases := []struct {
		builder      *ConvBuilder
		wantW, wantB []int
		transposed   bool
	}{
		{NewConv1D(backend, 3, 5, 4), []int{4, 5, 3}, []int{1, 1, 5}, false},
		{NewConv1D(backend, 3, 5, 4).DataFormat(backends.NCW), []int{5, 3, 4}, []int{1, 1, 5}, false},
		{NewConv1DTranspose(backend, 3, 5, 4), []int{4, 5, 3}, []int{1, 1, 5}, true},
		{NewConv1DTranspose(backend, 3, 5, 4).DataFormat(backends.NCW), []int{5, 3, 4}, []int{1, 1, 5}, true},
		{NewConv2D(backend, 3, 5, 2, 4), []int{2, 4, 5, 3}, []int{1, 1, 1, 5}, false},
		{NewConv2D(backend, 3, 5, 2, 4).DataFormat(backends.NCHW), []int{5, 3, 2, 4}, []int{1, 1, 1, 5}, false},
		{NewConv2DTranspose(backend, 3, 5, 2, 4), []int{2, 4, 5, 3}, []int{1, 1, 1, 5}, true},
		{NewConv2DTranspose(backend, 3, 5, 2, 4).DataFormat(backends.NCHW), []int{5, 3, 2, 4}, []int{1, 1, 1, 5}, true},
	}
	for ii, tc := range testCases {
		t.Run(fmt.Sprintf("case-%d", ii), func(t *testing.T) {
			conv, err := tc.builder.Done()
			require.NoError(t, err)
			assert.Equal(t, tc.transposed, conv.IsTransposed())
			w := must.M1(conv.Params().Tensor("w"))
			assert.Equal(t, tc.wantW, w.Shape().Dimensions)
			assert.True(t, w.IsVariable())
			limit := float32(0.75) // sqrt(6/(3+5))
			for _, v := range w.CopyFlatData() {
				require.True(t, v >= -limit && v <= limit, "value %g out of bounds", v)
			}
			b := must.M1(conv.Params().Tensor("b"))
			assert.Equal(t, tc.wantB, b.Shape().Dimensions)
			assert.Equal(t, make([]float32, 5), b.CopyFlatData())
		})
	}
}

func TestConvForwardShapes(t *testing.T) {
	backend := newBackend(t)
	testCases := []struct {
		name      string
		builder   *ConvBuilder
		input     []int
		wantShape []int
	}{
		{"conv1d-valid", NewConv1D(backend, 3, 4, 3), []int{2, 10, 3}, []int{2, 8, 4}},
		{"conv1d-same-stride", NewConv1D(backend, 3, 4, 3).PadSame().Strides(2), []int{2, 10, 3}, []int{2, 5, 4}},
		{"conv1d-ncw", NewConv1D(backend, 3, 4, 3).DataFormat(backends.NCW), []int{2, 3, 10}, []int{2, 4, 8}},
		{"conv1d-dilation", NewConv1D(backend, 3, 4, 3).Dilations(2), []int{1, 10, 3}, []int{1, 6, 4}},
		{"conv1d-explicit", NewConv1D(backend, 3, 4, 3).Padding(backends.PadExplicit([2]int{1, 2})),
			[]int{1, 10, 3}, []int{1, 11, 4}},
		{"conv1d-transpose-valid", NewConv1DTranspose(backend, 2, 3, 3).Strides(2), []int{1, 5, 2}, []int{1, 11, 3}},
		{"conv1d-transpose-output-shape", NewConv1DTranspose(backend, 2, 3, 3).Strides(2).OutputShape(12),
			[]int{1, 5, 2}, []int{1, 12, 3}},
		{"conv1d-transpose-ncw", NewConv1DTranspose(backend, 2, 3, 3).DataFormat(backends.NCW).PadSame(),
			[]int{1, 2, 5}, []int{1, 3, 5}},
		{"conv2d-valid", NewConv2D(backend, 3, 4, 3, 2), []int{2, 6, 5, 3}, []int{2, 4, 4, 4}},
		{"conv2d-same", NewConv2D(backend, 3, 4, 3, 3).PadSame(), []int{1, 6, 5, 3}, []int{1, 6, 5, 4}},
		{"conv2d-nchw-strides", NewConv2D(backend, 3, 4, 3, 3).DataFormat(backends.NCHW).Strides(2, 1),
			[]int{1, 3, 7, 7}, []int{1, 4, 3, 5}},
		{"conv2d-transpose-same", NewConv2DTranspose(backend, 3, 2, 3, 3).PadSame().Strides(2),
			[]int{1, 4, 4, 3}, []int{1, 8, 8, 2}},
		{"conv2d-transpose-full-output-shape", NewConv2DTranspose(backend, 3, 2, 3, 3).DataFormat(backends.NCHW).
			Strides(2).OutputShape(1, 2, 10, 10), []int{1, 3, 4, 4}, []int{1, 2, 10, 10}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			conv, err := tc.builder.Done()
			require.NoError(t, err)
			x := randomInput(t, backend, tc.input...)
			y, err := conv.Forward(x)
			require.NoError(t, err)
			assert.Equal(t, tc.wantShape, y.Shape().Dimensions)

			// Idempotence.
			y2, err := conv.Forward(x)
			require.NoError(t, err)
			assert.True(t, y.Equal(y2))
		})
	}
}

func TestConvBias(t *testing.T) {
	backend := newBackend(t)

	// With a zero kernel the output is the bias broadcast over batch and spatial axes, in either layout.
	bias := tensors.FromValues([]float32{1, 2}, 1, 1, 2)
	x := randomInput(t, backend, 1, 3, 4)

	ncw := must.M1(params.New(params.T("w", tensors.FromValues(make([]float32, 6), 2, 3, 1)), params.T("b", bias)))
	conv, err := NewConv1D(backend, 3, 2, 1).DataFormat(backends.NCW).WithParams(ncw).Done()
	require.NoError(t, err)
	y, err := conv.Forward(x)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 4}, y.Shape().Dimensions)
	assert.Equal(t, []float32{1, 1, 1, 1, 2, 2, 2, 2}, y.CopyFlatData())
	assert.Equal(t, []int{1, 1, 2}, must.M1(conv.Params().Tensor("b")).Shape().Dimensions)

	nwc := must.M1(params.New(params.T("w", tensors.FromValues(make([]float32, 6), 1, 2, 3)), params.T("b", bias)))
	conv, err = NewConv1D(backend, 3, 2, 1).WithParams(nwc).Done()
	require.NoError(t, err)
	y, err = conv.Forward(x.Reshaped(1, 4, 3))
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2, 1, 2, 1, 2, 1, 2}, y.CopyFlatData())
}

func TestConvForwardValues(t *testing.T) {
	backend := newBackend(t)
	// Kernel [filter=2, out=1, in=1] = [1, 10], bias 0.5.
	c := must.M1(params.New(
		params.T("w", tensors.FromValues([]float32{1, 10}, 2, 1, 1)),
		params.T("b", tensors.FromValues([]float32{0.5}, 1, 1, 1))))
	conv, err := NewConv1D(backend, 1, 1, 2).WithParams(c).Done()
	require.NoError(t, err)
	y, err := conv.Forward(tensors.FromValues([]float32{1, 2, 3}, 1, 3, 1))
	require.NoError(t, err)
	assert.Equal(t, []float32{1 + 20 + 0.5, 2 + 30 + 0.5}, y.CopyFlatData())

	// Transposed, stride 1 VALID: each input scatters [1, 10] times its value.
	convT, err := NewConv1DTranspose(backend, 1, 1, 2).WithParams(c).Done()
	require.NoError(t, err)
	y, err = convT.Forward(tensors.FromValues([]float32{1, 2}, 1, 2, 1))
	require.NoError(t, err)
	assert.Equal(t, []float32{1 + 0.5, 10 + 2 + 0.5, 20 + 0.5}, y.CopyFlatData())
}

func TestConvErrors(t *testing.T) {
	backend := newBackend(t)
	invalidConfigs := map[string]*ConvBuilder{
		"negative-channels":   NewConv1D(backend, -3, 4, 3),
		"zero-filter":         NewConv2D(backend, 3, 4, 0, 3),
		"zero-stride":         NewConv1D(backend, 3, 4, 3).Strides(0),
		"too-many-strides":    NewConv1D(backend, 3, 4, 3).Strides(1, 2),
		"negative-dilation":   NewConv2D(backend, 3, 4, 3, 3).Dilations(1, -1),
		"2d-format-for-1d":    NewConv1D(backend, 3, 4, 3).DataFormat(backends.NHWC),
		"1d-format-for-2d":    NewConv2DTranspose(backend, 3, 4, 3, 3).DataFormat(backends.NCW),
		"explicit-pads":       NewConv2D(backend, 3, 4, 3, 3).Padding(backends.PadExplicit([2]int{1, 1}, [2]int{1, 1}, [2]int{1, 1})),
		"negative-pads":       NewConv1D(backend, 3, 4, 3).Padding(backends.PadExplicit([2]int{-1, 0})),
		"output-shape-conv":   NewConv1D(backend, 3, 4, 3).OutputShape(10),
		"output-shape-rank":   NewConv1DTranspose(backend, 3, 4, 3).OutputShape(1, 10),
		"output-shape-values": NewConv2DTranspose(backend, 3, 4, 3, 3).OutputShape(0, 10),
		"device":              NewConv1D(backend, 3, 4, 3).Device("tpu:0"),
	}
	for name, builder := range invalidConfigs {
		_, err := builder.Done()
		require.Truef(t, errors.Is(err, ErrInvalidConfiguration), "%s: got %v", name, err)
	}

	conv, err := NewConv2D(backend, 3, 4, 3, 3).Done()
	require.NoError(t, err)
	_, err = conv.Forward(randomInput(t, backend, 1, 5, 5, 2))
	require.True(t, errors.Is(err, ErrShapeMismatch), "got %v", err)
	_, err = conv.Forward(randomInput(t, backend, 5, 5, 3))
	require.True(t, errors.Is(err, ErrShapeMismatch), "got %v", err)
	// Spatial dimensions smaller than the kernel.
	_, err = conv.Forward(randomInput(t, backend, 1, 2, 5, 3))
	require.True(t, errors.Is(err, ErrShapeMismatch), "got %v", err)

	// Output shape that doesn't map back to the input.
	convT, err := NewConv1DTranspose(backend, 2, 3, 3).Strides(2).OutputShape(20).Done()
	require.NoError(t, err)
	_, err = convT.Forward(randomInput(t, backend, 1, 5, 2))
	require.True(t, errors.Is(err, ErrShapeMismatch), "got %v", err)

	// Injected container with a kernel laid out for the other format.
	nchw, err := NewConv2D(backend, 3, 4, 3, 2).DataFormat(backends.NCHW).Done()
	require.NoError(t, err)
	_, err = NewConv2D(backend, 3, 4, 3, 2).WithParams(nchw.Params()).Done()
	require.True(t, errors.Is(err, ErrShapeMismatch), "got %v", err)
}
