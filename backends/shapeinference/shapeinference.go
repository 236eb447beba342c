// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package shapeinference calculates the shape resulting from operations and validates its inputs.
//
// This can be useful for new backends to validate the operands and plan for the output buffers: all the
// backends are expected to accept and reject the same inputs.
//
// Errors wrap backends.ErrShapeMismatch for incompatible shapes and backends.ErrInvalidArgument for
// everything else.
package shapeinference

import (
	"slices"

	"github.com/gomlx/nnlayers/backends"
	"github.com/gomlx/nnlayers/types/shapes"
	"github.com/gomlx/nnlayers/types/xslices"
	"github.com/pkg/errors"
)

// BinaryOp returns the shape of an element-wise binary operation, with right-aligned broadcasting:
// the operands are aligned on their last axis, and each pair of dimensions must be equal or one of
// them must be 1. Missing leading axes are taken as 1.
func BinaryOp(lhsShape, rhsShape shapes.Shape) (output shapes.Shape, err error) {
	if !lhsShape.Ok() || !rhsShape.Ok() {
		return shapes.Invalid(), errors.Wrapf(backends.ErrInvalidArgument, "invalid shape for binary op: %s, %s",
			lhsShape, rhsShape)
	}
	if lhsShape.DType != rhsShape.DType {
		return shapes.Invalid(), errors.Wrapf(backends.ErrShapeMismatch, "data types (DType) for binary op must match, got %s and %s",
			lhsShape, rhsShape)
	}
	rank := max(lhsShape.Rank(), rhsShape.Rank())
	dims := make([]int, rank)
	for ii := range rank {
		lhsDim, rhsDim := 1, 1
		if axis := lhsShape.Rank() - rank + ii; axis >= 0 {
			lhsDim = lhsShape.Dimensions[axis]
		}
		if axis := rhsShape.Rank() - rank + ii; axis >= 0 {
			rhsDim = rhsShape.Dimensions[axis]
		}
		switch {
		case lhsDim == rhsDim, rhsDim == 1:
			dims[ii] = lhsDim
		case lhsDim == 1:
			dims[ii] = rhsDim
		default:
			return shapes.Invalid(), errors.Wrapf(backends.ErrShapeMismatch,
				"shapes %s and %s can't be broadcast together (axis %d from the end: %d != %d)",
				lhsShape, rhsShape, rank-ii, lhsDim, rhsDim)
		}
	}
	return shapes.Make(lhsShape.DType, dims...), nil
}

// ReshapeOp to the given dimensions: trivial output shape, but this function also checks
// that the sizes are the same.
func ReshapeOp(operand shapes.Shape, dims []int) (output shapes.Shape, err error) {
	for _, dim := range dims {
		if dim <= 0 {
			return shapes.Invalid(), errors.Wrapf(backends.ErrInvalidArgument, "Reshape(%s, %v): dimensions must be > 0",
				operand, dims)
		}
	}
	output = shapes.Make(operand.DType, dims...)
	if operand.Size() != output.Size() {
		return shapes.Invalid(), errors.Wrapf(backends.ErrShapeMismatch, "Reshape(%s, %v): sizes differ (%d != %d)",
			operand, dims, operand.Size(), output.Size())
	}
	return output, nil
}

// SliceAxisOp returns the shape of selecting one element of the given axis, removing the axis.
// It also returns the axis and index adjusted to non-negative values.
func SliceAxisOp(operand shapes.Shape, axis, index int) (output shapes.Shape, adjustedAxis, adjustedIndex int, err error) {
	rank := operand.Rank()
	adjustedAxis = axis
	if adjustedAxis < 0 {
		adjustedAxis += rank
	}
	if adjustedAxis < 0 || adjustedAxis >= rank {
		err = errors.Wrapf(backends.ErrInvalidArgument, "SliceAxis(%s): axis %d out-of-bounds for rank %d", operand, axis, rank)
		return
	}
	dim := operand.Dimensions[adjustedAxis]
	adjustedIndex = index
	if adjustedIndex < 0 {
		adjustedIndex += dim
	}
	if adjustedIndex < 0 || adjustedIndex >= dim {
		err = errors.Wrapf(backends.ErrInvalidArgument, "SliceAxis(%s, axis=%d): index %d out-of-bounds for dimension %d",
			operand, axis, index, dim)
		return
	}
	dims := slices.Delete(slices.Clone(operand.Dimensions), adjustedAxis, adjustedAxis+1)
	output = shapes.Make(operand.DType, dims...)
	return
}

// LinearOp returns the output shape of x·weightᵀ + bias. bias is optional: pass an invalid shape
// (shapes.Invalid()) if there is no bias.
func LinearOp(x, weight, bias shapes.Shape) (output shapes.Shape, err error) {
	if x.Rank() < 1 {
		return shapes.Invalid(), errors.Wrapf(backends.ErrShapeMismatch, "Linear: x must have rank >= 1, got %s", x)
	}
	if weight.Rank() != 2 {
		return shapes.Invalid(), errors.Wrapf(backends.ErrShapeMismatch, "Linear: weight must be shaped [out, in], got %s", weight)
	}
	if x.DType != weight.DType {
		return shapes.Invalid(), errors.Wrapf(backends.ErrShapeMismatch, "Linear: x %s and weight %s have different dtypes", x, weight)
	}
	outDim, inDim := weight.Dimensions[0], weight.Dimensions[1]
	if x.Dim(-1) != inDim {
		return shapes.Invalid(), errors.Wrapf(backends.ErrShapeMismatch,
			"Linear: x %s last dimension must match weight %s input dimension %d", x, weight, inDim)
	}
	dims := slices.Clone(x.Dimensions)
	dims[len(dims)-1] = outDim
	output = shapes.Make(x.DType, dims...)
	if bias.Ok() {
		if bias.Rank() != 1 || bias.Dimensions[0] != outDim {
			return shapes.Invalid(), errors.Wrapf(backends.ErrShapeMismatch, "Linear: bias must be shaped [%d], got %s", outDim, bias)
		}
	}
	return output, nil
}

// LSTMConfig holds the validated dimensions of an LSTM update.
type LSTMConfig struct {
	// BatchDims are the leading axes of x, shared with the states.
	BatchDims []int

	// Steps is the size of the time axis.
	Steps int

	// InputSize and HiddenSize are the feature sizes of x and of the states.
	InputSize, HiddenSize int
}

// BatchSize is the product of the batch dimensions.
func (c LSTMConfig) BatchSize() int { return xslices.Product(c.BatchDims) }

// LSTMUpdateOp validates the operands of an LSTM update: x [..., T, in], h0 and c0 [..., out],
// inputW [in, 4*out] and recurrentW [out, 4*out].
func LSTMUpdateOp(x, h0, c0, inputW, recurrentW shapes.Shape) (config LSTMConfig, err error) {
	errorf := func(format string, args ...any) (LSTMConfig, error) {
		return LSTMConfig{}, errors.Wrapf(backends.ErrShapeMismatch, "LSTMUpdate: "+format, args...)
	}
	if x.Rank() < 2 {
		return errorf("x must be shaped [..., time, features], got %s", x)
	}
	if recurrentW.Rank() != 2 || recurrentW.Dimensions[1] != 4*recurrentW.Dimensions[0] {
		return errorf("recurrent weights must be shaped [out, 4*out], got %s", recurrentW)
	}
	hidden := recurrentW.Dimensions[0]
	if inputW.Rank() != 2 || inputW.Dimensions[1] != 4*hidden {
		return errorf("input weights must be shaped [in, %d], got %s", 4*hidden, inputW)
	}
	if x.Dim(-1) != inputW.Dimensions[0] {
		return errorf("x %s features must match input weights %s", x, inputW)
	}
	for _, s := range []shapes.Shape{h0, c0, inputW, recurrentW} {
		if s.DType != x.DType {
			return errorf("operands must all have dtype %s, got %s", x.DType, s)
		}
	}
	config.BatchDims = slices.Clone(x.Dimensions[:x.Rank()-2])
	config.Steps = x.Dim(-2)
	config.InputSize = x.Dim(-1)
	config.HiddenSize = hidden
	wantState := append(slices.Clone(config.BatchDims), hidden)
	if err := h0.CheckDims(wantState...); err != nil {
		return errorf("initial hidden state: %v", err)
	}
	if err := c0.CheckDims(wantState...); err != nil {
		return errorf("initial cell state: %v", err)
	}
	return config, nil
}
