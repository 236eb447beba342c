// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package simplego

import (
	"github.com/gomlx/nnlayers/backends/shapeinference"
	"github.com/gomlx/nnlayers/types/shapes"
	"github.com/gomlx/nnlayers/types/tensors"
)

// Reshape implements backends.Backend. The returned tensor shares the data with x.
func (b *Backend) Reshape(x *tensors.Tensor, dimensions ...int) (*tensors.Tensor, error) {
	return run(b, "Reshape", func() *tensors.Tensor {
		checkFloat32("Reshape", x)
		outputShape, err := shapeinference.ReshapeOp(x.Shape(), dimensions)
		if err != nil {
			panic(err)
		}
		return x.Reshaped(outputShape.Dimensions...)
	})
}

// Add implements backends.Backend, with right-aligned broadcasting.
func (b *Backend) Add(x, y *tensors.Tensor) (*tensors.Tensor, error) {
	return run(b, "Add", func() *tensors.Tensor {
		checkFloat32("Add", x, y)
		outputShape, err := shapeinference.BinaryOp(x.Shape(), y.Shape())
		if err != nil {
			panic(err)
		}
		output := newTensor(x.Device(), outputShape.Dimensions...)
		xStrides := broadcastStrides(x.Shape(), outputShape)
		yStrides := broadcastStrides(y.Shape(), outputShape)
		x.ConstFlatData(func(xFlat []float32) {
			y.ConstFlatData(func(yFlat []float32) {
				output.MutableFlatData(func(outFlat []float32) {
					if len(xFlat) == len(outFlat) && len(yFlat) == len(outFlat) {
						for ii := range outFlat {
							outFlat[ii] = xFlat[ii] + yFlat[ii]
						}
						return
					}
					rank := outputShape.Rank()
					index := make([]int, rank)
					var xIdx, yIdx int
					for ii := range outFlat {
						outFlat[ii] = xFlat[xIdx] + yFlat[yIdx]
						// Increment the multi-dimensional index, starting from the last axis.
						for axis := rank - 1; axis >= 0; axis-- {
							index[axis]++
							xIdx += xStrides[axis]
							yIdx += yStrides[axis]
							if index[axis] < outputShape.Dimensions[axis] {
								break
							}
							xIdx -= xStrides[axis] * index[axis]
							yIdx -= yStrides[axis] * index[axis]
							index[axis] = 0
						}
					}
				})
			})
		})
		return output
	})
}

// broadcastStrides returns the strides of operand aligned to the axes of output: broadcast axes
// (dimension 1 or missing) have stride 0.
func broadcastStrides(operand, output shapes.Shape) []int {
	rank := output.Rank()
	strides := make([]int, rank)
	operandStrides := operand.Strides()
	offset := rank - operand.Rank()
	for axis := offset; axis < rank; axis++ {
		if operand.Dimensions[axis-offset] != 1 {
			strides[axis] = operandStrides[axis-offset]
		}
	}
	return strides
}

// SliceAxis implements backends.Backend.
func (b *Backend) SliceAxis(x *tensors.Tensor, axis, index int) (*tensors.Tensor, error) {
	return run(b, "SliceAxis", func() *tensors.Tensor {
		checkFloat32("SliceAxis", x)
		outputShape, axis, index, err := shapeinference.SliceAxisOp(x.Shape(), axis, index)
		if err != nil {
			panic(err)
		}
		dims := x.Shape().Dimensions
		outer := 1
		for _, dim := range dims[:axis] {
			outer *= dim
		}
		inner := 1
		for _, dim := range dims[axis+1:] {
			inner *= dim
		}
		output := newTensor(x.Device(), outputShape.Dimensions...)
		x.ConstFlatData(func(xFlat []float32) {
			output.MutableFlatData(func(outFlat []float32) {
				for o := range outer {
					src := (o*dims[axis] + index) * inner
					copy(outFlat[o*inner:(o+1)*inner], xFlat[src:src+inner])
				}
			})
		})
		return output
	})
}
