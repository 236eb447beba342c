// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package simplego

import (
	"github.com/gomlx/nnlayers/backends/shapeinference"
	"github.com/gomlx/nnlayers/types/shapes"
	"github.com/gomlx/nnlayers/types/tensors"
)

// Linear implements backends.Backend: x·weightᵀ + bias over the last axis of x.
func (b *Backend) Linear(x, weight, bias *tensors.Tensor) (*tensors.Tensor, error) {
	return run(b, "Linear", func() *tensors.Tensor {
		checkFloat32("Linear", x, weight)
		biasShape := shapes.Invalid()
		if bias != nil {
			checkFloat32("Linear", bias)
			biasShape = bias.Shape()
		}
		outputShape, err := shapeinference.LinearOp(x.Shape(), weight.Shape(), biasShape)
		if err != nil {
			panic(err)
		}
		outDim, inDim := weight.Shape().Dimensions[0], weight.Shape().Dimensions[1]
		rows := x.Size() / inDim
		output := newTensor(x.Device(), outputShape.Dimensions...)
		output.MutableFlatData(func(outFlat []float32) {
			beta := float32(0)
			if bias != nil {
				bias.ConstFlatData(func(biasFlat []float32) {
					for row := range rows {
						copy(outFlat[row*outDim:(row+1)*outDim], biasFlat)
					}
				})
				beta = 1
			}
			x.ConstFlatData(func(xFlat []float32) {
				weight.ConstFlatData(func(wFlat []float32) {
					b.parallelMatMul(xFlat, rows, inDim, wFlat, outDim, true, beta, outFlat)
				})
			})
		})
		return output
	})
}
