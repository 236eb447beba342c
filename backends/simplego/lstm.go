// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package simplego

import (
	"math"
	"slices"

	"github.com/gomlx/nnlayers/backends/shapeinference"
	"github.com/gomlx/nnlayers/types/tensors"
)

// LSTMUpdate implements backends.Backend.
//
// For every time step t, with gates ordered input (i), forget (f), cell (g) and output (o):
//
//	[i f g o] = x[t]·inputW + h·recurrentW
//	c = sigmoid(f)*c + sigmoid(i)*tanh(g)
//	h = sigmoid(o)*tanh(c)
func (b *Backend) LSTMUpdate(x, h0, c0, inputW, recurrentW *tensors.Tensor) (hs, cN *tensors.Tensor, err error) {
	type result struct{ hs, cN *tensors.Tensor }
	var r result
	r, err = run(b, "LSTMUpdate", func() result {
		checkFloat32("LSTMUpdate", x, h0, c0, inputW, recurrentW)
		config, err := shapeinference.LSTMUpdateOp(x.Shape(), h0.Shape(), c0.Shape(), inputW.Shape(), recurrentW.Shape())
		if err != nil {
			panic(err)
		}
		batch, steps, inSize, hidden := config.BatchSize(), config.Steps, config.InputSize, config.HiddenSize
		gatesSize := 4 * hidden

		// Input projections for all time steps at once: [batch*steps, 4*hidden].
		projections := make([]float32, batch*steps*gatesSize)
		x.ConstFlatData(func(xFlat []float32) {
			inputW.ConstFlatData(func(wFlat []float32) {
				b.parallelMatMul(xFlat, batch*steps, inSize, wFlat, gatesSize, false, 0, projections)
			})
		})

		h := h0.CopyFlatData()
		c := c0.CopyFlatData()
		hsFlat := make([]float32, batch*steps*hidden)
		gates := make([]float32, batch*gatesSize)
		wh := recurrentW.CopyFlatData()
		for t := range steps {
			for n := range batch {
				offset := (n*steps + t) * gatesSize
				copy(gates[n*gatesSize:(n+1)*gatesSize], projections[offset:offset+gatesSize])
			}
			matMul(h, batch, hidden, wh, gatesSize, false, 1, gates)
			for n := range batch {
				g := gates[n*gatesSize : (n+1)*gatesSize]
				for j := range hidden {
					inputGate := sigmoid(g[j])
					forgetGate := sigmoid(g[hidden+j])
					cellGate := tanh(g[2*hidden+j])
					outputGate := sigmoid(g[3*hidden+j])
					idx := n*hidden + j
					c[idx] = forgetGate*c[idx] + inputGate*cellGate
					h[idx] = outputGate * tanh(c[idx])
				}
				copy(hsFlat[(n*steps+t)*hidden:(n*steps+t+1)*hidden], h[n*hidden:(n+1)*hidden])
			}
		}

		hsDims := append(slices.Clone(config.BatchDims), steps, hidden)
		cDims := append(slices.Clone(config.BatchDims), hidden)
		return result{
			hs: tensors.FromFlatData(hsFlat, hsDims...).OnDevice(x.Device()),
			cN: tensors.FromFlatData(c, cDims...).OnDevice(x.Device()),
		}
	})
	return r.hs, r.cN, err
}

func sigmoid(v float32) float32 {
	return float32(1 / (1 + math.Exp(-float64(v))))
}

func tanh(v float32) float32 {
	return float32(math.Tanh(float64(v)))
}
