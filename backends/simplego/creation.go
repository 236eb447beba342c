// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package simplego

import (
	"math"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/nnlayers/backends"
	"github.com/gomlx/nnlayers/types/shapes"
	"github.com/gomlx/nnlayers/types/tensors"
	"github.com/pkg/errors"
)

// newTensor allocates a zero tensor with the given dimensions on the device.
func newTensor(device string, dims ...int) *tensors.Tensor {
	for _, dim := range dims {
		if dim <= 0 {
			panic(errors.Wrapf(backends.ErrInvalidArgument, "dimensions must be > 0, got %v", dims))
		}
	}
	return tensors.FromShape(shapes.Make(dtypes.Float32, dims...)).OnDevice(device)
}

// canonicalDevice validates the device string, returning the canonical version or panicking.
func (b *Backend) canonicalDevice(device string) string {
	canonical, err := b.Device(device)
	if err != nil {
		panic(err)
	}
	return canonical
}

// checkFloat32 panics if any of the operands is nil or not Float32.
func checkFloat32(opName string, operands ...*tensors.Tensor) {
	for ii, t := range operands {
		if !t.Ok() {
			exceptions.Panicf("%s: operand #%d is nil or invalid", opName, ii)
		}
		if t.DType() != dtypes.Float32 {
			panic(errors.Wrapf(backends.ErrInvalidArgument, "%s: operand #%d has dtype %s, only Float32 is supported",
				opName, ii, t.DType()))
		}
	}
}

// Zeros implements backends.Backend.
func (b *Backend) Zeros(shape []int, device string) (*tensors.Tensor, error) {
	return run(b, "Zeros", func() *tensors.Tensor {
		return newTensor(b.canonicalDevice(device), shape...)
	})
}

// RandomUniform implements backends.Backend.
func (b *Backend) RandomUniform(minValue, maxValue float64, shape []int, device string) (*tensors.Tensor, error) {
	return run(b, "RandomUniform", func() *tensors.Tensor {
		if !(minValue <= maxValue) {
			panic(errors.Wrapf(backends.ErrInvalidArgument, "RandomUniform: min (%g) must be <= max (%g)", minValue, maxValue))
		}
		t := newTensor(b.canonicalDevice(device), shape...)
		b.rngMu.Lock()
		defer b.rngMu.Unlock()
		t.MutableFlatData(func(flat []float32) {
			span := maxValue - minValue
			for ii := range flat {
				flat[ii] = clampToRange(float32(minValue+b.rng.Float64()*span), minValue, maxValue)
			}
		})
		return t
	})
}

// clampToRange moves v, rounded to float32, back into [minValue, maxValue), or to minValue if the range is empty.
// Rounding to float32 may land below minValue or at or above maxValue.
func clampToRange(v float32, minValue, maxValue float64) float32 {
	if minValue == maxValue {
		return float32(minValue)
	}
	for float64(v) < minValue {
		v = math.Nextafter32(v, float32(math.Inf(1)))
	}
	for float64(v) >= maxValue && float64(v) > minValue {
		v = math.Nextafter32(v, float32(math.Inf(-1)))
	}
	if float64(v) < minValue {
		// No float32 in [minValue, maxValue).
		v = math.Nextafter32(v, float32(math.Inf(1)))
	}
	return v
}

// Variable implements backends.Backend.
func (b *Backend) Variable(t *tensors.Tensor) (*tensors.Tensor, error) {
	return run(b, "Variable", func() *tensors.Tensor {
		checkFloat32("Variable", t)
		return t.AsVariable()
	})
}
