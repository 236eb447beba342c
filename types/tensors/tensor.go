// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package tensors implements a `Tensor`, a representation of a multi-dimensional array stored on the host.
//
// Tensors are multidimensional arrays (from scalar with 0 dimensions, to arbitrarily large dimensions), defined
// by their shape (a data type and its axes dimensions), their actual content, and the device string they
// were created for.
//
// There are various ways to construct a Tensor from local data:
//
//   - FromShape(shape shapes.Shape): creates a tensor with the given shape, and zero values.
//
//   - FromFlatData(data []float32, dimensions ...int): creates a Tensor with the given dimensions, and sets
//     the flattened values with the given data. Example:
//
//     t := FromFlatData([]float32{1, 2, 3, 4}, 2, 2) // Tensor with [[1,2], [3,4]]
//
//   - FromValues[T constraints.Float](data []T, dimensions ...int): same as FromFlatData, but converting from
//     any float type.
//
//   - FromScalar(value float32): a scalar tensor.
//
// Only Float32 tensors hold data at this time. Tensors are treated as values: operations create new tensors,
// and the data of a tensor should only be changed (with MutableFlatData) before it is shared.
package tensors

import (
	"fmt"
	"math"
	"strings"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/nnlayers/types/shapes"
	"github.com/gomlx/nnlayers/types/xslices"
	"golang.org/x/exp/constraints"
)

// DefaultDevice is the device assigned to tensors created without an explicit device.
const DefaultDevice = "cpu:0"

// Tensor represents a multidimensional array, defined by its shape, a data type (dtypes.DType) and its axes'
// dimensions, and its actual content stored as a flat (1D) array of values in row-major order.
//
// A Tensor marked as trainable is a "variable": a parameter of a model, as opposed to an intermediary
// value or an input.
type Tensor struct {
	shape     shapes.Shape
	flat      []float32
	device    string
	trainable bool
}

// FromShape returns a zero-initialized tensor with the given shape on the DefaultDevice.
//
// It panics if the shape is invalid or its DType is not Float32.
func FromShape(shape shapes.Shape) *Tensor {
	if !shape.Ok() {
		exceptions.Panicf("tensors.FromShape(): invalid shape %s", shape)
	}
	if shape.DType != dtypes.Float32 {
		exceptions.Panicf("tensors.FromShape(%s): only Float32 tensors are supported", shape)
	}
	return &Tensor{
		shape:  shape.Clone(),
		flat:   make([]float32, shape.Size()),
		device: DefaultDevice,
	}
}

// FromFlatData creates a tensor with the given dimensions, filled with the flattened values given in `data`.
// The data is copied to the Tensor.
//
// It panics if the size of data doesn't match the dimensions.
func FromFlatData(data []float32, dimensions ...int) *Tensor {
	shape := shapes.Make(dtypes.Float32, dimensions...)
	if len(data) != shape.Size() {
		exceptions.Panicf("FromFlatData(%s): data size is %d, but dimensions size is %d", shape, len(data), shape.Size())
	}
	t := FromShape(shape)
	copy(t.flat, data)
	return t
}

// FromValues is like FromFlatData, but converts the values from any float type.
func FromValues[T constraints.Float](data []T, dimensions ...int) *Tensor {
	return FromFlatData(xslices.Map(data, func(v T) float32 { return float32(v) }), dimensions...)
}

// FromScalar creates a scalar tensor.
func FromScalar(value float32) *Tensor {
	return FromFlatData([]float32{value})
}

// Shape of the tensor, includes DType.
func (t *Tensor) Shape() shapes.Shape { return t.shape }

// DType returns the DType of the tensor's shape.
// It is a shortcut to `Tensor.Shape().DType`.
func (t *Tensor) DType() dtypes.DType { return t.shape.DType }

// Rank returns the rank of the tensor's shape.
// It is a shortcut to `Tensor.Shape().Rank()`.
func (t *Tensor) Rank() int { return t.shape.Rank() }

// Size returns the number of elements in the tensor.
func (t *Tensor) Size() int { return t.shape.Size() }

// Memory returns the number of bytes used by the tensor data.
func (t *Tensor) Memory() uintptr { return t.shape.Memory() }

// Device returns the canonical device string the tensor was created for.
func (t *Tensor) Device() string { return t.device }

// IsVariable returns whether the tensor is marked as trainable.
func (t *Tensor) IsVariable() bool { return t.trainable }

// Ok returns whether the tensor is non-nil and has a valid shape.
func (t *Tensor) Ok() bool { return t != nil && t.shape.Ok() }

// AssertValid panics if the tensor is nil or invalid.
func (t *Tensor) AssertValid() {
	if t == nil {
		exceptions.Panicf("tensor is nil")
	}
	if !t.shape.Ok() {
		exceptions.Panicf("tensor has invalid shape")
	}
}

// OnDevice returns a shallow copy of the tensor (sharing the data) assigned to the given device.
func (t *Tensor) OnDevice(device string) *Tensor {
	t2 := *t
	t2.device = device
	return &t2
}

// AsVariable returns a shallow copy of the tensor (sharing the data) marked as trainable.
func (t *Tensor) AsVariable() *Tensor {
	t2 := *t
	t2.trainable = true
	return &t2
}

// Reshaped returns a view of the tensor (sharing the data) with the new dimensions.
// The total size must be preserved, otherwise it panics.
func (t *Tensor) Reshaped(dimensions ...int) *Tensor {
	shape := t.shape.WithDims(dimensions...)
	if shape.Size() != t.shape.Size() {
		exceptions.Panicf("Reshaped(%v): tensor shape %s has %d elements, cannot reshape to %s",
			dimensions, t.shape, t.shape.Size(), shape)
	}
	t2 := *t
	t2.shape = shape
	return &t2
}

// Clone returns a deep copy of the tensor: data is copied, device and trainable flag are preserved.
func (t *Tensor) Clone() *Tensor {
	return &Tensor{
		shape:     t.shape.Clone(),
		flat:      xslices.Copy(t.flat),
		device:    t.device,
		trainable: t.trainable,
	}
}

// ConstFlatData calls accessFn with the flat data of the tensor. The data must not be changed.
func (t *Tensor) ConstFlatData(accessFn func(flat []float32)) {
	t.AssertValid()
	accessFn(t.flat)
}

// MutableFlatData calls accessFn with the flat data of the tensor, which can be changed in place.
//
// Tensors may share data (see Reshaped, AsVariable, OnDevice), so changes are visible to all of them.
func (t *Tensor) MutableFlatData(accessFn func(flat []float32)) {
	t.AssertValid()
	accessFn(t.flat)
}

// CopyFlatData returns a copy of the flat data of the Tensor.
func (t *Tensor) CopyFlatData() []float32 {
	return xslices.Copy(t.flat)
}

// Equal checks whether both tensors have the same shape and values.
// If they are the same pointer they are considered equal.
func (t *Tensor) Equal(otherTensor *Tensor) bool {
	return t.InDelta(otherTensor, 0)
}

// InDelta checks whether Abs(t - otherTensor) <= delta for every element.
// If the shapes are different it returns false.
func (t *Tensor) InDelta(otherTensor *Tensor, delta float64) bool {
	t.AssertValid()
	otherTensor.AssertValid()
	if t == otherTensor {
		return true
	}
	if !t.shape.Equal(otherTensor.shape) {
		return false
	}
	for ii, v := range t.flat {
		if math.Abs(float64(v)-float64(otherTensor.flat[ii])) > delta {
			return false
		}
	}
	return true
}

// MaxSizeForString is the largest tensor whose values are included by String().
var MaxSizeForString = 500

// String converts to string, including the values if the tensor is not too large.
func (t *Tensor) String() string {
	if t == nil {
		return "<nil>"
	}
	var sb strings.Builder
	sb.WriteString(t.shape.String())
	if t.trainable {
		sb.WriteString(" variable")
	}
	_, _ = fmt.Fprintf(&sb, " on %s", t.device)
	if t.Size() > MaxSizeForString {
		return sb.String()
	}
	sb.WriteString(": ")
	if t.shape.IsScalar() {
		_, _ = fmt.Fprintf(&sb, "%g", t.flat[0])
		return sb.String()
	}
	writeValues(&sb, t.flat, t.shape.Dimensions)
	return sb.String()
}

// writeValues writes flat as nested brackets, one level per dimension.
func writeValues(sb *strings.Builder, flat []float32, dimensions []int) {
	sb.WriteByte('[')
	if len(dimensions) == 1 {
		for ii, v := range flat {
			if ii > 0 {
				sb.WriteByte(' ')
			}
			_, _ = fmt.Fprintf(sb, "%g", v)
		}
	} else {
		stride := len(flat) / dimensions[0]
		for ii := range dimensions[0] {
			if ii > 0 {
				sb.WriteByte(' ')
			}
			writeValues(sb, flat[ii*stride:(ii+1)*stride], dimensions[1:])
		}
	}
	sb.WriteByte(']')
}
