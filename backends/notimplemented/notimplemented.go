// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package notimplemented implements a backends.Backend that returns a "Not implemented" error for
// every operation.
//
// It can help bootstrap a backend implementation, and it's a handy base for mock backends in tests:
// embed it and override only the operations needed.
package notimplemented

import (
	"github.com/gomlx/nnlayers/backends"
	"github.com/pkg/errors"
)

// NotImplementedError is returned by every method.
//
// It doesn't contain a stack, attach a stack to with with errors.Wrapf(NotImplementedError, "...") when using it.
var NotImplementedError = backends.ErrNotImplemented

// Backend is a dummy backend that can be embedded to create mock backends.
type Backend struct{}

var _ backends.Backend = &Backend{}

// Name returns the short name of the backend.
func (b *Backend) Name() string {
	return "notimplemented"
}

// String returns the same as Name.
func (b *Backend) String() string {
	return b.Name()
}

// Description is a longer description of the Backend.
func (b *Backend) Description() string {
	return "Not Implemented Backend (mock backend for testing)"
}

// NumDevices returns 1 as the number of devices available.
func (b *Backend) NumDevices() int {
	return 1
}

// Device accepts any device name as is.
func (b *Backend) Device(name string) (string, error) {
	return name, nil
}

// Finalize is a no-op.
func (b *Backend) Finalize() {}

// Zeros returns NotImplementedError.
func (b *Backend) Zeros(shape []int, device string) (*backends.Tensor, error) {
	return nil, errors.Wrapf(NotImplementedError, "in Zeros()")
}

// RandomUniform returns NotImplementedError.
func (b *Backend) RandomUniform(minValue, maxValue float64, shape []int, device string) (*backends.Tensor, error) {
	return nil, errors.Wrapf(NotImplementedError, "in RandomUniform()")
}

// Variable returns NotImplementedError.
func (b *Backend) Variable(t *backends.Tensor) (*backends.Tensor, error) {
	return nil, errors.Wrapf(NotImplementedError, "in Variable()")
}

// Add returns NotImplementedError.
func (b *Backend) Add(x, y *backends.Tensor) (*backends.Tensor, error) {
	return nil, errors.Wrapf(NotImplementedError, "in Add()")
}

// Reshape returns NotImplementedError.
func (b *Backend) Reshape(x *backends.Tensor, dimensions ...int) (*backends.Tensor, error) {
	return nil, errors.Wrapf(NotImplementedError, "in Reshape()")
}

// SliceAxis returns NotImplementedError.
func (b *Backend) SliceAxis(x *backends.Tensor, axis, index int) (*backends.Tensor, error) {
	return nil, errors.Wrapf(NotImplementedError, "in SliceAxis()")
}

// Linear returns NotImplementedError.
func (b *Backend) Linear(x, weight, bias *backends.Tensor) (*backends.Tensor, error) {
	return nil, errors.Wrapf(NotImplementedError, "in Linear()")
}

// Conv1D returns NotImplementedError.
func (b *Backend) Conv1D(x, kernel *backends.Tensor, strides []int, padding backends.Padding,
	format backends.DataFormat, dilations []int) (*backends.Tensor, error) {
	return nil, errors.Wrapf(NotImplementedError, "in Conv1D()")
}

// Conv1DTranspose returns NotImplementedError.
func (b *Backend) Conv1DTranspose(x, kernel *backends.Tensor, strides []int, padding backends.Padding,
	outputShape []int, format backends.DataFormat, dilations []int) (*backends.Tensor, error) {
	return nil, errors.Wrapf(NotImplementedError, "in Conv1DTranspose()")
}

// Conv2D returns NotImplementedError.
func (b *Backend) Conv2D(x, kernel *backends.Tensor, strides []int, padding backends.Padding,
	format backends.DataFormat, dilations []int) (*backends.Tensor, error) {
	return nil, errors.Wrapf(NotImplementedError, "in Conv2D()")
}

// Conv2DTranspose returns NotImplementedError.
func (b *Backend) Conv2DTranspose(x, kernel *backends.Tensor, strides []int, padding backends.Padding,
	outputShape []int, format backends.DataFormat, dilations []int) (*backends.Tensor, error) {
	return nil, errors.Wrapf(NotImplementedError, "in Conv2DTranspose()")
}

// LSTMUpdate returns NotImplementedError.
func (b *Backend) LSTMUpdate(x, h0, c0, inputW, recurrentW *backends.Tensor) (hs, cN *backends.Tensor, err error) {
	return nil, nil, errors.Wrapf(NotImplementedError, "in LSTMUpdate()")
}
