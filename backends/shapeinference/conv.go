// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package shapeinference

import (
	"slices"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/nnlayers/backends"
	"github.com/gomlx/nnlayers/types/shapes"
	"github.com/gomlx/nnlayers/types/xslices"
	"github.com/pkg/errors"
)

// ConvConfig holds the resolved geometry of a convolution or of a transposed convolution.
//
// For both, Input refers to the operand x and Output to the result. The relation between positions is the same:
// a kernel element j connects the position o of the "smaller" side with the position o*stride - padLow + j*dilation
// of the "larger" side. For a convolution the smaller side is the output, for a transposed convolution it is the input.
type ConvConfig struct {
	Format     backends.DataFormat
	Transposed bool

	Batch                         int
	InputChannels, OutputChannels int
	InputSpatial, OutputSpatial   []int
	KernelSpatial                 []int

	Strides, Dilations []int

	// Paddings holds the (low, high) padding of each spatial axis of the larger side.
	Paddings [][2]int
}

// EffectiveKernel returns the size of the dilated kernel on the given spatial axis.
func (c ConvConfig) EffectiveKernel(axis int) int {
	return (c.KernelSpatial[axis]-1)*c.Dilations[axis] + 1
}

// LargeSpatial returns the spatial dimensions of the padded side: the input for convolutions, the output for
// transposed convolutions.
func (c ConvConfig) LargeSpatial() []int {
	if c.Transposed {
		return c.OutputSpatial
	}
	return c.InputSpatial
}

// SmallSpatial returns the spatial dimensions of the strided side: the output for convolutions, the input for
// transposed convolutions.
func (c ConvConfig) SmallSpatial() []int {
	if c.Transposed {
		return c.InputSpatial
	}
	return c.OutputSpatial
}

// OutputShape returns the full shape of the result, laid out according to Format.
func (c ConvConfig) OutputShape(dtype dtypes.DType) shapes.Shape {
	return shapes.Make(dtype, LayoutDims(c.Format, c.Batch, c.OutputChannels, c.OutputSpatial)...)
}

// LayoutDims returns the dimensions of a tensor with the given batch, channels and spatial dimensions
// laid out according to format.
func LayoutDims(format backends.DataFormat, batch, channels int, spatial []int) []int {
	dims := make([]int, 0, len(spatial)+2)
	dims = append(dims, batch)
	if !format.ChannelsLast() {
		dims = append(dims, channels)
	}
	dims = append(dims, spatial...)
	if format.ChannelsLast() {
		dims = append(dims, channels)
	}
	return dims
}

// ConvOp validates the operands of a convolution and returns its resolved geometry.
//
// Kernel is laid out [k..., out, in] for channels-last formats and [out, in, k...] for channels-first formats.
// strides and dilations have one value per spatial axis, or one value used for every axis, or none (defaults to 1).
func ConvOp(x, kernel shapes.Shape, strides []int, padding backends.Padding, format backends.DataFormat,
	dilations []int) (config ConvConfig, err error) {
	config, err = convCommon(x, kernel, strides, padding, format, dilations)
	if err != nil {
		return
	}
	config.OutputSpatial = make([]int, len(config.InputSpatial))
	config.Paddings = make([][2]int, len(config.InputSpatial))
	for axis, n := range config.InputSpatial {
		config.OutputSpatial[axis], config.Paddings[axis], err = forwardSize(n, config.EffectiveKernel(axis),
			config.Strides[axis], padding, axis)
		if err != nil {
			return ConvConfig{}, errors.WithMessagef(err, "Conv(x=%s, kernel=%s)", x, kernel)
		}
	}
	return config, nil
}

// ConvTransposeOp validates the operands of a transposed convolution (the adjoint of ConvOp with the same
// kernel, strides, padding and dilations) and returns its resolved geometry.
//
// outputShape can be nil (the output spatial dimensions are inferred), the spatial dimensions only, or the
// full shape of the result. If given, it must be one of the shapes that the forward convolution maps back to
// the spatial dimensions of x.
func ConvTransposeOp(x, kernel shapes.Shape, strides []int, padding backends.Padding, outputShape []int,
	format backends.DataFormat, dilations []int) (config ConvConfig, err error) {
	c, err := convCommon(x, kernel, strides, padding, format, dilations)
	if err != nil {
		return config, err
	}
	c.Transposed = true
	spatialRank := format.SpatialRank()
	var wantSpatial []int
	switch len(outputShape) {
	case 0:
	case spatialRank:
		wantSpatial = outputShape
	case spatialRank + 2:
		outBatch, outChannels := outputShape[0], outputShape[format.ChannelsAxis()]
		if outBatch != c.Batch || outChannels != c.OutputChannels {
			return config, errors.Wrapf(backends.ErrShapeMismatch,
				"ConvTranspose: output shape %v doesn't match batch %d and output channels %d", outputShape,
				c.Batch, c.OutputChannels)
		}
		for _, axis := range format.SpatialAxes() {
			wantSpatial = append(wantSpatial, outputShape[axis])
		}
	default:
		return config, errors.Wrapf(backends.ErrShapeMismatch,
			"ConvTranspose: output shape %v must have %d (spatial) or %d (full) dimensions", outputShape,
			spatialRank, spatialRank+2)
	}

	c.OutputSpatial = make([]int, spatialRank)
	c.Paddings = make([][2]int, spatialRank)
	for axis, m := range c.InputSpatial {
		eff, stride := c.EffectiveKernel(axis), c.Strides[axis]
		var n int
		if wantSpatial != nil {
			n = wantSpatial[axis]
		} else {
			switch padding.Mode {
			case backends.PaddingSame:
				n = m * stride
			case backends.PaddingValid:
				n = (m-1)*stride + eff
			default:
				pads := padding.ExplicitFor(axis)
				n = (m-1)*stride + eff - pads[0] - pads[1]
			}
		}
		if n <= 0 {
			return config, errors.Wrapf(backends.ErrShapeMismatch,
				"ConvTranspose(x=%s, kernel=%s): spatial axis %d would have output dimension %d", x, kernel, axis, n)
		}
		var back int
		back, c.Paddings[axis], err = forwardSize(n, eff, stride, padding, axis)
		if err != nil || back != m {
			return config, errors.Wrapf(backends.ErrShapeMismatch,
				"ConvTranspose(x=%s, kernel=%s): output dimension %d on spatial axis %d doesn't map back to input dimension %d (got %d)",
				x, kernel, n, axis, m, back)
		}
		c.OutputSpatial[axis] = n
	}
	return c, nil
}

// convCommon validates what is common to convolutions and transposed convolutions, and fills everything
// but the output spatial dimensions and the paddings.
func convCommon(x, kernel shapes.Shape, strides []int, padding backends.Padding, format backends.DataFormat,
	dilations []int) (config ConvConfig, err error) {
	spatialRank := format.SpatialRank()
	if spatialRank == 0 {
		return config, errors.Wrapf(backends.ErrInvalidArgument, "invalid data format %s", format)
	}
	rank := format.Rank()
	if x.Rank() != rank {
		return config, errors.Wrapf(backends.ErrShapeMismatch, "x %s must have rank %d for format %s", x, rank, format)
	}
	if kernel.Rank() != rank {
		return config, errors.Wrapf(backends.ErrShapeMismatch, "kernel %s must have rank %d for format %s", kernel, rank, format)
	}
	if x.DType != kernel.DType {
		return config, errors.Wrapf(backends.ErrShapeMismatch, "x %s and kernel %s have different dtypes", x, kernel)
	}
	if err = padding.Validate(spatialRank); err != nil {
		return
	}
	var ok bool
	if config.Strides, ok = xslices.Broadcast(strides, spatialRank, 1); !ok {
		return config, errors.Wrapf(backends.ErrInvalidArgument, "strides %v must have 1 or %d values", strides, spatialRank)
	}
	if config.Dilations, ok = xslices.Broadcast(dilations, spatialRank, 1); !ok {
		return config, errors.Wrapf(backends.ErrInvalidArgument, "dilations %v must have 1 or %d values", dilations, spatialRank)
	}
	if slices.Min(config.Strides) <= 0 || slices.Min(config.Dilations) <= 0 {
		return config, errors.Wrapf(backends.ErrInvalidArgument, "strides %v and dilations %v must be > 0",
			config.Strides, config.Dilations)
	}

	config.Format = format
	config.Batch = x.Dimensions[0]
	config.InputChannels = x.Dimensions[format.ChannelsAxis()]
	config.InputSpatial = make([]int, 0, spatialRank)
	for _, axis := range format.SpatialAxes() {
		config.InputSpatial = append(config.InputSpatial, x.Dimensions[axis])
	}
	kernelSpatialAxes, kernelOutAxis, kernelInAxis := format.KernelAxes()
	config.KernelSpatial = make([]int, 0, spatialRank)
	for _, axis := range kernelSpatialAxes {
		config.KernelSpatial = append(config.KernelSpatial, kernel.Dimensions[axis])
	}
	config.OutputChannels = kernel.Dimensions[kernelOutAxis]
	if kernelIn := kernel.Dimensions[kernelInAxis]; kernelIn != config.InputChannels {
		return config, errors.Wrapf(backends.ErrShapeMismatch,
			"x %s has %d channels, but kernel %s expects %d input channels (format %s)",
			x, config.InputChannels, kernel, kernelIn, format)
	}
	return config, nil
}

// forwardSize returns the output size of a convolution over one spatial axis of size n, and its (low, high) paddings.
func forwardSize(n, effectiveKernel, stride int, padding backends.Padding, axis int) (size int, pads [2]int, err error) {
	switch padding.Mode {
	case backends.PaddingSame:
		size = (n + stride - 1) / stride
		total := max((size-1)*stride+effectiveKernel-n, 0)
		pads = [2]int{total / 2, total - total/2}
		return
	case backends.PaddingExplicit:
		pads = padding.ExplicitFor(axis)
	}
	padded := n + pads[0] + pads[1]
	if padded < effectiveKernel {
		err = errors.Wrapf(backends.ErrShapeMismatch,
			"spatial axis %d has (padded) dimension %d, smaller than the (dilated) kernel size %d", axis, padded, effectiveKernel)
		return
	}
	size = (padded-effectiveKernel)/stride + 1
	return
}
