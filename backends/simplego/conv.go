// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package simplego

import (
	"github.com/gomlx/nnlayers/backends"
	"github.com/gomlx/nnlayers/backends/shapeinference"
	"github.com/gomlx/nnlayers/types/tensors"
	"github.com/pkg/errors"
)

// This file implements the 1D and 2D convolutions and transposed convolutions.
//
// All variations are computed by the same kernels, in a canonical 2D channels-last layout:
// x is transposed to [batch, height, width, channels] (1D inputs get height=1), the kernel to
// [kh, kw, out, in], and the result is transposed back to the requested format.

// Conv1D implements backends.Backend.
func (b *Backend) Conv1D(x, kernel *tensors.Tensor, strides []int, padding backends.Padding,
	format backends.DataFormat, dilations []int) (*tensors.Tensor, error) {
	return b.conv("Conv1D", 1, x, kernel, strides, padding, nil, false, format, dilations)
}

// Conv1DTranspose implements backends.Backend.
func (b *Backend) Conv1DTranspose(x, kernel *tensors.Tensor, strides []int, padding backends.Padding,
	outputShape []int, format backends.DataFormat, dilations []int) (*tensors.Tensor, error) {
	return b.conv("Conv1DTranspose", 1, x, kernel, strides, padding, outputShape, true, format, dilations)
}

// Conv2D implements backends.Backend.
func (b *Backend) Conv2D(x, kernel *tensors.Tensor, strides []int, padding backends.Padding,
	format backends.DataFormat, dilations []int) (*tensors.Tensor, error) {
	return b.conv("Conv2D", 2, x, kernel, strides, padding, nil, false, format, dilations)
}

// Conv2DTranspose implements backends.Backend.
func (b *Backend) Conv2DTranspose(x, kernel *tensors.Tensor, strides []int, padding backends.Padding,
	outputShape []int, format backends.DataFormat, dilations []int) (*tensors.Tensor, error) {
	return b.conv("Conv2DTranspose", 2, x, kernel, strides, padding, outputShape, true, format, dilations)
}

// conv2DGeometry is the geometry of a convolution in the canonical 2D layout.
type conv2DGeometry struct {
	batch, inChannels, outChannels int
	inH, inW, outH, outW           int
	kH, kW                         int
	strideH, strideW               int
	dilationH, dilationW           int
	padH, padW                     int // Low padding of the larger side.
}

// newConv2DGeometry converts the resolved config to 2D, prepending a unit height axis for 1D convolutions.
func newConv2DGeometry(config shapeinference.ConvConfig) conv2DGeometry {
	g := conv2DGeometry{
		batch:       config.Batch,
		inChannels:  config.InputChannels,
		outChannels: config.OutputChannels,
		inH:         1, outH: 1, kH: 1,
		strideH: 1, dilationH: 1,
	}
	last := len(config.InputSpatial) - 1
	g.inW, g.outW, g.kW = config.InputSpatial[last], config.OutputSpatial[last], config.KernelSpatial[last]
	g.strideW, g.dilationW, g.padW = config.Strides[last], config.Dilations[last], config.Paddings[last][0]
	if last == 1 {
		g.inH, g.outH, g.kH = config.InputSpatial[0], config.OutputSpatial[0], config.KernelSpatial[0]
		g.strideH, g.dilationH, g.padH = config.Strides[0], config.Dilations[0], config.Paddings[0][0]
	}
	return g
}

func (b *Backend) conv(opName string, spatialRank int, x, kernel *tensors.Tensor, strides []int, padding backends.Padding,
	outputShape []int, transposed bool, format backends.DataFormat, dilations []int) (*tensors.Tensor, error) {
	return run(b, opName, func() *tensors.Tensor {
		checkFloat32(opName, x, kernel)
		if format.SpatialRank() != spatialRank {
			panic(errors.Wrapf(backends.ErrInvalidArgument, "%s: data format %s is not a %dD format", opName, format, spatialRank))
		}
		var config shapeinference.ConvConfig
		var err error
		if transposed {
			config, err = shapeinference.ConvTransposeOp(x.Shape(), kernel.Shape(), strides, padding, outputShape, format, dilations)
		} else {
			config, err = shapeinference.ConvOp(x.Shape(), kernel.Shape(), strides, padding, format, dilations)
		}
		if err != nil {
			panic(err)
		}
		g := newConv2DGeometry(config)
		xFlat := toChannelsLast(x, format)
		kFlat := kernelToChannelsLast(kernel, format)
		outFlat := make([]float32, g.batch*g.outH*g.outW*g.outChannels)
		if transposed {
			b.convTransposeKernel(g, xFlat, kFlat, outFlat)
		} else {
			b.convKernel(g, xFlat, kFlat, outFlat)
		}
		return fromChannelsLast(outFlat, config, x.Device())
	})
}

// convKernel computes the forward convolution in the canonical layout, splitting the output rows
// (batch x height) across workers.
func (b *Backend) convKernel(g conv2DGeometry, x, kernel, out []float32) {
	rowSize := g.outW * g.outChannels
	minRows := max(1, (1<<14)/max(rowSize*g.kH*g.kW*g.inChannels, 1))
	b.workers.ParallelFor(g.batch*g.outH, minRows, func(start, end int) {
		for row := start; row < end; row++ {
			n, oh := row/g.outH, row%g.outH
			for ow := range g.outW {
				outPos := out[(row*g.outW+ow)*g.outChannels : (row*g.outW+ow+1)*g.outChannels]
				for kh := range g.kH {
					ih := oh*g.strideH - g.padH + kh*g.dilationH
					if ih < 0 || ih >= g.inH {
						continue
					}
					for kw := range g.kW {
						iw := ow*g.strideW - g.padW + kw*g.dilationW
						if iw < 0 || iw >= g.inW {
							continue
						}
						xOffset := ((n*g.inH+ih)*g.inW + iw) * g.inChannels
						xPos := x[xOffset : xOffset+g.inChannels]
						kOffset := (kh*g.kW + kw) * g.outChannels * g.inChannels
						for co := range g.outChannels {
							w := kernel[kOffset+co*g.inChannels : kOffset+(co+1)*g.inChannels]
							var sum float32
							for ci, v := range xPos {
								sum += w[ci] * v
							}
							outPos[co] += sum
						}
					}
				}
			}
		}
	})
}

// convTransposeKernel computes the transposed convolution in the canonical layout: each input position
// scatters its contribution to the output. Work is split across the batch, so writes never overlap.
func (b *Backend) convTransposeKernel(g conv2DGeometry, x, kernel, out []float32) {
	b.workers.ParallelFor(g.batch, 1, func(start, end int) {
		for n := start; n < end; n++ {
			for ih := range g.inH {
				for iw := range g.inW {
					xOffset := ((n*g.inH+ih)*g.inW + iw) * g.inChannels
					xPos := x[xOffset : xOffset+g.inChannels]
					for kh := range g.kH {
						oh := ih*g.strideH - g.padH + kh*g.dilationH
						if oh < 0 || oh >= g.outH {
							continue
						}
						for kw := range g.kW {
							ow := iw*g.strideW - g.padW + kw*g.dilationW
							if ow < 0 || ow >= g.outW {
								continue
							}
							outOffset := ((n*g.outH+oh)*g.outW + ow) * g.outChannels
							outPos := out[outOffset : outOffset+g.outChannels]
							kOffset := (kh*g.kW + kw) * g.outChannels * g.inChannels
							for co := range g.outChannels {
								w := kernel[kOffset+co*g.inChannels : kOffset+(co+1)*g.inChannels]
								var sum float32
								for ci, v := range xPos {
									sum += w[ci] * v
								}
								outPos[co] += sum
							}
						}
					}
				}
			}
		}
	})
}

// toChannelsLast returns the flat data of x in channels-last order.
func toChannelsLast(x *tensors.Tensor, format backends.DataFormat) []float32 {
	if format.ChannelsLast() {
		return x.CopyFlatData()
	}
	// Move axis 1 (channels) to the end.
	rank := x.Rank()
	perm := make([]int, 0, rank)
	perm = append(perm, 0)
	for axis := 2; axis < rank; axis++ {
		perm = append(perm, axis)
	}
	perm = append(perm, 1)
	return transposeFlat(x.CopyFlatData(), x.Shape().Dimensions, perm)
}

// kernelToChannelsLast returns the kernel flat data ordered as [k..., out, in].
func kernelToChannelsLast(kernel *tensors.Tensor, format backends.DataFormat) []float32 {
	if format.ChannelsLast() {
		return kernel.CopyFlatData()
	}
	// [out, in, k...] -> [k..., out, in]
	rank := kernel.Rank()
	perm := make([]int, 0, rank)
	for axis := 2; axis < rank; axis++ {
		perm = append(perm, axis)
	}
	perm = append(perm, 0, 1)
	return transposeFlat(kernel.CopyFlatData(), kernel.Shape().Dimensions, perm)
}

// fromChannelsLast builds the result tensor from the channels-last flat data, converting it to the
// format of the config.
func fromChannelsLast(flat []float32, config shapeinference.ConvConfig, device string) *tensors.Tensor {
	channelsLastDims := shapeinference.LayoutDims(backends.NWC, config.Batch, config.OutputChannels, config.OutputSpatial)
	if !config.Format.ChannelsLast() {
		// Move the last axis (channels) to position 1.
		rank := len(channelsLastDims)
		perm := make([]int, 0, rank)
		perm = append(perm, 0, rank-1)
		for axis := 1; axis < rank-1; axis++ {
			perm = append(perm, axis)
		}
		flat = transposeFlat(flat, channelsLastDims, perm)
	}
	return tensors.FromFlatData(flat, shapeinference.LayoutDims(config.Format, config.Batch, config.OutputChannels,
		config.OutputSpatial)...).OnDevice(device)
}

// transposeFlat returns a copy of the row-major flat data with dimensions dims, with the axes permuted:
// output axis i is input axis perm[i].
func transposeFlat(flat []float32, dims []int, perm []int) []float32 {
	rank := len(dims)
	inStrides := make([]int, rank)
	stride := 1
	for axis := rank - 1; axis >= 0; axis-- {
		inStrides[axis] = stride
		stride *= dims[axis]
	}
	outDims := make([]int, rank)
	permStrides := make([]int, rank)
	for ii, axis := range perm {
		outDims[ii] = dims[axis]
		permStrides[ii] = inStrides[axis]
	}
	out := make([]float32, len(flat))
	index := make([]int, rank)
	inIdx := 0
	for ii := range out {
		out[ii] = flat[inIdx]
		for axis := rank - 1; axis >= 0; axis-- {
			index[axis]++
			inIdx += permStrides[axis]
			if index[axis] < outDims[axis] {
				break
			}
			inIdx -= permStrides[axis] * index[axis]
			index[axis] = 0
		}
	}
	return out
}
