// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package layers

import (
	"fmt"
	"slices"

	"github.com/gomlx/nnlayers/backends"
	"github.com/gomlx/nnlayers/ml/initializers"
	"github.com/gomlx/nnlayers/ml/params"
	"github.com/gomlx/nnlayers/types/tensors"
	"github.com/gomlx/nnlayers/types/xslices"
	"github.com/pkg/errors"
)

// This file implements the Conv1D, Conv1DTranspose, Conv2D and Conv2DTranspose layers, all of them
// with the Conv type, configured with ConvBuilder.

// Conv is a 1D or 2D convolution layer, or its transposed version. Create it with NewConv1D, NewConv1DTranspose,
// NewConv2D or NewConv2DTranspose.
//
// Its parameters are:
//
//   - "w": the kernel, shaped [<filter shape...>, outputChannels, inputChannels] for channels-last data formats
//     (NWC, NHWC), or [outputChannels, inputChannels, <filter shape...>] for channels-first ones (NCW, NCHW).
//     It is initialized with Glorot uniform.
//   - "b": the bias, shaped [1, 1, outputChannels] for 1D convolutions, [1, 1, 1, outputChannels] for 2D ones,
//     initialized with zeros.
type Conv struct {
	Module
	config convConfig
}

// convConfig holds the hyperparameters of a Conv.
type convConfig struct {
	name                          string
	spatialRank                   int
	transposed                    bool
	inputChannels, outputChannels int
	filterShape                   []int
	strides, dilations            []int
	padding                       backends.Padding
	format                        backends.DataFormat
	outputShape                   []int
}

// ConvBuilder configures a convolution layer: set the desired parameters, and when all is set call Done.
type ConvBuilder struct {
	backend backends.Backend
	config  convConfig
	device  string
	params  *params.Container
	err     error
}

// NewConv1D returns a builder for a 1D convolution with a filter of the given size.
//
// The defaults are strides 1, dilations 1, VALID padding and NWC data format.
func NewConv1D(backend backends.Backend, inputChannels, outputChannels, filterSize int) *ConvBuilder {
	return newConvBuilder(backend, "Conv1D", false, inputChannels, outputChannels, filterSize)
}

// NewConv1DTranspose returns a builder for a 1D transposed convolution with a filter of the given size.
// See NewConv1D for the defaults.
func NewConv1DTranspose(backend backends.Backend, inputChannels, outputChannels, filterSize int) *ConvBuilder {
	return newConvBuilder(backend, "Conv1DTranspose", true, inputChannels, outputChannels, filterSize)
}

// NewConv2D returns a builder for a 2D convolution with a filter of the given height and width.
//
// The defaults are strides 1, dilations 1, VALID padding and NHWC data format.
func NewConv2D(backend backends.Backend, inputChannels, outputChannels, filterHeight, filterWidth int) *ConvBuilder {
	return newConvBuilder(backend, "Conv2D", false, inputChannels, outputChannels, filterHeight, filterWidth)
}

// NewConv2DTranspose returns a builder for a 2D transposed convolution.
// See NewConv2D for the defaults.
func NewConv2DTranspose(backend backends.Backend, inputChannels, outputChannels, filterHeight, filterWidth int) *ConvBuilder {
	return newConvBuilder(backend, "Conv2DTranspose", true, inputChannels, outputChannels, filterHeight, filterWidth)
}

func newConvBuilder(backend backends.Backend, name string, transposed bool, inputChannels, outputChannels int,
	filterShape ...int) *ConvBuilder {
	spatialRank := len(filterShape)
	format := backends.NWC
	if spatialRank == 2 {
		format = backends.NHWC
	}
	return &ConvBuilder{
		backend: backend,
		config: convConfig{
			name:           name,
			spatialRank:    spatialRank,
			transposed:     transposed,
			inputChannels:  inputChannels,
			outputChannels: outputChannels,
			filterShape:    filterShape,
			strides:        xslices.SliceWithValue(spatialRank, 1),
			dilations:      xslices.SliceWithValue(spatialRank, 1),
			padding:        backends.PadValid,
			format:         format,
		},
		device: DefaultDevice,
	}
}

// Strides sets the strides of the convolution: either one value used for every spatial axis, or one per
// spatial axis. The default is 1.
func (cb *ConvBuilder) Strides(strides ...int) *ConvBuilder {
	perAxis, ok := xslices.Broadcast(strides, cb.config.spatialRank, 1)
	if !ok {
		cb.setErr("%d strides given to a convolution with %d spatial axes", len(strides), cb.config.spatialRank)
		return cb
	}
	cb.config.strides = perAxis
	return cb
}

// Dilations sets the kernel dilations: either one value used for every spatial axis, or one per spatial axis.
// The default is 1.
//
// The effective kernel size is `(filter_size - 1) * dilation + 1`.
func (cb *ConvBuilder) Dilations(dilations ...int) *ConvBuilder {
	perAxis, ok := xslices.Broadcast(dilations, cb.config.spatialRank, 1)
	if !ok {
		cb.setErr("%d dilations given to a convolution with %d spatial axes", len(dilations), cb.config.spatialRank)
		return cb
	}
	cb.config.dilations = perAxis
	return cb
}

// PadSame pads the input such that, with stride 1, the output has the same spatial shape as the input.
func (cb *ConvBuilder) PadSame() *ConvBuilder {
	cb.config.padding = backends.PadSame
	return cb
}

// PadValid only takes the positions where the filter fits entirely in the input. This is the default.
func (cb *ConvBuilder) PadValid() *ConvBuilder {
	cb.config.padding = backends.PadValid
	return cb
}

// Padding sets any padding policy, including explicit paddings (see backends.PadExplicit).
func (cb *ConvBuilder) Padding(padding backends.Padding) *ConvBuilder {
	cb.config.padding = padding
	return cb
}

// DataFormat sets the layout of the input. It must be NWC or NCW for 1D convolutions, NHWC or NCHW for 2D.
func (cb *ConvBuilder) DataFormat(format backends.DataFormat) *ConvBuilder {
	cb.config.format = format
	return cb
}

// OutputShape sets the shape of the output of a transposed convolution: either the spatial dimensions only, or
// the full shape. If not set, it is inferred from the input.
//
// It is only valid for transposed convolutions.
func (cb *ConvBuilder) OutputShape(dimensions ...int) *ConvBuilder {
	if !cb.config.transposed {
		cb.setErr("OutputShape is only valid for transposed convolutions")
		return cb
	}
	cb.config.outputShape = slices.Clone(dimensions)
	return cb
}

// Device where to create the parameters, e.g. "cpu" or "cpu:1".
func (cb *ConvBuilder) Device(device string) *ConvBuilder {
	cb.device = device
	return cb
}

// WithParams uses the given container instead of creating new parameters. It is validated by Done.
func (cb *ConvBuilder) WithParams(c *params.Container) *ConvBuilder {
	cb.params = c
	return cb
}

// setErr records the first configuration error, returned by Done.
func (cb *ConvBuilder) setErr(format string, args ...any) {
	if cb.err == nil {
		cb.err = errors.Wrapf(ErrInvalidConfiguration, "%s: %s", cb.config.name, fmt.Sprintf(format, args...))
	}
}

// Done checks the configuration and builds the convolution layer.
func (cb *ConvBuilder) Done() (*Conv, error) {
	cfg := cb.config
	if cb.err != nil {
		return nil, cb.err
	}
	if err := checkPositive(cfg.name+" channels", cfg.inputChannels, cfg.outputChannels); err != nil {
		return nil, err
	}
	checks := []struct {
		what   string
		values []int
	}{{"filter shape", cfg.filterShape}, {"strides", cfg.strides}, {"dilations", cfg.dilations}}
	for _, check := range checks {
		if err := checkPositive(cfg.name+" "+check.what, check.values...); err != nil {
			return nil, err
		}
	}
	if cfg.format.SpatialRank() != cfg.spatialRank {
		return nil, errors.Wrapf(ErrInvalidConfiguration, "%s: data format %s can't be used with %d spatial axes",
			cfg.name, cfg.format, cfg.spatialRank)
	}
	if err := cfg.padding.Validate(cfg.spatialRank); err != nil {
		return nil, errors.Wrapf(ErrInvalidConfiguration, "%s: %v", cfg.name, err)
	}
	if cfg.outputShape != nil {
		if len(cfg.outputShape) != cfg.spatialRank && len(cfg.outputShape) != cfg.spatialRank+2 {
			return nil, errors.Wrapf(ErrInvalidConfiguration, "%s: output shape %v must have %d or %d dimensions",
				cfg.name, cfg.outputShape, cfg.spatialRank, cfg.spatialRank+2)
		}
		if err := checkPositive(cfg.name+" output shape", cfg.outputShape...); err != nil {
			return nil, err
		}
	}
	conv := &Conv{config: cfg}
	err := conv.Build(cb.backend, cfg.name, cb.device, cb.params, conv.createVariables, conv.validate)
	if err != nil {
		return nil, err
	}
	return conv, nil
}

// KernelShape returns the shape of the kernel ("w") parameter.
func (c *Conv) KernelShape() []int {
	cfg := &c.config
	if cfg.format.ChannelsLast() {
		return append(slices.Clone(cfg.filterShape), cfg.outputChannels, cfg.inputChannels)
	}
	return append([]int{cfg.outputChannels, cfg.inputChannels}, cfg.filterShape...)
}

// BiasShape returns the shape of the bias ("b") parameter: [1, 1, (1,) outputChannels].
func (c *Conv) BiasShape() []int {
	dims := xslices.SliceWithValue(c.config.spatialRank+2, 1)
	dims[len(dims)-1] = c.config.outputChannels
	return dims
}

func (c *Conv) createVariables(backend backends.Backend, device string) (*params.Container, error) {
	cfg := &c.config
	w, err := initializers.Variable(backend, initializers.GlorotUniform(cfg.inputChannels, cfg.outputChannels),
		c.KernelShape(), device)
	if err != nil {
		return nil, err
	}
	b, err := initializers.Variable(backend, initializers.Zero, c.BiasShape(), device)
	if err != nil {
		return nil, err
	}
	return params.New(params.T(ParamWeights, w), params.T(ParamBias, b))
}

func (c *Conv) validate(container *params.Container) error {
	if err := ExpectShape(container, ParamWeights, c.KernelShape()...); err != nil {
		return err
	}
	return ExpectShape(container, ParamBias, c.BiasShape()...)
}

// DataFormat of the inputs and outputs.
func (c *Conv) DataFormat() backends.DataFormat { return c.config.format }

// InputChannels returns the number of channels of the input.
func (c *Conv) InputChannels() int { return c.config.inputChannels }

// OutputChannels returns the number of channels of the output.
func (c *Conv) OutputChannels() int { return c.config.outputChannels }

// IsTransposed returns whether this is a transposed convolution.
func (c *Conv) IsTransposed() bool { return c.config.transposed }

// Forward convolves x with the kernel and adds the bias.
//
// x must have rank 3 for 1D convolutions and 4 for 2D, laid out according to DataFormat, with inputChannels
// channels.
func (c *Conv) Forward(x *tensors.Tensor) (*tensors.Tensor, error) {
	cfg := &c.config
	if err := c.CheckReady(); err != nil {
		return nil, err
	}
	if err := CheckRank(x, cfg.spatialRank+2); err != nil {
		return nil, errors.WithMessage(err, cfg.name)
	}
	if err := CheckChannels(x, cfg.format.ChannelsAxis(), cfg.inputChannels); err != nil {
		return nil, errors.WithMessage(err, cfg.name)
	}
	w, err := c.params.Tensor(ParamWeights)
	if err != nil {
		return nil, err
	}
	b, err := c.params.Tensor(ParamBias)
	if err != nil {
		return nil, err
	}

	var y *tensors.Tensor
	switch {
	case cfg.spatialRank == 1 && !cfg.transposed:
		y, err = c.backend.Conv1D(x, w, cfg.strides, cfg.padding, cfg.format, cfg.dilations)
	case cfg.spatialRank == 1:
		y, err = c.backend.Conv1DTranspose(x, w, cfg.strides, cfg.padding, cfg.outputShape, cfg.format, cfg.dilations)
	case !cfg.transposed:
		y, err = c.backend.Conv2D(x, w, cfg.strides, cfg.padding, cfg.format, cfg.dilations)
	default:
		y, err = c.backend.Conv2DTranspose(x, w, cfg.strides, cfg.padding, cfg.outputShape, cfg.format, cfg.dilations)
	}
	if err != nil {
		return nil, errors.WithMessage(err, cfg.name)
	}

	if !cfg.format.ChannelsLast() {
		// Bias is stored as [1, 1, (1,) out]: view it as [1, out, 1, (1)] to broadcast over channels-first outputs.
		viewDims := xslices.SliceWithValue(cfg.spatialRank+2, 1)
		viewDims[1] = cfg.outputChannels
		b, err = c.backend.Reshape(b, viewDims...)
		if err != nil {
			return nil, errors.WithMessage(err, cfg.name)
		}
	}
	return c.backend.Add(y, b)
}
