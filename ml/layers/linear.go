// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package layers

import (
	"github.com/gomlx/nnlayers/backends"
	"github.com/gomlx/nnlayers/ml/initializers"
	"github.com/gomlx/nnlayers/ml/params"
	"github.com/gomlx/nnlayers/types/tensors"
	"github.com/pkg/errors"
)

const (
	// ParamWeights is the key of the weights (or kernel) in the container of Linear and convolution layers.
	ParamWeights = "w"

	// ParamBias is the key of the bias in the container of Linear and convolution layers.
	ParamBias = "b"

	// DefaultDevice used by the layers if none is configured.
	DefaultDevice = "cpu"
)

// Linear layer, also known as dense or fully connected: it maps the last axis of the input from
// inputChannels to outputChannels with a learned linear transformation plus a bias.
//
// Its parameters are "w" shaped [outputChannels, inputChannels], initialized with Glorot uniform, and
// "b" shaped [outputChannels], initialized with zeros.
type Linear struct {
	Module
	inputChannels, outputChannels int
}

// LinearBuilder configures a Linear layer. Create it with NewLinear and finish with Done.
type LinearBuilder struct {
	backend                       backends.Backend
	inputChannels, outputChannels int
	device                        string
	params                        *params.Container
}

// NewLinear returns a builder for a Linear layer. The defaults are to create new parameters on
// DefaultDevice.
func NewLinear(backend backends.Backend, inputChannels, outputChannels int) *LinearBuilder {
	return &LinearBuilder{
		backend:        backend,
		inputChannels:  inputChannels,
		outputChannels: outputChannels,
		device:         DefaultDevice,
	}
}

// Device where to create the parameters, e.g. "cpu" or "cpu:1".
func (lb *LinearBuilder) Device(device string) *LinearBuilder {
	lb.device = device
	return lb
}

// WithParams uses the given container (e.g. shared with another layer, or loaded from a checkpoint) instead of
// creating new parameters. It is validated by Done.
func (lb *LinearBuilder) WithParams(c *params.Container) *LinearBuilder {
	lb.params = c
	return lb
}

// Done builds the Linear layer.
func (lb *LinearBuilder) Done() (*Linear, error) {
	if err := checkPositive("Linear channels", lb.inputChannels, lb.outputChannels); err != nil {
		return nil, err
	}
	l := &Linear{inputChannels: lb.inputChannels, outputChannels: lb.outputChannels}
	err := l.Build(lb.backend, "Linear", lb.device, lb.params, l.createVariables, l.validate)
	if err != nil {
		return nil, err
	}
	return l, nil
}

func (l *Linear) createVariables(backend backends.Backend, device string) (*params.Container, error) {
	w, err := initializers.Variable(backend, initializers.GlorotUniform(l.inputChannels, l.outputChannels),
		[]int{l.outputChannels, l.inputChannels}, device)
	if err != nil {
		return nil, err
	}
	b, err := initializers.Variable(backend, initializers.Zero, []int{l.outputChannels}, device)
	if err != nil {
		return nil, err
	}
	return params.New(params.T(ParamWeights, w), params.T(ParamBias, b))
}

func (l *Linear) validate(c *params.Container) error {
	if err := ExpectShape(c, ParamWeights, l.outputChannels, l.inputChannels); err != nil {
		return err
	}
	return ExpectShape(c, ParamBias, l.outputChannels)
}

// InputChannels returns the size of the last axis of the inputs.
func (l *Linear) InputChannels() int { return l.inputChannels }

// OutputChannels returns the size of the last axis of the outputs.
func (l *Linear) OutputChannels() int { return l.outputChannels }

// Forward returns x·wᵀ+b. x is shaped [<batch dims...>, inputChannels] and the output
// [<batch dims...>, outputChannels].
func (l *Linear) Forward(x *tensors.Tensor) (*tensors.Tensor, error) {
	if err := l.CheckReady(); err != nil {
		return nil, err
	}
	if err := CheckMinRank(x, 1); err != nil {
		return nil, errors.WithMessage(err, "Linear")
	}
	if err := CheckChannels(x, -1, l.inputChannels); err != nil {
		return nil, errors.WithMessage(err, "Linear")
	}
	w, err := l.params.Tensor(ParamWeights)
	if err != nil {
		return nil, err
	}
	b, err := l.params.Tensor(ParamBias)
	if err != nil {
		return nil, err
	}
	return l.backend.Linear(x, w, b)
}
