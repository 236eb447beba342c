// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package lstm implements a multi-layer LSTM: a stack of LSTM cells, where the sequence of hidden states of
// each layer is the input of the next one.
//
// The parameters are stored in a container with two sub-containers, "input" and "recurrent", each with one
// sub-container per layer ("layer_0", "layer_1", ...) holding the weights "w":
//
//   - "input.layer_<i>.w": shaped [layerInput, 4*outputChannels], where layerInput is inputChannels for the first
//     layer and outputChannels for the others.
//   - "recurrent.layer_<i>.w": shaped [outputChannels, 4*outputChannels].
//
// The 4 gates are ordered input, forget, cell and output. There are no biases.
//
// Example:
//
//	l, err := lstm.New(backend, 8, 16).NumLayers(2).Done()
//	output, state, err := l.ForwardState(x, nil)  // x shaped [batch, time, 8], output [batch, time, 16]
package lstm

import (
	"fmt"
	"slices"

	"github.com/gomlx/nnlayers/backends"
	"github.com/gomlx/nnlayers/ml/initializers"
	"github.com/gomlx/nnlayers/ml/layers"
	"github.com/gomlx/nnlayers/ml/params"
	"github.com/gomlx/nnlayers/types/tensors"
	"github.com/pkg/errors"
)

const (
	// ParamInput is the key of the sub-container with the input-to-gates weights.
	ParamInput = "input"

	// ParamRecurrent is the key of the sub-container with the hidden-to-gates weights.
	ParamRecurrent = "recurrent"

	// ParamWeights is the key of the weights within each layer's container.
	ParamWeights = "w"

	// NumGates of the LSTM cell: input, forget, cell and output.
	NumGates = 4
)

// LayerKey returns the key of the container of the layer-th LSTM cell: "layer_<layer>".
func LayerKey(layer int) string {
	return fmt.Sprintf("layer_%d", layer)
}

// LSTM is a multi-layer LSTM layer. Create it with New.
type LSTM struct {
	layers.Module
	inputChannels, outputChannels, numLayers int
	returnSequence, returnState              bool
}

// State holds the hidden and cell states of all layers of an LSTM, each shaped [<batch dims...>, outputChannels].
type State struct {
	Hidden, Cell []*tensors.Tensor
}

// Builder configures an LSTM layer. Create it with New and finish with Done.
type Builder struct {
	backend                                  backends.Backend
	inputChannels, outputChannels, numLayers int
	returnSequence, returnState              bool
	device                                   string
	params                                   *params.Container
}

// New returns a builder for an LSTM layer mapping sequences of inputChannels features to sequences of
// outputChannels features.
//
// The defaults are 1 layer, returning the full sequence and the final state, on layers.DefaultDevice.
func New(backend backends.Backend, inputChannels, outputChannels int) *Builder {
	return &Builder{
		backend:        backend,
		inputChannels:  inputChannels,
		outputChannels: outputChannels,
		numLayers:      1,
		returnSequence: true,
		returnState:    true,
		device:         layers.DefaultDevice,
	}
}

// NumLayers sets the number of stacked LSTM cells. Default is 1.
func (b *Builder) NumLayers(numLayers int) *Builder {
	b.numLayers = numLayers
	return b
}

// ReturnSequence sets whether Forward returns the output for every time step (the default), or only for the
// last one.
func (b *Builder) ReturnSequence(returnSequence bool) *Builder {
	b.returnSequence = returnSequence
	return b
}

// ReturnState sets whether ForwardState returns the final state of each layer. Default is true.
func (b *Builder) ReturnState(returnState bool) *Builder {
	b.returnState = returnState
	return b
}

// Device where to create the parameters, e.g. "cpu" or "cpu:1".
func (b *Builder) Device(device string) *Builder {
	b.device = device
	return b
}

// WithParams uses the given container instead of creating new parameters. It is validated by Done.
func (b *Builder) WithParams(c *params.Container) *Builder {
	b.params = c
	return b
}

// Done builds the LSTM layer.
func (b *Builder) Done() (*LSTM, error) {
	for _, v := range []int{b.inputChannels, b.outputChannels, b.numLayers} {
		if v <= 0 {
			return nil, errors.Wrapf(layers.ErrInvalidConfiguration,
				"LSTM: channels (%d, %d) and number of layers (%d) must be > 0",
				b.inputChannels, b.outputChannels, b.numLayers)
		}
	}
	l := &LSTM{
		inputChannels:  b.inputChannels,
		outputChannels: b.outputChannels,
		numLayers:      b.numLayers,
		returnSequence: b.returnSequence,
		returnState:    b.returnState,
	}
	if err := l.Build(b.backend, "LSTM", b.device, b.params, l.createVariables, l.validate); err != nil {
		return nil, err
	}
	return l, nil
}

// layerInputSize returns the size of the input features of the layer-th cell.
func (l *LSTM) layerInputSize(layer int) int {
	if layer == 0 {
		return l.inputChannels
	}
	return l.outputChannels
}

func (l *LSTM) createVariables(backend backends.Backend, device string) (*params.Container, error) {
	gatesSize := NumGates * l.outputChannels
	inputEntries := make([]params.Entry, 0, l.numLayers)
	recurrentEntries := make([]params.Entry, 0, l.numLayers)
	inputInit := initializers.GlorotUniform(l.inputChannels, l.outputChannels)
	recurrentInit := initializers.GlorotUniform(l.outputChannels, l.outputChannels)
	for layer := range l.numLayers {
		inputW, err := initializers.Variable(backend, inputInit, []int{l.layerInputSize(layer), gatesSize}, device)
		if err != nil {
			return nil, err
		}
		recurrentW, err := initializers.Variable(backend, recurrentInit, []int{l.outputChannels, gatesSize}, device)
		if err != nil {
			return nil, err
		}
		inputLayer, err := params.New(params.T(ParamWeights, inputW))
		if err != nil {
			return nil, err
		}
		recurrentLayer, err := params.New(params.T(ParamWeights, recurrentW))
		if err != nil {
			return nil, err
		}
		inputEntries = append(inputEntries, params.C(LayerKey(layer), inputLayer))
		recurrentEntries = append(recurrentEntries, params.C(LayerKey(layer), recurrentLayer))
	}
	input, err := params.New(inputEntries...)
	if err != nil {
		return nil, err
	}
	recurrent, err := params.New(recurrentEntries...)
	if err != nil {
		return nil, err
	}
	return params.New(params.C(ParamInput, input), params.C(ParamRecurrent, recurrent))
}

func (l *LSTM) validate(c *params.Container) error {
	gatesSize := NumGates * l.outputChannels
	for _, key := range []string{ParamInput, ParamRecurrent} {
		sub, err := c.Sub(key)
		if err != nil {
			return err
		}
		if sub.Len() != l.numLayers {
			return errors.Wrapf(layers.ErrShapeMismatch, "LSTM: %q has %d layers, expected %d", key, sub.Len(), l.numLayers)
		}
	}
	for layer := range l.numLayers {
		if err := layers.ExpectShape(c, inputPath(layer), l.layerInputSize(layer), gatesSize); err != nil {
			return err
		}
		if err := layers.ExpectShape(c, recurrentPath(layer), l.outputChannels, gatesSize); err != nil {
			return err
		}
	}
	return nil
}

func inputPath(layer int) string {
	return ParamInput + params.PathSeparator + LayerKey(layer) + params.PathSeparator + ParamWeights
}

func recurrentPath(layer int) string {
	return ParamRecurrent + params.PathSeparator + LayerKey(layer) + params.PathSeparator + ParamWeights
}

// NumLayers returns the number of stacked LSTM cells.
func (l *LSTM) NumLayers() int { return l.numLayers }

// InputChannels returns the number of features of the input.
func (l *LSTM) InputChannels() int { return l.inputChannels }

// OutputChannels returns the number of features of the output, and the size of the hidden and cell states.
func (l *LSTM) OutputChannels() int { return l.outputChannels }

// InitialState returns the zero state for the given batch dimensions: NumLayers hidden states and NumLayers cell
// states, each shaped [<batchDims...>, outputChannels].
func (l *LSTM) InitialState(batchDims ...int) (*State, error) {
	if err := l.CheckReady(); err != nil {
		return nil, err
	}
	dims := append(slices.Clone(batchDims), l.outputChannels)
	state := &State{
		Hidden: make([]*tensors.Tensor, l.numLayers),
		Cell:   make([]*tensors.Tensor, l.numLayers),
	}
	for layer := range l.numLayers {
		var err error
		state.Hidden[layer], err = l.Backend().Zeros(dims, l.Device())
		if err != nil {
			return nil, errors.WithMessage(err, "LSTM.InitialState")
		}
		state.Cell[layer], err = l.Backend().Zeros(dims, l.Device())
		if err != nil {
			return nil, errors.WithMessage(err, "LSTM.InitialState")
		}
	}
	return state, nil
}

// checkState verifies that the state has one hidden and cell state per layer, shaped dims.
func (l *LSTM) checkState(state *State, dims []int) error {
	if len(state.Hidden) != l.numLayers || len(state.Cell) != l.numLayers {
		return errors.Wrapf(layers.ErrShapeMismatch, "LSTM: initial state has %d hidden and %d cell states, expected %d of each",
			len(state.Hidden), len(state.Cell), l.numLayers)
	}
	for layer := range l.numLayers {
		for _, t := range []*tensors.Tensor{state.Hidden[layer], state.Cell[layer]} {
			if !t.Ok() || !slices.Equal(t.Shape().Dimensions, dims) {
				return errors.Wrapf(layers.ErrShapeMismatch, "LSTM: initial state of layer %d is %v, expected dimensions %v",
					layer, t, dims)
			}
		}
	}
	return nil
}

// Forward runs the LSTM on x from the zero state, and returns only the output. See ForwardState.
func (l *LSTM) Forward(x *tensors.Tensor) (*tensors.Tensor, error) {
	output, _, err := l.ForwardState(x, nil)
	return output, err
}

// ForwardState runs the LSTM over the sequences in x, shaped [<batch dims...>, time, inputChannels], starting
// from the initial state, or from the zero state if initial is nil.
//
// It returns the output of the last layer, shaped [<batch dims...>, time, outputChannels], or
// [<batch dims...>, outputChannels] (only the last time step) if configured with ReturnSequence(false).
//
// If configured with ReturnState (the default), it also returns the final state of each layer, otherwise
// final is nil.
func (l *LSTM) ForwardState(x *tensors.Tensor, initial *State) (output *tensors.Tensor, final *State, err error) {
	if err = l.CheckReady(); err != nil {
		return
	}
	if err = layers.CheckMinRank(x, 2); err != nil {
		return nil, nil, errors.WithMessage(err, "LSTM")
	}
	if err = layers.CheckChannels(x, -1, l.inputChannels); err != nil {
		return nil, nil, errors.WithMessage(err, "LSTM")
	}
	batchDims := x.Shape().Dimensions[:x.Rank()-2]
	if initial == nil {
		initial, err = l.InitialState(batchDims...)
		if err != nil {
			return
		}
	} else if err = l.checkState(initial, append(slices.Clone(batchDims), l.outputChannels)); err != nil {
		return
	}

	backend := l.Backend()
	c := l.Params()
	final = &State{
		Hidden: make([]*tensors.Tensor, l.numLayers),
		Cell:   make([]*tensors.Tensor, l.numLayers),
	}
	sequence := x
	for layer := range l.numLayers {
		var inputW, recurrentW *tensors.Tensor
		if inputW, err = c.Tensor(inputPath(layer)); err != nil {
			return nil, nil, err
		}
		if recurrentW, err = c.Tensor(recurrentPath(layer)); err != nil {
			return nil, nil, err
		}
		sequence, final.Cell[layer], err = backend.LSTMUpdate(sequence, initial.Hidden[layer], initial.Cell[layer],
			inputW, recurrentW)
		if err != nil {
			return nil, nil, errors.WithMessagef(err, "LSTM layer %d", layer)
		}
		final.Hidden[layer], err = backend.SliceAxis(sequence, -2, -1)
		if err != nil {
			return nil, nil, errors.WithMessagef(err, "LSTM layer %d", layer)
		}
	}

	output = sequence
	if !l.returnSequence {
		output = final.Hidden[l.numLayers-1]
	}
	if !l.returnState {
		final = nil
	}
	return output, final, nil
}
