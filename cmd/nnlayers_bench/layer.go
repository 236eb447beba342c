// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"slices"

	"github.com/gomlx/nnlayers/backends"
	"github.com/gomlx/nnlayers/ml/layers"
	"github.com/gomlx/nnlayers/ml/layers/lstm"
	"github.com/gomlx/nnlayers/ml/params"
	"github.com/pkg/errors"
)

// Layer kinds accepted by -layer.
var layerKinds = []string{"linear", "conv1d", "conv1d_transpose", "conv2d", "conv2d_transpose", "lstm"}

// defaultHyperparams are the hyperparameters of the benchmarked layer that can be changed with -set.
func defaultHyperparams() map[string]any {
	return map[string]any{
		"batch":           8,
		"in":              16,
		"out":             32,
		"size":            32,
		"filter":          3,
		"strides":         1,
		"dilations":       1,
		"padding":         "same",
		"channels_first":  false,
		"layers":          1,
		"return_sequence": true,
		"device":          layers.DefaultDevice,
	}
}

// benchLayer is the layer being benchmarked, and the dimensions of its random input.
type benchLayer struct {
	kind      string
	layer     layers.Layer
	inputDims []int
}

func getParam[T any](hyperparams map[string]any, key string) (value T, err error) {
	anyValue, found := hyperparams[key]
	if !found {
		return value, errors.Errorf("missing hyperparameter %q", key)
	}
	value, ok := anyValue.(T)
	if !ok {
		return value, errors.Errorf("hyperparameter %q should be of type %T, got %T", key, value, anyValue)
	}
	return value, nil
}

// buildLayer creates the layer of the given kind configured by hyperparams. If borrowed is not nil,
// the layer uses it as its parameters, instead of creating new ones.
func buildLayer(backend backends.Backend, kind string, hyperparams map[string]any, borrowed *params.Container) (
	*benchLayer, error) {
	var (
		ints   = make(map[string]int)
		err    error
		bl     = &benchLayer{kind: kind}
		device string
	)
	for _, key := range []string{"batch", "in", "out", "size", "filter", "strides", "dilations", "layers"} {
		if ints[key], err = getParam[int](hyperparams, key); err != nil {
			return nil, err
		}
	}
	if device, err = getParam[string](hyperparams, "device"); err != nil {
		return nil, err
	}
	batch, in, out, size := ints["batch"], ints["in"], ints["out"], ints["size"]

	switch kind {
	case "linear":
		bl.inputDims = []int{batch, in}
		bl.layer, err = layers.NewLinear(backend, in, out).Device(device).WithParams(borrowed).Done()

	case "lstm":
		var returnSequence bool
		if returnSequence, err = getParam[bool](hyperparams, "return_sequence"); err != nil {
			return nil, err
		}
		bl.inputDims = []int{batch, size, in}
		bl.layer, err = lstm.New(backend, in, out).NumLayers(ints["layers"]).ReturnSequence(returnSequence).
			Device(device).WithParams(borrowed).Done()

	case "conv1d", "conv1d_transpose", "conv2d", "conv2d_transpose":
		bl.layer, bl.inputDims, err = buildConv(backend, kind, hyperparams, ints, device, borrowed)

	default:
		return nil, errors.Errorf("unknown layer kind %q, valid values are %q", kind, layerKinds)
	}
	if err != nil {
		return nil, errors.WithMessagef(err, "building %s layer", kind)
	}
	return bl, nil
}

func buildConv(backend backends.Backend, kind string, hyperparams map[string]any, ints map[string]int, device string,
	borrowed *params.Container) (layer layers.Layer, inputDims []int, err error) {
	paddingName, err := getParam[string](hyperparams, "padding")
	if err != nil {
		return nil, nil, err
	}
	padding, err := backends.ParsePadding(paddingName)
	if err != nil {
		return nil, nil, err
	}
	channelsFirst, err := getParam[bool](hyperparams, "channels_first")
	if err != nil {
		return nil, nil, err
	}
	batch, in, out, size, filter := ints["batch"], ints["in"], ints["out"], ints["size"], ints["filter"]

	var builder *layers.ConvBuilder
	var format backends.DataFormat
	spatial := []int{size}
	switch kind {
	case "conv1d":
		builder, format = layers.NewConv1D(backend, in, out, filter), backends.NWC
	case "conv1d_transpose":
		builder, format = layers.NewConv1DTranspose(backend, in, out, filter), backends.NWC
	case "conv2d":
		builder, format, spatial = layers.NewConv2D(backend, in, out, filter, filter), backends.NHWC, []int{size, size}
	default:
		builder, format, spatial = layers.NewConv2DTranspose(backend, in, out, filter, filter), backends.NHWC, []int{size, size}
	}
	if channelsFirst {
		if format == backends.NWC {
			format = backends.NCW
		} else {
			format = backends.NCHW
		}
		inputDims = slices.Concat([]int{batch, in}, spatial)
	} else {
		inputDims = slices.Concat([]int{batch}, spatial, []int{in})
	}
	conv, err := builder.Strides(ints["strides"]).Dilations(ints["dilations"]).Padding(padding).DataFormat(format).
		Device(device).WithParams(borrowed).Done()
	if err != nil {
		return nil, nil, err
	}
	return conv, inputDims, nil
}
