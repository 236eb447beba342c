// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package initializers include several weight initializers, to be used by the layers to create their variables.
// They implement the Initializer type.
package initializers

import (
	"math"

	"github.com/gomlx/nnlayers/backends"
	"github.com/gomlx/nnlayers/types/tensors"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Initializer creates the initial value of a tensor of the given shape on the given device.
type Initializer func(backend backends.Backend, shape []int, device string) (*tensors.Tensor, error)

// Zero initializes tensors with zero.
func Zero(backend backends.Backend, shape []int, device string) (*tensors.Tensor, error) {
	return backend.Zeros(shape, device)
}

// RandomUniform returns an initializer that generates random uniform values from [min, max).
func RandomUniform(min, max float64) Initializer {
	return func(backend backends.Backend, shape []int, device string) (*tensors.Tensor, error) {
		return backend.RandomUniform(min, max, shape, device)
	}
}

// GlorotBound returns the limit of the Glorot (aka. Xavier) uniform initialization: sqrt(6/(fanIn+fanOut)).
func GlorotBound(fanIn, fanOut int) float64 {
	return math.Sqrt(6.0 / float64(fanIn+fanOut))
}

// GlorotUniform returns an initializer that samples uniformly from [-limit, limit), with the limit given
// by GlorotBound(fanIn, fanOut).
//
// Notice the fan-in and fan-out are given explicitly, and not inferred from the shape: layers compute
// them from their hyperparameters.
func GlorotUniform(fanIn, fanOut int) Initializer {
	limit := GlorotBound(fanIn, fanOut)
	return RandomUniform(-limit, limit)
}

// Variable creates a new trainable tensor initialized with initFn.
func Variable(backend backends.Backend, initFn Initializer, shape []int, device string) (*tensors.Tensor, error) {
	value, err := initFn(backend, shape, device)
	if err != nil {
		return nil, errors.WithMessagef(err, "initializing variable shaped %v on %q", shape, device)
	}
	v, err := backend.Variable(value)
	if err != nil {
		return nil, errors.WithMessagef(err, "creating variable shaped %v on %q", shape, device)
	}
	klog.V(2).Infof("created variable %s", v.Shape())
	return v, nil
}
