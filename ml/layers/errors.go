// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package layers

import (
	"github.com/gomlx/nnlayers/backends"
	"github.com/gomlx/nnlayers/ml/params"
	"github.com/pkg/errors"
)

// The errors returned by the layers are wrapped around these sentinels, test for them with errors.Is.
var (
	// ErrInvalidConfiguration is returned when building a layer with malformed hyperparameters, e.g.: a
	// negative number of channels, or a stride of 0.
	ErrInvalidConfiguration = errors.New("invalid configuration")

	// ErrShapeMismatch is returned when an input or a parameter doesn't have the shape the layer expects.
	ErrShapeMismatch = backends.ErrShapeMismatch

	// ErrKeyNotFound is returned when a parameter is missing from the layer's container.
	ErrKeyNotFound = params.ErrKeyNotFound
)
