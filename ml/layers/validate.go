// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package layers

import (
	"github.com/gomlx/nnlayers/ml/params"
	"github.com/gomlx/nnlayers/types/shapes"
	"github.com/gomlx/nnlayers/types/tensors"
	"github.com/pkg/errors"
)

// ExpectShape checks that c holds a tensor at path with the given dimensions.
// It returns an error wrapping ErrKeyNotFound or ErrShapeMismatch otherwise.
func ExpectShape(c *params.Container, path string, dimensions ...int) error {
	t, err := c.Tensor(path)
	if err != nil {
		return err
	}
	if err := shapes.CheckDims(t, dimensions...); err != nil {
		return errors.Wrapf(ErrShapeMismatch, "parameter %q: %v", path, err)
	}
	return nil
}

// CheckRank checks that x is a valid tensor of the given rank.
func CheckRank(x *tensors.Tensor, rank int) error {
	if !x.Ok() {
		return errors.Wrapf(ErrShapeMismatch, "invalid input tensor")
	}
	if err := x.Shape().CheckRank(rank); err != nil {
		return errors.Wrapf(ErrShapeMismatch, "input: %v", err)
	}
	return nil
}

// CheckMinRank checks that x is a valid tensor of rank at least minRank.
func CheckMinRank(x *tensors.Tensor, minRank int) error {
	if !x.Ok() {
		return errors.Wrapf(ErrShapeMismatch, "invalid input tensor")
	}
	if x.Rank() < minRank {
		return errors.Wrapf(ErrShapeMismatch, "input shaped %s, expected rank >= %d", x.Shape(), minRank)
	}
	return nil
}

// CheckChannels checks that the axis of x (negative values count from the end) has dimension channels.
func CheckChannels(x *tensors.Tensor, axis, channels int) error {
	if got := x.Shape().Dim(axis); got != channels {
		return errors.Wrapf(ErrShapeMismatch, "input shaped %s has %d channels in axis %d, expected %d",
			x.Shape(), got, axis, channels)
	}
	return nil
}

// checkPositive returns an error wrapping ErrInvalidConfiguration if any of the values is <= 0.
func checkPositive(what string, values ...int) error {
	for _, v := range values {
		if v <= 0 {
			return errors.Wrapf(ErrInvalidConfiguration, "%s must be > 0, got %v", what, values)
		}
	}
	return nil
}
