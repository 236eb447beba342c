// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package layers holds the stateful layers: Linear and the 1D/2D convolutions (and their transposed versions).
// The LSTM layer is in the sub-package lstm.
//
// Each layer is created with a builder (e.g. NewLinear, NewConv2D) and holds its parameters in a
// params.Container: either created by the layer when built (Owned), or given by the caller with WithParams
// (Borrowed), e.g. to share weights among layers or to use weights loaded from a checkpoint. The forward
// computation is delegated to the backend.
//
// Example:
//
//	backend := backends.New()
//	conv, err := layers.NewConv2D(backend, 3, 16, 3, 3).PadSame().Strides(2).Done()
//	if err != nil { ... }
//	y, err := conv.Forward(x)  // x shaped [batch, height, width, 3]
package layers

import (
	"fmt"

	"github.com/gomlx/nnlayers/backends"
	"github.com/gomlx/nnlayers/ml/params"
	"github.com/gomlx/nnlayers/types/tensors"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Ownership tells whether a layer created its parameters container (Owned), or was given one by the
// caller (Borrowed), in which case it may be shared with other layers.
type Ownership int

const (
	Owned Ownership = iota
	Borrowed
)

// String implements fmt.Stringer.
func (o Ownership) String() string {
	switch o {
	case Owned:
		return "Owned"
	case Borrowed:
		return "Borrowed"
	}
	return fmt.Sprintf("Ownership(%d)", int(o))
}

// State of the lifecycle of a Module.
type State int

const (
	Uninitialized State = iota
	Ready
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case Uninitialized:
		return "Uninitialized"
	case Ready:
		return "Ready"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Factory creates a freshly initialized container with the parameters of a layer, on the given device.
type Factory func(backend backends.Backend, device string) (*params.Container, error)

// Validator checks that a container has all the parameters a layer needs, with the expected shapes.
type Validator func(c *params.Container) error

// Layer is implemented by all layers: a forward computation over the parameters they hold.
type Layer interface {
	// Forward computes the output of the layer for the input x.
	Forward(x *tensors.Tensor) (*tensors.Tensor, error)

	// Params returns the container with the parameters of the layer.
	Params() *params.Container
}

// Module holds what is common to every layer: the backend, the device and the parameters container.
// It is embedded by the layers and it's built (see Build) exactly once, by the layer's builder.
type Module struct {
	name      string
	backend   backends.Backend
	device    string
	params    *params.Container
	ownership Ownership
	state     State
	validate  Validator
}

// Name of the layer, used in errors and logs.
func (m *Module) Name() string { return m.name }

// Backend used by the layer.
func (m *Module) Backend() backends.Backend { return m.backend }

// Device where the parameters live, in canonical form (e.g. "cpu:0").
func (m *Module) Device() string { return m.device }

// Params returns the container with the parameters. It is nil while Uninitialized.
func (m *Module) Params() *params.Container { return m.params }

// Ownership of the container.
func (m *Module) Ownership() Ownership { return m.ownership }

// State returns whether the module was built.
func (m *Module) State() State { return m.state }

// Build transitions the module from Uninitialized to Ready.
//
// It first resolves the device with the backend. Then, if borrowed is nil, it calls factory to create the
// parameters (the module becomes Owned), otherwise borrowed is checked with validate and used as is (the
// module becomes Borrowed).
//
// It fails with ErrInvalidConfiguration if called on a module that is already Ready.
func (m *Module) Build(backend backends.Backend, name, device string, borrowed *params.Container,
	factory Factory, validate Validator) error {
	if m.state != Uninitialized {
		return errors.Wrapf(ErrInvalidConfiguration, "%s: module already built", name)
	}
	if backend == nil {
		return errors.Wrapf(ErrInvalidConfiguration, "%s: nil backend", name)
	}
	canonical, err := backend.Device(device)
	if err != nil {
		return errors.Wrapf(ErrInvalidConfiguration, "%s: %v", name, err)
	}
	var c *params.Container
	ownership := Owned
	if borrowed == nil {
		c, err = factory(backend, canonical)
		if err != nil {
			return errors.WithMessagef(err, "%s: creating variables", name)
		}
		klog.V(1).Infof("%s: created %d variables (%d parameters) on %s, container %s",
			name, c.NumVariables(), c.NumParameters(), canonical, c.ID())
	} else {
		if err = validate(borrowed); err != nil {
			return errors.WithMessagef(err, "%s: invalid parameters given", name)
		}
		c = borrowed
		ownership = Borrowed
		klog.V(1).Infof("%s: using given container %s", name, c.ID())
	}
	m.name, m.backend, m.device = name, backend, canonical
	m.params, m.ownership, m.validate = c, ownership, validate
	m.state = Ready
	return nil
}

// ReplaceParams replaces the container of a Ready module as a whole, e.g.: to load weights from a checkpoint.
// The new container is validated first, and the module becomes Borrowed.
func (m *Module) ReplaceParams(c *params.Container) error {
	if m.state != Ready {
		return errors.Wrapf(ErrInvalidConfiguration, "%s: can't replace parameters of a module in state %s",
			m.name, m.state)
	}
	if c == nil {
		return errors.Wrapf(ErrInvalidConfiguration, "%s: nil container", m.name)
	}
	if err := m.validate(c); err != nil {
		return errors.WithMessagef(err, "%s: invalid parameters given", m.name)
	}
	klog.V(1).Infof("%s: replaced container %s by %s", m.name, m.params.ID(), c.ID())
	m.params = c
	m.ownership = Borrowed
	return nil
}

// CheckReady returns an error wrapping ErrInvalidConfiguration if the module was not built.
func (m *Module) CheckReady() error {
	if m.state != Ready {
		return errors.Wrapf(ErrInvalidConfiguration, "layer used before it was built")
	}
	return nil
}
