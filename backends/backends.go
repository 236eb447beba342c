// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package backends defines the interface a numeric engine needs to implement to be used by the nnlayers
// layers: tensor creation on a device, the dense, convolution and recurrent ops the layers delegate to, and
// a few structural ops (Add, Reshape, SliceAxis) used to assemble results.
//
// Backends are registered by name (see Register) and created with New or NewWithConfig. To include the
// default backends, import:
//
//	import _ "github.com/gomlx/nnlayers/backends/default"
//
// Operations return errors: a backend may panic internally (see package github.com/gomlx/exceptions), but it
// must convert the panic to an error before returning to the caller.
package backends

import (
	"os"
	"slices"
	"strings"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/nnlayers/types/tensors"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Tensor is an alias to the host tensor type used as input and output of all backend operations.
type Tensor = tensors.Tensor

var (
	// ErrShapeMismatch is returned (wrapped) when the operands of an operation have incompatible shapes.
	ErrShapeMismatch = errors.New("shape mismatch")

	// ErrInvalidArgument is returned (wrapped) for invalid non-shape arguments, like a negative stride.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrInvalidDevice is returned (wrapped) by Backend.Device for unknown or out-of-range devices.
	ErrInvalidDevice = errors.New("invalid device")

	// ErrNotImplemented is returned (wrapped) by backends that don't support an operation.
	ErrNotImplemented = errors.New("not implemented")
)

// Backend is the API that needs to be implemented by a numeric engine.
type Backend interface {
	// Name returns the short name of the backend. E.g.: "go" for the SimpleGo backend.
	Name() string

	// Description is a longer description of the Backend that can be used to pretty-print.
	Description() string

	// NumDevices return the number of devices available for this Backend.
	NumDevices() int

	// Device canonicalizes a device string, e.g. "cpu" -> "cpu:0".
	// It returns an error wrapping ErrInvalidDevice for unknown device kinds or out-of-range device numbers.
	Device(name string) (string, error)

	CreationOps
	StandardOps
	LayerOps

	// Finalize releases all the associated resources immediately, and makes the backend invalid.
	Finalize()
}

// CreationOps create new tensors on a device.
type CreationOps interface {
	// Zeros returns a tensor of the given shape filled with zeros, on the given (canonical) device.
	Zeros(shape []int, device string) (*Tensor, error)

	// RandomUniform returns a tensor of the given shape with values sampled uniformly from [minValue, maxValue).
	RandomUniform(minValue, maxValue float64, shape []int, device string) (*Tensor, error)

	// Variable marks the tensor as trainable. The returned tensor shares the data with t.
	Variable(t *Tensor) (*Tensor, error)
}

// StandardOps are the structural and element-wise ops used to assemble results of layers.
type StandardOps interface {
	// Add returns x+y, broadcasting with right-aligned axes: each pair of dimensions must be
	// equal or one of them must be 1. Missing leading axes are taken as 1.
	Add(x, y *Tensor) (*Tensor, error)

	// Reshape returns x with the given dimensions. The total size must be preserved.
	Reshape(x *Tensor, dimensions ...int) (*Tensor, error)

	// SliceAxis selects the element index of the given axis and removes the axis.
	// Negative axis and index count from the end.
	SliceAxis(x *Tensor, axis, index int) (*Tensor, error)
}

// LayerOps are the dense, convolution and recurrent ops the layers delegate to.
type LayerOps interface {
	// Linear returns x·weightᵀ + bias over the last axis of x.
	// x is shaped [..., in], weight [out, in] and bias [out] or nil.
	Linear(x, weight, bias *Tensor) (*Tensor, error)

	// Conv1D convolves x with kernel. Kernel is [filter, out, in] for NWC, [out, in, filter] for NCW.
	// strides and dilations have one value per spatial axis, or a single value used for all.
	Conv1D(x, kernel *Tensor, strides []int, padding Padding, format DataFormat, dilations []int) (*Tensor, error)

	// Conv1DTranspose is the adjoint of Conv1D. Kernel is [filter, out, in] for NWC, [out, in, filter] for NCW,
	// where out are the channels of the result.
	//
	// outputShape can be nil (inferred), the spatial dimensions only, or the full output shape.
	Conv1DTranspose(x, kernel *Tensor, strides []int, padding Padding, outputShape []int, format DataFormat,
		dilations []int) (*Tensor, error)

	// Conv2D convolves x with kernel. Kernel is [fh, fw, out, in] for NHWC, [out, in, fh, fw] for NCHW.
	Conv2D(x, kernel *Tensor, strides []int, padding Padding, format DataFormat, dilations []int) (*Tensor, error)

	// Conv2DTranspose is the adjoint of Conv2D. See Conv1DTranspose for the outputShape semantics.
	Conv2DTranspose(x, kernel *Tensor, strides []int, padding Padding, outputShape []int, format DataFormat,
		dilations []int) (*Tensor, error)

	// LSTMUpdate runs an LSTM over the time axis of x ([..., T, in]) starting from the state h0, c0 ([..., out]).
	// inputW is [in, 4*out] and recurrentW is [out, 4*out], gates ordered input, forget, cell and output.
	//
	// It returns the hidden states for every time step ([..., T, out]) and the final cell state ([..., out]).
	LSTMUpdate(x, h0, c0, inputW, recurrentW *Tensor) (hs, cN *Tensor, err error)
}

// Constructor takes a config string (optionally empty) and returns a Backend.
type Constructor func(config string) Backend

var (
	registeredConstructors = make(map[string]Constructor)
	firstRegistered        string
)

// Register backend with the given name, and a default constructor that takes as input a configuration string that is
// passed along to the backend constructor.
//
// To be safe, call Register during initialization of a package.
func Register(name string, constructor Constructor) {
	if len(registeredConstructors) == 0 {
		firstRegistered = name
	}
	registeredConstructors[name] = constructor
}

// List the names of the registered backends, sorted.
func List() []string {
	names := make([]string, 0, len(registeredConstructors))
	for name := range registeredConstructors {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// DefaultConfig is the name of the default backend configuration to use if specified.
//
// See NewWithConfig for the format of the configuration string.
var DefaultConfig string

// NNLAYERS_BACKEND is the environment variable with the default backend configuration to use.
//
// The format of config is "<backend_name>:<backend_configuration>".
// The "<backend_name>" is the name of a registered backend (e.g.: "go") and
// "<backend_configuration>" is backend specific.
const NNLAYERS_BACKEND = "NNLAYERS_BACKEND"

// New returns a new default Backend.
//
// The default is:
//
// 1. The environment NNLAYERS_BACKEND is used as a configuration if defined.
// 2. Next the variable DefaultConfig is used as a configuration if defined.
// 3. The first registered backend is used with an empty configuration.
//
// It panics if no backend was registered, or if the configured one can't be found. See NewOrErr for
// a version that returns an error instead.
func New() Backend {
	config, found := os.LookupEnv(NNLAYERS_BACKEND)
	if found {
		return NewWithConfig(config)
	}
	if DefaultConfig != "" {
		return NewWithConfig(DefaultConfig)
	}
	return NewWithConfig("")
}

// NewOrErr is like New, but returns an error instead of panicking.
func NewOrErr() (backend Backend, err error) {
	err = exceptions.TryCatch[error](func() { backend = New() })
	return
}

// NewWithConfig takes a configurations string formated as "<backend_name>:<backend_configuration>".
// The "<backend_name>" is the name of a registered backend (e.g.: "go") and
// "<backend_configuration>" is backend specific. If there is no ":" the whole config is passed to the first
// registered backend.
func NewWithConfig(config string) Backend {
	if len(registeredConstructors) == 0 {
		exceptions.Panicf(`no registered backends for nnlayers -- maybe import the default ones with import _ "github.com/gomlx/nnlayers/backends/default"?`)
	}
	backendName := firstRegistered
	backendConfig := config
	if idx := strings.Index(config, ":"); idx != -1 {
		backendName = config[:idx]
		backendConfig = config[idx+1:]
	} else if _, found := registeredConstructors[config]; found {
		backendName = config
		backendConfig = ""
	}
	constructor, found := registeredConstructors[backendName]
	if !found {
		exceptions.Panicf("can't find backend %q for configuration %q given, registered backends: %v",
			backendName, config, List())
	}
	klog.V(1).Infof("creating backend %q (config %q)", backendName, backendConfig)
	return constructor(backendConfig)
}
