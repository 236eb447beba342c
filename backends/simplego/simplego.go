// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package simplego implements a simple, and not very fast, but very portable backend for nnlayers.
//
// It only implements Float32 tensors, stored on the host. Matrix multiplications are delegated to
// gonum's BLAS implementation, and large batches are split across goroutines.
//
// The configuration string is a comma-separated list of options:
//
//   - "devices=N": number of (virtual) cpu devices, default 1.
//   - "seed=N": seed for the random number generator, by default it is randomly initialized.
//   - "parallelism=N": soft limit of goroutines used per operation. 0 disables parallelism, -1 is unlimited.
//     The default is the number of CPUs.
package simplego

import (
	"math/rand/v2"
	"strconv"
	"strings"
	"sync"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/nnlayers/backends"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// BackendName to be used in NNLAYERS_BACKEND to specify this backend.
const BackendName = "go"

// Registers New() as the constructor for the "go" backend.
func init() {
	backends.Register(BackendName, New)
}

// New constructs a new SimpleGo Backend with the given configuration (see package documentation).
//
// It panics if the configuration is invalid, see NewWithConfig for a version that returns an error.
func New(config string) backends.Backend {
	b, err := NewWithConfig(config)
	if err != nil {
		panic(err)
	}
	return b
}

// NewWithConfig constructs a new SimpleGo Backend, returning an error if the configuration is invalid.
func NewWithConfig(config string) (*Backend, error) {
	b := &Backend{numDevices: 1}
	b.workers.Initialize()
	seed := rand.Uint64()
	for _, part := range strings.Split(config, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		key, value, found := strings.Cut(part, "=")
		if !found {
			return nil, errors.Wrapf(backends.ErrInvalidArgument, "simplego: invalid configuration %q, expected key=value", part)
		}
		n, err := strconv.Atoi(value)
		if err != nil {
			return nil, errors.Wrapf(backends.ErrInvalidArgument, "simplego: invalid value for %q in configuration %q", key, config)
		}
		switch key {
		case "devices":
			if n <= 0 {
				return nil, errors.Wrapf(backends.ErrInvalidArgument, "simplego: devices must be > 0, got %d", n)
			}
			b.numDevices = n
		case "seed":
			seed = uint64(n)
		case "parallelism":
			b.workers.SetMaxParallelism(n)
		default:
			return nil, errors.Wrapf(backends.ErrInvalidArgument, "simplego: unknown configuration key %q", key)
		}
	}
	b.rng = rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	klog.V(1).Infof("simplego backend created: %d device(s), parallelism=%d", b.numDevices, b.workers.MaxParallelism())
	return b, nil
}

// Backend implements the backends.Backend interface.
type Backend struct {
	numDevices int
	workers    workersPool

	// rngMu protects rng, used by RandomUniform.
	rngMu sync.Mutex
	rng   *rand.Rand

	isFinalized bool
}

// Compile-time check that simplego.Backend implements backends.Backend.
var _ backends.Backend = &Backend{}

// Name returns the short name of the backend.
func (b *Backend) Name() string {
	return BackendName
}

// String implement backends.Backend.
func (b *Backend) String() string { return BackendName }

// Description is a longer description of the Backend that can be used to pretty-print.
func (b *Backend) Description() string {
	return "Simple Go Portable Backend"
}

// NumDevices return the number of devices available for this Backend.
func (b *Backend) NumDevices() int {
	return b.numDevices
}

// Device canonicalizes the device name: "cpu" becomes "cpu:0", and "cpu:N" is accepted for N < NumDevices.
func (b *Backend) Device(name string) (string, error) {
	kind, numStr, hasNum := strings.Cut(strings.ToLower(strings.TrimSpace(name)), ":")
	if kind != "cpu" {
		return "", errors.Wrapf(backends.ErrInvalidDevice, "backend %q only supports \"cpu\" devices, got %q", BackendName, name)
	}
	num := 0
	if hasNum {
		var err error
		num, err = strconv.Atoi(numStr)
		if err != nil || num < 0 || num >= b.numDevices {
			return "", errors.Wrapf(backends.ErrInvalidDevice, "device %q out of range, backend %q has %d device(s)",
				name, BackendName, b.numDevices)
		}
	}
	return "cpu:" + strconv.Itoa(num), nil
}

// Finalize releases all the associated resources immediately, and makes the backend invalid.
func (b *Backend) Finalize() {
	b.isFinalized = true
}

// checkOk returns an error if the backend was finalized.
func (b *Backend) checkOk(opName string) error {
	if b.isFinalized {
		return errors.Errorf("%s: backend %q has been finalized", opName, BackendName)
	}
	return nil
}

// run executes the op implementation, converting panics thrown with exceptions.Panicf to errors.
func run[T any](b *Backend, opName string, fn func() T) (result T, err error) {
	if err = b.checkOk(opName); err != nil {
		return
	}
	klog.V(2).Infof("simplego: %s", opName)
	err = exceptions.TryCatch[error](func() { result = fn() })
	if err != nil {
		err = errors.WithMessagef(err, "simplego.%s", opName)
	}
	return
}
