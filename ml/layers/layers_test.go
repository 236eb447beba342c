// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package layers

import (
	"math"
	"testing"

	"github.com/gomlx/nnlayers/backends"
	"github.com/gomlx/nnlayers/backends/simplego"
	"github.com/gomlx/nnlayers/ml/params"
	"github.com/gomlx/nnlayers/types/tensors"
	"github.com/janpfeifer/must"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingBackend counts the tensors created, to check that borrowed containers don't allocate.
type countingBackend struct {
	backends.Backend
	numCreated int
}

func (b *countingBackend) Zeros(shape []int, device string) (*tensors.Tensor, error) {
	b.numCreated++
	return b.Backend.Zeros(shape, device)
}

func (b *countingBackend) RandomUniform(minValue, maxValue float64, shape []int, device string) (*tensors.Tensor, error) {
	b.numCreated++
	return b.Backend.RandomUniform(minValue, maxValue, shape, device)
}

func newBackend(t *testing.T) *countingBackend {
	b, err := simplego.NewWithConfig("seed=42")
	require.NoError(t, err)
	t.Cleanup(b.Finalize)
	return &countingBackend{Backend: b}
}

// randomInput returns a tensor with values in [-1, 1).
func randomInput(t *testing.T, backend backends.Backend, dims ...int) *tensors.Tensor {
	x, err := backend.RandomUniform(-1, 1, dims, "cpu")
	require.NoError(t, err)
	return x
}

func TestLinear(t *testing.T) {
	backend := newBackend(t)
	for _, dims := range [][2]int{{4, 3}, {1, 1}, {7, 20}} {
		in, out := dims[0], dims[1]
		l, err := NewLinear(backend, in, out).Done()
		require.NoError(t, err)
		assert.Equal(t, Ready, l.State())
		assert.Equal(t, Owned, l.Ownership())
		assert.Equal(t, "cpu:0", l.Device())
		assert.Equal(t, []string{"w", "b"}, l.Params().Keys())

		w := must.M1(l.Params().Tensor("w"))
		require.Equal(t, []int{out, in}, w.Shape().Dimensions)
		require.True(t, w.IsVariable())
		wlim := math.Sqrt(6 / float64(in+out))
		for _, v := range w.CopyFlatData() {
			require.LessOrEqual(t, math.Abs(float64(v)), wlim)
		}
		b := must.M1(l.Params().Tensor("b"))
		require.Equal(t, []int{out}, b.Shape().Dimensions)
		assert.Equal(t, make([]float32, out), b.CopyFlatData())

		for _, batch := range []int{1, 2, 5} {
			y, err := l.Forward(randomInput(t, backend, batch, in))
			require.NoError(t, err)
			assert.Equal(t, []int{batch, out}, y.Shape().Dimensions)
		}
	}
}

func TestLinearForward(t *testing.T) {
	backend := newBackend(t)
	w := tensors.FromValues([]float32{1, 0, 0, 1, 1, 1, 2, 0}, 2, 4)
	b := tensors.FromValues([]float32{0.5, -1}, 2)
	c := must.M1(params.New(params.T("w", w), params.T("b", b)))
	l, err := NewLinear(backend, 4, 2).WithParams(c).Done()
	require.NoError(t, err)

	x := tensors.FromValues([]float32{1, 2, 3, 4, 0, 0, 0, 1}, 2, 4)
	y, err := l.Forward(x)
	require.NoError(t, err)
	assert.Equal(t, []float32{1 + 4 + 0.5, 1 + 2 + 6 - 1, 0 + 1 + 0.5, 0 - 1}, y.CopyFlatData())

	// Batch axes are preserved.
	y, err = l.Forward(x.Reshaped(2, 1, 4))
	require.NoError(t, err)
	assert.Equal(t, []int{2, 1, 2}, y.Shape().Dimensions)

	// Idempotence.
	again, err := l.Forward(x)
	require.NoError(t, err)
	y, _ = l.Forward(x)
	assert.True(t, y.Equal(again))
}

func TestLinearErrors(t *testing.T) {
	backend := newBackend(t)

	l, err := NewLinear(backend, 4, 3).Done()
	require.NoError(t, err)
	y, err := l.Forward(randomInput(t, backend, 2, 4))
	require.NoError(t, err)
	assert.Equal(t, []int{2, 3}, y.Shape().Dimensions)
	_, err = l.Forward(randomInput(t, backend, 2, 5))
	require.True(t, errors.Is(err, ErrShapeMismatch), "got %+v", err)
	_, err = l.Forward(tensors.FromScalar(1))
	require.True(t, errors.Is(err, ErrShapeMismatch))
	_, err = l.Forward(nil)
	require.True(t, errors.Is(err, ErrShapeMismatch))

	for _, channels := range [][2]int{{-1, 3}, {4, 0}} {
		_, err = NewLinear(backend, channels[0], channels[1]).Done()
		require.True(t, errors.Is(err, ErrInvalidConfiguration))
	}
	_, err = NewLinear(backend, 4, 3).Device("gpu").Done()
	require.True(t, errors.Is(err, ErrInvalidConfiguration))
	_, err = NewLinear(nil, 4, 3).Done()
	require.True(t, errors.Is(err, ErrInvalidConfiguration))

	// Used before built.
	_, err = (&Linear{inputChannels: 4, outputChannels: 3}).Forward(randomInput(t, backend, 2, 4))
	require.True(t, errors.Is(err, ErrInvalidConfiguration))
}

func TestBorrowedParams(t *testing.T) {
	backend := newBackend(t)
	owner, err := NewLinear(backend, 4, 3).Done()
	require.NoError(t, err)
	require.Equal(t, 2, backend.numCreated)

	shared, err := NewLinear(backend, 4, 3).WithParams(owner.Params()).Done()
	require.NoError(t, err)
	assert.Equal(t, 2, backend.numCreated, "no variables should be created for a borrowed container")
	assert.Equal(t, Borrowed, shared.Ownership())
	assert.Equal(t, owner.Params().ID(), shared.Params().ID())

	x := randomInput(t, backend, 5, 4)
	y0 := must.M1(owner.Forward(x))
	y1 := must.M1(shared.Forward(x))
	assert.True(t, y0.Equal(y1))

	// Eager validation of the given container.
	_, err = NewLinear(backend, 3, 4).WithParams(owner.Params()).Done()
	require.True(t, errors.Is(err, ErrShapeMismatch), "got %+v", err)
	onlyW := must.M1(params.New(params.T("w", must.M1(owner.Params().Tensor("w")))))
	_, err = NewLinear(backend, 4, 3).WithParams(onlyW).Done()
	require.True(t, errors.Is(err, ErrKeyNotFound), "got %+v", err)
}

func TestModuleLifecycle(t *testing.T) {
	backend := newBackend(t)
	l, err := NewLinear(backend, 2, 2).Done()
	require.NoError(t, err)
	original := l.Params()

	// Build only happens once.
	err = l.Build(backend, "Linear", "cpu", nil, l.createVariables, l.validate)
	require.True(t, errors.Is(err, ErrInvalidConfiguration))
	assert.Same(t, original, l.Params())

	// Wholesale replacement.
	identity := must.M1(params.New(
		params.T("w", tensors.FromValues([]float32{1, 0, 0, 1}, 2, 2)),
		params.T("b", tensors.FromValues([]float32{0, 0}, 2))))
	require.NoError(t, l.ReplaceParams(identity))
	assert.Equal(t, Borrowed, l.Ownership())
	x := tensors.FromValues([]float32{3, -2}, 1, 2)
	assert.Equal(t, []float32{3, -2}, must.M1(l.Forward(x)).CopyFlatData())

	// Invalid replacements keep the current container.
	wrong := must.M1(params.New(params.T("w", tensors.FromValues([]float32{1, 2}, 1, 2))))
	require.Error(t, l.ReplaceParams(wrong))
	require.Error(t, l.ReplaceParams(nil))
	assert.Same(t, identity, l.Params())

	var unbuilt Module
	assert.Equal(t, Uninitialized, unbuilt.State())
	require.True(t, errors.Is(unbuilt.ReplaceParams(identity), ErrInvalidConfiguration))

	// Factory errors are propagated.
	failing := func(backends.Backend, string) (*params.Container, error) {
		return nil, errors.New("factory failed")
	}
	err = unbuilt.Build(backend, "Failing", "cpu", nil, failing, nil)
	require.ErrorContains(t, err, "factory failed")
	assert.Equal(t, Uninitialized, unbuilt.State())

	assert.Equal(t, "Owned", Owned.String())
	assert.Equal(t, "Borrowed", Borrowed.String())
	assert.Equal(t, "Ready", Ready.String())
}

func TestValidationHelpers(t *testing.T) {
	c := must.M1(params.New(params.T("w", tensors.FromFlatData(make([]float32, 6), 2, 3))))
	require.NoError(t, ExpectShape(c, "w", 2, 3))
	err := ExpectShape(c, "w", 3, 2)
	require.True(t, errors.Is(err, ErrShapeMismatch))
	require.ErrorContains(t, err, `"w"`)
	require.True(t, errors.Is(ExpectShape(c, "w", 6), ErrShapeMismatch))
	require.True(t, errors.Is(ExpectShape(c, "b", 3), ErrKeyNotFound))

	x := tensors.FromFlatData(make([]float32, 24), 2, 3, 4)
	require.NoError(t, CheckRank(x, 3))
	require.True(t, errors.Is(CheckRank(x, 4), ErrShapeMismatch))
	require.NoError(t, CheckMinRank(x, 2))
	require.True(t, errors.Is(CheckMinRank(x, 4), ErrShapeMismatch))
	require.NoError(t, CheckChannels(x, -1, 4))
	require.True(t, errors.Is(CheckChannels(x, 1, 4), ErrShapeMismatch))
}
