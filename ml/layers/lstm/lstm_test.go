// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package lstm

import (
	"math"
	"testing"

	"github.com/gomlx/nnlayers/backends"
	"github.com/gomlx/nnlayers/backends/simplego"
	"github.com/gomlx/nnlayers/ml/layers"
	"github.com/gomlx/nnlayers/ml/params"
	"github.com/gomlx/nnlayers/types/tensors"
	"github.com/janpfeifer/must"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBackend(t *testing.T) backends.Backend {
	b, err := simplego.NewWithConfig("seed=7")
	require.NoError(t, err)
	t.Cleanup(b.Finalize)
	return b
}

func randomInput(t *testing.T, backend backends.Backend, dims ...int) *tensors.Tensor {
	x, err := backend.RandomUniform(-1, 1, dims, "cpu")
	require.NoError(t, err)
	return x
}

func TestVariables(t *testing.T) {
	backend := newBackend(t)
	l, err := New(backend, 8, 16).NumLayers(3).Done()
	require.NoError(t, err)
	var _ layers.Layer = l
	assert.Equal(t, layers.Owned, l.Ownership())
	assert.Equal(t, []string{"input", "recurrent"}, l.Params().Keys())
	assert.Equal(t, 6, l.Params().NumVariables())

	var paths []string
	for path, w := range l.Params().Walk() {
		paths = append(paths, path)
		assert.True(t, w.IsVariable())
	}
	assert.Equal(t, []string{
		"input.layer_0.w", "input.layer_1.w", "input.layer_2.w",
		"recurrent.layer_0.w", "recurrent.layer_1.w", "recurrent.layer_2.w",
	}, paths)

	inputLimit := math.Sqrt(6.0 / (8 + 16))
	recurrentLimit := math.Sqrt(6.0 / (16 + 16))
	for layer := range 3 {
		w := must.M1(l.Params().Tensor(inputPath(layer)))
		wantIn := 16
		if layer == 0 {
			wantIn = 8
		}
		assert.Equal(t, []int{wantIn, 64}, w.Shape().Dimensions)
		for _, v := range w.CopyFlatData() {
			require.LessOrEqual(t, math.Abs(float64(v)), inputLimit)
		}
		w = must.M1(l.Params().Tensor(recurrentPath(layer)))
		assert.Equal(t, []int{16, 64}, w.Shape().Dimensions)
		for _, v := range w.CopyFlatData() {
			require.LessOrEqual(t, math.Abs(float64(v)), recurrentLimit)
		}
	}
}

func TestInitialState(t *testing.T) {
	backend := newBackend(t)
	l, err := New(backend, 8, 16).NumLayers(2).Done()
	require.NoError(t, err)
	for _, batchDims := range [][]int{{3}, {2, 3}, {}} {
		state, err := l.InitialState(batchDims...)
		require.NoError(t, err)
		require.Len(t, state.Hidden, 2)
		require.Len(t, state.Cell, 2)
		want := append(batchDims, 16)
		for _, tensor := range append(state.Hidden, state.Cell...) {
			assert.Equal(t, want, tensor.Shape().Dimensions)
			assert.Equal(t, make([]float32, tensor.Size()), tensor.CopyFlatData())
		}
	}
}

func TestForward(t *testing.T) {
	backend := newBackend(t)
	l, err := New(backend, 8, 16).NumLayers(2).Done()
	require.NoError(t, err)
	x := randomInput(t, backend, 3, 5, 8)
	output, final, err := l.ForwardState(x, nil)
	require.NoError(t, err)
	assert.Equal(t, []int{3, 5, 16}, output.Shape().Dimensions)
	require.NotNil(t, final)
	require.Len(t, final.Hidden, 2)
	require.Len(t, final.Cell, 2)
	for layer := range 2 {
		assert.Equal(t, []int{3, 16}, final.Hidden[layer].Shape().Dimensions)
		assert.Equal(t, []int{3, 16}, final.Cell[layer].Shape().Dimensions)
	}
	// The final hidden state of the last layer is the last step of the output.
	last := must.M1(backend.SliceAxis(output, 1, -1))
	assert.True(t, last.Equal(final.Hidden[1]))

	// Forward returns the same output; explicit zero state is the same as the default one.
	again := must.M1(l.Forward(x))
	assert.True(t, output.Equal(again))
	zeros := must.M1(l.InitialState(3))
	fromZeros, _, err := l.ForwardState(x, zeros)
	require.NoError(t, err)
	assert.True(t, output.Equal(fromZeros))

	// Starting from the final state gives a different result.
	continued, _, err := l.ForwardState(x, final)
	require.NoError(t, err)
	assert.False(t, output.Equal(continued))

	// Without batch dimensions.
	single := must.M1(l.Forward(randomInput(t, backend, 4, 8)))
	assert.Equal(t, []int{4, 16}, single.Shape().Dimensions)
}

func TestOutputPolicies(t *testing.T) {
	backend := newBackend(t)
	full, err := New(backend, 4, 6).Done()
	require.NoError(t, err)
	x := randomInput(t, backend, 2, 3, 7, 4)
	sequence, state, err := full.ForwardState(x, nil)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 3, 7, 6}, sequence.Shape().Dimensions)

	lastOnly, err := New(backend, 4, 6).ReturnSequence(false).WithParams(full.Params()).Done()
	require.NoError(t, err)
	output, lastState, err := lastOnly.ForwardState(x, nil)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 3, 6}, output.Shape().Dimensions)
	assert.True(t, output.Equal(state.Hidden[0]))
	require.NotNil(t, lastState)

	noState, err := New(backend, 4, 6).ReturnState(false).WithParams(full.Params()).Done()
	require.NoError(t, err)
	output, final, err := noState.ForwardState(x, nil)
	require.NoError(t, err)
	assert.Nil(t, final)
	assert.True(t, output.Equal(sequence))
}

func TestStackedIsSequential(t *testing.T) {
	backend := newBackend(t)
	stacked, err := New(backend, 3, 5).NumLayers(2).Done()
	require.NoError(t, err)

	// Build two single layer LSTMs with the weights of each of the stacked layers.
	cellParams := func(layer int) *params.Container {
		input := must.M1(stacked.Params().Sub("input." + LayerKey(layer)))
		recurrent := must.M1(stacked.Params().Sub("recurrent." + LayerKey(layer)))
		return must.M1(params.New(
			params.C("input", must.M1(params.New(params.C("layer_0", input)))),
			params.C("recurrent", must.M1(params.New(params.C("layer_0", recurrent))))))
	}
	first, err := New(backend, 3, 5).WithParams(cellParams(0)).Done()
	require.NoError(t, err)
	second, err := New(backend, 5, 5).WithParams(cellParams(1)).Done()
	require.NoError(t, err)

	x := randomInput(t, backend, 2, 6, 3)
	want := must.M1(second.Forward(must.M1(first.Forward(x))))
	got := must.M1(stacked.Forward(x))
	assert.True(t, want.InDelta(got, 1e-6))
}

func TestErrors(t *testing.T) {
	backend := newBackend(t)
	for _, config := range [][3]int{{0, 4, 1}, {3, -1, 1}, {3, 4, 0}} {
		_, err := New(backend, config[0], config[1]).NumLayers(config[2]).Done()
		require.True(t, errors.Is(err, layers.ErrInvalidConfiguration), "config %v: got %v", config, err)
	}

	l, err := New(backend, 4, 6).NumLayers(2).Done()
	require.NoError(t, err)
	_, err = l.Forward(randomInput(t, backend, 2, 3, 5))
	require.True(t, errors.Is(err, layers.ErrShapeMismatch), "got %v", err)
	_, err = l.Forward(randomInput(t, backend, 4))
	require.True(t, errors.Is(err, layers.ErrShapeMismatch), "got %v", err)

	x := randomInput(t, backend, 2, 3, 4)
	oneLayer := must.M1(l.InitialState(2))
	oneLayer.Hidden, oneLayer.Cell = oneLayer.Hidden[:1], oneLayer.Cell[:1]
	_, _, err = l.ForwardState(x, oneLayer)
	require.True(t, errors.Is(err, layers.ErrShapeMismatch), "got %v", err)
	wrongBatch := must.M1(l.InitialState(3))
	_, _, err = l.ForwardState(x, wrongBatch)
	require.True(t, errors.Is(err, layers.ErrShapeMismatch), "got %v", err)
	withNil := must.M1(l.InitialState(2))
	withNil.Cell[1] = nil
	_, _, err = l.ForwardState(x, withNil)
	require.True(t, errors.Is(err, layers.ErrShapeMismatch), "got %v", err)

	// Injected containers with the wrong number of layers or shapes.
	_, err = New(backend, 4, 6).NumLayers(3).WithParams(l.Params()).Done()
	require.True(t, errors.Is(err, layers.ErrShapeMismatch), "got %v", err)
	_, err = New(backend, 5, 6).NumLayers(2).WithParams(l.Params()).Done()
	require.True(t, errors.Is(err, layers.ErrShapeMismatch), "got %v", err)
	onlyInput := must.M1(params.New(params.C("input", must.M1(l.Params().Sub("input")))))
	_, err = New(backend, 4, 6).NumLayers(2).WithParams(onlyInput).Done()
	require.True(t, errors.Is(err, layers.ErrKeyNotFound), "got %v", err)
}
