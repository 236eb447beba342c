// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package backends_test

import (
	"testing"

	"github.com/gomlx/nnlayers/backends"
	"github.com/gomlx/nnlayers/backends/notimplemented"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// configured records the configuration passed to the test constructors.
type configured struct {
	notimplemented.Backend
	name, config string
}

func (c *configured) Name() string { return c.name }

func constructorFor(name string) backends.Constructor {
	return func(config string) backends.Backend {
		return &configured{name: name, config: config}
	}
}

func TestRegistry(t *testing.T) {
	backends.Register("test_a", constructorFor("test_a"))
	backends.Register("test_b", constructorFor("test_b"))
	assert.Subset(t, backends.List(), []string{"test_a", "test_b"})

	b := backends.NewWithConfig("test_b:some config")
	require.Equal(t, "test_b", b.Name())
	assert.Equal(t, "some config", b.(*configured).config)

	b = backends.NewWithConfig("test_a")
	require.Equal(t, "test_a", b.Name())
	assert.Equal(t, "", b.(*configured).config)

	require.Panics(t, func() { _ = backends.NewWithConfig("unknown:x") })

	t.Setenv(backends.NNLAYERS_BACKEND, "test_b:from env")
	b, err := backends.NewOrErr()
	require.NoError(t, err)
	assert.Equal(t, "from env", b.(*configured).config)

	t.Setenv(backends.NNLAYERS_BACKEND, "unknown:")
	_, err = backends.NewOrErr()
	require.Error(t, err)
}

func TestNotImplemented(t *testing.T) {
	var b backends.Backend = &notimplemented.Backend{}
	_, err := b.Zeros([]int{2}, "cpu")
	require.True(t, errors.Is(err, backends.ErrNotImplemented))
	_, _, err = b.LSTMUpdate(nil, nil, nil, nil, nil)
	require.True(t, errors.Is(err, backends.ErrNotImplemented))
}
