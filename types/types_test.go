// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSet(t *testing.T) {
	s := SetWith("b", "a")
	assert.True(t, s.Has("a"))
	assert.False(t, s.Has("c"))
	s.Insert("c", "a")
	assert.Len(t, s, 3)
	assert.Equal(t, []string{"a", "b", "c"}, Sorted(s))
	assert.Empty(t, Sorted(Set[int]{}))
}
