// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package notebooks

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsNotebook(t *testing.T) {
	t.Setenv(goNBKernelEnv, "/tmp/pipe")
	assert.True(t, IsGoNB())
	assert.True(t, IsNotebook())
}
