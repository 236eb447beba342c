// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package commandline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestProgressBar(t *testing.T) {
	for _, inNotebook := range []bool{false, true} {
		if inNotebook {
			t.Setenv("GONB_PIPE", "/dev/null")
		}
		var extraCalls int
		pBar := NewProgressBar(3, "test", func() (name, value string) {
			extraCalls++
			return "extra", "value"
		})
		assert.Equal(t, inNotebook, pBar.inNotebook)
		assert.Equal(t, time.Duration(0), pBar.MedianStepDuration())
		pBar.Step(3 * time.Millisecond)
		pBar.Step(1 * time.Millisecond)
		pBar.Step(2 * time.Millisecond)
		pBar.Step(10 * time.Millisecond) // Ignored: only 3 steps.
		pBar.Done()
		assert.Equal(t, 3, pBar.StepsDone())
		assert.Equal(t, 2*time.Millisecond, pBar.MedianStepDuration())
		if !inNotebook {
			assert.Greater(t, extraCalls, 0)
		}
	}
}
