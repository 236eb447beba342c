// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package commandline

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createTestHyperparams() map[string]any {
	return map[string]any{
		"x":          11.0,
		"y":          7,
		"z":          false,
		"s":          "foo",
		"list_int":   []int{},
		"list_str":   []string{},
		"unparsable": struct{}{},
	}
}

func TestParseSettings(t *testing.T) {
	hyperparams := createTestHyperparams()
	paramsSet, err := ParseSettings(hyperparams, "x=13;z=true;y=1_000;s=bar;list_int=1,3,7;list_str=a,b;")
	require.NoError(t, err)
	require.Equal(t, []string{"x", "z", "y", "s", "list_int", "list_str"}, paramsSet)
	assert.Equal(t, 13.0, hyperparams["x"])
	assert.Equal(t, 1000, hyperparams["y"])
	assert.Equal(t, true, hyperparams["z"])
	assert.Equal(t, "bar", hyperparams["s"])
	assert.Equal(t, []int{1, 3, 7}, hyperparams["list_int"])
	assert.Equal(t, []string{"a", "b"}, hyperparams["list_str"])

	modified := SprintModifiedSettings(hyperparams, []string{"y", "x", "y"})
	assert.Equal(t, "\t\"x\": (float64) 13\n\t\"y\": (int) 1000", modified)

	// Parameter "q" is unknown.
	_, err = ParseSettings(hyperparams, "q=3")
	require.Error(t, err)

	// Cannot set the wrong type of value.
	_, err = ParseSettings(hyperparams, "y=3.14")
	require.Error(t, err)
	assert.Equal(t, 1000, hyperparams["y"])

	// Missing "=".
	_, err = ParseSettings(hyperparams, "y")
	require.Error(t, err)

	// No parser for the type.
	_, err = ParseSettings(hyperparams, "unparsable=1")
	require.Error(t, err)
}

func TestParseSettingsFile(t *testing.T) {
	filePath := filepath.Join(t.TempDir(), "settings.txt")
	require.NoError(t, os.WriteFile(filePath, []byte("# Comment\nx=0.5\n\ny=3;s=baz\n"), 0644))
	hyperparams := createTestHyperparams()
	paramsSet, err := ParseSettings(hyperparams, "file:"+filePath+";z=true")
	require.NoError(t, err)
	assert.Equal(t, []string{"x", "y", "s", "z"}, paramsSet)
	assert.Equal(t, 0.5, hyperparams["x"])
	assert.Equal(t, "baz", hyperparams["s"])

	_, err = ParseSettings(hyperparams, "file:"+filePath+".missing")
	require.Error(t, err)
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "1.23ms", FormatDuration(1234567*time.Nanosecond))
	assert.Equal(t, "2.00s", FormatDuration(2*time.Second))
	assert.Equal(t, "1m30s", FormatDuration(90*time.Second))
}
