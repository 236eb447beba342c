// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"flag"
	"fmt"
	"math"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/nnlayers/backends/simplego"
	"github.com/gomlx/nnlayers/ml/checkpoints"
	"github.com/gomlx/nnlayers/ml/params"
	"github.com/gomlx/nnlayers/types/tensors"
	"github.com/janpfeifer/must"
	"gonum.org/v1/gonum/floats"
)

var flagPerturbVars = flag.Float64("perturb", 0,
	"Perturbs trainable variables by <x>: it multiplies the weights by 1.0+(RandomUniform(-1, 1)*x), and "+
		"saves the result as a new checkpoint.")

// ListVariables list the variables of a checkpoint, with their shape and MAV (mean absolute value),
// RMS (root-mean-square) and MaxAV (max absolute value) values.
func ListVariables(dir, baseName string) {
	fmt.Println(titleStyle.Render(fmt.Sprintf("Variables of %q", baseName)))
	loaded := must.M1(checkpoints.Load(dir, baseName))
	table := newPlainTable(true)
	table.Headers("Path", "Shape", "Trainable", "Size", "Bytes", "Scalar/MAV", "RMS", "MaxAV")
	for path, t := range loaded.Params.Walk() {
		stats := variableStats(t)
		mav, rms, maxAV := fmt.Sprintf("%.3g", stats.mav), fmt.Sprintf("%.3g", stats.rms), fmt.Sprintf("%.3g", stats.maxAV)
		if t.Size() == 1 {
			mav = fmt.Sprintf("%8v", t.CopyFlatData()[0])
			rms, maxAV = "", ""
		}
		trainable := ""
		if t.IsVariable() {
			trainable = "✓"
		}
		table.Row(path, t.Shape().String(), trainable,
			humanize.Comma(int64(t.Size())),
			humanize.Bytes(uint64(t.Memory())),
			mav, rms, maxAV)
	}
	fmt.Println(table.Render())
	if *flagGlossary {
		fmt.Printf("  %s:\n", sectionStyle.Render("Glossary"))
		fmt.Printf("   ◦ %s: %s\n", emphasisStyle.Render("Scalar/MAV"), italicStyle.Render("If variable is a scalar then the value itself, else the Mean Absolute Value"))
		fmt.Printf("   ◦ %s: %s\n", emphasisStyle.Render("RMS"), italicStyle.Render("Root Mean Square"))
		fmt.Printf("   ◦ %s: %s\n", emphasisStyle.Render("MaxAV"), italicStyle.Render("Max Absolute Value"))
	}
}

type stats struct {
	mav, rms, maxAV float64
}

// variableStats computes the MAV, RMS and MaxAV of the values of t.
func variableStats(t *tensors.Tensor) (s stats) {
	values := make([]float64, t.Size())
	t.ConstFlatData(func(flat []float32) {
		for ii, v := range flat {
			values[ii] = float64(v)
		}
	})
	if len(values) == 0 {
		return
	}
	n := float64(len(values))
	s.mav = floats.Norm(values, 1) / n
	s.rms = floats.Norm(values, 2) / math.Sqrt(n)
	s.maxAV = floats.Norm(values, math.Inf(1))
	return
}

// PerturbVars loads the latest checkpoint in dir, multiplies the trainable variables by 1+U(-x, x), and saves
// the result as a new checkpoint, with the same hyperparameters, compression and storage dtype.
func PerturbVars(dir string, x float64) {
	backend := must.M1(simplego.NewWithConfig(""))
	defer backend.Finalize()
	handler := must.M1(checkpoints.Build(dir).Keep(-1).Done())
	loaded := must.M1(handler.LoadLatest())
	metadata := must.M1(checkpoints.ReadMetadata(dir, loaded.BaseName))

	var paths []string
	var values []*tensors.Tensor
	var numUpdates int
	for path, t := range loaded.Params.Walk() {
		paths = append(paths, path)
		if !t.IsVariable() {
			values = append(values, t)
			continue
		}
		perturbation := must.M1(backend.RandomUniform(1-x, 1+x, t.Shape().Dimensions, t.Device()))
		perturbed := t.Clone()
		perturbation.ConstFlatData(func(factors []float32) {
			perturbed.MutableFlatData(func(flat []float32) {
				for ii := range flat {
					flat[ii] *= factors[ii]
				}
			})
		})
		values = append(values, perturbed)
		numUpdates++
	}
	perturbedParams := must.M1(params.FromFlat(paths, values))

	config := checkpoints.Build(dir).Keep(-1)
	if metadata.Compression == checkpoints.BinUncompressed.String() {
		config = config.WithCompression(checkpoints.BinUncompressed)
	}
	if len(metadata.Variables) > 0 && metadata.Variables[0].DType == dtypes.Float16.String() {
		config = config.StoreAs(dtypes.Float16)
	}
	saver := must.M1(config.Done())
	baseName := must.M1(saver.Save(perturbedParams, loaded.Hyperparams))
	fmt.Printf("%d variables updated, new checkpoint %q saved.\n", numUpdates, baseName)
}
