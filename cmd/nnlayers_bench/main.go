// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// nnlayers_bench builds one layer from flags, and times its forward pass on a random input.
//
// Usage:
//
//	nnlayers_bench -layer=conv2d -set="batch=32;in=3;out=64;size=128" -steps=100 [-checkpoint=dir] [-svg=plot.svg]
//
// With -checkpoint, the parameters and hyperparameters of the layer are loaded from the latest checkpoint in the
// directory, if there is one, and saved to a new checkpoint at the end, along with the collected measurements.
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/nnlayers/backends"
	_ "github.com/gomlx/nnlayers/backends/default"
	"github.com/gomlx/nnlayers/ml/checkpoints"
	"github.com/gomlx/nnlayers/ml/params"
	"github.com/gomlx/nnlayers/ui/commandline"
	"github.com/gomlx/nnlayers/ui/plots"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

var (
	flagLayer   = flag.String("layer", "conv2d", fmt.Sprintf("Kind of layer to benchmark, one of %q.", layerKinds))
	flagBackend = flag.String("backend", "", "Backend configuration, e.g. \"go:parallelism=4\". "+
		"If empty it uses $"+backends.NNLAYERS_BACKEND+" or the default backend.")

	flagSteps      = flag.Int("steps", 100, "Number of timed forward passes.")
	flagWarmup     = flag.Int("warmup", 3, "Number of forward passes run before timing.")
	flagCheckpoint = flag.String("checkpoint", "", "Directory where to load the layer parameters from, and save them to.")
	flagKeep       = flag.Int("keep", 3, "Number of checkpoints to keep in -checkpoint. Use -1 to keep all.")
	flagSVG        = flag.String("svg", "", "If set, saves SVG plots of the latency and throughput per step to this file.")
	flagImage      = flag.String("image", "", "If set, saves a plot of the latency per step to this file, "+
		"the format (.png, .svg, .pdf, ...) is given by the extension.")

	flagCSV        = flag.String("csv", "", "If set, saves the measurements as CSV to this file.")
	flagLogScale   = flag.Bool("log_scale", false, "Use logarithmic scale for the Y axis of the SVG plots.")
	flagNoProgress = flag.Bool("no_progress", false, "Don't display the progress bar.")
	flagShowPoints = flag.Bool("show_points", false, "Prints a table with all the measurements.")
)

func main() {
	klog.InitFlags(nil)
	hyperparams := defaultHyperparams()
	settings := commandline.CreateSettingsFlag(hyperparams, "")
	flag.Parse()

	if err := run(hyperparams, *settings); err != nil {
		klog.Fatalf("nnlayers_bench failed: %+v", err)
	}
}

func run(hyperparams map[string]any, settings string) error {
	var backend backends.Backend
	var err error
	if *flagBackend != "" {
		err = exceptions.TryCatch[error](func() { backend = backends.NewWithConfig(*flagBackend) })
	} else {
		backend, err = backends.NewOrErr()
	}
	if err != nil {
		return err
	}
	defer backend.Finalize()

	var handler *checkpoints.Handler
	var borrowed *params.Container
	if *flagCheckpoint != "" {
		handler, borrowed, err = loadCheckpoint(*flagCheckpoint, hyperparams)
		if err != nil {
			return err
		}
	}
	paramsSet, err := commandline.ParseSettings(hyperparams, settings)
	if err != nil {
		return err
	}
	if len(paramsSet) > 0 {
		fmt.Printf("Hyperparameters set:\n%s\n", commandline.SprintModifiedSettings(hyperparams, paramsSet))
	}
	klog.V(1).Infof("Hyperparameters:\n%s", commandline.SprintSettings(hyperparams))

	bl, err := buildLayer(backend, *flagLayer, hyperparams, borrowed)
	if err != nil {
		return err
	}
	points, err := runBenchmark(backend, bl, *flagSteps, *flagWarmup, !*flagNoProgress)
	if err != nil {
		return err
	}
	fmt.Println(report(backend, bl, points))
	if *flagShowPoints {
		fmt.Println(points.TableForSeries())
	}
	if err = writeOutputs(points); err != nil {
		return err
	}
	if handler != nil {
		return saveCheckpoint(handler, bl, hyperparams, points)
	}
	return nil
}

// loadCheckpoint creates the handler for dir and, if there is a previous checkpoint, loads its hyperparameters
// into hyperparams and returns its parameters.
func loadCheckpoint(dir string, hyperparams map[string]any) (*checkpoints.Handler, *params.Container, error) {
	handler, err := checkpoints.Build(dir).Keep(*flagKeep).Done()
	if err != nil {
		return nil, nil, err
	}
	hasCheckpoints, err := handler.HasCheckpoints()
	if err != nil || !hasCheckpoints {
		return handler, nil, err
	}
	loaded, err := handler.LoadLatest()
	if err != nil {
		return nil, nil, err
	}
	if kind, found := loaded.Hyperparams["layer"]; found && kind != *flagLayer {
		return nil, nil, errors.Errorf("checkpoint %s in %q is for a %v layer, but -layer=%s",
			loaded.BaseName, dir, kind, *flagLayer)
	}
	for key, value := range loaded.Hyperparams {
		if _, found := hyperparams[key]; found {
			hyperparams[key] = value
		}
	}
	fmt.Printf("Loaded parameters from %s\n", filepath.Join(dir, loaded.BaseName))
	return handler, loaded.Params, nil
}

// saveCheckpoint saves the parameters and hyperparameters of the layer, and appends the measurements to
// the points file in the checkpoint directory.
func saveCheckpoint(handler *checkpoints.Handler, bl *benchLayer, hyperparams map[string]any, points plots.Points) error {
	toSave := make(map[string]any, len(hyperparams)+1)
	for key, value := range hyperparams {
		toSave[key] = value
	}
	toSave["layer"] = bl.kind
	baseName, err := handler.Save(bl.layer.Params(), toSave)
	if err != nil {
		return err
	}
	pointWriter, errReport := plots.CreatePointsWriter(filepath.Join(handler.Dir(), plots.PointsFileName))
	for _, p := range points.Extract() {
		pointWriter <- p
	}
	close(pointWriter)
	if err = <-errReport; err != nil {
		return err
	}
	fmt.Printf("Saved checkpoint %s\n", filepath.Join(handler.Dir(), baseName))
	return nil
}

// writeOutputs saves the plots and CSV requested by the flags.
func writeOutputs(points plots.Points) error {
	if *flagSVG != "" {
		f, err := os.Create(*flagSVG)
		if err != nil {
			return errors.Wrapf(err, "failed to create %q", *flagSVG)
		}
		err = points.RenderSVG(f, 1024, 400, *flagLogScale)
		closeErr := f.Close()
		if err != nil {
			return err
		}
		if closeErr != nil {
			return errors.Wrapf(closeErr, "failed to write %q", *flagSVG)
		}
	}
	if *flagImage != "" {
		err := points.SaveImage(*flagImage, LatencyKind, plots.DefaultImageWidth, plots.DefaultImageHeight)
		if err != nil {
			return err
		}
	}
	if *flagCSV != "" {
		f, err := os.Create(*flagCSV)
		if err != nil {
			return errors.Wrapf(err, "failed to create %q", *flagCSV)
		}
		err = points.WriteCSV(f)
		closeErr := f.Close()
		if err != nil {
			return err
		}
		if closeErr != nil {
			return errors.Wrapf(closeErr, "failed to write %q", *flagCSV)
		}
	}
	return nil
}

