// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// nnlayers_checkpoints reports on the checkpoints saved with package checkpoints: the hyperparameters, and the
// variables of the saved parameters containers, with some statistics of their values.
//
// Usage:
//
//	nnlayers_checkpoints [-summary] [-params] [-vars] [-perturb=x] <checkpoint_dir> [<checkpoint_dir>...]
//
// If more than one directory is given, the reports compare the latest checkpoint of each.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/gomlx/nnlayers/ml/checkpoints"
	"github.com/janpfeifer/must"
	"k8s.io/klog/v2"
)

var (
	flagSummary = flag.Bool("summary", false, "Display a summary of the sizes of the saved containers.")
	flagParams  = flag.Bool("params", false, "Lists the hyperparameters.")
	flagVars    = flag.Bool("vars", false, "Lists the variables, with statistics of their values. "+
		"Only the first checkpoint is listed.")
	flagAll      = flag.Bool("all", false, "Report on all the checkpoints in the directory, not only the latest.")
	flagGlossary = flag.Bool("glossary", true, "Whether to list glossary of the terms used in the reports.")
)

var (
	titleStyle    = lipgloss.NewStyle().Bold(true).Padding(1, 4, 1, 4)
	sectionStyle  = lipgloss.NewStyle().Bold(true)
	emphasisStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("99"))
	italicStyle   = lipgloss.NewStyle().Italic(true).Faint(true)
)

func main() {
	klog.InitFlags(nil)
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		klog.Errorf("Missing checkpoint directory to read from. See 'nnlayers_checkpoints -help'")
		os.Exit(1)
	}
	if *flagPerturbVars != 0 {
		for _, dir := range args {
			PerturbVars(dir, *flagPerturbVars)
		}
		return
	}
	if !*flagSummary && !*flagParams && !*flagVars {
		*flagSummary = true
	}

	metadata, names := readCheckpoints(args)
	if len(metadata) == 0 {
		klog.Errorf("No checkpoints found in %v", args)
		os.Exit(1)
	}
	if *flagSummary {
		Summary(metadata, names)
	}
	if *flagParams {
		Params(metadata, names)
	}
	if *flagVars {
		ListVariables(metadata[0].dir, metadata[0].BaseName)
	}
}

// checkpointInfo is the metadata of a checkpoint and the directory it is in.
type checkpointInfo struct {
	*checkpoints.Metadata
	dir string
}

// readCheckpoints reads the metadata of the latest checkpoint of each directory (or all of them, if -all is set),
// and returns them with the minimal names that distinguish them.
func readCheckpoints(dirs []string) (infos []checkpointInfo, names []string) {
	var paths []string
	for _, dir := range dirs {
		handler := must.M1(checkpoints.Build(dir).Keep(-1).Done())
		list := must.M1(handler.ListCheckpoints())
		if len(list) == 0 {
			klog.Warningf("no checkpoints in %q", dir)
			continue
		}
		if !*flagAll {
			list = list[len(list)-1:]
		}
		for _, baseName := range list {
			infos = append(infos, checkpointInfo{Metadata: must.M1(checkpoints.ReadMetadata(dir, baseName)), dir: dir})
			paths = append(paths, fmt.Sprintf("%s/%s", dir, baseName))
		}
	}
	return infos, MinimalUniquePaths(paths...)
}
