// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/gomlx/nnlayers/types/xslices"
)

// Summary prints a table with the sizes of each checkpoint.
func Summary(infos []checkpointInfo, names []string) {
	fmt.Println(titleStyle.Render("Summary"))
	table := newPlainTable(false, lipgloss.Right, lipgloss.Left)
	for _, row := range summaryRows(infos, names) {
		table.Row(row...)
	}
	fmt.Println(table.Render())
}

// summaryRows returns the rows of the summary table: one column with the labels, and one per checkpoint.
func summaryRows(infos []checkpointInfo, names []string) [][]string {
	numCols := len(infos) + 1
	newRow := func(label string) []string {
		row := make([]string, numCols)
		row[0] = label
		return row
	}
	nameRow := append([]string{"checkpoint"}, names...)
	idRow, savedRow, compressionRow := newRow("container"), newRow("saved at"), newRow("compression")
	variablesRow, parametersRow, bytesRow := newRow("# variables"), newRow("# parameters"), newRow("# bytes stored")
	for ii, info := range infos {
		var numParams, numBytes int
		for _, v := range info.Variables {
			numParams += xslices.Product(v.Dimensions)
			numBytes += v.Length
		}
		idRow[ii+1] = info.ContainerID
		savedRow[ii+1] = humanize.Time(info.SavedAt)
		compressionRow[ii+1] = info.Compression
		variablesRow[ii+1] = humanize.Comma(int64(len(info.Variables)))
		parametersRow[ii+1] = humanize.Comma(int64(numParams))
		bytesRow[ii+1] = humanize.Bytes(uint64(numBytes))
	}
	return [][]string{nameRow, idRow, savedRow, compressionRow, variablesRow, parametersRow, bytesRow}
}
