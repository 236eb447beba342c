// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"

	"github.com/gomlx/nnlayers/types"
)

// Params prints the hyperparameters of the checkpoints, highlighting those that differ.
func Params(infos []checkpointInfo, names []string) {
	fmt.Println(titleStyle.Render("Hyperparameters"))
	table := newPlainTableWithReds(true)
	headers := []string{"Name", "Type"}
	if len(infos) == 1 {
		headers = append(headers, "Value")
	} else {
		headers = append(headers, names...)
	}
	table.Table.Headers(headers...)
	for _, row := range paramsRows(infos) {
		table.Row(!isAllEqual(row[2:]), row...)
	}
	fmt.Println(table.Table.Render())
}

// paramsRows returns one row per hyperparameter key (sorted): the key, its type and its value in each checkpoint.
func paramsRows(infos []checkpointInfo) [][]string {
	keySet := make(types.Set[string])
	for _, info := range infos {
		for key := range info.Hyperparams {
			keySet.Insert(key)
		}
	}
	keys := types.Sorted(keySet)
	rows := make([][]string, 0, len(keys))
	for _, key := range keys {
		row := make([]string, 2+len(infos))
		row[0] = key
		for ii, info := range infos {
			value, found := info.Hyperparams[key]
			if !found {
				continue
			}
			if row[1] == "" {
				row[1] = fmt.Sprintf("%T", value)
			}
			row[2+ii] = fmt.Sprintf("%v", value)
		}
		rows = append(rows, row)
	}
	return rows
}
