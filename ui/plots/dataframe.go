// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package plots

import (
	"io"

	"github.com/go-gota/gota/dataframe"
	"github.com/pkg/errors"
)

// DataFrame returns the points as a Gota dataframe with the columns "Series", "Kind", "Step" and "Value",
// sorted by step.
func (points Points) DataFrame() (dataframe.DataFrame, error) {
	rawPoints := points.Extract()
	if len(rawPoints) == 0 {
		return dataframe.DataFrame{}, errors.New("no points to convert to a dataframe")
	}
	df := dataframe.LoadStructs(rawPoints)
	if df.Err != nil {
		return df, errors.Wrap(df.Err, "failed to convert points to a dataframe")
	}
	return df, nil
}

// WriteCSV writes the points as CSV, with a header line, see DataFrame for the columns.
func (points Points) WriteCSV(w io.Writer) error {
	df, err := points.DataFrame()
	if err != nil {
		return err
	}
	return errors.Wrap(df.WriteCSV(w), "failed to write points as CSV")
}
