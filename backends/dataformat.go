// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package backends

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// DataFormat defines the layout of the axes of a convolution input: the batch axis always comes first, and the
// channels axis is either the last one ("channels-last") or the one following the batch ("channels-first").
type DataFormat int

const (
	// NWC is a 1D channels-last layout: [batch, width, channels].
	NWC DataFormat = iota

	// NCW is a 1D channels-first layout: [batch, channels, width].
	NCW

	// NHWC is a 2D channels-last layout: [batch, height, width, channels].
	NHWC

	// NCHW is a 2D channels-first layout: [batch, channels, height, width].
	NCHW
)

var dataFormatNames = []string{"NWC", "NCW", "NHWC", "NCHW"}

// String implements fmt.Stringer.
func (f DataFormat) String() string {
	if f < 0 || int(f) >= len(dataFormatNames) {
		return fmt.Sprintf("DataFormat(%d)", int(f))
	}
	return dataFormatNames[f]
}

// ParseDataFormat converts a name like "NHWC" (case-insensitive) to a DataFormat.
func ParseDataFormat(s string) (DataFormat, error) {
	upper := strings.ToUpper(strings.TrimSpace(s))
	for ii, name := range dataFormatNames {
		if name == upper {
			return DataFormat(ii), nil
		}
	}
	return NWC, errors.Wrapf(ErrInvalidArgument, "unknown data format %q, valid values are %v", s, dataFormatNames)
}

// ChannelsLast returns whether the channels axis is the last axis.
func (f DataFormat) ChannelsLast() bool {
	return f == NWC || f == NHWC
}

// SpatialRank returns the number of spatial axes of the layout: 1 for NWC/NCW, 2 for NHWC/NCHW.
func (f DataFormat) SpatialRank() int {
	switch f {
	case NWC, NCW:
		return 1
	case NHWC, NCHW:
		return 2
	default:
		return 0
	}
}

// Rank of the tensors using this layout: spatial axes plus the batch and the channels axes.
func (f DataFormat) Rank() int {
	return f.SpatialRank() + 2
}

// ChannelsAxis returns the index of the channels axis.
func (f DataFormat) ChannelsAxis() int {
	if f.ChannelsLast() {
		return f.Rank() - 1
	}
	return 1
}

// SpatialAxes returns the indices of the spatial axes.
func (f DataFormat) SpatialAxes() []int {
	axes := make([]int, f.SpatialRank())
	offset := 2
	if f.ChannelsLast() {
		offset = 1
	}
	for ii := range axes {
		axes[ii] = ii + offset
	}
	return axes
}

// KernelAxes returns the axes of a kernel laid out for this format: the spatial axes, the output channels
// axis and the input channels axis. Channels-last kernels are [k..., out, in], channels-first
// kernels are [out, in, k...].
func (f DataFormat) KernelAxes() (spatial []int, outChannels, inChannels int) {
	spatialRank := f.SpatialRank()
	spatial = make([]int, spatialRank)
	if f.ChannelsLast() {
		for ii := range spatial {
			spatial[ii] = ii
		}
		return spatial, spatialRank, spatialRank + 1
	}
	for ii := range spatial {
		spatial[ii] = ii + 2
	}
	return spatial, 0, 1
}
