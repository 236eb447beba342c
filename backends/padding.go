// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package backends

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// PaddingMode selects how the borders of a convolution input are padded.
type PaddingMode int

const (
	// PaddingValid uses no padding: only positions where the (dilated) kernel fits entirely are computed.
	PaddingValid PaddingMode = iota

	// PaddingSame pads so that the output spatial size is ceil(input/stride).
	PaddingSame

	// PaddingExplicit uses the given low/high padding per spatial axis.
	PaddingExplicit
)

// String implements fmt.Stringer.
func (m PaddingMode) String() string {
	switch m {
	case PaddingValid:
		return "VALID"
	case PaddingSame:
		return "SAME"
	case PaddingExplicit:
		return "EXPLICIT"
	default:
		return fmt.Sprintf("PaddingMode(%d)", int(m))
	}
}

// Padding configuration of a convolution. Use PadValid, PadSame or PadExplicit to create one.
type Padding struct {
	Mode PaddingMode

	// Explicit holds the (low, high) padding of each spatial axis, only used if Mode is PaddingExplicit.
	Explicit [][2]int
}

var (
	// PadValid means no padding.
	PadValid = Padding{Mode: PaddingValid}

	// PadSame pads the input such that the output has size ceil(input/stride) on every spatial axis.
	PadSame = Padding{Mode: PaddingSame}
)

// PadExplicit returns a Padding with the given (low, high) padding for each spatial axis.
// If only one pair is given, it is used for every spatial axis.
func PadExplicit(pads ...[2]int) Padding {
	return Padding{Mode: PaddingExplicit, Explicit: pads}
}

// ParsePadding parses "SAME" or "VALID" (case-insensitive).
func ParsePadding(s string) (Padding, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "SAME":
		return PadSame, nil
	case "VALID":
		return PadValid, nil
	default:
		return PadValid, errors.Wrapf(ErrInvalidArgument, "unknown padding %q, valid values are \"SAME\" or \"VALID\"", s)
	}
}

// String implements fmt.Stringer.
func (p Padding) String() string {
	if p.Mode == PaddingExplicit {
		return fmt.Sprintf("EXPLICIT%v", p.Explicit)
	}
	return p.Mode.String()
}

// Validate checks the padding is consistent with the given number of spatial axes.
func (p Padding) Validate(spatialRank int) error {
	switch p.Mode {
	case PaddingValid, PaddingSame:
		return nil
	case PaddingExplicit:
		if len(p.Explicit) != 1 && len(p.Explicit) != spatialRank {
			return errors.Wrapf(ErrInvalidArgument, "explicit padding %v must have 1 or %d (low, high) pairs",
				p.Explicit, spatialRank)
		}
		for _, pair := range p.Explicit {
			if pair[0] < 0 || pair[1] < 0 {
				return errors.Wrapf(ErrInvalidArgument, "explicit padding %v has negative values", p.Explicit)
			}
		}
		return nil
	default:
		return errors.Wrapf(ErrInvalidArgument, "invalid padding mode %s", p.Mode)
	}
}

// ExplicitFor returns the explicit (low, high) pairs for the spatial axis, broadcasting a single pair.
// Only valid for PaddingExplicit.
func (p Padding) ExplicitFor(axis int) [2]int {
	if len(p.Explicit) == 1 {
		return p.Explicit[0]
	}
	return p.Explicit[axis]
}
