// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package commandline holds the command-line utilities shared by the nnlayers tools: a progress bar with
// a table of live statistics, parsing of hyperparameter settings from flags, and pretty-printing of durations.
package commandline

import (
	"fmt"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/gomlx/nnlayers/ui/notebooks"
	"github.com/muesli/termenv"
	"github.com/schollz/progressbar/v3"
)

// ExtraMetricFn is any function that will give extra values to display along the progress bar.
// It is called at each time the progress bar is updated, and it should return a name and the current value.
type ExtraMetricFn func() (name, value string)

// ProgressbarStyle to use. Defaults to the ASCII version.
// Consider "progressbar.ThemeUnicode" for a prettier version.
var ProgressbarStyle = progressbar.ThemeASCII

// maxUpdateFrequency is the time between updates to the commandline display of stats.
const maxUpdateFrequency = time.Millisecond * 200

var (
	normalStyle       = lipgloss.NewStyle().Padding(0, 1)
	rightAlignedStyle = lipgloss.NewStyle().Align(lipgloss.Right).Padding(0, 1)
	tableBorderColor  = "#705090"
)

// ProgressBar displays the progression of a fixed number of steps (e.g. the runs of a benchmark), with
// a table of statistics of the step durations.
//
// In a terminal the table and the bar are redrawn asynchronously in place. In a notebook the statistics are
// appended as a suffix to the progress bar line.
//
// Create it with NewProgressBar, call Step after each step, and Done at the end.
type ProgressBar struct {
	numSteps    int
	stepsDone   int
	bar         *progressbar.ProgressBar
	suffix      string
	inNotebook  bool
	description string

	mu        sync.Mutex
	durations []time.Duration

	// lipgloss-based rich and asynchronous display for the command-line.
	termenv          *termenv.Output
	statsStyle       lipgloss.Style
	statsTable       *lgtable.Table
	isFirstOutput    bool
	updates          chan progressBarUpdate
	asyncUpdatesDone sync.WaitGroup

	extraMetricFns []ExtraMetricFn
}

type progressBarUpdate struct {
	amount  int
	metrics [][2]string
}

// Write implements io.Writer, and appends the current suffix with metrics to each
// line. It is meant to be used as the writer for the enclosed progressbar.ProgressBar.
// This ensures that the progress bar and its suffix are written in the same write operation;
// otherwise Jupyter Notebook may display things in different lines.
func (pBar *ProgressBar) Write(data []byte) (n int, err error) {
	n, err = os.Stdout.Write(data)
	if err != nil {
		return n, err
	}
	_, err = os.Stdout.Write([]byte(pBar.suffix))
	if err != nil {
		return 0, err
	}
	return
}

// NewProgressBar creates and displays a progress bar for numSteps steps.
//
// Optionally, one can provide extraMetrics: functions that are called at every update of
// the progress bar and should return a name (title) and a value to be included in the
// updated print-out.
func NewProgressBar(numSteps int, description string, extraMetrics ...ExtraMetricFn) *ProgressBar {
	pBar := &ProgressBar{
		numSteps:       numSteps,
		description:    description,
		inNotebook:     notebooks.IsNotebook(),
		extraMetricFns: extraMetrics,
	}
	pBar.bar = progressbar.NewOptions(numSteps,
		progressbar.OptionSetDescription("      [bold]"+description),
		progressbar.OptionUseANSICodes(true),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("steps"),
		progressbar.OptionSetTheme(ProgressbarStyle),
		progressbar.OptionSetWriter(pBar), // Required to work with Jupyter notebook.
	)
	if pBar.inNotebook {
		return pBar
	}

	pBar.isFirstOutput = true
	pBar.termenv = termenv.NewOutput(os.Stdout)
	pBar.statsStyle = lipgloss.NewStyle().PaddingLeft(8)
	pBar.statsTable = lgtable.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color(tableBorderColor))).
		StyleFunc(func(row, col int) lipgloss.Style {
			if col == 0 {
				return rightAlignedStyle
			}
			return normalStyle
		})
	pBar.updates = make(chan progressBarUpdate, 100) // Large buffer so steps are not blocked.
	pBar.asyncUpdatesDone.Add(1)
	go pBar.drawUpdates()
	return pBar
}

// drawUpdates asynchronously draws the updates: the steps may be faster than the terminal.
func (pBar *ProgressBar) drawUpdates() {
	defer pBar.asyncUpdatesDone.Done()
	for update := range pBar.updates {
		// Exhaust the updates in the buffer:
		amount := update.amount
	exhaust:
		for {
			select {
			case newUpdate, ok := <-pBar.updates:
				if !ok {
					break exhaust
				}
				amount += newUpdate.amount
				update = newUpdate
			default:
				break exhaust
			}
		}

		pBar.statsTable.Data(lgtable.NewStringData())
		for _, metric := range update.metrics {
			pBar.statsTable.Row(metric[0], metric[1])
		}
		for _, extraMetric := range pBar.extraMetricFns {
			name, value := extraMetric()
			pBar.statsTable.Row(name, value)
		}

		// For command-line, we clear the previous lines that will be overwritten.
		pBar.termenv.HideCursor()
		if !pBar.isFirstOutput {
			numLinesToBackup := len(update.metrics) + 2 + 2 + len(pBar.extraMetricFns)
			pBar.termenv.CursorPrevLine(numLinesToBackup)
		}
		pBar.isFirstOutput = false

		fmt.Println(pBar.statsStyle.Render(pBar.statsTable.String()))
		_ = pBar.bar.Add(amount) // Prints progress bar line.
		fmt.Println()
		pBar.termenv.ShowCursor()
		time.Sleep(maxUpdateFrequency)
	}
}

// Step reports that one more step finished, and how long it took.
// It is safe to call from multiple goroutines, but not after Done.
func (pBar *ProgressBar) Step(duration time.Duration) {
	pBar.mu.Lock()
	defer pBar.mu.Unlock()
	if pBar.stepsDone >= pBar.numSteps {
		return
	}
	pBar.stepsDone++
	pBar.durations = append(pBar.durations, duration)
	metrics := [][2]string{
		{"Step", fmt.Sprintf("%s of %s", humanize.Comma(int64(pBar.stepsDone)), humanize.Comma(int64(pBar.numSteps)))},
		{"Median step duration", FormatDuration(pBar.medianLocked())},
		{"Last step duration", FormatDuration(duration)},
	}
	if pBar.inNotebook {
		parts := make([]string, 0, len(metrics)+1)
		for _, metric := range metrics {
			parts = append(parts, fmt.Sprintf(" [%s=%s]", metric[0], metric[1]))
		}
		// Erase to an end-of-line escape sequence ("\033[J") not supported in Jupyter notebooks:
		parts = append(parts, "        ")
		pBar.suffix = strings.Join(parts, "")
		_ = pBar.bar.Add(1) // Triggers print, see ProgressBar.Write.
		return
	}
	// Suffix to erase spurious characters from previous prints.
	pBar.suffix = "\033[J"
	pBar.updates <- progressBarUpdate{amount: 1, metrics: metrics}
}

// Done waits for the pending updates to be drawn and finishes the display.
func (pBar *ProgressBar) Done() {
	if pBar.updates != nil {
		close(pBar.updates)
	}
	pBar.asyncUpdatesDone.Wait()
	if pBar.termenv != nil {
		pBar.termenv.ShowCursor()
	}
	fmt.Println()
}

// StepsDone returns the number of steps reported so far.
func (pBar *ProgressBar) StepsDone() int {
	pBar.mu.Lock()
	defer pBar.mu.Unlock()
	return pBar.stepsDone
}

// MedianStepDuration returns the median of the step durations reported so far, or 0 if there were none.
func (pBar *ProgressBar) MedianStepDuration() time.Duration {
	pBar.mu.Lock()
	defer pBar.mu.Unlock()
	return pBar.medianLocked()
}

func (pBar *ProgressBar) medianLocked() time.Duration {
	if len(pBar.durations) == 0 {
		return 0
	}
	sorted := slices.Clone(pBar.durations)
	slices.Sort(sorted)
	return sorted[len(sorted)/2]
}
