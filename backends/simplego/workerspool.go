// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package simplego

import (
	"runtime"
	"sync"
)

// workersPool limits the number of goroutines used to split the work of one operation.
type workersPool struct {
	// maxParallelism is a soft target on the limit of parallel work to do.
	maxParallelism int
	mu             sync.Mutex
	numRunning     int
}

// Initialize should be called before use.
func (w *workersPool) Initialize() {
	w.maxParallelism = runtime.NumCPU()
}

// IsEnabled returns whether parallelism is enabled (maxParallelism is != 0)
func (w *workersPool) IsEnabled() bool {
	return w.maxParallelism != 0
}

// MaxParallelism is a soft-target for parallelism.
// If set to 0 parallelism is disabled.
// If set to -1 parallelism is unlimited.
func (w *workersPool) MaxParallelism() int {
	return w.maxParallelism
}

// SetMaxParallelism sets the maxParallelism.
//
// You should only change the parallelism before any workers start running.
func (w *workersPool) SetMaxParallelism(maxParallelism int) {
	w.maxParallelism = maxParallelism
}

// tryAcquire reserves a worker if one is available.
func (w *workersPool) tryAcquire() bool {
	if w.maxParallelism < 0 {
		return true
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.numRunning >= w.maxParallelism {
		return false
	}
	w.numRunning++
	return true
}

func (w *workersPool) release() {
	if w.maxParallelism < 0 {
		return
	}
	w.mu.Lock()
	w.numRunning--
	w.mu.Unlock()
}

// ParallelFor splits [0, n) into chunks of at least minChunk elements and calls fn(start, end) for each,
// in separate goroutines while workers are available, and inline otherwise. It returns when all chunks are done.
//
// fn must only write to disjoint parts of the output for different ranges.
func (w *workersPool) ParallelFor(n, minChunk int, fn func(start, end int)) {
	if n <= 0 {
		return
	}
	numChunks := 1
	if w.IsEnabled() {
		numChunks = n / max(minChunk, 1)
		if w.maxParallelism > 0 {
			numChunks = min(numChunks, w.maxParallelism)
		}
		numChunks = max(numChunks, 1)
	}
	if numChunks == 1 {
		fn(0, n)
		return
	}
	chunkSize := (n + numChunks - 1) / numChunks
	var wg sync.WaitGroup
	for start := 0; start < n; start += chunkSize {
		end := min(start+chunkSize, n)
		if end < n && w.tryAcquire() {
			wg.Add(1)
			go func() {
				defer wg.Done()
				defer w.release()
				fn(start, end)
			}()
		} else {
			fn(start, end)
		}
	}
	wg.Wait()
}
