// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package simplego

import (
	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"
)

// matMul computes c = a·op(b) + beta*c, where a is [m, k] and c is [m, n], all row-major.
// If transposeB is true b is stored as [n, k], otherwise as [k, n].
func matMul(a []float32, m, k int, b []float32, n int, transposeB bool, beta float32, c []float32) {
	if m == 0 || n == 0 {
		return
	}
	tB := blas.NoTrans
	bMat := blas32.General{Rows: k, Cols: n, Stride: n, Data: b}
	if transposeB {
		tB = blas.Trans
		bMat = blas32.General{Rows: n, Cols: k, Stride: k, Data: b}
	}
	blas32.Gemm(blas.NoTrans, tB, 1,
		blas32.General{Rows: m, Cols: k, Stride: k, Data: a},
		bMat, beta,
		blas32.General{Rows: m, Cols: n, Stride: n, Data: c})
}

// parallelMatMul is like matMul, but splits the rows of a across the workers pool.
func (b *Backend) parallelMatMul(a []float32, m, k int, bData []float32, n int, transposeB bool, beta float32, c []float32) {
	// Heuristic: at least ~64K multiply-adds per chunk.
	minRows := max(1, (1<<16)/max(k*n, 1))
	b.workers.ParallelFor(m, minRows, func(start, end int) {
		matMul(a[start*k:end*k], end-start, k, bData, n, transposeB, beta, c[start*n:end*n])
	})
}
