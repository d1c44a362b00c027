// Package knnemd selects highly variable features (genes) from single-cell
// count matrices.
//
// For every feature it compares two distributions: the distribution of the
// feature's expression summed over a cell's k nearest neighbors, and the
// distribution that sum would follow if the neighbors were random cells (the
// (k+1)-fold self-convolution of the feature's count distribution). Features
// whose expression is concentrated in groups of similar cells produce a large
// Earth Mover's Distance (1-Wasserstein distance) between the two.
//
// Basic usage:
//
//	counts, err := knnemd.DenseCountsFrom(rows) // rows are cells, columns are features
//	cfg := knnemd.DefaultConfig()
//	res, err := knnemd.Select(knnemd.MatrixInput(counts), cfg)
//	// res.Selected[f] reports whether feature f is highly variable
//	// res.Score[f] is the corrected, detrended distance used for selection
//
// Sparse matrices are supported through [SparseCounts], which produces the
// same neighbors and scores as the dense form of the same matrix.
//
// # Pipeline
//
//  1. The matrix is validated: finite, non-negative, integral, no all-zero
//     feature.
//  2. Neighbors are taken from a precomputed graph ([Dataset.Neighbors]) or
//     computed on a PCA embedding of log1p counts.
//  3. Expression is summed over each cell's neighborhood, self included.
//  4. The distance between observed and expected neighborhood distributions
//     is computed per feature on a bounded worker pool.
//  5. Optionally the same is done on a column-permuted matrix and subtracted.
//  6. Scores are detrended by the median of windows of mean expression.
//  7. A cutoff is chosen at the knee of the sorted score curve, or the top
//     Config.NFeatures features are taken.
package knnemd
