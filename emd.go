package knnemd

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// emdPMF returns the 1-Wasserstein distance between two distributions on
// the integer support 0, 1, 2, ...: the sum over unit steps of the absolute
// difference between their cumulative distribution functions.
func emdPMF(a, b []float64) float64 {
	n := max(len(a), len(b))
	var ca, cb, dist float64
	// Both CDFs reach 1 at the last support point, which contributes nothing.
	for x := 0; x < n-1; x++ {
		if x < len(a) {
			ca += a[x]
		}
		if x < len(b) {
			cb += b[x]
		}
		dist += math.Abs(ca - cb)
	}
	return dist
}

// FeatureEMD scores one feature: the distance between the distribution of
// its neighborhood sums and the (knn+1)-fold self-convolution of its count
// distribution, which is what the neighborhood sums would follow if
// neighbors were drawn at random.
func FeatureEMD(counts, neighborhood []float64, knn int) (float64, error) {
	pmf, err := countPMF(counts)
	if err != nil {
		return 0, err
	}
	if top := float64(len(pmf)-1) * float64(knn+1); top >= maxSupport {
		return 0, fmt.Errorf("knnemd: reference support %g for knn=%d outside [0, %d)", top, knn, maxSupport)
	}
	observed, err := countPMF(neighborhood)
	if err != nil {
		return 0, err
	}
	return emdPMF(convolvePower(pmf, knn+1), observed), nil
}

// ComputeEMD returns FeatureEMD for every feature of m against the
// matching column of the neighborhood matrix. Features are split into
// chunks processed by up to workers goroutines; each score is stored at its
// feature index. Any failing feature fails the whole computation.
func ComputeEMD(m CountMatrix, neighborhood *mat.Dense, knn, workers int) ([]float64, error) {
	cells, features := m.Dims()
	if r, c := neighborhood.Dims(); r != cells || c != features {
		return nil, fmt.Errorf("knnemd: neighborhood matrix is %d×%d, counts are %d×%d", r, c, cells, features)
	}

	scores := make([]float64, features)
	err := parallelChunks(features, workers, taskChunk(features, workers), func(start, end int) error {
		counts := make([]float64, cells)
		sums := make([]float64, cells)
		for f := start; f < end; f++ {
			m.ColTo(counts, f)
			mat.Col(sums, f, neighborhood)
			d, err := FeatureEMD(counts, sums, knn)
			if err != nil {
				return fmt.Errorf("knnemd: feature %d: %w", f, err)
			}
			scores[f] = d
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return scores, nil
}
