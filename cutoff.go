package knnemd

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
)

// SelectFixed selects exactly k features: the k highest scores, ties going
// to the lower feature index. It returns the mask and the k-th highest
// score. k must be in [1, len(scores)].
func SelectFixed(scores []float64, k int) ([]bool, float64) {
	neg := make([]float64, len(scores))
	floats.ScaleTo(neg, -1, scores)
	order := make([]int, len(scores))
	floats.ArgsortStable(neg, order)

	mask := make([]bool, len(scores))
	for _, i := range order[:k] {
		mask[i] = true
	}
	return mask, scores[order[k-1]]
}

// KneeCutoff picks a score threshold at the knee of the sorted score curve.
//
// Scores are sorted ascending and both rank and score are scaled to [0, 1].
// The knee is the point farthest below the chord joining the first and last
// points, i.e. the argmax of x - y, first index on ties. The knee index is
// moved by round(s * n) and clamped to the curve; negative s lowers the
// cutoff and selects more features.
//
// If all scores are equal or any is non-finite the cutoff is undefined; the
// smallest score is returned together with a *DegenerateDistributionError.
func KneeCutoff(scores []float64, s float64) (float64, error) {
	n := len(scores)
	if n == 0 {
		return 0, &DegenerateDistributionError{Reason: "no scores"}
	}
	sorted := append([]float64(nil), scores...)
	sort.Float64s(sorted)
	for _, v := range sorted {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return v, &DegenerateDistributionError{Reason: fmt.Sprintf("non-finite score %g", v)}
		}
	}
	lo, hi := sorted[0], sorted[n-1]
	if lo == hi {
		return lo, &DegenerateDistributionError{Reason: fmt.Sprintf("all %d scores equal %g", n, lo)}
	}

	knee, best := 0, math.Inf(-1)
	for i, v := range sorted {
		d := float64(i)/float64(n-1) - (v-lo)/(hi-lo)
		if d > best {
			knee, best = i, d
		}
	}
	shifted := knee + int(math.Round(s*float64(n)))
	shifted = min(max(shifted, 0), n-1)
	return sorted[shifted], nil
}

// SelectAbove marks the features whose score strictly exceeds cutoff.
func SelectAbove(scores []float64, cutoff float64) []bool {
	mask := make([]bool, len(scores))
	for i, v := range scores {
		mask[i] = v > cutoff
	}
	return mask
}
