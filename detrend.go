package knnemd

import (
	"math"
	"sort"
)

// SubtractMedian removes the dependence of score on expression level.
// Features are binned into nWindows equal-width windows over log10(mean);
// the last window is closed on the right, and all features share one window
// when every mean is equal. The median score of each window is subtracted
// from the scores of its members. Means must be positive.
func SubtractMedian(mean, score []float64, nWindows int) []float64 {
	n := len(score)
	out := make([]float64, n)
	if n == 0 {
		return out
	}
	nWindows = max(nWindows, 1)

	x := make([]float64, n)
	lo, hi := math.Inf(1), math.Inf(-1)
	for i, m := range mean {
		x[i] = math.Log10(m)
		lo = math.Min(lo, x[i])
		hi = math.Max(hi, x[i])
	}
	width := (hi - lo) / float64(nWindows)

	members := make([][]int, nWindows)
	for i, v := range x {
		w := windowOf(v, lo, width, nWindows)
		members[w] = append(members[w], i)
	}

	vals := make([]float64, 0, n)
	for _, idx := range members {
		if len(idx) == 0 {
			continue
		}
		vals = vals[:0]
		for _, i := range idx {
			vals = append(vals, score[i])
		}
		med := median(vals)
		for _, i := range idx {
			out[i] = score[i] - med
		}
	}
	return out
}

func windowOf(x, lo, width float64, nWindows int) int {
	if width == 0 {
		return 0
	}
	w := int(math.Floor((x - lo) / width))
	return min(max(w, 0), nWindows-1)
}

// median sorts vals in place and returns the middle value, or the mean of
// the two middle values for even lengths.
func median(vals []float64) float64 {
	sort.Float64s(vals)
	n := len(vals)
	if n%2 == 1 {
		return vals[n/2]
	}
	return (vals[n/2-1] + vals[n/2]) / 2
}
