package knnemd

import (
	"math"
	"testing"
)

func TestMedian(t *testing.T) {
	if got := median([]float64{3, 1, 2}); got != 2 {
		t.Errorf("odd: got %v, want 2", got)
	}
	if got := median([]float64{4, 1, 3, 2}); got != 2.5 {
		t.Errorf("even: got %v, want 2.5", got)
	}
	if got := median([]float64{7}); got != 7 {
		t.Errorf("single: got %v, want 7", got)
	}
}

func TestSubtractMedian_HandComputed(t *testing.T) {
	// log10 means 0, 0, 1, 1, 2, 2 into two windows [0, 1) and [1, 2].
	mean := []float64{1, 1, 10, 10, 100, 100}
	score := []float64{1, 3, 5, 6, 7, 20}
	got := SubtractMedian(mean, score, 2)
	// Window 0: {1, 3} median 2. Window 1: {5, 6, 7, 20} median 6.5.
	want := []float64{-1, 1, -1.5, -0.5, 0.5, 13.5}
	for i := range want {
		if !almostEqual(got[i], want[i], floatTol) {
			t.Errorf("feature %d: got %v, want %v", i, got[i], want[i])
		}
	}
}

func TestSubtractMedian_EqualMeansShareOneWindow(t *testing.T) {
	mean := []float64{2, 2, 2}
	score := []float64{1, 5, 3}
	got := SubtractMedian(mean, score, 25)
	want := []float64{-2, 2, 0}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("feature %d: got %v, want %v", i, got[i], want[i])
		}
	}
}

func TestSubtractMedian_WindowMediansAreZero(t *testing.T) {
	n, nWindows := 500, 25
	mean := make([]float64, n)
	score := make([]float64, n)
	for i := range mean {
		mean[i] = math.Pow(10, float64(i%97)/30-1)
		score[i] = math.Sin(float64(i)) + math.Log10(mean[i])
	}
	got := SubtractMedian(mean, score, nWindows)

	lo, hi := math.Inf(1), math.Inf(-1)
	for _, m := range mean {
		lo = math.Min(lo, math.Log10(m))
		hi = math.Max(hi, math.Log10(m))
	}
	width := (hi - lo) / float64(nWindows)
	windows := make([][]float64, nWindows)
	for i, m := range mean {
		w := windowOf(math.Log10(m), lo, width, nWindows)
		windows[w] = append(windows[w], got[i])
	}
	for w, vals := range windows {
		if len(vals) == 0 {
			continue
		}
		if med := median(vals); !almostEqual(med, 0, 1e-12) {
			t.Errorf("window %d: median %v after detrending, want 0", w, med)
		}
	}
}

func TestSubtractMedian_MaxMeanInLastWindow(t *testing.T) {
	if w := windowOf(2, 0, 0.5, 4); w != 3 {
		t.Errorf("maximum maps to window %d, want 3", w)
	}
	if w := windowOf(0, 0, 0.5, 4); w != 0 {
		t.Errorf("minimum maps to window %d, want 0", w)
	}
}

func TestSubtractMedian_Empty(t *testing.T) {
	if got := SubtractMedian(nil, nil, 25); len(got) != 0 {
		t.Errorf("got %v, want empty", got)
	}
}
