package knnemd

import (
	"fmt"
	"math"
	"sort"
)

// Validate checks that m is a usable count matrix: non-empty, every entry
// finite, non-negative and integral, and no feature summing to zero. The
// first failing check is returned as an *InvalidMatrixError.
//
// Only stored entries of sparse matrices are inspected, so dense and sparse
// forms of the same matrix produce the same verdict and the same indices.
func Validate(m CountMatrix) error {
	if m == nil {
		return &InvalidMatrixError{Check: CheckShape, Detail: "matrix is nil"}
	}
	cells, features := m.Dims()
	if cells < 1 || features < 1 {
		return &InvalidMatrixError{Check: CheckShape, Detail: "matrix must have at least one cell and one feature"}
	}

	var nonFinite, negative, nonInteger entryList
	colSums := make([]float64, features)
	m.DoNonZero(func(i, j int, v float64) {
		switch {
		case math.IsNaN(v) || math.IsInf(v, 0):
			nonFinite.add(i, j)
		case v < 0:
			negative.add(i, j)
		case v != math.Trunc(v):
			nonInteger.add(i, j)
		}
		colSums[j] += v
	})

	for _, c := range []struct {
		check string
		list  *entryList
	}{
		{CheckNonFinite, &nonFinite},
		{CheckNegative, &negative},
		{CheckNonInteger, &nonInteger},
	} {
		if c.list.count > 0 {
			return &InvalidMatrixError{Check: c.check, Entries: c.list.entries, Count: c.list.count}
		}
	}

	var zero []int
	count := 0
	for j, s := range colSums {
		if s == 0 {
			count++
			if len(zero) < maxReportedIndices {
				zero = append(zero, j)
			}
		}
	}
	if count > 0 {
		return &InvalidMatrixError{Check: CheckZeroFeature, Features: zero, Count: count}
	}
	return nil
}

// checkSupport fails with a range *InvalidMatrixError when a neighborhood of
// knn+1 cells could sum a feature past the largest distribution support
// scoring handles. It runs once knn is known and before any neighbor search.
func checkSupport(m CountMatrix, knn int) error {
	_, features := m.Dims()
	colMax := make([]float64, features)
	m.DoNonZero(func(_, j int, v float64) {
		colMax[j] = math.Max(colMax[j], v)
	})

	limit := float64(maxSupport) / float64(knn+1)
	var over []int
	count := 0
	for j, v := range colMax {
		if v >= limit {
			count++
			if len(over) < maxReportedIndices {
				over = append(over, j)
			}
		}
	}
	if count == 0 {
		return nil
	}
	return &InvalidMatrixError{
		Check:    CheckRange,
		Features: over,
		Count:    count,
		Detail: fmt.Sprintf("%d feature(s) have counts that summed over %d cells reach %d or more, first %v",
			count, knn+1, maxSupport, over),
	}
}

// entryList keeps the lexicographically smallest offending (cell, feature)
// pairs, independent of the order entries are visited in.
type entryList struct {
	entries [][2]int
	count   int
}

func (l *entryList) add(i, j int) {
	l.count++
	e := [2]int{i, j}
	pos := sort.Search(len(l.entries), func(k int) bool {
		x := l.entries[k]
		return x[0] > i || (x[0] == i && x[1] > j)
	})
	if pos >= maxReportedIndices {
		return
	}
	if len(l.entries) < maxReportedIndices {
		l.entries = append(l.entries, [2]int{})
	}
	copy(l.entries[pos+1:], l.entries[pos:])
	l.entries[pos] = e
}
