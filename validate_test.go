package knnemd

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validateBoth(t *testing.T, rows [][]float64) (error, error) {
	t.Helper()
	dense, err := DenseCountsFrom(rows)
	require.NoError(t, err)
	return Validate(dense), Validate(sparseOf(t, rows))
}

func TestValidate_Valid(t *testing.T) {
	d, s := validateBoth(t, [][]float64{{0, 1}, {2, 0}, {1, 1}})
	assert.NoError(t, d)
	assert.NoError(t, s)
}

func TestValidate_Negative(t *testing.T) {
	rows := [][]float64{{1, 2}, {-1, 3}, {4, -2}}
	for _, err := range []error{Validate(mustDense(t, rows)), Validate(sparseOf(t, rows))} {
		var ime *InvalidMatrixError
		require.ErrorAs(t, err, &ime)
		assert.Equal(t, CheckNegative, ime.Check)
		assert.Equal(t, [][2]int{{1, 0}, {2, 1}}, ime.Entries)
		assert.Equal(t, 2, ime.Count)
	}
}

func TestValidate_NonInteger(t *testing.T) {
	d, s := validateBoth(t, [][]float64{{1, 2.5}, {1, 3}})
	for _, err := range []error{d, s} {
		var ime *InvalidMatrixError
		require.ErrorAs(t, err, &ime)
		assert.Equal(t, CheckNonInteger, ime.Check)
		assert.Equal(t, [][2]int{{0, 1}}, ime.Entries)
	}
}

func TestValidate_NonFiniteBeforeNegative(t *testing.T) {
	d, s := validateBoth(t, [][]float64{{-1, math.NaN()}, {1, math.Inf(1)}})
	for _, err := range []error{d, s} {
		var ime *InvalidMatrixError
		require.ErrorAs(t, err, &ime)
		assert.Equal(t, CheckNonFinite, ime.Check)
		assert.Equal(t, [][2]int{{0, 1}, {1, 1}}, ime.Entries)
	}
}

func TestValidate_ZeroFeature(t *testing.T) {
	d, s := validateBoth(t, [][]float64{{1, 0, 0}, {2, 0, 1}})
	for _, err := range []error{d, s} {
		var ime *InvalidMatrixError
		require.ErrorAs(t, err, &ime)
		assert.Equal(t, CheckZeroFeature, ime.Check)
		assert.Equal(t, []int{1}, ime.Features)
		assert.Equal(t, 1, ime.Count)
		assert.Contains(t, err.Error(), "sum to zero")
	}
}

func TestValidate_ReportsAtMostTenIndices(t *testing.T) {
	rows := make([][]float64, 30)
	for i := range rows {
		rows[i] = []float64{-1, 1}
	}
	err := Validate(mustDense(t, rows))
	var ime *InvalidMatrixError
	require.ErrorAs(t, err, &ime)
	assert.Len(t, ime.Entries, maxReportedIndices)
	assert.Equal(t, 30, ime.Count)
	assert.Equal(t, [2]int{0, 0}, ime.Entries[0])
	assert.Equal(t, [2]int{9, 0}, ime.Entries[9])
}

func TestValidate_Nil(t *testing.T) {
	assert.ErrorIs(t, Validate(nil), ErrInvalidMatrix)
}

func TestEntryList_KeepsSmallest(t *testing.T) {
	var l entryList
	for i := 20; i >= 0; i-- {
		l.add(i, 1)
	}
	require.Len(t, l.entries, maxReportedIndices)
	assert.Equal(t, 21, l.count)
	for k, e := range l.entries {
		assert.Equal(t, [2]int{k, 1}, e)
	}
}

func mustDense(t *testing.T, rows [][]float64) *DenseCounts {
	t.Helper()
	d, err := DenseCountsFrom(rows)
	require.NoError(t, err)
	return d
}

func TestCheckSupport_BoundsNeighborhoodSums(t *testing.T) {
	limit := float64(maxSupport / 16)
	rows := [][]float64{{1, limit - 1, 2}, {3, 0, limit}, {0, 5, 1}}
	for _, m := range []CountMatrix{mustDense(t, rows), sparseOf(t, rows)} {
		require.NoError(t, Validate(m))
		assert.NoError(t, checkSupport(m, 14))

		err := checkSupport(m, 15)
		var ime *InvalidMatrixError
		require.ErrorAs(t, err, &ime)
		assert.Equal(t, CheckRange, ime.Check)
		assert.Equal(t, []int{2}, ime.Features)
		assert.Equal(t, 1, ime.Count)
		assert.ErrorIs(t, err, ErrInvalidMatrix)
	}
}
