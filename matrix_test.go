package knnemd

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sparseOf converts rows to a SparseCounts holding only the non-zero entries.
func sparseOf(t *testing.T, rows [][]float64) *SparseCounts {
	t.Helper()
	var ri, ci []int
	var vals []float64
	for i, row := range rows {
		for j, v := range row {
			if v != 0 {
				ri = append(ri, i)
				ci = append(ci, j)
				vals = append(vals, v)
			}
		}
	}
	s, err := SparseCountsFromTriplets(len(rows), len(rows[0]), ri, ci, vals)
	require.NoError(t, err)
	return s
}

func TestDenseCountsFrom_Ragged(t *testing.T) {
	_, err := DenseCountsFrom([][]float64{{1, 2}, {3}})
	var ime *InvalidMatrixError
	require.ErrorAs(t, err, &ime)
	assert.Equal(t, CheckShape, ime.Check)
	assert.ErrorIs(t, err, ErrInvalidMatrix)
}

func TestDenseCountsFrom_Empty(t *testing.T) {
	_, err := DenseCountsFrom(nil)
	assert.ErrorIs(t, err, ErrInvalidMatrix)
	_, err = DenseCountsFrom([][]float64{{}})
	assert.ErrorIs(t, err, ErrInvalidMatrix)
}

func TestNewDenseCounts_LengthMismatch(t *testing.T) {
	_, err := NewDenseCounts(2, 3, make([]float64, 5))
	assert.ErrorIs(t, err, ErrInvalidMatrix)
}

func TestSparseCountsFromTriplets_OutOfRange(t *testing.T) {
	_, err := SparseCountsFromTriplets(2, 2, []int{0, 2}, []int{0, 1}, []float64{1, 1})
	assert.ErrorIs(t, err, ErrInvalidMatrix)
	_, err = SparseCountsFromTriplets(2, 2, []int{0}, []int{0, 1}, []float64{1})
	assert.ErrorIs(t, err, ErrInvalidMatrix)
}

func TestCountMatrix_DenseSparseAgree(t *testing.T) {
	rows := [][]float64{
		{0, 1, 0, 4},
		{2, 0, 0, 1},
		{0, 0, 3, 0},
	}
	dense, err := DenseCountsFrom(rows)
	require.NoError(t, err)
	sp := sparseOf(t, rows)

	for _, m := range []CountMatrix{dense, sp} {
		r, c := m.Dims()
		require.Equal(t, 3, r)
		require.Equal(t, 4, c)
		for i := range rows {
			assert.Equal(t, rows[i], m.RowTo(nil, i), "%T row %d", m, i)
		}
		for j := 0; j < 4; j++ {
			col := m.ColTo(make([]float64, 3), j)
			for i := range rows {
				assert.Equal(t, rows[i][j], col[i], "%T col %d", m, j)
			}
		}
		var visited [][3]float64
		m.DoNonZero(func(i, j int, v float64) {
			visited = append(visited, [3]float64{float64(i), float64(j), v})
		})
		assert.Equal(t, [][3]float64{
			{0, 1, 1}, {0, 3, 4}, {1, 0, 2}, {1, 3, 1}, {2, 2, 3},
		}, visited, "%T DoNonZero order", m)
	}
}

func TestSparseCounts_RowToClearsBuffer(t *testing.T) {
	sp := sparseOf(t, [][]float64{{1, 0}, {0, 2}})
	buf := []float64{9, 9}
	assert.Equal(t, []float64{0, 2}, sp.RowTo(buf, 1))
}

func TestFeatureMeans(t *testing.T) {
	rows := [][]float64{{1, 0, 3}, {3, 2, 0}}
	dense, err := DenseCountsFrom(rows)
	require.NoError(t, err)
	want := []float64{2, 1, 1.5}
	assert.Equal(t, want, FeatureMeans(dense))
	assert.Equal(t, want, FeatureMeans(sparseOf(t, rows)))
}

func TestToDense(t *testing.T) {
	rows := [][]float64{{1, 0}, {0, 5}}
	d := toDense(sparseOf(t, rows))
	assert.Equal(t, 5.0, d.At(1, 1))
	assert.Equal(t, 0.0, d.At(0, 1))
}
