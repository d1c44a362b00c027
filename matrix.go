package knnemd

import (
	"fmt"

	"github.com/james-bowman/sparse"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// CountMatrix is a cells × features count matrix. Implementations must give
// identical values for identical logical matrices regardless of storage.
type CountMatrix interface {
	// Dims returns the number of cells (rows) and features (columns).
	Dims() (cells, features int)

	// RowTo copies the expression of cell i into dst, which must have length
	// features. If dst is nil a new slice is allocated. It returns dst.
	RowTo(dst []float64, i int) []float64

	// ColTo copies the expression of feature j into dst, which must have
	// length cells. If dst is nil a new slice is allocated. It returns dst.
	ColTo(dst []float64, j int) []float64

	// DoNonZero calls fn for every stored non-zero entry, row by row.
	DoNonZero(fn func(i, j int, v float64))
}

// rowAdder is implemented by matrices that can accumulate a row into a
// buffer without materializing it.
type rowAdder interface {
	addRowTo(dst []float64, i int)
}

// DenseCounts is a CountMatrix backed by a gonum dense matrix.
type DenseCounts struct {
	m *mat.Dense
}

// NewDenseCounts wraps flat row-major data with the given shape. The data
// slice is used directly, not copied.
func NewDenseCounts(cells, features int, data []float64) (*DenseCounts, error) {
	if cells <= 0 || features <= 0 {
		return nil, &InvalidMatrixError{Check: CheckShape, Detail: fmt.Sprintf("shape %d×%d, need at least 1×1", cells, features)}
	}
	if len(data) != cells*features {
		return nil, &InvalidMatrixError{Check: CheckShape, Detail: fmt.Sprintf("data length %d does not match %d×%d", len(data), cells, features)}
	}
	return &DenseCounts{m: mat.NewDense(cells, features, data)}, nil
}

// DenseCountsFrom copies a slice of rows (cells) into a DenseCounts. All rows
// must have the same, non-zero length.
func DenseCountsFrom(rows [][]float64) (*DenseCounts, error) {
	if len(rows) == 0 || len(rows[0]) == 0 {
		return nil, &InvalidMatrixError{Check: CheckShape, Detail: "matrix has no cells or no features"}
	}
	features := len(rows[0])
	data := make([]float64, len(rows)*features)
	for i, row := range rows {
		if len(row) != features {
			return nil, &InvalidMatrixError{Check: CheckShape, Detail: fmt.Sprintf("row %d has %d values, row 0 has %d", i, len(row), features)}
		}
		copy(data[i*features:], row)
	}
	return &DenseCounts{m: mat.NewDense(len(rows), features, data)}, nil
}

// DenseCountsOf wraps an existing gonum matrix without copying.
func DenseCountsOf(m *mat.Dense) *DenseCounts { return &DenseCounts{m: m} }

// Matrix returns the underlying gonum matrix.
func (d *DenseCounts) Matrix() *mat.Dense { return d.m }

func (d *DenseCounts) Dims() (int, int) { return d.m.Dims() }

func (d *DenseCounts) RowTo(dst []float64, i int) []float64 {
	_, c := d.m.Dims()
	if dst == nil {
		dst = make([]float64, c)
	}
	copy(dst, d.m.RawRowView(i))
	return dst
}

func (d *DenseCounts) ColTo(dst []float64, j int) []float64 {
	return mat.Col(dst, j, d.m)
}

func (d *DenseCounts) DoNonZero(fn func(i, j int, v float64)) {
	r, _ := d.m.Dims()
	for i := 0; i < r; i++ {
		for j, v := range d.m.RawRowView(i) {
			// NaN compares unequal to zero and is reported like any stored value.
			if v != 0 {
				fn(i, j, v)
			}
		}
	}
}

func (d *DenseCounts) addRowTo(dst []float64, i int) {
	floats.Add(dst, d.m.RawRowView(i))
}

// SparseCounts is a CountMatrix backed by a compressed sparse row matrix.
// A compressed sparse column copy is kept for per-feature access.
type SparseCounts struct {
	csr *sparse.CSR
	csc *sparse.CSC
}

// NewSparseCounts wraps a CSR matrix.
func NewSparseCounts(csr *sparse.CSR) (*SparseCounts, error) {
	r, c := csr.Dims()
	if r <= 0 || c <= 0 {
		return nil, &InvalidMatrixError{Check: CheckShape, Detail: fmt.Sprintf("shape %d×%d, need at least 1×1", r, c)}
	}
	return &SparseCounts{csr: csr, csc: csr.ToCSC()}, nil
}

// SparseCountsFromTriplets builds a SparseCounts from coordinate triplets.
// Each (rows[k], cols[k]) position must appear at most once.
func SparseCountsFromTriplets(cells, features int, rows, cols []int, values []float64) (*SparseCounts, error) {
	if len(rows) != len(cols) || len(rows) != len(values) {
		return nil, &InvalidMatrixError{Check: CheckShape, Detail: fmt.Sprintf("triplet lengths differ: %d rows, %d cols, %d values", len(rows), len(cols), len(values))}
	}
	for k := range rows {
		if rows[k] < 0 || rows[k] >= cells || cols[k] < 0 || cols[k] >= features {
			return nil, &InvalidMatrixError{Check: CheckShape, Detail: fmt.Sprintf("triplet %d at (%d, %d) outside %d×%d", k, rows[k], cols[k], cells, features)}
		}
	}
	if cells <= 0 || features <= 0 {
		return nil, &InvalidMatrixError{Check: CheckShape, Detail: fmt.Sprintf("shape %d×%d, need at least 1×1", cells, features)}
	}
	coo := sparse.NewCOO(cells, features, rows, cols, values)
	return NewSparseCounts(coo.ToCSR())
}

// CSR returns the underlying compressed sparse row matrix.
func (s *SparseCounts) CSR() *sparse.CSR { return s.csr }

func (s *SparseCounts) Dims() (int, int) { return s.csr.Dims() }

func (s *SparseCounts) RowTo(dst []float64, i int) []float64 {
	_, c := s.csr.Dims()
	if dst == nil {
		dst = make([]float64, c)
	}
	clear(dst)
	s.csr.DoRowNonZero(i, func(_, j int, v float64) {
		dst[j] = v
	})
	return dst
}

func (s *SparseCounts) ColTo(dst []float64, j int) []float64 {
	r, _ := s.csr.Dims()
	if dst == nil {
		dst = make([]float64, r)
	}
	clear(dst)
	s.csc.DoColNonZero(j, func(i, _ int, v float64) {
		dst[i] = v
	})
	return dst
}

func (s *SparseCounts) DoNonZero(fn func(i, j int, v float64)) {
	s.csr.DoNonZero(func(i, j int, v float64) {
		if v != 0 {
			fn(i, j, v)
		}
	})
}

func (s *SparseCounts) addRowTo(dst []float64, i int) {
	s.csr.DoRowNonZero(i, func(_, j int, v float64) {
		dst[j] += v
	})
}

// toDense copies any CountMatrix into a new gonum dense matrix.
func toDense(m CountMatrix) *mat.Dense {
	r, c := m.Dims()
	out := mat.NewDense(r, c, nil)
	for i := 0; i < r; i++ {
		m.RowTo(out.RawRowView(i), i)
	}
	return out
}

// FeatureMeans returns the mean expression of every feature. Sums are
// accumulated row by row so dense and sparse storage agree bit for bit.
func FeatureMeans(m CountMatrix) []float64 {
	cells, features := m.Dims()
	means := make([]float64, features)
	m.DoNonZero(func(_, j int, v float64) {
		means[j] += v
	})
	floats.Scale(1/float64(cells), means)
	return means
}
