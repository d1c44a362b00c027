package knnemd

import (
	"fmt"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// AggregateNeighborhood returns the cells × features matrix whose entry
// (i, f) is the expression of feature f summed over the neighbor row of
// cell i, the cell itself included. Rows are added in neighbor order, so
// dense and sparse storage of the same counts give bit-identical sums.
func AggregateNeighborhood(m CountMatrix, nb *Neighbors, workers int) (*mat.Dense, error) {
	cells, features := m.Dims()
	if nb.Cells() != cells {
		return nil, fmt.Errorf("knnemd: neighbor graph covers %d cells, matrix has %d", nb.Cells(), cells)
	}

	out := mat.NewDense(cells, features, nil)
	adder, direct := m.(rowAdder)
	err := parallelChunks(cells, workers, taskChunk(cells, workers), func(start, end int) error {
		var buf []float64
		if !direct {
			buf = make([]float64, features)
		}
		for i := start; i < end; i++ {
			dst := out.RawRowView(i)
			for _, j := range nb.Row(i) {
				if direct {
					adder.addRowTo(dst, j)
					continue
				}
				floats.Add(dst, m.RowTo(buf, j))
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
