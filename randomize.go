package knnemd

import (
	"math/rand/v2"

	"github.com/james-bowman/sparse"
	"gonum.org/v1/gonum/mat"
)

// RandomizeCounts returns a copy of m in which every feature column is
// independently permuted across cells. Each feature keeps its exact multiset
// of values while any structure shared between features is destroyed.
//
// Feature f is shuffled with a PCG stream seeded by (seed, f), so the result
// depends only on seed, never on evaluation order. Sparse input yields a
// sparse result equal to the randomized dense form.
func RandomizeCounts(m CountMatrix, seed uint64) CountMatrix {
	cells, features := m.Dims()
	perms := make([][]int, features)
	for f := range perms {
		rng := rand.New(rand.NewPCG(seed, uint64(f)))
		perms[f] = rng.Perm(cells)
	}

	if _, ok := m.(*SparseCounts); ok {
		var rows, cols []int
		var vals []float64
		m.DoNonZero(func(i, j int, v float64) {
			rows = append(rows, perms[j][i])
			cols = append(cols, j)
			vals = append(vals, v)
		})
		coo := sparse.NewCOO(cells, features, rows, cols, vals)
		csr := coo.ToCSR()
		return &SparseCounts{csr: csr, csc: csr.ToCSC()}
	}

	out := mat.NewDense(cells, features, nil)
	m.DoNonZero(func(i, j int, v float64) {
		out.Set(perms[j][i], j, v)
	})
	return &DenseCounts{m: out}
}
