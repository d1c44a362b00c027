package knnemd

import (
	"fmt"
	"math"
	"sort"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/mat"
)

// NeighborSource selects where the neighbor graph comes from.
type NeighborSource string

const (
	// NeighborSourceAuto uses a precomputed graph when the input carries one.
	NeighborSourceAuto NeighborSource = "auto"
	// NeighborSourcePrecomputed requests the precomputed graph; without one
	// the neighbors are computed with a warning.
	NeighborSourcePrecomputed NeighborSource = "precomputed"
	// NeighborSourceCompute ignores any precomputed graph.
	NeighborSourceCompute NeighborSource = "compute"
)

// NeighborAlgorithm selects the nearest-neighbor search strategy.
type NeighborAlgorithm string

const (
	NeighborAlgorithmAuto     NeighborAlgorithm = "auto"
	NeighborAlgorithmBrute    NeighborAlgorithm = "brute"
	NeighborAlgorithmKDTree   NeighborAlgorithm = "kdtree"
	NeighborAlgorithmBallTree NeighborAlgorithm = "balltree"
)

// kdTreeMaxDims is the largest embedding dimensionality for which auto
// selects the KD-tree.
const kdTreeMaxDims = 16

// ballTreeMinCells is the smallest cell count for which auto selects the
// ball tree over brute force on wide embeddings.
const ballTreeMinCells = 2000

// GraphMode tells how precomputed graph weights rank neighbors.
type GraphMode string

const (
	// GraphConnectivities ranks by weight, largest first.
	GraphConnectivities GraphMode = "connectivities"
	// GraphDistances ranks stored non-zero distances, smallest first.
	GraphDistances GraphMode = "distances"
)

// distConnComputed is recorded when neighbors were computed, not ranked.
const distConnComputed = "computed"

// PrecomputedGraph is a cells × cells neighbor graph produced elsewhere,
// e.g. by a previous neighbors run over the same cells.
type PrecomputedGraph struct {
	// Weights holds connectivities or distances. Matrices exposing
	// DoRowNonZero (such as sparse.CSR) are scanned by stored entries only.
	Weights mat.Matrix

	// NNeighbors is the neighbor count the graph was built with. It becomes
	// knn when the graph is used.
	NNeighbors int

	// Mode selects how Weights rank neighbors. Default: connectivities.
	Mode GraphMode
}

// Neighbors holds, for every cell, the cell itself followed by its knn
// nearest neighbors, nearest first, in a flat row-major cells × (knn+1)
// array.
type Neighbors struct {
	indices []int
	cells   int
	knn     int
}

func newNeighbors(cells, knn int) *Neighbors {
	return &Neighbors{indices: make([]int, cells*(knn+1)), cells: cells, knn: knn}
}

// NewNeighbors builds Neighbors from per-cell index rows. Every row must
// have the same length of at least 2, start with its own cell index and
// contain valid cell indices.
func NewNeighbors(rows [][]int) (*Neighbors, error) {
	if len(rows) == 0 || len(rows[0]) < 2 {
		return nil, errors.New("knnemd: neighbor rows must hold the cell and at least one neighbor")
	}
	width := len(rows[0])
	nb := newNeighbors(len(rows), width-1)
	for i, row := range rows {
		if len(row) != width {
			return nil, fmt.Errorf("knnemd: neighbor row %d has %d entries, want %d", i, len(row), width)
		}
		if row[0] != i {
			return nil, fmt.Errorf("knnemd: neighbor row %d starts with %d, want the cell itself", i, row[0])
		}
		for _, j := range row {
			if j < 0 || j >= len(rows) {
				return nil, fmt.Errorf("knnemd: neighbor row %d references cell %d outside [0, %d)", i, j, len(rows))
			}
		}
		copy(nb.Row(i), row)
	}
	return nb, nil
}

// Row returns the neighbor indices of cell i, starting with i. The slice
// aliases internal storage and must not be modified.
func (n *Neighbors) Row(i int) []int {
	w := n.knn + 1
	return n.indices[i*w : (i+1)*w]
}

// Cells returns the number of cells.
func (n *Neighbors) Cells() int { return n.cells }

// KNN returns the number of neighbors per cell, excluding the cell itself.
func (n *Neighbors) KNN() int { return n.knn }

// Rows returns a copy of the index matrix as one slice per cell.
func (n *Neighbors) Rows() [][]int {
	out := make([][]int, n.cells)
	for i := range out {
		out[i] = append([]int(nil), n.Row(i)...)
	}
	return out
}

// DefaultKNN returns floor(0.5 * sqrt(cells)), at least 1.
func DefaultKNN(cells int) int {
	return max(1, int(0.5*math.Sqrt(float64(cells))))
}

// neighborInfo records how the neighbor graph was obtained.
type neighborInfo struct {
	knn        int
	minKNNUsed bool
	distConn   string
}

// planNeighbors decides, without touching the matrix, whether neighbors
// come from graph and how many each cell gets.
func planNeighbors(cells int, graph *PrecomputedGraph, cfg *Config) (info neighborInfo, fromGraph bool) {
	if graph != nil && cfg.NeighborSource != NeighborSourceCompute {
		if cfg.MinKNN > 0 && graph.NNeighbors < cfg.MinKNN {
			return neighborInfo{knn: cfg.MinKNN, minKNNUsed: true, distConn: distConnComputed}, false
		}
		return neighborInfo{knn: graph.NNeighbors, distConn: string(graph.graphMode())}, true
	}
	info = neighborInfo{knn: cfg.KNN, distConn: distConnComputed}
	if info.knn == 0 {
		info.knn = DefaultKNN(cells)
	}
	if cfg.MinKNN > 0 && info.knn < cfg.MinKNN {
		info.knn = cfg.MinKNN
		info.minKNNUsed = true
	}
	return info, false
}

// resolveNeighbors returns the neighbor graph for m, from graph when the
// configuration allows it and its neighbor count is acceptable, computed
// otherwise.
func resolveNeighbors(m CountMatrix, graph *PrecomputedGraph, cfg *Config, workers int, log zerolog.Logger) (*Neighbors, neighborInfo, error) {
	cells, _ := m.Dims()
	info, fromGraph := planNeighbors(cells, graph, cfg)

	if fromGraph {
		log.Info().Int("knn", info.knn).Str("mode", info.distConn).Msg("using precomputed neighbor graph")
		nb, err := NeighborsFromGraph(graph, workers)
		if err != nil {
			return nil, neighborInfo{}, err
		}
		if nb.Cells() != cells {
			return nil, neighborInfo{}, fmt.Errorf("knnemd: precomputed graph covers %d cells, matrix has %d", nb.Cells(), cells)
		}
		return nb, info, nil
	}

	if graph != nil && cfg.NeighborSource != NeighborSourceCompute {
		log.Warn().Int("graph_knn", graph.NNeighbors).Int("min_knn", cfg.MinKNN).
			Msg("precomputed graph has too few neighbors, computing neighbors instead")
	} else {
		if graph == nil && cfg.NeighborSource == NeighborSourcePrecomputed {
			log.Warn().Msg("precomputed neighbors requested but the input has none, computing neighbors instead")
		}
		if cfg.KNN == 0 {
			log.Info().Int("knn", DefaultKNN(cells)).Msg("using default number of neighbors")
		}
		if info.minKNNUsed {
			log.Info().Int("knn", info.knn).Int("min_knn", cfg.MinKNN).Msg("raising knn to the configured minimum")
		}
	}
	nb, err := ComputeNeighbors(m, info.knn, cfg, workers, log)
	if err != nil {
		return nil, neighborInfo{}, err
	}
	return nb, info, nil
}

func (g *PrecomputedGraph) graphMode() GraphMode {
	if g.Mode == "" {
		return GraphConnectivities
	}
	return g.Mode
}

// rowNonZeroer is implemented by sparse matrices such as sparse.CSR.
type rowNonZeroer interface {
	DoRowNonZero(i int, fn func(i, j int, v float64))
}

// NeighborsFromGraph ranks, for every cell, the other cells by graph weight
// and keeps the top g.NNeighbors after the cell itself. Connectivities rank
// largest first, distances smallest first; only positive weights count as
// edges. Ties go to the lower cell index, and cells without an edge fill
// remaining slots in index order.
func NeighborsFromGraph(g *PrecomputedGraph, workers int) (*Neighbors, error) {
	if g == nil || g.Weights == nil {
		return nil, errors.New("knnemd: precomputed graph has no weights")
	}
	r, c := g.Weights.Dims()
	if r != c {
		return nil, fmt.Errorf("knnemd: precomputed graph must be square, got %d×%d", r, c)
	}
	knn := g.NNeighbors
	if knn < 1 {
		return nil, fmt.Errorf("knnemd: precomputed graph NNeighbors must be >= 1, got %d", knn)
	}
	if knn+1 > r {
		return nil, &InsufficientCellsError{Requested: knn, Cells: r}
	}
	mode := g.graphMode()
	if mode != GraphConnectivities && mode != GraphDistances {
		return nil, fmt.Errorf("knnemd: unknown graph Mode %q", mode)
	}

	nb := newNeighbors(r, knn)
	sparseRows, isSparse := g.Weights.(rowNonZeroer)
	err := parallelChunks(r, workers, 0, func(start, end int) error {
		var edges []knnItem
		taken := make([]bool, r)
		for i := start; i < end; i++ {
			edges = edges[:0]
			collect := func(_, j int, v float64) {
				if j != i && v > 0 {
					edges = append(edges, knnItem{index: j, dist: v})
				}
			}
			if isSparse {
				sparseRows.DoRowNonZero(i, collect)
			} else {
				for j := 0; j < c; j++ {
					collect(i, j, g.Weights.At(i, j))
				}
			}
			if mode == GraphConnectivities {
				for k := range edges {
					edges[k].dist = -edges[k].dist
				}
			}
			sort.Slice(edges, func(a, b int) bool { return edges[a].before(edges[b]) })

			row := nb.Row(i)
			row[0] = i
			n := 1
			for _, e := range edges {
				if n > knn {
					break
				}
				row[n] = e.index
				taken[e.index] = true
				n++
			}
			for j := 0; j < r && n <= knn; j++ {
				if j != i && !taken[j] {
					row[n] = j
					n++
				}
			}
			for _, j := range row[1:] {
				taken[j] = false
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return nb, nil
}

// ComputeNeighbors finds the knn nearest cells of every cell on the PCA
// embedding of m using cfg.Metric, cfg.NComps and cfg.NeighborAlgorithm.
// Neighbors are ordered by (distance, cell index).
func ComputeNeighbors(m CountMatrix, knn int, cfg *Config, workers int, log zerolog.Logger) (*Neighbors, error) {
	cells, _ := m.Dims()
	if knn < 1 {
		return nil, fmt.Errorf("knnemd: knn must be >= 1, got %d", knn)
	}
	if knn+1 > cells {
		return nil, &InsufficientCellsError{Requested: knn, Cells: cells}
	}

	metric, transform, err := resolveMetric(cfg.Metric, cfg.MinkowskiP)
	if err != nil {
		return nil, err
	}
	emb, err := embed(m, cfg.NComps, log)
	if err != nil {
		return nil, err
	}
	_, dims := emb.Dims()
	data := make([]float64, cells*dims)
	for i := 0; i < cells; i++ {
		row := data[i*dims : (i+1)*dims]
		copy(row, emb.RawRowView(i))
		if transform != nil {
			transform(row)
		}
	}

	algo := cfg.NeighborAlgorithm
	if algo == NeighborAlgorithmAuto || algo == "" {
		switch {
		case dims <= kdTreeMaxDims && kdTreeValidMetric(metric):
			algo = NeighborAlgorithmKDTree
		case cells >= ballTreeMinCells:
			algo = NeighborAlgorithmBallTree
		default:
			algo = NeighborAlgorithmBrute
		}
	}
	log.Debug().Str("algorithm", string(algo)).Str("metric", cfg.Metric).Int("knn", knn).Int("dims", dims).
		Msg("searching nearest neighbors")

	var query func(i int) []knnItem
	switch algo {
	case NeighborAlgorithmKDTree:
		tree := newKDTree(data, cells, dims, metric, cfg.LeafSize)
		query = func(i int) []knnItem { return tree.queryKNN(data[i*dims:(i+1)*dims], knn+1) }
	case NeighborAlgorithmBallTree:
		tree := newBallTree(data, cells, dims, metric, cfg.LeafSize)
		query = func(i int) []knnItem { return tree.queryKNN(data[i*dims:(i+1)*dims], knn+1) }
	case NeighborAlgorithmBrute:
		query = func(i int) []knnItem { return bruteKNN(data, cells, dims, metric, i, knn+1) }
	default:
		return nil, fmt.Errorf("knnemd: unknown NeighborAlgorithm %q", algo)
	}

	nb := newNeighbors(cells, knn)
	err = parallelChunks(cells, workers, taskChunk(cells, workers), func(start, end int) error {
		for i := start; i < end; i++ {
			fillNeighborRow(nb.Row(i), i, query(i))
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "knnemd: neighbor search")
	}
	return nb, nil
}

// bruteKNN returns the k points nearest to point q, self included.
func bruteKNN(data []float64, n, dims int, metric DistanceMetric, q, k int) []knnItem {
	query := data[q*dims : (q+1)*dims]
	h := make(knnHeap, 0, k)
	for j := 0; j < n; j++ {
		d := metric.Distance(query, data[j*dims:(j+1)*dims])
		if math.IsNaN(d) {
			d = math.Inf(1)
		}
		h.offer(knnItem{index: j, dist: d}, k)
	}
	out := make([]knnItem, len(h))
	copy(out, h)
	sort.Slice(out, func(a, b int) bool { return out[a].before(out[b]) })
	return out
}

// fillNeighborRow writes cell i followed by the nearest other cells from
// found, which holds knn+1 candidates that may or may not include i.
func fillNeighborRow(row []int, i int, found []knnItem) {
	row[0] = i
	n := 1
	for _, it := range found {
		if n == len(row) {
			break
		}
		if it.index != i {
			row[n] = it.index
			n++
		}
	}
}
