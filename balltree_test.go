package knnemd

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Construction tests ---

func TestBallTree_Construction_IdxArrayIsPermutation(t *testing.T) {
	data := randomPoints(50, 3, 5)
	tree := newBallTree(data, 50, 3, EuclideanMetric{}, 4)

	seen := make(map[int]bool)
	for _, v := range tree.idxArray {
		if v < 0 || v >= 50 {
			t.Errorf("idxArray contains out-of-range index %d", v)
		}
		if seen[v] {
			t.Errorf("idxArray contains duplicate index %d", v)
		}
		seen[v] = true
	}
	if len(seen) != 50 {
		t.Errorf("idxArray covers %d points, want 50", len(seen))
	}
}

func TestBallTree_Construction_LeafSizeLargerThanN(t *testing.T) {
	tree := newBallTree([]float64{1, 2, 3, 4}, 2, 2, EuclideanMetric{}, 100)
	if !tree.nodes[0].isLeaf {
		t.Error("root should be a leaf when leafSize > n")
	}
}

func TestBallTree_Construction_RadiusCoversPoints(t *testing.T) {
	n, dims := 60, 4
	data := randomPoints(n, dims, 9)
	for _, metric := range []DistanceMetric{EuclideanMetric{}, ManhattanMetric{}, ChebyshevMetric{}} {
		tree := newBallTree(data, n, dims, metric, 3)
		for id, nd := range tree.nodes {
			if nd.idxEnd <= nd.idxStart {
				continue
			}
			c := tree.centroids[id*dims : (id+1)*dims]
			for i := nd.idxStart; i < nd.idxEnd; i++ {
				pt := tree.idxArray[i]
				if d := metric.Distance(c, data[pt*dims:(pt+1)*dims]); d > nd.radius+floatTol {
					t.Fatalf("%T node %d: point %d at %v outside radius %v", metric, id, pt, d, nd.radius)
				}
			}
		}
	}
}

// --- KNN tests ---

func TestBallTree_KNN_BruteForceMatch(t *testing.T) {
	n, dims := 200, 20
	data := randomPoints(n, dims, 13)
	for _, metric := range []DistanceMetric{
		EuclideanMetric{},
		ManhattanMetric{},
		ChebyshevMetric{},
		MinkowskiMetric{P: 3},
	} {
		for _, leaf := range []int{1, 10, 40} {
			tree := newBallTree(data, n, dims, metric, leaf)
			for q := 0; q < n; q += 9 {
				got := tree.queryKNN(data[q*dims:(q+1)*dims], 8)
				want := bruteKNN(data, n, dims, metric, q, 8)
				if !knnItemsMatch(got, want, 0) {
					t.Fatalf("%T leaf=%d q=%d: tree %v, brute %v", metric, leaf, q, got, want)
				}
			}
		}
	}
}

func TestBallTree_KNN_TiesBrokenByIndex(t *testing.T) {
	var data []float64
	for x := -2; x <= 2; x++ {
		for y := -2; y <= 2; y++ {
			data = append(data, float64(x), float64(y))
		}
	}
	n := len(data) / 2
	center := 12
	tree := newBallTree(data, n, 2, ManhattanMetric{}, 2)
	for k := 1; k <= n; k++ {
		got := tree.queryKNN(data[center*2:center*2+2], k)
		want := bruteKNN(data, n, 2, ManhattanMetric{}, center, k)
		if !knnItemsMatch(got, want, 0) {
			t.Fatalf("k=%d: tree %v, brute %v", k, got, want)
		}
	}
}

func TestBallTree_KNN_AllSamePoints(t *testing.T) {
	data := []float64{1, 1, 1, 1, 1, 1, 1, 1}
	tree := newBallTree(data, 4, 2, EuclideanMetric{}, 1)
	got := tree.queryKNN([]float64{1, 1}, 3)
	require.Len(t, got, 3)
	for i, it := range got {
		assert.Equal(t, 0.0, it.dist)
		assert.Equal(t, i, it.index, "lowest indices first")
	}
}

func TestBallTree_MinDistPoint_LowerBound(t *testing.T) {
	n, dims := 40, 3
	data := randomPoints(n, dims, 21)
	tree := newBallTree(data, n, dims, EuclideanMetric{}, 4)
	query := []float64{0.3, -1, 0.7}
	for id, nd := range tree.nodes {
		if nd.idxEnd <= nd.idxStart {
			continue
		}
		bound := tree.minDistPoint(id, query)
		for i := nd.idxStart; i < nd.idxEnd; i++ {
			pt := tree.idxArray[i]
			if d := (EuclideanMetric{}).Distance(query, data[pt*dims:(pt+1)*dims]); bound > d+floatTol {
				t.Fatalf("node %d: bound %v exceeds distance %v to point %d", id, bound, d, pt)
			}
		}
	}
}

func TestComputeNeighbors_BallTreeMatchesBrute(t *testing.T) {
	m := syntheticCounts(t, 90, 60, 4)
	for _, metric := range []string{MetricCosine, MetricCorrelation, MetricEuclidean} {
		cfg := DefaultConfig()
		cfg.Metric = metric
		cfg.NComps = 30
		cfg.NeighborAlgorithm = NeighborAlgorithmBrute
		brute, err := ComputeNeighbors(m, 6, &cfg, 1, zerolog.Nop())
		require.NoError(t, err)
		cfg.NeighborAlgorithm = NeighborAlgorithmBallTree
		cfg.LeafSize = 5
		tree, err := ComputeNeighbors(m, 6, &cfg, 2, zerolog.Nop())
		require.NoError(t, err)
		assert.Equal(t, brute.Rows(), tree.Rows(), "metric %s", metric)
	}
}
