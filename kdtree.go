package knnemd

import (
	"container/heap"
	"math"
	"sort"
)

// kdNode describes a single node in the KD-tree.
type kdNode struct {
	idxStart, idxEnd int
	isLeaf           bool
}

// kdTree is a KD-tree over flat row-major points used for exact k-nearest
// neighbor queries. Points are reordered internally via an index
// permutation array.
//
// The tree is stored as a complete binary tree in array form:
//   - node i has children at 2*i+1 and 2*i+2
//   - node bounds are stored as min/max per dimension per node
type kdTree struct {
	data     []float64 // flat row-major point data (n * dims), not copied
	n        int
	dims     int
	leafSize int
	metric   DistanceMetric
	idxArray []int // permutation: tree-order position → original index
	nodes    []kdNode
	// boundsMin[node*dims + j] = min value of feature j in node
	boundsMin []float64
	// boundsMax[node*dims + j] = max value of feature j in node
	boundsMax []float64
}

// newKDTree builds a KD-tree over n points of dimensionality dims.
// leafSize controls the max points per leaf node.
func newKDTree(data []float64, n, dims int, metric DistanceMetric, leafSize int) *kdTree {
	if leafSize < 1 {
		leafSize = 1
	}
	idxArray := make([]int, n)
	for i := range idxArray {
		idxArray[i] = i
	}

	maxNodes := kdMaxNodes(n, leafSize)
	t := &kdTree{
		data:      data,
		n:         n,
		dims:      dims,
		leafSize:  leafSize,
		metric:    metric,
		idxArray:  idxArray,
		nodes:     make([]kdNode, maxNodes),
		boundsMin: make([]float64, maxNodes*dims),
		boundsMax: make([]float64, maxNodes*dims),
	}
	if n > 0 {
		t.buildNode(0, 0, n)
	}
	return t
}

// kdMaxNodes returns an upper bound on the number of nodes needed for a
// binary tree with n points and the given leaf size.
func kdMaxNodes(n, leafSize int) int {
	if n == 0 {
		return 1
	}
	leaves := (n + leafSize - 1) / leafSize
	depth := 0
	v := 1
	for v < leaves {
		v *= 2
		depth++
	}
	return (1 << (depth + 1)) - 1 + 2 // +2 for safety margin
}

// buildNode recursively builds the tree for points in idxArray[start:end].
func (t *kdTree) buildNode(nodeID, start, end int) {
	for nodeID >= len(t.nodes) {
		t.nodes = append(t.nodes, kdNode{})
		t.boundsMin = append(t.boundsMin, make([]float64, t.dims)...)
		t.boundsMax = append(t.boundsMax, make([]float64, t.dims)...)
	}

	t.computeNodeBounds(nodeID, start, end)

	count := end - start
	if count <= t.leafSize {
		t.nodes[nodeID] = kdNode{idxStart: start, idxEnd: end, isLeaf: true}
		return
	}

	// Split the dimension with the greatest spread at the median.
	splitDim := 0
	maxSpread := -1.0
	for d := 0; d < t.dims; d++ {
		spread := t.boundsMax[nodeID*t.dims+d] - t.boundsMin[nodeID*t.dims+d]
		if spread > maxSpread {
			maxSpread = spread
			splitDim = d
		}
	}

	sub := t.idxArray[start:end]
	dims, data := t.dims, t.data
	sort.Slice(sub, func(i, j int) bool {
		return data[sub[i]*dims+splitDim] < data[sub[j]*dims+splitDim]
	})
	mid := start + count/2

	t.nodes[nodeID] = kdNode{idxStart: start, idxEnd: end}
	t.buildNode(2*nodeID+1, start, mid)
	t.buildNode(2*nodeID+2, mid, end)
}

// computeNodeBounds computes min/max per dimension for points idxArray[start:end].
func (t *kdTree) computeNodeBounds(nodeID, start, end int) {
	base := nodeID * t.dims
	for d := 0; d < t.dims; d++ {
		t.boundsMin[base+d] = math.Inf(1)
		t.boundsMax[base+d] = math.Inf(-1)
	}
	for i := start; i < end; i++ {
		pt := t.idxArray[i]
		for d := 0; d < t.dims; d++ {
			v := t.data[pt*t.dims+d]
			if v < t.boundsMin[base+d] {
				t.boundsMin[base+d] = v
			}
			if v > t.boundsMax[base+d] {
				t.boundsMax[base+d] = v
			}
		}
	}
}

// queryKNN returns the k points nearest to query ordered by (distance,
// index), which is the same order brute force search produces.
func (t *kdTree) queryKNN(query []float64, k int) []knnItem {
	h := make(knnHeap, 0, k)
	t.knnSearch(0, query, k, &h)
	return h.sorted()
}

// knnSearch performs a single-tree KNN traversal using a max-heap of size k.
func (t *kdTree) knnSearch(nodeID int, query []float64, k int, h *knnHeap) {
	if nodeID >= len(t.nodes) {
		return
	}
	node := t.nodes[nodeID]
	if node.idxStart == node.idxEnd && nodeID != 0 {
		return // uninitialized node
	}

	if node.isLeaf {
		for i := node.idxStart; i < node.idxEnd; i++ {
			pt := t.idxArray[i]
			d := t.metric.Distance(query, t.data[pt*t.dims:(pt+1)*t.dims])
			h.offer(knnItem{index: pt, dist: d}, k)
		}
		return
	}

	left, right := 2*nodeID+1, 2*nodeID+2
	leftRdist := t.minRdistPoint(left, query)
	rightRdist := t.minRdistPoint(right, query)

	nearChild, farChild := left, right
	farRdist := rightRdist
	if rightRdist < leftRdist {
		nearChild, farChild = right, left
		farRdist = leftRdist
	}

	t.knnSearch(nearChild, query, k, h)

	// Equal bounds are still visited: a tie at the k-th distance may be
	// won by a lower index in the far child. The slack absorbs rounding in
	// the distance/reduced-distance round trip.
	if h.Len() < k || farRdist <= t.metric.DistToRdist((*h)[0].dist)*(1+1e-9) {
		t.knnSearch(farChild, query, k, h)
	}
}

// minRdistPoint returns a lower bound in reduced-distance space on the
// distance between a point and any point in the given node.
func (t *kdTree) minRdistPoint(node int, point []float64) float64 {
	if node >= len(t.nodes) {
		return math.Inf(1)
	}
	base := node * t.dims
	_, chebyshev := t.metric.(ChebyshevMetric)
	p := metricP(t.metric)

	var rdist float64
	for j := 0; j < t.dims; j++ {
		lo, hi := t.boundsMin[base+j], t.boundsMax[base+j]
		var d float64
		if point[j] < lo {
			d = lo - point[j]
		} else if point[j] > hi {
			d = point[j] - hi
		}
		if chebyshev {
			rdist = math.Max(rdist, d)
			continue
		}
		rdist += math.Pow(d, p)
	}
	return rdist
}

// metricP returns the Minkowski exponent for the metric.
func metricP(m DistanceMetric) float64 {
	switch v := m.(type) {
	case ManhattanMetric:
		return 1.0
	case MinkowskiMetric:
		return v.P
	case ChebyshevMetric:
		return math.Inf(1)
	default:
		return 2.0
	}
}

// --- bounded max-heap for KNN queries ---

type knnItem struct {
	index int
	dist  float64
}

// before reports whether a ranks ahead of b: smaller distance first, then
// smaller index.
func (a knnItem) before(b knnItem) bool {
	if a.dist != b.dist {
		return a.dist < b.dist
	}
	return a.index < b.index
}

// knnHeap is a max-heap of knnItem (worst-ranked on top) used as a bounded
// priority queue.
type knnHeap []knnItem

func (h knnHeap) Len() int            { return len(h) }
func (h knnHeap) Less(i, j int) bool  { return h[j].before(h[i]) }
func (h knnHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *knnHeap) Push(x interface{}) { *h = append(*h, x.(knnItem)) }
func (h *knnHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// offer inserts it if the heap holds fewer than k items or it ranks ahead of
// the current worst.
func (h *knnHeap) offer(it knnItem, k int) {
	if h.Len() < k {
		heap.Push(h, it)
	} else if it.before((*h)[0]) {
		(*h)[0] = it
		heap.Fix(h, 0)
	}
}

// sorted drains the heap into a slice ordered best first.
func (h *knnHeap) sorted() []knnItem {
	out := make([]knnItem, h.Len())
	for i := len(out) - 1; i >= 0; i-- {
		out[i] = heap.Pop(h).(knnItem)
	}
	return out
}
