package knnemd

import (
	"math"
	"sort"
)

// ballNode describes a single node in the ball tree.
type ballNode struct {
	idxStart, idxEnd int
	isLeaf           bool
	radius           float64
}

// ballTree is a ball tree over flat row-major points used for exact
// k-nearest neighbor queries in embeddings too wide for the KD-tree. Each
// node stores a centroid and the radius of the smallest ball around it that
// holds all of the node's points. Pruning relies on the triangle inequality,
// so any DistanceMetric works.
//
// The tree is stored as a complete binary tree in array form:
//   - node i has children at 2*i+1 and 2*i+2
//   - centroids[node*dims .. (node+1)*dims) is the centroid of node
type ballTree struct {
	data      []float64 // flat row-major point data (n * dims), not copied
	n         int
	dims      int
	leafSize  int
	metric    DistanceMetric
	idxArray  []int // permutation: tree-order position → original index
	nodes     []ballNode
	centroids []float64
}

// newBallTree builds a ball tree over n points of dimensionality dims.
// leafSize controls the max points per leaf node.
func newBallTree(data []float64, n, dims int, metric DistanceMetric, leafSize int) *ballTree {
	if leafSize < 1 {
		leafSize = 1
	}
	idxArray := make([]int, n)
	for i := range idxArray {
		idxArray[i] = i
	}

	maxNodes := kdMaxNodes(n, leafSize)
	t := &ballTree{
		data:      data,
		n:         n,
		dims:      dims,
		leafSize:  leafSize,
		metric:    metric,
		idxArray:  idxArray,
		nodes:     make([]ballNode, maxNodes),
		centroids: make([]float64, maxNodes*dims),
	}
	if n > 0 {
		t.buildNode(0, 0, n)
	}
	return t
}

// buildNode recursively builds the tree for points in idxArray[start:end].
func (t *ballTree) buildNode(nodeID, start, end int) {
	for nodeID >= len(t.nodes) {
		t.nodes = append(t.nodes, ballNode{})
		t.centroids = append(t.centroids, make([]float64, t.dims)...)
	}

	centroid := t.computeCentroid(nodeID, start, end)
	var radius float64
	for i := start; i < end; i++ {
		pt := t.idxArray[i]
		radius = math.Max(radius, t.metric.Distance(centroid, t.data[pt*t.dims:(pt+1)*t.dims]))
	}

	count := end - start
	if count <= t.leafSize {
		t.nodes[nodeID] = ballNode{idxStart: start, idxEnd: end, isLeaf: true, radius: radius}
		return
	}

	splitDim := t.spreadDim(start, end)
	sub := t.idxArray[start:end]
	dims, data := t.dims, t.data
	sort.Slice(sub, func(i, j int) bool {
		return data[sub[i]*dims+splitDim] < data[sub[j]*dims+splitDim]
	})
	mid := start + count/2

	t.nodes[nodeID] = ballNode{idxStart: start, idxEnd: end, radius: radius}
	t.buildNode(2*nodeID+1, start, mid)
	t.buildNode(2*nodeID+2, mid, end)
}

// computeCentroid stores the mean of points idxArray[start:end] as the
// centroid of nodeID and returns it.
func (t *ballTree) computeCentroid(nodeID, start, end int) []float64 {
	c := t.centroids[nodeID*t.dims : (nodeID+1)*t.dims]
	for d := range c {
		c[d] = 0
	}
	for i := start; i < end; i++ {
		pt := t.idxArray[i]
		for d := range c {
			c[d] += t.data[pt*t.dims+d]
		}
	}
	count := float64(end - start)
	for d := range c {
		c[d] /= count
	}
	return c
}

// spreadDim returns the dimension with the greatest spread among points in
// idxArray[start:end].
func (t *ballTree) spreadDim(start, end int) int {
	best, bestSpread := 0, -1.0
	for d := 0; d < t.dims; d++ {
		lo, hi := math.Inf(1), math.Inf(-1)
		for i := start; i < end; i++ {
			v := t.data[t.idxArray[i]*t.dims+d]
			lo = math.Min(lo, v)
			hi = math.Max(hi, v)
		}
		if hi-lo > bestSpread {
			best, bestSpread = d, hi-lo
		}
	}
	return best
}

// queryKNN returns the k points nearest to query ordered by (distance,
// index), the same order brute force search produces.
func (t *ballTree) queryKNN(query []float64, k int) []knnItem {
	h := make(knnHeap, 0, k)
	t.knnSearch(0, query, k, &h)
	return h.sorted()
}

func (t *ballTree) knnSearch(nodeID int, query []float64, k int, h *knnHeap) {
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
	leftDist := t.minDistPoint(left, query)
	rightDist := t.minDistPoint(right, query)

	nearChild, farChild := left, right
	farDist := rightDist
	if rightDist < leftDist {
		nearChild, farChild = right, left
		farDist = leftDist
	}

	t.knnSearch(nearChild, query, k, h)

	// Ties at the k-th distance must still be visited, see kdTree.knnSearch.
	if h.Len() < k || farDist <= (*h)[0].dist*(1+1e-9)+1e-12 {
		t.knnSearch(farChild, query, k, h)
	}
}

// minDistPoint returns a lower bound on the distance between a point and
// any point in the given node.
func (t *ballTree) minDistPoint(node int, point []float64) float64 {
	if node >= len(t.nodes) {
		return math.Inf(1)
	}
	c := t.centroids[node*t.dims : (node+1)*t.dims]
	return math.Max(0, t.metric.Distance(point, c)-t.nodes[node].radius)
}
