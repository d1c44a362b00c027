package knnemd

import (
	"fmt"
	"math"
)

// Metric names accepted by Config.Metric.
const (
	MetricCosine      = "cosine"
	MetricCorrelation = "correlation"
	MetricEuclidean   = "euclidean"
	MetricManhattan   = "manhattan"
	MetricChebyshev   = "chebyshev"
	MetricMinkowski   = "minkowski"
)

// DistanceMetric provides distance computation with a reduced distance for
// tree pruning (e.g. squared Euclidean skips the sqrt).
type DistanceMetric interface {
	Distance(a, b []float64) float64
	ReducedDistance(a, b []float64) float64
	// DistToRdist converts a true distance into reduced-distance space.
	DistToRdist(d float64) float64
}

// EuclideanMetric computes the Euclidean (L2) distance.
// ReducedDistance returns squared Euclidean distance.
type EuclideanMetric struct{}

func (EuclideanMetric) Distance(a, b []float64) float64 {
	return math.Sqrt(euclideanSumOfSquares(a, b))
}

func (EuclideanMetric) ReducedDistance(a, b []float64) float64 {
	return euclideanSumOfSquares(a, b)
}

func (EuclideanMetric) DistToRdist(d float64) float64 { return d * d }

func euclideanSumOfSquares(a, b []float64) float64 {
	var sum float64
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return sum
}

// ManhattanMetric computes the Manhattan (L1 / city-block) distance.
type ManhattanMetric struct{}

func (ManhattanMetric) Distance(a, b []float64) float64 {
	var sum float64
	for i := range a {
		sum += math.Abs(a[i] - b[i])
	}
	return sum
}

func (m ManhattanMetric) ReducedDistance(a, b []float64) float64 { return m.Distance(a, b) }
func (ManhattanMetric) DistToRdist(d float64) float64             { return d }

// ChebyshevMetric computes the Chebyshev (L-infinity) distance.
type ChebyshevMetric struct{}

func (ChebyshevMetric) Distance(a, b []float64) float64 {
	var maxVal float64
	for i := range a {
		if v := math.Abs(a[i] - b[i]); v > maxVal {
			maxVal = v
		}
	}
	return maxVal
}

func (m ChebyshevMetric) ReducedDistance(a, b []float64) float64 { return m.Distance(a, b) }
func (ChebyshevMetric) DistToRdist(d float64) float64             { return d }

// MinkowskiMetric computes the Minkowski distance parameterized by P >= 1.
// ReducedDistance returns sum(|a[i]-b[i]|^P) without the final root.
type MinkowskiMetric struct {
	P float64
}

func (m MinkowskiMetric) Distance(a, b []float64) float64 {
	return math.Pow(m.rawSum(a, b), 1.0/m.P)
}

func (m MinkowskiMetric) ReducedDistance(a, b []float64) float64 {
	return m.rawSum(a, b)
}

func (m MinkowskiMetric) DistToRdist(d float64) float64 { return math.Pow(d, m.P) }

func (m MinkowskiMetric) rawSum(a, b []float64) float64 {
	var sum float64
	for i := range a {
		sum += math.Pow(math.Abs(a[i]-b[i]), m.P)
	}
	return sum
}

// rowTransform rewrites an embedding row in place before neighbor search.
type rowTransform func(row []float64)

// resolveMetric maps a metric name onto a tree-compatible metric plus the row
// transform that makes it equivalent. Cosine distance ranks neighbors exactly
// like Euclidean distance between L2-normalized rows (|a-b|² = 2 - 2cos), and
// correlation distance is cosine distance between row-centered rows.
func resolveMetric(name string, p float64) (DistanceMetric, rowTransform, error) {
	switch name {
	case MetricCosine:
		return EuclideanMetric{}, normalizeRow, nil
	case MetricCorrelation:
		return EuclideanMetric{}, func(row []float64) {
			centerRow(row)
			normalizeRow(row)
		}, nil
	case MetricEuclidean:
		return EuclideanMetric{}, nil, nil
	case MetricManhattan:
		return ManhattanMetric{}, nil, nil
	case MetricChebyshev:
		return ChebyshevMetric{}, nil, nil
	case MetricMinkowski:
		if p < 1 {
			return nil, nil, fmt.Errorf("knnemd: MinkowskiP must be >= 1, got %f", p)
		}
		return MinkowskiMetric{P: p}, nil, nil
	default:
		return nil, nil, fmt.Errorf("knnemd: unknown Metric %q", name)
	}
}

// normalizeRow scales row to unit L2 norm. All-zero rows are left as is.
func normalizeRow(row []float64) {
	var ss float64
	for _, v := range row {
		ss += v * v
	}
	if ss == 0 {
		return
	}
	inv := 1 / math.Sqrt(ss)
	for i := range row {
		row[i] *= inv
	}
}

func centerRow(row []float64) {
	if len(row) == 0 {
		return
	}
	var sum float64
	for _, v := range row {
		sum += v
	}
	mean := sum / float64(len(row))
	for i := range row {
		row[i] -= mean
	}
}

// kdTreeValidMetric reports whether the metric decomposes along coordinate
// axes, which KD-tree pruning requires.
func kdTreeValidMetric(m DistanceMetric) bool {
	switch m.(type) {
	case EuclideanMetric, ManhattanMetric, ChebyshevMetric, MinkowskiMetric:
		return true
	default:
		return false
	}
}
