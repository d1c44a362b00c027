package knnemd

import (
	"testing"

	"github.com/rs/zerolog"
)

// --- Neighbors ---

func benchComputeNeighbors(b *testing.B, cells int, algo NeighborAlgorithm) {
	b.Helper()
	m := syntheticCounts(b, cells, 200, 42)
	cfg := quietConfig()
	cfg.NeighborAlgorithm = algo
	applyDefaults(&cfg)
	knn := DefaultKNN(cells)
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := ComputeNeighbors(m, knn, &cfg, 1, zerolog.Nop()); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkComputeNeighbors_Brute_500(b *testing.B) {
	benchComputeNeighbors(b, 500, NeighborAlgorithmBrute)
}
func BenchmarkComputeNeighbors_KDTree_500(b *testing.B) {
	benchComputeNeighbors(b, 500, NeighborAlgorithmKDTree)
}
func BenchmarkComputeNeighbors_KDTree_2000(b *testing.B) {
	benchComputeNeighbors(b, 2000, NeighborAlgorithmKDTree)
}

// --- Convolution ---

func benchConvolvePower(b *testing.B, support, times int) {
	b.Helper()
	pmf := make([]float64, support)
	for i := range pmf {
		pmf[i] = 1 / float64(support)
	}
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		convolvePower(pmf, times)
	}
}

func BenchmarkConvolvePower_Small(b *testing.B) { benchConvolvePower(b, 4, 10) }
func BenchmarkConvolvePower_Large(b *testing.B) { benchConvolvePower(b, 50, 30) }

// --- EMD ---

func benchComputeEMD(b *testing.B, cells, features, workers int) {
	b.Helper()
	m := syntheticCounts(b, cells, features, 42)
	knn := DefaultKNN(cells)
	cfg := quietConfig()
	applyDefaults(&cfg)
	nb, err := ComputeNeighbors(m, knn, &cfg, workers, zerolog.Nop())
	if err != nil {
		b.Fatal(err)
	}
	agg, err := AggregateNeighborhood(m, nb, workers)
	if err != nil {
		b.Fatal(err)
	}
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := ComputeEMD(m, agg, knn, workers); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkComputeEMD_500x200(b *testing.B)          { benchComputeEMD(b, 500, 200, 1) }
func BenchmarkComputeEMD_500x200_Parallel(b *testing.B) { benchComputeEMD(b, 500, 200, 4) }

// --- Full Pipeline ---

func benchSelect(b *testing.B, cells, features int, correct bool) {
	b.Helper()
	m := syntheticCounts(b, cells, features, 42)
	cfg := quietConfig()
	cfg.BackgroundCorrection = correct
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := Select(MatrixInput(m), cfg); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkSelect_200x100(b *testing.B)              { benchSelect(b, 200, 100, true) }
func BenchmarkSelect_500x500(b *testing.B)              { benchSelect(b, 500, 500, true) }
func BenchmarkSelect_500x500_NoCorrection(b *testing.B) { benchSelect(b, 500, 500, false) }
