package knnemd

import (
	"fmt"
	"math"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// Config controls feature selection.
// Start with [DefaultConfig] and override the fields you need.
type Config struct {
	// NFeatures selects exactly this many features instead of locating the
	// cutoff automatically. 0 means automatic. Must not exceed the number of
	// features. Default: 0.
	NFeatures int

	// KNN is the number of neighbors per cell, excluding the cell itself.
	// 0 means floor(0.5 * sqrt(cells)), at least 1. Ignored when a
	// precomputed graph is used. Default: 0.
	KNN int

	// S shifts the automatic cutoff along the sorted scores by S times the
	// number of features. Negative values select more features, positive
	// values fewer. Default: -0.01.
	S float64

	// BackgroundCorrection subtracts the scores of a column-randomized copy
	// of the matrix before detrending. Default: true.
	BackgroundCorrection bool

	// NComps is the number of principal components neighbors are searched
	// in. 0 means min(50, cells-1, features); negative skips PCA and
	// searches on log1p counts. Default: 0.
	NComps int

	// Metric is the neighbor distance: "cosine", "correlation", "euclidean",
	// "manhattan", "chebyshev" or "minkowski". Default: "cosine".
	Metric string

	// MinkowskiP is the exponent of the minkowski metric. Must be >= 1.
	// Default: 2.
	MinkowskiP float64

	// NWindows is the number of mean-expression windows used for
	// detrending. Must be >= 1. Default: 25.
	NWindows int

	// RandomState seeds the randomized null matrix. Default: 0.
	RandomState int64

	// NProcs bounds the number of goroutines used by the parallel stages.
	// 0 means one less than GOMAXPROCS, at least 1. Default: 0.
	NProcs int

	// NeighborSource chooses between a dataset's precomputed neighbor graph
	// and a freshly computed one. Default: "auto".
	NeighborSource NeighborSource

	// MinKNN is the smallest acceptable neighbor count. A precomputed graph
	// with fewer neighbors is replaced by a computed one, and a smaller KNN
	// is raised to it. 0 disables the check. Default: 0.
	MinKNN int

	// NeighborAlgorithm selects the nearest-neighbor search. "auto" uses the
	// KD-tree for embeddings of at most 16 dimensions, the ball tree for
	// wider embeddings of at least 2000 cells and brute force otherwise.
	// Default: "auto".
	NeighborAlgorithm NeighborAlgorithm

	// LeafSize is the maximum number of points in a KD-tree or ball tree leaf.
	// Default: 40.
	LeafSize int

	// FailOnDegenerate makes Select return a *DegenerateDistributionError
	// when no automatic cutoff exists (e.g. all scores equal). Otherwise no
	// feature is selected and a warning is logged. Default: false.
	FailOnDegenerate bool

	// RunName keys the run record written to a dataset. Default: "default".
	RunName string

	// Verbosity is the level of the default logger. Default: "info".
	Verbosity Verbosity

	// Logger replaces the default stderr console logger.
	Logger *zerolog.Logger
}

// Result contains the output of feature selection. Slices are indexed by
// feature.
type Result struct {
	// Selected marks the highly variable features.
	Selected []bool

	// Score is the detrended, background-corrected EMD.
	Score []float64

	// ScoreRaw is the EMD of the input matrix.
	ScoreRaw []float64

	// ScoreRandom is the EMD of the randomized matrix, nil when background
	// correction is disabled.
	ScoreRandom []float64

	// Cutoff is the score threshold. In automatic mode a feature is selected
	// iff its score exceeds it; in fixed mode it is the lowest selected score.
	Cutoff float64

	// Neighbors is the neighbor graph the scores were computed on.
	Neighbors *Neighbors

	// Record is the resolved configuration of the run.
	Record RunRecord
}

// Map returns the result keyed by selected, score, score_raw and, when
// background correction ran, score_random.
func (r *Result) Map() map[string]any {
	out := map[string]any{
		"selected":  r.Selected,
		"score":     r.Score,
		"score_raw": r.ScoreRaw,
	}
	if r.ScoreRandom != nil {
		out["score_random"] = r.ScoreRandom
	}
	return out
}

// NumSelected returns the number of selected features.
func (r *Result) NumSelected() int {
	n := 0
	for _, s := range r.Selected {
		if s {
			n++
		}
	}
	return n
}

// DefaultConfig returns a Config with reasonable defaults.
func DefaultConfig() Config {
	return Config{
		S:                    -0.01,
		BackgroundCorrection: true,
		Metric:               MetricCosine,
		MinkowskiP:           2,
		NWindows:             25,
		NeighborSource:       NeighborSourceAuto,
		NeighborAlgorithm:    NeighborAlgorithmAuto,
		LeafSize:             40,
		RunName:              "default",
		Verbosity:            VerbosityInfo,
	}
}

// applyDefaults fills in zero-valued config fields with their defaults.
// Booleans and S cannot be told apart from explicit zeros and are left as is.
func applyDefaults(cfg *Config) {
	if cfg.Metric == "" {
		cfg.Metric = MetricCosine
	}
	if cfg.MinkowskiP == 0 {
		cfg.MinkowskiP = 2
	}
	if cfg.NWindows == 0 {
		cfg.NWindows = 25
	}
	if cfg.NeighborSource == "" {
		cfg.NeighborSource = NeighborSourceAuto
	}
	if cfg.NeighborAlgorithm == "" {
		cfg.NeighborAlgorithm = NeighborAlgorithmAuto
	}
	if cfg.LeafSize == 0 {
		cfg.LeafSize = 40
	}
	if cfg.RunName == "" {
		cfg.RunName = "default"
	}
	if cfg.Verbosity == "" {
		cfg.Verbosity = VerbosityInfo
	}
}

// validateConfig checks that cfg fields are valid and returns a descriptive error if not.
func validateConfig(cfg *Config) error {
	if cfg.NFeatures < 0 {
		return fmt.Errorf("knnemd: NFeatures must be >= 0 (0 means automatic cutoff), got %d", cfg.NFeatures)
	}
	if cfg.KNN < 0 {
		return fmt.Errorf("knnemd: KNN must be >= 0 (0 means default), got %d", cfg.KNN)
	}
	if math.IsNaN(cfg.S) || math.IsInf(cfg.S, 0) {
		return fmt.Errorf("knnemd: S must be finite, got %f", cfg.S)
	}
	if _, _, err := resolveMetric(cfg.Metric, cfg.MinkowskiP); err != nil {
		return err
	}
	if cfg.NWindows < 1 {
		return fmt.Errorf("knnemd: NWindows must be >= 1, got %d", cfg.NWindows)
	}
	if cfg.NProcs < 0 {
		return fmt.Errorf("knnemd: NProcs must be >= 0 (0 means auto), got %d", cfg.NProcs)
	}
	switch cfg.NeighborSource {
	case NeighborSourceAuto, NeighborSourcePrecomputed, NeighborSourceCompute:
	default:
		return fmt.Errorf("knnemd: invalid NeighborSource %q", cfg.NeighborSource)
	}
	if cfg.MinKNN < 0 {
		return fmt.Errorf("knnemd: MinKNN must be >= 0, got %d", cfg.MinKNN)
	}
	switch cfg.NeighborAlgorithm {
	case NeighborAlgorithmAuto, NeighborAlgorithmBrute, NeighborAlgorithmKDTree, NeighborAlgorithmBallTree:
	default:
		return fmt.Errorf("knnemd: invalid NeighborAlgorithm %q", cfg.NeighborAlgorithm)
	}
	if cfg.LeafSize < 1 {
		return fmt.Errorf("knnemd: LeafSize must be >= 1, got %d", cfg.LeafSize)
	}
	if _, err := cfg.Verbosity.Level(); err != nil {
		return err
	}
	return nil
}

func (cfg *Config) logger() zerolog.Logger {
	if cfg.Logger != nil {
		return *cfg.Logger
	}
	return NewLogger(cfg.Verbosity, nil)
}

// Select scores every feature of the input and marks the highly variable
// ones. Dataset input additionally receives the scores, the selection mask
// and a run record.
//
// The input is validated before any neighbor search; an invalid matrix fails
// with *InvalidMatrixError. Failures of later stages abort the run and no
// partial result is returned or written.
func Select(in Input, cfg Config) (*Result, error) {
	m, graph, ds, err := in.resolve()
	if err != nil {
		return nil, err
	}
	applyDefaults(&cfg)
	if err := validateConfig(&cfg); err != nil {
		return nil, err
	}
	log := cfg.logger()

	if err := Validate(m); err != nil {
		return nil, err
	}
	if ds != nil {
		if err := ds.checkNames(); err != nil {
			return nil, err
		}
	}
	cells, features := m.Dims()
	if cfg.NFeatures > features {
		return nil, fmt.Errorf("knnemd: NFeatures %d exceeds the %d features of the matrix", cfg.NFeatures, features)
	}
	if info, _ := planNeighbors(cells, graph, &cfg); info.knn >= 1 {
		if err := checkSupport(m, info.knn); err != nil {
			return nil, err
		}
	}
	workers := resolveWorkers(cfg.NProcs, log)
	log.Info().Int("cells", cells).Int("features", features).Int("workers", workers).Msg("selecting highly variable features")

	start := time.Now()
	nb, info, err := resolveNeighbors(m, graph, &cfg, workers, log)
	if err != nil {
		return nil, errors.Wrap(err, "knnemd: neighbors")
	}
	log.Debug().Int("knn", info.knn).Str("dist_conn", info.distConn).Dur("elapsed", time.Since(start)).Msg("resolved neighbors")

	start = time.Now()
	raw, err := scoreFeatures(m, nb, workers)
	if err != nil {
		return nil, errors.Wrap(err, "knnemd: scores")
	}
	log.Debug().Dur("elapsed", time.Since(start)).Msg("computed feature scores")

	corrected := raw
	var null []float64
	if cfg.BackgroundCorrection {
		start = time.Now()
		null, err = nullScores(m, info.knn, &cfg, workers, log)
		if err != nil {
			return nil, errors.Wrap(err, "knnemd: null model")
		}
		corrected = make([]float64, features)
		for f := range corrected {
			corrected[f] = math.Max(raw[f]-null[f], 0)
		}
		log.Debug().Dur("elapsed", time.Since(start)).Msg("computed null model scores")
	}

	score := SubtractMedian(FeatureMeans(m), corrected, cfg.NWindows)

	var selected []bool
	var cutoff float64
	if cfg.NFeatures > 0 {
		selected, cutoff = SelectFixed(score, cfg.NFeatures)
	} else {
		cutoff, err = KneeCutoff(score, cfg.S)
		switch {
		case err == nil:
			selected = SelectAbove(score, cutoff)
		case cfg.FailOnDegenerate:
			return nil, err
		default:
			log.Warn().Err(err).Msg("no cutoff found, selecting no features")
			selected = make([]bool, features)
		}
	}

	res := &Result{
		Selected:    selected,
		Score:       score,
		ScoreRaw:    raw,
		ScoreRandom: null,
		Cutoff:      cutoff,
		Neighbors:   nb,
		Record: RunRecord{
			KNN:                  info.knn,
			NFeatures:            cfg.NFeatures,
			S:                    cfg.S,
			NWindows:             cfg.NWindows,
			MinKNN:               info.minKNNUsed,
			DistConn:             info.distConn,
			Metric:               cfg.Metric,
			NComps:               cfg.NComps,
			RandomState:          cfg.RandomState,
			BackgroundCorrection: cfg.BackgroundCorrection,
			Cutoff:               cutoff,
			KNNArray:             nb.Rows(),
		},
	}
	log.Info().Int("selected", res.NumSelected()).Float64("cutoff", cutoff).Msg("feature selection finished")

	if ds != nil {
		ds.attach(res, cfg.RunName)
	}
	return res, nil
}

// scoreFeatures aggregates neighborhoods and returns the EMD of every
// feature of m.
func scoreFeatures(m CountMatrix, nb *Neighbors, workers int) ([]float64, error) {
	sums, err := AggregateNeighborhood(m, nb, workers)
	if err != nil {
		return nil, err
	}
	return ComputeEMD(m, sums, nb.KNN(), workers)
}

// nullScores scores a column-randomized copy of m on neighbors freshly
// computed from that copy with the same knn.
func nullScores(m CountMatrix, knn int, cfg *Config, workers int, log zerolog.Logger) ([]float64, error) {
	rnd := RandomizeCounts(m, uint64(cfg.RandomState))
	nb, err := ComputeNeighbors(rnd, knn, cfg, workers, log)
	if err != nil {
		return nil, err
	}
	return scoreFeatures(rnd, nb, workers)
}
