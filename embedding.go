package knnemd

import (
	"math"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// defaultPCAComponents is the embedding size used when Config.NComps is 0.
const defaultPCAComponents = 50

// embed returns the cells × dims matrix neighbor search runs on: log1p
// counts projected onto their first nComps principal components. A negative
// nComps skips PCA, 0 picks min(50, cells-1, features).
func embed(m CountMatrix, nComps int, log zerolog.Logger) (*mat.Dense, error) {
	x := toDense(m)
	x.Apply(func(_, _ int, v float64) float64 { return math.Log1p(v) }, x)
	if nComps < 0 {
		return x, nil
	}

	cells, features := x.Dims()
	maxComps := min(cells, features)
	if nComps == 0 {
		nComps = max(1, min(defaultPCAComponents, cells-1, features))
	}
	if nComps > maxComps {
		log.Warn().Int("requested", nComps).Int("using", maxComps).Msg("NComps exceeds matrix rank bound")
		nComps = maxComps
	}

	var pc stat.PC
	if ok := pc.PrincipalComponents(x, nil); !ok {
		return nil, errors.New("knnemd: principal components analysis failed")
	}
	var vecs mat.Dense
	pc.VectorsTo(&vecs)

	col := make([]float64, cells)
	for j := 0; j < features; j++ {
		mat.Col(col, j, x)
		floats.AddConst(-stat.Mean(col, nil), col)
		x.SetCol(j, col)
	}

	var proj mat.Dense
	proj.Mul(x, vecs.Slice(0, features, 0, nComps))
	log.Debug().Int("cells", cells).Int("features", features).Int("components", nComps).Msg("computed PCA embedding")
	return &proj, nil
}
