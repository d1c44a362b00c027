package knnemd

import (
	"testing"

	"github.com/james-bowman/sparse"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

// ringGraph connects every cell to its next k cells with decreasing weight.
func ringGraph(cells, k int) *sparse.CSR {
	var ri, ci []int
	var vals []float64
	for i := 0; i < cells; i++ {
		for d := 1; d <= k; d++ {
			ri = append(ri, i)
			ci = append(ci, (i+d)%cells)
			vals = append(vals, 1/float64(d))
		}
	}
	return sparse.NewCOO(cells, cells, ri, ci, vals).ToCSR()
}

func TestSelect_DatasetWriteBack(t *testing.T) {
	m := syntheticCounts(t, 50, 12, 41)
	names := make([]string, 12)
	for i := range names {
		names[i] = string(rune('a' + i))
	}
	ds := &Dataset{X: m, FeatureNames: names}
	res, err := Select(DatasetInput(ds), quietConfig())
	require.NoError(t, err)

	assert.Equal(t, res.Selected, ds.VarMask[KeyHighlyVariable])
	assert.Equal(t, res.Score, ds.Var[KeyScore])
	assert.Equal(t, res.ScoreRaw, ds.Var[KeyScoreRaw])
	assert.Equal(t, res.ScoreRandom, ds.Var[KeyScoreRandom])

	rec, ok := ds.Run("default")
	require.True(t, ok)
	assert.Equal(t, res.Record, rec)
	assert.Equal(t, distConnComputed, rec.DistConn)
	assert.False(t, rec.MinKNN)
	assert.Equal(t, -0.01, rec.S)
	assert.Equal(t, 25, rec.NWindows)

	var hv []string
	for i, sel := range res.Selected {
		if sel {
			hv = append(hv, names[i])
		}
	}
	assert.Equal(t, hv, ds.HighlyVariable())
}

func TestSelect_DatasetPrecomputedGraph(t *testing.T) {
	m := syntheticCounts(t, 40, 10, 42)
	ds := &Dataset{X: m, Neighbors: &PrecomputedGraph{Weights: ringGraph(40, 3), NNeighbors: 3}}
	res, err := Select(DatasetInput(ds), quietConfig())
	require.NoError(t, err)
	assert.Equal(t, 3, res.Record.KNN)
	assert.Equal(t, string(GraphConnectivities), res.Record.DistConn)
	assert.Equal(t, []int{5, 6, 7, 8}, res.Neighbors.Row(5))
	assert.Equal(t, []int{39, 0, 1, 2}, res.Neighbors.Row(39))
}

func TestSelect_DatasetMinKNNOverridesGraph(t *testing.T) {
	m := syntheticCounts(t, 40, 10, 43)
	ds := &Dataset{X: m, Neighbors: &PrecomputedGraph{Weights: ringGraph(40, 2), NNeighbors: 2}}
	cfg := quietConfig()
	cfg.MinKNN = 5
	res, err := Select(DatasetInput(ds), cfg)
	require.NoError(t, err)
	assert.Equal(t, 5, res.Record.KNN)
	assert.True(t, res.Record.MinKNN)
	assert.Equal(t, distConnComputed, res.Record.DistConn)
}

func TestSelect_DatasetRunsCompared(t *testing.T) {
	m := syntheticCounts(t, 40, 10, 44)
	ds := &Dataset{X: m}

	cfg := quietConfig()
	cfg.RunName = "knn4"
	cfg.KNN = 4
	_, err := Select(DatasetInput(ds), cfg)
	require.NoError(t, err)

	cfg.RunName = "knn8"
	cfg.KNN = 8
	cfg.BackgroundCorrection = false
	_, err = Select(DatasetInput(ds), cfg)
	require.NoError(t, err)

	assert.Equal(t, []string{"knn4", "knn8"}, ds.Runs())
	a, _ := ds.Run("knn4")
	b, _ := ds.Run("knn8")
	assert.Equal(t, 4, a.KNN)
	assert.Equal(t, 8, b.KNN)
	assert.Len(t, b.KNNArray[0], 9)
	// The last run did not correct, so its null scores are gone.
	assert.NotContains(t, ds.Var, KeyScoreRandom)
}

func TestSelect_DatasetFeatureNameMismatch(t *testing.T) {
	m := syntheticCounts(t, 20, 6, 45)
	ds := &Dataset{X: m, FeatureNames: []string{"only", "three", "names"}}
	_, err := Select(DatasetInput(ds), quietConfig())
	assert.Error(t, err)
	assert.Nil(t, ds.VarMask)
}

func TestDataset_HighlyVariableWithoutNames(t *testing.T) {
	ds := &Dataset{VarMask: map[string][]bool{KeyHighlyVariable: {false, true, true}}}
	assert.Equal(t, []string{"1", "2"}, ds.HighlyVariable())
}

func TestRunRecord_YAML(t *testing.T) {
	rec := RunRecord{
		KNN:                  11,
		S:                    -0.01,
		NWindows:             25,
		MinKNN:               true,
		DistConn:             "computed",
		Metric:               "cosine",
		BackgroundCorrection: true,
		KNNArray:             [][]int{{0, 1}, {1, 0}},
	}
	out, err := yaml.Marshal(rec)
	require.NoError(t, err)
	assert.Contains(t, string(out), "min_knn: true")
	assert.Contains(t, string(out), "dist_conn: computed")

	var back RunRecord
	require.NoError(t, yaml.Unmarshal(out, &back))
	assert.Equal(t, rec, back)
}
