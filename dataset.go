package knnemd

import (
	"fmt"
	"sort"
)

// Annotation keys written by Select onto a Dataset.
const (
	KeyHighlyVariable = "highly_variable"
	KeyScore          = "emd_score"
	KeyScoreRaw       = "emd_score_raw"
	KeyScoreRandom    = "emd_score_random"
	KeyParams         = "knnemd_params"
)

// Dataset is an annotated count matrix: the counts, optional per-feature
// names, an optional precomputed neighbor graph and per-feature annotation
// slots that Select fills in.
type Dataset struct {
	// X is the cells × features count matrix.
	X CountMatrix

	// FeatureNames labels the columns of X. Optional; when set its length
	// must match the number of features.
	FeatureNames []string

	// Neighbors is a neighbor graph computed earlier over the same cells.
	Neighbors *PrecomputedGraph

	// Var holds per-feature numeric annotations.
	Var map[string][]float64

	// VarMask holds per-feature boolean annotations.
	VarMask map[string][]bool

	// Uns holds run records, keyed by KeyParams and then by run name.
	Uns map[string]map[string]RunRecord
}

// RunRecord is the configuration a selection actually ran with. Records of
// several runs on one dataset can be compared side by side.
type RunRecord struct {
	KNN                  int     `yaml:"knn"`
	NFeatures            int     `yaml:"n_features"`
	S                    float64 `yaml:"s"`
	NWindows             int     `yaml:"n_windows"`
	MinKNN               bool    `yaml:"min_knn"`
	DistConn             string  `yaml:"dist_conn"`
	Metric               string  `yaml:"metric"`
	NComps               int     `yaml:"n_comps"`
	RandomState          int64   `yaml:"random_state"`
	BackgroundCorrection bool    `yaml:"background_correction"`
	Cutoff               float64 `yaml:"cutoff"`
	KNNArray             [][]int `yaml:"knn_array"`
}

// checkNames verifies that FeatureNames, when set, labels every feature.
func (d *Dataset) checkNames() error {
	if d.FeatureNames == nil {
		return nil
	}
	_, features := d.X.Dims()
	if len(d.FeatureNames) != features {
		return fmt.Errorf("knnemd: dataset has %d feature names for %d features", len(d.FeatureNames), features)
	}
	return nil
}

// attach writes a successful result onto the dataset. A score_random slot
// left from an earlier run is removed when correction did not run.
func (d *Dataset) attach(res *Result, runName string) {
	if d.Var == nil {
		d.Var = make(map[string][]float64)
	}
	if d.VarMask == nil {
		d.VarMask = make(map[string][]bool)
	}
	if d.Uns == nil {
		d.Uns = make(map[string]map[string]RunRecord)
	}

	d.VarMask[KeyHighlyVariable] = res.Selected
	d.Var[KeyScore] = res.Score
	d.Var[KeyScoreRaw] = res.ScoreRaw
	if res.ScoreRandom != nil {
		d.Var[KeyScoreRandom] = res.ScoreRandom
	} else {
		delete(d.Var, KeyScoreRandom)
	}

	runs := d.Uns[KeyParams]
	if runs == nil {
		runs = make(map[string]RunRecord)
		d.Uns[KeyParams] = runs
	}
	runs[runName] = res.Record
}

// Runs returns the names of recorded selection runs in sorted order.
func (d *Dataset) Runs() []string {
	runs := d.Uns[KeyParams]
	names := make([]string, 0, len(runs))
	for name := range runs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Run returns the record of the named selection run.
func (d *Dataset) Run(name string) (RunRecord, bool) {
	rec, ok := d.Uns[KeyParams][name]
	return rec, ok
}

// HighlyVariable returns the names (or, without FeatureNames, the decimal
// indices) of the features marked highly variable by the last run.
func (d *Dataset) HighlyVariable() []string {
	var out []string
	for i, sel := range d.VarMask[KeyHighlyVariable] {
		if !sel {
			continue
		}
		if d.FeatureNames != nil {
			out = append(out, d.FeatureNames[i])
		} else {
			out = append(out, fmt.Sprint(i))
		}
	}
	return out
}
