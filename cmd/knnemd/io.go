package main

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/TrevorS/knnemd"
	"github.com/kshedden/gonpy"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// readCounts loads a cells × features count matrix and, when the format
// carries them, the feature names. transpose flips the orientation the
// format is read in; MatrixMarket files are features × cells by default.
func readCounts(path string, transpose bool) (knnemd.CountMatrix, []string, error) {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".npy":
		m, err := readNpy(path, transpose)
		return m, nil, err
	case ".tsv", ".txt":
		return readDelimited(path, '\t', transpose)
	case ".csv":
		return readDelimited(path, ',', transpose)
	case ".mtx":
		m, err := readMatrixMarket(path, !transpose)
		return m, nil, err
	default:
		return nil, nil, fmt.Errorf("unsupported input format %q, want .npy, .tsv, .csv or .mtx", ext)
	}
}

func readNpy(path string, transpose bool) (knnemd.CountMatrix, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	r, err := gonpy.NewReader(bufio.NewReader(f))
	if err != nil {
		return nil, errors.Wrapf(err, "reading %s", path)
	}
	if len(r.Shape) != 2 {
		return nil, fmt.Errorf("%s: expected a 2-d array, got shape %v", path, r.Shape)
	}
	rows, cols := r.Shape[0], r.Shape[1]

	var data []float64
	switch r.Dtype {
	case "f8":
		data, err = r.GetFloat64()
	case "f4":
		var v []float32
		if v, err = r.GetFloat32(); err == nil {
			data = widen(v)
		}
	case "i8":
		var v []int64
		if v, err = r.GetInt64(); err == nil {
			data = widen(v)
		}
	case "i4":
		var v []int32
		if v, err = r.GetInt32(); err == nil {
			data = widen(v)
		}
	default:
		return nil, fmt.Errorf("%s: unsupported dtype %q, want f8, f4, i8 or i4", path, r.Dtype)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "reading %s", path)
	}

	// Bring the data into row-major cells × features order.
	if r.ColumnMajor {
		data = transposeFlat(data, cols, rows)
	}
	if transpose {
		data = transposeFlat(data, rows, cols)
		rows, cols = cols, rows
	}
	return knnemd.NewDenseCounts(rows, cols, data)
}

func widen[T float32 | int64 | int32](v []T) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = float64(x)
	}
	return out
}

// transposeFlat returns the transpose of a row-major rows × cols array.
func transposeFlat(data []float64, rows, cols int) []float64 {
	out := make([]float64, len(data))
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			out[j*rows+i] = data[i*cols+j]
		}
	}
	return out
}

// readDelimited reads a table with a header row and a leading label column.
// Without transpose rows are cells and the header names the features; with
// transpose rows are features named by the label column.
func readDelimited(path string, comma rune, transpose bool) (knnemd.CountMatrix, []string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()
	r := csv.NewReader(bufio.NewReader(f))
	r.Comma = comma
	r.Comment = '#'

	header, err := r.Read()
	if err != nil {
		return nil, nil, errors.Wrapf(err, "reading header of %s", path)
	}
	width := len(header) - 1
	if width < 1 {
		return nil, nil, fmt.Errorf("%s: header has no value columns", path)
	}

	var labels []string
	var data []float64
	for line := 2; ; line++ {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, errors.Wrapf(err, "reading %s", path)
		}
		labels = append(labels, rec[0])
		for k, s := range rec[1:] {
			v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
			if err != nil {
				return nil, nil, fmt.Errorf("%s:%d: column %d: %v", path, line, k+2, err)
			}
			data = append(data, v)
		}
	}
	rows := len(labels)
	if !transpose {
		m, err := knnemd.NewDenseCounts(rows, width, data)
		return m, header[1:], err
	}
	m, err := knnemd.NewDenseCounts(width, rows, transposeFlat(data, rows, width))
	return m, labels, err
}

// mtxMaxPrealloc caps the entries reserved from a MatrixMarket size line.
const mtxMaxPrealloc = 1 << 20

// readMatrixMarket reads a coordinate MatrixMarket file. featuresByCells
// says the stored rows are features, the 10x convention. Every position may
// be listed once; duplicates are rejected rather than summed.
func readMatrixMarket(path string, featuresByCells bool) (knnemd.CountMatrix, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)

	if !sc.Scan() {
		return nil, fmt.Errorf("%s: empty file", path)
	}
	banner := strings.Fields(strings.ToLower(sc.Text()))
	if len(banner) < 5 || banner[0] != "%%matrixmarket" || banner[1] != "matrix" || banner[2] != "coordinate" {
		return nil, fmt.Errorf("%s: not a MatrixMarket coordinate matrix", path)
	}
	if field := banner[3]; field != "integer" && field != "real" {
		return nil, fmt.Errorf("%s: unsupported field %q", path, field)
	}
	if banner[4] != "general" {
		return nil, fmt.Errorf("%s: unsupported symmetry %q", path, banner[4])
	}

	var nRows, nCols, nnz int
	sized := false
	var ri, ci []int
	var vals []float64
	for line := 2; sc.Scan(); line++ {
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "%") {
			continue
		}
		if !sized {
			if _, err := fmt.Sscan(text, &nRows, &nCols, &nnz); err != nil {
				return nil, fmt.Errorf("%s:%d: bad size line: %v", path, line, err)
			}
			if nRows < 1 || nCols < 1 || nnz < 0 || float64(nnz) > float64(nRows)*float64(nCols) {
				return nil, fmt.Errorf("%s:%d: invalid size %d×%d with %d entries", path, line, nRows, nCols, nnz)
			}
			prealloc := min(nnz, mtxMaxPrealloc)
			ri = make([]int, 0, prealloc)
			ci = make([]int, 0, prealloc)
			vals = make([]float64, 0, prealloc)
			sized = true
			continue
		}
		var i, j int
		var v float64
		if _, err := fmt.Sscan(text, &i, &j, &v); err != nil {
			return nil, fmt.Errorf("%s:%d: bad entry: %v", path, line, err)
		}
		if i < 1 || i > nRows || j < 1 || j > nCols {
			return nil, fmt.Errorf("%s:%d: entry (%d, %d) outside %d×%d", path, line, i, j, nRows, nCols)
		}
		if len(vals) == nnz {
			return nil, fmt.Errorf("%s:%d: more entries than the %d declared", path, line, nnz)
		}
		if featuresByCells {
			i, j = j, i
		}
		ri = append(ri, i-1)
		ci = append(ci, j-1)
		vals = append(vals, v)
	}
	if err := sc.Err(); err != nil {
		return nil, errors.Wrapf(err, "reading %s", path)
	}
	if !sized {
		return nil, fmt.Errorf("%s: missing size line", path)
	}
	if len(vals) != nnz {
		return nil, fmt.Errorf("%s: size line declares %d entries, found %d", path, nnz, len(vals))
	}
	cells, features := nRows, nCols
	if featuresByCells {
		cells, features = nCols, nRows
	}
	if i, j, ok := firstDuplicate(ri, ci, features); ok {
		return nil, fmt.Errorf("%s: duplicate entry for cell %d, feature %d", path, i+1, j+1)
	}
	return knnemd.SparseCountsFromTriplets(cells, features, ri, ci, vals)
}

// firstDuplicate reports a (row, col) pair listed more than once.
func firstDuplicate(ri, ci []int, cols int) (int, int, bool) {
	keys := make([]int, len(ri))
	for k := range ri {
		keys[k] = ri[k]*cols + ci[k]
	}
	slices.Sort(keys)
	for k := 1; k < len(keys); k++ {
		if keys[k] == keys[k-1] {
			return keys[k] / cols, keys[k] % cols, true
		}
	}
	return 0, 0, false
}

// readFeatureNames reads the first tab-separated field of every line.
func readFeatureNames(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var names []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if text := strings.TrimSpace(sc.Text()); text != "" {
			names = append(names, strings.SplitN(text, "\t", 2)[0])
		}
	}
	return names, sc.Err()
}

// writeScores writes one TSV row per feature.
func writeScores(w io.Writer, ds *knnemd.Dataset, res *knnemd.Result) error {
	cw := csv.NewWriter(w)
	cw.Comma = '\t'
	if err := cw.Write([]string{"feature", "score", "score_raw", "score_random", "selected"}); err != nil {
		return err
	}
	format := func(v float64) string { return strconv.FormatFloat(v, 'g', -1, 64) }
	for f := range res.Score {
		name := strconv.Itoa(f)
		if ds.FeatureNames != nil {
			name = ds.FeatureNames[f]
		}
		random := ""
		if res.ScoreRandom != nil {
			random = format(res.ScoreRandom[f])
		}
		if err := cw.Write([]string{name, format(res.Score[f]), format(res.ScoreRaw[f]), random, strconv.FormatBool(res.Selected[f])}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// writeScoresFile writes the score table to path, reporting close errors.
func writeScoresFile(path string, ds *knnemd.Dataset, res *knnemd.Result) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := writeScores(f, ds, res); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func writeRecord(path string, rec knnemd.RunRecord) error {
	out, err := yaml.Marshal(rec)
	if err != nil {
		return err
	}
	return os.WriteFile(path, out, 0o644)
}

type nopCloser struct {
	io.Writer
}

func (nopCloser) Close() error { return nil }

// writeNeighbors stores the cells × (knn+1) neighbor indices as int64 .npy.
func writeNeighbors(path string, nb *knnemd.Neighbors) error {
	output, err := os.Create(path)
	if err != nil {
		return err
	}
	defer output.Close()
	bufw := bufio.NewWriter(output)
	npw, err := gonpy.NewWriter(nopCloser{bufw})
	if err != nil {
		return err
	}
	width := nb.KNN() + 1
	data := make([]int64, 0, nb.Cells()*width)
	for i := 0; i < nb.Cells(); i++ {
		for _, j := range nb.Row(i) {
			data = append(data, int64(j))
		}
	}
	npw.Shape = []int{nb.Cells(), width}
	if err := npw.WriteInt64(data); err != nil {
		return err
	}
	if err := bufw.Flush(); err != nil {
		return err
	}
	return output.Close()
}
