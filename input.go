package knnemd

// inputKind tags the payload carried by an Input.
type inputKind int

const (
	inputNone inputKind = iota
	inputMatrix
	inputDataset
)

// Input is what Select runs on: a bare count matrix or an annotated
// dataset. Build one with MatrixInput or DatasetInput; the zero Input is
// rejected.
type Input struct {
	kind    inputKind
	matrix  CountMatrix
	dataset *Dataset
}

// MatrixInput wraps a cells × features count matrix. Results are only
// returned, never written anywhere.
func MatrixInput(m CountMatrix) Input {
	return Input{kind: inputMatrix, matrix: m}
}

// DatasetInput wraps an annotated dataset. Its precomputed neighbor graph is
// used when the configuration allows it, and results are written back onto
// it.
func DatasetInput(d *Dataset) Input {
	return Input{kind: inputDataset, dataset: d}
}

// resolve returns the count matrix, the optional precomputed graph and the
// dataset to write results to (nil for matrix input).
func (in Input) resolve() (CountMatrix, *PrecomputedGraph, *Dataset, error) {
	switch in.kind {
	case inputMatrix:
		if isNilMatrix(in.matrix) {
			return nil, nil, nil, &UnsupportedInputTypeError{Reason: "matrix input holds a nil matrix"}
		}
		return in.matrix, nil, nil, nil
	case inputDataset:
		if in.dataset == nil {
			return nil, nil, nil, &UnsupportedInputTypeError{Reason: "dataset input holds a nil dataset"}
		}
		if isNilMatrix(in.dataset.X) {
			return nil, nil, nil, &UnsupportedInputTypeError{Reason: "dataset has no count matrix X"}
		}
		return in.dataset.X, in.dataset.Neighbors, in.dataset, nil
	default:
		return nil, nil, nil, &UnsupportedInputTypeError{Reason: "input is neither a count matrix nor a dataset; use MatrixInput or DatasetInput"}
	}
}

// isNilMatrix reports a nil interface or a nil built-in matrix behind it.
func isNilMatrix(m CountMatrix) bool {
	switch v := m.(type) {
	case nil:
		return true
	case *DenseCounts:
		return v == nil || v.m == nil
	case *SparseCounts:
		return v == nil || v.csr == nil
	}
	return false
}
