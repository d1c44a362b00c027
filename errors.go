package knnemd

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// Sentinel errors. Every typed error below matches exactly one of these
// through errors.Is.
var (
	ErrInvalidMatrix          = errors.New("knnemd: invalid count matrix")
	ErrInsufficientCells      = errors.New("knnemd: insufficient cells")
	ErrUnsupportedInput       = errors.New("knnemd: unsupported input type")
	ErrDegenerateDistribution = errors.New("knnemd: degenerate score distribution")
)

// maxReportedIndices bounds the offending indices kept by InvalidMatrixError.
const maxReportedIndices = 10

// Check names reported by InvalidMatrixError.
const (
	CheckShape       = "shape"
	CheckNonFinite   = "non-finite"
	CheckNegative    = "negative"
	CheckNonInteger  = "non-integer"
	CheckZeroFeature = "zero-feature"
	CheckRange       = "range"
)

// InvalidMatrixError reports the first validation check a count matrix failed.
type InvalidMatrixError struct {
	// Check is one of the Check* constants.
	Check string

	// Entries holds up to 10 offending (cell, feature) pairs in row-major
	// order. Set for the non-finite, negative and non-integer checks.
	Entries [][2]int

	// Features holds up to 10 offending feature indices in ascending order.
	// Set for the zero-feature and range checks.
	Features []int

	// Count is the total number of offending entries or features.
	Count int

	// Detail carries extra context for the shape and range checks.
	Detail string
}

func (e *InvalidMatrixError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "knnemd: invalid count matrix: %s check failed", e.Check)
	switch {
	case e.Detail != "":
		fmt.Fprintf(&b, ": %s", e.Detail)
	case len(e.Features) > 0:
		fmt.Fprintf(&b, ": %d feature(s) sum to zero, first %v; remove them before selection", e.Count, e.Features)
	case len(e.Entries) > 0:
		fmt.Fprintf(&b, ": %d entr(y/ies) affected, first (cell, feature) %v", e.Count, e.Entries)
	}
	return b.String()
}

func (e *InvalidMatrixError) Is(target error) bool { return target == ErrInvalidMatrix }

// InsufficientCellsError is returned when the neighborhood size (knn plus
// the cell itself) exceeds the number of cells.
type InsufficientCellsError struct {
	Requested int
	Cells     int
}

func (e *InsufficientCellsError) Error() string {
	return fmt.Sprintf("knnemd: knn=%d requires at least %d cells, matrix has %d", e.Requested, e.Requested+1, e.Cells)
}

func (e *InsufficientCellsError) Is(target error) bool { return target == ErrInsufficientCells }

// UnsupportedInputTypeError is returned when an Input carries neither a count
// matrix nor a dataset with a count matrix.
type UnsupportedInputTypeError struct {
	Reason string
}

func (e *UnsupportedInputTypeError) Error() string {
	return "knnemd: unsupported input: " + e.Reason
}

func (e *UnsupportedInputTypeError) Is(target error) bool { return target == ErrUnsupportedInput }

// DegenerateDistributionError is returned by automatic cutoff selection when
// Config.FailOnDegenerate is set and no knee can be located.
type DegenerateDistributionError struct {
	Reason string
}

func (e *DegenerateDistributionError) Error() string {
	return "knnemd: cannot determine cutoff: " + e.Reason
}

func (e *DegenerateDistributionError) Is(target error) bool {
	return target == ErrDegenerateDistribution
}
