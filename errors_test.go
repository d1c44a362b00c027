package knnemd

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestErrors_MatchSentinels(t *testing.T) {
	cases := []struct {
		err      error
		sentinel error
	}{
		{&InvalidMatrixError{Check: CheckNegative, Entries: [][2]int{{0, 1}}, Count: 1}, ErrInvalidMatrix},
		{&InsufficientCellsError{Requested: 10, Cells: 5}, ErrInsufficientCells},
		{&UnsupportedInputTypeError{Reason: "nothing"}, ErrUnsupportedInput},
		{&DegenerateDistributionError{Reason: "flat"}, ErrDegenerateDistribution},
	}
	for _, c := range cases {
		assert.ErrorIs(t, c.err, c.sentinel)
		wrapped := errors.Wrap(c.err, "knnemd: stage")
		assert.ErrorIs(t, wrapped, c.sentinel)
		for _, other := range cases {
			if other.sentinel != c.sentinel {
				assert.NotErrorIs(t, c.err, other.sentinel)
			}
		}
	}
}

func TestErrors_Messages(t *testing.T) {
	assert.Equal(t, "knnemd: knn=10 requires at least 11 cells, matrix has 5",
		(&InsufficientCellsError{Requested: 10, Cells: 5}).Error())
	msg := (&InvalidMatrixError{Check: CheckZeroFeature, Features: []int{3, 7}, Count: 2}).Error()
	assert.Contains(t, msg, "zero-feature")
	assert.Contains(t, msg, "[3 7]")
	msg = (&InvalidMatrixError{Check: CheckShape, Detail: "row 1 has 2 values"}).Error()
	assert.Contains(t, msg, "row 1 has 2 values")
}
