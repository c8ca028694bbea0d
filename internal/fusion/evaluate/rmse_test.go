package evaluate

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func vec(v ...float64) mat.Vector { return mat.NewVecDense(len(v), v) }

func TestCalculateRMSE(t *testing.T) {
	t.Parallel()

	est := []mat.Vector{vec(1, 1, 0.2, 0.1), vec(2, 2, 0.3, 0.2), vec(3, 3, 0.4, 0.3)}
	gt := []mat.Vector{vec(1.1, 1.1, 0.3, 0.2), vec(2.1, 2.1, 0.4, 0.3), vec(3.1, 3.1, 0.5, 0.4)}

	rmse, err := CalculateRMSE(est, gt)
	require.NoError(t, err)
	for i := 0; i < 4; i++ {
		assert.InDelta(t, 0.1, rmse.AtVec(i), 1e-9, "component %d", i)
	}
}

func TestCalculateRMSEMixedErrors(t *testing.T) {
	t.Parallel()

	rmse, err := CalculateRMSE(
		[]mat.Vector{vec(3, 0), vec(0, 0)},
		[]mat.Vector{vec(0, 0), vec(4, 0)},
	)
	require.NoError(t, err)
	assert.InDelta(t, math.Sqrt(12.5), rmse.AtVec(0), 1e-12)
	assert.Zero(t, rmse.AtVec(1))
}

func TestCalculateRMSEErrors(t *testing.T) {
	t.Parallel()

	_, err := CalculateRMSE(nil, nil)
	assert.True(t, errors.Is(err, ErrEmpty))

	_, err = CalculateRMSE([]mat.Vector{vec(1, 2)}, nil)
	assert.True(t, errors.Is(err, ErrMismatch))

	_, err = CalculateRMSE([]mat.Vector{vec(1, 2), vec(1, 2, 3)}, []mat.Vector{vec(1, 2), vec(1, 2, 3)})
	assert.True(t, errors.Is(err, ErrMismatch))
}

func TestAccumulatorMatchesBatch(t *testing.T) {
	t.Parallel()

	est := [][4]float64{{1, 2, 3, 4}, {0.5, -1, 2, 0}, {7, 7, 7, 7}}
	gt := [][4]float64{{1.2, 1.9, 2.5, 4.4}, {0.4, -0.8, 2.2, 0.1}, {6.5, 7.1, 6.9, 7.3}}

	var acc Accumulator
	var ev, gv []mat.Vector
	for i := range est {
		acc.Add(est[i], gt[i])
		ev = append(ev, vec(est[i][:]...))
		gv = append(gv, vec(gt[i][:]...))
	}
	assert.Equal(t, 3, acc.Count())

	got, err := acc.RMSE()
	require.NoError(t, err)
	want, err := CalculateRMSE(ev, gv)
	require.NoError(t, err)
	for i := 0; i < 4; i++ {
		assert.InDelta(t, want.AtVec(i), got[i], 1e-12)
	}
}

func TestAccumulatorEmpty(t *testing.T) {
	t.Parallel()
	var acc Accumulator
	_, err := acc.RMSE()
	assert.True(t, errors.Is(err, ErrEmpty))
}
