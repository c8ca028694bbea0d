// Package evaluate scores estimator output against ground truth.
package evaluate

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"gonum.org/v1/gonum/mat"
)

var (
	ErrEmpty    = errors.New("evaluate: no samples")
	ErrMismatch = errors.New("evaluate: estimation and ground truth sizes differ")
)

// CalculateRMSE returns the per-component root-mean-square error between
// paired estimation and ground-truth vectors.
func CalculateRMSE(estimations, groundTruth []mat.Vector) (*mat.VecDense, error) {
	if len(estimations) == 0 {
		return nil, ErrEmpty
	}
	if len(estimations) != len(groundTruth) {
		return nil, fmt.Errorf("%w: %d vs %d", ErrMismatch, len(estimations), len(groundTruth))
	}

	n := estimations[0].Len()
	sum := mat.NewVecDense(n, nil)
	for i := range estimations {
		if estimations[i].Len() != n || groundTruth[i].Len() != n {
			return nil, fmt.Errorf("%w: sample %d has length %d/%d, want %d",
				ErrMismatch, i, estimations[i].Len(), groundTruth[i].Len(), n)
		}
		var d, sq mat.VecDense
		d.SubVec(estimations[i], groundTruth[i])
		sq.MulElemVec(&d, &d)
		sum.AddVec(sum, &sq)
	}

	sum.ScaleVec(1/float64(len(estimations)), sum)
	for i := 0; i < n; i++ {
		sum.SetVec(i, math.Sqrt(sum.AtVec(i)))
	}
	return sum, nil
}

// Accumulator collects (estimate, ground truth) state pairs incrementally.
// It is safe for concurrent use.
type Accumulator struct {
	mu    sync.Mutex
	sumSq [4]float64
	n     int
}

// Add records one pair of (px, py, vx, vy) states.
func (a *Accumulator) Add(estimate, groundTruth [4]float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for i := range estimate {
		d := estimate[i] - groundTruth[i]
		a.sumSq[i] += d * d
	}
	a.n++
}

// Count returns the number of pairs recorded.
func (a *Accumulator) Count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.n
}

// RMSE returns the per-component error over every pair seen so far.
func (a *Accumulator) RMSE() ([4]float64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out [4]float64
	if a.n == 0 {
		return out, ErrEmpty
	}
	for i, s := range a.sumSq {
		out[i] = math.Sqrt(s / float64(a.n))
	}
	return out, nil
}
