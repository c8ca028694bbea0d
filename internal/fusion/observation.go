package fusion

import (
	"gonum.org/v1/gonum/mat"
)

// ObservationModel maps the state into a sensor's measurement space. The
// Kalman correction algebra is shared; only the prediction, the
// linearisation and the residual differ between sensors.
type ObservationModel interface {
	// Dim is the length of the measurement vector.
	Dim() int
	// Predict returns the expected measurement for state x.
	Predict(x mat.Vector) (*mat.VecDense, error)
	// Jacobian returns H evaluated at x (constant for linear models).
	Jacobian(x mat.Vector) (*mat.Dense, error)
	// Residual returns z - zhat, normalised for the measurement space.
	Residual(z, zhat mat.Vector) *mat.VecDense
	// Noise is the measurement noise covariance R.
	Noise() mat.Symmetric
}

// LinearModel is z = H·x + v, v ~ N(0, R).
type LinearModel struct {
	H *mat.Dense
	R *mat.SymDense
}

// NewLaserModel builds the position-only model with independent noise
// variances on px and py.
func NewLaserModel(varPX, varPY float64) *LinearModel {
	return &LinearModel{
		H: mat.NewDense(2, stateDim, []float64{
			1, 0, 0, 0,
			0, 1, 0, 0,
		}),
		R: mat.NewSymDense(2, []float64{
			varPX, 0,
			0, varPY,
		}),
	}
}

func (m *LinearModel) Dim() int {
	r, _ := m.H.Dims()
	return r
}

func (m *LinearModel) Predict(x mat.Vector) (*mat.VecDense, error) {
	var zhat mat.VecDense
	zhat.MulVec(m.H, x)
	return &zhat, nil
}

func (m *LinearModel) Jacobian(mat.Vector) (*mat.Dense, error) {
	return m.H, nil
}

func (m *LinearModel) Residual(z, zhat mat.Vector) *mat.VecDense {
	var y mat.VecDense
	y.SubVec(z, zhat)
	return &y
}

func (m *LinearModel) Noise() mat.Symmetric { return m.R }

// RangeBearingModel is the radar model z = h(x) + v with
// h(x) = (rho, phi, rhodot). The bearing residual is wrapped into (-π, π].
type RangeBearingModel struct {
	R *mat.SymDense
	// Epsilon is the px²+py² degeneracy threshold; zero selects
	// DefaultDegenerateEpsilon.
	Epsilon float64
}

// NewRadarModel builds the range/bearing/range-rate model with independent
// noise variances on each component.
func NewRadarModel(varRho, varPhi, varRhoDot float64) *RangeBearingModel {
	return &RangeBearingModel{
		R: mat.NewSymDense(3, []float64{
			varRho, 0, 0,
			0, varPhi, 0,
			0, 0, varRhoDot,
		}),
	}
}

func (m *RangeBearingModel) eps() float64 {
	if m.Epsilon > 0 {
		return m.Epsilon
	}
	return DefaultDegenerateEpsilon
}

func (m *RangeBearingModel) Dim() int { return 3 }

func (m *RangeBearingModel) Predict(x mat.Vector) (*mat.VecDense, error) {
	return rangeBearingWithEpsilon(x, m.eps())
}

func (m *RangeBearingModel) Jacobian(x mat.Vector) (*mat.Dense, error) {
	return jacobianWithEpsilon(x, m.eps())
}

func (m *RangeBearingModel) Residual(z, zhat mat.Vector) *mat.VecDense {
	var y mat.VecDense
	y.SubVec(z, zhat)
	y.SetVec(1, NormalizeAngle(y.AtVec(1)))
	return &y
}

func (m *RangeBearingModel) Noise() mat.Symmetric { return m.R }
