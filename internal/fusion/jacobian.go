package fusion

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// DefaultDegenerateEpsilon is the px²+py² threshold below which the
// range/bearing mapping is treated as undefined.
const DefaultDegenerateEpsilon = 1e-4

// CalculateJacobian returns the 3×4 Jacobian of the polar observation
// (rho, phi, rhodot) with respect to the state (px, py, vx, vy), evaluated
// at x. It fails with ErrDegenerateGeometry when the object is at the
// sensor origin.
func CalculateJacobian(x mat.Vector) (*mat.Dense, error) {
	return jacobianWithEpsilon(x, DefaultDegenerateEpsilon)
}

func jacobianWithEpsilon(x mat.Vector, eps float64) (*mat.Dense, error) {
	if x.Len() != stateDim {
		panic(fmt.Sprintf("fusion: jacobian of state with length %d", x.Len()))
	}
	px, py := x.AtVec(0), x.AtVec(1)
	vx, vy := x.AtVec(2), x.AtVec(3)

	c1 := px*px + py*py
	if !(c1 >= eps) {
		return nil, newFault(FaultGeometry, "jacobian", fmt.Errorf("%w (px²+py²=%g)", ErrDegenerateGeometry, c1))
	}
	c2 := math.Sqrt(c1)
	c3 := c1 * c2

	//  ∂rho/∂x:    [ px/ρ             py/ρ             0     0    ]
	//  ∂phi/∂x:    [ -py/ρ²           px/ρ²            0     0    ]
	//  ∂rhodot/∂x: [ py(vx·py-vy·px)/ρ³  px(vy·px-vx·py)/ρ³  px/ρ  py/ρ ]
	hj := mat.NewDense(3, stateDim, []float64{
		px / c2, py / c2, 0, 0,
		-py / c1, px / c1, 0, 0,
		py * (vx*py - vy*px) / c3, px * (vy*px - vx*py) / c3, px / c2, py / c2,
	})
	if !isFiniteMat(hj) {
		return nil, newFault(FaultNumeric, "jacobian", ErrNonFinite)
	}
	return hj, nil
}

// RangeBearing evaluates the nonlinear observation h(x) = (rho, phi,
// rhodot) at x with the same degeneracy guard as the Jacobian.
func RangeBearing(x mat.Vector) (*mat.VecDense, error) {
	return rangeBearingWithEpsilon(x, DefaultDegenerateEpsilon)
}

func rangeBearingWithEpsilon(x mat.Vector, eps float64) (*mat.VecDense, error) {
	px, py := x.AtVec(0), x.AtVec(1)
	vx, vy := x.AtVec(2), x.AtVec(3)

	c1 := px*px + py*py
	if !(c1 >= eps) {
		return nil, newFault(FaultGeometry, "range-bearing", fmt.Errorf("%w (px²+py²=%g)", ErrDegenerateGeometry, c1))
	}
	rho := math.Sqrt(c1)
	return mat.NewVecDense(3, []float64{
		rho,
		math.Atan2(py, px),
		(px*vx + py*vy) / rho,
	}), nil
}
