package fusion

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// KalmanFilter holds the estimator state: x, P and the transition model
// F, Q. It knows nothing about sensors; observation models are supplied
// per update.
//
// A KalmanFilter starts uninitialised and becomes ready on the first call
// to Init. Predict and the update methods panic when called before Init.
type KalmanFilter struct {
	x *mat.VecDense // state (px, py, vx, vy)
	P *mat.SymDense // state covariance
	F *mat.Dense    // state transition
	Q *mat.SymDense // process noise covariance

	ready bool
}

// NewKalmanFilter returns an uninitialised filter with a unit-step
// constant-velocity transition and zero process noise.
func NewKalmanFilter() *KalmanFilter {
	return &KalmanFilter{
		x: mat.NewVecDense(stateDim, nil),
		P: mat.NewSymDense(stateDim, nil),
		F: mat.NewDense(stateDim, stateDim, []float64{
			1, 0, 1, 0,
			0, 1, 0, 1,
			0, 0, 1, 0,
			0, 0, 0, 1,
		}),
		Q: mat.NewSymDense(stateDim, nil),
	}
}

// Ready reports whether Init has been called.
func (kf *KalmanFilter) Ready() bool { return kf.ready }

// Init writes the initial state and covariance and marks the filter ready.
func (kf *KalmanFilter) Init(x mat.Vector, P mat.Symmetric) {
	if x.Len() != stateDim || P.SymmetricDim() != stateDim {
		panic(fmt.Sprintf("fusion: init with state length %d and covariance dim %d", x.Len(), P.SymmetricDim()))
	}
	kf.x.CopyVec(x)
	kf.P = mat.NewSymDense(stateDim, nil)
	kf.P.CopySym(P)
	kf.ready = true
}

// SetTransitionDt rewrites the time-coupling terms of F for an elapsed
// time of dt seconds.
func (kf *KalmanFilter) SetTransitionDt(dt float64) {
	kf.F.Set(0, 2, dt)
	kf.F.Set(1, 3, dt)
}

// SetProcessNoise replaces Q.
func (kf *KalmanFilter) SetProcessNoise(q mat.Symmetric) {
	kf.Q = mat.NewSymDense(stateDim, nil)
	kf.Q.CopySym(q)
}

// ProcessNoise builds the discretised white-acceleration noise covariance
// for an elapsed time dt and acceleration variances noiseAX, noiseAY.
func ProcessNoise(dt, noiseAX, noiseAY float64) *mat.SymDense {
	dt2 := dt * dt
	dt3 := dt2 * dt
	dt4 := dt3 * dt
	return mat.NewSymDense(stateDim, []float64{
		dt4 / 4 * noiseAX, 0, dt3 / 2 * noiseAX, 0,
		0, dt4 / 4 * noiseAY, 0, dt3 / 2 * noiseAY,
		dt3 / 2 * noiseAX, 0, dt2 * noiseAX, 0,
		0, dt3 / 2 * noiseAY, 0, dt2 * noiseAY,
	})
}

func (kf *KalmanFilter) mustBeReady(op string) {
	if !kf.ready {
		panic("fusion: " + op + " called on uninitialised filter")
	}
}

// Predict propagates the state: x ← F·x, P ← F·P·Fᵀ + Q.
func (kf *KalmanFilter) Predict() {
	kf.mustBeReady("Predict")

	var x mat.VecDense
	x.MulVec(kf.F, kf.x)

	var fp, fpft mat.Dense
	fp.Mul(kf.F, kf.P)
	fpft.Mul(&fp, kf.F.T())
	fpft.Add(&fpft, kf.Q)

	kf.x = &x
	kf.P = symmetrize(&fpft)
}

// Update applies the linear Kalman correction for measurement z with
// observation matrix H and noise R.
func (kf *KalmanFilter) Update(z mat.Vector, H *mat.Dense, R *mat.SymDense) error {
	return kf.Correct(&LinearModel{H: H, R: R}, z)
}

// UpdateNonlinear applies the extended correction for a range/bearing
// measurement z = (rho, phi, rhodot) with noise R. H is the Jacobian at the
// pre-update state and the bearing residual is wrapped into (-π, π].
func (kf *KalmanFilter) UpdateNonlinear(z mat.Vector, R *mat.SymDense) error {
	return kf.Correct(&RangeBearingModel{R: R}, z)
}

// Correct runs the shared correction algebra for any observation model:
//
//	y = residual(z, h(x))
//	S = H·P·Hᵀ + R
//	K = P·Hᵀ·S⁻¹
//	x ← x + K·y
//	P ← (I − K·H)·P
//
// On error the state is left unchanged.
func (kf *KalmanFilter) Correct(model ObservationModel, z mat.Vector) error {
	kf.mustBeReady("Update")

	if z.Len() != model.Dim() {
		return newFault(FaultInput, "update", fmt.Errorf("%w: measurement length %d, model expects %d", ErrInvalidMeasurement, z.Len(), model.Dim()))
	}

	H, err := model.Jacobian(kf.x)
	if err != nil {
		return err
	}
	zhat, err := model.Predict(kf.x)
	if err != nil {
		return err
	}
	y := model.Residual(z, zhat)

	var pht mat.Dense
	pht.Mul(kf.P, H.T())

	var S mat.Dense
	S.Mul(H, &pht)
	S.Add(&S, model.Noise())

	var sInv mat.Dense
	if err := sInv.Inverse(&S); err != nil {
		return newFault(FaultSingular, "update", fmt.Errorf("%w: %v", ErrSingularCovariance, err))
	}
	if !isFiniteMat(&sInv) {
		return newFault(FaultSingular, "update", ErrSingularCovariance)
	}

	var K mat.Dense
	K.Mul(&pht, &sInv)

	var dx, x mat.VecDense
	dx.MulVec(&K, y)
	x.AddVec(kf.x, &dx)

	var kh, ikh, p mat.Dense
	kh.Mul(&K, H)
	ikh.Sub(identity(stateDim), &kh)
	p.Mul(&ikh, kf.P)
	P := symmetrize(&p)

	if !isFiniteVec(&x) || !isFiniteMat(P) {
		return newFault(FaultNumeric, "update", ErrNonFinite)
	}

	kf.x = &x
	kf.P = P
	return nil
}

// State returns a copy of the state vector.
func (kf *KalmanFilter) State() *mat.VecDense {
	return mat.VecDenseCopyOf(kf.x)
}

// Covariance returns a copy of the state covariance.
func (kf *KalmanFilter) Covariance() *mat.SymDense {
	c := mat.NewSymDense(stateDim, nil)
	c.CopySym(kf.P)
	return c
}

// Transition returns a copy of F.
func (kf *KalmanFilter) Transition() *mat.Dense {
	return mat.DenseCopyOf(kf.F)
}

// kalmanSnapshot is a value copy of the mutable filter fields, used to roll
// back a faulted cycle.
type kalmanSnapshot struct {
	x     *mat.VecDense
	P     *mat.SymDense
	F     *mat.Dense
	Q     *mat.SymDense
	ready bool
}

func (kf *KalmanFilter) snapshot() kalmanSnapshot {
	q := mat.NewSymDense(stateDim, nil)
	q.CopySym(kf.Q)
	return kalmanSnapshot{
		x:     kf.State(),
		P:     kf.Covariance(),
		F:     kf.Transition(),
		Q:     q,
		ready: kf.ready,
	}
}

func (kf *KalmanFilter) restore(s kalmanSnapshot) {
	kf.x = s.x
	kf.P = s.P
	kf.F = s.F
	kf.Q = s.Q
	kf.ready = s.ready
}
