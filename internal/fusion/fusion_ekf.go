package fusion

import (
	"fmt"
	"math"
	"sync"

	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/sensorfusion/internal/monitoring"
)

var logf = monitoring.Tagged("fusion")

// DebugCollector captures filter internals for visualisation (optional).
type DebugCollector interface {
	IsEnabled() bool
	RecordPrediction(timestampMicros int64, x, y, vx, vy float64)
	RecordInnovation(timestampMicros int64, sensor SensorKind, residual []float64)
}

// Estimate is the filter output after a processed measurement.
type Estimate struct {
	TimestampMicros int64       `json:"timestamp_us"`
	Sensor          SensorKind  `json:"sensor"`     // sensor of the last processed measurement
	State           [4]float64  `json:"state"`      // px, py, vx, vy
	Covariance      [16]float64 `json:"covariance"` // 4x4, row-major
}

// Speed returns the velocity magnitude (m/s).
func (e Estimate) Speed() float64 {
	return math.Hypot(e.State[2], e.State[3])
}

// Heading returns the velocity direction (radians).
func (e Estimate) Heading() float64 {
	return math.Atan2(e.State[3], e.State[2])
}

// FusionEKF sequences initialisation, prediction and the per-sensor update
// of a single KalmanFilter. It owns the sensor noise models; each instance
// is an independent track.
//
// ProcessMeasurement and the accessors are serialised by an internal
// mutex, so a FusionEKF may be shared between goroutines. Measurements must
// still arrive in non-decreasing timestamp order.
type FusionEKF struct {
	cfg Config

	ekf   *KalmanFilter
	laser *LinearModel
	radar *RangeBearingModel

	previousTimestamp int64
	lastSensor        SensorKind
	processed         int

	// DebugCollector captures algorithm internals for visualisation (optional)
	DebugCollector DebugCollector

	mu sync.Mutex
}

// NewFusionEKF creates an uninitialised orchestrator.
func NewFusionEKF(cfg Config) (*FusionEKF, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid fusion config: %w", err)
	}
	radar := NewRadarModel(cfg.RadarNoiseRho, cfg.RadarNoisePhi, cfg.RadarNoiseRhoDot)
	radar.Epsilon = cfg.DegenerateRangeEpsilon
	return &FusionEKF{
		cfg:   cfg,
		ekf:   NewKalmanFilter(),
		laser: NewLaserModel(cfg.LaserNoisePX, cfg.LaserNoisePY),
		radar: radar,
	}, nil
}

// Config returns the tuning constants.
func (f *FusionEKF) Config() Config { return f.cfg }

// Initialized reports whether the first measurement has been consumed.
func (f *FusionEKF) Initialized() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ekf.Ready()
}

// Processed returns the number of measurements consumed without fault.
func (f *FusionEKF) Processed() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.processed
}

// Reset discards the estimate; the next measurement re-initialises.
func (f *FusionEKF) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ekf = NewKalmanFilter()
	f.previousTimestamp = 0
	f.lastSensor = 0
	f.processed = 0
}

// ProcessMeasurement consumes one measurement. The first measurement
// initialises the state directly from the reading; later ones run
// predict followed by the sensor-specific update. A faulted cycle leaves
// the state, covariance and previous timestamp exactly as they were.
func (f *FusionEKF) ProcessMeasurement(m Measurement) error {
	if err := m.Validate(); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.ekf.Ready() {
		f.initialise(m)
		f.processed++
		return nil
	}

	if m.TimestampMicros < f.previousTimestamp {
		return newFault(FaultProtocol, "process", fmt.Errorf("%w: %d < %d", ErrOutOfOrder, m.TimestampMicros, f.previousTimestamp))
	}

	snap := f.ekf.snapshot()
	prevTimestamp := f.previousTimestamp

	if err := f.step(m); err != nil {
		f.ekf.restore(snap)
		f.previousTimestamp = prevTimestamp
		logf("%s measurement at t=%d rejected: %v", m.Sensor, m.TimestampMicros, err)
		return err
	}

	f.lastSensor = m.Sensor
	f.processed++
	if f.cfg.Verbose {
		x := f.ekf.x
		logf("t=%d %s x=[%.4f %.4f %.4f %.4f]", m.TimestampMicros, m.Sensor,
			x.AtVec(0), x.AtVec(1), x.AtVec(2), x.AtVec(3))
	}
	return nil
}

// initialise seeds the state from the first reading.
//
// Radar velocity is seeded as rhodot along the bearing, i.e. the object is
// assumed to move purely radially. The true velocity generally has a
// tangential component, so this is only an approximation; the large
// initial velocity variance lets later updates correct it.
func (f *FusionEKF) initialise(m Measurement) {
	x := mat.NewVecDense(stateDim, nil)
	switch m.Sensor {
	case Laser:
		x.SetVec(0, m.Raw[0])
		x.SetVec(1, m.Raw[1])
	case Radar:
		rho, phi, rhoDot := m.Raw[0], m.Raw[1], m.Raw[2]
		cos, sin := math.Cos(phi), math.Sin(phi)
		x.SetVec(0, rho*cos)
		x.SetVec(1, rho*sin)
		x.SetVec(2, rhoDot*cos)
		x.SetVec(3, rhoDot*sin)
	}

	pos, vel := f.cfg.InitialPositionVariance, f.cfg.InitialVelocityVariance
	P := mat.NewSymDense(stateDim, []float64{
		pos, 0, 0, 0,
		0, pos, 0, 0,
		0, 0, vel, 0,
		0, 0, 0, vel,
	})

	f.ekf.Init(x, P)
	f.previousTimestamp = m.TimestampMicros
	f.lastSensor = m.Sensor
	if f.cfg.Verbose {
		logf("initialised from %s at t=%d", m.Sensor, m.TimestampMicros)
	}
}

func (f *FusionEKF) step(m Measurement) error {
	dt := float64(m.TimestampMicros-f.previousTimestamp) / 1e6
	f.previousTimestamp = m.TimestampMicros

	f.ekf.SetTransitionDt(dt)
	f.ekf.SetProcessNoise(ProcessNoise(dt, f.cfg.NoiseAX, f.cfg.NoiseAY))
	f.ekf.Predict()

	if f.DebugCollector != nil && f.DebugCollector.IsEnabled() {
		x := f.ekf.x
		f.DebugCollector.RecordPrediction(m.TimestampMicros, x.AtVec(0), x.AtVec(1), x.AtVec(2), x.AtVec(3))
	}

	z := mat.NewVecDense(len(m.Raw), append([]float64(nil), m.Raw...))

	var model ObservationModel
	switch m.Sensor {
	case Laser:
		model = f.laser
	case Radar:
		model = f.radar
	}

	if f.DebugCollector != nil && f.DebugCollector.IsEnabled() {
		if zhat, err := model.Predict(f.ekf.x); err == nil {
			y := model.Residual(z, zhat)
			f.DebugCollector.RecordInnovation(m.TimestampMicros, m.Sensor, y.RawVector().Data)
		}
	}

	return f.ekf.Correct(model, z)
}

// Estimate returns the current estimate. ok is false until the first
// measurement has been processed.
func (f *FusionEKF) Estimate() (est Estimate, ok bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.ekf.Ready() {
		return Estimate{}, false
	}
	est.TimestampMicros = f.previousTimestamp
	est.Sensor = f.lastSensor
	for i := 0; i < stateDim; i++ {
		est.State[i] = f.ekf.x.AtVec(i)
		for j := 0; j < stateDim; j++ {
			est.Covariance[i*stateDim+j] = f.ekf.P.At(i, j)
		}
	}
	return est, true
}
