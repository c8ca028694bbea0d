package fusion

import (
	"fmt"
	"math"
	"strings"
)

// SensorKind identifies the sensor that produced a Measurement.
type SensorKind int

const (
	// Laser is the linear position sensor: raw = (px, py).
	Laser SensorKind = iota + 1
	// Radar is the range/bearing/range-rate sensor: raw = (rho, phi, rhodot),
	// bearing in radians.
	Radar
)

func (k SensorKind) String() string {
	switch k {
	case Laser:
		return "laser"
	case Radar:
		return "radar"
	default:
		return fmt.Sprintf("sensor(%d)", int(k))
	}
}

// Dim returns the number of raw values carried by a measurement of this kind.
func (k SensorKind) Dim() int {
	switch k {
	case Laser:
		return 2
	case Radar:
		return 3
	default:
		return 0
	}
}

// ParseSensorKind accepts the single-letter log codes ("L", "R") as well as
// the full names.
func ParseSensorKind(s string) (SensorKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "l", "laser", "lidar":
		return Laser, nil
	case "r", "radar":
		return Radar, nil
	}
	return 0, fmt.Errorf("unknown sensor kind %q", s)
}

func (k SensorKind) MarshalText() ([]byte, error) {
	if k.Dim() == 0 {
		return nil, fmt.Errorf("unknown sensor kind %d", int(k))
	}
	return []byte(k.String()), nil
}

func (k *SensorKind) UnmarshalText(b []byte) error {
	v, err := ParseSensorKind(string(b))
	if err != nil {
		return err
	}
	*k = v
	return nil
}

// Measurement is a single sensor reading. It is consumed exactly once by
// FusionEKF.ProcessMeasurement.
type Measurement struct {
	Sensor          SensorKind `json:"sensor"`
	Raw             []float64  `json:"raw"`
	TimestampMicros int64      `json:"timestamp_us"`
}

// Validate checks the sensor kind, payload arity and that every value is
// finite.
func (m Measurement) Validate() error {
	dim := m.Sensor.Dim()
	if dim == 0 {
		return newFault(FaultInput, "validate", fmt.Errorf("%w: unknown sensor kind %d", ErrInvalidMeasurement, int(m.Sensor)))
	}
	if len(m.Raw) != dim {
		return newFault(FaultInput, "validate", fmt.Errorf("%w: %s expects %d values, got %d", ErrInvalidMeasurement, m.Sensor, dim, len(m.Raw)))
	}
	for i, v := range m.Raw {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return newFault(FaultInput, "validate", fmt.Errorf("%w: %s value %d is not finite", ErrInvalidMeasurement, m.Sensor, i))
		}
	}
	if m.Sensor == Radar && m.Raw[0] < 0 {
		return newFault(FaultInput, "validate", fmt.Errorf("%w: negative range %g", ErrInvalidMeasurement, m.Raw[0]))
	}
	return nil
}

// Cartesian returns the measured position in the Cartesian frame. Radar
// readings are converted from polar.
func (m Measurement) Cartesian() (px, py float64) {
	switch m.Sensor {
	case Laser:
		return m.Raw[0], m.Raw[1]
	case Radar:
		rho, phi := m.Raw[0], m.Raw[1]
		return rho * math.Cos(phi), rho * math.Sin(phi)
	}
	return 0, 0
}
