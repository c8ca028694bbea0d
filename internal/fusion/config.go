package fusion

import (
	"fmt"

	"github.com/banshee-data/sensorfusion/internal/config"
)

// Config holds the fixed tuning constants of a FusionEKF.
type Config struct {
	NoiseAX float64 // Acceleration noise variance along x (m²/s⁴)
	NoiseAY float64 // Acceleration noise variance along y (m²/s⁴)

	LaserNoisePX float64 // Laser px variance (m²)
	LaserNoisePY float64 // Laser py variance (m²)

	RadarNoiseRho    float64 // Radar range variance (m²)
	RadarNoisePhi    float64 // Radar bearing variance (rad²)
	RadarNoiseRhoDot float64 // Radar range-rate variance (m²/s²)

	InitialPositionVariance float64 // Prior variance on px, py
	InitialVelocityVariance float64 // Prior variance on vx, vy

	DegenerateRangeEpsilon float64 // px²+py² below which radar geometry faults

	Verbose bool // Log every cycle
}

// DefaultConfig returns the compiled defaults (identical to
// config/tuning.defaults.json).
func DefaultConfig() Config {
	return ConfigFromTuning(config.EmptyTuningConfig())
}

// ConfigFromTuning builds a Config from a loaded TuningConfig.
func ConfigFromTuning(cfg *config.TuningConfig) Config {
	return Config{
		NoiseAX:                 cfg.GetNoiseAX(),
		NoiseAY:                 cfg.GetNoiseAY(),
		LaserNoisePX:            cfg.GetLaserNoisePX(),
		LaserNoisePY:            cfg.GetLaserNoisePY(),
		RadarNoiseRho:           cfg.GetRadarNoiseRho(),
		RadarNoisePhi:           cfg.GetRadarNoisePhi(),
		RadarNoiseRhoDot:        cfg.GetRadarNoiseRhoDot(),
		InitialPositionVariance: cfg.GetInitialPositionVariance(),
		InitialVelocityVariance: cfg.GetInitialVelocityVariance(),
		DegenerateRangeEpsilon:  cfg.GetDegenerateRangeEpsilon(),
		Verbose:                 cfg.GetVerbose(),
	}
}

// Validate rejects configurations that would make R or the prior
// covariance degenerate.
func (c Config) Validate() error {
	for _, p := range []struct {
		name string
		v    float64
	}{
		{"laser px noise", c.LaserNoisePX},
		{"laser py noise", c.LaserNoisePY},
		{"radar rho noise", c.RadarNoiseRho},
		{"radar phi noise", c.RadarNoisePhi},
		{"radar rhodot noise", c.RadarNoiseRhoDot},
		{"initial position variance", c.InitialPositionVariance},
		{"initial velocity variance", c.InitialVelocityVariance},
		{"degenerate range epsilon", c.DegenerateRangeEpsilon},
	} {
		if !(p.v > 0) {
			return fmt.Errorf("%s must be positive, got %g", p.name, p.v)
		}
	}
	if !(c.NoiseAX >= 0) || !(c.NoiseAY >= 0) {
		return fmt.Errorf("acceleration noise must be non-negative, got %g/%g", c.NoiseAX, c.NoiseAY)
	}
	return nil
}
