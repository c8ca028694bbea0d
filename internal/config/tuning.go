package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// DefaultConfigPath is the path to the canonical tuning defaults file.
// This is the single source of truth for all default tuning values.
const DefaultConfigPath = "config/tuning.defaults.json"

// TuningConfig represents the root configuration for the estimator.
// The same JSON document is accepted at start-up (-config) and served back
// by the API so a run can be reproduced from its stored config.
type TuningConfig struct {
	// Process noise: white-acceleration variances (m²/s⁴)
	NoiseAX *float64 `json:"noise_ax,omitempty"`
	NoiseAY *float64 `json:"noise_ay,omitempty"`

	// Laser measurement noise variances (m²)
	LaserNoisePX *float64 `json:"laser_noise_px,omitempty"`
	LaserNoisePY *float64 `json:"laser_noise_py,omitempty"`

	// Radar measurement noise variances (m², rad², m²/s²)
	RadarNoiseRho    *float64 `json:"radar_noise_rho,omitempty"`
	RadarNoisePhi    *float64 `json:"radar_noise_phi,omitempty"`
	RadarNoiseRhoDot *float64 `json:"radar_noise_rhodot,omitempty"`

	// Initial covariance written on the first measurement
	InitialPositionVariance *float64 `json:"initial_position_variance,omitempty"`
	InitialVelocityVariance *float64 `json:"initial_velocity_variance,omitempty"`

	// px²+py² below which radar geometry is degenerate
	DegenerateRangeEpsilon *float64 `json:"degenerate_range_epsilon,omitempty"`

	// Per-cycle trace logging
	Verbose *bool `json:"verbose,omitempty"`
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrBool(v bool) *bool          { return &v }

// EmptyTuningConfig returns a TuningConfig with all fields set to nil.
// Use LoadTuningConfig to load actual values from the defaults file.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// DefaultTuningConfig returns a TuningConfig with every field populated
// from the compiled defaults. Useful when no defaults file is available.
func DefaultTuningConfig() *TuningConfig {
	empty := EmptyTuningConfig()
	return &TuningConfig{
		NoiseAX:                 ptrFloat64(empty.GetNoiseAX()),
		NoiseAY:                 ptrFloat64(empty.GetNoiseAY()),
		LaserNoisePX:            ptrFloat64(empty.GetLaserNoisePX()),
		LaserNoisePY:            ptrFloat64(empty.GetLaserNoisePY()),
		RadarNoiseRho:           ptrFloat64(empty.GetRadarNoiseRho()),
		RadarNoisePhi:           ptrFloat64(empty.GetRadarNoisePhi()),
		RadarNoiseRhoDot:        ptrFloat64(empty.GetRadarNoiseRhoDot()),
		InitialPositionVariance: ptrFloat64(empty.GetInitialPositionVariance()),
		InitialVelocityVariance: ptrFloat64(empty.GetInitialVelocityVariance()),
		DegenerateRangeEpsilon:  ptrFloat64(empty.GetDegenerateRangeEpsilon()),
		Verbose:                 ptrBool(empty.GetVerbose()),
	}
}

// LoadTuningConfig loads a TuningConfig from a JSON file.
// The file is validated to ensure it has a .json extension and is under the max file size.
// Fields omitted from the JSON file retain their default values, so
// partial configs are safe.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return ParseTuningConfig(data)
}

// ParseTuningConfig decodes and validates a JSON tuning document.
func ParseTuningConfig(data []byte) (*TuningConfig, error) {
	cfg := EmptyTuningConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical tuning defaults from DefaultConfigPath.
// It searches for the file in the current directory and common parent directories.
// Panics if the file cannot be loaded, intended for test setup.
func MustLoadDefaultConfig() *TuningConfig {
	candidates := []string{
		DefaultConfigPath,
		"../" + DefaultConfigPath,
		"../../" + DefaultConfigPath,       // from internal/config/
		"../../../" + DefaultConfigPath,    // from internal/fusion/replay/
		"../../../../" + DefaultConfigPath, // deeper packages
	}
	for _, path := range candidates {
		if cfg, err := LoadTuningConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configuration values are valid. Every noise
// term must be strictly positive: a zero variance makes R (or the prior)
// degenerate.
func (c *TuningConfig) Validate() error {
	positive := []struct {
		name string
		v    *float64
	}{
		{"laser_noise_px", c.LaserNoisePX},
		{"laser_noise_py", c.LaserNoisePY},
		{"radar_noise_rho", c.RadarNoiseRho},
		{"radar_noise_phi", c.RadarNoisePhi},
		{"radar_noise_rhodot", c.RadarNoiseRhoDot},
		{"initial_position_variance", c.InitialPositionVariance},
		{"initial_velocity_variance", c.InitialVelocityVariance},
		{"degenerate_range_epsilon", c.DegenerateRangeEpsilon},
	}
	for _, p := range positive {
		if p.v != nil && !(*p.v > 0) {
			return fmt.Errorf("%s must be positive, got %g", p.name, *p.v)
		}
	}

	if c.NoiseAX != nil && !(*c.NoiseAX >= 0) {
		return fmt.Errorf("noise_ax must be non-negative, got %g", *c.NoiseAX)
	}
	if c.NoiseAY != nil && !(*c.NoiseAY >= 0) {
		return fmt.Errorf("noise_ay must be non-negative, got %g", *c.NoiseAY)
	}

	return nil
}

// GetNoiseAX returns the noise_ax value or the default.
func (c *TuningConfig) GetNoiseAX() float64 {
	if c.NoiseAX == nil {
		return 9.0
	}
	return *c.NoiseAX
}

// GetNoiseAY returns the noise_ay value or the default.
func (c *TuningConfig) GetNoiseAY() float64 {
	if c.NoiseAY == nil {
		return 9.0
	}
	return *c.NoiseAY
}

// GetLaserNoisePX returns the laser_noise_px value or the default.
func (c *TuningConfig) GetLaserNoisePX() float64 {
	if c.LaserNoisePX == nil {
		return 0.0225
	}
	return *c.LaserNoisePX
}

// GetLaserNoisePY returns the laser_noise_py value or the default.
func (c *TuningConfig) GetLaserNoisePY() float64 {
	if c.LaserNoisePY == nil {
		return 0.0225
	}
	return *c.LaserNoisePY
}

// GetRadarNoiseRho returns the radar_noise_rho value or the default.
func (c *TuningConfig) GetRadarNoiseRho() float64 {
	if c.RadarNoiseRho == nil {
		return 0.09
	}
	return *c.RadarNoiseRho
}

// GetRadarNoisePhi returns the radar_noise_phi value or the default.
func (c *TuningConfig) GetRadarNoisePhi() float64 {
	if c.RadarNoisePhi == nil {
		return 0.0009
	}
	return *c.RadarNoisePhi
}

// GetRadarNoiseRhoDot returns the radar_noise_rhodot value or the default.
func (c *TuningConfig) GetRadarNoiseRhoDot() float64 {
	if c.RadarNoiseRhoDot == nil {
		return 0.09
	}
	return *c.RadarNoiseRhoDot
}

// GetInitialPositionVariance returns the initial_position_variance value or the default.
func (c *TuningConfig) GetInitialPositionVariance() float64 {
	if c.InitialPositionVariance == nil {
		return 1.0
	}
	return *c.InitialPositionVariance
}

// GetInitialVelocityVariance returns the initial_velocity_variance value or the default.
func (c *TuningConfig) GetInitialVelocityVariance() float64 {
	if c.InitialVelocityVariance == nil {
		return 1000.0
	}
	return *c.InitialVelocityVariance
}

// GetDegenerateRangeEpsilon returns the degenerate_range_epsilon value or the default.
func (c *TuningConfig) GetDegenerateRangeEpsilon() float64 {
	if c.DegenerateRangeEpsilon == nil {
		return 1e-4
	}
	return *c.DegenerateRangeEpsilon
}

// GetVerbose returns the verbose value or the default.
func (c *TuningConfig) GetVerbose() bool {
	if c.Verbose == nil {
		return false
	}
	return *c.Verbose
}
