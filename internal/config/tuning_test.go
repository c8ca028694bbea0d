package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultTuningConfig(t *testing.T) {
	cfg := DefaultTuningConfig()

	// Test that defaults are set via pointers
	if cfg.NoiseAX == nil || *cfg.NoiseAX != 9.0 {
		t.Errorf("Expected NoiseAX 9, got %v", cfg.NoiseAX)
	}
	if cfg.RadarNoisePhi == nil || *cfg.RadarNoisePhi != 0.0009 {
		t.Errorf("Expected RadarNoisePhi 0.0009, got %v", cfg.RadarNoisePhi)
	}
	if cfg.Verbose == nil || *cfg.Verbose != false {
		t.Errorf("Expected Verbose false, got %v", cfg.Verbose)
	}

	// Test getter methods
	if cfg.GetLaserNoisePX() != 0.0225 {
		t.Errorf("GetLaserNoisePX() = %f, want 0.0225", cfg.GetLaserNoisePX())
	}
	if cfg.GetInitialVelocityVariance() != 1000 {
		t.Errorf("GetInitialVelocityVariance() = %f, want 1000", cfg.GetInitialVelocityVariance())
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestEmptyTuningConfigGetters(t *testing.T) {
	cfg := EmptyTuningConfig()
	def := DefaultTuningConfig()

	if cfg.GetNoiseAY() != *def.NoiseAY {
		t.Errorf("GetNoiseAY() = %f, want %f", cfg.GetNoiseAY(), *def.NoiseAY)
	}
	if cfg.GetRadarNoiseRho() != *def.RadarNoiseRho {
		t.Errorf("GetRadarNoiseRho() = %f, want %f", cfg.GetRadarNoiseRho(), *def.RadarNoiseRho)
	}
	if cfg.GetDegenerateRangeEpsilon() != 1e-4 {
		t.Errorf("GetDegenerateRangeEpsilon() = %g, want 1e-4", cfg.GetDegenerateRangeEpsilon())
	}
}

func TestLoadTuningConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "test_config.json")

	testJSON := `{
  "noise_ax": 5.0,
  "noise_ay": 4.0,
  "radar_noise_phi": 0.001,
  "verbose": true
}`
	if err := os.WriteFile(configPath, []byte(testJSON), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	cfg, err := LoadTuningConfig(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if got := cfg.GetNoiseAX(); got != 5.0 {
		t.Errorf("GetNoiseAX() = %f, want 5", got)
	}
	if got := cfg.GetNoiseAY(); got != 4.0 {
		t.Errorf("GetNoiseAY() = %f, want 4", got)
	}
	if got := cfg.GetRadarNoisePhi(); got != 0.001 {
		t.Errorf("GetRadarNoisePhi() = %f, want 0.001", got)
	}
	if !cfg.GetVerbose() {
		t.Error("GetVerbose() = false, want true")
	}

	// Unset fields fall back to defaults
	if got := cfg.GetLaserNoisePY(); got != 0.0225 {
		t.Errorf("GetLaserNoisePY() = %f, want default 0.0225", got)
	}
}

func TestLoadTuningConfigErrors(t *testing.T) {
	tmpDir := t.TempDir()

	tests := []struct {
		name     string
		filename string
		content  string
		wantErr  string
	}{
		{"wrong extension", "config.yaml", "{}", ".json extension"},
		{"invalid JSON", "bad.json", "{not json", "failed to parse config JSON"},
		{"zero laser noise", "zero.json", `{"laser_noise_px": 0}`, "laser_noise_px must be positive"},
		{"negative radar noise", "neg.json", `{"radar_noise_rho": -1}`, "radar_noise_rho must be positive"},
		{"negative process noise", "q.json", `{"noise_ax": -0.5}`, "noise_ax must be non-negative"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(tmpDir, tt.filename)
			if err := os.WriteFile(path, []byte(tt.content), 0644); err != nil {
				t.Fatalf("Failed to write test config: %v", err)
			}
			_, err := LoadTuningConfig(path)
			if err == nil {
				t.Fatalf("expected error containing %q, got nil", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %q, want substring %q", err.Error(), tt.wantErr)
			}
		})
	}

	t.Run("missing file", func(t *testing.T) {
		if _, err := LoadTuningConfig(filepath.Join(tmpDir, "missing.json")); err == nil {
			t.Fatal("expected error for missing file")
		}
	})

	t.Run("file too large", func(t *testing.T) {
		path := filepath.Join(tmpDir, "large.json")
		big := make([]byte, 1024*1024+1)
		for i := range big {
			big[i] = ' '
		}
		if err := os.WriteFile(path, big, 0644); err != nil {
			t.Fatalf("Failed to write test config: %v", err)
		}
		_, err := LoadTuningConfig(path)
		if err == nil || !strings.Contains(err.Error(), "too large") {
			t.Errorf("expected too large error, got %v", err)
		}
	})
}

func TestZeroProcessNoiseIsValid(t *testing.T) {
	cfg, err := ParseTuningConfig([]byte(`{"noise_ax": 0, "noise_ay": 0}`))
	if err != nil {
		t.Fatalf("ParseTuningConfig: %v", err)
	}
	if cfg.GetNoiseAX() != 0 || cfg.GetNoiseAY() != 0 {
		t.Errorf("expected zero process noise, got %f/%f", cfg.GetNoiseAX(), cfg.GetNoiseAY())
	}
}

func TestMustLoadDefaultConfig(t *testing.T) {
	cfg := MustLoadDefaultConfig()
	want := DefaultTuningConfig()

	if cfg.GetNoiseAX() != *want.NoiseAX {
		t.Errorf("defaults file noise_ax = %f, want %f", cfg.GetNoiseAX(), *want.NoiseAX)
	}
	if cfg.GetRadarNoiseRhoDot() != *want.RadarNoiseRhoDot {
		t.Errorf("defaults file radar_noise_rhodot = %f, want %f", cfg.GetRadarNoiseRhoDot(), *want.RadarNoiseRhoDot)
	}
	if cfg.GetInitialPositionVariance() != *want.InitialPositionVariance {
		t.Errorf("defaults file initial_position_variance = %f, want %f", cfg.GetInitialPositionVariance(), *want.InitialPositionVariance)
	}
}
