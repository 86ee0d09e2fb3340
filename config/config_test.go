package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.FPSMax != 30 || cfg.Threshold != 0.85 {
		t.Errorf("cfg = %+v, want defaults", cfg)
	}
}

func TestLoadAcceptsDualNameKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sentinel.json")
	os.WriteFile(path, []byte(`{"target_fps": 45, "cooldown_s": 500}`), 0o644)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.FPSMax != 45 {
		t.Errorf("FPSMax = %d, want 45 (via target_fps alias)", cfg.FPSMax)
	}
	if cfg.ClickDelayMs != 500 {
		t.Errorf("ClickDelayMs = %d, want 500 (via cooldown_s alias)", cfg.ClickDelayMs)
	}
}

func TestValidateFloorsZeroIntervalToOneMillisecond(t *testing.T) {
	cfg := DefaultConfig()
	cfg.IntervalMs = 0
	cfg.Validate()
	if cfg.IntervalMs != 1 {
		t.Errorf("IntervalMs = %d, want floored to 1", cfg.IntervalMs)
	}
}

func TestValidateClampsFPSMaxRange(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FPSMax = 200
	cfg.Validate()
	if cfg.FPSMax != 60 {
		t.Errorf("FPSMax = %d, want clamped to 60", cfg.FPSMax)
	}
}

func TestSaveThenLoadRoundTripsCanonicalKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sentinel.json")
	cfg := DefaultConfig()
	cfg.TargetProcess = "game.exe"
	cfg.ROI = &ROI{Left: 1, Top: 2, Right: 10, Bottom: 20}

	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.TargetProcess != "game.exe" {
		t.Errorf("TargetProcess = %q, want game.exe", loaded.TargetProcess)
	}
	if loaded.ROI == nil || *loaded.ROI != *cfg.ROI {
		t.Errorf("ROI = %+v, want %+v", loaded.ROI, cfg.ROI)
	}
}

func TestParseROIAcceptsArrayForm(t *testing.T) {
	roi := parseROI([]any{1.0, 2.0, 3.0, 4.0})
	if roi == nil || *roi != (ROI{Left: 1, Top: 2, Right: 3, Bottom: 4}) {
		t.Errorf("parseROI(array) = %+v", roi)
	}
}

func TestParseROIAcceptsXYWHForm(t *testing.T) {
	roi := parseROI(map[string]any{"x": 5.0, "y": 5.0, "w": 10.0, "h": 20.0})
	if roi == nil || *roi != (ROI{Left: 5, Top: 5, Right: 15, Bottom: 25}) {
		t.Errorf("parseROI(xywh) = %+v", roi)
	}
}
