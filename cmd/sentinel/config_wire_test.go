package main

import (
	"testing"

	"github.com/soocke/sentinel/config"
	"github.com/soocke/sentinel/domain/capture"
)

func TestTargetSpecFromConfigPrecedence(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.TargetProcess = "app.exe"
	cfg.TargetWindowTitle = "My App"
	cfg.TargetHwnd = 42
	cfg.UseMonitor = true
	cfg.MonitorIndex = 1

	if got := targetSpecFromConfig(cfg).Kind; got != capture.TargetMonitorIndex {
		t.Fatalf("expected monitor to take precedence, got %v", got)
	}

	cfg.UseMonitor = false
	if got := targetSpecFromConfig(cfg).Kind; got != capture.TargetHandle {
		t.Fatalf("expected handle to take precedence over title/process, got %v", got)
	}

	cfg.TargetHwnd = 0
	spec := targetSpecFromConfig(cfg)
	if spec.Kind != capture.TargetTitle || spec.Text != "My App" {
		t.Fatalf("expected title target, got %+v", spec)
	}

	cfg.TargetWindowTitle = ""
	spec = targetSpecFromConfig(cfg)
	if spec.Kind != capture.TargetProcessName || spec.Text != "app.exe" {
		t.Fatalf("expected process-name target, got %+v", spec)
	}
}

func TestFinderTargetFromConfigSkipsPinnedTargets(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.UseMonitor = true
	if _, _, ok := finderTargetFromConfig(cfg); ok {
		t.Fatal("expected no finder target when using a monitor")
	}

	cfg.UseMonitor = false
	cfg.TargetHwnd = 7
	if _, _, ok := finderTargetFromConfig(cfg); ok {
		t.Fatal("expected no finder target when a handle is pinned")
	}

	cfg.TargetHwnd = 0
	cfg.TargetProcess = "app.exe"
	cfg.ProcessPartialMatch = true
	text, partial, ok := finderTargetFromConfig(cfg)
	if !ok || text != "app.exe" || !partial {
		t.Fatalf("expected process-name finder target, got (%q, %v, %v)", text, partial, ok)
	}
}

func TestScannerConfigFromConfigCarriesROI(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.ROI = &config.ROI{Left: 1, Top: 2, Right: 3, Bottom: 4}
	scCfg := scannerConfigFromConfig(cfg)
	if scCfg.ROI == nil || *scCfg.ROI != (capture.ROI{Left: 1, Top: 2, Right: 3, Bottom: 4}) {
		t.Fatalf("expected ROI to carry through, got %+v", scCfg.ROI)
	}
}
