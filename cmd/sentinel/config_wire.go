package main

import (
	"github.com/soocke/sentinel/config"
	"github.com/soocke/sentinel/domain/capture"
	"github.com/soocke/sentinel/domain/scanner"
)

// targetSpecFromConfig picks the capture target in this order: a monitor
// (when UseMonitor is set), an explicit handle, a window title, then a
// process identifier.
func targetSpecFromConfig(cfg *config.Config) capture.TargetSpec {
	switch {
	case cfg.UseMonitor:
		return capture.TargetSpec{Kind: capture.TargetMonitorIndex, MonitorIndex: cfg.MonitorIndex}
	case cfg.TargetHwnd != 0:
		return capture.TargetSpec{Kind: capture.TargetHandle, Handle: cfg.TargetHwnd}
	case cfg.TargetWindowTitle != "":
		return capture.TargetSpec{Kind: capture.TargetTitle, Text: cfg.TargetWindowTitle, PartialMatch: cfg.WindowTitlePartialMatch}
	default:
		return capture.TargetSpec{Kind: capture.TargetProcessName, Text: cfg.TargetProcess, PartialMatch: cfg.ProcessPartialMatch}
	}
}

// scannerConfigFromConfig builds the ScannerConfig the controller sends
// the scanner subprocess on Start/UpdateConfig.
func scannerConfigFromConfig(cfg *config.Config) scanner.ScannerConfig {
	var roi *capture.ROI
	if cfg.ROI != nil {
		roi = &capture.ROI{Left: cfg.ROI.Left, Top: cfg.ROI.Top, Right: cfg.ROI.Right, Bottom: cfg.ROI.Bottom}
	}
	return scanner.ScannerConfig{
		Target:                   targetSpecFromConfig(cfg),
		TemplateRefs:             cfg.TemplatePaths,
		ROI:                      roi,
		Threshold:                cfg.Threshold,
		Grayscale:                cfg.Grayscale,
		IntervalMs:               cfg.IntervalMs,
		FPSMax:                   cfg.FPSMax,
		IncludeCursor:            cfg.IncludeCursor,
		BorderRequired:           cfg.ScreenBorderRequired || cfg.WindowBorderRequired,
		RestoreMinimized:         cfg.RestoreMinimizedAfterCapture,
		ClickOffsetX:             cfg.ClickOffsetX,
		ClickOffsetY:             cfg.ClickOffsetY,
		ClickDelayMs:             cfg.ClickDelayMs,
		EnhancedWindowFinding:    cfg.EnhancedWindowFinding,
		VerifyWindowBeforeClick:  cfg.VerifyWindowBeforeClick,
		SendMouseMoveBeforeClick: cfg.SendMouseMoveBeforeClick,
		DebugMode:                cfg.DebugMode,
	}
}

// finderTargetFromConfig mirrors targetSpecFromConfig's precedence for the
// string identifier domain/target.Finder searches for: a monitor or a
// pinned handle has nothing for the finder to resolve.
func finderTargetFromConfig(cfg *config.Config) (text string, partial bool, ok bool) {
	switch {
	case cfg.UseMonitor, cfg.TargetHwnd != 0:
		return "", false, false
	case cfg.TargetWindowTitle != "":
		return cfg.TargetWindowTitle, cfg.WindowTitlePartialMatch, true
	default:
		return cfg.TargetProcess, cfg.ProcessPartialMatch, cfg.TargetProcess != ""
	}
}
