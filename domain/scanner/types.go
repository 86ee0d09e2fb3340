// Package scanner implements spec.md's C7 ScannerWorker (the in-subprocess
// scan loop) and C11's shared value types that cross the process boundary:
// ScannerConfig, ScannerStatus, ScannerCommand, WindowEvent, and MatchHit.
// The loop itself is a buffered typed-event channel with a select-driven
// dispatch and panic-recovery with stack capture, following
// scan_and_maybe_click's tick semantics.
package scanner

import (
	"time"

	"github.com/soocke/sentinel/domain/capture"
)

// ScannerConfig is an immutable snapshot handed to Start/UpdateConfig, per
// spec.md §3's ScannerConfig type.
type ScannerConfig struct {
	Target      capture.TargetSpec
	TemplateRefs []string
	ROI         *capture.ROI
	Threshold   float64
	Grayscale   bool
	IntervalMs  int
	FPSMax      int
	IncludeCursor    bool
	BorderRequired   bool
	RestoreMinimized bool
	ClickOffsetX, ClickOffsetY int
	ClickDelayMs               int
	EnhancedWindowFinding      bool
	VerifyWindowBeforeClick    bool
	SendMouseMoveBeforeClick   bool
	DebugMode                  bool
}

// ScannerStatus is a pure, throttled progress snapshot (spec.md §3).
type ScannerStatus struct {
	Running      bool
	PhaseText    string
	BackendLabel string
	Detail       string
	ScanCount    uint64
	ErrorMessage string
	Timestamp    time.Time
}

// ScannerCommand is the discriminated union ScannerWorker reads from its
// command channel: Start | Stop | UpdateConfig | Exit.
type ScannerCommand struct {
	Kind   CommandKind
	Config ScannerConfig
}

// CommandKind enumerates ScannerCommand's variants.
type CommandKind int

const (
	CommandStart CommandKind = iota
	CommandStop
	CommandUpdateConfig
	CommandExit
)

// WindowEvent is the discriminated union fed from an OS window-event hook
// into SmartTargetFinder's candidate evaluator (spec.md §4.9).
type WindowEvent struct {
	Kind WindowEventKind
	Hwnd uintptr
}

// WindowEventKind enumerates WindowEvent's variants.
type WindowEventKind int

const (
	EventForeground WindowEventKind = iota
	EventCreateOrShow
	EventNameChange
)

// MatchHit reuses capture.MatchHit as the cross-process hit payload;
// aliased here so callers working in terms of "scanner outputs" don't need
// to import domain/capture directly for this one type.
type MatchHit = capture.MatchHit
