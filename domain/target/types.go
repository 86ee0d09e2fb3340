// Package target implements the smart target-window locator: a
// multi-strategy resolver that maps a configured process identifier to a
// live window handle, plus an OS window-event hook that reacts to window
// lifecycle changes faster than polling alone would.
package target

import "time"

// EventKind discriminates finder transitions.
type EventKind int

const (
	EventHandleAcquired EventKind = iota
	EventHandleLost
)

// Event is a handle transition published on Finder.Events().
type Event struct {
	Kind        EventKind
	Handle      uintptr
	ProcessName string
	Title       string
}

// WindowInfo is a snapshot of a candidate top-level window.
type WindowInfo struct {
	Handle      uintptr
	Title       string
	ClassName   string
	ProcessPath string
	Visible     bool
}

// WindowSource lists the current top-level windows. The OS implementation
// enumerates via EnumWindows; tests substitute a fixed slice.
type WindowSource interface {
	TopLevelWindows() []WindowInfo
}

// InfoProvider answers per-handle queries the finder needs between
// enumerations.
type InfoProvider interface {
	// IsWindowValid reports whether hwnd is still a live, visible window.
	IsWindowValid(hwnd uintptr) bool
	// WindowArea returns the window's screen rectangle area in px², or 0
	// if the rectangle cannot be read.
	WindowArea(hwnd uintptr) int
	// Describe resolves a handle to its identity snapshot.
	Describe(hwnd uintptr) (WindowInfo, bool)
}

// HookEventKind mirrors the OS window-event ranges the finder subscribes
// to.
type HookEventKind int

const (
	HookForeground HookEventKind = iota
	HookCreateOrShow
	HookNameChange
)

// HookEvent is one OS window event delivered by an EventHook.
type HookEvent struct {
	Kind   HookEventKind
	Handle uintptr
}

// EventHook delivers OS window events to a callback. Install must retain
// whatever trampolines the OS calls into for the hook's whole lifetime.
type EventHook interface {
	Install(cb func(HookEvent)) error
	Uninstall()
}

// Policy bundles the finder's tunables.
type Policy struct {
	BaseInterval time.Duration
	MinInterval  time.Duration
	MaxInterval  time.Duration

	EnableRecovery   bool
	MaxRecoveryTries int
	RecoveryCooldown time.Duration

	// Strategies enables/disables each StrategyID by index.
	Strategies [5]bool
}

// DefaultPolicy mirrors the documented defaults: 1 s base poll widening
// to 30 s, 0.5 s floor, recovery on with 5 tries and a 10 s cooldown, all
// strategies enabled.
func DefaultPolicy() Policy {
	return Policy{
		BaseInterval:     time.Second,
		MinInterval:      500 * time.Millisecond,
		MaxInterval:      30 * time.Second,
		EnableRecovery:   true,
		MaxRecoveryTries: 5,
		RecoveryCooldown: 10 * time.Second,
		Strategies:       [5]bool{true, true, true, true, true},
	}
}
