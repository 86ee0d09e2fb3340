//go:build windows

// Package action implements spec.md's C6 ClickEmitter: synthetic,
// no-focus-stealing mouse clicks delivered via PostMessage, matching
// win_clicker.py's exact semantics (deep child resolution, lparam
// packing, verify-window-before-click), built on internal/winapi's
// golang.org/x/sys/windows lazy DLLs.
package action

import (
	"fmt"

	"github.com/soocke/sentinel/internal/winapi"
)

const maxDeepChildDepth = 10

// Emitter posts synthetic left-button clicks without stealing focus.
// Stateless: every method is safe for concurrent use.
type Emitter struct{}

// NewEmitter returns a ready-to-use Emitter.
func NewEmitter() *Emitter { return &Emitter{} }

// ClickScreen resolves the window under screen coordinates (sx, sy) and
// posts a no-focus-stealing left click there, per spec.md §4.6.
func (e *Emitter) ClickScreen(sx, sy int, opts ClickOptions) error {
	if !winapi.PointInAnyMonitor(sx, sy) {
		return fmt.Errorf("action: screen point (%d,%d) is outside every monitor", sx, sy)
	}

	var target uintptr
	if opts.EnhancedFinding {
		target = resolveEnhanced(sx, sy)
	} else {
		target = deepChildFromPoint(0, sx, sy, maxDeepChildDepth)
	}
	if target == 0 {
		return fmt.Errorf("action: no window found at screen point (%d,%d)", sx, sy)
	}

	if opts.VerifyWindow {
		if err := verifyWindowState(target); err != nil {
			return err
		}
	}

	pt := winapi.ScreenToClient(target, winapi.POINT{X: int32(sx), Y: int32(sy)})
	return postClick(target, int(pt.X), int(pt.Y), opts.SendMouseMove)
}

// ClickClient posts a no-focus-stealing left click at client coordinates
// (cx, cy) within hwnd, optionally resolving the deepest qualifying child
// window first, per spec.md §4.6.
func (e *Emitter) ClickClient(hwnd uintptr, cx, cy int, opts ClickOptions) error {
	if !winapi.IsWindow(hwnd) {
		return fmt.Errorf("action: handle %d is not a window", hwnd)
	}

	target := hwnd
	tx, ty := cx, cy
	if opts.FindDeepChild {
		screenPt := winapi.ClientToScreen(hwnd, winapi.POINT{X: int32(cx), Y: int32(cy)})
		child := deepChildFromPoint(hwnd, int(screenPt.X), int(screenPt.Y), maxDeepChildDepth)
		if child != 0 {
			target = child
			childPt := winapi.ScreenToClient(target, screenPt)
			tx, ty = int(childPt.X), int(childPt.Y)
		}
	}

	if opts.VerifyWindow {
		if err := verifyWindowState(target); err != nil {
			return err
		}
	}

	return postClick(target, tx, ty, opts.SendMouseMove)
}

// postClick packs (x, y) into an lparam and posts WM_LBUTTONDOWN/UP (with
// an optional leading WM_MOUSEMOVE) to hwnd, per win_clicker.py's
// post_click_screen_pos / _make_lparam.
func postClick(hwnd uintptr, x, y int, sendMouseMove bool) error {
	lparam := makeLParam(x, y)
	if sendMouseMove {
		winapi.PostMessage(hwnd, winapi.WMMouseMove, 0, lparam)
	}
	down := winapi.PostMessage(hwnd, winapi.WMLButtonDown, 1, lparam)
	up := winapi.PostMessage(hwnd, winapi.WMLButtonUp, 0, lparam)
	if !down || !up {
		return fmt.Errorf("action: PostMessage failed for click at (%d,%d) on handle %d", x, y, hwnd)
	}
	return nil
}

func makeLParam(x, y int) uintptr {
	return uintptr(uint32(y)&0xFFFF)<<16 | uintptr(uint32(x)&0xFFFF)
}

// deepChildFromPoint walks from hwnd (or, if 0, from whatever window lies
// under the screen point) down through the deepest visible, enabled,
// opaque child at (sx, sy), capped at maxDepth recursions. Mirrors
// win_clicker.py's _deep_child_from_point.
func deepChildFromPoint(hwnd uintptr, sx, sy, depth int) uintptr {
	if depth <= 0 {
		return hwnd
	}

	parent := hwnd
	if parent == 0 {
		parent = winapi.WindowFromPoint(winapi.POINT{X: int32(sx), Y: int32(sy)})
	}
	if parent == 0 || !winapi.IsWindow(parent) {
		return 0
	}

	clientPt := winapi.ScreenToClient(parent, winapi.POINT{X: int32(sx), Y: int32(sy)})
	child := winapi.ChildWindowFromPointEx(parent, clientPt)
	if child != 0 && child != parent {
		return deepChildFromPoint(child, sx, sy, depth-1)
	}
	return parent
}

// resolveEnhanced is EnhancedFinding's window-resolution strategy: try the
// deep-child walk first, and if that yields nothing fall back to whatever
// top-level window WindowFromPoint reports directly.
func resolveEnhanced(sx, sy int) uintptr {
	if target := deepChildFromPoint(0, sx, sy, maxDeepChildDepth); target != 0 {
		return target
	}
	return winapi.WindowFromPoint(winapi.POINT{X: int32(sx), Y: int32(sy)})
}

// verifyWindowState checks the target is still a window and enabled
// (win_clicker.py's _verify_window_state checks IsWindowEnabled, not
// IsWindowVisible (a disabled-but-visible control must not be clicked).
func verifyWindowState(hwnd uintptr) error {
	if !winapi.IsWindow(hwnd) {
		return fmt.Errorf("action: handle %d no longer identifies a window", hwnd)
	}
	if !winapi.IsWindowEnabled(hwnd) {
		return fmt.Errorf("action: handle %d is disabled", hwnd)
	}
	return nil
}
