//go:build windows

// Package winapi collects the small set of Win32 syscalls shared by the
// capture, target-finder, and click-emitter components: window enumeration,
// text/class queries, and owning-process lookup. Grounded on
// amafjarkasi-windows-screenshot-mcp-server/internal/window/manager.go's
// lazy-DLL-plus-typed-proc idiom, rebuilt on golang.org/x/sys/windows
// instead of raw syscall.NewLazyDLL.
package winapi

import (
	"strings"
	"syscall"
	"unicode/utf16"
	"unsafe"

	"golang.org/x/sys/windows"
)

var (
	User32   = windows.NewLazySystemDLL("user32.dll")
	Kernel32 = windows.NewLazySystemDLL("kernel32.dll")

	procEnumWindows              = User32.NewProc("EnumWindows")
	procGetWindowTextW            = User32.NewProc("GetWindowTextW")
	procGetClassNameW             = User32.NewProc("GetClassNameW")
	procGetWindowThreadProcessId  = User32.NewProc("GetWindowThreadProcessId")
	procIsWindow                  = User32.NewProc("IsWindow")
	procIsWindowVisible           = User32.NewProc("IsWindowVisible")
	procIsWindowEnabled           = User32.NewProc("IsWindowEnabled")
	procIsIconic                  = User32.NewProc("IsIconic")
	procGetForegroundWindow       = User32.NewProc("GetForegroundWindow")
	procScreenToClient             = User32.NewProc("ScreenToClient")
	procClientToScreen             = User32.NewProc("ClientToScreen")
	procChildWindowFromPointEx    = User32.NewProc("ChildWindowFromPointEx")
	procWindowFromPoint           = User32.NewProc("WindowFromPoint")
	procGetClientRect              = User32.NewProc("GetClientRect")
	procGetWindowRect              = User32.NewProc("GetWindowRect")
	procMonitorFromPoint           = User32.NewProc("MonitorFromPoint")
	procPostMessageW               = User32.NewProc("PostMessageW")
	procEnumDisplayMonitors         = User32.NewProc("EnumDisplayMonitors")
	procGetMonitorInfoW             = User32.NewProc("GetMonitorInfoW")

	procOpenProcess                = Kernel32.NewProc("OpenProcess")
	procCloseHandle                = Kernel32.NewProc("CloseHandle")
	procQueryFullProcessImageNameW = Kernel32.NewProc("QueryFullProcessImageNameW")
)

// RECT mirrors the Win32 RECT structure.
type RECT struct{ Left, Top, Right, Bottom int32 }

// POINT mirrors the Win32 POINT structure.
type POINT struct{ X, Y int32 }

const (
	CWPSkipInvisible = 0x0001
	CWPSkipDisabled  = 0x0002
	CWPSkipTransparent = 0x0004

	ProcessQueryLimitedInformation = 0x1000

	WMMouseMove    = 0x0200
	WMLButtonDown  = 0x0201
	WMLButtonUp    = 0x0202
)

// WindowInfo is a snapshot of a top-level window's identity.
type WindowInfo struct {
	Handle      uintptr
	Title       string
	ClassName   string
	ProcessID   uint32
	ProcessPath string
	Visible     bool
}

// EnumTopLevelWindows returns every top-level window, visible or not;
// callers filter as needed (spec.md components apply different filters).
func EnumTopLevelWindows() []WindowInfo {
	var out []WindowInfo
	cb := syscall.NewCallback(func(hwnd uintptr, _ uintptr) uintptr {
		out = append(out, describeWindow(hwnd))
		return 1
	})
	procEnumWindows.Call(cb, 0)
	return out
}

func describeWindow(hwnd uintptr) WindowInfo {
	info := WindowInfo{Handle: hwnd, Title: WindowText(hwnd), ClassName: ClassName(hwnd)}
	var pid uint32
	procGetWindowThreadProcessId.Call(hwnd, uintptr(unsafe.Pointer(&pid)))
	info.ProcessID = pid
	info.ProcessPath = ProcessImagePath(pid)
	vis, _, _ := procIsWindowVisible.Call(hwnd)
	info.Visible = vis != 0
	return info
}

// WindowText returns a window's title text, best-effort.
func WindowText(hwnd uintptr) string {
	buf := make([]uint16, 512)
	n, _, _ := procGetWindowTextW.Call(hwnd, uintptr(unsafe.Pointer(&buf[0])), uintptr(len(buf)))
	if n == 0 {
		return ""
	}
	return strings.TrimSpace(string(utf16.Decode(buf[:n])))
}

// ClassName returns a window's class name, best-effort.
func ClassName(hwnd uintptr) string {
	buf := make([]uint16, 256)
	n, _, _ := procGetClassNameW.Call(hwnd, uintptr(unsafe.Pointer(&buf[0])), uintptr(len(buf)))
	if n == 0 {
		return ""
	}
	return string(utf16.Decode(buf[:n]))
}

// ProcessImagePath resolves a pid's executable path via
// OpenProcess+QueryFullProcessImageNameW, best-effort (empty on failure).
func ProcessImagePath(pid uint32) string {
	h, _, _ := procOpenProcess.Call(ProcessQueryLimitedInformation, 0, uintptr(pid))
	if h == 0 {
		return ""
	}
	defer procCloseHandle.Call(h)
	buf := make([]uint16, 512)
	size := uint32(len(buf))
	ok, _, _ := procQueryFullProcessImageNameW.Call(h, 0, uintptr(unsafe.Pointer(&buf[0])), uintptr(unsafe.Pointer(&size)))
	if ok == 0 {
		return ""
	}
	return string(utf16.Decode(buf[:size]))
}

// GetWindowThreadProcessId returns the process id that owns hwnd.
func GetWindowThreadProcessId(hwnd uintptr) uint32 {
	var pid uint32
	procGetWindowThreadProcessId.Call(hwnd, uintptr(unsafe.Pointer(&pid)))
	return pid
}

// IsWindow reports whether hwnd still identifies a window.
func IsWindow(hwnd uintptr) bool {
	v, _, _ := procIsWindow.Call(hwnd)
	return v != 0
}

// IsWindowVisible reports a window's visibility.
func IsWindowVisible(hwnd uintptr) bool {
	v, _, _ := procIsWindowVisible.Call(hwnd)
	return v != 0
}

// IsWindowEnabled reports a window's enabled state.
func IsWindowEnabled(hwnd uintptr) bool {
	v, _, _ := procIsWindowEnabled.Call(hwnd)
	return v != 0
}

// IsIconic reports whether a window is minimized.
func IsIconic(hwnd uintptr) bool {
	v, _, _ := procIsIconic.Call(hwnd)
	return v != 0
}

// ForegroundWindow returns the current foreground window handle.
func ForegroundWindow() uintptr {
	v, _, _ := procForegroundWindowCall()
	return v
}

func procForegroundWindowCall() (uintptr, uintptr, error) {
	return procGetForegroundWindow.Call()
}

// GetClientRect returns a window's client rectangle.
func GetClientRect(hwnd uintptr) (RECT, bool) {
	var r RECT
	ok, _, _ := procGetClientRect.Call(hwnd, uintptr(unsafe.Pointer(&r)))
	return r, ok != 0
}

// GetWindowRect returns a window's screen rectangle.
func GetWindowRect(hwnd uintptr) (RECT, bool) {
	var r RECT
	ok, _, _ := procGetWindowRect.Call(hwnd, uintptr(unsafe.Pointer(&r)))
	return r, ok != 0
}

// ScreenToClient converts a screen point to hwnd's client coordinates.
func ScreenToClient(hwnd uintptr, p POINT) POINT {
	procScreenToClient.Call(hwnd, uintptr(unsafe.Pointer(&p)))
	return p
}

// ClientToScreen converts a client point in hwnd's coordinate space to
// screen coordinates.
func ClientToScreen(hwnd uintptr, p POINT) POINT {
	procClientToScreen.Call(hwnd, uintptr(unsafe.Pointer(&p)))
	return p
}

// ChildWindowFromPointEx returns the immediate child of parent at client
// point p, skipping invisible, disabled, and transparent children; it
// returns parent itself when no child qualifies and 0 when p lies outside
// parent. It does not descend further than one level.
func ChildWindowFromPointEx(parent uintptr, p POINT) uintptr {
	flags := uintptr(CWPSkipInvisible | CWPSkipDisabled | CWPSkipTransparent)
	h, _, _ := procChildWindowFromPointEx.Call(parent, packPoint(p), flags)
	return h
}

// WindowFromPoint returns the top-level (or child) window under a screen
// point.
func WindowFromPoint(p POINT) uintptr {
	h, _, _ := procWindowFromPoint.Call(packPoint(p))
	return h
}

// packPoint packs a POINT into the single register Win32's x64 calling
// convention uses for an 8-byte-or-smaller struct passed by value.
func packPoint(p POINT) uintptr {
	return uintptr(uint32(p.X)) | uintptr(uint32(p.Y))<<32
}

type monitorInfo struct {
	Size     uint32
	Monitor  RECT
	WorkArea RECT
	Flags    uint32
}

// EnumMonitorRects returns the screen rectangle of every display monitor.
func EnumMonitorRects() []RECT {
	var rects []RECT
	cb := syscall.NewCallback(func(hMonitor, _ uintptr, _ *RECT, _ uintptr) uintptr {
		var mi monitorInfo
		mi.Size = uint32(unsafe.Sizeof(mi))
		ok, _, _ := procGetMonitorInfoW.Call(hMonitor, uintptr(unsafe.Pointer(&mi)))
		if ok != 0 {
			rects = append(rects, mi.Monitor)
		}
		return 1
	})
	procEnumDisplayMonitors.Call(0, 0, cb, 0)
	return rects
}

// PointInAnyMonitor reports whether (x,y) falls within some monitor's
// screen rectangle (spec.md §4.6 monitor-bounds sanity check).
func PointInAnyMonitor(x, y int) bool {
	for _, r := range EnumMonitorRects() {
		if int32(x) >= r.Left && int32(x) < r.Right && int32(y) >= r.Top && int32(y) < r.Bottom {
			return true
		}
	}
	return false
}

// PostMessage posts a message to hwnd without waiting for processing.
func PostMessage(hwnd uintptr, msg uint32, wparam, lparam uintptr) bool {
	ok, _, _ := procPostMessageW.Call(hwnd, uintptr(msg), wparam, lparam)
	return ok != 0
}

// MonitorFromPointNearest returns the handle of the monitor nearest p
// (MONITOR_DEFAULTTONEAREST = 2), never failing.
func MonitorFromPointNearest(p POINT) uintptr {
	h, _, _ := procMonitorFromPoint.Call(packPoint(p), 2)
	return h
}

const (
	EventSystemForeground = 0x0003
	EventObjectCreate     = 0x8000
	EventObjectShow       = 0x8002
	EventObjectNameChange = 0x800C

	WinEventOutOfContext   = 0x0000
	WinEventSkipOwnProcess = 0x0002
)

var procSetWinEventHook = User32.NewProc("SetWinEventHook")
var procUnhookWinEvent = User32.NewProc("UnhookWinEvent")

// WinEventProc matches the WINEVENTPROC callback signature.
type WinEventProc func(hook uintptr, event uint32, hwnd uintptr, idObject, idChild int32, threadID, timestamp uint32) uintptr

// SetWinEventHook installs an out-of-context event hook for [eventMin,
// eventMax] and returns its handle (0 on failure). The caller must retain
// cb (via syscall.NewCallback) for the hook's lifetime; letting it get
// GC'd invalidates the trampoline the OS calls into.
func SetWinEventHook(eventMin, eventMax uint32, cb uintptr) uintptr {
	h, _, _ := procSetWinEventHook.Call(
		uintptr(eventMin), uintptr(eventMax),
		0, cb, 0, 0,
		uintptr(WinEventOutOfContext|WinEventSkipOwnProcess),
	)
	return h
}

// UnhookWinEvent removes a hook installed by SetWinEventHook.
func UnhookWinEvent(hook uintptr) bool {
	ok, _, _ := procUnhookWinEvent.Call(hook)
	return ok != 0
}
