//go:build windows

package diagnostics

import (
	"unsafe"

	"golang.org/x/sys/windows"
)

// StandardDPI is the Windows baseline (100% scaling) DPI value.
const StandardDPI = 96

const (
	mdtEffectiveDPI = 0

	processPerMonitorDPIAwareV2 = ^uintptr(3) // DPI_AWARENESS_CONTEXT_PER_MONITOR_AWARE_V2 (-4)
	monitorDefaultToNearest     = 2
)

var (
	user32 = windows.NewLazySystemDLL("user32.dll")
	shcore = windows.NewLazySystemDLL("shcore.dll")
	gdi32  = windows.NewLazySystemDLL("gdi32.dll")

	procSetProcessDpiAwarenessContext = user32.NewProc("SetProcessDpiAwarenessContext")
	procGetDpiForWindow               = user32.NewProc("GetDpiForWindow")
	procMonitorFromWindow             = user32.NewProc("MonitorFromWindow")
	procGetDC                         = user32.NewProc("GetDC")
	procReleaseDC                     = user32.NewProc("ReleaseDC")

	procGetDpiForMonitor = shcore.NewProc("GetDpiForMonitor")

	procGetDeviceCaps = gdi32.NewProc("GetDeviceCaps")
)

// SetProcessDPIAwareness requests Per-Monitor-V2 DPI awareness (Windows
// 10 1703+). Best-effort: a failure here just means coordinate math
// falls back to the system DPI, which is still correct on single-monitor
// 100%-scale setups.
func SetProcessDPIAwareness() bool {
	if err := procSetProcessDpiAwarenessContext.Find(); err != nil {
		return false
	}
	ret, _, _ := procSetProcessDpiAwarenessContext.Call(processPerMonitorDPIAwareV2)
	return ret != 0
}

// DPIForWindow returns a window's effective DPI, falling back through
// GetDpiForWindow → GetDpiForMonitor → GetDeviceCaps → StandardDPI.
func DPIForWindow(hwnd uintptr) int {
	if procGetDpiForWindow.Find() == nil {
		if dpi, _, _ := procGetDpiForWindow.Call(hwnd); dpi > 0 {
			return int(dpi)
		}
	}
	if procMonitorFromWindow.Find() == nil {
		if hMonitor, _, _ := procMonitorFromWindow.Call(hwnd, monitorDefaultToNearest); hMonitor != 0 {
			if dpi, ok := DPIForMonitor(hMonitor); ok {
				return dpi
			}
		}
	}
	if procGetDC.Find() == nil {
		if hdc, _, _ := procGetDC.Call(hwnd); hdc != 0 {
			defer procReleaseDC.Call(hwnd, hdc)
			const logPixelsX = 88
			if dpi, _, _ := procGetDeviceCaps.Call(hdc, logPixelsX); dpi > 0 {
				return int(dpi)
			}
		}
	}
	return StandardDPI
}

// DPIForMonitor returns a monitor's effective DPI via GetDpiForMonitor
// (Windows 8.1+).
func DPIForMonitor(hMonitor uintptr) (int, bool) {
	if procGetDpiForMonitor.Find() != nil {
		return StandardDPI, false
	}
	var dpiX, dpiY uint32
	ret, _, _ := procGetDpiForMonitor.Call(hMonitor, mdtEffectiveDPI,
		uintptr(unsafe.Pointer(&dpiX)), uintptr(unsafe.Pointer(&dpiY)))
	if ret != 0 {
		return StandardDPI, false
	}
	return int(dpiX), true
}
