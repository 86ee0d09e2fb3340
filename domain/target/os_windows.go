//go:build windows

package target

import (
	"errors"
	"runtime"
	"sync"
	"syscall"

	"github.com/soocke/sentinel/internal/winapi"
)

// OSWindowSource enumerates real top-level windows.
type OSWindowSource struct{}

// TopLevelWindows implements WindowSource over EnumWindows.
func (OSWindowSource) TopLevelWindows() []WindowInfo {
	raw := winapi.EnumTopLevelWindows()
	out := make([]WindowInfo, 0, len(raw))
	for _, w := range raw {
		out = append(out, WindowInfo{
			Handle:      w.Handle,
			Title:       w.Title,
			ClassName:   w.ClassName,
			ProcessPath: w.ProcessPath,
			Visible:     w.Visible,
		})
	}
	return out
}

// OSInfoProvider answers per-handle queries via user32.
type OSInfoProvider struct{}

// IsWindowValid requires the handle to still be a window and visible.
func (OSInfoProvider) IsWindowValid(hwnd uintptr) bool {
	return winapi.IsWindow(hwnd) && winapi.IsWindowVisible(hwnd)
}

// WindowArea returns the window rectangle's area in px².
func (OSInfoProvider) WindowArea(hwnd uintptr) int {
	r, ok := winapi.GetWindowRect(hwnd)
	if !ok {
		return 0
	}
	w := int(r.Right - r.Left)
	h := int(r.Bottom - r.Top)
	if w <= 0 || h <= 0 {
		return 0
	}
	return w * h
}

// Describe resolves a handle to its identity snapshot.
func (OSInfoProvider) Describe(hwnd uintptr) (WindowInfo, bool) {
	if !winapi.IsWindow(hwnd) {
		return WindowInfo{}, false
	}
	pid := winapi.GetWindowThreadProcessId(hwnd)
	return WindowInfo{
		Handle:      hwnd,
		Title:       winapi.WindowText(hwnd),
		ClassName:   winapi.ClassName(hwnd),
		ProcessPath: winapi.ProcessImagePath(pid),
		Visible:     winapi.IsWindowVisible(hwnd),
	}, true
}

// WinEventHook subscribes to foreground, object-create/show, and
// name-change events via SetWinEventHook in out-of-context mode. The
// callback trampoline and the Go closure behind it are retained on the
// hook for its whole lifetime; the OS calls into the trampoline long
// after Install returns.
type WinEventHook struct {
	mu         sync.Mutex
	cb         func(HookEvent)
	proc       winapi.WinEventProc
	trampoline uintptr
	handles    []uintptr
	stop       chan struct{}
}

// NewWinEventHook returns an uninstalled hook.
func NewWinEventHook() *WinEventHook { return &WinEventHook{} }

// Install registers the three event ranges and parks a dedicated OS
// thread to host them. Out-of-context hooks need no message pump, but the
// installing thread must stay alive.
func (h *WinEventHook) Install(cb func(HookEvent)) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stop != nil {
		return nil
	}
	h.cb = cb
	h.proc = func(_ uintptr, event uint32, hwnd uintptr, idObject, idChild int32, _, _ uint32) uintptr {
		// Only whole top-level window objects are of interest.
		if idObject != 0 || idChild != 0 || hwnd == 0 {
			return 0
		}
		kind, ok := hookKindForEvent(event)
		if !ok {
			return 0
		}
		h.cb(HookEvent{Kind: kind, Handle: hwnd})
		return 0
	}
	h.trampoline = syscall.NewCallback(h.proc)
	h.stop = make(chan struct{})

	installed := make(chan bool, 1)
	go func() {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()

		var handles []uintptr
		ranges := [][2]uint32{
			{winapi.EventSystemForeground, winapi.EventSystemForeground},
			{winapi.EventObjectCreate, winapi.EventObjectShow},
			{winapi.EventObjectNameChange, winapi.EventObjectNameChange},
		}
		for _, r := range ranges {
			if hook := winapi.SetWinEventHook(r[0], r[1], h.trampoline); hook != 0 {
				handles = append(handles, hook)
			}
		}
		h.mu.Lock()
		h.handles = handles
		stop := h.stop
		h.mu.Unlock()
		installed <- len(handles) > 0

		if len(handles) == 0 {
			return
		}
		<-stop
		for _, hook := range handles {
			winapi.UnhookWinEvent(hook)
		}
	}()
	if ok := <-installed; !ok {
		return errors.New("target: SetWinEventHook failed for every event range")
	}
	return nil
}

// Uninstall signals the hosting thread to unhook and exit. Idempotent.
func (h *WinEventHook) Uninstall() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stop == nil {
		return
	}
	close(h.stop)
	h.stop = nil
	h.handles = nil
}

func hookKindForEvent(event uint32) (HookEventKind, bool) {
	switch event {
	case winapi.EventSystemForeground:
		return HookForeground, true
	case winapi.EventObjectCreate, winapi.EventObjectShow:
		return HookCreateOrShow, true
	case winapi.EventObjectNameChange:
		return HookNameChange, true
	}
	return 0, false
}
