//go:build windows

package capture

import (
	"fmt"
	"image"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/soocke/sentinel/internal/winapi"
	"github.com/kbinani/screenshot"
)

// CaptureManager is spec.md's C3: it resolves a TargetSpec to a live
// window/monitor, owns exactly one CaptureSession at a time, and exposes
// both a direct and a shared-cache frame API. Tracks stats with atomic
// counters behind a start/stop service wrapper, and resolves targets in
// handle -> title-substring -> process-substring -> monitor-index order.
type CaptureManager struct {
	mu      sync.Mutex
	session *CaptureSession
	cache   *SharedFrameCache
	opts    SessionOptions
	mode    Mode

	opens    atomic.Uint64
	failures atomic.Uint64
}

// NewCaptureManager constructs a manager with its own SharedFrameCache.
func NewCaptureManager(opts SessionOptions) *CaptureManager {
	return &CaptureManager{cache: NewSharedFrameCache(5 * time.Second), opts: opts}
}

// Cache exposes the manager's SharedFrameCache for composition-root wiring
// (e.g. a preview consumer that wants direct access alongside the scanner).
func (m *CaptureManager) Cache() *SharedFrameCache { return m.cache }

// OpenWindow resolves target per spec.md §4.3's order ((a) handle, (b)
// title substring, (c) process substring) and starts a window-mode
// session. asyncInit=false performs a bounded WaitForFrame validation.
func (m *CaptureManager) OpenWindow(target TargetSpec, asyncInit bool, timeout time.Duration) error {
	hwnd, err := m.resolveWindow(target)
	if err != nil {
		m.failures.Add(1)
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session != nil {
		m.session.Stop(time.Second)
	}
	m.mode = ModeWindow
	m.session = NewWindowCaptureSession(hwnd, m.opts, m.cache)
	if err := m.session.Start(); err != nil {
		m.failures.Add(1)
		return err
	}
	m.opens.Add(1)
	if !asyncInit {
		if f := m.session.WaitForFrame(timeout); f == nil {
			return fmt.Errorf("capture: no frame within %s of opening window", timeout)
		}
	}
	return nil
}

// OpenMonitor starts a monitor-mode session for the given 0-based monitor
// index. The index is range-checked against the attached displays via
// github.com/kbinani/screenshot's display enumeration before the DXGI
// output is duplicated, so an out-of-range index fails fast without
// touching D3D11.
func (m *CaptureManager) OpenMonitor(index int) error {
	if _, err := monitorBounds(index); err != nil {
		m.failures.Add(1)
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session != nil {
		m.session.Stop(time.Second)
	}
	m.mode = ModeMonitor
	m.session = NewMonitorCaptureSession(index, m.opts, m.cache)
	if err := m.session.Start(); err != nil {
		m.failures.Add(1)
		return err
	}
	m.opens.Add(1)
	return nil
}

func monitorBounds(index int) (image.Rectangle, error) {
	n := screenshot.NumActiveDisplays()
	if index < 0 || index >= n {
		return image.Rectangle{}, fmt.Errorf("capture: monitor index %d out of range [0,%d)", index, n)
	}
	return screenshot.GetDisplayBounds(index), nil
}

// CaptureFrame handles minimized-restore (already done in Session.Start)
// and returns the session's latest frame directly (bypassing the shared
// cache's consumer bookkeeping).
func (m *CaptureManager) CaptureFrame() *Frame {
	m.mu.Lock()
	s := m.session
	m.mu.Unlock()
	if s == nil {
		return nil
	}
	return s.Grab()
}

// GetSharedFrame registers consumerID against the cache and returns a view
// of the latest frame.
func (m *CaptureManager) GetSharedFrame(consumerID string) *Frame {
	return m.cache.Get(consumerID, 0)
}

// ReleaseSharedFrame releases consumerID's registration.
func (m *CaptureManager) ReleaseSharedFrame(consumerID string) {
	m.cache.Release(consumerID)
}

// Configure rebuilds the live session (if any) with new options. The old
// session is always stopped before the new one starts (spec.md §4.3
// invariant).
func (m *CaptureManager) Configure(opts SessionOptions) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.opts = opts
	if m.session == nil {
		return nil
	}
	old := m.session
	old.Stop(time.Second)
	switch m.mode {
	case ModeWindow:
		m.session = NewWindowCaptureSession(old.hwnd, opts, m.cache)
	case ModeMonitor:
		m.session = NewMonitorCaptureSession(old.monitorIndex, opts, m.cache)
	}
	return m.session.Start()
}

// Close stops the live session, if any, waiting up to joinTimeout.
func (m *CaptureManager) Close(joinTimeout time.Duration) error {
	m.mu.Lock()
	s := m.session
	m.session = nil
	m.mu.Unlock()
	if s == nil {
		return nil
	}
	return s.Stop(joinTimeout)
}

// ContentSize reports the live session's last-observed content dimensions
// and the window's current client-area dimensions, used by the scanner to
// scale match coordinates from content space to client space.
func (m *CaptureManager) ContentSize() (content ContentSize, client ContentSize, ok bool) {
	m.mu.Lock()
	s := m.session
	m.mu.Unlock()
	if s == nil {
		return ContentSize{}, ContentSize{}, false
	}
	s.mu.Lock()
	content = s.lastContent
	s.mu.Unlock()
	if m.mode == ModeMonitor {
		return content, content, true
	}
	cr, okRect := winapi.GetClientRect(s.hwnd)
	if !okRect {
		return content, content, false
	}
	client = ContentSize{Width: int(cr.Right - cr.Left), Height: int(cr.Bottom - cr.Top)}
	return content, client, true
}

// ScreenRect reports the live session's captured region as an absolute
// desktop rectangle. In monitor mode this is the monitor's rectangle —
// the origin a consumer must add back to frame-local coordinates to get
// screen coordinates (a non-primary monitor's top-left is rarely (0,0)).
func (m *CaptureManager) ScreenRect() (ScreenRect, bool) {
	m.mu.Lock()
	s := m.session
	m.mu.Unlock()
	if s == nil {
		return ScreenRect{}, false
	}
	s.mu.Lock()
	r := s.screenRect
	s.mu.Unlock()
	if r.Right <= r.Left || r.Bottom <= r.Top {
		return ScreenRect{}, false
	}
	return r, true
}

// Mode reports whether the live session is in window or monitor mode.
func (m *CaptureManager) Mode() Mode {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mode
}

// Handle returns the live session's window handle (0 in monitor mode).
func (m *CaptureManager) Handle() uintptr {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return 0
	}
	return m.session.hwnd
}

func (m *CaptureManager) resolveWindow(target TargetSpec) (uintptr, error) {
	switch target.Kind {
	case TargetHandle:
		if !winapi.IsWindow(target.Handle) {
			return 0, fmt.Errorf("capture: handle %d is not a window", target.Handle)
		}
		return target.Handle, nil
	case TargetTitle:
		return findWindow(target.Text, target.PartialMatch, func(w winapi.WindowInfo) string { return w.Title })
	case TargetProcessName:
		return findWindow(target.Text, target.PartialMatch, func(w winapi.WindowInfo) string { return w.ProcessPath })
	default:
		return 0, fmt.Errorf("capture: unsupported target kind for window resolution")
	}
}

func findWindow(text string, partial bool, field func(winapi.WindowInfo) string) (uintptr, error) {
	needle := strings.ToLower(text)
	for _, w := range winapi.EnumTopLevelWindows() {
		if !w.Visible || w.Title == "" {
			continue
		}
		hay := strings.ToLower(field(w))
		if hay == "" {
			continue
		}
		if partial {
			if strings.Contains(hay, needle) || strings.Contains(hay, baseName(needle)) {
				return w.Handle, nil
			}
		} else if hay == needle {
			return w.Handle, nil
		}
	}
	return 0, fmt.Errorf("capture: no window matched %q", text)
}

func baseName(path string) string {
	if i := strings.LastIndexAny(path, `/\`); i >= 0 {
		return path[i+1:]
	}
	return path
}
