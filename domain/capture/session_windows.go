//go:build windows

package capture

// CaptureSession owns one native capture surface for a window or monitor
// and produces packed BGR frames into a SharedFrameCache.
//
// The surface is DXGI Desktop Duplication: the session duplicates the
// output containing the target and, for window mode, crops each mapped
// frame to the window's client rectangle. Duplication is the only backend
// Start accepts — if D3D11/DXGI init fails, Start fails; there is no
// fallthrough to screen blitting. The sole exception is the secure
// desktop (UAC, lock screen), where duplication loses access by design
// and a GDI surface substitutes until the Default desktop returns (see
// gdi_windows.go).
//
// spec.md §4.2's frame-production algorithm is layered on top: content
// -size change detection, row-pitch-safe BGR packing (the mapped staging
// texture's RowPitch is routinely larger than width*4), per-target-fps
// throttling, minimized-window restore-then-poll, and a health check
// (Health) that runs once per call; the session does not schedule it.

import (
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"
	"unsafe"

	"golang.org/x/sys/windows"
)

var (
	modUser32 = windows.NewLazySystemDLL("user32.dll")

	procIsWindow       = modUser32.NewProc("IsWindow")
	procIsIconic       = modUser32.NewProc("IsIconic")
	procShowWindow     = modUser32.NewProc("ShowWindow")
	procGetClientRect  = modUser32.NewProc("GetClientRect")
	procClientToScreen = modUser32.NewProc("ClientToScreen")
)

const (
	swShowNoActivate = 4
	swMinimize       = 6

	// AcquireNextFrame wait: short enough to keep the capture loop
	// responsive to stop, long enough to avoid a pure spin on a static
	// desktop.
	acquireTimeoutMs = 20

	maxDuplReinitFailures = 3
)

type rect struct{ Left, Top, Right, Bottom int32 }

type point struct{ X, Y int32 }

// CaptureSession implements spec.md's C2. hwnd == 0 selects monitor mode.
type CaptureSession struct {
	hwnd         uintptr
	monitor      bool
	monitorIndex int

	opts  SessionOptions
	cache *SharedFrameCache

	mu          sync.Mutex
	dup         *outputDuplicator
	gdi         *gdiSurface // non-nil only while on the secure desktop
	packed      []byte      // scratch BGR packing buffer, reused across frames
	lastContent ContentSize
	screenRect  ScreenRect // absolute desktop rect of the captured region
	reinitFails int

	running       atomic.Bool
	stopCh        chan struct{}
	wg            sync.WaitGroup
	lastFrameTime atomic.Int64 // unix nanos
	autoRestored  bool

	healthMu            sync.Mutex
	consecutiveFailures int
	healthy             bool
}

// NewWindowCaptureSession constructs a session that captures a window.
func NewWindowCaptureSession(hwnd uintptr, opts SessionOptions, cache *SharedFrameCache) *CaptureSession {
	return &CaptureSession{hwnd: hwnd, opts: opts, cache: cache, healthy: true}
}

// NewMonitorCaptureSession constructs a session that captures the
// 0-based DXGI output index.
func NewMonitorCaptureSession(index int, opts SessionOptions, cache *SharedFrameCache) *CaptureSession {
	return &CaptureSession{monitor: true, monitorIndex: index, opts: opts, cache: cache, healthy: true}
}

// Start creates the duplication surface and begins producing frames. If
// the target window is iconic, it is restored without activation first
// (spec.md §4.2 minimized-window handling): never SetForegroundWindow,
// never steal focus. A failed DXGI init fails the start — no legacy
// screen-blit fallback (spec.md §4.2 failure modes).
func (s *CaptureSession) Start() error {
	if s.running.Load() {
		return nil
	}
	if !s.monitor {
		ok, _, _ := procIsWindow.Call(s.hwnd)
		if ok == 0 {
			return fmt.Errorf("capture: invalid window handle")
		}
		if s.isIconic() {
			s.showNoActivate()
			for i := 0; i < 10 && s.isIconic(); i++ {
				time.Sleep(10 * time.Millisecond)
			}
			s.autoRestored = true
		}
	}

	dup, err := s.openDuplicator()
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.dup = dup
	s.screenRect = s.captureRegionLocked()
	s.mu.Unlock()

	s.stopCh = make(chan struct{})
	s.running.Store(true)
	s.wg.Add(1)
	go s.loop()
	return nil
}

// openDuplicator duplicates the output for the monitor index, or the
// output whose desktop rectangle contains the target window's center.
func (s *CaptureSession) openDuplicator() (*outputDuplicator, error) {
	if s.monitor {
		return newOutputDuplicator(func(i int, _ rect) bool { return i == s.monitorIndex })
	}
	cr, ok := s.clientScreenRect()
	if !ok {
		return nil, fmt.Errorf("capture: cannot read client rect of %#x", s.hwnd)
	}
	cx := (cr.Left + cr.Right) / 2
	cy := (cr.Top + cr.Bottom) / 2
	dup, err := newOutputDuplicator(func(_ int, desktop rect) bool {
		return cx >= desktop.Left && cx < desktop.Right && cy >= desktop.Top && cy < desktop.Bottom
	})
	if err != nil {
		// Off-screen or mid-move windows have no containing output; any
		// output is better than failing the start outright.
		return newOutputDuplicator(func(i int, _ rect) bool { return i == 0 })
	}
	return dup, nil
}

// Stop releases the surface and joins the capture goroutine within
// timeout. The direct release path is authoritative (spec.md §9 Open
// Question 2); ReleaseFrame on any in-flight acquire happens inside the
// duplicator before teardown, which is the "capture-control stop when
// already available" optimization.
func (s *CaptureSession) Stop(timeout time.Duration) error {
	if !s.running.CompareAndSwap(true, false) {
		return nil
	}
	close(s.stopCh)

	done := make(chan struct{})
	go func() { s.wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(timeout):
	}

	s.mu.Lock()
	if s.dup != nil {
		s.dup.release()
		s.dup = nil
	}
	if s.gdi != nil {
		s.gdi.release()
		s.gdi = nil
	}
	s.mu.Unlock()

	s.cache.ForceCleanup()

	if s.autoRestored && s.opts.RestoreMinimized && !s.monitor {
		procShowWindow.Call(s.hwnd, swMinimize)
	}
	return nil
}

// WaitForFrame blocks until a new frame id is available or timeout
// elapses, returning the frame or nil on timeout.
func (s *CaptureSession) WaitForFrame(timeout time.Duration) *Frame {
	deadline := time.Now().Add(timeout)
	last := s.lastFrameTime.Load()
	for time.Now().Before(deadline) {
		if cur := s.lastFrameTime.Load(); cur != last {
			if f := s.cache.Get("session_wait", 0); f != nil {
				s.cache.Release("session_wait")
				return f
			}
		}
		time.Sleep(2 * time.Millisecond)
	}
	return nil
}

// Grab returns the most recently produced frame, if any.
func (s *CaptureSession) Grab() *Frame {
	f := s.cache.Get("session_grab", 0)
	if f != nil {
		s.cache.Release("session_grab")
	}
	return f
}

// Health runs the ~5s health check described in spec.md §4.2: handle
// validity plus frame-staleness, three consecutive failures => unhealthy.
// Reported, never auto-restarted here; CaptureManager decides.
func (s *CaptureSession) Health() HealthStatus {
	s.healthMu.Lock()
	defer s.healthMu.Unlock()

	ok := true
	if !s.monitor {
		v, _, _ := procIsWindow.Call(s.hwnd)
		ok = v != 0
	}
	lastNanos := s.lastFrameTime.Load()
	lastAt := time.Unix(0, lastNanos)
	if ok && lastNanos != 0 && time.Since(lastAt) > 10*time.Second {
		ok = false
	}
	if ok {
		s.consecutiveFailures = 0
	} else {
		s.consecutiveFailures++
	}
	// Unhealthy is sticky: once marked (three check failures or repeated
	// duplication reinit failures), only a session rebuild clears it.
	if s.consecutiveFailures >= 3 {
		s.healthy = false
	}
	return HealthStatus{Healthy: s.healthy, ConsecutiveFailures: s.consecutiveFailures, LastFrameAt: lastAt}
}

func (s *CaptureSession) loop() {
	defer s.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			s.markUnhealthy()
		}
	}()

	// SetThreadDesktop (secure-desktop fallback) is per-OS-thread; the
	// capture loop stays pinned so desktop attachment survives across
	// ticks.
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	minInterval := time.Second / time.Duration(max(1, s.opts.FPSMax))
	ticker := time.NewTicker(minInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.captureOnce()
		}
	}
}

func (s *CaptureSession) captureOnce() {
	defer func() {
		// A single bad frame must not tear down the session (spec.md §4.2
		// failure modes: CaptureFrame is log-and-skip).
		recover()
	}()

	now := time.Now()
	if last := s.lastFrameTime.Load(); last != 0 &&
		now.Sub(time.Unix(0, last)) < time.Second/time.Duration(max(1, s.opts.FPSMax)) {
		return // per-target-fps throttle: drop the frame
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.gdi != nil {
		s.captureViaGDILocked(now)
		return
	}
	if s.dup == nil {
		return
	}

	region := s.captureRegionLocked()
	local, content, ok := s.localizeRegionLocked(region)
	if !ok {
		return
	}
	if content != s.lastContent {
		// Content-size change: the duplication surface is output-sized,
		// so only the packing buffer needs re-sizing; the crop rect picks
		// up the new dimensions on this same frame.
		s.lastContent = content
	}
	s.screenRect = region

	need := content.Width * content.Height * 3
	if cap(s.packed) < need {
		s.packed = make([]byte, need)
	}
	s.packed = s.packed[:need]

	got, err := s.dup.acquireInto(acquireTimeoutMs, func(pData uintptr, rowPitch int) {
		s.dup.readRegionBGR(pData, rowPitch, local, s.packed)
	})
	if err != nil {
		s.handleDuplicationErrorLocked(err)
		return
	}
	if !got {
		return // desktop did not update; the cache keeps the last frame
	}

	s.publishLocked(content, now)
	s.reinitFails = 0
}

// captureViaGDILocked serves frames while on the secure desktop and
// drops back to duplication as soon as the Default desktop returns.
func (s *CaptureSession) captureViaGDILocked(now time.Time) {
	if !onSecureDesktop() {
		if dup, err := s.openDuplicator(); err == nil {
			s.gdi.release()
			s.gdi = nil
			s.dup = dup
			return // next tick captures via DXGI
		}
	}

	region := s.captureRegionLocked()
	content := ContentSize{Width: int(region.Right - region.Left), Height: int(region.Bottom - region.Top)}
	if content.Width <= 0 || content.Height <= 0 {
		return
	}
	s.lastContent = content
	s.screenRect = region

	need := content.Width * content.Height * 3
	if cap(s.packed) < need {
		s.packed = make([]byte, need)
	}
	s.packed = s.packed[:need]

	gdiRect := rect{Left: int32(region.Left), Top: int32(region.Top), Right: int32(region.Right), Bottom: int32(region.Bottom)}
	if !s.gdi.captureBGR(gdiRect, s.packed) {
		return
	}
	s.publishLocked(content, now)
}

func (s *CaptureSession) handleDuplicationErrorLocked(err error) {
	s.dup.release()
	s.dup = nil

	if err == errDuplAccessLost && onSecureDesktop() {
		// The one sanctioned GDI case: duplication cannot see the secure
		// desktop. Attach the (locked) capture thread to it and blit
		// until Default returns.
		switchToInputDesktop()
		s.gdi = &gdiSurface{}
		return
	}

	// Mode change, adapter reset: re-create the duplication surface.
	dup, reinitErr := s.openDuplicator()
	if reinitErr != nil {
		s.reinitFails++
		if s.reinitFails >= maxDuplReinitFailures {
			s.markUnhealthy()
		}
		return
	}
	s.dup = dup
}

func (s *CaptureSession) publishLocked(content ContentSize, now time.Time) {
	published := make([]byte, len(s.packed))
	copy(published, s.packed)
	s.cache.Cache(&Frame{Pix: published, Width: content.Width, Height: content.Height})
	s.lastFrameTime.Store(now.UnixNano())
}

// captureRegionLocked returns the absolute desktop rectangle to capture:
// the whole output in monitor mode, the window's client rectangle in
// window mode.
func (s *CaptureSession) captureRegionLocked() ScreenRect {
	if s.monitor {
		if s.dup != nil {
			r := s.dup.desktopRect
			return ScreenRect{Left: int(r.Left), Top: int(r.Top), Right: int(r.Right), Bottom: int(r.Bottom)}
		}
		return s.screenRect
	}
	if cr, ok := s.clientScreenRect(); ok {
		return ScreenRect{Left: int(cr.Left), Top: int(cr.Top), Right: int(cr.Right), Bottom: int(cr.Bottom)}
	}
	return s.screenRect
}

// localizeRegionLocked translates an absolute region into the
// duplicator's output-local coordinates, clipped to the output (spec.md
// §4.2 step 3: never expose pixels beyond the content).
func (s *CaptureSession) localizeRegionLocked(region ScreenRect) (rect, ContentSize, bool) {
	o := s.dup.desktopRect
	l := rect{
		Left:   int32(region.Left) - o.Left,
		Top:    int32(region.Top) - o.Top,
		Right:  int32(region.Right) - o.Left,
		Bottom: int32(region.Bottom) - o.Top,
	}
	if l.Left < 0 {
		l.Left = 0
	}
	if l.Top < 0 {
		l.Top = 0
	}
	if l.Right > int32(s.dup.desktopW) {
		l.Right = int32(s.dup.desktopW)
	}
	if l.Bottom > int32(s.dup.desktopH) {
		l.Bottom = int32(s.dup.desktopH)
	}
	w := int(l.Right - l.Left)
	h := int(l.Bottom - l.Top)
	if w <= 0 || h <= 0 {
		return rect{}, ContentSize{}, false
	}
	return l, ContentSize{Width: w, Height: h}, true
}

// clientScreenRect returns the window's client rectangle in absolute
// screen coordinates.
func (s *CaptureSession) clientScreenRect() (rect, bool) {
	var cr rect
	ok, _, _ := procGetClientRect.Call(s.hwnd, uintptr(unsafe.Pointer(&cr)))
	if ok == 0 {
		return rect{}, false
	}
	var origin point
	procClientToScreen.Call(s.hwnd, uintptr(unsafe.Pointer(&origin)))
	w := cr.Right - cr.Left
	h := cr.Bottom - cr.Top
	return rect{Left: origin.X, Top: origin.Y, Right: origin.X + w, Bottom: origin.Y + h}, true
}

func (s *CaptureSession) markUnhealthy() {
	s.healthMu.Lock()
	s.healthy = false
	s.healthMu.Unlock()
}

func (s *CaptureSession) isIconic() bool {
	v, _, _ := procIsIconic.Call(s.hwnd)
	return v != 0
}

func (s *CaptureSession) showNoActivate() {
	procShowWindow.Call(s.hwnd, swShowNoActivate)
}
