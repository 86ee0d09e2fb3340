package scanner

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/soocke/sentinel/domain/action"
	"github.com/soocke/sentinel/domain/capture"
	"github.com/soocke/sentinel/domain/template"
)

const (
	minLoopYield   = time.Millisecond
	statusEmitMin  = 200 * time.Millisecond
	backoffFloor   = 5 * time.Millisecond
	backoffCeiling = 200 * time.Millisecond
	maxEmptyStreak = 4
)

// CaptureProvider is the subset of *capture.CaptureManager the worker
// needs, kept as an interface so scan-tick logic can run under a fake.
type CaptureProvider interface {
	OpenWindow(target capture.TargetSpec, asyncInit bool, timeout time.Duration) error
	OpenMonitor(index int) error
	GetSharedFrame(consumerID string) *capture.Frame
	CaptureFrame() *capture.Frame
	ContentSize() (content, client capture.ContentSize, ok bool)
	ScreenRect() (capture.ScreenRect, bool)
	Mode() capture.Mode
	Handle() uintptr
	Close(timeout time.Duration) error
}

// TemplateProvider is the subset of *template.Cache the worker needs.
type TemplateProvider interface {
	Get(sourceRef string, gray bool) (*template.Template, error)
	WarmLoad(refs []string, gray bool) (loaded, failed int)
}

// Worker is spec.md's C7 ScannerWorker: the in-subprocess scan loop. It
// runs a select-driven loop over a buffered typed-event channel with
// panic-recovery-with-stack, and implements scan_and_maybe_click's exact
// click-cooldown growth formula and backoff rule.
type Worker struct {
	capture CaptureProvider
	tmpls   TemplateProvider
	matcher *capture.Matcher
	clicker action.Clicker

	commandCh chan ScannerCommand
	statusCh  chan ScannerStatus
	hitCh     chan MatchHit
	logCh     chan string

	cfg ScannerConfig

	scanCount         uint64
	consecutiveClicks int
	nextClickAllowed  time.Time
	emptyStreak       int
	lastStatusEmit    time.Time
	lastBackendLabel  string
}

// NewWorker builds a Worker wired to the given capture/template/click
// providers and channel capacities.
func NewWorker(cap CaptureProvider, tmpls TemplateProvider, matcher *capture.Matcher, clicker action.Clicker, chanCap int) *Worker {
	return &Worker{
		capture:   cap,
		tmpls:     tmpls,
		matcher:   matcher,
		clicker:   clicker,
		commandCh: make(chan ScannerCommand, chanCap),
		statusCh:  make(chan ScannerStatus, chanCap),
		hitCh:     make(chan MatchHit, chanCap),
		logCh:     make(chan string, chanCap*4),
	}
}

// Commands returns the channel callers send ScannerCommand values on.
func (w *Worker) Commands() chan<- ScannerCommand { return w.commandCh }

// Status returns the channel ScannerStatus snapshots are emitted on.
func (w *Worker) Status() <-chan ScannerStatus { return w.statusCh }

// Hits returns the channel MatchHit values are emitted on.
func (w *Worker) Hits() <-chan MatchHit { return w.hitCh }

// Logs returns the channel free-text log lines are emitted on.
func (w *Worker) Logs() <-chan string { return w.logCh }

// Run executes the worker loop until ctx is cancelled or a CommandExit is
// received. It recovers from per-tick panics so one bad frame can't kill
// the subprocess.
func (w *Worker) Run(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			w.emitLog(fmt.Sprintf("scanner worker panic: %v\n%s", r, debug.Stack()))
		}
	}()

	running := false
	var nextScanAt time.Time

	for {
		var timeout time.Duration
		if running {
			timeout = time.Until(nextScanAt)
			if timeout < 0 {
				timeout = 0
			}
		}

		select {
		case <-ctx.Done():
			return
		case cmd := <-w.commandCh:
			switch cmd.Kind {
			case CommandStart:
				if err := w.start(cmd.Config); err != nil {
					w.emitStatus(ScannerStatus{Running: false, PhaseText: "error", ErrorMessage: err.Error(), Timestamp: now()})
					continue
				}
				running = true
				nextScanAt = now()
			case CommandStop:
				w.stop()
				running = false
			case CommandUpdateConfig:
				w.updateConfig(cmd.Config)
			case CommandExit:
				w.stop()
				return
			}
			continue
		case <-afterDuration(running, timeout):
		}

		if !running || now().Before(nextScanAt) {
			continue
		}
		func() {
			defer func() {
				if r := recover(); r != nil {
					w.emitLog(fmt.Sprintf("scanner tick panic: %v\n%s", r, debug.Stack()))
				}
			}()
			w.tick()
		}()
		nextScanAt = w.nextScanAt()
	}
}

func afterDuration(active bool, d time.Duration) <-chan time.Time {
	if !active {
		return nil // block forever: idle wait per spec.md §4.7
	}
	return time.After(d)
}

func now() time.Time { return time.Now() }

func (w *Worker) start(cfg ScannerConfig) error {
	w.cfg = cfg
	w.scanCount = 0
	w.consecutiveClicks = 0
	w.emptyStreak = 0
	w.nextClickAllowed = time.Time{}

	switch cfg.Target.Kind {
	case capture.TargetMonitorIndex:
		if err := w.capture.OpenMonitor(cfg.Target.MonitorIndex); err != nil {
			return err
		}
	default:
		if err := w.capture.OpenWindow(cfg.Target, true, 2*time.Second); err != nil {
			return err
		}
	}

	loaded, failed := w.tmpls.WarmLoad(cfg.TemplateRefs, cfg.Grayscale)
	w.emitLog(fmt.Sprintf("templates warmed: %d loaded, %d failed", loaded, failed))

	w.emitStatus(ScannerStatus{Running: true, PhaseText: "starting", Timestamp: now()})
	return nil
}

func (w *Worker) stop() {
	w.capture.Close(time.Second)
	w.scanCount = 0
	w.consecutiveClicks = 0
	w.emitStatus(ScannerStatus{Running: false, PhaseText: "stopped", Timestamp: now()})
}

func (w *Worker) updateConfig(cfg ScannerConfig) {
	w.capture.Close(time.Second)
	w.cfg = cfg
	switch cfg.Target.Kind {
	case capture.TargetMonitorIndex:
		w.capture.OpenMonitor(cfg.Target.MonitorIndex)
	default:
		w.capture.OpenWindow(cfg.Target, true, 2*time.Second)
	}
}

// tick runs one scan_and_maybe_click pass, per spec.md §4.7.
func (w *Worker) tick() {
	frame := w.capture.GetSharedFrame("scanner_detection")
	if frame == nil {
		frame = w.capture.CaptureFrame()
	}
	if frame == nil {
		w.emptyStreak++
		return
	}
	w.emptyStreak = 0
	w.scanCount++

	templates := make([]capture.TemplateInput, 0, len(w.cfg.TemplateRefs))
	for _, ref := range w.cfg.TemplateRefs {
		t, err := w.tmpls.Get(ref, w.cfg.Grayscale)
		if err != nil {
			continue
		}
		templates = append(templates, capture.TemplateInput{Pix: t.Pix, W: t.Width, H: t.Height, Gray: t.Gray})
	}

	result := w.matcher.Find(frame, templates, capture.MatchOptions{ROI: w.cfg.ROI, Threshold: w.cfg.Threshold, Grayscale: w.cfg.Grayscale})
	if result.Score < w.cfg.Threshold {
		if w.consecutiveClicks > 0 {
			w.consecutiveClicks--
		}
		w.maybeEmitStatus("scanning")
		return
	}

	rawX := result.X + result.TemplateW/2 + w.cfg.ClickOffsetX
	rawY := result.Y + result.TemplateH/2 + w.cfg.ClickOffsetY

	if now().Before(w.nextClickAllowed) {
		w.maybeEmitStatus("scanning")
		return
	}

	// One mapping for both the click and the reported hit: client-area
	// coordinates in window mode, absolute screen coordinates in monitor
	// mode (spec.md §3 MatchHit).
	hitX, hitY := w.mapToClickSpace(rawX, rawY)

	if err := w.click(hitX, hitY); err != nil {
		w.emitLog(fmt.Sprintf("click failed: %v", err))
		w.maybeEmitStatus("scanning")
		return
	}

	w.consecutiveClicks++
	baseDelay := time.Duration(w.cfg.ClickDelayMs) * time.Millisecond
	adaptiveDelay := time.Duration(float64(baseDelay) * (1 + 0.1*float64(w.consecutiveClicks)))
	w.nextClickAllowed = now().Add(adaptiveDelay)

	w.hitCh <- capture.MatchHit{Score: result.Score, X: hitX, Y: hitY, TemplateW: result.TemplateW, TemplateH: result.TemplateH, Timestamp: now(), CaptureMode: w.capture.Mode()}
	w.maybeEmitStatus("scanning")
}

// mapToClickSpace converts frame-local content coordinates into the
// coordinate space clicks happen in: content->client scaling for window
// capture, monitor-origin translation for monitor capture (the frame's
// (0,0) is the monitor's top-left, which for a non-primary monitor is
// not the desktop's (0,0)).
func (w *Worker) mapToClickSpace(contentX, contentY int) (int, int) {
	if w.capture.Mode() == capture.ModeMonitor {
		if r, ok := w.capture.ScreenRect(); ok {
			return contentX + r.Left, contentY + r.Top
		}
		return contentX, contentY
	}
	content, client, ok := w.capture.ContentSize()
	if ok && content.Width > 0 && content.Height > 0 {
		return contentX * client.Width / content.Width, contentY * client.Height / content.Height
	}
	return contentX, contentY
}

// click dispatches to ClickClient (window mode) or ClickScreen (monitor
// mode), per spec.md §4.7 step 1c. Coordinates are already in click
// space (see mapToClickSpace).
func (w *Worker) click(x, y int) error {
	opts := action.ClickOptions{
		EnhancedFinding: w.cfg.EnhancedWindowFinding,
		VerifyWindow:    w.cfg.VerifyWindowBeforeClick,
		SendMouseMove:   w.cfg.SendMouseMoveBeforeClick,
		FindDeepChild:   true,
	}
	if w.capture.Mode() == capture.ModeMonitor {
		return w.clicker.ClickScreen(x, y, opts)
	}
	return w.clicker.ClickClient(w.capture.Handle(), x, y, opts)
}

// nextScanAt applies the interval floor and, on an empty-frame streak, the
// exponential backoff from spec.md §4.7 step 1d.
func (w *Worker) nextScanAt() time.Time {
	interval := time.Duration(w.cfg.IntervalMs) * time.Millisecond
	if interval < time.Millisecond {
		interval = time.Millisecond
	}
	if w.emptyStreak > 0 {
		streak := w.emptyStreak
		if streak > maxEmptyStreak {
			streak = maxEmptyStreak
		}
		backoff := time.Duration(float64(interval) * (1 + 0.5*float64(streak)))
		if backoff < backoffFloor {
			backoff = backoffFloor
		}
		if backoff > backoffCeiling {
			backoff = backoffCeiling
		}
		return now().Add(backoff)
	}
	return now().Add(interval)
}

func (w *Worker) maybeEmitStatus(phase string) {
	label := w.capture.Mode().String()
	if time.Since(w.lastStatusEmit) < statusEmitMin && label == w.lastBackendLabel {
		return
	}
	w.lastStatusEmit = now()
	w.lastBackendLabel = label
	w.emitStatus(ScannerStatus{Running: true, PhaseText: phase, BackendLabel: label, ScanCount: w.scanCount, Timestamp: now()})
}

func (w *Worker) emitStatus(s ScannerStatus) {
	select {
	case w.statusCh <- s:
	default: // drop rather than block the scan loop on a full status channel
	}
}

func (w *Worker) emitLog(msg string) {
	select {
	case w.logCh <- msg:
	default:
	}
}
