package target

import (
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const (
	// minAdoptArea keeps non-foreground hook events from switching the
	// finder onto tool windows and dialogs.
	minAdoptArea = 160 * 120
	// periodicBetterArea is the stricter bar a polled candidate must
	// clear to replace a still-valid current handle.
	periodicBetterArea = 200 * 150

	stopJoinTimeout = 2 * time.Second
	eventChanCap    = 16
)

// Finder is spec.md's C9 SmartTargetFinder: it resolves a configured
// process identifier to a live window handle via a priority-ordered
// strategy list, keeps the handle fresh through an OS window-event hook,
// and re-acquires it when the target window is recreated.
type Finder struct {
	source WindowSource
	info   InfoProvider
	hook   EventHook

	mu           sync.Mutex
	policy       Policy
	target       string
	partial      bool
	current      uintptr
	strategies   [strategyCount]strategyState
	interval     time.Duration
	recovering   bool
	recoveryTry  int
	lastRecovery time.Time

	events  chan Event
	stopCh  chan struct{}
	wakeCh  chan struct{}
	doneCh  chan struct{}
	started bool
}

// New builds a Finder over the given window source, info provider, and
// event hook. The hook may be nil to run polling-only.
func New(source WindowSource, info InfoProvider, hook EventHook, policy Policy) *Finder {
	f := &Finder{
		source:   source,
		info:     info,
		hook:     hook,
		policy:   policy,
		interval: policy.BaseInterval,
		events:   make(chan Event, eventChanCap),
		wakeCh:   make(chan struct{}, 1),
	}
	for id := StrategyID(0); id < strategyCount; id++ {
		f.strategies[id].enabled = policy.Strategies[id]
	}
	return f
}

// Events returns the channel HandleAcquired/HandleLost transitions are
// published on. Events are dropped, not blocked on, when the consumer
// falls behind.
func (f *Finder) Events() <-chan Event { return f.events }

// SetTarget replaces the process identifier the finder searches for. A
// target change drops the current handle (without a HandleLost, since the
// old target is simply no longer of interest) and resets the adaptive
// interval and recovery counters.
func (f *Finder) SetTarget(text string, partial bool) {
	f.mu.Lock()
	changed := text != f.target || partial != f.partial
	f.target = text
	f.partial = partial
	if changed {
		f.current = 0
		f.interval = f.policy.BaseInterval
		f.recovering = false
		f.recoveryTry = 0
	}
	f.mu.Unlock()
	if changed {
		f.wake()
	}
}

// SetStrategyEnabled toggles one strategy. Counters are preserved, so
// disabling and re-enabling returns the finder to its prior search order.
func (f *Finder) SetStrategyEnabled(id StrategyID, enabled bool) {
	if id < 0 || id >= strategyCount {
		return
	}
	f.mu.Lock()
	f.strategies[id].enabled = enabled
	f.mu.Unlock()
}

// CurrentHandle returns the handle the finder currently considers the
// target window, or 0.
func (f *Finder) CurrentHandle() uintptr {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current
}

// Interval returns the current adaptive polling interval.
func (f *Finder) Interval() time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.interval
}

// Start launches the search loop and installs the event hook. Calling
// Start on a running finder is a no-op.
func (f *Finder) Start() {
	f.mu.Lock()
	if f.started {
		f.mu.Unlock()
		return
	}
	f.started = true
	f.stopCh = make(chan struct{})
	f.doneCh = make(chan struct{})
	f.mu.Unlock()

	if f.hook != nil {
		// A failed hook install degrades to polling-only.
		_ = f.hook.Install(f.handleHookEvent)
	}
	go f.run()
}

// Stop signals the search loop, uninstalls the event hook, and waits for
// the loop to exit, bounded by stopJoinTimeout.
func (f *Finder) Stop() {
	f.mu.Lock()
	if !f.started {
		f.mu.Unlock()
		return
	}
	f.started = false
	close(f.stopCh)
	done := f.doneCh
	f.mu.Unlock()

	if f.hook != nil {
		f.hook.Uninstall()
	}
	select {
	case <-done:
	case <-time.After(stopJoinTimeout):
	}
}

// ForceSearch runs one synchronous strategy search and returns the
// resulting handle (0 if nothing matched).
func (f *Finder) ForceSearch() uintptr {
	f.tick(time.Now())
	return f.CurrentHandle()
}

func (f *Finder) run() {
	defer close(f.doneCh)
	for {
		f.tick(time.Now())
		select {
		case <-f.stopCh:
			return
		case <-f.wakeCh:
		case <-time.After(f.Interval()):
		}
	}
}

func (f *Finder) wake() {
	select {
	case f.wakeCh <- struct{}{}:
	default:
	}
}

// tick is one pass of the search loop: validate the current handle,
// opportunistically look for a better main window, or run the strategy
// search when no handle is held.
func (f *Finder) tick(now time.Time) {
	f.mu.Lock()
	targetText, partial, current := f.target, f.partial, f.current
	f.mu.Unlock()

	if targetText == "" {
		return
	}

	if current != 0 {
		if !f.info.IsWindowValid(current) {
			f.mu.Lock()
			f.current = 0
			f.recovering = f.policy.EnableRecovery
			f.mu.Unlock()
			f.emit(Event{Kind: EventHandleLost, Handle: current, ProcessName: processBasename(targetText)})
			f.search(now)
			return
		}
		f.checkForBetterCandidate(targetText, partial, current, now)
		return
	}
	f.search(now)
}

// checkForBetterCandidate handles the target's main window being
// recreated while an old (still-valid) auxiliary window lingers: a polled
// process-name candidate replaces the current handle only when its area
// clears periodicBetterArea.
func (f *Finder) checkForBetterCandidate(targetText string, partial bool, current uintptr, now time.Time) {
	candidate := matchProcessName(targetText, partial, f.source.TopLevelWindows())
	if candidate == 0 || candidate == current {
		return
	}
	areaNew := f.info.WindowArea(candidate)
	areaCur := f.info.WindowArea(current)
	if areaNew > max(areaCur, periodicBetterArea) {
		f.adopt(candidate, now)
	}
}

// search runs the enabled strategies in order and adopts the first match,
// then adapts the polling interval: widen on success, narrow on failure.
func (f *Finder) search(now time.Time) {
	f.mu.Lock()
	if f.recovering {
		if f.recoveryTry >= f.policy.MaxRecoveryTries {
			f.mu.Unlock()
			return
		}
		if !f.lastRecovery.IsZero() && now.Sub(f.lastRecovery) < f.policy.RecoveryCooldown {
			f.mu.Unlock()
			return
		}
		f.recoveryTry++
		f.lastRecovery = now
	}
	targetText, partial := f.target, f.partial
	order := searchOrder(&f.strategies)
	f.mu.Unlock()

	wins := f.source.TopLevelWindows()
	for _, id := range order {
		hwnd := runStrategy(id, targetText, partial, wins)
		f.mu.Lock()
		f.strategies[id].record(hwnd != 0, now)
		f.mu.Unlock()
		if hwnd != 0 {
			f.adopt(hwnd, now)
			return
		}
	}
	f.adaptInterval(false)
}

// handleHookEvent evaluates one OS window event as a candidate handle. It
// runs on the hook's delivery thread, so it must not block.
func (f *Finder) handleHookEvent(ev HookEvent) {
	f.mu.Lock()
	targetText, current := f.target, f.current
	f.mu.Unlock()

	if targetText == "" || ev.Handle == 0 {
		return
	}
	info, ok := f.info.Describe(ev.Handle)
	if !ok || !processMatches(targetText, info.ProcessPath) {
		return
	}
	if !f.info.IsWindowValid(ev.Handle) {
		return
	}
	now := time.Now()
	if current == 0 {
		f.adopt(ev.Handle, now)
		return
	}
	if ev.Handle == current {
		return
	}
	if ev.Kind == HookForeground {
		f.adopt(ev.Handle, now)
		return
	}
	areaNew := f.info.WindowArea(ev.Handle)
	if areaNew > 0 && areaNew >= max(f.info.WindowArea(current), minAdoptArea) {
		f.adopt(ev.Handle, now)
	}
}

// adopt makes hwnd the current handle, resets recovery state, widens the
// polling interval, and publishes HandleAcquired.
func (f *Finder) adopt(hwnd uintptr, now time.Time) {
	f.mu.Lock()
	f.current = hwnd
	f.recovering = false
	f.recoveryTry = 0
	f.mu.Unlock()
	f.adaptInterval(true)

	ev := Event{Kind: EventHandleAcquired, Handle: hwnd}
	if info, ok := f.info.Describe(hwnd); ok {
		ev.ProcessName = filepath.Base(info.ProcessPath)
		ev.Title = info.Title
	}
	f.emit(ev)
}

func (f *Finder) adaptInterval(success bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if success {
		f.interval = min(f.policy.MaxInterval, time.Duration(float64(f.interval)*1.2))
	} else {
		f.interval = max(f.policy.MinInterval, time.Duration(float64(f.interval)*0.8))
	}
}

func (f *Finder) emit(ev Event) {
	select {
	case f.events <- ev:
	default:
	}
}

// processMatches reports whether a window's owning-process path belongs
// to the configured target: the target must be a substring of either the
// process basename or its full path.
func processMatches(targetText, processPath string) bool {
	if processPath == "" {
		return false
	}
	want := strings.ToLower(targetText)
	if strings.Contains(strings.ToLower(filepath.Base(processPath)), want) {
		return true
	}
	return strings.Contains(strings.ToLower(processPath), want)
}

func processBasename(targetText string) string {
	return filepath.Base(targetText)
}
