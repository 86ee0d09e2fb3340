package target

import (
	"reflect"
	"testing"
	"time"
)

var finderTestEpoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

type fakeSource struct{ wins []WindowInfo }

func (s *fakeSource) TopLevelWindows() []WindowInfo { return s.wins }

type fakeInfo struct {
	valid map[uintptr]bool
	areas map[uintptr]int
	infos map[uintptr]WindowInfo
}

func (i *fakeInfo) IsWindowValid(hwnd uintptr) bool { return i.valid[hwnd] }
func (i *fakeInfo) WindowArea(hwnd uintptr) int     { return i.areas[hwnd] }
func (i *fakeInfo) Describe(hwnd uintptr) (WindowInfo, bool) {
	w, ok := i.infos[hwnd]
	return w, ok
}

func newTestFinder(wins []WindowInfo, info *fakeInfo) *Finder {
	if info.valid == nil {
		info.valid = map[uintptr]bool{}
	}
	if info.areas == nil {
		info.areas = map[uintptr]int{}
	}
	if info.infos == nil {
		info.infos = map[uintptr]WindowInfo{}
	}
	return New(&fakeSource{wins: wins}, info, nil, DefaultPolicy())
}

func drainEvents(f *Finder) []Event {
	var out []Event
	for {
		select {
		case ev := <-f.Events():
			out = append(out, ev)
		default:
			return out
		}
	}
}

func TestSearchOrderFollowsDescendingPriority(t *testing.T) {
	var states [strategyCount]strategyState
	for i := range states {
		states[i].enabled = true
	}
	got := searchOrder(&states)
	want := []StrategyID{StrategyProcessName, StrategyProcessPath, StrategyWindowTitle, StrategyClassName, StrategyFuzzyTitle}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("searchOrder = %v, want %v", got, want)
	}
}

func TestStrategyDisableEnableRoundTripRestoresOrder(t *testing.T) {
	f := newTestFinder(nil, &fakeInfo{})
	f.strategies[StrategyProcessPath].record(true, finderTestEpoch)
	before := searchOrder(&f.strategies)

	f.SetStrategyEnabled(StrategyProcessPath, false)
	disabled := searchOrder(&f.strategies)
	for _, id := range disabled {
		if id == StrategyProcessPath {
			t.Fatalf("disabled strategy %v still in search order %v", StrategyProcessPath, disabled)
		}
	}

	f.SetStrategyEnabled(StrategyProcessPath, true)
	after := searchOrder(&f.strategies)
	if !reflect.DeepEqual(before, after) {
		t.Errorf("order after re-enable = %v, want %v", after, before)
	}
}

func TestFuzzyTokensSplitOnDotAndUnderscoreKeepingLongTokens(t *testing.T) {
	got := fuzzyTokens("my_App.EXE")
	want := []string{"app", "exe"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("fuzzyTokens = %v, want %v", got, want)
	}
	if toks := fuzzyTokens("a_b.c"); len(toks) != 0 {
		t.Errorf("fuzzyTokens(short) = %v, want none", toks)
	}
}

func TestMatchProcessNameExactBeforePartial(t *testing.T) {
	wins := []WindowInfo{
		{Handle: 1, ProcessPath: "C:/tools/notepad-helper.exe", Visible: true},
		{Handle: 2, ProcessPath: "C:/windows/notepad.exe", Visible: true},
	}
	if h := matchProcessName("notepad.exe", true, wins); h != 2 {
		t.Errorf("exact match handle = %d, want 2", h)
	}
	if h := matchProcessName("notepad", true, wins); h != 1 {
		t.Errorf("partial match handle = %d, want 1 (first substring hit)", h)
	}
	if h := matchProcessName("notepad", false, wins); h != 0 {
		t.Errorf("strict mode handle = %d, want 0", h)
	}
}

func TestMatchProcessPathRequiresPathShapedTarget(t *testing.T) {
	wins := []WindowInfo{{Handle: 7, ProcessPath: "C:/apps/ide/ide.exe", Visible: true}}
	if h := matchProcessPath("ide.exe", wins); h != 0 {
		t.Errorf("bare name matched by path strategy: handle = %d", h)
	}
	if h := matchProcessPath("C:/apps/ide/ide.exe", wins); h != 7 {
		t.Errorf("full path match handle = %d, want 7", h)
	}
}

func TestSearchSkipsInvisibleWindows(t *testing.T) {
	wins := []WindowInfo{
		{Handle: 1, Title: "Package Manager", Visible: false},
		{Handle: 2, Title: "Package Manager", Visible: true},
	}
	if h := matchSubstring("package", wins, func(w WindowInfo) string { return w.Title }); h != 2 {
		t.Errorf("title match handle = %d, want 2", h)
	}
}

func TestTickAdoptsFirstMatchAndEmitsAcquired(t *testing.T) {
	info := &fakeInfo{
		valid: map[uintptr]bool{5: true},
		infos: map[uintptr]WindowInfo{5: {Handle: 5, Title: "IDE", ProcessPath: "C:/apps/ide.exe"}},
	}
	f := newTestFinder([]WindowInfo{{Handle: 5, Title: "IDE", ProcessPath: "C:/apps/ide.exe", Visible: true}}, info)
	f.SetTarget("ide.exe", true)

	f.tick(finderTestEpoch)

	if got := f.CurrentHandle(); got != 5 {
		t.Fatalf("CurrentHandle = %d, want 5", got)
	}
	evs := drainEvents(f)
	if len(evs) != 1 || evs[0].Kind != EventHandleAcquired || evs[0].Handle != 5 {
		t.Fatalf("events = %+v, want one HandleAcquired for 5", evs)
	}
	if evs[0].ProcessName != "ide.exe" || evs[0].Title != "IDE" {
		t.Errorf("event identity = %q/%q, want ide.exe/IDE", evs[0].ProcessName, evs[0].Title)
	}
}

func TestTickEmitsLostAndReacquiresWhenHandleDies(t *testing.T) {
	info := &fakeInfo{
		valid: map[uintptr]bool{5: false, 9: true},
		infos: map[uintptr]WindowInfo{9: {Handle: 9, Title: "IDE", ProcessPath: "C:/apps/ide.exe"}},
	}
	f := newTestFinder([]WindowInfo{{Handle: 9, ProcessPath: "C:/apps/ide.exe", Visible: true}}, info)
	f.SetTarget("ide.exe", true)
	f.current = 5

	f.tick(finderTestEpoch)

	evs := drainEvents(f)
	if len(evs) != 2 {
		t.Fatalf("got %d events %+v, want lost-then-acquired", len(evs), evs)
	}
	if evs[0].Kind != EventHandleLost || evs[0].Handle != 5 {
		t.Errorf("first event = %+v, want HandleLost(5)", evs[0])
	}
	if evs[1].Kind != EventHandleAcquired || evs[1].Handle != 9 {
		t.Errorf("second event = %+v, want HandleAcquired(9)", evs[1])
	}
}

func TestRecoveryRespectsCooldownAndTryCap(t *testing.T) {
	info := &fakeInfo{valid: map[uintptr]bool{}}
	f := newTestFinder(nil, info)
	f.policy.MaxRecoveryTries = 2
	f.policy.RecoveryCooldown = 10 * time.Second
	f.SetTarget("gone.exe", true)
	f.recovering = true

	f.search(finderTestEpoch)
	if f.recoveryTry != 1 {
		t.Fatalf("recoveryTry = %d after first attempt, want 1", f.recoveryTry)
	}
	// Inside the cooldown window nothing should run.
	f.search(finderTestEpoch.Add(time.Second))
	if f.recoveryTry != 1 {
		t.Errorf("recoveryTry = %d inside cooldown, want still 1", f.recoveryTry)
	}
	f.search(finderTestEpoch.Add(11 * time.Second))
	if f.recoveryTry != 2 {
		t.Errorf("recoveryTry = %d after cooldown, want 2", f.recoveryTry)
	}
	// Cap reached: further attempts are refused.
	f.search(finderTestEpoch.Add(30 * time.Second))
	if f.recoveryTry != 2 {
		t.Errorf("recoveryTry = %d past cap, want 2", f.recoveryTry)
	}
}

func TestAdaptiveIntervalStaysWithinBounds(t *testing.T) {
	f := newTestFinder(nil, &fakeInfo{})
	for i := 0; i < 50; i++ {
		f.adaptInterval(true)
	}
	if got := f.Interval(); got != f.policy.MaxInterval {
		t.Errorf("interval after successes = %s, want max %s", got, f.policy.MaxInterval)
	}
	for i := 0; i < 100; i++ {
		f.adaptInterval(false)
	}
	if got := f.Interval(); got != f.policy.MinInterval {
		t.Errorf("interval after failures = %s, want min %s", got, f.policy.MinInterval)
	}
}

func TestForegroundHookEventSwitchesWithoutLost(t *testing.T) {
	info := &fakeInfo{
		valid: map[uintptr]bool{1: true, 2: true},
		areas: map[uintptr]int{1: 800 * 600, 2: 100 * 80},
		infos: map[uintptr]WindowInfo{
			1: {Handle: 1, Title: "IDE - main", ProcessPath: "C:/apps/ide.exe"},
			2: {Handle: 2, Title: "IDE - prompt", ProcessPath: "C:/apps/ide.exe"},
		},
	}
	f := newTestFinder(nil, info)
	f.SetTarget("ide.exe", true)
	f.current = 1

	f.handleHookEvent(HookEvent{Kind: HookForeground, Handle: 2})

	if got := f.CurrentHandle(); got != 2 {
		t.Fatalf("CurrentHandle = %d, want 2", got)
	}
	evs := drainEvents(f)
	if len(evs) != 1 || evs[0].Kind != EventHandleAcquired || evs[0].Handle != 2 {
		t.Fatalf("events = %+v, want exactly one HandleAcquired(2)", evs)
	}
}

func TestNonForegroundHookEventNeedsMateriallyLargerWindow(t *testing.T) {
	info := &fakeInfo{
		valid: map[uintptr]bool{1: true, 2: true, 3: true},
		areas: map[uintptr]int{1: 800 * 600, 2: 100 * 80, 3: 1920 * 1080},
		infos: map[uintptr]WindowInfo{
			1: {Handle: 1, ProcessPath: "C:/apps/ide.exe"},
			2: {Handle: 2, ProcessPath: "C:/apps/ide.exe"},
			3: {Handle: 3, ProcessPath: "C:/apps/ide.exe"},
		},
	}
	f := newTestFinder(nil, info)
	f.SetTarget("ide.exe", true)
	f.current = 1

	// A small tool window must not steal the handle.
	f.handleHookEvent(HookEvent{Kind: HookCreateOrShow, Handle: 2})
	if got := f.CurrentHandle(); got != 1 {
		t.Fatalf("CurrentHandle = %d after small-window event, want 1", got)
	}

	f.handleHookEvent(HookEvent{Kind: HookCreateOrShow, Handle: 3})
	if got := f.CurrentHandle(); got != 3 {
		t.Errorf("CurrentHandle = %d after larger-window event, want 3", got)
	}
}

func TestHookEventIgnoresForeignProcess(t *testing.T) {
	info := &fakeInfo{
		valid: map[uintptr]bool{4: true},
		infos: map[uintptr]WindowInfo{4: {Handle: 4, ProcessPath: "C:/other/browser.exe"}},
	}
	f := newTestFinder(nil, info)
	f.SetTarget("ide.exe", true)

	f.handleHookEvent(HookEvent{Kind: HookForeground, Handle: 4})

	if got := f.CurrentHandle(); got != 0 {
		t.Errorf("CurrentHandle = %d, want 0 for foreign-process event", got)
	}
	if evs := drainEvents(f); len(evs) != 0 {
		t.Errorf("events = %+v, want none", evs)
	}
}

func TestSetTargetChangeDropsHandleSilently(t *testing.T) {
	f := newTestFinder(nil, &fakeInfo{})
	f.SetTarget("ide.exe", true)
	f.current = 7
	f.interval = 20 * time.Second

	f.SetTarget("other.exe", true)

	if got := f.CurrentHandle(); got != 0 {
		t.Errorf("CurrentHandle = %d after retarget, want 0", got)
	}
	if got := f.Interval(); got != f.policy.BaseInterval {
		t.Errorf("interval after retarget = %s, want base %s", got, f.policy.BaseInterval)
	}
	if evs := drainEvents(f); len(evs) != 0 {
		t.Errorf("events = %+v, want none on retarget", evs)
	}
}

func TestPeriodicBetterCandidateReplacesSmallerCurrent(t *testing.T) {
	wins := []WindowInfo{{Handle: 9, ProcessPath: "C:/apps/ide.exe", Visible: true}}
	info := &fakeInfo{
		valid: map[uintptr]bool{5: true, 9: true},
		areas: map[uintptr]int{5: 100 * 80, 9: 1280 * 720},
		infos: map[uintptr]WindowInfo{9: {Handle: 9, Title: "IDE", ProcessPath: "C:/apps/ide.exe"}},
	}
	f := newTestFinder(wins, info)
	f.SetTarget("ide.exe", true)
	f.current = 5

	f.tick(finderTestEpoch)

	if got := f.CurrentHandle(); got != 9 {
		t.Fatalf("CurrentHandle = %d, want 9 (rebuilt main window)", got)
	}
	evs := drainEvents(f)
	if len(evs) != 1 || evs[0].Kind != EventHandleAcquired {
		t.Errorf("events = %+v, want single HandleAcquired", evs)
	}
}

func TestStartStopIsBoundedAndIdempotent(t *testing.T) {
	info := &fakeInfo{}
	f := newTestFinder(nil, info)
	f.SetTarget("ide.exe", true)

	f.Start()
	f.Start()
	done := make(chan struct{})
	go func() {
		f.Stop()
		f.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("Stop did not return within bound")
	}
}
