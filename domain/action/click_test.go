//go:build windows

package action

import "testing"

func TestMakeLParamPacksXYIntoWordHalves(t *testing.T) {
	cases := []struct {
		x, y int
		want uintptr
	}{
		{0, 0, 0},
		{1, 0, 1},
		{0, 1, 1 << 16},
		{640, 480, uintptr(480)<<16 | 640},
	}
	for _, c := range cases {
		if got := makeLParam(c.x, c.y); got != c.want {
			t.Errorf("makeLParam(%d,%d) = 0x%08x, want 0x%08x", c.x, c.y, got, c.want)
		}
	}
}

func TestDeepChildFromPointStopsAtZeroDepth(t *testing.T) {
	// With depth exhausted before any lookup, the starting handle (even a
	// bogus one) must be returned unchanged rather than dereferenced
	// further. This is the recursion's base case, independent of any
	// live window, so it's safe to exercise without a real HWND.
	const fakeHandle = uintptr(0xDEADBEEF)
	if got := deepChildFromPoint(fakeHandle, 10, 10, 0); got != fakeHandle {
		t.Errorf("deepChildFromPoint at depth 0 = %v, want unchanged handle %v", got, fakeHandle)
	}
}

func TestDeepChildFromPointNoWindowAtOrigin(t *testing.T) {
	// hwnd=0 forces a fresh WindowFromPoint lookup; a point with no
	// window underneath it (far off-screen) must yield 0, not panic.
	if got := deepChildFromPoint(0, -100000, -100000, maxDeepChildDepth); got != 0 {
		t.Errorf("deepChildFromPoint at an empty point = %v, want 0", got)
	}
}
