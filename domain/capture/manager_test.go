//go:build windows

package capture

import "testing"

func TestBaseNameStripsDirectory(t *testing.T) {
	cases := map[string]string{
		`C:\Program Files\App\app.exe`: "app.exe",
		`/usr/bin/app`:                 "app",
		"app.exe":                      "app.exe",
		"":                             "",
	}
	for in, want := range cases {
		if got := baseName(in); got != want {
			t.Errorf("baseName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestMonitorBoundsRejectsOutOfRangeIndex(t *testing.T) {
	// A negative index is out of range regardless of how many displays
	// the test runner actually has attached.
	if _, err := monitorBounds(-1); err == nil {
		t.Error("expected an error for a negative monitor index")
	}
}

func TestResolveWindowRejectsInvalidHandle(t *testing.T) {
	m := NewCaptureManager(SessionOptions{FPSMax: 30})
	_, err := m.resolveWindow(TargetSpec{Kind: TargetHandle, Handle: 0xDEADBEEF})
	if err == nil {
		t.Error("expected resolveWindow to reject a handle that is not a live window")
	}
}

func TestResolveWindowUnsupportedKind(t *testing.T) {
	m := NewCaptureManager(SessionOptions{FPSMax: 30})
	_, err := m.resolveWindow(TargetSpec{Kind: TargetMonitorIndex})
	if err == nil {
		t.Error("expected resolveWindow to reject a monitor-index target")
	}
}
