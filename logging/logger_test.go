package logging

import "testing"

func TestNewDebugOverridesLevel(t *testing.T) {
	log, err := New("error", true)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if log == nil {
		t.Fatal("New() returned nil logger")
	}
}

func TestNewFallsBackToInfoOnUnknownLevel(t *testing.T) {
	log, err := New("not-a-level", false)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if log == nil {
		t.Fatal("New() returned nil logger")
	}
}
