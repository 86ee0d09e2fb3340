package lifecycle

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestShutdownRunsCallbacksInRegistrationOrder(t *testing.T) {
	l := New(nil, time.Second)
	var mu sync.Mutex
	var order []string
	for _, name := range []string{"a", "b", "c"} {
		name := name
		l.Register(name, func(ctx context.Context) {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
		})
	}

	l.Shutdown(false)

	mu.Lock()
	defer mu.Unlock()
	if len(order) != 3 || order[0] != "a" || order[1] != "b" || order[2] != "c" {
		t.Errorf("callback order = %v, want [a b c]", order)
	}
}

func TestShutdownIsIdempotentWithoutForce(t *testing.T) {
	l := New(nil, time.Second)
	var calls int
	l.Register("once", func(ctx context.Context) { calls++ })

	l.Shutdown(false)
	l.Shutdown(false)

	if calls != 1 {
		t.Errorf("calls = %d, want 1 (second Shutdown should be a no-op)", calls)
	}
}

func TestShutdownClosesDoneOnSuccess(t *testing.T) {
	l := New(nil, time.Second)
	l.Register("noop", func(ctx context.Context) {})
	l.Shutdown(false)

	select {
	case <-l.Done():
	case <-time.After(time.Second):
		t.Fatal("Done() channel was not closed after successful shutdown")
	}
}
