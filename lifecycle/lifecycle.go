// Package lifecycle implements spec.md's C10 AppLifecycle: an ordered
// cleanup-callback registry that runs on SIGINT/SIGTERM within a bounded
// shutdown timeout, force-exiting if callbacks don't finish in time.
package lifecycle

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
)

const defaultShutdownTimeout = 10 * time.Second

// cleanup is one registered (name, callback) pair.
type cleanup struct {
	name string
	fn   func(ctx context.Context)
}

// Lifecycle owns the process's shutdown-signal handling and an ordered
// cleanup registry.
type Lifecycle struct {
	log     *zap.SugaredLogger
	timeout time.Duration

	mu        sync.Mutex
	callbacks []cleanup
	shutdown  bool
	done      chan struct{}

	sigCh chan os.Signal
}

// New builds a Lifecycle with the given shutdown timeout (0 uses the
// spec's 10s default).
func New(log *zap.SugaredLogger, timeout time.Duration) *Lifecycle {
	if timeout <= 0 {
		timeout = defaultShutdownTimeout
	}
	return &Lifecycle{log: log, timeout: timeout, done: make(chan struct{})}
}

// Register appends a named cleanup callback, run in registration order on
// shutdown.
func (l *Lifecycle) Register(name string, fn func(ctx context.Context)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.callbacks = append(l.callbacks, cleanup{name: name, fn: fn})
}

// WaitForSignal blocks until SIGINT/SIGTERM, then runs Shutdown(false) and
// returns once it has finished (or the process force-exits on timeout);
// callers typically call this from main() as their final blocking step.
func (l *Lifecycle) WaitForSignal() {
	l.sigCh = make(chan os.Signal, 1)
	signal.Notify(l.sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-l.sigCh
	if l.log != nil {
		l.log.Info("shutdown signal received")
	}
	l.Shutdown(false)
}

// Shutdown invokes every registered callback in order, each given up to
// the remaining portion of the overall timeout budget; if the full
// timeout elapses before all callbacks finish, the process force-exits
// with code 1. A second call is a no-op unless force is true (spec.md
// §4.10's re-entrancy rule).
func (l *Lifecycle) Shutdown(force bool) {
	l.mu.Lock()
	if l.shutdown && !force {
		l.mu.Unlock()
		return
	}
	l.shutdown = true
	callbacks := append([]cleanup(nil), l.callbacks...)
	l.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), l.timeout)
	defer cancel()

	finished := make(chan struct{})
	go func() {
		defer close(finished)
		for _, cb := range callbacks {
			if ctx.Err() != nil {
				if l.log != nil {
					l.log.Warnw("shutdown timeout elapsed, skipping remaining callbacks", "skipped", cb.name)
				}
				return
			}
			if l.log != nil {
				l.log.Infow("running shutdown callback", "name", cb.name)
			}
			cb.fn(ctx)
		}
	}()

	select {
	case <-finished:
		l.mu.Lock()
		select {
		case <-l.done: // already closed by an earlier run
		default:
			close(l.done)
		}
		l.mu.Unlock()
	case <-ctx.Done():
		if l.log != nil {
			l.log.Error("shutdown timed out, forcing exit")
		}
		os.Exit(1)
	}
}

// Done returns a channel closed once Shutdown's callbacks have all run to
// completion (never closed if a timeout forced os.Exit first).
func (l *Lifecycle) Done() <-chan struct{} { return l.done }
