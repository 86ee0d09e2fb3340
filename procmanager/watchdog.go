package procmanager

import (
	"math"
	"time"
)

const maxRetryBackoff = 6 * time.Second

// startWatchdog arms a one-shot timer that fires if no running=true status
// arrives before the dynamically-expanded timeout elapses. Grounded on
// scanner_process.py's startup_watchdog: timeout = base * 1.6^(attempt-1),
// capped at maxWatchdogTimeout. The caller (Start) holds m.mu.
func (m *Manager) startWatchdog(token uint64) {
	m.stopWatchdogLocked()

	timeout := watchdogTimeout(m.startupAttempt)
	m.watchdog = time.AfterFunc(timeout, func() { m.onWatchdogTimeout(token) })
	m.logf("startup watchdog armed: timeout=%s attempt=%d", timeout, m.startupAttempt)
}

func (m *Manager) stopWatchdogLocked() {
	if m.watchdog != nil {
		m.watchdog.Stop()
		m.watchdog = nil
	}
}

func watchdogTimeout(attempt int) time.Duration {
	d := time.Duration(float64(baseStartupTimeout) * math.Pow(1.6, float64(attempt-1)))
	if d > maxWatchdogTimeout {
		d = maxWatchdogTimeout
	}
	return d
}

// onWatchdogTimeout fires when no readiness handshake arrived in time. If
// the session has since gone stale or become ready, it's ignored;
// otherwise the process is torn down and retried with exponential
// backoff, up to maxStartupAttempts.
func (m *Manager) onWatchdogTimeout(token uint64) {
	if m.isSessionStale(token) {
		return
	}
	m.mu.Lock()
	ready := m.ready
	m.mu.Unlock()
	if ready {
		return
	}

	m.logf("scanner subprocess startup timed out without a readiness handshake")
	m.emitProgress("startup timed out, attempting automatic restart")
	m.cleanup(token)

	m.mu.Lock()
	attempt := m.startupAttempt
	cfg := m.currentConfig
	m.mu.Unlock()

	if attempt >= maxStartupAttempts {
		if m.callbacks.OnError != nil {
			m.callbacks.OnError("scanner subprocess failed to start after repeated attempts")
		}
		return
	}

	delay := time.Duration(float64(800*time.Millisecond) * math.Pow(1.6, float64(attempt-1)))
	if delay > maxRetryBackoff {
		delay = maxRetryBackoff
	}
	m.logf("retrying scanner subprocess startup in %s (attempt %d)", delay, attempt+1)
	time.AfterFunc(delay, func() { m.Start(cfg) })
}
