// Package procmanager implements spec.md's C8 ScannerProcessManager: the
// controller-side owner of the scanner subprocess. Grounded on
// original_source/workers/scanner_process.py's ScannerProcessManager class
// (session-token staleness guard, 1.6^(attempt-1) startup-watchdog
// backoff, adaptive per-tick budgeted queue drain, readiness handshake on
// the first running=true status) and on LanternOps-breeze's
// agent/internal/executor/executor.go (context-cancellable exec.Cmd
// lifecycle tracking) and agent/cmd/breeze-agent/main.go (graceful-drain
// shutdown sequencing).
package procmanager

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/soocke/sentinel/domain/scanner"
	"github.com/soocke/sentinel/ipc"
)

const (
	stopGracePeriod    = 1200 * time.Millisecond
	exitJoinTimeout    = 2 * time.Second
	killTimeout        = time.Second
	maxStartupAttempts = 3
	baseStartupTimeout = 3 * time.Second
	maxWatchdogTimeout = 12 * time.Second
)

// Callbacks receives events the subprocess reports, standing in for the
// GUI-layer signal emission in the original Qt implementation.
type Callbacks struct {
	OnStatus   func(scanner.ScannerStatus)
	OnHit      func(scanner.MatchHit)
	OnLog      func(string)
	OnProgress func(string)
	OnError    func(string)
}

// WorkerCommand is the exec.Command argv used to spawn the scanner
// subprocess: os.Args[0] plus whatever hidden-subcommand args select the
// scan-worker entrypoint (cmd/sentinel wires the real value in).
type WorkerCommand struct {
	Path string
	Args []string
}

// Manager owns a scanner subprocess's full lifecycle: spawn, IPC framing,
// adaptive polling, startup watchdog with retry, and graceful shutdown.
type Manager struct {
	log       *zap.SugaredLogger
	callbacks Callbacks
	workerCmd WorkerCommand

	mu            sync.Mutex
	sessionToken  atomic.Uint64
	running       atomic.Bool
	ready         bool
	currentConfig scanner.ScannerConfig

	cmd    *exec.Cmd
	conn   *ipc.Conn
	cancel context.CancelFunc
	wg     sync.WaitGroup

	watchdog       *time.Timer
	startupAttempt int

	poller *poller
}

// New builds a Manager that spawns workerCmd as the scanner subprocess.
func New(log *zap.SugaredLogger, workerCmd WorkerCommand, cb Callbacks) *Manager {
	return &Manager{log: log, workerCmd: workerCmd, callbacks: cb}
}

// Start spawns the subprocess, wires IPC framing over its stdio, and
// starts a fresh session (incrementing session_token so any pending
// callback from a previous session becomes a no-op), per spec.md §4.8.
func (m *Manager) Start(cfg scanner.ScannerConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running.Load() {
		return fmt.Errorf("procmanager: already running")
	}

	token := m.sessionToken.Add(1)
	m.currentConfig = cfg
	m.ready = false
	m.startupAttempt++

	ctx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(ctx, m.workerCmd.Path, m.workerCmd.Args...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		cancel()
		return fmt.Errorf("procmanager: stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return fmt.Errorf("procmanager: stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return fmt.Errorf("procmanager: spawn scanner subprocess: %w", err)
	}

	m.cmd = cmd
	m.cancel = cancel
	m.conn = ipc.NewConn(stdioConn{WriteCloser: stdin, ReadCloser: stdout})
	m.running.Store(true)

	if err := m.conn.SendTyped(ipc.TypeCommand, scanner.ScannerCommand{Kind: scanner.CommandStart, Config: cfg}); err != nil {
		m.logf("failed sending start command: %v", err)
	}

	m.poller = newPoller(m.conn, m.handleEnvelope)
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.poller.run(ctx)
	}()

	m.startWatchdog(token)
	m.emitProgress("scanner subprocess started, awaiting readiness handshake")
	return nil
}

// Stop sends Stop then Exit with a bounded grace period, joins the
// subprocess, and force-kills it if it outlives the deadline (spec.md
// §4.8's graceful shutdown ladder.
func (m *Manager) Stop() error {
	m.mu.Lock()
	conn := m.conn
	cmd := m.cmd
	cancel := m.cancel
	token := m.sessionToken.Load()
	m.mu.Unlock()

	if conn == nil {
		return nil
	}

	conn.SendTyped(ipc.TypeCommand, scanner.ScannerCommand{Kind: scanner.CommandStop})
	time.Sleep(stopGracePeriod)
	conn.SendTyped(ipc.TypeCommand, scanner.ScannerCommand{Kind: scanner.CommandExit})

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case <-done:
	case <-time.After(exitJoinTimeout):
		m.logf("scanner subprocess did not exit in time, terminating")
		cancel() // exec.CommandContext kills on cancel
		select {
		case <-done:
		case <-time.After(killTimeout):
			m.logf("scanner subprocess still alive after terminate, abandoning")
		}
	}

	m.cleanup(token)
	return nil
}

// UpdateConfig sends a live config update to a running subprocess without
// restarting the session.
func (m *Manager) UpdateConfig(cfg scanner.ScannerConfig) error {
	m.mu.Lock()
	conn := m.conn
	m.currentConfig = cfg
	m.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("procmanager: no running session")
	}
	return conn.SendTyped(ipc.TypeCommand, scanner.ScannerCommand{Kind: scanner.CommandUpdateConfig, Config: cfg})
}

// IsRunning reports whether a session is currently active.
func (m *Manager) IsRunning() bool { return m.running.Load() }

// Shutdown stops any running session and waits up to timeout for
// background goroutines to finish.
func (m *Manager) Shutdown(timeout time.Duration) error {
	if m.running.Load() {
		m.Stop()
	}
	done := make(chan struct{})
	go func() { m.wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(timeout):
		return fmt.Errorf("procmanager: shutdown timed out after %s", timeout)
	}
	return nil
}

func (m *Manager) cleanup(expectedToken uint64) {
	if m.isSessionStale(expectedToken) {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conn != nil {
		m.conn.Close()
		m.conn = nil
	}
	if m.cancel != nil {
		m.cancel()
	}
	m.stopWatchdogLocked()
	m.running.Store(false)
	m.ready = false
}

func (m *Manager) isSessionStale(expectedToken uint64) bool {
	return expectedToken != m.sessionToken.Load()
}

// handleEnvelope dispatches a decoded IPC envelope to the matching
// callback, and performs the readiness handshake on the first
// running=true status (spec.md §4.8 step 5).
func (m *Manager) handleEnvelope(env *ipc.Envelope) {
	switch env.Type {
	case ipc.TypeStatus:
		var s scanner.ScannerStatus
		if err := unmarshalPayload(env, &s); err != nil {
			return
		}
		if s.Running && !m.readyHandshake() {
			m.emitProgress("scanner subprocess ready")
		}
		if m.callbacks.OnStatus != nil {
			m.callbacks.OnStatus(s)
		}
	case ipc.TypeHit:
		var h scanner.MatchHit
		if err := unmarshalPayload(env, &h); err == nil && m.callbacks.OnHit != nil {
			m.callbacks.OnHit(h)
		}
	case ipc.TypeLog:
		var p ipc.LogPayload
		if err := unmarshalPayload(env, &p); err == nil && m.callbacks.OnLog != nil {
			m.callbacks.OnLog(p.Message)
		}
	}
	if env.Error != "" && m.callbacks.OnError != nil {
		m.callbacks.OnError(env.Error)
	}
}

// readyHandshake returns whether the session was already ready, and marks
// it ready + resets the startup attempt counter + stops the watchdog if
// this is the first readiness observation.
func (m *Manager) readyHandshake() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	wasReady := m.ready
	if !wasReady {
		m.ready = true
		m.startupAttempt = 0
		m.stopWatchdogLocked()
	}
	return wasReady
}

func (m *Manager) emitProgress(msg string) {
	if m.callbacks.OnProgress != nil {
		m.callbacks.OnProgress(msg)
	}
}

func (m *Manager) logf(format string, args ...any) {
	if m.log != nil {
		m.log.Infof(format, args...)
	}
}

func unmarshalPayload(env *ipc.Envelope, v any) error {
	return json.Unmarshal(env.Payload, v)
}

// stdioConn adapts an exec.Cmd's separate stdin/stdout pipes into the
// single io.ReadWriteCloser ipc.Conn expects.
type stdioConn struct {
	io.WriteCloser
	io.ReadCloser
}

func (s stdioConn) Close() error {
	werr := s.WriteCloser.Close()
	rerr := s.ReadCloser.Close()
	if werr != nil {
		return werr
	}
	return rerr
}
