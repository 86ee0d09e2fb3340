//go:build windows

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/soocke/sentinel/diagnostics"
	"github.com/soocke/sentinel/domain/action"
	"github.com/soocke/sentinel/domain/capture"
	"github.com/soocke/sentinel/domain/scanner"
	"github.com/soocke/sentinel/domain/template"
	"github.com/soocke/sentinel/ipc"
	"github.com/soocke/sentinel/logging"
)

// stdio wraps the subprocess's own stdin/stdout into the single
// io.ReadWriteCloser ipc.Conn expects, mirroring procmanager's stdioConn
// on the other end of the same pipe pair.
type stdio struct {
	io.Reader
	io.Writer
}

func (stdio) Close() error { return nil }

// runScanWorker is the scanner subprocess entrypoint spawned by
// procmanager: it hosts ScannerWorker + CaptureManager + CaptureSession +
// Matcher + ClickEmitter + TemplateCache behind a length-prefixed JSON IPC
// connection on its own stdio, per spec.md §5's process topology.
func runScanWorker() error {
	log, err := logging.New("info", os.Getenv("SENTINEL_DEBUG") != "")
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer log.Sync()

	diagnostics.SetProcessDPIAwareness()

	conn := ipc.NewConn(stdio{Reader: os.Stdin, Writer: os.Stdout})

	capMgr := capture.NewCaptureManager(capture.SessionOptions{FPSMax: 30})
	loader := template.NewLoader(nil)
	tmplCache := template.NewCache(loader, 0)
	tmplCache.StartEvictionSweep()
	defer tmplCache.Stop()
	matcher := capture.NewMatcher()
	clicker := action.NewEmitter()

	worker := scanner.NewWorker(capMgr, tmplCache, matcher, clicker, 64)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	diagStop := make(chan struct{})
	defer close(diagStop)

	go pumpOutbound(conn, worker, log)
	go pumpInbound(ctx, conn, worker, log, diagStop)

	worker.Run(ctx)
	capMgr.Close(time.Second)
	return nil
}

// pumpInbound decodes ScannerCommand envelopes off conn and feeds them to
// worker's command channel until the connection closes or ctx is done.
// It also toggles the debug diagnostics loggers when a command's config
// flips DebugMode, since the subprocess only learns the live config
// through these envelopes.
func pumpInbound(ctx context.Context, conn *ipc.Conn, worker *scanner.Worker, log *zap.SugaredLogger, diagStop chan struct{}) {
	debugOn := false
	for {
		env, err := conn.Recv()
		if err != nil {
			worker.Commands() <- scanner.ScannerCommand{Kind: scanner.CommandExit}
			return
		}
		if env.Type != ipc.TypeCommand {
			continue
		}
		var cmd scanner.ScannerCommand
		if err := json.Unmarshal(env.Payload, &cmd); err != nil {
			log.Warnw("failed to decode scanner command", "error", err)
			continue
		}
		if cmd.Kind == scanner.CommandStart || cmd.Kind == scanner.CommandUpdateConfig {
			if cmd.Config.DebugMode != debugOn {
				debugOn = cmd.Config.DebugMode
				toggleDiagnostics(debugOn, log, diagStop)
			}
		}
		select {
		case worker.Commands() <- cmd:
		case <-ctx.Done():
			return
		}
		if cmd.Kind == scanner.CommandExit {
			return
		}
	}
}

func toggleDiagnostics(on bool, log *zap.SugaredLogger, stop chan struct{}) {
	if on {
		diagnostics.StartGoroutineLogger(5*time.Second, log, stop)
		diagnostics.StartMemLogger(5*time.Second, log, stop)
	}
	// turning debug back off mid-session leaves any already-started
	// loggers running until process exit: spec.md's debug_mode is meant
	// for a diagnostic session, not a live on/off toggle.
}

// pumpOutbound relays worker's status/hit/log channels to conn as framed
// envelopes until worker.Run returns and closes all three channels.
func pumpOutbound(conn *ipc.Conn, worker *scanner.Worker, log *zap.SugaredLogger) {
	status := worker.Status()
	hits := worker.Hits()
	logs := worker.Logs()
	for status != nil || hits != nil || logs != nil {
		select {
		case s, ok := <-status:
			if !ok {
				status = nil
				continue
			}
			if err := conn.SendTyped(ipc.TypeStatus, s); err != nil {
				log.Warnw("failed to send status envelope", "error", err)
			}
		case h, ok := <-hits:
			if !ok {
				hits = nil
				continue
			}
			if err := conn.SendTyped(ipc.TypeHit, h); err != nil {
				log.Warnw("failed to send hit envelope", "error", err)
			}
		case m, ok := <-logs:
			if !ok {
				logs = nil
				continue
			}
			if err := conn.SendTyped(ipc.TypeLog, ipc.LogPayload{Message: m}); err != nil {
				log.Warnw("failed to send log envelope", "error", err)
			}
		}
	}
}
