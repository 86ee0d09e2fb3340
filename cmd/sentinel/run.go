//go:build windows

package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/soocke/sentinel/config"
	"github.com/soocke/sentinel/diagnostics"
	"github.com/soocke/sentinel/domain/capture"
	"github.com/soocke/sentinel/domain/scanner"
	"github.com/soocke/sentinel/domain/target"
	"github.com/soocke/sentinel/lifecycle"
	"github.com/soocke/sentinel/logging"
	"github.com/soocke/sentinel/procmanager"
)

// runController is the controller-process entrypoint: it hosts the
// ScannerProcessManager and the SmartTargetFinder (spec.md §5's process
// topology), and wires the finder's resolved handle into the scanner
// subprocess's live config.
func runController() error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, err := logging.New("info", cfg.DebugMode)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer log.Sync()

	diagnostics.SetProcessDPIAwareness()

	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("resolve own executable path: %w", err)
	}

	lc := lifecycle.New(log, 10*time.Second)

	pm := procmanager.New(log, procmanager.WorkerCommand{Path: exe, Args: []string{"scan-worker"}}, controllerCallbacks(log))
	lc.Register("scanner-process", func(ctx context.Context) {
		if err := pm.Shutdown(8 * time.Second); err != nil {
			log.Warnw("scanner subprocess shutdown did not complete cleanly", "error", err)
		}
	})

	scCfg := scannerConfigFromConfig(cfg)
	if err := pm.Start(scCfg); err != nil {
		return fmt.Errorf("start scanner subprocess: %w", err)
	}

	if text, partial, ok := finderTargetFromConfig(cfg); ok {
		finder := buildFinder(cfg)
		finder.SetTarget(text, partial)
		stopEvents := make(chan struct{})
		go forwardFinderEvents(finder, pm, scCfg, log, stopEvents)
		finder.Start()
		lc.Register("target-finder", func(ctx context.Context) {
			close(stopEvents)
			finder.Stop()
		})
	}

	if cfg.DebugMode {
		diagStop := make(chan struct{})
		diagnostics.StartGoroutineLogger(5*time.Second, log, diagStop)
		diagnostics.StartMemLogger(5*time.Second, log, diagStop)
		lc.Register("diagnostics", func(ctx context.Context) { close(diagStop) })
	}

	log.Infow("sentinel controller running", "config", configPath)
	lc.WaitForSignal()
	return nil
}

func buildFinder(cfg *config.Config) *target.Finder {
	policy := target.DefaultPolicy()
	policy.BaseInterval = secondsToDuration(cfg.SmartFinderBaseInterval, policy.BaseInterval)
	policy.MinInterval = secondsToDuration(cfg.SmartFinderMinInterval, policy.MinInterval)
	policy.MaxInterval = secondsToDuration(cfg.SmartFinderMaxInterval, policy.MaxInterval)
	policy.EnableRecovery = cfg.EnableAutoRecovery
	if cfg.MaxRecoveryAttempts > 0 {
		policy.MaxRecoveryTries = cfg.MaxRecoveryAttempts
	}
	policy.RecoveryCooldown = secondsToDuration(cfg.RecoveryCooldown, policy.RecoveryCooldown)
	policy.Strategies = [5]bool{
		cfg.FinderStrategies.ProcessName,
		cfg.FinderStrategies.ProcessPath,
		cfg.FinderStrategies.WindowTitle,
		cfg.FinderStrategies.ClassName,
		cfg.FinderStrategies.FuzzyMatch,
	}
	return target.New(target.OSWindowSource{}, target.OSInfoProvider{}, target.NewWinEventHook(), policy)
}

func secondsToDuration(seconds float64, fallback time.Duration) time.Duration {
	if seconds <= 0 {
		return fallback
	}
	return time.Duration(seconds * float64(time.Second))
}

// forwardFinderEvents relays the finder's resolved handle into the
// scanner subprocess's live config, per spec.md §4.9's "publishes current
// handle to C3" contract.
func forwardFinderEvents(finder *target.Finder, pm *procmanager.Manager, base scanner.ScannerConfig, log *zap.SugaredLogger, stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case ev := <-finder.Events():
			switch ev.Kind {
			case target.EventHandleAcquired:
				log.Infow("target window acquired", "handle", ev.Handle, "process", ev.ProcessName, "title", ev.Title)
				cfg := base
				cfg.Target = capture.TargetSpec{Kind: capture.TargetHandle, Handle: ev.Handle}
				if err := pm.UpdateConfig(cfg); err != nil {
					log.Warnw("failed to forward acquired handle to scanner subprocess", "error", err)
				}
			case target.EventHandleLost:
				log.Warnw("target window lost", "handle", ev.Handle, "process", ev.ProcessName)
			}
		}
	}
}

func controllerCallbacks(log *zap.SugaredLogger) procmanager.Callbacks {
	return procmanager.Callbacks{
		OnStatus: func(s scanner.ScannerStatus) {
			if s.ErrorMessage != "" {
				log.Warnw("scanner status", "phase", s.PhaseText, "error", s.ErrorMessage)
				return
			}
			log.Debugw("scanner status", "running", s.Running, "phase", s.PhaseText, "backend", s.BackendLabel, "scanCount", s.ScanCount)
		},
		OnHit: func(h scanner.MatchHit) {
			log.Infow("match hit", "score", h.Score, "x", h.X, "y", h.Y, "mode", h.CaptureMode.String())
		},
		OnLog: func(msg string) { log.Info(msg) },
		OnProgress: func(msg string) {
			log.Info(msg)
		},
		OnError: func(msg string) {
			log.Error(msg)
		},
	}
}
