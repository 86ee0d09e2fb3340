// Package diagnostics carries Sentinel's debug-mode telemetry: goroutine
// and stack-memory logging (cross-platform), and Windows-specific RSS and
// DPI queries, wired to ScannerConfig.DebugMode.
package diagnostics

import (
	"runtime"
	"runtime/metrics"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"
)

// StartGoroutineLogger launches a ticker that logs goroutine count and
// stack memory at interval, until stop is closed.
func StartGoroutineLogger(interval time.Duration, log *zap.SugaredLogger, stop <-chan struct{}) {
	if interval <= 0 {
		interval = time.Second
	}
	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()
		samples := []metrics.Sample{{Name: "/sched/goroutines:goroutines"}}
		for {
			select {
			case <-stop:
				return
			case <-t.C:
				metrics.Read(samples)
				goroutines := samples[0].Value.Uint64()
				var ms runtime.MemStats
				runtime.ReadMemStats(&ms)
				log.Infow("goroutine-stacks",
					"goroutines", goroutines,
					"stack_inuse", humanize.Bytes(ms.StackInuse),
					"stack_sys", humanize.Bytes(ms.StackSys),
					"heap_alloc", humanize.Bytes(ms.HeapAlloc),
				)
			}
		}
	}()
}
