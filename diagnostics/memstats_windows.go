//go:build windows

package diagnostics

import (
	"runtime"
	"time"
	"unsafe"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"
	"golang.org/x/sys/windows"
)

// processMemoryCounters matches PROCESS_MEMORY_COUNTERS from psapi.
type processMemoryCounters struct {
	cb                         uint32
	PageFaultCount             uint32
	PeakWorkingSetSize         uintptr
	WorkingSetSize             uintptr
	QuotaPeakPagedPoolUsage    uintptr
	QuotaPagedPoolUsage        uintptr
	QuotaPeakNonPagedPoolUsage uintptr
	QuotaNonPagedPoolUsage     uintptr
	PagefileUsage              uintptr
	PeakPagefileUsage          uintptr
}

var (
	modPsapi                 = windows.NewLazySystemDLL("psapi.dll")
	procGetProcessMemoryInfo = modPsapi.NewProc("GetProcessMemoryInfo")
)

// StartMemLogger launches a goroutine logging Go heap stats plus Windows
// working-set size (RSS) every interval, until stop is closed.
func StartMemLogger(interval time.Duration, log *zap.SugaredLogger, stop <-chan struct{}) {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		var rssErrLogged bool
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				var ms runtime.MemStats
				runtime.ReadMemStats(&ms)
				rss, err := workingSetSize()
				if err != nil && !rssErrLogged {
					log.Warnw("GetProcessMemoryInfo failed", "error", err)
					rssErrLogged = true
				}
				log.Infow("memstats",
					"goroutines", runtime.NumGoroutine(),
					"heap_alloc", humanize.Bytes(ms.HeapAlloc),
					"heap_inuse", humanize.Bytes(ms.HeapInuse),
					"heap_idle", humanize.Bytes(ms.HeapIdle),
					"heap_sys", humanize.Bytes(ms.HeapSys),
					"next_gc", humanize.Bytes(ms.NextGC),
					"rss", humanize.Bytes(rss),
					"num_gc", ms.NumGC,
				)
			}
		}
	}()
}

func workingSetSize() (uint64, error) {
	pmc := processMemoryCounters{cb: uint32(unsafe.Sizeof(processMemoryCounters{}))}
	r1, _, err := procGetProcessMemoryInfo.Call(uintptr(windows.CurrentProcess()), uintptr(unsafe.Pointer(&pmc)), uintptr(pmc.cb))
	if r1 == 0 {
		return 0, err
	}
	return uint64(pmc.WorkingSetSize), nil
}
