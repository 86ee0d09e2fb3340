package diagnostics

import (
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestStartGoroutineLoggerStopsOnSignal(t *testing.T) {
	log := zap.NewNop().Sugar()
	stop := make(chan struct{})

	StartGoroutineLogger(5*time.Millisecond, log, stop)
	time.Sleep(20 * time.Millisecond)
	close(stop)
	time.Sleep(20 * time.Millisecond)
}
