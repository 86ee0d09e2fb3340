package procmanager

import (
	"testing"
	"time"

	"github.com/soocke/sentinel/ipc"
)

var pollerTestEpoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func TestAdjustIntervalShrinksTowardMinAfterThreeActiveTicks(t *testing.T) {
	p := &poller{currentInterval: minPollInterval, lastActivity: pollerTestEpoch}
	for i := 0; i < 3; i++ {
		p.adjustInterval(true, pollerTestEpoch)
	}
	if p.currentInterval != minPollInterval {
		t.Errorf("currentInterval = %s, want %s", p.currentInterval, minPollInterval)
	}
}

func TestAdjustIntervalSnapsBackToBaseOnFirstActivityAfterGrowth(t *testing.T) {
	p := &poller{currentInterval: maxPollInterval, lastActivity: pollerTestEpoch}
	p.adjustInterval(true, pollerTestEpoch)
	if p.currentInterval != basePollInterval {
		t.Errorf("currentInterval = %s, want %s", p.currentInterval, basePollInterval)
	}
}

func TestAdjustIntervalGrowsAfterEightEmptyTicks(t *testing.T) {
	p := &poller{currentInterval: basePollInterval, lastActivity: pollerTestEpoch}
	for i := 0; i < 8; i++ {
		p.adjustInterval(false, pollerTestEpoch)
	}
	if p.currentInterval <= basePollInterval {
		t.Errorf("currentInterval = %s, want > %s after 8 empty ticks", p.currentInterval, basePollInterval)
	}
}

func TestAdjustIntervalNeverExceedsMax(t *testing.T) {
	p := &poller{currentInterval: maxPollInterval, lastActivity: pollerTestEpoch}
	now := pollerTestEpoch
	for i := 0; i < 50; i++ {
		now = now.Add(2 * time.Second)
		p.adjustInterval(false, now)
	}
	if p.currentInterval > maxPollInterval {
		t.Errorf("currentInterval = %s exceeds max %s", p.currentInterval, maxPollInterval)
	}
}

func TestDrainOnceMergesConsecutiveStatusToLatest(t *testing.T) {
	var handled []string
	p := &poller{
		items: make(chan *ipc.Envelope, 8),
		handle: func(env *ipc.Envelope) {
			handled = append(handled, env.ID)
		},
	}
	for i := 0; i < 3; i++ {
		p.items <- &ipc.Envelope{Type: ipc.TypeStatus, ID: string(rune('a' + i))}
	}
	close(p.items)

	if !p.drainOnce() {
		t.Fatal("drainOnce reported no activity")
	}
	if len(handled) != 1 || handled[0] != "c" {
		t.Errorf("handled = %v, want exactly the last status envelope", handled)
	}
}

func TestDrainOnceDispatchesHitsAndLogsImmediately(t *testing.T) {
	var handled []string
	p := &poller{
		items: make(chan *ipc.Envelope, 8),
		handle: func(env *ipc.Envelope) {
			handled = append(handled, env.Type)
		},
	}
	p.items <- &ipc.Envelope{Type: ipc.TypeHit}
	p.items <- &ipc.Envelope{Type: ipc.TypeLog}
	close(p.items)

	if !p.drainOnce() {
		t.Fatal("drainOnce reported no activity")
	}
	if len(handled) != 2 {
		t.Errorf("handled = %v, want 2 dispatched envelopes", handled)
	}
}
