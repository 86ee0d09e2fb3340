package procmanager

import (
	"context"
	"time"

	"github.com/soocke/sentinel/ipc"
)

const (
	basePollInterval = 100 * time.Millisecond
	minPollInterval  = 50 * time.Millisecond
	maxPollInterval  = 1200 * time.Millisecond

	tickBudget     = 8 * time.Millisecond
	maxStatusPerTick = 5
	maxHitPerTick    = 10
	maxLogPerTick    = 20
)

// poller reads framed envelopes off an ipc.Conn on a dedicated goroutine
// and drains them on a ticker-driven, budgeted cadence whose interval
// adapts to activity. Grounded on scanner_process.py's
// _poll_queues/_adjust_poll_interval: busy ticks shrink the interval
// toward minPollInterval, idle ticks grow it toward maxPollInterval, with
// coarser jumps the longer the idle streak runs.
type poller struct {
	conn   *ipc.Conn
	handle func(*ipc.Envelope)

	items chan *ipc.Envelope

	currentInterval time.Duration
	activePolls     int
	emptyPolls      int
	lastActivity    time.Time
}

func newPoller(conn *ipc.Conn, handle func(*ipc.Envelope)) *poller {
	return &poller{
		conn:            conn,
		handle:          handle,
		items:           make(chan *ipc.Envelope, 256),
		currentInterval: basePollInterval,
		lastActivity:    time.Now(),
	}
}

// run starts the background reader and the adaptive drain loop; it
// returns once ctx is cancelled or the connection closes.
func (p *poller) run(ctx context.Context) {
	go p.readLoop(ctx)

	ticker := time.NewTicker(p.currentInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			hasActivity := p.drainOnce()
			p.adjustInterval(hasActivity, time.Now())
			ticker.Reset(p.currentInterval)
		}
	}
}

func (p *poller) readLoop(ctx context.Context) {
	for {
		env, err := p.conn.Recv()
		if err != nil {
			close(p.items)
			return
		}
		select {
		case p.items <- env:
		case <-ctx.Done():
			return
		}
	}
}

// drainOnce consumes up to the per-type budget within tickBudget wall
// clock, merging consecutive status envelopes down to the latest so a
// burst of status updates only triggers one callback.
func (p *poller) drainOnce() bool {
	deadline := time.Now().Add(tickBudget)
	statusCount, hitCount, logCount := 0, 0, 0
	var latestStatus *ipc.Envelope
	any := false

drain:
	for time.Now().Before(deadline) {
		select {
		case env, ok := <-p.items:
			if !ok {
				break drain
			}
			switch env.Type {
			case ipc.TypeStatus:
				if statusCount >= maxStatusPerTick {
					continue
				}
				statusCount++
				latestStatus = env
				any = true
			case ipc.TypeHit:
				if hitCount >= maxHitPerTick {
					continue
				}
				hitCount++
				p.handle(env)
				any = true
			case ipc.TypeLog:
				if logCount >= maxLogPerTick {
					continue
				}
				logCount++
				p.handle(env)
				any = true
			default:
				p.handle(env)
				any = true
			}
		default:
			break drain
		}
	}

	if latestStatus != nil {
		p.handle(latestStatus)
	}
	return any
}

// adjustInterval implements the idle/active stepping rules from
// _adjust_poll_interval: on activity, snap back to base immediately and
// then ease toward min after 3 consecutive active ticks; on idle, step up
// by 40ms per 8 empty ticks, or jump straight to 4x base / max at 6s / 12s
// of sustained idleness.
func (p *poller) adjustInterval(hasActivity bool, now time.Time) {
	if hasActivity {
		p.activePolls++
		p.emptyPolls = 0
		p.lastActivity = now

		if p.currentInterval > basePollInterval {
			p.currentInterval = basePollInterval
			return
		}
		if p.activePolls >= 3 {
			next := p.currentInterval - 10*time.Millisecond
			if next < minPollInterval {
				next = minPollInterval
			}
			p.currentInterval = next
		}
		return
	}

	p.emptyPolls++
	p.activePolls = 0
	idle := now.Sub(p.lastActivity)

	switch {
	case idle >= 12*time.Second:
		p.currentInterval = maxPollInterval
	case idle >= 6*time.Second:
		target := p.currentInterval + 120*time.Millisecond
		if floor := basePollInterval * 4; target < floor {
			target = floor
		}
		if target > maxPollInterval {
			target = maxPollInterval
		}
		p.currentInterval = target
	case p.emptyPolls >= 8:
		target := p.currentInterval + 40*time.Millisecond
		if target > maxPollInterval {
			target = maxPollInterval
		}
		p.currentInterval = target
	}
}
