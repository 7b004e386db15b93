package audio

import (
	"sync"
	"time"
)

// FrameClock schedules a callback once per rendered frame.
//
// Start registers fn and returns a function that cancels the schedule. The
// cancel function is idempotent and does not wait for an in-flight fn call to
// return, so fn may safely block on work owned by the caller of stop.
type FrameClock interface {
	Start(fn func()) (stop func())
}

// DefaultFrameRate is the cadence of [TickerClock] when no interval is set.
const DefaultFrameRate = 60

// TickerClock is a [FrameClock] driven by a [time.Ticker]. Ticks that arrive
// while fn is still running are coalesced, so a slow callback never builds up
// a backlog.
type TickerClock struct {
	// Interval between frames. Zero selects 1/DefaultFrameRate seconds.
	Interval time.Duration
}

// Start implements [FrameClock].
func (c TickerClock) Start(fn func()) func() {
	interval := c.Interval
	if interval <= 0 {
		interval = time.Second / DefaultFrameRate
	}
	done := make(chan struct{})
	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-done:
				return
			case <-t.C:
				select {
				case <-done:
					return
				default:
				}
				fn()
			}
		}
	}()
	var once sync.Once
	return func() { once.Do(func() { close(done) }) }
}
