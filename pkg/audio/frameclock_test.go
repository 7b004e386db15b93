package audio_test

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrWong99/consultvox/pkg/audio"
)

func TestTickerClock_TicksUntilStopped(t *testing.T) {
	t.Parallel()

	var n atomic.Int32
	stop := audio.TickerClock{Interval: time.Millisecond}.Start(func() { n.Add(1) })
	waitFor(t, func() bool { return n.Load() >= 3 })

	stop()
	stop()

	time.Sleep(10 * time.Millisecond)
	after := n.Load()
	time.Sleep(20 * time.Millisecond)
	if n.Load() != after {
		t.Errorf("callback still firing after stop: %d -> %d", after, n.Load())
	}
}

func TestTickerClock_SlowCallbackDoesNotBacklog(t *testing.T) {
	t.Parallel()

	var n atomic.Int32
	stop := audio.TickerClock{Interval: time.Millisecond}.Start(func() {
		n.Add(1)
		time.Sleep(20 * time.Millisecond)
	})
	time.Sleep(100 * time.Millisecond)
	stop()

	// A 1 ms ticker over 100 ms would fire ~100 times; a 20 ms callback
	// bounds delivered ticks to about 5.
	if got := n.Load(); got > 10 {
		t.Errorf("callback ran %d times, want coalesced ticks (<= 10)", got)
	}
}
