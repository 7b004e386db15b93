// Package mock provides in-memory implementations of the [audio.Device],
// [audio.Player], and [audio.FrameClock] interfaces for use in unit tests.
//
// All mocks are safe for concurrent use. They record every method call so that
// tests can assert on call counts and arguments, and they expose exported fields
// that the test can set to control return values.
//
// Typical usage:
//
//	dev := &mock.Device{}
//	s, _ := dev.Open(ctx, audio.RawConstraints())
//	dev.Last().Publish(audio.AudioFrame{Data: pcm})
//	frames := &mock.FrameClock{}
//	frames.Tick()
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/consultvox/pkg/audio"
)

// ─── Device ───────────────────────────────────────────────────────────────────

// OpenCall records the arguments of a single [Device.Open] invocation.
type OpenCall struct {
	// Constraints is the constraints argument passed to Open.
	Constraints audio.Constraints
}

// Device is a mock implementation of [audio.Device]. Each successful Open
// returns a fresh [audio.LiveStream] that the test can feed via [Device.Last].
type Device struct {
	mu sync.Mutex

	// OpenErr, if non-nil, is returned by Open and no stream is created.
	OpenErr error

	// OpenCalls records all Open invocations.
	OpenCalls []OpenCall

	// Streams holds every stream returned by Open, in order.
	Streams []*audio.LiveStream
}

// Open implements [audio.Device].
func (d *Device) Open(_ context.Context, c audio.Constraints) (audio.Stream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.OpenCalls = append(d.OpenCalls, OpenCall{Constraints: c})
	if d.OpenErr != nil {
		return nil, d.OpenErr
	}
	s := audio.NewLiveStream(c.Format(), nil)
	d.Streams = append(d.Streams, s)
	return s, nil
}

// SetOpenErr replaces OpenErr under the mock's lock.
func (d *Device) SetOpenErr(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.OpenErr = err
}

// Last returns the most recently opened stream, or nil.
func (d *Device) Last() *audio.LiveStream {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.Streams) == 0 {
		return nil
	}
	return d.Streams[len(d.Streams)-1]
}

// OpenCount returns how many times Open was called.
func (d *Device) OpenCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.OpenCalls)
}

// ─── Player ───────────────────────────────────────────────────────────────────

// PlayCall records the arguments of a single [Player.Play] invocation.
type PlayCall struct {
	// Clip is the clip passed to Play.
	Clip audio.Clip
}

// Player is a mock implementation of [audio.Player]. Playback never finishes
// on its own; call [Player.Finish] to fire the recorded completion callback.
type Player struct {
	mu sync.Mutex

	// PlayErr, if non-nil, is returned by Play and no playback starts.
	PlayErr error

	// AutoFinish, when true, fires onEnded(nil) from a new goroutine as soon as
	// Play returns.
	AutoFinish bool

	// PlayCalls records all Play invocations.
	PlayCalls []PlayCall

	pending []func(error)
}

// Play implements [audio.Player].
func (p *Player) Play(_ context.Context, clip audio.Clip, onEnded func(error)) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.PlayCalls = append(p.PlayCalls, PlayCall{Clip: clip})
	if p.PlayErr != nil {
		return p.PlayErr
	}
	if p.AutoFinish {
		go onEnded(nil)
		return nil
	}
	p.pending = append(p.pending, onEnded)
	return nil
}

// Finish calls the completion callback of the most recent playback with err.
// It reports whether a playback was pending. The callback stays registered, so
// calling Finish twice simulates a platform that fires completion twice.
func (p *Player) Finish(err error) bool {
	p.mu.Lock()
	if len(p.pending) == 0 {
		p.mu.Unlock()
		return false
	}
	cb := p.pending[len(p.pending)-1]
	p.mu.Unlock()
	cb(err)
	return true
}

// PlayCount returns how many times Play was called.
func (p *Player) PlayCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.PlayCalls)
}

// ─── FrameClock ───────────────────────────────────────────────────────────────

// FrameClock is a manually driven [audio.FrameClock]. Callbacks run
// synchronously on the goroutine calling [FrameClock.Tick].
type FrameClock struct {
	mu     sync.Mutex
	nextID int
	active map[int]func()

	// Starts counts Start calls; Stops counts distinct stop calls.
	Starts int
	Stops  int
}

// Start implements [audio.FrameClock].
func (c *FrameClock) Start(fn func()) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == nil {
		c.active = make(map[int]func())
	}
	id := c.nextID
	c.nextID++
	c.active[id] = fn
	c.Starts++

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			delete(c.active, id)
			c.Stops++
		})
	}
}

// Tick invokes every registered callback once.
func (c *FrameClock) Tick() {
	c.mu.Lock()
	fns := make([]func(), 0, len(c.active))
	for _, fn := range c.active {
		fns = append(fns, fn)
	}
	c.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

// Active returns the number of callbacks currently scheduled.
func (c *FrameClock) Active() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.active)
}
