// Package audio defines the capture, analysis, recording, and playback
// primitives used by the consultation client.
//
// The primary abstractions are:
//
//   - [Device] opens microphone capture and returns a [Stream].
//   - [Stream] is a live capture stream that fans frames out to any number of
//     [Subscription] values. Whoever opened a stream owns it and is the only
//     party allowed to [Stream.Stop] it.
//   - [Graph] is a private processing graph that taps a stream for analysis.
//   - [Recorder] collects the frames of a stream into a single [Clip].
//   - [Player] plays an encoded [Clip] on the output device.
//
// Platform-specific backends live in subpackages (audio/ffmpeg, audio/portaudio,
// audio/speaker). In-memory test doubles live in audio/mock.
package audio

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

var (
	// ErrPermissionDenied is returned (wrapped) by [Device.Open] when the
	// operating system or user refused microphone access.
	ErrPermissionDenied = errors.New("audio: microphone permission denied")

	// ErrNoDevice is returned (wrapped) by [Device.Open] when no usable capture
	// device exists.
	ErrNoDevice = errors.New("audio: no capture device")
)

// Constraints selects the capture format and the platform's adaptive
// processing features for a new stream.
type Constraints struct {
	// EchoCancellation enables the platform's acoustic echo canceller.
	EchoCancellation bool

	// NoiseSuppression enables the platform's noise suppressor.
	NoiseSuppression bool

	// AutoGainControl enables the platform's automatic gain control.
	AutoGainControl bool

	// SampleRate is the requested capture rate in Hz. Zero selects 16000.
	SampleRate int

	// Channels is the requested channel count. Zero selects mono.
	Channels int
}

// DefaultConstraints returns the platform defaults: all processing features
// enabled, 16 kHz mono.
func DefaultConstraints() Constraints {
	return Constraints{
		EchoCancellation: true,
		NoiseSuppression: true,
		AutoGainControl:  true,
		SampleRate:       16000,
		Channels:         1,
	}
}

// RawConstraints returns constraints with every adaptive processing feature
// disabled. Loudness-based voice activity detection needs the unprocessed
// signal: suppressors and gain control attenuate exactly what it measures.
func RawConstraints() Constraints {
	c := DefaultConstraints()
	c.EchoCancellation = false
	c.NoiseSuppression = false
	c.AutoGainControl = false
	return c
}

// Format returns the capture format requested by c, with defaults applied.
func (c Constraints) Format() Format {
	f := Format{SampleRate: c.SampleRate, Channels: c.Channels}
	if f.SampleRate <= 0 {
		f.SampleRate = 16000
	}
	if f.Channels <= 0 {
		f.Channels = 1
	}
	return f
}

// Device opens microphone capture streams.
//
// Implementations must be safe for concurrent use.
type Device interface {
	// Open starts a new capture stream honouring c. It may block while the
	// platform asks the user for permission; ctx bounds that wait.
	//
	// Errors wrap [ErrPermissionDenied] or [ErrNoDevice] when the cause is known.
	Open(ctx context.Context, c Constraints) (Stream, error)
}

// Stream is a live capture stream.
//
// Implementations must be safe for concurrent use.
type Stream interface {
	// ID uniquely identifies the stream for its lifetime.
	ID() string

	// Format reports the PCM format of frames delivered to subscribers.
	Format() Format

	// Active reports whether the stream is still capturing.
	Active() bool

	// Subscribe registers a new frame consumer. The subscription's channel is
	// closed when the stream ends or the subscription is closed. Subscribing to
	// an ended stream returns an already-closed subscription.
	Subscribe(buffer int) *Subscription

	// Stop ends capture and stops the underlying device track. It is safe to
	// call Stop more than once; subsequent calls are no-ops.
	Stop()

	// Done is closed once the stream has ended for any reason.
	Done() <-chan struct{}

	// Err reports why the stream ended on its own, or nil after a normal Stop.
	Err() error
}

// LiveStream is the [Stream] implementation shared by every backend. A backend
// feeds captured frames into [LiveStream.Publish] and supplies a stop hook that
// releases the hardware.
type LiveStream struct {
	id     string
	format Format
	onStop func()

	mu      sync.Mutex
	subs    map[*Subscription]struct{}
	stopped bool
	err     error

	done     chan struct{}
	stopOnce sync.Once
	stops    atomic.Int32
}

var _ Stream = (*LiveStream)(nil)

// NewLiveStream creates an active stream with the given format. onStop, if
// non-nil, is called exactly once when the stream ends.
func NewLiveStream(format Format, onStop func()) *LiveStream {
	return &LiveStream{
		id:     uuid.NewString(),
		format: format,
		onStop: onStop,
		subs:   make(map[*Subscription]struct{}),
		done:   make(chan struct{}),
	}
}

// ID implements [Stream].
func (s *LiveStream) ID() string { return s.id }

// Format implements [Stream].
func (s *LiveStream) Format() Format { return s.format }

// Active implements [Stream].
func (s *LiveStream) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.stopped
}

// Done implements [Stream].
func (s *LiveStream) Done() <-chan struct{} { return s.done }

// Err implements [Stream].
func (s *LiveStream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// StopCount reports how many times the stop hook ran. It is always 0 or 1.
func (s *LiveStream) StopCount() int { return int(s.stops.Load()) }

// Subscribe implements [Stream].
func (s *LiveStream) Subscribe(buffer int) *Subscription {
	if buffer < 1 {
		buffer = 1
	}
	sub := &Subscription{ch: make(chan AudioFrame, buffer), stream: s}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		sub.closed = true
		close(sub.ch)
		return sub
	}
	s.subs[sub] = struct{}{}
	return sub
}

// Publish delivers f to every subscriber. Subscribers whose buffer is full miss
// the frame; capture is never blocked by a slow consumer.
func (s *LiveStream) Publish(f AudioFrame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	for sub := range s.subs {
		select {
		case sub.ch <- f:
		default:
			sub.dropped.Add(1)
		}
	}
}

// Stop implements [Stream].
func (s *LiveStream) Stop() { s.end(nil) }

// Fail ends the stream because the device failed. Subscribers see their
// channels close and [LiveStream.Err] reports err.
func (s *LiveStream) Fail(err error) { s.end(err) }

func (s *LiveStream) end(err error) {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.stopped = true
		s.err = err
		for sub := range s.subs {
			sub.closed = true
			close(sub.ch)
		}
		clear(s.subs)
		s.mu.Unlock()

		s.stops.Add(1)
		if s.onStop != nil {
			s.onStop()
		}
		close(s.done)
	})
}

func (s *LiveStream) unsubscribe(sub *Subscription) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sub.closed {
		return
	}
	sub.closed = true
	delete(s.subs, sub)
	close(sub.ch)
}

// Subscription is one consumer's view of a [LiveStream].
type Subscription struct {
	ch      chan AudioFrame
	stream  *LiveStream
	closed  bool // guarded by stream.mu
	dropped atomic.Int64
}

// Frames returns the channel delivering captured frames in capture order.
func (sub *Subscription) Frames() <-chan AudioFrame { return sub.ch }

// Dropped reports how many frames this subscriber missed because its buffer
// was full.
func (sub *Subscription) Dropped() int64 { return sub.dropped.Load() }

// Close detaches the subscription from its stream and closes the frame
// channel. It never stops the stream itself. Safe to call more than once.
func (sub *Subscription) Close() { sub.stream.unsubscribe(sub) }
