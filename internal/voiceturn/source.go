package voiceturn

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/MrWong99/consultvox/pkg/audio"
)

// Ownership records who may stop a capture stream.
type Ownership int

const (
	// Owned streams were opened by the controller and are stopped on release.
	Owned Ownership = iota
	// Borrowed streams belong to another recording and are never stopped here.
	Borrowed
)

func (o Ownership) String() string {
	if o == Borrowed {
		return "borrowed"
	}
	return "owned"
}

// CaptureSession is the microphone stream used by one turn.
type CaptureSession struct {
	Stream    audio.Stream
	Ownership Ownership

	releaseOnce sync.Once
	mu          sync.Mutex
	released    chan struct{}
}

// Active reports whether the underlying stream is still capturing.
func (s *CaptureSession) Active() bool { return s.Stream.Active() }

// Release ends the session without blocking. Owned streams are stopped in
// the background, since a device may take a while to let go; borrowed
// streams are left untouched. Safe to call more than once.
func (s *CaptureSession) Release() {
	s.releaseOnce.Do(func() {
		done := s.releasedCh()
		if s.Ownership != Owned {
			close(done)
			return
		}
		go func() {
			defer close(done)
			s.Stream.Stop()
		}()
	})
}

// Released is closed once [CaptureSession.Release] has finished stopping an
// owned stream.
func (s *CaptureSession) Released() <-chan struct{} { return s.releasedCh() }

func (s *CaptureSession) releasedCh() chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released == nil {
		s.released = make(chan struct{})
	}
	return s.released
}

// Source acquires capture sessions, preferring to borrow the stream of an
// active shared recording over opening the microphone again.
type Source struct {
	device audio.Device
	shared SharedRecording
}

// NewSource returns a source opening streams on device. shared may be nil.
func NewSource(device audio.Device, shared SharedRecording) *Source {
	return &Source{device: device, shared: shared}
}

// Acquire returns a session for a new turn. Borrow eligibility is checked on
// every call. New streams are opened with echo cancellation, noise
// suppression and gain control disabled, since those filters attenuate the
// signal the loudness detector measures.
//
// Failures wrap [ErrCaptureUnavailable].
func (s *Source) Acquire(ctx context.Context) (*CaptureSession, error) {
	if s.shared != nil {
		if st, ok := s.shared.SharedStream(); ok && st != nil && st.Active() {
			slog.Debug("voiceturn: borrowing shared stream", "stream_id", st.ID())
			return &CaptureSession{Stream: st, Ownership: Borrowed}, nil
		}
	}
	if s.device == nil {
		return nil, fmt.Errorf("%w: %w", ErrCaptureUnavailable, audio.ErrNoDevice)
	}
	st, err := s.device.Open(ctx, audio.RawConstraints())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCaptureUnavailable, err)
	}
	slog.Debug("voiceturn: opened capture stream", "stream_id", st.ID())
	return &CaptureSession{Stream: st, Ownership: Owned}, nil
}

// failureReason classifies a capture error for metrics.
func failureReason(err error) string {
	switch {
	case errors.Is(err, audio.ErrPermissionDenied):
		return "permission_denied"
	case errors.Is(err, audio.ErrNoDevice):
		return "no_device"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		return "other"
	}
}
