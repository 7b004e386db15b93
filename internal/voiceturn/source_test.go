package voiceturn

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/MrWong99/consultvox/pkg/audio"
	audiomock "github.com/MrWong99/consultvox/pkg/audio/mock"
)

func TestSource_BorrowsActiveSharedStream(t *testing.T) {
	t.Parallel()
	dev := &audiomock.Device{}
	ambient := audio.NewLiveStream(audio.Format{SampleRate: 16000, Channels: 1}, nil)
	src := NewSource(dev, &fakeShared{stream: ambient})

	sess, err := src.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if sess.Ownership != Borrowed || sess.Stream != audio.Stream(ambient) {
		t.Fatalf("session = %v %v, want borrowed ambient stream", sess.Ownership, sess.Stream.ID())
	}
	if dev.OpenCount() != 0 {
		t.Errorf("device opened %d times, want 0", dev.OpenCount())
	}

	sess.Release()
	sess.Release()
	<-sess.Released()
	if !ambient.Active() || ambient.StopCount() != 0 {
		t.Error("releasing a borrowed session stopped the shared stream")
	}
}

func TestSource_RechecksSharedStreamEachTurn(t *testing.T) {
	t.Parallel()
	dev := &audiomock.Device{}
	ambient := audio.NewLiveStream(audio.Format{SampleRate: 16000, Channels: 1}, nil)
	src := NewSource(dev, &fakeShared{stream: ambient})

	first, err := src.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	first.Release()
	ambient.Stop()

	second, err := src.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if second.Ownership != Owned {
		t.Errorf("ownership = %v, want owned once the shared stream ended", second.Ownership)
	}
}

func TestSource_OpensRawStream(t *testing.T) {
	t.Parallel()
	dev := &audiomock.Device{}
	src := NewSource(dev, nil)

	sess, err := src.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if sess.Ownership != Owned {
		t.Fatalf("ownership = %v, want owned", sess.Ownership)
	}
	c := dev.OpenCalls[0].Constraints
	if c.EchoCancellation || c.NoiseSuppression || c.AutoGainControl {
		t.Errorf("constraints = %+v, want all processing disabled", c)
	}
	if !sess.Active() {
		t.Error("new session not active")
	}

	sess.Release()
	sess.Release()
	select {
	case <-sess.Released():
	case <-time.After(2 * time.Second):
		t.Fatal("owned stream not released")
	}
	if got := dev.Last().StopCount(); got != 1 {
		t.Errorf("owned stream stopped %d times, want 1", got)
	}
	if sess.Active() {
		t.Error("released owned session still active")
	}
}

func TestSource_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		device     audio.Device
		wantCause  error
		wantReason string
	}{
		{
			name:       "permission denied",
			device:     &audiomock.Device{OpenErr: fmt.Errorf("%w: blocked by user", audio.ErrPermissionDenied)},
			wantCause:  audio.ErrPermissionDenied,
			wantReason: "permission_denied",
		},
		{
			name:       "no device",
			device:     nil,
			wantCause:  audio.ErrNoDevice,
			wantReason: "no_device",
		},
		{
			name:       "other",
			device:     &audiomock.Device{OpenErr: errors.New("driver crashed")},
			wantReason: "other",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := NewSource(tt.device, nil).Acquire(context.Background())
			if !errors.Is(err, ErrCaptureUnavailable) {
				t.Fatalf("err = %v, want ErrCaptureUnavailable", err)
			}
			if tt.wantCause != nil && !errors.Is(err, tt.wantCause) {
				t.Errorf("err = %v, want cause %v", err, tt.wantCause)
			}
			if got := failureReason(err); got != tt.wantReason {
				t.Errorf("failureReason = %q, want %q", got, tt.wantReason)
			}
		})
	}
}

// slowStream is a stream whose Stop blocks until gate is closed, like a
// capture process that takes a while to exit.
type slowStream struct {
	*audio.LiveStream
	gate chan struct{}
}

func (s *slowStream) Stop() {
	<-s.gate
	s.LiveStream.Stop()
}

type slowDevice struct{ stream *slowStream }

func (d *slowDevice) Open(context.Context, audio.Constraints) (audio.Stream, error) {
	return d.stream, nil
}

func TestSource_ReleaseDoesNotWaitForDevice(t *testing.T) {
	t.Parallel()
	stream := &slowStream{
		LiveStream: audio.NewLiveStream(audio.Format{SampleRate: 16000, Channels: 1}, nil),
		gate:       make(chan struct{}),
	}
	sess, err := NewSource(&slowDevice{stream: stream}, nil).Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	returned := make(chan struct{})
	go func() {
		sess.Release()
		close(returned)
	}()
	select {
	case <-returned:
	case <-time.After(2 * time.Second):
		t.Fatal("Release blocked on a slow device")
	}
	select {
	case <-sess.Released():
		t.Fatal("Released closed before the device stopped")
	default:
	}

	close(stream.gate)
	select {
	case <-sess.Released():
	case <-time.After(2 * time.Second):
		t.Fatal("Released not closed after the device stopped")
	}
	if got := stream.StopCount(); got != 1 {
		t.Errorf("stream stopped %d times, want 1", got)
	}
}
