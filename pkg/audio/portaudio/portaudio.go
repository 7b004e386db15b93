//go:build portaudio

// Package portaudio implements [audio.Device] with PortAudio.
//
// Build with -tags portaudio; the PortAudio C library and headers must be
// installed. PortAudio delivers the raw device signal, so the adaptive
// processing fields of [audio.Constraints] have no effect here.
package portaudio

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gordonklaus/portaudio"

	"github.com/MrWong99/consultvox/pkg/audio"
)

// Device captures from the default PortAudio input device.
type Device struct {
	frame time.Duration

	initOnce sync.Once
	initErr  error
}

var _ audio.Device = (*Device)(nil)

// New creates a device publishing frames of the given duration (default 20 ms).
func New(frame time.Duration) *Device {
	if frame <= 0 {
		frame = 20 * time.Millisecond
	}
	return &Device{frame: frame}
}

// Close terminates PortAudio. Streams opened from d must be stopped first.
func (d *Device) Close() error {
	if d.initErr != nil {
		return nil
	}
	return portaudio.Terminate()
}

// Open implements [audio.Device].
func (d *Device) Open(ctx context.Context, c audio.Constraints) (audio.Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("portaudio: open: %w", err)
	}
	d.initOnce.Do(func() { d.initErr = portaudio.Initialize() })
	if d.initErr != nil {
		return nil, fmt.Errorf("portaudio: initialize: %w: %w", audio.ErrNoDevice, d.initErr)
	}
	if _, err := portaudio.DefaultInputDevice(); err != nil {
		return nil, fmt.Errorf("portaudio: %w: %w", audio.ErrNoDevice, err)
	}

	format := c.Format()
	framesPerBuffer := format.SampleRate * int(d.frame) / int(time.Second)
	buf := make([]int16, framesPerBuffer*format.Channels)

	pa, err := portaudio.OpenDefaultStream(format.Channels, 0, float64(format.SampleRate), framesPerBuffer, buf)
	if err != nil {
		return nil, fmt.Errorf("portaudio: open input stream: %w: %w", audio.ErrNoDevice, err)
	}
	if err := pa.Start(); err != nil {
		_ = pa.Close()
		return nil, fmt.Errorf("portaudio: start input stream: %w: %w", audio.ErrPermissionDenied, err)
	}

	loopDone := make(chan struct{})
	stream := audio.NewLiveStream(format, func() {
		_ = pa.Stop()
		<-loopDone
		_ = pa.Close()
	})
	go d.capture(pa, buf, format, stream, loopDone)

	slog.Debug("portaudio: capture started", "rate", format.SampleRate, "channels", format.Channels, "stream", stream.ID())
	return stream, nil
}

func (d *Device) capture(pa *portaudio.Stream, buf []int16, f audio.Format, stream *audio.LiveStream, done chan<- struct{}) {
	defer close(done)
	var ts time.Duration
	for {
		if err := pa.Read(); err != nil {
			if stream.Active() {
				go stream.Fail(fmt.Errorf("portaudio: read: %w", err))
			}
			return
		}
		pcm := make([]byte, len(buf)*2)
		for i, s := range buf {
			binary.LittleEndian.PutUint16(pcm[i*2:], uint16(s))
		}
		frame := audio.AudioFrame{Data: pcm, SampleRate: f.SampleRate, Channels: f.Channels, Timestamp: ts}
		ts += frame.Duration()
		stream.Publish(frame)
	}
}
