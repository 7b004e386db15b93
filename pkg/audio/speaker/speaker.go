//go:build speaker

// Package speaker implements [audio.Player] with the beep speaker backend.
//
// Build with -tags speaker; the platform's audio output libraries (ALSA on
// Linux) must be available.
package speaker

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/faiface/beep"
	"github.com/faiface/beep/speaker"
	"github.com/faiface/beep/wav"

	"github.com/MrWong99/consultvox/pkg/audio"
)

// Player plays WAV clips on the default output device. The speaker is
// initialised lazily at the first clip's sample rate; later clips at other
// rates are resampled.
type Player struct {
	mu   sync.Mutex
	rate beep.SampleRate
}

var _ audio.Player = (*Player)(nil)

// New creates a speaker player.
func New() *Player { return &Player{} }

// Play implements [audio.Player].
func (p *Player) Play(ctx context.Context, clip audio.Clip, onEnded func(error)) error {
	streamer, format, err := wav.Decode(bytes.NewReader(clip.Data))
	if err != nil {
		return fmt.Errorf("speaker: decode clip: %w", err)
	}

	p.mu.Lock()
	if p.rate == 0 {
		if err := speaker.Init(format.SampleRate, format.SampleRate.N(time.Second/10)); err != nil {
			p.mu.Unlock()
			_ = streamer.Close()
			return fmt.Errorf("speaker: init: %w: %w", audio.ErrPlaybackBlocked, err)
		}
		p.rate = format.SampleRate
	}
	rate := p.rate
	p.mu.Unlock()

	var s beep.Streamer = streamer
	if format.SampleRate != rate {
		s = beep.Resample(4, format.SampleRate, rate, streamer)
	}

	pb := newPlayback(func() { _ = streamer.Close() }, onEnded)
	ctrl := &beep.Ctrl{Streamer: beep.Seq(s, beep.Callback(func() { go pb.finish(nil) }))}
	speaker.Play(ctrl)

	go pb.watch(ctx, func() {
		speaker.Lock()
		ctrl.Streamer = nil
		speaker.Unlock()
	})
	return nil
}
