package app

import (
	"context"

	"github.com/MrWong99/consultvox/internal/config"
	"github.com/MrWong99/consultvox/pkg/audio"
	"github.com/MrWong99/consultvox/pkg/audio/ffmpeg"
)

// platformBackends holds registrations contributed by build-tagged files.
var platformBackends []func(*config.Registry)

// NewRegistry returns a registry with every audio backend compiled into this
// binary. ffmpeg capture and ffplay playback are always available; "none"
// disables answer playback.
func NewRegistry() *config.Registry {
	r := config.NewRegistry()
	r.RegisterDevice("ffmpeg", func(c config.AudioConfig) (audio.Device, error) {
		return ffmpeg.New(
			ffmpeg.WithCommand(c.Command),
			ffmpeg.WithInput(c.InputFormat, c.InputDevice),
			ffmpeg.WithFrameDuration(c.FrameDuration),
		), nil
	})
	r.RegisterPlayer("ffplay", func(c config.AudioConfig) (audio.Player, error) {
		return ffmpeg.NewPlayer(c.PlayerCommand), nil
	})
	r.RegisterPlayer("none", func(config.AudioConfig) (audio.Player, error) {
		return nil, nil
	})
	for _, register := range platformBackends {
		register(r)
	}
	return r
}

// formatDevice applies the configured sample rate and channel count to every
// stream opened from Device.
type formatDevice struct {
	audio.Device
	rate     int
	channels int
}

func (d formatDevice) Open(ctx context.Context, c audio.Constraints) (audio.Stream, error) {
	if d.rate > 0 {
		c.SampleRate = d.rate
	}
	if d.channels > 0 {
		c.Channels = d.channels
	}
	return d.Device.Open(ctx, c)
}
