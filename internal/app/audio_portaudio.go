//go:build portaudio

package app

import (
	"github.com/MrWong99/consultvox/internal/config"
	"github.com/MrWong99/consultvox/pkg/audio"
	"github.com/MrWong99/consultvox/pkg/audio/portaudio"
)

func init() {
	platformBackends = append(platformBackends, func(r *config.Registry) {
		r.RegisterDevice("portaudio", func(c config.AudioConfig) (audio.Device, error) {
			return portaudio.New(c.FrameDuration), nil
		})
	})
}
