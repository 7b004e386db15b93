//go:build speaker

package app

import (
	"github.com/MrWong99/consultvox/internal/config"
	"github.com/MrWong99/consultvox/pkg/audio"
	"github.com/MrWong99/consultvox/pkg/audio/speaker"
)

func init() {
	platformBackends = append(platformBackends, func(r *config.Registry) {
		r.RegisterPlayer("speaker", func(config.AudioConfig) (audio.Player, error) {
			return speaker.New(), nil
		})
	})
}
