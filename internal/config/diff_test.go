package config_test

import (
	"slices"
	"testing"
	"time"

	"github.com/MrWong99/consultvox/internal/config"
)

func defaults() *config.Config {
	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	return cfg
}

func TestDiff(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		mutate      func(*config.Config)
		wantLog     bool
		wantVAD     bool
		wantLive    bool
		wantRestart []string
	}{
		{name: "identical", mutate: func(*config.Config) {}},
		{
			name:    "log level",
			mutate:  func(c *config.Config) { c.Server.LogLevel = config.LogDebug },
			wantLog: true,
		},
		{
			name: "threshold",
			mutate: func(c *config.Config) {
				v := 4.0
				c.VAD.SpeechThreshold = &v
			},
			wantVAD: true,
		},
		{
			name:    "silence",
			mutate:  func(c *config.Config) { c.VAD.SilenceDuration = time.Second },
			wantVAD: true,
		},
		{
			name:     "live",
			mutate:   func(c *config.Config) { c.Live.DispatchCooldown = 5 * time.Second },
			wantLive: true,
		},
		{
			name: "restart sections",
			mutate: func(c *config.Config) {
				c.Server.ListenAddr = ":9191"
				c.Backend.BaseURL = "http://other:8000"
				c.History.PostgresDSN = "postgres://db"
			},
			wantRestart: []string{"server", "backend", "history"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			old, new := defaults(), defaults()
			tt.mutate(new)
			d := config.Diff(old, new)

			if d.LogLevelChanged != tt.wantLog || d.VADChanged != tt.wantVAD || d.LiveChanged != tt.wantLive {
				t.Errorf("diff = %+v", d)
			}
			if !slices.Equal(d.RestartRequired, tt.wantRestart) {
				t.Errorf("RestartRequired = %v, want %v", d.RestartRequired, tt.wantRestart)
			}
			empty := !tt.wantLog && !tt.wantVAD && !tt.wantLive && len(tt.wantRestart) == 0
			if d.Empty() != empty {
				t.Errorf("Empty = %v, want %v", d.Empty(), empty)
			}
		})
	}
}

func TestDiff_SameThresholdDifferentPointer(t *testing.T) {
	t.Parallel()
	old, new := defaults(), defaults()
	v := *old.VAD.SpeechThreshold
	new.VAD.SpeechThreshold = &v
	if d := config.Diff(old, new); d.VADChanged {
		t.Error("equal thresholds reported as changed")
	}
}
