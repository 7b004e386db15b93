package config_test

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/consultvox/internal/config"
)

func TestLoadFromReader_Defaults(t *testing.T) {
	t.Parallel()
	cfg, err := config.LoadFromReader(strings.NewReader(""))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}

	if cfg.Server.LogLevel != config.LogInfo || cfg.Server.ListenAddr != ":9090" {
		t.Errorf("server = %+v", cfg.Server)
	}
	if cfg.Backend.BaseURL != "http://localhost:8000" || cfg.Backend.Timeout != time.Minute {
		t.Errorf("backend = %+v", cfg.Backend)
	}
	if cfg.Audio.Backend != "ffmpeg" || cfg.Audio.Player != "ffplay" || cfg.Audio.SampleRate != 16000 || cfg.Audio.Channels != 1 {
		t.Errorf("audio = %+v", cfg.Audio)
	}
	if *cfg.VAD.SpeechThreshold != 1 || cfg.VAD.SilenceDuration != 2*time.Second || cfg.VAD.WindowSamples != 2048 || cfg.VAD.Scale != 1000 {
		t.Errorf("vad = %+v", cfg.VAD)
	}
	if cfg.Live.NoSpeechCooldown != time.Second || cfg.Live.DispatchCooldown != 2*time.Second {
		t.Errorf("live = %+v", cfg.Live)
	}
	if cfg.Summary.PollInterval != time.Second {
		t.Errorf("summary = %+v", cfg.Summary)
	}
}

func TestLoadFromReader_Values(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  log_level: debug
  allowed_origins: ["localhost:5173"]
backend:
  base_url: https://consult.example.org
  timeout: 15s
  breaker:
    max_failures: 3
audio:
  backend: portaudio
  player: speaker
  frame_duration: 10ms
vad:
  speech_threshold: 0
  silence_duration: 1500ms
live:
  capture_max_retries: 2
history:
  postgres_dsn: postgres://localhost/consultvox
`
	cfg, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if cfg.Server.LogLevel != config.LogDebug || len(cfg.Server.AllowedOrigins) != 1 {
		t.Errorf("server = %+v", cfg.Server)
	}
	if cfg.Backend.Timeout != 15*time.Second || cfg.Backend.Breaker.MaxFailures != 3 {
		t.Errorf("backend = %+v", cfg.Backend)
	}
	if cfg.Audio.Backend != "portaudio" || cfg.Audio.FrameDuration != 10*time.Millisecond {
		t.Errorf("audio = %+v", cfg.Audio)
	}
	// An explicit zero threshold is kept.
	if *cfg.VAD.SpeechThreshold != 0 || cfg.VAD.SilenceDuration != 1500*time.Millisecond {
		t.Errorf("vad threshold=%v silence=%v", *cfg.VAD.SpeechThreshold, cfg.VAD.SilenceDuration)
	}
	if cfg.Live.CaptureMaxRetries != 2 {
		t.Errorf("live = %+v", cfg.Live)
	}
}

func TestLoadFromReader_ExpandsEnvironment(t *testing.T) {
	t.Setenv("CONSULTVOX_TEST_BACKEND", "http://backend.internal:8000")
	cfg, err := config.LoadFromReader(strings.NewReader("backend:\n  base_url: ${CONSULTVOX_TEST_BACKEND}\n"))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if cfg.Backend.BaseURL != "http://backend.internal:8000" {
		t.Errorf("base_url = %q", cfg.Backend.BaseURL)
	}
}

func TestLoadFromReader_UnknownField(t *testing.T) {
	t.Parallel()
	_, err := config.LoadFromReader(strings.NewReader("vad:\n  treshold: 3\n"))
	if err == nil || !strings.Contains(err.Error(), "treshold") {
		t.Errorf("err = %v, want unknown field error", err)
	}
}

func TestValidate_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"log level", "server:\n  log_level: loud\n", "server.log_level"},
		{"relative url", "backend:\n  base_url: /api\n", "backend.base_url"},
		{"ftp url", "backend:\n  base_url: ftp://host\n", "backend.base_url"},
		{"sample rate", "audio:\n  sample_rate: 100\n", "audio.sample_rate"},
		{"channels", "audio:\n  channels: 6\n", "audio.channels"},
		{"negative threshold", "vad:\n  speech_threshold: -1\n", "vad.speech_threshold"},
		{"window", "vad:\n  window_samples: 1000\n", "vad.window_samples"},
		{"frame rate", "vad:\n  frame_rate: 1000\n", "vad.frame_rate"},
		{"negative cooldown", "live:\n  dispatch_cooldown: -1s\n", "live cooldowns"},
		{"backoff order", "live:\n  capture_backoff: 10s\n  capture_max_backoff: 5s\n", "capture_max_backoff"},
		{"retries", "live:\n  capture_max_retries: -2\n", "capture_max_retries"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := config.LoadFromReader(strings.NewReader(tt.yaml))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("err = %v, want mention of %q", err, tt.want)
			}
		})
	}
}

func TestValidate_JoinsAllErrors(t *testing.T) {
	t.Parallel()
	_, err := config.LoadFromReader(strings.NewReader("server:\n  log_level: loud\naudio:\n  channels: 9\n"))
	if err == nil {
		t.Fatal("expected error")
	}
	var joined interface{ Unwrap() []error }
	if !errors.As(err, &joined) || len(joined.Unwrap()) != 2 {
		t.Errorf("err = %v, want two joined errors", err)
	}
}

func TestLoad_File(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "consultvox.yaml")
	if err := os.WriteFile(path, []byte("summary:\n  poll_interval: 3s\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Summary.PollInterval != 3*time.Second {
		t.Errorf("poll_interval = %v", cfg.Summary.PollInterval)
	}

	if _, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("Load(missing) = %v, want ErrNotExist", err)
	}
}
