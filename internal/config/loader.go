package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML configuration file at path and returns a validated
// [Config] with defaults applied.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, expands ${VAR} references
// from the environment, applies defaults and validates the result.
// An empty document yields the default configuration.
func LoadFromReader(r io.Reader) (*Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}
	data = []byte(os.ExpandEnv(string(data)))

	cfg := &Config{}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values. Run it after
// [ApplyDefaults]. It returns a joined error listing all failures found.
func Validate(cfg *Config) error {
	var errs []error

	if !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	if u, err := url.Parse(cfg.Backend.BaseURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, fmt.Errorf("backend.base_url %q must be an absolute http(s) URL", cfg.Backend.BaseURL))
	}
	if cfg.Backend.Timeout < 0 {
		errs = append(errs, fmt.Errorf("backend.timeout %v must not be negative", cfg.Backend.Timeout))
	}
	b := cfg.Backend.Breaker
	if b.MaxFailures < 0 || b.HalfOpenMax < 0 || b.ResetTimeout < 0 {
		errs = append(errs, errors.New("backend.breaker values must not be negative"))
	}

	if cfg.Audio.SampleRate < 8000 || cfg.Audio.SampleRate > 192000 {
		errs = append(errs, fmt.Errorf("audio.sample_rate %d is out of range [8000, 192000]", cfg.Audio.SampleRate))
	}
	if cfg.Audio.Channels < 1 || cfg.Audio.Channels > 2 {
		errs = append(errs, fmt.Errorf("audio.channels %d must be 1 or 2", cfg.Audio.Channels))
	}
	if cfg.Audio.FrameDuration < 0 {
		errs = append(errs, fmt.Errorf("audio.frame_duration %v must not be negative", cfg.Audio.FrameDuration))
	}

	v := cfg.VAD
	if v.SpeechThreshold != nil && *v.SpeechThreshold < 0 {
		errs = append(errs, fmt.Errorf("vad.speech_threshold %.2f must not be negative", *v.SpeechThreshold))
	}
	if v.SilenceDuration < 0 {
		errs = append(errs, fmt.Errorf("vad.silence_duration %v must not be negative", v.SilenceDuration))
	}
	if v.WindowSamples < 0 || (v.WindowSamples > 0 && v.WindowSamples&(v.WindowSamples-1) != 0) {
		errs = append(errs, fmt.Errorf("vad.window_samples %d must be a power of two", v.WindowSamples))
	}
	if v.Scale < 0 {
		errs = append(errs, fmt.Errorf("vad.scale %.2f must not be negative", v.Scale))
	}
	if v.FrameRate < 0 || v.FrameRate > 240 {
		errs = append(errs, fmt.Errorf("vad.frame_rate %d is out of range [1, 240]", v.FrameRate))
	}

	l := cfg.Live
	if l.NoSpeechCooldown < 0 || l.DispatchCooldown < 0 || l.CaptureBackoff < 0 || l.CaptureMaxBackoff < 0 {
		errs = append(errs, errors.New("live cooldowns and backoffs must not be negative"))
	}
	if l.CaptureMaxRetries < 0 {
		errs = append(errs, fmt.Errorf("live.capture_max_retries %d must not be negative", l.CaptureMaxRetries))
	}
	if l.CaptureMaxBackoff > 0 && l.CaptureMaxBackoff < l.CaptureBackoff {
		errs = append(errs, fmt.Errorf("live.capture_max_backoff %v is shorter than live.capture_backoff %v", l.CaptureMaxBackoff, l.CaptureBackoff))
	}

	if cfg.Summary.PollInterval < 0 {
		errs = append(errs, fmt.Errorf("summary.poll_interval %v must not be negative", cfg.Summary.PollInterval))
	}

	return errors.Join(errs...)
}
