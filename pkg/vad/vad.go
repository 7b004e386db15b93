// Package vad defines the Engine interface for loudness-based voice activity
// detection and provides an RMS implementation.
//
// An engine produces per-stream sessions. Each session turns the latest window
// of audio samples into a non-negative loudness level on a human-legible scale
// and classifies it against a speech threshold. Sessions are cheap: create one
// per listening attempt and close it when the attempt ends.
//
// Measurement is synchronous: Measure returns immediately, so it can run on
// every rendered frame without building up a backlog.
package vad

import "errors"

// ErrSessionClosed is returned by [Session.Measure] after [Session.Close].
var ErrSessionClosed = errors.New("vad: session closed")

// Config holds the parameters for a VAD session.
type Config struct {
	// WindowSamples is the number of most recent samples each measurement
	// covers. Default: 2048.
	WindowSamples int

	// Scale multiplies the raw RMS (computed over samples normalised to
	// [-1, 1]) so that thresholds are readable numbers. Default: 1000.
	Scale float64

	// SpeechThreshold is the level above which a measurement counts as speech.
	// A level exactly equal to the threshold is silence. Default: 1.
	SpeechThreshold float64
}

// DefaultConfig returns the reference tuning: a 2048-sample window, scale
// 1000, threshold 1.
func DefaultConfig() Config {
	return Config{WindowSamples: 2048, Scale: 1000, SpeechThreshold: 1}
}

// withDefaults fills zero fields from [DefaultConfig].
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.WindowSamples <= 0 {
		c.WindowSamples = d.WindowSamples
	}
	if c.Scale <= 0 {
		c.Scale = d.Scale
	}
	if c.SpeechThreshold < 0 {
		c.SpeechThreshold = d.SpeechThreshold
	}
	return c
}

// Measurement is the result of analysing one window.
type Measurement struct {
	// Level is the scaled loudness, never negative.
	Level float64

	// Speech reports Level > SpeechThreshold.
	Speech bool
}

// IsSpeech reports whether level counts as speech against threshold. The
// comparison is strict: a level equal to the threshold is silence.
func IsSpeech(level, threshold float64) bool {
	return level > threshold
}

// Session measures loudness for a single audio stream.
//
// A Session should not be shared between goroutines unless the implementation
// explicitly guarantees concurrent safety.
type Session interface {
	// Measure analyses the given window of mono samples normalised to [-1, 1].
	// Only the last WindowSamples values are considered.
	Measure(window []float64) (Measurement, error)

	// Close releases the session. Calling Close more than once is safe.
	Close() error
}

// Engine is the factory for VAD sessions.
//
// Implementations must be safe for concurrent use.
type Engine interface {
	NewSession(cfg Config) (Session, error)
}
