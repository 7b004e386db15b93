// Package voiceturn implements the hands-free question controller. It listens
// on the microphone, detects when the speaker starts and stops talking, sends
// the recorded question to the backend, plays the spoken answer and, in live
// mode, starts listening again.
//
// All controller state is owned by one event-loop goroutine started with
// [Controller.Run]. Frame ticks, silence and cooldown timers, dispatch results,
// playback completion and user commands are queued on that loop and applied in
// arrival order. Work that blocks (opening the microphone, the backend round
// trip, playback) runs on its own goroutine and reports back through the loop;
// every such report carries the generation of the turn that started it and is
// dropped when that turn is no longer current.
//
// A turn moves through these states:
//
//	Idle -> Listening -> SpeechDetected <-> Draining -> Finalizing -> Dispatching -> Speaking -> Idle|Listening
//
// A loudness level strictly above the speech threshold is speech; a level equal
// to the threshold is silence.
package voiceturn

import (
	"context"
	"errors"
	"time"

	"github.com/MrWong99/consultvox/pkg/audio"
	"github.com/MrWong99/consultvox/pkg/history"
	"github.com/MrWong99/consultvox/pkg/vad"
)

var (
	// ErrCaptureUnavailable wraps microphone permission and hardware failures.
	ErrCaptureUnavailable = errors.New("voiceturn: capture unavailable")

	// ErrDispatchFailed wraps failures of the backend round trip.
	ErrDispatchFailed = errors.New("voiceturn: dispatch failed")

	// ErrPlaybackFailed wraps failures to play the answer audio.
	ErrPlaybackFailed = errors.New("voiceturn: playback failed")

	// ErrNoSpeech marks an auto-started turn that ended without speech. It is
	// an outcome, not a fault.
	ErrNoSpeech = errors.New("voiceturn: no speech detected")

	// ErrBusy is returned when a turn is requested while another is running.
	ErrBusy = errors.New("voiceturn: a turn is already in progress")

	// ErrNoConsultation is returned when a turn is requested before a
	// consultation exists.
	ErrNoConsultation = errors.New("voiceturn: no active consultation")

	// ErrClosed is returned by commands issued after [Controller.Run] returned.
	ErrClosed = errors.New("voiceturn: controller stopped")
)

// State is the phase of the current turn.
type State int

const (
	Idle State = iota
	Listening
	SpeechDetected
	// Draining means speech was heard and the silence timer is running.
	Draining
	// Finalizing means the recorder is stopping and the clip is assembled.
	Finalizing
	Dispatching
	Speaking
)

var stateNames = [...]string{"idle", "listening", "speech_detected", "draining", "finalizing", "dispatching", "speaking"}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

// Capturing reports whether the microphone is in use in state s.
func (s State) Capturing() bool {
	return s == Listening || s == SpeechDetected || s == Draining
}

// Phase texts shown by the live-mode status indicator.
const (
	PhaseListening  = "Listening..."
	PhaseSpeech     = "Speech Detected!"
	PhaseProcessing = "Processing..."
	PhaseSpeaking   = "Speaking..."
	PhaseNoSpeech   = "No speech detected, restarting..."
)

// Status is a snapshot of the controller published after every change.
type Status struct {
	State State
	Live  bool
	Phase string

	// Level is the most recent loudness measurement of the current turn.
	Level float64

	// TurnID identifies the current turn; empty when Idle.
	TurnID string

	// Auto reports whether the current turn was started by live mode.
	Auto bool
}

// Dispatcher sends a recorded question to the backend and returns the
// resulting exchange, including the spoken answer. It must not retry.
type Dispatcher interface {
	Dispatch(ctx context.Context, clip audio.Clip, consultationID string) (history.Exchange, error)
}

// SharedRecording is implemented by a concurrently running recording whose
// stream the controller may borrow instead of opening its own.
type SharedRecording interface {
	// SharedStream returns the recording's stream and true while it is
	// capturing.
	SharedStream() (audio.Stream, bool)
}

// Settings holds the tunable parameters of the controller. They can be
// replaced at runtime with [Controller.UpdateSettings]. VAD changes take
// effect from the next turn, since each turn measures with the [vad.Session]
// it opened; durations and cooldowns apply to the next timer armed.
type Settings struct {
	// VAD configures loudness measurement. A zero SpeechThreshold is valid;
	// a negative one selects the default.
	VAD vad.Config

	// SilenceDuration is how long the speaker must stay quiet after speech
	// before the turn is finalised. Default: 2s.
	SilenceDuration time.Duration

	// NoSpeechCooldown delays the restart after a live turn heard nothing.
	// Default: 1s.
	NoSpeechCooldown time.Duration

	// DispatchCooldown delays the restart after a failed dispatch in live
	// mode. Default: 2s.
	DispatchCooldown time.Duration

	// CaptureBackoff is the initial delay before retrying the microphone in
	// live mode. It doubles per consecutive failure up to CaptureMaxBackoff.
	// Defaults: 1s and 30s.
	CaptureBackoff    time.Duration
	CaptureMaxBackoff time.Duration

	// CaptureMaxRetries is the number of consecutive microphone failures after
	// which live mode is switched off. Default: 5.
	CaptureMaxRetries int
}

// DefaultSettings returns the reference tuning.
func DefaultSettings() Settings {
	return Settings{
		VAD:               vad.DefaultConfig(),
		SilenceDuration:   2 * time.Second,
		NoSpeechCooldown:  time.Second,
		DispatchCooldown:  2 * time.Second,
		CaptureBackoff:    time.Second,
		CaptureMaxBackoff: 30 * time.Second,
		CaptureMaxRetries: 5,
	}
}

func (s Settings) withDefaults() Settings {
	d := DefaultSettings()
	if s.VAD.WindowSamples <= 0 {
		s.VAD.WindowSamples = d.VAD.WindowSamples
	}
	if s.VAD.Scale <= 0 {
		s.VAD.Scale = d.VAD.Scale
	}
	if s.VAD.SpeechThreshold < 0 {
		s.VAD.SpeechThreshold = d.VAD.SpeechThreshold
	}
	if s.SilenceDuration <= 0 {
		s.SilenceDuration = d.SilenceDuration
	}
	if s.NoSpeechCooldown <= 0 {
		s.NoSpeechCooldown = d.NoSpeechCooldown
	}
	if s.DispatchCooldown <= 0 {
		s.DispatchCooldown = d.DispatchCooldown
	}
	if s.CaptureBackoff <= 0 {
		s.CaptureBackoff = d.CaptureBackoff
	}
	if s.CaptureMaxBackoff < s.CaptureBackoff {
		s.CaptureMaxBackoff = max(d.CaptureMaxBackoff, s.CaptureBackoff)
	}
	if s.CaptureMaxRetries <= 0 {
		s.CaptureMaxRetries = d.CaptureMaxRetries
	}
	return s
}

// captureBackoff returns the delay before retry number n (1-based).
func (s Settings) captureBackoff(n int) time.Duration {
	d := s.CaptureBackoff
	for i := 1; i < n; i++ {
		d *= 2
		if d >= s.CaptureMaxBackoff {
			return s.CaptureMaxBackoff
		}
	}
	return d
}
