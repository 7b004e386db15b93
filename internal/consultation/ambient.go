package consultation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/consultvox/internal/eventlog"
	"github.com/MrWong99/consultvox/internal/observe"
	"github.com/MrWong99/consultvox/internal/voiceturn"
	"github.com/MrWong99/consultvox/pkg/audio"
)

// ErrNotRecording is returned by [Ambient.Stop] when no recording is running.
var ErrNotRecording = errors.New("consultation: not recording")

// AmbientConfig wires an [Ambient] recorder.
type AmbientConfig struct {
	Device  audio.Device
	Backend Backend
	Player  audio.Player
	Session *Session
	Log     *eventlog.Log
	Metrics *observe.Metrics
}

// Ambient is the always-on consultation recording. Its stream is shared with
// the voice-turn controller while it runs.
type Ambient struct {
	device  audio.Device
	backend Backend
	player  audio.Player
	session *Session
	log     *eventlog.Log
	metrics *observe.Metrics

	mu       sync.Mutex
	stream   audio.Stream
	recorder *audio.Recorder
}

var _ voiceturn.SharedRecording = (*Ambient)(nil)

// NewAmbient creates an idle ambient recorder.
func NewAmbient(cfg AmbientConfig) *Ambient {
	if cfg.Session == nil {
		cfg.Session = NewSession()
	}
	if cfg.Log == nil {
		cfg.Log = eventlog.New()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	return &Ambient{
		device:  cfg.Device,
		backend: cfg.Backend,
		player:  cfg.Player,
		session: cfg.Session,
		log:     cfg.Log,
		metrics: cfg.Metrics,
	}
}

// Recording reports whether a recording is running.
func (a *Ambient) Recording() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stream != nil
}

// SharedStream returns the running recording's stream while it is active.
func (a *Ambient) SharedStream() (audio.Stream, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.stream == nil || !a.stream.Active() {
		return nil, false
	}
	return a.stream, true
}

// Start opens the microphone with the platform's default processing and
// starts recording. Starting twice is a no-op.
func (a *Ambient) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.stream != nil {
		return nil
	}
	if a.device == nil {
		a.log.Addf("[Error] Could not access microphone.")
		return fmt.Errorf("consultation: start recording: %w", audio.ErrNoDevice)
	}
	st, err := a.device.Open(ctx, audio.DefaultConstraints())
	if err != nil {
		a.log.Addf("[Error] Could not access microphone.")
		return fmt.Errorf("consultation: start recording: %w", err)
	}
	a.stream = st
	a.recorder = audio.NewRecorder(st)
	a.metrics.ActiveCaptures.Add(ctx, 1)
	a.log.Addf("[Mic] Recording started...")
	return nil
}

// Stop ends the recording, uploads it with summary generation requested and
// plays the backend's reply. It blocks until the upload has finished.
func (a *Ambient) Stop(ctx context.Context) error {
	a.mu.Lock()
	st, rec := a.stream, a.recorder
	a.stream, a.recorder = nil, nil
	a.mu.Unlock()
	if st == nil {
		return ErrNotRecording
	}

	clip := rec.Stop()
	st.Stop()
	a.metrics.ActiveCaptures.Add(ctx, -1)
	a.log.Addf("[Mic] Recording stopped. Sending...")

	ctx, span := observe.StartSpan(ctx, "consultation.upload")
	defer span.End()

	start := time.Now()
	reply, err := a.backend.SubmitAmbientAudio(ctx, clip, a.session.SessionID(), true)
	a.metrics.UploadDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		span.RecordError(err)
		a.log.Addf("[Error] Failed to send audio: %v", err)
		return fmt.Errorf("consultation: upload recording: %w", err)
	}

	a.session.SetIDs(reply.SessionID, reply.ConsultationID)
	a.log.Addf("[Gateway] Sent audio chunk. consultationId=%s", reply.ConsultationID)
	a.log.Addf("[Gateway] Triggered summary generation.")

	if a.player != nil && !reply.Audio.Empty() {
		err := a.player.Play(context.WithoutCancel(ctx), reply.Audio, func(err error) {
			if err != nil {
				observe.Logger(ctx).Warn("consultation: reply playback failed", "err", err)
			}
		})
		if err != nil {
			slog.Warn("consultation: reply playback did not start", "err", err)
		}
	}
	return nil
}
