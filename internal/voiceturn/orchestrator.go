package voiceturn

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/MrWong99/consultvox/internal/eventlog"
	"github.com/MrWong99/consultvox/internal/observe"
	"github.com/MrWong99/consultvox/pkg/audio"
)

// Orchestrator plays answer audio and signals when the controller may resume.
type Orchestrator struct {
	player  audio.Player
	log     *eventlog.Log
	metrics *observe.Metrics
}

// NewOrchestrator returns an orchestrator playing through player.
func NewOrchestrator(player audio.Player, log *eventlog.Log, metrics *observe.Metrics) *Orchestrator {
	if log == nil {
		log = eventlog.New()
	}
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	return &Orchestrator{player: player, log: log, metrics: metrics}
}

// Play starts clip and calls resume exactly once: when playback ends, or
// immediately when it cannot start. resume receives nil on natural completion.
// The returned function aborts playback; resume still fires once.
func (o *Orchestrator) Play(ctx context.Context, clip audio.Clip, resume func(error)) (cancel func()) {
	ctx, cancel = context.WithCancel(ctx)

	var once sync.Once
	finish := func(err error) {
		once.Do(func() {
			cancel()
			status := observe.Status(err)
			if errors.Is(err, context.Canceled) {
				status = "cancelled"
			}
			o.metrics.RecordPlayback(ctx, status)
			if err == nil {
				o.log.Addf("[QA Voice] Audio finished. Resuming listening...")
			} else if !errors.Is(err, context.Canceled) {
				o.log.Addf("[QA Voice] Audio play error: %v", err)
			}
			resume(err)
		})
	}

	if o.player == nil {
		finish(fmt.Errorf("%w: no output device", ErrPlaybackFailed))
		return cancel
	}
	if clip.Empty() {
		finish(fmt.Errorf("%w: answer has no audio", ErrPlaybackFailed))
		return cancel
	}

	err := o.player.Play(ctx, clip, func(err error) {
		if err != nil && !errors.Is(err, context.Canceled) {
			err = fmt.Errorf("%w: %w", ErrPlaybackFailed, err)
		}
		finish(err)
	})
	if err != nil {
		finish(fmt.Errorf("%w: %w", ErrPlaybackFailed, err))
		return cancel
	}
	o.log.Addf("[QA Voice] Playing audio...")
	return cancel
}
