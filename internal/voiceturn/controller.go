package voiceturn

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/consultvox/internal/clock"
	"github.com/MrWong99/consultvox/internal/eventlog"
	"github.com/MrWong99/consultvox/internal/observe"
	"github.com/MrWong99/consultvox/pkg/audio"
	"github.com/MrWong99/consultvox/pkg/vad"
)

// levelPublishEvery throttles level-only status updates to every n-th frame.
const levelPublishEvery = 10

// Config wires a [Controller] to its collaborators.
type Config struct {
	// Device opens new microphone streams. Required unless every turn can
	// borrow from Shared.
	Device audio.Device

	// Shared, if set, is asked for a stream to borrow before each turn.
	Shared SharedRecording

	// VAD creates loudness measurement sessions. Default: [vad.RMSEngine].
	VAD vad.Engine

	// Frames drives loudness measurement. Default: a 60 Hz [audio.TickerClock].
	Frames audio.FrameClock

	// Dispatcher sends recorded questions. Required.
	Dispatcher Dispatcher

	// Player plays the spoken answers.
	Player audio.Player

	// Consultation returns the current consultation ID, or "" when none
	// exists. Required.
	Consultation func() string

	Clock   clock.Clock
	Log     *eventlog.Log
	Metrics *observe.Metrics

	Settings Settings
}

// Controller runs voice turns. Create it with [New] and drive it with
// [Controller.Run]; every other method is safe for concurrent use but only
// takes effect while Run is executing.
type Controller struct {
	source       *Source
	engine       vad.Engine
	frames       audio.FrameClock
	dispatcher   Dispatcher
	orch         *Orchestrator
	consultation func() string
	clock        clock.Clock
	log          *eventlog.Log
	metrics      *observe.Metrics

	events  chan func()
	done    chan struct{}
	running atomic.Bool
	postMu  sync.RWMutex
	closed  bool // guarded by postMu

	// Owned by the loop goroutine.
	runCtx          context.Context
	settings        Settings
	state           State
	live            bool
	phase           string
	gen             uint64
	turn            *turn
	restart         clock.Timer
	restartSeq      uint64
	captureFailures int
	stopped         bool

	mu        sync.RWMutex
	status    Status
	observers []func(Status)
}

// turn holds the resources of one listen-dispatch-speak cycle.
type turn struct {
	id    string
	gen   uint64
	auto  bool
	start time.Time

	ctx    context.Context
	cancel context.CancelFunc
	span   trace.Span

	session  *CaptureSession
	analyzer *Analyzer
	recorder *audio.Recorder
	released chan struct{}

	speech     bool
	level      float64
	ticks      int
	silence    clock.Timer
	silenceSeq uint64

	stopPlayback func()
}

// New creates a controller. It panics if a required collaborator is missing.
func New(cfg Config) *Controller {
	if cfg.Dispatcher == nil {
		panic("voiceturn: Config.Dispatcher is required")
	}
	if cfg.Consultation == nil {
		panic("voiceturn: Config.Consultation is required")
	}
	if cfg.VAD == nil {
		cfg.VAD = vad.RMSEngine{}
	}
	if cfg.Frames == nil {
		cfg.Frames = audio.TickerClock{}
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real{}
	}
	if cfg.Log == nil {
		cfg.Log = eventlog.New(eventlog.WithClock(cfg.Clock))
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}

	c := &Controller{
		source:       NewSource(cfg.Device, cfg.Shared),
		engine:       cfg.VAD,
		frames:       cfg.Frames,
		dispatcher:   cfg.Dispatcher,
		orch:         NewOrchestrator(cfg.Player, cfg.Log, cfg.Metrics),
		consultation: cfg.Consultation,
		clock:        cfg.Clock,
		log:          cfg.Log,
		metrics:      cfg.Metrics,
		events:       make(chan func(), 64),
		done:         make(chan struct{}),
		runCtx:       context.Background(),
		settings:     cfg.Settings.withDefaults(),
	}
	c.status = Status{State: Idle}
	return c
}

// Run processes events until ctx is cancelled, then releases every resource
// of the current turn and clears live mode. It may be called only once.
func (c *Controller) Run(ctx context.Context) error {
	if !c.running.CompareAndSwap(false, true) {
		return errors.New("voiceturn: Run called twice")
	}
	c.runCtx = ctx
	defer func() {
		c.shutdown()
		close(c.done)
		c.postMu.Lock()
		c.closed = true
		c.postMu.Unlock()
		// Events queued while shutting down are all stale; running them
		// releases anything they carry.
		for {
			select {
			case fn := <-c.events:
				fn()
			default:
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case fn := <-c.events:
			fn()
		}
	}
}

// StartTurn starts one manually triggered turn. The turn ends on its own after
// the speaker falls silent, or on [Controller.Stop]. A manual turn is sent
// even if no speech was detected.
func (c *Controller) StartTurn() error {
	return c.call(func() error { return c.startTurn(false) })
}

// StartLive enables live mode and, if idle, starts listening. While live mode
// is on, a new turn starts automatically after each answer has been spoken.
func (c *Controller) StartLive() error {
	return c.call(func() error {
		if c.live {
			return nil
		}
		if c.consultation() == "" {
			return ErrNoConsultation
		}
		c.setLive(true)
		if c.state != Idle {
			c.publish()
			return nil
		}
		if err := c.startTurn(true); err != nil {
			c.setLive(false)
			c.publish()
			return err
		}
		return nil
	})
}

// Stop is the manual stop: it clears live mode, cancels any pending restart,
// and ends the current turn. A turn that is still capturing is finalised as
// usual; a turn waiting for the backend or playing its answer is abandoned.
// Stopping an idle controller is a no-op.
func (c *Controller) Stop() error {
	return c.call(func() error {
		c.setLive(false)
		c.cancelRestart()

		t := c.turn
		switch {
		case t == nil:
			c.phase = ""
		case c.state.Capturing() && t.session != nil:
			c.finalize()
			return nil
		case c.state.Capturing():
			c.metrics.RecordTurn(t.ctx, observe.OutcomeCancelled)
			c.endTurn(t, nil)
		case c.state == Dispatching:
			c.metrics.RecordTurn(t.ctx, observe.OutcomeCancelled)
			c.endTurn(t, nil)
		case c.state == Speaking:
			c.endTurn(t, nil)
		}
		c.transition(Idle, "")
		return nil
	})
}

// UpdateSettings replaces the tuning parameters. Zero fields select defaults.
func (c *Controller) UpdateSettings(s Settings) error {
	return c.call(func() error {
		c.settings = s.withDefaults()
		return nil
	})
}

// Status returns the latest published status.
func (c *Controller) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

// Observe registers fn to receive every published status. fn runs on the
// event loop and must neither block nor call back into the controller.
func (c *Controller) Observe(fn func(Status)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.observers = append(c.observers, fn)
}

// call runs fn on the event loop and returns its result.
func (c *Controller) call(fn func() error) error {
	res := make(chan error, 1)
	if !c.post(func() {
		if c.stopped {
			res <- ErrClosed
			return
		}
		res <- fn()
	}) {
		return ErrClosed
	}
	select {
	case err := <-res:
		return err
	case <-c.done:
		return ErrClosed
	}
}

// post queues fn on the event loop. It reports false once the loop has exited.
func (c *Controller) post(fn func()) bool {
	c.postMu.RLock()
	defer c.postMu.RUnlock()
	if c.closed {
		return false
	}
	select {
	case c.events <- fn:
		return true
	case <-c.done:
		return false
	}
}

func (c *Controller) startTurn(auto bool) error {
	if auto && !c.live {
		return nil
	}
	if c.state != Idle || c.turn != nil {
		return ErrBusy
	}
	id := c.consultation()
	if id == "" {
		return ErrNoConsultation
	}
	c.cancelRestart()

	c.gen++
	t := &turn{
		id:       uuid.NewString(),
		gen:      c.gen,
		auto:     auto,
		start:    c.clock.Now(),
		released: make(chan struct{}),
	}
	ctx, span := observe.StartSpan(c.runCtx, "voiceturn.turn", trace.WithAttributes(
		attribute.String("turn.id", t.id),
		attribute.Bool("turn.auto", auto),
		attribute.String("consultation.id", id),
	))
	ctx = observe.WithTurn(observe.WithConsultation(ctx, id), t.id)
	t.ctx, t.cancel = context.WithCancel(ctx)
	t.span = span
	c.turn = t

	observe.Logger(t.ctx).Debug("voiceturn: turn started", "auto", auto)
	c.transition(Listening, PhaseListening)

	gen := t.gen
	go func() {
		sess, err := c.source.Acquire(t.ctx)
		if !c.post(func() { c.onAcquired(gen, sess, err) }) && sess != nil {
			sess.Release()
		}
	}()
	return nil
}

func (c *Controller) current(gen uint64) *turn {
	if c.turn == nil || c.turn.gen != gen {
		return nil
	}
	return c.turn
}

func (c *Controller) onAcquired(gen uint64, sess *CaptureSession, err error) {
	t := c.current(gen)
	if t == nil || c.state != Listening || t.session != nil {
		if sess != nil {
			sess.Release()
		}
		return
	}
	if err != nil {
		c.captureFailed(t, err)
		return
	}

	t.session = sess
	c.metrics.ActiveCaptures.Add(t.ctx, 1)
	t.span.SetAttributes(attribute.String("capture.ownership", sess.Ownership.String()))
	t.recorder = audio.NewRecorder(sess.Stream)

	a, err := StartAnalyzer(sess.Stream, c.engine, c.settings.VAD, c.frames, func(m vad.Measurement) {
		c.post(func() { c.onLevel(gen, m) })
	})
	if err != nil {
		c.releaseCapture(t)
		c.captureFailed(t, fmt.Errorf("%w: %w", ErrCaptureUnavailable, err))
		return
	}
	t.analyzer = a
	c.captureFailures = 0

	go func() {
		select {
		case <-sess.Stream.Done():
			c.post(func() { c.onStreamEnded(gen) })
		case <-t.released:
		}
	}()
}

func (c *Controller) captureFailed(t *turn, err error) {
	c.log.Addf("[QA Voice] Error accessing microphone: %v", err)
	c.metrics.RecordCaptureFailure(t.ctx, failureReason(err))
	c.metrics.RecordTurn(t.ctx, observe.OutcomeError)
	c.endTurn(t, err)

	if !c.live {
		c.transition(Idle, "")
		return
	}
	c.captureFailures++
	if c.captureFailures > c.settings.CaptureMaxRetries {
		c.log.Addf("[QA Voice] Live mode stopped after %d failed microphone attempts.", c.captureFailures)
		c.setLive(false)
		c.transition(Idle, "")
		return
	}
	delay := c.settings.captureBackoff(c.captureFailures)
	c.log.Addf("[QA Voice] Retrying microphone in %s...", delay)
	c.transition(Idle, "")
	c.scheduleRestart(delay)
}

func (c *Controller) onLevel(gen uint64, m vad.Measurement) {
	t := c.current(gen)
	if t == nil || !c.state.Capturing() || t.session == nil {
		return
	}
	t.level = m.Level
	t.ticks++

	if m.Speech {
		t.speech = true
		c.cancelSilence(t)
		if c.state != SpeechDetected {
			c.transition(SpeechDetected, PhaseSpeech)
			return
		}
	} else if c.state == SpeechDetected {
		c.armSilence(t)
		c.transition(Draining, PhaseSpeech)
		return
	}
	if t.ticks%levelPublishEvery == 0 {
		c.publish()
	}
}

func (c *Controller) armSilence(t *turn) {
	c.cancelSilence(t)
	seq, gen := t.silenceSeq, t.gen
	t.silence = c.clock.AfterFunc(c.settings.SilenceDuration, func() {
		c.post(func() { c.onSilenceElapsed(gen, seq) })
	})
}

func (c *Controller) cancelSilence(t *turn) {
	if t.silence != nil {
		t.silence.Stop()
		t.silence = nil
	}
	t.silenceSeq++
}

func (c *Controller) onSilenceElapsed(gen, seq uint64) {
	t := c.current(gen)
	if t == nil || c.state != Draining || t.silenceSeq != seq {
		return
	}
	t.silence = nil
	c.finalize()
}

func (c *Controller) onStreamEnded(gen uint64) {
	t := c.current(gen)
	if t == nil || !c.state.Capturing() || t.session == nil {
		return
	}
	if err := t.session.Stream.Err(); err != nil {
		c.log.Addf("[QA Voice] Microphone stream failed: %v", err)
	} else {
		c.log.Addf("[QA Voice] Microphone stream ended.")
	}
	c.finalize()
}

// finalize stops capture and either dispatches the clip or discards it.
func (c *Controller) finalize() {
	t := c.turn
	c.transition(Finalizing, c.phase)
	clip := c.releaseCapture(t)
	c.metrics.TurnDuration.Record(t.ctx, c.clock.Now().Sub(t.start).Seconds())

	if (t.auto && !t.speech) || clip.Empty() {
		c.metrics.RecordTurn(t.ctx, observe.OutcomeNoSpeech)
		c.endTurn(t, nil)
		if c.live {
			c.transition(Idle, PhaseNoSpeech)
			c.scheduleRestart(c.settings.NoSpeechCooldown)
			return
		}
		c.transition(Idle, "")
		return
	}
	c.dispatch(t, clip)
}

// releaseCapture tears down the analyzer, recorder and capture session of t
// and returns the recorded clip. Every step tolerates a partially built turn.
func (c *Controller) releaseCapture(t *turn) audio.Clip {
	c.cancelSilence(t)
	if t.analyzer != nil {
		t.analyzer.Stop()
	}
	var clip audio.Clip
	if t.recorder != nil {
		clip = t.recorder.Stop()
	}
	if t.session != nil {
		t.session.Release()
		select {
		case <-t.released:
		default:
			close(t.released)
			c.metrics.ActiveCaptures.Add(t.ctx, -1)
		}
	}
	return clip
}

func (c *Controller) dispatch(t *turn, clip audio.Clip) {
	c.transition(Dispatching, PhaseProcessing)
	id := c.consultation()
	gen := t.gen
	go func() {
		ctx, span := observe.StartSpan(t.ctx, "voiceturn.dispatch")
		start := time.Now()
		ex, err := c.dispatcher.Dispatch(ctx, clip, id)
		c.metrics.DispatchDuration.Record(ctx, time.Since(start).Seconds())
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		c.post(func() { c.onDispatched(gen, ex.AnswerAudio, err) })
	}()
}

func (c *Controller) onDispatched(gen uint64, answer audio.Clip, err error) {
	t := c.current(gen)
	if t == nil || c.state != Dispatching {
		return
	}
	if err != nil {
		c.log.Addf("[QA Voice] Error: %v", err)
		c.metrics.RecordTurn(t.ctx, observe.OutcomeError)
		c.endTurn(t, fmt.Errorf("%w: %w", ErrDispatchFailed, err))
		c.transition(Idle, "")
		if c.live {
			c.scheduleRestart(c.settings.DispatchCooldown)
		}
		return
	}

	c.metrics.RecordTurn(t.ctx, observe.OutcomeDispatched)
	c.transition(Speaking, PhaseSpeaking)
	t.stopPlayback = c.orch.Play(t.ctx, answer, func(err error) {
		// May run on the loop itself when playback cannot start.
		go c.post(func() { c.onPlaybackEnded(gen, err) })
	})
}

func (c *Controller) onPlaybackEnded(gen uint64, err error) {
	t := c.current(gen)
	if t == nil || c.state != Speaking {
		return
	}
	c.endTurn(t, err)
	if !c.live {
		c.transition(Idle, "")
		return
	}
	c.state = Idle
	if err := c.startTurn(true); err != nil {
		c.log.Addf("[QA Voice] Could not resume listening: %v", err)
		c.setLive(false)
		c.transition(Idle, "")
	}
}

// endTurn releases whatever t still holds and forgets it.
func (c *Controller) endTurn(t *turn, err error) {
	c.releaseCapture(t)
	if t.stopPlayback != nil {
		t.stopPlayback()
	}
	if err != nil {
		t.span.RecordError(err)
		t.span.SetStatus(codes.Error, err.Error())
	}
	t.span.End()
	t.cancel()
	if c.turn == t {
		c.turn = nil
	}
}

func (c *Controller) scheduleRestart(d time.Duration) {
	c.cancelRestart()
	seq := c.restartSeq
	c.restart = c.clock.AfterFunc(d, func() {
		c.post(func() { c.onRestart(seq) })
	})
}

func (c *Controller) cancelRestart() {
	if c.restart != nil {
		c.restart.Stop()
		c.restart = nil
	}
	c.restartSeq++
}

func (c *Controller) onRestart(seq uint64) {
	if seq != c.restartSeq || !c.live || c.state != Idle {
		return
	}
	c.restart = nil
	if err := c.startTurn(true); err != nil {
		c.log.Addf("[QA Voice] Could not resume listening: %v", err)
		c.setLive(false)
		c.transition(Idle, "")
	}
}

func (c *Controller) setLive(v bool) {
	if c.live == v {
		return
	}
	c.live = v
	if v {
		c.metrics.LiveMode.Add(c.runCtx, 1)
		return
	}
	c.metrics.LiveMode.Add(c.runCtx, -1)
	c.captureFailures = 0
}

func (c *Controller) transition(s State, phase string) {
	if c.state != s && c.turn != nil {
		observe.Logger(c.turn.ctx).Debug("voiceturn: state change", "from", c.state, "to", s)
	}
	c.state = s
	c.phase = phase
	c.publish()
}

func (c *Controller) publish() {
	st := Status{State: c.state, Live: c.live, Phase: c.phase}
	if t := c.turn; t != nil {
		st.Level = t.level
		st.TurnID = t.id
		st.Auto = t.auto
	}

	c.mu.Lock()
	c.status = st
	obs := make([]func(Status), len(c.observers))
	copy(obs, c.observers)
	c.mu.Unlock()

	for _, fn := range obs {
		fn(st)
	}
}

func (c *Controller) shutdown() {
	c.stopped = true
	c.cancelRestart()
	var sess *CaptureSession
	if t := c.turn; t != nil {
		if c.state == Dispatching || c.state.Capturing() {
			c.metrics.RecordTurn(t.ctx, observe.OutcomeCancelled)
		}
		sess = t.session
		c.endTurn(t, nil)
	}
	c.setLive(false)
	c.transition(Idle, "")

	// Nothing is queued after shutdown, so waiting for the device is safe.
	if sess != nil {
		<-sess.Released()
	}
}
