// Package app wires the consultvox subsystems into a running client.
//
// New builds every component from the config, Run drives the long-running
// loops until the context is cancelled, and Shutdown releases what New
// acquired. Tests inject doubles through functional options; anything not
// injected is created from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/consultvox/internal/clock"
	"github.com/MrWong99/consultvox/internal/config"
	"github.com/MrWong99/consultvox/internal/consultation"
	"github.com/MrWong99/consultvox/internal/eventlog"
	"github.com/MrWong99/consultvox/internal/health"
	"github.com/MrWong99/consultvox/internal/observe"
	"github.com/MrWong99/consultvox/internal/resilience"
	"github.com/MrWong99/consultvox/internal/statusfeed"
	"github.com/MrWong99/consultvox/internal/voiceturn"
	"github.com/MrWong99/consultvox/pkg/audio"
	"github.com/MrWong99/consultvox/pkg/consult"
	"github.com/MrWong99/consultvox/pkg/history"
	"github.com/MrWong99/consultvox/pkg/history/postgres"
	"github.com/MrWong99/consultvox/pkg/vad"
)

// App owns the lifetime of every consultvox subsystem.
type App struct {
	cfg      *config.Config
	registry *config.Registry
	levels   *slog.LevelVar

	clock   clock.Clock
	frames  audio.FrameClock
	metrics *observe.Metrics
	log     *eventlog.Log

	device  audio.Device
	player  audio.Player
	backend consultation.Backend
	breaker *resilience.CircuitBreaker
	store   history.Store
	pinger  func(context.Context) error

	session *consultation.Session
	ambient *consultation.Ambient
	poller  *consultation.Poller
	qa      *consultation.QA
	voice   *voiceturn.Controller
	hub     *statusfeed.Hub
	health  *health.Handler

	active atomic.Bool
	mu     sync.Mutex
	runCtx context.Context

	closers  []func() error
	stopOnce sync.Once
}

// Option injects a dependency into [New].
type Option func(*App)

// WithDevice replaces the configured capture device.
func WithDevice(d audio.Device) Option { return func(a *App) { a.device = d } }

// WithPlayer replaces the configured answer player.
func WithPlayer(p audio.Player) Option { return func(a *App) { a.player = p } }

// WithBackend replaces the HTTP consultation client.
func WithBackend(b consultation.Backend) Option { return func(a *App) { a.backend = b } }

// WithHistoryStore replaces the configured history store.
func WithHistoryStore(s history.Store) Option { return func(a *App) { a.store = s } }

// WithFrameClock replaces the ticker driving loudness measurement.
func WithFrameClock(c audio.FrameClock) Option { return func(a *App) { a.frames = c } }

// WithClock replaces the wall clock used for timers and log timestamps.
func WithClock(c clock.Clock) Option { return func(a *App) { a.clock = c } }

// WithMetrics replaces the global metric instruments.
func WithMetrics(m *observe.Metrics) Option { return func(a *App) { a.metrics = m } }

// WithLevelVar lets [App.Reload] change the process log level.
func WithLevelVar(v *slog.LevelVar) Option { return func(a *App) { a.levels = v } }

// WithRegistry replaces the audio backend registry. Default: [NewRegistry].
func WithRegistry(r *config.Registry) Option { return func(a *App) { a.registry = r } }

// New builds the application. Nothing runs until [App.Run].
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{cfg: cfg, runCtx: context.Background()}
	for _, o := range opts {
		o(a)
	}
	if a.registry == nil {
		a.registry = NewRegistry()
	}
	if a.clock == nil {
		a.clock = clock.Real{}
	}
	if a.frames == nil {
		a.frames = audio.TickerClock{Interval: frameInterval(cfg.VAD.FrameRate)}
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	a.log = eventlog.New(eventlog.WithClock(a.clock), eventlog.WithLimit(500))
	a.hub = statusfeed.NewHub(statusfeed.WithOriginPatterns(cfg.Server.AllowedOrigins...))

	if err := a.initAudio(); err != nil {
		return nil, fmt.Errorf("app: init audio: %w", err)
	}
	a.initBackend()
	if err := a.initHistory(ctx); err != nil {
		a.close()
		return nil, fmt.Errorf("app: init history: %w", err)
	}

	a.session = consultation.NewSession()
	a.ambient = consultation.NewAmbient(consultation.AmbientConfig{
		Device:  a.device,
		Backend: a.backend,
		Player:  a.player,
		Session: a.session,
		Log:     a.log,
		Metrics: a.metrics,
	})
	a.poller = consultation.NewPoller(a.backend, a.session, cfg.Summary.PollInterval, a.metrics)
	a.qa = consultation.NewQA(a.backend, a.store, a.session, a.log, a.metrics)
	a.voice = voiceturn.New(voiceturn.Config{
		Device:       a.device,
		Shared:       a.ambient,
		VAD:          vad.RMSEngine{},
		Frames:       a.frames,
		Dispatcher:   a.qa,
		Player:       a.player,
		Consultation: a.session.ConsultationID,
		Clock:        a.clock,
		Log:          a.log,
		Metrics:      a.metrics,
		Settings:     voiceSettings(cfg),
	})

	a.wireFeed()
	a.health = health.New(a.checkers()...)
	return a, nil
}

func (a *App) initAudio() error {
	if a.device == nil {
		d, err := a.registry.CreateDevice(a.cfg.Audio)
		if err != nil {
			return err
		}
		a.device = d
		if c, ok := d.(interface{ Close() error }); ok {
			a.closers = append(a.closers, c.Close)
		}
	}
	a.device = formatDevice{Device: a.device, rate: a.cfg.Audio.SampleRate, channels: a.cfg.Audio.Channels}

	if a.player == nil {
		p, err := a.registry.CreatePlayer(a.cfg.Audio)
		if err != nil {
			return err
		}
		a.player = p
	}
	return nil
}

func (a *App) initBackend() {
	if a.backend != nil {
		return
	}
	b := a.cfg.Backend.Breaker
	a.breaker = resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		Name:         "consult",
		MaxFailures:  b.MaxFailures,
		ResetTimeout: b.ResetTimeout,
		HalfOpenMax:  b.HalfOpenMax,
		IsFailure:    consult.IsOutage,
		Clock:        a.clock,
		OnStateChange: func(from, to resilience.State) {
			if to == resilience.StateOpen {
				a.log.Addf("[Gateway] Backend unreachable, pausing requests.")
			}
			slog.Info("consult breaker state changed", "from", from, "to", to)
		},
	})
	hc := &http.Client{
		Timeout:   a.cfg.Backend.Timeout,
		Transport: observe.Transport(http.DefaultTransport),
	}
	a.backend = consult.New(a.cfg.Backend.BaseURL, consult.WithHTTPClient(hc), consult.WithGuard(a.breaker))
}

func (a *App) initHistory(ctx context.Context) error {
	if a.store == nil {
		if dsn := a.cfg.History.PostgresDSN; dsn != "" {
			pg, err := postgres.NewStore(ctx, dsn)
			if err != nil {
				return err
			}
			a.closers = append(a.closers, func() error { pg.Close(); return nil })
			a.pinger = pg.Ping
			a.store = pg
		} else {
			a.store = history.NewMemStore()
		}
	}
	a.store = history.Observe(a.store, func(ex history.Exchange) {
		a.hub.Publish(statusfeed.TypeQA, exchangeView(ex))
	})
	return nil
}

// wireFeed forwards status, log, views and Q&A changes to the status feed.
func (a *App) wireFeed() {
	a.voice.Observe(func(st voiceturn.Status) { a.hub.Publish(statusfeed.TypeStatus, statusView(st)) })
	a.log.Subscribe(func(e eventlog.Entry) { a.hub.Publish(statusfeed.TypeLog, e) })
	a.session.Subscribe(func(v consultation.Views) { a.hub.Publish(statusfeed.TypeViews, v) })
}

func (a *App) checkers() []health.Checker {
	cs := []health.Checker{
		health.Running("voice", a.active.Load),
	}
	if a.breaker != nil {
		cs = append(cs, health.Breaker("backend", a.breaker.State))
	}
	if a.pinger != nil {
		cs = append(cs, health.Pinger("history", a.pinger))
	}
	return cs
}

// Handler returns the HTTP routes owned by the app: health probes and the
// status feed.
func (a *App) Handler() *http.ServeMux {
	mux := http.NewServeMux()
	a.health.Register(mux)
	a.hub.Register(mux)
	return mux
}

// Run drives the voice controller and the summary poller until ctx is
// cancelled.
func (a *App) Run(ctx context.Context) error {
	a.mu.Lock()
	a.runCtx = ctx
	a.mu.Unlock()
	a.active.Store(true)
	defer a.active.Store(false)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.voice.Run(gctx) })
	g.Go(func() error { return a.poller.Run(gctx) })

	slog.Info("app running", "backend", a.cfg.Backend.BaseURL, "audio", a.cfg.Audio.Backend)
	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Reload applies the hot-reloadable parts of a config change.
func (a *App) Reload(old, new *config.Config) {
	d := config.Diff(old, new)
	if d.LogLevelChanged && a.levels != nil {
		a.levels.Set(SlogLevel(d.NewLogLevel))
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.VADChanged || d.LiveChanged {
		if err := a.voice.UpdateSettings(voiceSettings(new)); err != nil {
			slog.Warn("voice settings not applied", "err", err)
		} else {
			slog.Info("voice settings updated")
		}
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config sections changed that need a restart", "sections", d.RestartRequired)
	}
}

// Shutdown stops an ongoing recording and releases every resource acquired
// by [New]. Only the first call has an effect.
func (a *App) Shutdown(ctx context.Context) error {
	var err error
	a.stopOnce.Do(func() {
		if a.ambient.Recording() {
			if serr := a.ambient.Stop(ctx); serr != nil {
				slog.Warn("final upload failed", "err", serr)
			}
		}
		select {
		case <-ctx.Done():
			err = ctx.Err()
		default:
		}
		a.close()
		slog.Info("shutdown complete")
	})
	return err
}

func (a *App) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			slog.Warn("closer error", "index", i, "err", err)
		}
	}
	a.closers = nil
}

// ToggleRecording starts the consultation recording, or stops it and
// uploads the audio in the background.
func (a *App) ToggleRecording(ctx context.Context) (bool, error) {
	if !a.ambient.Recording() {
		if err := a.ambient.Start(ctx); err != nil {
			return false, err
		}
		return true, nil
	}
	a.mu.Lock()
	runCtx := a.runCtx
	a.mu.Unlock()
	go func() {
		if err := a.ambient.Stop(context.WithoutCancel(runCtx)); err != nil {
			observe.Logger(runCtx).Debug("recording upload failed", "err", err)
		}
	}()
	return false, nil
}

// ToggleLive switches hands-free question mode.
func (a *App) ToggleLive() (bool, error) {
	if a.voice.Status().Live {
		return false, a.voice.Stop()
	}
	if err := a.voice.StartLive(); err != nil {
		return false, err
	}
	return true, nil
}

// StartTurn listens for one spoken question.
func (a *App) StartTurn() error { return a.voice.StartTurn() }

// Stop ends the current voice turn and leaves live mode.
func (a *App) Stop() error { return a.voice.Stop() }

// Ask sends a typed question.
func (a *App) Ask(ctx context.Context, q string) (history.Exchange, error) { return a.qa.Ask(ctx, q) }

// Status returns the voice controller status.
func (a *App) Status() voiceturn.Status { return a.voice.Status() }

// Views returns the latest consultation views.
func (a *App) Views() consultation.Views { return a.session.Views() }

// History returns the Q&A history of the current consultation.
func (a *App) History(ctx context.Context) ([]history.Exchange, error) { return a.qa.History(ctx) }

// OnLog registers fn for every new system log entry. fn must not block.
func (a *App) OnLog(fn func(eventlog.Entry)) { a.log.Subscribe(fn) }

// Log returns the system log.
func (a *App) Log() []eventlog.Entry { return a.log.Entries() }

// voiceSettings maps the vad and live config sections to controller settings.
func voiceSettings(cfg *config.Config) voiceturn.Settings {
	threshold := config.DefaultSpeechThreshold
	if cfg.VAD.SpeechThreshold != nil {
		threshold = *cfg.VAD.SpeechThreshold
	}
	return voiceturn.Settings{
		VAD: vad.Config{
			WindowSamples:   cfg.VAD.WindowSamples,
			Scale:           cfg.VAD.Scale,
			SpeechThreshold: threshold,
		},
		SilenceDuration:   cfg.VAD.SilenceDuration,
		NoSpeechCooldown:  cfg.Live.NoSpeechCooldown,
		DispatchCooldown:  cfg.Live.DispatchCooldown,
		CaptureBackoff:    cfg.Live.CaptureBackoff,
		CaptureMaxBackoff: cfg.Live.CaptureMaxBackoff,
		CaptureMaxRetries: cfg.Live.CaptureMaxRetries,
	}
}

func frameInterval(rate int) time.Duration {
	if rate <= 0 {
		return 0
	}
	return time.Second / time.Duration(rate)
}

// SlogLevel maps a config log level to slog.
func SlogLevel(l config.LogLevel) slog.Level {
	switch l {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
