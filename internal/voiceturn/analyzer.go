package voiceturn

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/MrWong99/consultvox/pkg/audio"
	"github.com/MrWong99/consultvox/pkg/vad"
)

// zeroWarnTicks is the number of consecutive zero-level frames after which the
// analyzer warns that it may be starved of audio.
const zeroWarnTicks = 100

// Analyzer measures the loudness of a stream once per rendered frame.
//
// It owns a private [audio.Graph] connected through a zero-gain node to a
// discarding destination: the graph only pulls audio while it has a connected
// output, so the silent destination is what keeps the analyser fed.
type Analyzer struct {
	graph   *audio.Graph
	sink    *audio.DiscardSink
	session vad.Session
	onLevel func(vad.Measurement)

	mu        sync.Mutex
	window    []float64
	stopped   bool
	zeroTicks int

	stopTicks func()
	stopOnce  sync.Once
}

// StartAnalyzer taps s and calls onLevel with a measurement on every tick of
// frames. onLevel runs on the frame clock's goroutine and may block; ticks
// that arrive meanwhile are coalesced by the clock.
func StartAnalyzer(s audio.Stream, engine vad.Engine, cfg vad.Config, frames audio.FrameClock, onLevel func(vad.Measurement)) (*Analyzer, error) {
	session, err := engine.NewSession(cfg)
	if err != nil {
		return nil, fmt.Errorf("voiceturn: start analyzer: %w", err)
	}
	window := cfg.WindowSamples
	if window <= 0 {
		window = vad.DefaultConfig().WindowSamples
	}

	a := &Analyzer{
		graph:   audio.NewGraph(s, window),
		sink:    &audio.DiscardSink{},
		session: session,
		onLevel: onLevel,
		window:  make([]float64, window),
	}
	a.graph.SetGain(0)
	if err := a.graph.Connect(a.sink); err != nil {
		_ = session.Close()
		return nil, fmt.Errorf("voiceturn: start analyzer: %w", err)
	}
	a.stopTicks = frames.Start(a.tick)
	return a, nil
}

func (a *Analyzer) tick() {
	a.mu.Lock()
	if a.stopped {
		a.mu.Unlock()
		return
	}
	n := a.graph.Snapshot(a.window)
	m, err := a.session.Measure(a.window[:n])
	if err == nil && m.Level == 0 {
		a.zeroTicks++
		if a.zeroTicks == zeroWarnTicks {
			slog.Warn("voiceturn: analyzer has read only silence",
				"frames", a.zeroTicks,
				"graph_connected", a.graph.Connected(),
				"frames_routed", a.sink.Frames(),
			)
			a.zeroTicks = 0
		}
	} else {
		a.zeroTicks = 0
	}
	a.mu.Unlock()

	if err != nil {
		return
	}
	a.onLevel(m)
}

// Stop cancels the tick schedule and tears down the analysis graph and VAD
// session. It never stops the analysed stream. Safe to call more than once.
func (a *Analyzer) Stop() {
	a.stopOnce.Do(func() {
		a.mu.Lock()
		a.stopped = true
		a.mu.Unlock()

		a.stopTicks()
		a.graph.Close()
		if err := a.session.Close(); err != nil {
			slog.Debug("voiceturn: close vad session", "err", err)
		}
	})
}
