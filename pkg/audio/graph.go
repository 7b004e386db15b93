package audio

import (
	"errors"
	"sync"
	"sync/atomic"
)

// ErrGraphClosed is returned by [Graph.Connect] after [Graph.Close].
var ErrGraphClosed = errors.New("audio: graph closed")

// Sink is the terminal node of a [Graph].
type Sink interface {
	Write(f AudioFrame)
}

// DiscardSink is an output destination that drops everything written to it
// while counting frames.
type DiscardSink struct {
	frames atomic.Int64
}

// Write implements [Sink].
func (d *DiscardSink) Write(AudioFrame) { d.frames.Add(1) }

// Frames reports how many frames reached the sink.
func (d *DiscardSink) Frames() int64 { return d.frames.Load() }

// Graph is a private processing graph wired as
//
//	source stream -> analyser tap -> gain node -> destination
//
// The analyser keeps the most recent window of mono samples for loudness
// measurement. Frames only flow while the graph is connected to a destination:
// an unconnected graph never pulls from its source, so callers that only want
// the analyser must still connect a destination, typically through a gain of 0.
//
// A Graph is exclusively owned by whoever created it. Closing it detaches from
// the source stream without stopping that stream.
type Graph struct {
	src    Stream
	window int

	mu     sync.Mutex
	ring   []float64
	pos    int
	filled int
	gain   float64
	sub    *Subscription
	closed bool

	pumpDone  chan struct{}
	closeOnce sync.Once
}

// NewGraph creates an unconnected graph tapping src. window is the number of
// samples the analyser retains; values below 1 select 2048.
func NewGraph(src Stream, window int) *Graph {
	if window < 1 {
		window = 2048
	}
	return &Graph{
		src:    src,
		window: window,
		ring:   make([]float64, window),
		gain:   1,
	}
}

// Window returns the analyser window size in samples.
func (g *Graph) Window() int { return g.window }

// SetGain sets the gain applied between the analyser and the destination.
func (g *Graph) SetGain(v float64) {
	g.mu.Lock()
	g.gain = v
	g.mu.Unlock()
}

// Connect attaches dest as the graph's output and starts pulling frames from
// the source. Connecting an already connected graph is a no-op.
func (g *Graph) Connect(dest Sink) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return ErrGraphClosed
	}
	if g.sub != nil {
		return nil
	}
	g.sub = g.src.Subscribe(32)
	g.pumpDone = make(chan struct{})
	go g.pump(g.sub, dest, g.pumpDone)
	return nil
}

// Connected reports whether frames are flowing to a destination.
func (g *Graph) Connected() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.sub != nil && !g.closed
}

func (g *Graph) pump(sub *Subscription, dest Sink, done chan struct{}) {
	defer close(done)
	for f := range sub.Frames() {
		samples := Samples(f)

		g.mu.Lock()
		for _, s := range samples {
			g.ring[g.pos] = s
			g.pos = (g.pos + 1) % g.window
		}
		g.filled = min(g.filled+len(samples), g.window)
		gain := g.gain
		g.mu.Unlock()

		out := f
		out.Data = ApplyGain(f.Data, gain)
		dest.Write(out)
	}
}

// Snapshot copies the most recent analyser samples into dst in capture order
// and returns how many were written. At most min(len(dst), window) samples are
// copied; fewer are available until the window has filled once.
func (g *Graph) Snapshot(dst []float64) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := min(len(dst), g.filled)
	start := (g.pos - n + g.window) % g.window
	for i := range n {
		dst[i] = g.ring[(start+i)%g.window]
	}
	return n
}

// Close disconnects the graph from its source and destination and waits for
// the pump to exit. It is safe to call more than once, and on a graph that was
// never connected.
func (g *Graph) Close() {
	g.closeOnce.Do(func() {
		g.mu.Lock()
		g.closed = true
		sub, done := g.sub, g.pumpDone
		g.mu.Unlock()

		if sub != nil {
			sub.Close()
			<-done
		}
	})
}
