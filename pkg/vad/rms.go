package vad

import (
	"fmt"
	"math"
	"sync"
)

// RMSEngine creates sessions that measure root-mean-square loudness.
type RMSEngine struct{}

var _ Engine = RMSEngine{}

// NewSession implements [Engine].
func (RMSEngine) NewSession(cfg Config) (Session, error) {
	cfg = cfg.withDefaults()
	if math.IsNaN(cfg.SpeechThreshold) || math.IsInf(cfg.SpeechThreshold, 0) {
		return nil, fmt.Errorf("vad: speech threshold %v is not finite", cfg.SpeechThreshold)
	}
	return &rmsSession{cfg: cfg}, nil
}

type rmsSession struct {
	cfg Config

	mu     sync.Mutex
	closed bool
}

// Measure implements [Session].
func (s *rmsSession) Measure(window []float64) (Measurement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Measurement{}, ErrSessionClosed
	}
	if len(window) > s.cfg.WindowSamples {
		window = window[len(window)-s.cfg.WindowSamples:]
	}
	level := RMS(window) * s.cfg.Scale
	return Measurement{Level: level, Speech: IsSpeech(level, s.cfg.SpeechThreshold)}, nil
}

// Close implements [Session].
func (s *rmsSession) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

// RMS returns the root-mean-square magnitude of samples, or 0 for an empty
// slice. Samples are expected to be centred on zero.
func RMS(samples []float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += s * s
	}
	return math.Sqrt(sum / float64(len(samples)))
}
