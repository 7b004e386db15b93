// Package mock provides test doubles for the vad package interfaces.
//
// Use Engine to verify that sessions are created with the expected Config.
// Use Session to script loudness levels and inspect how many windows were
// measured.
//
// Example:
//
//	sess := &mock.Session{}
//	sess.Push(0, 0, 5, 6, 0)
//	eng := &mock.Engine{Session: sess}
package mock

import (
	"sync"

	"github.com/MrWong99/consultvox/pkg/vad"
)

// NewSessionCall records a single invocation of Engine.NewSession.
type NewSessionCall struct {
	// Cfg is the Config passed to NewSession.
	Cfg vad.Config
}

// Engine is a mock implementation of vad.Engine.
type Engine struct {
	mu sync.Mutex

	// Session is the Session returned by NewSession. If nil, NewSession
	// returns a new default Session.
	Session *Session

	// NewSessionErr, if non-nil, is returned as the error from NewSession.
	NewSessionErr error

	// NewSessionCalls records every call to NewSession in order.
	NewSessionCalls []NewSessionCall
}

// NewSession records the call and returns Session, NewSessionErr.
func (e *Engine) NewSession(cfg vad.Config) (vad.Session, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.NewSessionCalls = append(e.NewSessionCalls, NewSessionCall{Cfg: cfg})
	if e.NewSessionErr != nil {
		return nil, e.NewSessionErr
	}
	if e.Session != nil {
		e.Session.reopen(cfg)
		return e.Session, nil
	}
	return &Session{Threshold: cfg.SpeechThreshold}, nil
}

// Calls returns a copy of the recorded NewSession calls.
func (e *Engine) Calls() []NewSessionCall {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]NewSessionCall, len(e.NewSessionCalls))
	copy(out, e.NewSessionCalls)
	return out
}

// Session is a mock implementation of vad.Session. Each Measure call consumes
// the next scripted level; once the script is exhausted, Level is returned.
// Speech is classified with [vad.IsSpeech] against Threshold, which
// [Engine.NewSession] sets from the session Config.
type Session struct {
	mu sync.Mutex

	// Level is returned when no scripted levels remain.
	Level float64

	// Threshold is the speech threshold used to classify levels.
	Threshold float64

	// MeasureErr, if non-nil, is returned by Measure.
	MeasureErr error

	script   []float64
	measured int
	closes   int
	closed   bool
}

// Push appends levels to the script.
func (s *Session) Push(levels ...float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.script = append(s.script, levels...)
}

// SetLevel replaces the fallback level.
func (s *Session) SetLevel(level float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Level = level
}

// Measure implements vad.Session.
func (s *Session) Measure([]float64) (vad.Measurement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.MeasureErr != nil {
		return vad.Measurement{}, s.MeasureErr
	}
	if s.closed {
		return vad.Measurement{}, vad.ErrSessionClosed
	}
	s.measured++
	level := s.Level
	if len(s.script) > 0 {
		level = s.script[0]
		s.script = s.script[1:]
	}
	return vad.Measurement{Level: level, Speech: vad.IsSpeech(level, s.Threshold)}, nil
}

// Close implements vad.Session.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closes++
	s.closed = true
	return nil
}

// Measured returns how many windows have been measured.
func (s *Session) Measured() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.measured
}

// Closes returns how many times Close was called.
func (s *Session) Closes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closes
}

func (s *Session) reopen(cfg vad.Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = false
	s.Threshold = cfg.SpeechThreshold
}
