// Package consultation holds the client side of one consultation: the ambient
// recording that feeds the backend, the summary views polled back from it,
// and the text and spoken question-and-answer flows.
//
// All types are safe for concurrent use.
package consultation

import (
	"context"
	"errors"
	"slices"
	"sync"

	"github.com/MrWong99/consultvox/pkg/audio"
	"github.com/MrWong99/consultvox/pkg/consult"
)

var (
	// ErrEmptyQuestion is returned by [QA.Ask] for a blank question.
	ErrEmptyQuestion = errors.New("consultation: question is empty")

	// ErrNoConsultation is returned when no consultation has been started yet.
	ErrNoConsultation = errors.New("consultation: no consultation yet")
)

// Backend is the subset of the consultation backend used by this package.
// [*consult.Client] implements it.
type Backend interface {
	SubmitAmbientAudio(ctx context.Context, clip audio.Clip, sessionID string, triggerSummary bool) (consult.AmbientReply, error)
	FetchSummary(ctx context.Context, consultationID string) (consult.Summary, error)
	AskQuestion(ctx context.Context, consultationID, question string) (string, error)
	AskVoiceQuestion(ctx context.Context, consultationID string, clip audio.Clip) (consult.VoiceAnswer, error)
}

var _ Backend = (*consult.Client)(nil)

// Views are the generated consultation texts. Empty strings are not ready yet.
type Views struct {
	Doctor     string `json:"doctor"`
	Patient    string `json:"patient"`
	Transcript string `json:"transcript"`
}

// Session tracks the identifiers the backend assigned and the latest views.
type Session struct {
	mu             sync.RWMutex
	sessionID      string
	consultationID string
	views          Views
	subs           []func(Views)
}

// NewSession returns a session with no consultation.
func NewSession() *Session { return &Session{} }

// SessionID returns the backend session ID, or "".
func (s *Session) SessionID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sessionID
}

// ConsultationID returns the current consultation ID, or "" before the first
// recording was sent.
func (s *Session) ConsultationID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.consultationID
}

// SetIDs records the identifiers returned for an upload.
func (s *Session) SetIDs(sessionID, consultationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessionID = sessionID
	s.consultationID = consultationID
}

// Views returns the latest views.
func (s *Session) Views() Views {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.views
}

// SetViews replaces the views and notifies subscribers when they changed.
func (s *Session) SetViews(v Views) bool {
	s.mu.Lock()
	if v == s.views {
		s.mu.Unlock()
		return false
	}
	s.views = v
	subs := slices.Clone(s.subs)
	s.mu.Unlock()

	for _, fn := range subs {
		fn(v)
	}
	return true
}

// Subscribe registers fn to receive changed views. fn must not block.
func (s *Session) Subscribe(fn func(Views)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs = append(s.subs, fn)
}
