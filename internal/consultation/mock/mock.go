// Package mock provides an in-memory [consultation.Backend] for tests.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/consultvox/pkg/audio"
	"github.com/MrWong99/consultvox/pkg/consult"
)

// SubmitCall records one SubmitAmbientAudio invocation.
type SubmitCall struct {
	Clip           audio.Clip
	SessionID      string
	TriggerSummary bool
}

// AskCall records one AskQuestion or AskVoiceQuestion invocation.
type AskCall struct {
	ConsultationID string
	Question       string
	Clip           audio.Clip
}

// Backend is a scripted consultation backend. Set the result fields before
// use; every call is recorded.
type Backend struct {
	mu sync.Mutex

	AmbientReply consult.AmbientReply
	SubmitErr    error

	Summary    consult.Summary
	SummaryErr error

	Answer string
	AskErr error

	VoiceAnswer consult.VoiceAnswer
	VoiceErr    error

	SubmitCalls  []SubmitCall
	SummaryCalls []string
	AskCalls     []AskCall
	VoiceCalls   []AskCall
}

// SubmitAmbientAudio implements consultation.Backend.
func (b *Backend) SubmitAmbientAudio(_ context.Context, clip audio.Clip, sessionID string, trigger bool) (consult.AmbientReply, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.SubmitCalls = append(b.SubmitCalls, SubmitCall{Clip: clip, SessionID: sessionID, TriggerSummary: trigger})
	if b.SubmitErr != nil {
		return consult.AmbientReply{}, b.SubmitErr
	}
	return b.AmbientReply, nil
}

// FetchSummary implements consultation.Backend.
func (b *Backend) FetchSummary(_ context.Context, id string) (consult.Summary, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.SummaryCalls = append(b.SummaryCalls, id)
	if b.SummaryErr != nil {
		return consult.Summary{}, b.SummaryErr
	}
	return b.Summary, nil
}

// AskQuestion implements consultation.Backend.
func (b *Backend) AskQuestion(_ context.Context, id, question string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.AskCalls = append(b.AskCalls, AskCall{ConsultationID: id, Question: question})
	if b.AskErr != nil {
		return "", b.AskErr
	}
	return b.Answer, nil
}

// AskVoiceQuestion implements consultation.Backend.
func (b *Backend) AskVoiceQuestion(_ context.Context, id string, clip audio.Clip) (consult.VoiceAnswer, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.VoiceCalls = append(b.VoiceCalls, AskCall{ConsultationID: id, Clip: clip})
	if b.VoiceErr != nil {
		return consult.VoiceAnswer{}, b.VoiceErr
	}
	return b.VoiceAnswer, nil
}

// SetSummary replaces the summary result under the mock's lock.
func (b *Backend) SetSummary(s consult.Summary, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.Summary, b.SummaryErr = s, err
}

// Submits returns a copy of the recorded SubmitAmbientAudio calls.
func (b *Backend) Submits() []SubmitCall {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]SubmitCall(nil), b.SubmitCalls...)
}

// SummaryCount returns how many summaries were fetched.
func (b *Backend) SummaryCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.SummaryCalls)
}
