// Package history defines the append-only question-and-answer history of a
// consultation.
//
// Exchanges are immutable once appended; insertion order is chronological
// order. [MemStore] keeps history in process memory; the postgres subpackage
// persists it.
package history

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/MrWong99/consultvox/pkg/audio"
)

// ErrEmptyConsultation is returned when an exchange has no consultation ID.
var ErrEmptyConsultation = errors.New("history: consultation id is required")

// Source tells how a question was asked.
type Source string

const (
	SourceText  Source = "text"
	SourceVoice Source = "voice"
)

// Exchange is one question and its answer.
type Exchange struct {
	ConsultationID string
	Question       string
	Answer         string

	// AnswerAudio is the spoken answer. Empty for text questions.
	AnswerAudio audio.Clip

	Source    Source
	CreatedAt time.Time
}

// Store persists exchanges.
//
// Implementations must be safe for concurrent use.
type Store interface {
	// Append adds ex to the end of its consultation's history.
	Append(ctx context.Context, ex Exchange) error

	// List returns the history of consultationID, oldest first.
	List(ctx context.Context, consultationID string) ([]Exchange, error)
}

// MemStore is an in-memory [Store].
type MemStore struct {
	mu   sync.RWMutex
	byID map[string][]Exchange
}

var _ Store = (*MemStore)(nil)

// NewMemStore creates an empty store.
func NewMemStore() *MemStore {
	return &MemStore{byID: make(map[string][]Exchange)}
}

// Append implements [Store].
func (m *MemStore) Append(_ context.Context, ex Exchange) error {
	if ex.ConsultationID == "" {
		return ErrEmptyConsultation
	}
	if ex.CreatedAt.IsZero() {
		ex.CreatedAt = time.Now()
	}
	ex.AnswerAudio.Data = slices.Clone(ex.AnswerAudio.Data)

	m.mu.Lock()
	m.byID[ex.ConsultationID] = append(m.byID[ex.ConsultationID], ex)
	m.mu.Unlock()
	return nil
}

// List implements [Store].
func (m *MemStore) List(_ context.Context, consultationID string) ([]Exchange, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.byID[consultationID]), nil
}

// Observed wraps a [Store] and calls fn after every successful Append.
type Observed struct {
	Store
	fn func(Exchange)
}

// Observe returns s wrapped so that fn sees every stored exchange. fn runs on
// the appending goroutine and must not block.
func Observe(s Store, fn func(Exchange)) *Observed {
	return &Observed{Store: s, fn: fn}
}

// Append implements [Store].
func (o *Observed) Append(ctx context.Context, ex Exchange) error {
	if err := o.Store.Append(ctx, ex); err != nil {
		return err
	}
	if ex.CreatedAt.IsZero() {
		ex.CreatedAt = time.Now()
	}
	o.fn(ex)
	return nil
}
