package consultation

import (
	"context"
	"fmt"
	"strings"

	"github.com/MrWong99/consultvox/internal/eventlog"
	"github.com/MrWong99/consultvox/internal/observe"
	"github.com/MrWong99/consultvox/internal/voiceturn"
	"github.com/MrWong99/consultvox/pkg/audio"
	"github.com/MrWong99/consultvox/pkg/history"
)

// QA answers questions about the current consultation, typed or spoken, and
// keeps their history.
type QA struct {
	backend Backend
	store   history.Store
	session *Session
	log     *eventlog.Log
	metrics *observe.Metrics
}

var _ voiceturn.Dispatcher = (*QA)(nil)

// NewQA creates a QA flow storing exchanges in store.
func NewQA(backend Backend, store history.Store, session *Session, log *eventlog.Log, metrics *observe.Metrics) *QA {
	if store == nil {
		store = history.NewMemStore()
	}
	if log == nil {
		log = eventlog.New()
	}
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	return &QA{backend: backend, store: store, session: session, log: log, metrics: metrics}
}

// Ask sends a typed question and appends the answer to the history.
func (q *QA) Ask(ctx context.Context, question string) (history.Exchange, error) {
	if strings.TrimSpace(question) == "" {
		return history.Exchange{}, ErrEmptyQuestion
	}
	id := q.session.ConsultationID()
	if id == "" {
		return history.Exchange{}, ErrNoConsultation
	}

	answer, err := q.backend.AskQuestion(ctx, id, question)
	q.metrics.RecordQuestion(ctx, string(history.SourceText), observe.Status(err))
	if err != nil {
		q.log.Addf("[QA] Error: %v", err)
		return history.Exchange{}, fmt.Errorf("consultation: ask: %w", err)
	}

	ex := history.Exchange{ConsultationID: id, Question: question, Answer: answer, Source: history.SourceText}
	q.record(ctx, ex)
	q.log.Addf("[QA] Asked: %s", question)
	return ex, nil
}

// Dispatch sends a spoken question. It implements the voice-turn dispatcher.
func (q *QA) Dispatch(ctx context.Context, clip audio.Clip, consultationID string) (history.Exchange, error) {
	if consultationID == "" {
		return history.Exchange{}, ErrNoConsultation
	}
	va, err := q.backend.AskVoiceQuestion(ctx, consultationID, clip)
	q.metrics.RecordQuestion(ctx, string(history.SourceVoice), observe.Status(err))
	if err != nil {
		return history.Exchange{}, err
	}

	ex := history.Exchange{
		ConsultationID: consultationID,
		Question:       va.Question,
		Answer:         va.Answer,
		AnswerAudio:    va.Audio,
		Source:         history.SourceVoice,
	}
	q.record(ctx, ex)
	q.log.Addf("[QA Voice] Asked: %s", va.Question)
	q.log.Addf("[QA Voice] Answer: %s", va.Answer)
	return ex, nil
}

// History returns the exchanges of the current consultation, oldest first.
func (q *QA) History(ctx context.Context) ([]history.Exchange, error) {
	id := q.session.ConsultationID()
	if id == "" {
		return nil, nil
	}
	return q.store.List(ctx, id)
}

// record stores ex. A storage failure loses history but not the answer.
func (q *QA) record(ctx context.Context, ex history.Exchange) {
	if err := q.store.Append(ctx, ex); err != nil {
		observe.Logger(ctx).Warn("consultation: store exchange", "err", err)
	}
}
