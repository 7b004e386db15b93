package consultation

import (
	"context"
	"time"

	"github.com/MrWong99/consultvox/internal/observe"
	"github.com/MrWong99/consultvox/pkg/consult"
)

// DefaultPollInterval is how often summaries are refreshed.
const DefaultPollInterval = time.Second

// Poller refreshes the consultation views from the backend.
type Poller struct {
	backend  Backend
	session  *Session
	interval time.Duration
	metrics  *observe.Metrics
}

// NewPoller creates a poller. interval <= 0 selects [DefaultPollInterval].
func NewPoller(backend Backend, session *Session, interval time.Duration, metrics *observe.Metrics) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	return &Poller{backend: backend, session: session, interval: interval, metrics: metrics}
}

// Run polls until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) error {
	t := time.NewTicker(p.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			p.Poll(ctx)
		}
	}
}

// Poll fetches the summary once. It does nothing before a real consultation
// exists. Failures are expected while the summary is being generated and are
// only recorded.
func (p *Poller) Poll(ctx context.Context) {
	id := p.session.ConsultationID()
	if id == "" || id == consult.PlaceholderConsultationID {
		return
	}
	s, err := p.backend.FetchSummary(ctx, id)
	p.metrics.RecordSummaryPoll(ctx, observe.Status(err))
	if err != nil {
		observe.Logger(observe.WithConsultation(ctx, id)).Debug("consultation: summary not ready", "err", err)
		return
	}
	p.session.SetViews(Views{
		Doctor:     deref(s.DoctorView),
		Patient:    deref(s.PatientView),
		Transcript: deref(s.RawTranscript),
	})
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
