package app

import (
	"time"

	"github.com/MrWong99/consultvox/internal/voiceturn"
	"github.com/MrWong99/consultvox/pkg/history"
)

// StatusView is the JSON shape of a controller status on the status feed.
type StatusView struct {
	State  string  `json:"state"`
	Live   bool    `json:"live"`
	Phase  string  `json:"phase,omitempty"`
	Level  float64 `json:"level"`
	TurnID string  `json:"turn_id,omitempty"`
	Auto   bool    `json:"auto,omitempty"`
}

func statusView(st voiceturn.Status) StatusView {
	return StatusView{
		State:  st.State.String(),
		Live:   st.Live,
		Phase:  st.Phase,
		Level:  st.Level,
		TurnID: st.TurnID,
		Auto:   st.Auto,
	}
}

// ExchangeView is the JSON shape of a Q&A exchange. Answer audio is omitted.
type ExchangeView struct {
	ConsultationID string    `json:"consultation_id"`
	Question       string    `json:"question"`
	Answer         string    `json:"answer"`
	Source         string    `json:"source"`
	CreatedAt      time.Time `json:"created_at"`
}

func exchangeView(ex history.Exchange) ExchangeView {
	return ExchangeView{
		ConsultationID: ex.ConsultationID,
		Question:       ex.Question,
		Answer:         ex.Answer,
		Source:         string(ex.Source),
		CreatedAt:      ex.CreatedAt,
	}
}
