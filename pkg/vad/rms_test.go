package vad_test

import (
	"errors"
	"math"
	"testing"

	"github.com/MrWong99/consultvox/pkg/vad"
)

func TestRMS(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		samples []float64
		want    float64
	}{
		{name: "empty", samples: nil, want: 0},
		{name: "silence", samples: []float64{0, 0, 0}, want: 0},
		{name: "constant", samples: []float64{0.5, -0.5, 0.5, -0.5}, want: 0.5},
		{name: "mixed", samples: []float64{0.3, 0.4}, want: math.Sqrt((0.09 + 0.16) / 2)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := vad.RMS(tt.samples); math.Abs(got-tt.want) > 1e-12 {
				t.Errorf("RMS: got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsSpeech_StrictThreshold(t *testing.T) {
	t.Parallel()

	if vad.IsSpeech(1, 1) {
		t.Error("level equal to threshold must be silence")
	}
	if !vad.IsSpeech(1.0001, 1) {
		t.Error("level above threshold must be speech")
	}
	if vad.IsSpeech(0, 1) {
		t.Error("zero level must be silence")
	}
}

func TestRMSSession_ScalesAndClassifies(t *testing.T) {
	t.Parallel()

	sess, err := vad.RMSEngine{}.NewSession(vad.Config{})
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	defer sess.Close()

	// RMS 0.001 scaled by the default 1000 is 1.
	m, err := sess.Measure([]float64{0.001, -0.001})
	if err != nil {
		t.Fatalf("Measure: %v", err)
	}
	if math.Abs(m.Level-1) > 1e-9 {
		t.Errorf("Level: got %v, want 1", m.Level)
	}

	m, _ = sess.Measure([]float64{0.005, -0.005})
	if !m.Speech {
		t.Errorf("level %v should be speech", m.Level)
	}
}

func TestRMSSession_UsesLatestWindowOnly(t *testing.T) {
	t.Parallel()

	sess, _ := vad.RMSEngine{}.NewSession(vad.Config{WindowSamples: 2, Scale: 1, SpeechThreshold: 0.5})
	m, err := sess.Measure([]float64{1, 1, 1, 0, 0})
	if err != nil {
		t.Fatalf("Measure: %v", err)
	}
	if m.Level != 0 || m.Speech {
		t.Errorf("got %+v, want silent measurement of the last two samples", m)
	}
}

func TestRMSSession_Closed(t *testing.T) {
	t.Parallel()

	sess, _ := vad.RMSEngine{}.NewSession(vad.DefaultConfig())
	_ = sess.Close()
	_ = sess.Close()
	if _, err := sess.Measure([]float64{1}); !errors.Is(err, vad.ErrSessionClosed) {
		t.Errorf("Measure after Close: got %v, want ErrSessionClosed", err)
	}
}

func TestRMSEngine_RejectsNonFiniteThreshold(t *testing.T) {
	t.Parallel()

	if _, err := (vad.RMSEngine{}).NewSession(vad.Config{SpeechThreshold: math.Inf(1)}); err == nil {
		t.Fatal("expected error for infinite threshold")
	}
}
