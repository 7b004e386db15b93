package consultation_test

import (
	"context"
	"errors"
	"slices"
	"testing"

	"github.com/MrWong99/consultvox/internal/consultation"
	"github.com/MrWong99/consultvox/internal/consultation/mock"
	"github.com/MrWong99/consultvox/internal/eventlog"
	"github.com/MrWong99/consultvox/pkg/audio"
	audiomock "github.com/MrWong99/consultvox/pkg/audio/mock"
	"github.com/MrWong99/consultvox/pkg/consult"
)

func TestAmbient_RecordAndUpload(t *testing.T) {
	t.Parallel()
	dev := &audiomock.Device{}
	player := &audiomock.Player{}
	log := eventlog.New()
	sess := consultation.NewSession()
	backend := &mock.Backend{AmbientReply: consult.AmbientReply{
		SessionID:      "s-1",
		ConsultationID: "c-1",
		Audio:          audio.Clip{Data: []byte("reply"), ContentType: "audio/wav"},
	}}
	a := consultation.NewAmbient(consultation.AmbientConfig{
		Device: dev, Backend: backend, Player: player, Session: sess, Log: log,
	})
	ctx := context.Background()

	if err := a.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := a.Start(ctx); err != nil {
		t.Fatalf("second Start: %v", err)
	}
	if dev.OpenCount() != 1 {
		t.Fatalf("device opened %d times, want 1", dev.OpenCount())
	}
	c := dev.OpenCalls[0].Constraints
	if !c.EchoCancellation || !c.NoiseSuppression || !c.AutoGainControl {
		t.Errorf("constraints = %+v, want platform defaults", c)
	}

	stream := dev.Last()
	shared, ok := a.SharedStream()
	if !ok || shared != audio.Stream(stream) {
		t.Fatal("running recording not shared")
	}
	stream.Publish(audio.AudioFrame{Data: make([]byte, 640), SampleRate: 16000, Channels: 1})

	if err := a.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if _, ok := a.SharedStream(); ok || a.Recording() {
		t.Error("stopped recording still shared")
	}
	if stream.StopCount() != 1 {
		t.Errorf("stream stopped %d times, want 1", stream.StopCount())
	}

	submits := backend.Submits()
	if len(submits) != 1 {
		t.Fatalf("uploads = %d, want 1", len(submits))
	}
	if !submits[0].TriggerSummary || submits[0].SessionID != "" || submits[0].Clip.Empty() {
		t.Errorf("upload = %+v, want first non-empty upload with summary trigger", submits[0])
	}
	if sess.SessionID() != "s-1" || sess.ConsultationID() != "c-1" {
		t.Errorf("ids = %q/%q, want s-1/c-1", sess.SessionID(), sess.ConsultationID())
	}
	if player.PlayCount() != 1 {
		t.Errorf("reply played %d times, want 1", player.PlayCount())
	}

	want := []string{
		"[Mic] Recording started...",
		"[Mic] Recording stopped. Sending...",
		"[Gateway] Sent audio chunk. consultationId=c-1",
		"[Gateway] Triggered summary generation.",
	}
	if got := log.Messages(); !slices.Equal(got, want) {
		t.Errorf("log = %q, want %q", got, want)
	}

	// The next recording continues the backend session.
	if err := a.Start(ctx); err != nil {
		t.Fatalf("restart: %v", err)
	}
	if err := a.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if got := backend.Submits()[1].SessionID; got != "s-1" {
		t.Errorf("second upload session = %q, want s-1", got)
	}
}

func TestAmbient_StopWithoutRecording(t *testing.T) {
	t.Parallel()
	a := consultation.NewAmbient(consultation.AmbientConfig{Device: &audiomock.Device{}, Backend: &mock.Backend{}})
	if err := a.Stop(context.Background()); !errors.Is(err, consultation.ErrNotRecording) {
		t.Errorf("Stop = %v, want ErrNotRecording", err)
	}
}

func TestAmbient_MicrophoneError(t *testing.T) {
	t.Parallel()
	log := eventlog.New()
	dev := &audiomock.Device{OpenErr: audio.ErrPermissionDenied}
	a := consultation.NewAmbient(consultation.AmbientConfig{Device: dev, Backend: &mock.Backend{}, Log: log})

	if err := a.Start(context.Background()); !errors.Is(err, audio.ErrPermissionDenied) {
		t.Fatalf("Start = %v, want ErrPermissionDenied", err)
	}
	if a.Recording() {
		t.Error("recording after failed start")
	}
	if got := log.Messages(); !slices.Equal(got, []string{"[Error] Could not access microphone."}) {
		t.Errorf("log = %q", got)
	}
}

func TestAmbient_UploadError(t *testing.T) {
	t.Parallel()
	log := eventlog.New()
	sess := consultation.NewSession()
	backend := &mock.Backend{SubmitErr: errors.New("connection refused")}
	a := consultation.NewAmbient(consultation.AmbientConfig{
		Device: &audiomock.Device{}, Backend: backend, Session: sess, Log: log,
	})
	ctx := context.Background()

	if err := a.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := a.Stop(ctx); err == nil {
		t.Fatal("Stop succeeded despite upload failure")
	}
	msgs := log.Messages()
	if last := msgs[len(msgs)-1]; last != "[Error] Failed to send audio: connection refused" {
		t.Errorf("last log = %q", last)
	}
	if sess.ConsultationID() != "" {
		t.Errorf("consultation = %q after failed upload, want none", sess.ConsultationID())
	}
}
