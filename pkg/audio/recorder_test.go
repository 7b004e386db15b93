package audio_test

import (
	"bytes"
	"testing"

	"github.com/MrWong99/consultvox/pkg/audio"
)

func TestRecorder_AssemblesClipOnce(t *testing.T) {
	t.Parallel()

	s := audio.NewLiveStream(audio.Format{SampleRate: 16000, Channels: 1}, nil)
	r := audio.NewRecorder(s)

	s.Publish(audio.AudioFrame{Data: []byte{1, 0, 2, 0}})
	s.Publish(audio.AudioFrame{Data: []byte{3, 0}})
	waitFor(t, func() bool { return r.Chunks() == 2 })

	clip := r.Stop()
	if clip.ContentType != "audio/wav" {
		t.Errorf("ContentType: got %q, want audio/wav", clip.ContentType)
	}
	want := audio.EncodeWAV([]byte{1, 0, 2, 0, 3, 0}, 16000, 1)
	if !bytes.Equal(clip.Data, want) {
		t.Errorf("clip data mismatch: got %d bytes, want %d", len(clip.Data), len(want))
	}

	if again := r.Stop(); !again.Empty() {
		t.Errorf("second Stop returned %d bytes, want empty clip", len(again.Data))
	}
	if !s.Active() {
		t.Error("recorder stopped the stream it recorded")
	}
}

func TestRecorder_EmptyWhenNothingCaptured(t *testing.T) {
	t.Parallel()

	s := audio.NewLiveStream(audio.Format{SampleRate: 16000, Channels: 1}, nil)
	r := audio.NewRecorder(s)
	if clip := r.Stop(); !clip.Empty() {
		t.Errorf("got %d bytes, want empty clip", len(clip.Data))
	}
}

func TestRecorder_StreamEndedByOwner(t *testing.T) {
	t.Parallel()

	s := audio.NewLiveStream(audio.Format{SampleRate: 16000, Channels: 1}, nil)
	r := audio.NewRecorder(s)
	s.Publish(audio.AudioFrame{Data: []byte{9, 0}})
	waitFor(t, func() bool { return r.Chunks() == 1 })
	s.Stop()

	if clip := r.Stop(); clip.Empty() {
		t.Error("clip empty after owner stopped the stream")
	}
}
