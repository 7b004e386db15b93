package audio_test

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/MrWong99/consultvox/pkg/audio"
)

func TestEncodeWAV_Header(t *testing.T) {
	t.Parallel()

	pcm := make([]byte, 3200)
	wav := audio.EncodeWAV(pcm, 16000, 1)

	if len(wav) != 44+len(pcm) {
		t.Fatalf("len: got %d, want %d", len(wav), 44+len(pcm))
	}
	if string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" || string(wav[36:40]) != "data" {
		t.Errorf("bad chunk ids: %q %q %q", wav[0:4], wav[8:12], wav[36:40])
	}
	if got := binary.LittleEndian.Uint32(wav[24:28]); got != 16000 {
		t.Errorf("sample rate: got %d, want 16000", got)
	}
	if got := binary.LittleEndian.Uint32(wav[28:32]); got != 32000 {
		t.Errorf("byte rate: got %d, want 32000", got)
	}
	if got := binary.LittleEndian.Uint32(wav[40:44]); got != uint32(len(pcm)) {
		t.Errorf("data size: got %d, want %d", got, len(pcm))
	}
}

func TestDecodeWAVInfo(t *testing.T) {
	t.Parallel()

	// 100 ms of 16 kHz mono.
	wav := audio.EncodeWAV(make([]byte, 3200), 16000, 1)
	info, err := audio.DecodeWAVInfo(wav)
	if err != nil {
		t.Fatalf("DecodeWAVInfo: %v", err)
	}
	if info.Format.SampleRate != 16000 || info.Format.Channels != 1 {
		t.Errorf("format: got %+v, want 16000 Hz mono", info.Format)
	}
	if info.Duration != 100*time.Millisecond {
		t.Errorf("duration: got %v, want 100ms", info.Duration)
	}
}

func TestDecodeWAVInfo_Garbage(t *testing.T) {
	t.Parallel()

	if _, err := audio.DecodeWAVInfo([]byte("not a wav file at all")); err == nil {
		t.Fatal("expected error for non-WAV input")
	}
}

func TestAudioFrame_Duration(t *testing.T) {
	t.Parallel()

	f := audio.AudioFrame{Data: make([]byte, 640), SampleRate: 16000, Channels: 1}
	if got := f.Duration(); got != 20*time.Millisecond {
		t.Errorf("Duration: got %v, want 20ms", got)
	}
	if got := (audio.AudioFrame{}).Duration(); got != 0 {
		t.Errorf("zero frame Duration: got %v, want 0", got)
	}
}
