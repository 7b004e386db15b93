package voiceturn

import (
	"encoding/binary"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/consultvox/pkg/audio"
	audiomock "github.com/MrWong99/consultvox/pkg/audio/mock"
	"github.com/MrWong99/consultvox/pkg/vad"
	vadmock "github.com/MrWong99/consultvox/pkg/vad/mock"
)

// loudFrame returns a square wave at a quarter of full scale.
func loudFrame(samples int) audio.AudioFrame {
	pcm := make([]byte, samples*2)
	for i := range samples {
		v := int16(8192)
		if i%2 == 1 {
			v = -v
		}
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(v))
	}
	return audio.AudioFrame{Data: pcm, SampleRate: 16000, Channels: 1}
}

type levelLog struct {
	mu     sync.Mutex
	levels []vad.Measurement
}

func (l *levelLog) add(m vad.Measurement) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.levels = append(l.levels, m)
}

func (l *levelLog) last() (vad.Measurement, int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.levels) == 0 {
		return vad.Measurement{}, 0
	}
	return l.levels[len(l.levels)-1], len(l.levels)
}

func TestAnalyzer_MeasuresStream(t *testing.T) {
	t.Parallel()
	stream := audio.NewLiveStream(audio.Format{SampleRate: 16000, Channels: 1}, nil)
	frames := &audiomock.FrameClock{}
	var got levelLog

	a, err := StartAnalyzer(stream, vad.RMSEngine{}, vad.DefaultConfig(), frames, got.add)
	if err != nil {
		t.Fatalf("StartAnalyzer: %v", err)
	}
	defer a.Stop()

	frames.Tick()
	if m, n := got.last(); n != 1 || m.Level != 0 || m.Speech {
		t.Fatalf("before audio: %+v (%d), want one silent measurement", m, n)
	}

	stream.Publish(loudFrame(512))
	deadline := time.Now().Add(2 * time.Second)
	for {
		frames.Tick()
		if m, _ := got.last(); m.Speech {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("loud audio never measured as speech")
		}
		time.Sleep(time.Millisecond)
	}
	if a.sink.Frames() == 0 {
		t.Error("no frames routed to the silent destination")
	}
}

func TestAnalyzer_StopIsIdempotentAndLeavesStream(t *testing.T) {
	t.Parallel()
	stream := audio.NewLiveStream(audio.Format{SampleRate: 16000, Channels: 1}, nil)
	frames := &audiomock.FrameClock{}
	sess := &vadmock.Session{}
	var got levelLog

	a, err := StartAnalyzer(stream, &vadmock.Engine{Session: sess}, vad.DefaultConfig(), frames, got.add)
	if err != nil {
		t.Fatalf("StartAnalyzer: %v", err)
	}
	if frames.Active() != 1 {
		t.Fatalf("active ticks = %d, want 1", frames.Active())
	}

	a.Stop()
	a.Stop()
	frames.Tick()

	if frames.Active() != 0 {
		t.Error("ticks still scheduled after Stop")
	}
	if _, n := got.last(); n != 0 {
		t.Errorf("%d measurements delivered after Stop", n)
	}
	if sess.Closes() != 1 {
		t.Errorf("vad session closed %d times, want 1", sess.Closes())
	}
	if !stream.Active() {
		t.Error("Stop ended the analysed stream")
	}
}

func TestAnalyzer_SkipsFailedMeasurements(t *testing.T) {
	t.Parallel()
	stream := audio.NewLiveStream(audio.Format{SampleRate: 16000, Channels: 1}, nil)
	frames := &audiomock.FrameClock{}
	sess := &vadmock.Session{MeasureErr: errors.New("boom")}
	var got levelLog

	a, err := StartAnalyzer(stream, &vadmock.Engine{Session: sess}, vad.DefaultConfig(), frames, got.add)
	if err != nil {
		t.Fatalf("StartAnalyzer: %v", err)
	}
	defer a.Stop()

	frames.Tick()
	if _, n := got.last(); n != 0 {
		t.Errorf("%d measurements delivered, want 0", n)
	}
}

func TestStartAnalyzer_EngineError(t *testing.T) {
	t.Parallel()
	stream := audio.NewLiveStream(audio.Format{SampleRate: 16000, Channels: 1}, nil)
	frames := &audiomock.FrameClock{}
	engine := &vadmock.Engine{NewSessionErr: errors.New("no model")}

	if _, err := StartAnalyzer(stream, engine, vad.DefaultConfig(), frames, func(vad.Measurement) {}); err == nil {
		t.Fatal("StartAnalyzer succeeded with a failing engine")
	}
	if frames.Active() != 0 {
		t.Error("ticks scheduled despite start failure")
	}
}
