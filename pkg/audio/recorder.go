package audio

import (
	"bytes"
	"sync"
)

// Recorder collects the frames of a [Stream] between construction and
// [Recorder.Stop] and assembles them into one WAV [Clip].
//
// The clip is assembled once and handed out once. A Recorder never stops the
// stream it records.
type Recorder struct {
	format Format
	sub    *Subscription

	mu     sync.Mutex
	chunks [][]byte
	size   int

	done     chan struct{}
	stopOnce sync.Once
}

// NewRecorder starts recording s.
func NewRecorder(s Stream) *Recorder {
	r := &Recorder{
		format: s.Format(),
		sub:    s.Subscribe(256),
		done:   make(chan struct{}),
	}
	go r.collect()
	return r
}

func (r *Recorder) collect() {
	defer close(r.done)
	for f := range r.sub.Frames() {
		r.mu.Lock()
		r.chunks = append(r.chunks, f.Data)
		r.size += len(f.Data)
		r.mu.Unlock()
	}
}

// Chunks reports how many frames have been collected so far.
func (r *Recorder) Chunks() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.chunks)
}

// Stop ends recording and returns the assembled clip. Only the first call
// returns audio; later calls return an empty [Clip].
func (r *Recorder) Stop() Clip {
	var clip Clip
	r.stopOnce.Do(func() {
		r.sub.Close()
		<-r.done

		r.mu.Lock()
		pcm := bytes.NewBuffer(make([]byte, 0, r.size))
		for _, c := range r.chunks {
			pcm.Write(c)
		}
		r.chunks = nil
		r.mu.Unlock()

		if pcm.Len() == 0 {
			return
		}
		clip = Clip{
			Data:        EncodeWAV(pcm.Bytes(), r.format.SampleRate, r.format.Channels),
			ContentType: "audio/wav",
		}
	})
	return clip
}
