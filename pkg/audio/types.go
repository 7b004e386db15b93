package audio

import "time"

// AudioFrame represents a single frame of audio data flowing through the pipeline.
// Frames are the atomic unit of audio transport: captured from a device stream,
// tapped by the analysis graph, collected by recorders, and encoded into clips.
type AudioFrame struct {
	// PCM audio data, signed 16-bit little-endian, interleaved when Channels > 1.
	Data []byte

	// SampleRate in Hz (e.g., 16000 for speech capture, 48000 for most devices).
	SampleRate int

	// Channels: 1 for mono, 2 for stereo.
	Channels int

	// Timestamp marks when this frame was captured, relative to stream start.
	Timestamp time.Duration
}

// Duration returns the playback length of the frame's PCM data.
func (f AudioFrame) Duration() time.Duration {
	if f.SampleRate <= 0 || f.Channels <= 0 {
		return 0
	}
	samples := len(f.Data) / (2 * f.Channels)
	return time.Duration(samples) * time.Second / time.Duration(f.SampleRate)
}

// Format describes the sample rate and channel count of an audio stream.
type Format struct {
	SampleRate int
	Channels   int
}

// Clip is a complete, encoded audio recording ready to be transmitted or played.
// Clips are assembled once and then treated as immutable.
type Clip struct {
	// Data holds the encoded bytes (a RIFF/WAVE file for clips produced by [Recorder]).
	Data []byte

	// ContentType is the MIME type of Data, e.g. "audio/wav".
	ContentType string
}

// Empty reports whether the clip carries no audio bytes.
func (c Clip) Empty() bool { return len(c.Data) == 0 }
