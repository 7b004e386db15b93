package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/faiface/beep/wav"
)

const wavHeaderSize = 44

// EncodeWAV wraps signed 16-bit little-endian PCM in a canonical 44-byte
// RIFF/WAVE header.
func EncodeWAV(pcm []byte, sampleRate, channels int) []byte {
	const bitsPerSample = 16
	blockAlign := channels * bitsPerSample / 8

	out := make([]byte, wavHeaderSize+len(pcm))
	copy(out[0:4], "RIFF")
	binary.LittleEndian.PutUint32(out[4:8], uint32(36+len(pcm)))
	copy(out[8:12], "WAVE")

	copy(out[12:16], "fmt ")
	binary.LittleEndian.PutUint32(out[16:20], 16)
	binary.LittleEndian.PutUint16(out[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(out[22:24], uint16(channels))
	binary.LittleEndian.PutUint32(out[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(out[28:32], uint32(sampleRate*blockAlign))
	binary.LittleEndian.PutUint16(out[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(out[34:36], bitsPerSample)

	copy(out[36:40], "data")
	binary.LittleEndian.PutUint32(out[40:44], uint32(len(pcm)))
	copy(out[44:], pcm)
	return out
}

// WAVInfo describes a decoded WAV clip.
type WAVInfo struct {
	Format   Format
	Duration time.Duration
}

// DecodeWAVInfo parses the header of a WAV clip and reports its format and
// playback duration.
func DecodeWAVInfo(data []byte) (WAVInfo, error) {
	s, format, err := wav.Decode(bytes.NewReader(data))
	if err != nil {
		return WAVInfo{}, fmt.Errorf("audio: decode wav: %w", err)
	}
	defer s.Close()
	return WAVInfo{
		Format:   Format{SampleRate: int(format.SampleRate), Channels: format.NumChannels},
		Duration: format.SampleRate.D(s.Len()),
	}, nil
}
