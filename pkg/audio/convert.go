package audio

import (
	"encoding/binary"
	"math"
)

// Samples decodes the signed 16-bit PCM in f into mono samples normalised to
// [-1, 1). Multi-channel frames are downmixed by averaging each interleaved
// group. A trailing partial sample is ignored.
func Samples(f AudioFrame) []float64 {
	ch := max(f.Channels, 1)
	n := len(f.Data) / (2 * ch)
	out := make([]float64, n)
	for i := range n {
		var sum int32
		for c := range ch {
			off := (i*ch + c) * 2
			sum += int32(int16(binary.LittleEndian.Uint16(f.Data[off:])))
		}
		out[i] = float64(sum) / float64(ch) / 32768
	}
	return out
}

// ApplyGain scales every 16-bit sample in pcm by g, clamping to the int16
// range. A gain of 0 yields silence of the same length.
func ApplyGain(pcm []byte, g float64) []byte {
	out := make([]byte, len(pcm)&^1)
	if g == 0 {
		return out
	}
	for i := 0; i+1 < len(pcm); i += 2 {
		s := float64(int16(binary.LittleEndian.Uint16(pcm[i:]))) * g
		s = math.Max(-32768, math.Min(32767, math.Round(s)))
		binary.LittleEndian.PutUint16(out[i:], uint16(int16(s)))
	}
	return out
}

// PCM16 encodes normalised samples in [-1, 1] as signed 16-bit little-endian
// PCM. Values outside the range are clamped.
func PCM16(samples []float64) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		v := math.Max(-32768, math.Min(32767, math.Round(s*32767)))
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(v)))
	}
	return out
}
