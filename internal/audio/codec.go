package audio

import (
	"fmt"
	"math"
)

// Wire format constants. The agent protocol carries linear PCM16 mono at
// 24kHz; in-process audio is normalized float32.
const (
	SampleRate     = 24000
	Channels       = 1
	BytesPerSample = 2
)

// EncodePCM16 converts normalized float32 samples to little-endian 16-bit
// linear PCM wire bytes. Samples outside [-1.0, 1.0] are clipped.
// The function is stateless and safe for concurrent use.
func EncodePCM16(samples []float32) []byte {
	data := make([]byte, len(samples)*BytesPerSample)
	for i, s := range samples {
		if s > 1.0 {
			s = 1.0
		} else if s < -1.0 {
			s = -1.0
		}
		v := int16(math.Round(float64(s) * 32767))
		data[i*2] = byte(v)
		data[i*2+1] = byte(uint16(v) >> 8)
	}
	return data
}

// DecodePCM16 converts little-endian 16-bit linear PCM wire bytes to
// normalized float32 samples. Returns an error if the payload is not a
// whole number of samples.
func DecodePCM16(data []byte) ([]float32, error) {
	if len(data)%BytesPerSample != 0 {
		return nil, fmt.Errorf("pcm16 payload length must be even, got %d", len(data))
	}
	samples := make([]float32, len(data)/BytesPerSample)
	for i := range samples {
		v := int16(data[i*2]) | int16(data[i*2+1])<<8
		samples[i] = float32(v) / 32767
	}
	return samples, nil
}

// RMS calculates the root mean square energy of normalized samples.
// Used for voice activity gating and barge-in detection.
func RMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0.0
	}
	sum := 0.0
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(samples)))
}
