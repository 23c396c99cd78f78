package audio

import (
	"fmt"
	"math"
)

// Supported wire encodings for captured audio
const (
	EncodingLinear16 = "linear16"
	EncodingMulaw    = "mulaw"
)

// Decode turns raw captured audio into 16-bit linear samples.
// linear16 input is little-endian; a trailing odd byte is ignored.
func Decode(encoding string, data []byte) ([]int16, error) {
	switch encoding {
	case EncodingLinear16:
		return BytesToSamples(data), nil
	case EncodingMulaw:
		samples := make([]int16, len(data))
		for i, b := range data {
			samples[i] = MulawToLinear(b)
		}
		return samples, nil
	default:
		return nil, fmt.Errorf("unsupported audio encoding %q", encoding)
	}
}

// BytesToSamples reads little-endian 16-bit PCM
func BytesToSamples(pcm []byte) []int16 {
	samples := make([]int16, len(pcm)/2)
	for i := range samples {
		samples[i] = int16(pcm[i*2]) | int16(pcm[i*2+1])<<8
	}
	return samples
}

// MulawToLinear expands one G.711 μ-law byte
func MulawToLinear(mulawByte byte) int16 {
	mulawByte = ^mulawByte

	sign := mulawByte & 0x80
	segment := int32((mulawByte >> 4) & 0x07)
	mantissa := int32(mulawByte & 0x0F)

	step := mantissa<<(segment+1) + int32(33)<<segment
	magnitude := step - 33

	if sign != 0 {
		return int16(-magnitude)
	}
	return int16(magnitude)
}

// CalculateRMS returns the root mean square level of samples
func CalculateRMS(samples []int16) float64 {
	if len(samples) == 0 {
		return 0.0
	}

	sum := 0.0
	for _, sample := range samples {
		sum += float64(sample) * float64(sample)
	}

	return math.Sqrt(sum / float64(len(samples)))
}
