package live

import (
	"encoding/base64"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ErrEmptyAudio is returned when a payload carries no samples.
var ErrEmptyAudio = errors.New("empty audio payload")

// EncodePCM16 converts float samples in [-1, 1] to 16-bit signed little-endian
// PCM. Out-of-range samples are clipped.
func EncodePCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		v := float64(s)
		if math.IsNaN(v) {
			v = 0
		}
		v = math.Max(-1, math.Min(1, v))
		var q int16
		if v < 0 {
			q = int16(math.Round(v * 32768))
		} else {
			q = int16(math.Round(v * 32767))
		}
		out[i*2] = byte(uint16(q))
		out[i*2+1] = byte(uint16(q) >> 8)
	}
	return out
}

// DecodePCM16 converts 16-bit signed little-endian PCM to float samples.
func DecodePCM16(pcm []byte) ([]float32, error) {
	if len(pcm) < 2 {
		return nil, ErrEmptyAudio
	}
	if len(pcm)%2 != 0 {
		return nil, fmt.Errorf("odd PCM16 payload length %d", len(pcm))
	}
	out := make([]float32, len(pcm)/2)
	for i := range out {
		s := int16(uint16(pcm[i*2]) | uint16(pcm[i*2+1])<<8)
		out[i] = float32(s) / 32768
	}
	return out, nil
}

// DecodeBase64PCM16 decodes a base64 PCM16 payload.
func DecodeBase64PCM16(data string) ([]float32, error) {
	if strings.TrimSpace(data) == "" {
		return nil, ErrEmptyAudio
	}
	pcm, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, fmt.Errorf("decode base64 audio: %w", err)
	}
	return DecodePCM16(pcm)
}

// ParsePCMRate extracts the rate parameter of an "audio/pcm;rate=N" MIME type.
// fallback is returned when the parameter is absent or malformed.
func ParsePCMRate(mimeType string, fallback int) int {
	for _, part := range strings.Split(mimeType, ";") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok || !strings.EqualFold(strings.TrimSpace(k), "rate") {
			continue
		}
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}

// PCMMIMEType formats a PCM MIME type for a rate.
func PCMMIMEType(rate int) string {
	return "audio/pcm;rate=" + strconv.Itoa(rate)
}

// Resample converts samples between rates with linear interpolation.
func Resample(samples []float32, fromRate, toRate int) []float32 {
	if fromRate == toRate || fromRate <= 0 || toRate <= 0 || len(samples) == 0 {
		return samples
	}
	n := int(math.Round(float64(len(samples)) * float64(toRate) / float64(fromRate)))
	if n <= 0 {
		return nil
	}
	out := make([]float32, n)
	step := float64(fromRate) / float64(toRate)
	last := len(samples) - 1
	for i := range out {
		pos := float64(i) * step
		j := int(pos)
		if j >= last {
			out[i] = samples[last]
			continue
		}
		frac := float32(pos - float64(j))
		out[i] = samples[j] + (samples[j+1]-samples[j])*frac
	}
	return out
}

// CalculateRMSEnergy computes the root-mean-square energy of float samples.
// Returns a value between 0.0 and 1.0.
func CalculateRMSEnergy(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(samples)))
}
