// Package audio captures microphone input and converts it into the
// mono 16kHz float32 format the transcription model expects.
package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// ModelSampleRate is the sample rate whisper models are trained on.
const ModelSampleRate = 16000

// SampleWidth is the byte width of one captured sample (signed 16-bit).
const SampleWidth = 2

// maxSampleMagnitude maps int16 samples onto [-1, 1].
const maxSampleMagnitude = 32768.0

// ErrResample is returned when audio cannot be resampled.
var ErrResample = errors.New("audio: resample failed")

// Buffer is a frozen mono recording of signed 16-bit samples.
type Buffer struct {
	Samples    []int16
	SampleRate int
}

// Duration returns the length of the buffer in seconds.
func (b Buffer) Duration() float64 {
	if b.SampleRate <= 0 {
		return 0
	}
	return float64(len(b.Samples)) / float64(b.SampleRate)
}

// FramesToSamples joins raw little-endian PCM chunks into a sample slice.
// Each chunk is decoded on its own when it holds whole samples; if any chunk
// is misaligned the chunks are concatenated first so samples split across
// chunk boundaries survive. A trailing partial sample is dropped. Empty or
// unsupported input yields an empty slice, never an error.
func FramesToSamples(frames [][]byte, sampleWidth int) []int16 {
	if sampleWidth != SampleWidth {
		slog.Warn("[audio] unsupported sample width", "width", sampleWidth)
		return []int16{}
	}

	total := 0
	aligned := true
	for _, f := range frames {
		total += len(f)
		if len(f)%sampleWidth != 0 {
			aligned = false
		}
	}
	if total == 0 {
		slog.Warn("[audio] no frame data to convert", "chunks", len(frames))
		return []int16{}
	}

	if aligned {
		samples := make([]int16, 0, total/sampleWidth)
		for _, f := range frames {
			samples = appendInt16(samples, f)
		}
		return samples
	}

	joined := make([]byte, 0, total)
	for _, f := range frames {
		joined = append(joined, f...)
	}
	if len(joined)%sampleWidth != 0 {
		slog.Debug("[audio] dropping trailing partial sample", "bytes", len(joined)%sampleWidth)
		joined = joined[:len(joined)-len(joined)%sampleWidth]
	}
	if len(joined) == 0 {
		slog.Warn("[audio] frame data shorter than one sample")
		return []int16{}
	}
	return appendInt16(make([]int16, 0, len(joined)/sampleWidth), joined)
}

// appendInt16 decodes whole little-endian int16 samples from data.
func appendInt16(dst []int16, data []byte) []int16 {
	for i := 0; i+1 < len(data); i += 2 {
		dst = append(dst, int16(binary.LittleEndian.Uint16(data[i:])))
	}
	return dst
}

// ComputeVolume returns the RMS level of samples normalized to [0, 1].
// Empty input yields 0.
func ComputeVolume(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		v := float64(s)
		sum += v * v
	}
	meanSquare := sum / float64(len(samples))
	if meanSquare <= 0 || math.IsNaN(meanSquare) {
		return 0
	}
	return min(math.Sqrt(meanSquare)/maxSampleMagnitude, 1)
}

// ResampledLength is the number of samples Resample produces for n input
// samples.
func ResampledLength(n, fromRate, toRate int) int {
	if fromRate == toRate {
		return n
	}
	return int(math.Round(float64(n) * float64(toRate) / float64(fromRate)))
}

// Resample converts samples from fromRate to toRate with Fourier-domain
// resampling. The spectrum is truncated or zero-padded to the new length,
// splitting or joining the Nyquist bin when it is present, and transformed
// back. Lengths with a large prime factor are transformed with Bluestein's
// algorithm, so the cost stays O(n log n) for any recording length.
// Results are rounded and clamped to int16. Equal rates return the input
// unchanged.
func Resample(samples []int16, fromRate, toRate int) ([]int16, error) {
	if fromRate <= 0 || toRate <= 0 {
		return nil, fmt.Errorf("%w: invalid rates %d -> %d", ErrResample, fromRate, toRate)
	}
	if fromRate == toRate {
		return samples, nil
	}

	n := len(samples)
	m := ResampledLength(n, fromRate, toRate)
	if n == 0 || m == 0 {
		return []int16{}, nil
	}

	out := make([]int16, m)
	if n == 1 {
		for i := range out {
			out[i] = samples[0]
		}
		return out, nil
	}

	seq := make([]float64, n)
	for i, s := range samples {
		seq[i] = float64(s)
	}

	if m == 1 {
		var sum float64
		for _, v := range seq {
			sum += v
		}
		out[0] = toInt16(sum / float64(n))
		return out, nil
	}

	spectrum := newRealFFT(n).coefficients(seq)

	shared := min(n, m)
	resized := make([]complex128, m/2+1)
	copy(resized, spectrum[:shared/2+1])
	if shared%2 == 0 {
		nyq := shared / 2
		if m < n {
			resized[nyq] *= 2
		} else {
			resized[nyq] *= 0.5
		}
	}

	// Sequence is unnormalized (scaled by m); the m/n amplitude correction
	// cancels that down to a single division by n.
	result := newRealFFT(m).sequence(resized)
	scale := 1 / float64(n)
	for i, v := range result {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("%w: non-finite sample at %d", ErrResample, i)
		}
		out[i] = toInt16(v * scale)
	}
	return out, nil
}

func toInt16(v float64) int16 {
	v = math.Round(v)
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return int16(v)
}

// ToModelFormat resamples buf to targetRate (ModelSampleRate when zero)
// and scales it to float32 in [-1, 1]. This is the only form of audio the
// transcription engine accepts.
func ToModelFormat(buf Buffer, targetRate int) ([]float32, error) {
	if targetRate == 0 {
		targetRate = ModelSampleRate
	}
	samples, err := Resample(buf.Samples, buf.SampleRate, targetRate)
	if err != nil {
		return nil, err
	}

	out := make([]float32, len(samples))
	for i, s := range samples {
		out[i] = float32(float64(s) / maxSampleMagnitude)
	}
	return out, nil
}

// WriteWAV writes buf to path as a PCM WAV file. It reports success as a
// bool; failures are logged and never returned.
func WriteWAV(buf Buffer, path string, sampleRate, channels, sampleWidthBytes int) bool {
	if err := writeWAV(buf, path, sampleRate, channels, sampleWidthBytes); err != nil {
		slog.Error("[audio] failed to write WAV", "path", path, "error", err)
		return false
	}
	slog.Debug("[audio] wrote WAV", "path", path, "samples", len(buf.Samples), "rate", sampleRate)
	return true
}

func writeWAV(buf Buffer, path string, sampleRate, channels, sampleWidthBytes int) error {
	if sampleRate <= 0 || channels <= 0 {
		return fmt.Errorf("invalid format: %d Hz, %d channels", sampleRate, channels)
	}
	if sampleWidthBytes != SampleWidth {
		return fmt.Errorf("unsupported sample width %d", sampleWidthBytes)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating file: %w", err)
	}

	enc := wav.NewEncoder(f, sampleRate, sampleWidthBytes*8, channels, 1)
	data := make([]int, len(buf.Samples))
	for i, s := range buf.Samples {
		data[i] = int(s)
	}
	ib := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: channels, SampleRate: sampleRate},
		Data:           data,
		SourceBitDepth: sampleWidthBytes * 8,
	}

	if err := enc.Write(ib); err != nil {
		f.Close()
		return fmt.Errorf("encoding samples: %w", err)
	}
	if err := enc.Close(); err != nil {
		f.Close()
		return fmt.Errorf("finalizing header: %w", err)
	}
	return f.Close()
}
