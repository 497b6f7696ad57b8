package transcribe

import (
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"runtime"
	"strings"

	whisper "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"
)

// nonSpeech matches the markers whisper emits for segments without words,
// such as "[BLANK_AUDIO]" or "(silence)".
var nonSpeech = regexp.MustCompile(`^[\[(][^\])]*[\])]$`)

// WhisperModel wraps a whisper.cpp model for speech-to-text.
type WhisperModel struct {
	model   whisper.Model
	threads uint
}

// Compile-time interface satisfaction check.
var _ Model = (*WhisperModel)(nil)

// LoadWhisper loads a ggml whisper model from path. It satisfies Loader.
// The caller must call Close() when done.
func LoadWhisper(path string, opts LoadOptions) (Model, error) {
	return NewWhisperModel(path, opts)
}

// NewWhisperModel loads a ggml whisper model from path.
func NewWhisperModel(path string, opts LoadOptions) (*WhisperModel, error) {
	model, err := whisper.New(path)
	if err != nil {
		return nil, fmt.Errorf("transcribe: load whisper model %q: %w", path, err)
	}

	// With CUDA the encoder runs on the GPU; a few CPU threads are enough
	// for the decoder.
	threads := uint(runtime.NumCPU())
	if opts.Device == "cuda" {
		threads = min(threads, 4)
	}

	slog.Debug("[whisper] model loaded", "path", path, "multilingual", model.IsMultilingual(),
		"device", opts.Device, "computeType", opts.ComputeType, "threads", threads)
	return &WhisperModel{model: model, threads: threads}, nil
}

// Close releases the whisper model resources.
func (w *WhisperModel) Close() error {
	if w.model != nil {
		err := w.model.Close()
		w.model = nil
		return err
	}
	return nil
}

// Transcribe transcribes mono 16kHz float32 audio samples to text.
// English-only models ignore the requested language.
func (w *WhisperModel) Transcribe(samples []float32, language string, progress func(int)) (string, error) {
	ctx, err := w.model.NewContext()
	if err != nil {
		return "", fmt.Errorf("transcribe: create context: %w", err)
	}

	lang := language
	if lang == "" {
		lang = "auto"
	}
	if !w.model.IsMultilingual() {
		if lang != "en" && lang != "auto" {
			slog.Warn("[whisper] model is English-only, ignoring language", "language", lang)
		}
		lang = "en"
	}
	if err := ctx.SetLanguage(lang); err != nil {
		return "", fmt.Errorf("transcribe: set language %q: %w", lang, err)
	}
	ctx.SetThreads(w.threads)

	var onProgress whisper.ProgressCallback
	if progress != nil {
		onProgress = func(p int) { progress(p) }
	}

	if err := ctx.Process(samples, nil, nil, onProgress); err != nil {
		return "", fmt.Errorf("transcribe: process: %w", err)
	}

	var segments []string
	for {
		seg, err := ctx.NextSegment()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("transcribe: next segment: %w", err)
		}
		segments = append(segments, seg.Text)
	}

	return joinSegments(segments), nil
}

// joinSegments joins segment texts, dropping non-speech markers.
func joinSegments(segments []string) string {
	kept := make([]string, 0, len(segments))
	for _, s := range segments {
		s = strings.TrimSpace(s)
		if s == "" || nonSpeech.MatchString(s) {
			continue
		}
		kept = append(kept, s)
	}
	return strings.Join(kept, " ")
}
