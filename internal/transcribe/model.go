// Package transcribe runs speech-to-text jobs against a loaded model.
//
// The Engine owns the model and runs at most one job at a time on a
// background goroutine. The default backend is whisper.cpp via its Go
// bindings.
package transcribe

import (
	"errors"
	"time"
)

var (
	// ErrModelNotDownloaded means the model file is not on disk. The engine
	// never downloads models itself.
	ErrModelNotDownloaded = errors.New("transcribe: model not downloaded")
	// ErrModelLoad means no model is loaded, usually because loading failed.
	ErrModelLoad = errors.New("transcribe: model not loaded")
	// ErrEngineBusy means a job or model load is already in progress.
	ErrEngineBusy = errors.New("transcribe: engine busy")
	// ErrNoSpeechDetected means the model recognized no text.
	ErrNoSpeechDetected = errors.New("transcribe: no speech detected")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("transcribe: engine closed")
)

// Model is a loaded speech model.
type Model interface {
	// Transcribe converts mono 16kHz float32 samples to text. progress, if
	// non-nil, receives completion percentages from the backend.
	Transcribe(samples []float32, language string, progress func(percent int)) (string, error)
	// Close releases the model's native memory.
	Close() error
}

// LoadOptions carries the compute settings a Loader should honor.
type LoadOptions struct {
	Device      string // "cpu" or "cuda"
	ComputeType string // "int8", "float16" or "float32"
}

// Loader loads the model file at path.
type Loader func(path string, opts LoadOptions) (Model, error)

// ModelSpec identifies a model to load.
type ModelSpec struct {
	Name        string
	Path        string
	Device      string
	ComputeType string
}

// Handle describes the model currently owned by an Engine.
type Handle struct {
	Name        string
	Path        string
	Device      string
	ComputeType string
	LoadedAt    time.Time

	model Model
}
