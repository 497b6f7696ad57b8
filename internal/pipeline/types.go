// Package pipeline drives one dictation at a time through
// Idle → Recording → Processing → Idle.
package pipeline

import (
	"fmt"

	"github.com/chaz8081/gostt-dictate/internal/audio"
	"github.com/chaz8081/gostt-dictate/internal/transcribe"
)

// State is the coordinator's position in the dictation cycle.
type State int

const (
	Idle State = iota
	Recording
	Processing
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Recording:
		return "recording"
	case Processing:
		return "processing"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// NotificationKind classifies a user-facing notification.
type NotificationKind string

const (
	RecordingFailed       NotificationKind = "recording-failed"
	TranscriptionFailed   NotificationKind = "transcription-failed"
	TranscriptionComplete NotificationKind = "transcription-complete"
)

// Notification is a human-readable outcome for the UI layer.
type Notification struct {
	Kind    NotificationKind
	Message string
}

// Recorder captures audio. *audio.Capture satisfies it.
type Recorder interface {
	Start() error
	Stop() (*audio.Buffer, error)
	IsRecording() bool
	Volumes() <-chan float64
	Failures() <-chan error
	Close() error
}

// Transcriber runs jobs against a loaded model. *transcribe.Engine
// satisfies it.
type Transcriber interface {
	Ready() bool
	Handle() *transcribe.Handle
	Language() string
	Transcribe(samples []float32, language string) (*transcribe.Job, error)
	UpdateModel(spec transcribe.ModelSpec) error
	UpdateLanguage(language string) error
	Close() error
}

// Notifier renders notifications.
type Notifier interface {
	Notify(n Notification)
}

// TextSink receives the final transcribed text.
type TextSink interface {
	Deliver(text string) error
}

// Observer receives UI updates. Calls must not block.
type Observer interface {
	StateChanged(s State)
	Volume(level float64)
	Progress(percent int)
}

// Settings are the engine settings that can change at runtime.
type Settings struct {
	Model    transcribe.ModelSpec
	Language string
}

type nopObserver struct{}

func (nopObserver) StateChanged(State) {}
func (nopObserver) Volume(float64)     {}
func (nopObserver) Progress(int)       {}
