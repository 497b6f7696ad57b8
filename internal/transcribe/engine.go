package transcribe

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// DefaultShutdownTimeout bounds how long Close waits for a running job.
const DefaultShutdownTimeout = 5 * time.Second

// jobEventBuffer is the capacity of a job's event channel. The last slot
// is reserved for the terminal event.
const jobEventBuffer = 64

// EventKind identifies a job event.
type EventKind int

const (
	// EventStarting is always the first event of a job.
	EventStarting EventKind = iota
	// EventProgress carries a completion percentage. Percentages never
	// decrease within a job.
	EventProgress
	// EventCompleted is terminal and carries the recognized text.
	EventCompleted
	// EventFailed is terminal and carries the failure.
	EventFailed
)

func (k EventKind) String() string {
	switch k {
	case EventStarting:
		return "starting"
	case EventProgress:
		return "progress"
	case EventCompleted:
		return "completed"
	case EventFailed:
		return "failed"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

// Terminal reports whether k ends a job.
func (k EventKind) Terminal() bool {
	return k == EventCompleted || k == EventFailed
}

// Event is emitted on a Job's event channel.
type Event struct {
	Kind    EventKind
	Percent int
	Text    string
	Err     error
}

// Job is one transcription attempt.
type Job struct {
	ID       string
	Language string
	Samples  int

	events chan Event
	done   chan struct{}
	last   int
}

// Events delivers the job's events in order. The channel is closed right
// after the terminal event.
func (j *Job) Events() <-chan Event {
	return j.events
}

// Done is closed once the job has released the engine, after Events is
// closed. A new job or model load can be started from then on.
func (j *Job) Done() <-chan struct{} {
	return j.done
}

// progress emits a progress event if pct advances. Progress events are
// dropped rather than blocking the worker when the reader falls behind.
func (j *Job) progress(pct int) {
	pct = min(max(pct, 0), 100)
	if pct <= j.last {
		return
	}
	j.last = pct
	if len(j.events) >= cap(j.events)-1 {
		return
	}
	j.events <- Event{Kind: EventProgress, Percent: pct}
}

// EngineOptions configures an Engine.
type EngineOptions struct {
	// Language is the default job language, "auto" when empty.
	Language string
	// ShutdownTimeout bounds Close's wait for a running job.
	// Defaults to DefaultShutdownTimeout.
	ShutdownTimeout time.Duration
}

// Engine owns one loaded model and runs one job at a time.
//
// The engine is either Ready, holding a Handle, or Unavailable with the
// reason recorded. Transcribe on an unavailable engine fails with
// ErrModelLoad.
type Engine struct {
	loader          Loader
	shutdownTimeout time.Duration

	// busy is held for the whole of a job or a model load.
	busy atomic.Bool
	wg   sync.WaitGroup

	mu          sync.Mutex
	handle      *Handle
	unavailable error
	language    string
	closed      bool
}

// NewEngine creates an engine with no model loaded.
func NewEngine(loader Loader, opts EngineOptions) *Engine {
	if opts.Language == "" {
		opts.Language = "auto"
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = DefaultShutdownTimeout
	}
	return &Engine{
		loader:          loader,
		shutdownTimeout: opts.ShutdownTimeout,
		unavailable:     fmt.Errorf("%w: no model loaded", ErrModelLoad),
		language:        opts.Language,
	}
}

// reserveLocked claims the engine for a job or load. The caller must call
// release when done.
func (e *Engine) reserveLocked() error {
	if e.closed {
		return ErrClosed
	}
	if !e.busy.CompareAndSwap(false, true) {
		return ErrEngineBusy
	}
	e.wg.Add(1)
	return nil
}

func (e *Engine) release() {
	e.busy.Store(false)
	e.wg.Done()
}

// LoadModel loads spec, releasing the current model first. It fails with
// ErrModelNotDownloaded, leaving the current model in place, if the file
// is missing; if the load itself fails the engine becomes unavailable.
func (e *Engine) LoadModel(spec ModelSpec) (*Handle, error) {
	if _, err := os.Stat(spec.Path); err != nil {
		return nil, fmt.Errorf("%w: %s (%s)", ErrModelNotDownloaded, spec.Name, spec.Path)
	}

	e.mu.Lock()
	if err := e.reserveLocked(); err != nil {
		e.mu.Unlock()
		return nil, err
	}
	old := e.handle
	e.handle = nil
	e.unavailable = fmt.Errorf("%w: loading %s", ErrModelLoad, spec.Name)
	e.mu.Unlock()
	defer e.release()

	if old != nil {
		if err := old.model.Close(); err != nil {
			slog.Warn("[engine] error releasing model", "model", old.Name, "error", err)
		}
		slog.Info("[engine] model released", "model", old.Name)
	}

	start := time.Now()
	model, err := e.loader(spec.Path, LoadOptions{Device: spec.Device, ComputeType: spec.ComputeType})

	e.mu.Lock()
	defer e.mu.Unlock()
	if err != nil {
		e.unavailable = fmt.Errorf("%w: %s: %v", ErrModelLoad, spec.Name, err)
		slog.Error("[engine] model load failed", "model", spec.Name, "error", err)
		return nil, e.unavailable
	}

	e.handle = &Handle{
		Name:        spec.Name,
		Path:        spec.Path,
		Device:      spec.Device,
		ComputeType: spec.ComputeType,
		LoadedAt:    time.Now(),
		model:       model,
	}
	e.unavailable = nil
	slog.Info("[engine] model loaded", "model", spec.Name, "device", spec.Device,
		"computeType", spec.ComputeType, "elapsed", time.Since(start).Round(time.Millisecond))

	h := *e.handle
	return &h, nil
}

// UpdateModel switches to a different model. It fails with ErrEngineBusy
// while a job is in flight.
func (e *Engine) UpdateModel(spec ModelSpec) error {
	_, err := e.LoadModel(spec)
	return err
}

// UpdateLanguage changes the default language for later jobs. It fails
// with ErrEngineBusy while a job is in flight.
func (e *Engine) UpdateLanguage(language string) error {
	if language == "" {
		language = "auto"
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}
	if e.busy.Load() {
		return ErrEngineBusy
	}
	e.language = language
	slog.Info("[engine] language updated", "language", language)
	return nil
}

// Ready reports whether a model is loaded.
func (e *Engine) Ready() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.handle != nil
}

// Busy reports whether a job or load is in progress.
func (e *Engine) Busy() bool {
	return e.busy.Load()
}

// Handle returns a copy of the current model handle, or nil.
func (e *Engine) Handle() *Handle {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.handle == nil {
		return nil
	}
	h := *e.handle
	h.model = nil
	return &h
}

// Unavailable returns why no model is loaded, or nil when Ready.
func (e *Engine) Unavailable() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.unavailable
}

// Language returns the default job language.
func (e *Engine) Language() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.language
}

// Transcribe starts a job on a background goroutine and returns
// immediately. An empty language uses the engine default. It fails with
// ErrEngineBusy if another job is running.
func (e *Engine) Transcribe(samples []float32, language string) (*Job, error) {
	e.mu.Lock()
	if err := e.reserveLocked(); err != nil {
		e.mu.Unlock()
		return nil, err
	}
	if e.handle == nil {
		err := e.unavailable
		e.mu.Unlock()
		e.release()
		return nil, err
	}
	if language == "" {
		language = e.language
	}
	model := e.handle.model
	e.mu.Unlock()

	job := &Job{
		ID:       uuid.NewString(),
		Language: language,
		Samples:  len(samples),
		events:   make(chan Event, jobEventBuffer),
		done:     make(chan struct{}),
	}
	job.events <- Event{Kind: EventStarting}

	go e.run(job, model, samples)
	return job, nil
}

func (e *Engine) run(job *Job, model Model, samples []float32) {
	slog.Info("[engine] transcribing", "job", job.ID, "seconds",
		fmt.Sprintf("%.1f", float64(len(samples))/16000), "language", job.Language)
	start := time.Now()

	text, err := infer(model, samples, job.Language, job.progress)
	text = strings.TrimSpace(text)
	elapsed := time.Since(start).Round(time.Millisecond)

	var final Event
	switch {
	case err != nil:
		slog.Error("[engine] transcription failed", "job", job.ID, "error", err, "elapsed", elapsed)
		final = Event{Kind: EventFailed, Err: err}
	case text == "":
		slog.Info("[engine] no speech detected", "job", job.ID, "elapsed", elapsed)
		final = Event{Kind: EventFailed, Err: ErrNoSpeechDetected}
	default:
		slog.Info("[engine] transcribed", "job", job.ID, "chars", len(text), "elapsed", elapsed)
		final = Event{Kind: EventCompleted, Percent: 100, Text: text}
	}

	// The engine stays busy until the result is handed over.
	job.events <- final
	close(job.events)
	e.release()
	close(job.done)
}

// infer calls the model, turning a panic into an error.
func infer(model Model, samples []float32, language string, progress func(int)) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("transcribe: backend panic: %v", r)
		}
	}()
	return model.Transcribe(samples, language, progress)
}

// Close waits up to the shutdown timeout for a running job or load, then
// releases the model. If the timeout elapses the model is released anyway.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.mu.Unlock()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(e.shutdownTimeout):
		slog.Error("[engine] job still running at shutdown, releasing model anyway",
			"timeout", e.shutdownTimeout)
	}

	e.mu.Lock()
	h := e.handle
	e.handle = nil
	e.unavailable = ErrClosed
	e.mu.Unlock()

	if h == nil {
		return nil
	}
	if err := h.model.Close(); err != nil {
		return fmt.Errorf("transcribe: release model %s: %w", h.Name, err)
	}
	slog.Info("[engine] model released", "model", h.Name)
	return nil
}
