package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/chaz8081/gostt-dictate/internal/audio"
	"github.com/chaz8081/gostt-dictate/internal/transcribe"
)

// DefaultMinDuration is the shortest recording that is transcribed.
const DefaultMinDuration = 300 * time.Millisecond

// Deps are the coordinator's collaborators. Observer may be nil.
type Deps struct {
	Recorder    Recorder
	Transcriber Transcriber
	Notifier    Notifier
	Sink        TextSink
	Observer    Observer
}

// Options tune the coordinator.
type Options struct {
	// MinDuration rejects shorter recordings. Defaults to DefaultMinDuration;
	// a negative value disables the check.
	MinDuration time.Duration
	// TargetRate is the model input rate. Defaults to audio.ModelSampleRate.
	TargetRate int
}

// Coordinator owns the dictation state machine. Start, Stop and Toggle
// never block on transcription; jobs are consumed on a background
// goroutine that always returns the coordinator to Idle.
type Coordinator struct {
	rec      Recorder
	engine   Transcriber
	notifier Notifier
	sink     TextSink
	observer Observer
	opts     Options

	mu        sync.Mutex
	state     State
	switching bool // a model load started from Idle is running
	last      *audio.Buffer
	pending   *Settings
	closed    bool
}

// New creates an idle coordinator.
func New(deps Deps, opts Options) *Coordinator {
	if opts.MinDuration == 0 {
		opts.MinDuration = DefaultMinDuration
	}
	if opts.TargetRate <= 0 {
		opts.TargetRate = audio.ModelSampleRate
	}
	obs := deps.Observer
	if obs == nil {
		obs = nopObserver{}
	}
	return &Coordinator{
		rec:      deps.Recorder,
		engine:   deps.Transcriber,
		notifier: deps.Notifier,
		sink:     deps.Sink,
		observer: obs,
		opts:     opts,
	}
}

// State returns the current state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Start begins recording. It reports false, without touching the
// recorder, when not Idle or when no model is loaded.
func (c *Coordinator) Start() bool {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return false
	}
	if c.state != Idle {
		state := c.state
		c.mu.Unlock()
		slog.Debug("[pipeline] start ignored", "state", state)
		return false
	}
	if c.switching {
		c.mu.Unlock()
		c.notify(RecordingFailed, "Switching models. Try again in a moment.")
		return false
	}
	if !c.engine.Ready() {
		c.mu.Unlock()
		c.notify(RecordingFailed, "No model loaded. Download a model and try again.")
		return false
	}
	if err := c.rec.Start(); err != nil {
		c.mu.Unlock()
		slog.Error("[pipeline] could not start recording", "error", err)
		c.notify(RecordingFailed, describe(err))
		return false
	}
	c.state = Recording
	c.mu.Unlock()

	slog.Info("[pipeline] recording")
	c.observer.StateChanged(Recording)
	return true
}

// Stop ends the recording and hands it off for transcription on a
// background goroutine. It reports whether the recording was handed off;
// every other outcome returns to Idle with a notification. Conversion and
// job submission failures are reported later, also ending in Idle.
func (c *Coordinator) Stop() bool {
	c.mu.Lock()
	if c.state != Recording {
		state := c.state
		c.mu.Unlock()
		slog.Debug("[pipeline] stop ignored", "state", state)
		return false
	}

	buf, err := c.rec.Stop()
	if err != nil || buf == nil {
		if err == nil {
			err = audio.ErrNoAudioCaptured
		}
		c.resetLocked(RecordingFailed, describe(err))
		return false
	}
	c.last = buf

	if d := buf.Duration(); c.opts.MinDuration > 0 && d < c.opts.MinDuration.Seconds() {
		c.resetLocked(RecordingFailed, fmt.Sprintf("Recording too short (%.1fs).", d))
		return false
	}

	c.state = Processing
	c.mu.Unlock()

	c.observer.StateChanged(Processing)
	go c.process(buf)
	return true
}

// Toggle starts when Idle and stops when Recording. While Processing it
// does nothing and reports false.
func (c *Coordinator) Toggle() bool {
	switch c.State() {
	case Idle:
		return c.Start()
	case Recording:
		return c.Stop()
	default:
		slog.Info("[pipeline] still transcribing, ignoring toggle")
		return false
	}
}

// resetLocked returns to Idle after a failed transition and notifies.
// It is called with c.mu held and releases it.
func (c *Coordinator) resetLocked(kind NotificationKind, msg string) {
	c.state = Idle
	pending := c.takePendingLocked()
	c.mu.Unlock()

	slog.Warn("[pipeline] "+string(kind), "message", msg)
	c.observer.StateChanged(Idle)
	c.notify(kind, msg)
	c.applyPending(pending)
}

// process converts a recording to the model format and runs it through
// the engine. It always returns the coordinator to Idle.
func (c *Coordinator) process(buf *audio.Buffer) {
	samples, err := audio.ToModelFormat(*buf, c.opts.TargetRate)
	if err != nil {
		c.mu.Lock()
		c.resetLocked(TranscriptionFailed, describe(err))
		return
	}

	job, err := c.engine.Transcribe(samples, "")
	if err != nil {
		c.mu.Lock()
		c.resetLocked(TranscriptionFailed, describe(err))
		return
	}

	slog.Info("[pipeline] processing", "job", job.ID, "seconds", fmt.Sprintf("%.1f", buf.Duration()))
	c.consume(job)
}

// consume forwards a job's events and returns to Idle once the job has
// released the engine.
func (c *Coordinator) consume(job *transcribe.Job) {
	terminal := false
	for ev := range job.Events() {
		switch ev.Kind {
		case transcribe.EventProgress:
			c.observer.Progress(ev.Percent)
		case transcribe.EventCompleted:
			terminal = true
			c.deliver(ev.Text)
		case transcribe.EventFailed:
			terminal = true
			c.notify(TranscriptionFailed, describe(ev.Err))
		}
	}
	if !terminal {
		c.notify(TranscriptionFailed, "Transcription ended unexpectedly.")
	}
	<-job.Done()

	c.mu.Lock()
	c.state = Idle
	pending := c.takePendingLocked()
	c.mu.Unlock()

	slog.Debug("[pipeline] idle", "job", job.ID)
	c.observer.StateChanged(Idle)
	c.applyPending(pending)
}

func (c *Coordinator) deliver(text string) {
	if err := c.sink.Deliver(text); err != nil {
		slog.Error("[pipeline] output failed", "error", err)
		c.notify(TranscriptionFailed, "Could not output text: "+err.Error())
		return
	}
	c.notify(TranscriptionComplete, text)
}

// Run forwards volume levels to the observer and handles capture failures
// until ctx is done.
func (c *Coordinator) Run(ctx context.Context) {
	volumes := c.rec.Volumes()
	failures := c.rec.Failures()
	for {
		select {
		case <-ctx.Done():
			return
		case v, ok := <-volumes:
			if !ok {
				volumes = nil
				continue
			}
			c.observer.Volume(v)
		case err, ok := <-failures:
			if !ok {
				failures = nil
				continue
			}
			c.captureFailed(err)
		}
	}
}

func (c *Coordinator) captureFailed(err error) {
	c.mu.Lock()
	if c.state != Recording {
		c.mu.Unlock()
		slog.Debug("[pipeline] capture failure outside recording", "error", err)
		return
	}
	c.resetLocked(RecordingFailed, describe(err))
}

// ApplySettings switches model or language. When Idle the change is made
// now; otherwise it is kept (replacing any earlier pending change) and
// applied once the pipeline is back to Idle.
func (c *Coordinator) ApplySettings(s Settings) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	if c.state != Idle || c.switching {
		c.pending = &s
		state := c.state
		c.mu.Unlock()
		slog.Info("[pipeline] settings change deferred", "state", state)
		return
	}
	c.mu.Unlock()
	c.apply(s)
}

func (c *Coordinator) takePendingLocked() *Settings {
	p := c.pending
	c.pending = nil
	return p
}

func (c *Coordinator) applyPending(p *Settings) {
	if p != nil {
		c.apply(*p)
	}
}

func (c *Coordinator) apply(s Settings) {
	if s.Model.Path != "" && !sameModel(c.engine.Handle(), s.Model) {
		if !c.beginSwitch(s) {
			return
		}
		slog.Info("[pipeline] switching model", "model", s.Model.Name)
		err := c.engine.UpdateModel(s.Model)
		c.endSwitch()
		if err != nil {
			if errors.Is(err, transcribe.ErrEngineBusy) {
				c.keepPending(s)
				return
			}
			slog.Error("[pipeline] model switch failed", "model", s.Model.Name, "error", err)
			c.notify(TranscriptionFailed, fmt.Sprintf("Could not load model %s: %s", s.Model.Name, describe(err)))
		}
		defer c.applyQueued()
	}

	if s.Language != "" && s.Language != c.engine.Language() {
		if err := c.engine.UpdateLanguage(s.Language); err != nil {
			if errors.Is(err, transcribe.ErrEngineBusy) {
				c.keepPending(s)
				return
			}
			slog.Error("[pipeline] language switch failed", "error", err)
		}
	}
}

// beginSwitch marks a model load in progress so Start is refused until it
// ends. It reports false, queuing s instead, if the coordinator left Idle
// or another load is running.
func (c *Coordinator) beginSwitch(s Settings) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Idle || c.switching {
		c.pending = &s
		return false
	}
	c.switching = true
	return true
}

func (c *Coordinator) endSwitch() {
	c.mu.Lock()
	c.switching = false
	c.mu.Unlock()
}

// applyQueued applies settings that arrived during a model load.
func (c *Coordinator) applyQueued() {
	c.mu.Lock()
	if c.state != Idle || c.switching {
		c.mu.Unlock()
		return
	}
	p := c.takePendingLocked()
	c.mu.Unlock()
	c.applyPending(p)
}

// keepPending keeps s pending when the engine was busy at apply time. A newer
// pending change wins.
func (c *Coordinator) keepPending(s Settings) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending == nil {
		c.pending = &s
	}
	slog.Info("[pipeline] engine busy, settings change deferred")
}

func sameModel(h *transcribe.Handle, spec transcribe.ModelSpec) bool {
	return h != nil && h.Name == spec.Name && h.Path == spec.Path &&
		h.Device == spec.Device && h.ComputeType == spec.ComputeType
}

// SaveLastRecording writes the most recent recording to path as WAV at
// its captured rate. It reports false if there is none or the write fails.
func (c *Coordinator) SaveLastRecording(path string) bool {
	c.mu.Lock()
	buf := c.last
	c.mu.Unlock()
	if buf == nil {
		slog.Warn("[pipeline] no recording to save")
		return false
	}
	return audio.WriteWAV(*buf, path, buf.SampleRate, 1, audio.SampleWidth)
}

// Close abandons any recording and releases the recorder and engine. The
// engine waits, bounded, for a running job.
func (c *Coordinator) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	if c.state == Recording {
		if _, err := c.rec.Stop(); err != nil {
			slog.Debug("[pipeline] discarded recording on close", "error", err)
		}
		c.state = Idle
	}
	c.pending = nil
	c.mu.Unlock()

	recErr := c.rec.Close()
	engErr := c.engine.Close()
	return errors.Join(recErr, engErr)
}

func (c *Coordinator) notify(kind NotificationKind, msg string) {
	if c.notifier != nil {
		c.notifier.Notify(Notification{Kind: kind, Message: msg})
	}
}

// describe turns an error into a message for the user.
func describe(err error) string {
	var ce *audio.CaptureError
	switch {
	case errors.As(err, &ce):
		return "Microphone error: " + ce.Reason
	case errors.Is(err, audio.ErrDeviceUnavailable):
		return "No microphone available."
	case errors.Is(err, audio.ErrNoAudioCaptured):
		return "No audio was captured."
	case errors.Is(err, transcribe.ErrNoSpeechDetected):
		return "No speech detected."
	case errors.Is(err, transcribe.ErrEngineBusy):
		return "Still transcribing the previous recording."
	case errors.Is(err, transcribe.ErrModelNotDownloaded):
		return "Model not downloaded."
	case errors.Is(err, transcribe.ErrModelLoad):
		return "No model loaded."
	case errors.Is(err, audio.ErrResample):
		return "Could not convert the recording for the model."
	case err == nil:
		return "Unknown error."
	default:
		return err.Error()
	}
}
