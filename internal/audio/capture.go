package audio

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

var (
	// ErrDeviceUnavailable means no usable input device could be opened.
	ErrDeviceUnavailable = errors.New("audio: no input device available")
	// ErrNoAudioCaptured means a recording stopped without a single frame.
	ErrNoAudioCaptured = errors.New("audio: no audio captured")
	// ErrAlreadyRecording is returned by Start while a session is active.
	ErrAlreadyRecording = errors.New("audio: already recording")
)

// SampleRateMode picks which rate Capture asks the device for.
type SampleRateMode string

const (
	// ModelOptimized asks for the model's rate and falls back to the
	// device's native rate if the device rejects it.
	ModelOptimized SampleRateMode = "model-optimized"
	// DeviceDefault always records at the device's native rate.
	DeviceDefault SampleRateMode = "device-default"
)

// CaptureError reports a driver failure during an active recording.
type CaptureError struct {
	Reason string
	Err    error
}

func (e *CaptureError) Error() string {
	if e.Err == nil {
		return e.Reason
	}
	return fmt.Sprintf("%s: %v", e.Reason, e.Err)
}

func (e *CaptureError) Unwrap() error { return e.Err }

// CaptureOptions configures a Capture.
type CaptureOptions struct {
	MicIndex       *int
	SampleRateMode SampleRateMode
	// PreferredRate is tried first in ModelOptimized mode.
	// Defaults to ModelSampleRate.
	PreferredRate int
	// VolumeBuffer is the capacity of the Volumes channel. Defaults to 32.
	VolumeBuffer int
}

// Capture records one session at a time from a Backend. Frames are
// accumulated on the driver thread and handed off as a frozen Buffer by Stop.
type Capture struct {
	backend Backend
	opts    CaptureOptions

	volumes  chan float64
	failures chan error

	mu     sync.Mutex
	active bool
	gen    uint64 // session counter; callbacks from older sessions are ignored
	stream Stream
	frames [][]byte
	rate   int
	lost   *CaptureError // failure that ended the last session, until Stop reports it
}

// NewCapture creates an idle Capture over backend.
func NewCapture(backend Backend, opts CaptureOptions) *Capture {
	if opts.SampleRateMode == "" {
		opts.SampleRateMode = ModelOptimized
	}
	if opts.PreferredRate <= 0 {
		opts.PreferredRate = ModelSampleRate
	}
	if opts.VolumeBuffer <= 0 {
		opts.VolumeBuffer = 32
	}
	return &Capture{
		backend:  backend,
		opts:     opts,
		volumes:  make(chan float64, opts.VolumeBuffer),
		failures: make(chan error, 4),
	}
}

// Volumes delivers one level in [0, 1] per captured chunk. Levels are
// dropped when the reader falls behind.
func (c *Capture) Volumes() <-chan float64 {
	return c.volumes
}

// Failures delivers a *CaptureError when an active recording is lost.
func (c *Capture) Failures() <-chan error {
	return c.failures
}

// IsRecording returns whether a session is active.
func (c *Capture) IsRecording() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// SampleRate returns the rate negotiated for the current or last session.
func (c *Capture) SampleRate() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rate
}

// Start opens the input stream and begins accumulating frames.
func (c *Capture) Start() error {
	c.mu.Lock()
	if c.active {
		c.mu.Unlock()
		return ErrAlreadyRecording
	}
	c.active = true
	c.gen++
	gen := c.gen
	c.frames = nil
	c.lost = nil
	c.mu.Unlock()

	if !c.backend.HasInput() {
		c.abort(gen)
		return ErrDeviceUnavailable
	}

	stream, err := c.open(gen)
	if err != nil {
		c.abort(gen)
		return err
	}

	c.mu.Lock()
	if !c.active || c.gen != gen {
		// Stopped while the device was opening.
		c.mu.Unlock()
		stream.Close()
		return ErrNoAudioCaptured
	}
	c.stream = stream
	c.rate = stream.SampleRate()
	c.mu.Unlock()

	if err := stream.Start(); err != nil {
		c.abort(gen)
		stream.Close()
		return fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}

	slog.Info("[audio] recording started", "rate", stream.SampleRate(), "mode", string(c.opts.SampleRateMode))
	return nil
}

// open tries the preferred rate first, then retries once at the device's
// native rate.
func (c *Capture) open(gen uint64) (Stream, error) {
	cb := StreamCallbacks{
		Data:    func(chunk []byte) { c.onData(gen, chunk) },
		Stopped: func(err error) { c.onStopped(gen, err) },
	}

	if c.opts.SampleRateMode == ModelOptimized {
		stream, err := c.backend.Open(StreamConfig{MicIndex: c.opts.MicIndex, SampleRate: c.opts.PreferredRate}, cb)
		if err == nil {
			return stream, nil
		}
		slog.Warn("[audio] device rejected preferred sample rate, falling back to device rate",
			"rate", c.opts.PreferredRate, "error", err)
	}

	stream, err := c.backend.Open(StreamConfig{MicIndex: c.opts.MicIndex}, cb)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}
	return stream, nil
}

func (c *Capture) abort(gen uint64) {
	c.mu.Lock()
	if c.gen == gen {
		c.active = false
		c.stream = nil
		c.frames = nil
	}
	c.mu.Unlock()
}

// onData runs on the driver thread.
func (c *Capture) onData(gen uint64, chunk []byte) {
	if len(chunk) == 0 {
		return
	}
	frame := make([]byte, len(chunk))
	copy(frame, chunk)

	c.mu.Lock()
	if !c.active || c.gen != gen {
		c.mu.Unlock()
		return
	}
	c.frames = append(c.frames, frame)
	c.mu.Unlock()

	level := ComputeVolume(FramesToSamples([][]byte{frame}, SampleWidth))
	select {
	case c.volumes <- level:
	default:
	}
}

// onStopped runs on the driver thread when the device goes away.
func (c *Capture) onStopped(gen uint64, err error) {
	c.mu.Lock()
	if !c.active || c.gen != gen {
		c.mu.Unlock()
		return
	}
	failure := &CaptureError{Reason: "microphone stopped responding (was it disconnected?)", Err: err}
	stream := c.stream
	discarded := len(c.frames)
	c.active = false
	c.stream = nil
	c.frames = nil
	c.lost = failure
	c.mu.Unlock()

	// Closing from the driver thread would deadlock.
	if stream != nil {
		go stream.Close()
	}

	slog.Error("[audio] recording lost", "error", err, "discardedChunks", discarded)
	select {
	case c.failures <- failure:
	default:
		slog.Warn("[audio] failure channel full, dropping", "error", failure)
	}
}

// Stop ends the session and returns the recording. It returns (nil, nil)
// when no session is active, and ErrNoAudioCaptured if the device never
// delivered a frame. If the device failed since the last Start, the first
// Stop returns that *CaptureError.
func (c *Capture) Stop() (*Buffer, error) {
	c.mu.Lock()
	if !c.active {
		lost := c.lost
		c.lost = nil
		c.mu.Unlock()
		if lost != nil {
			return nil, lost
		}
		return nil, nil
	}
	c.active = false
	stream := c.stream
	frames := c.frames
	rate := c.rate
	c.stream = nil
	c.frames = nil
	c.mu.Unlock()

	if stream != nil {
		stream.Close()
	}

	if len(frames) == 0 {
		slog.Warn("[audio] recording stopped with no frames")
		return nil, ErrNoAudioCaptured
	}

	samples := FramesToSamples(frames, SampleWidth)
	if len(samples) == 0 {
		return nil, ErrNoAudioCaptured
	}

	buf := &Buffer{Samples: samples, SampleRate: rate}
	slog.Info("[audio] recording stopped", "chunks", len(frames), "samples", len(samples),
		"seconds", fmt.Sprintf("%.2f", buf.Duration()))
	return buf, nil
}

// Close discards any active session and releases the backend.
func (c *Capture) Close() error {
	c.mu.Lock()
	stream := c.stream
	c.active = false
	c.stream = nil
	c.frames = nil
	c.lost = nil
	c.gen++
	c.mu.Unlock()

	if stream != nil {
		stream.Close()
	}
	return c.backend.Close()
}
