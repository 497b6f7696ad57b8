package audio

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// ProbeOptions configures a microphone test.
type ProbeOptions struct {
	MicIndex *int
	// Duration bounds the probe. Zero runs until ctx is done.
	Duration time.Duration
}

// Probe opens a short-lived stream that is independent of any Capture
// session and reports only volume levels. The returned channel is closed
// when ctx is done, the duration elapses, or the device stops.
func Probe(ctx context.Context, backend Backend, opts ProbeOptions) (<-chan float64, error) {
	if !backend.HasInput() {
		return nil, ErrDeviceUnavailable
	}

	p := &probe{
		levels:  make(chan float64, 32),
		stopped: make(chan struct{}),
	}
	stream, err := backend.Open(StreamConfig{MicIndex: opts.MicIndex}, StreamCallbacks{
		Data:    p.onData,
		Stopped: p.onStopped,
	})
	if err != nil {
		return nil, &CaptureError{Reason: "cannot open microphone", Err: err}
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return nil, &CaptureError{Reason: "cannot start microphone", Err: err}
	}

	if opts.Duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Duration)
		go func() {
			<-p.stopped
			cancel()
		}()
	}

	go func() {
		select {
		case <-ctx.Done():
		case <-p.stopped:
			slog.Warn("[audio] probe device stopped")
		}
		stream.Close()
		p.close()
	}()

	return p.levels, nil
}

type probe struct {
	mu       sync.Mutex
	closed   bool
	levels   chan float64
	stopped  chan struct{}
	stopOnce sync.Once
}

func (p *probe) onData(chunk []byte) {
	if len(chunk) == 0 {
		return
	}
	level := ComputeVolume(FramesToSamples([][]byte{chunk}, SampleWidth))
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	select {
	case p.levels <- level:
	default:
	}
}

func (p *probe) onStopped(error) {
	p.stopOnce.Do(func() { close(p.stopped) })
}

func (p *probe) close() {
	p.stopOnce.Do(func() { close(p.stopped) })
	p.mu.Lock()
	p.closed = true
	close(p.levels)
	p.mu.Unlock()
}
