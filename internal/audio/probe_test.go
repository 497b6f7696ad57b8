package audio

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestProbeReportsLevels(t *testing.T) {
	backend := newMockBackend(44100)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	levels, err := Probe(ctx, backend, ProbeOptions{})
	if err != nil {
		t.Fatalf("Probe() error = %v", err)
	}

	calls := backend.openCalls()
	if len(calls) != 1 || calls[0].SampleRate != 0 {
		t.Fatalf("Open() calls = %+v, want one call at device rate", calls)
	}

	backend.latestStream().Feed(pcmBytes(constant(128, 16384)...))
	select {
	case v := <-levels:
		if v < 0.4 || v > 0.6 {
			t.Errorf("level = %f, want ~0.5", v)
		}
	case <-time.After(time.Second):
		t.Fatal("expected a level")
	}

	cancel()
	if !waitFor(time.Second, backend.latestStream().isClosed) {
		t.Fatal("stream should close when ctx is cancelled")
	}
	for range levels {
	}
}

func TestProbeDurationClosesChannel(t *testing.T) {
	backend := newMockBackend(48000)
	levels, err := Probe(context.Background(), backend, ProbeOptions{Duration: 50 * time.Millisecond})
	if err != nil {
		t.Fatalf("Probe() error = %v", err)
	}

	select {
	case _, ok := <-levels:
		if ok {
			t.Fatal("no data was fed, channel should only close")
		}
	case <-time.After(time.Second):
		t.Fatal("Probe() did not stop after its duration")
	}

	// Callbacks after close must not panic.
	backend.latestStream().Feed(pcmBytes(1, 2))
}

func TestProbeDoesNotTouchCapture(t *testing.T) {
	backend := newMockBackend(48000)
	c := NewCapture(backend, CaptureOptions{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if _, err := Probe(ctx, backend, ProbeOptions{}); err != nil {
		t.Fatalf("Probe() error = %v", err)
	}
	backend.latestStream().Feed(pcmBytes(1, 2, 3))

	if c.IsRecording() {
		t.Error("Probe() must not start a recording session")
	}
	if buf, err := c.Stop(); buf != nil || err != nil {
		t.Errorf("Stop() = %v, %v; want nil, nil", buf, err)
	}
}

func TestProbeNoInput(t *testing.T) {
	backend := newMockBackend(48000)
	backend.noInput = true
	if _, err := Probe(context.Background(), backend, ProbeOptions{}); !errors.Is(err, ErrDeviceUnavailable) {
		t.Errorf("Probe() error = %v, want ErrDeviceUnavailable", err)
	}
}
