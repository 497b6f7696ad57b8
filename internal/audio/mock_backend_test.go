package audio

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// mockStream simulates a native input stream.
type mockStream struct {
	mu      sync.Mutex
	rate    int
	cb      StreamCallbacks
	started bool
	closed  bool
}

func (s *mockStream) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started = true
	return nil
}

func (s *mockStream) SampleRate() int { return s.rate }

func (s *mockStream) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

func (s *mockStream) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Feed delivers a chunk as the driver would.
func (s *mockStream) Feed(chunk []byte) {
	s.cb.Data(chunk)
}

// SimulateDisconnect reports the device going away.
func (s *mockStream) SimulateDisconnect() {
	s.cb.Stopped(errors.New("mock: device unplugged"))
}

// mockBackend records opened streams and can reject sample rates.
type mockBackend struct {
	mu          sync.Mutex
	noInput     bool
	nativeRate  int
	rejectRates map[int]bool
	openErr     error
	opened      []StreamConfig
	streams     []*mockStream
	closed      bool
}

func newMockBackend(nativeRate int) *mockBackend {
	return &mockBackend{nativeRate: nativeRate, rejectRates: map[int]bool{}}
}

func (b *mockBackend) Devices() ([]DeviceInfo, error) {
	if b.noInput {
		return nil, nil
	}
	return []DeviceInfo{{Index: 0, Name: "Mock Mic", IsDefault: true}}, nil
}

func (b *mockBackend) HasInput() bool { return !b.noInput }

func (b *mockBackend) Open(cfg StreamConfig, cb StreamCallbacks) (Stream, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.opened = append(b.opened, cfg)
	if b.openErr != nil {
		return nil, b.openErr
	}
	if cfg.SampleRate != 0 && b.rejectRates[cfg.SampleRate] {
		return nil, fmt.Errorf("mock: invalid sample rate %d", cfg.SampleRate)
	}
	rate := cfg.SampleRate
	if rate == 0 {
		rate = b.nativeRate
	}
	s := &mockStream{rate: rate, cb: cb}
	b.streams = append(b.streams, s)
	return s, nil
}

func (b *mockBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

func (b *mockBackend) latestStream() *mockStream {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.streams) == 0 {
		return nil
	}
	return b.streams[len(b.streams)-1]
}

func (b *mockBackend) openCalls() []StreamConfig {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]StreamConfig(nil), b.opened...)
}

// waitFor polls cond until it is true or the timeout elapses.
func waitFor(timeout time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}
