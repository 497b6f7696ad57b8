package audio

import (
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/gen2brain/malgo"
)

// MalgoBackend captures audio through miniaudio via malgo.
type MalgoBackend struct {
	ctx *malgo.AllocatedContext
}

// Compile-time interface satisfaction check.
var _ Backend = (*MalgoBackend)(nil)

// NewMalgoBackend initializes the native audio context. Call Close() when done.
func NewMalgoBackend() (*MalgoBackend, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("initializing audio context: %w", err)
	}
	return &MalgoBackend{ctx: ctx}, nil
}

// Devices lists capture devices in the order the driver reports them.
func (b *MalgoBackend) Devices() ([]DeviceInfo, error) {
	infos, err := b.ctx.Devices(malgo.Capture)
	if err != nil {
		return nil, fmt.Errorf("enumerating capture devices: %w", err)
	}
	out := make([]DeviceInfo, len(infos))
	for i, info := range infos {
		out[i] = DeviceInfo{
			Index:     i,
			Name:      info.Name(),
			IsDefault: info.IsDefault != 0,
		}
	}
	return out, nil
}

// HasInput reports whether at least one capture device is present.
func (b *MalgoBackend) HasInput() bool {
	infos, err := b.ctx.Devices(malgo.Capture)
	if err != nil {
		slog.Warn("[audio] device enumeration failed", "error", err)
		return false
	}
	return len(infos) > 0
}

// Open initializes a mono S16 capture device. An out-of-range MicIndex
// falls back to the system default input.
func (b *MalgoBackend) Open(cfg StreamConfig, cb StreamCallbacks) (Stream, error) {
	deviceCfg := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceCfg.Capture.Format = malgo.FormatS16
	deviceCfg.Capture.Channels = 1
	deviceCfg.SampleRate = uint32(cfg.SampleRate)

	// infos must outlive InitDevice: the config points into it.
	var infos []malgo.DeviceInfo
	if cfg.MicIndex != nil {
		var err error
		infos, err = b.ctx.Devices(malgo.Capture)
		switch {
		case err != nil:
			slog.Warn("[audio] cannot enumerate devices, using default input", "error", err)
		case *cfg.MicIndex >= len(infos):
			slog.Warn("[audio] mic_index out of range, using default input",
				"index", *cfg.MicIndex, "devices", len(infos))
		default:
			deviceCfg.Capture.DeviceID = infos[*cfg.MicIndex].ID.Pointer()
		}
	}

	s := &malgoStream{}
	callbacks := malgo.DeviceCallbacks{
		Data: func(_, input []byte, _ uint32) {
			if cb.Data != nil {
				cb.Data(input)
			}
		},
		Stop: func() {
			if s.closing.Load() || cb.Stopped == nil {
				return
			}
			cb.Stopped(errors.New("capture device stopped"))
		},
	}

	device, err := malgo.InitDevice(b.ctx.Context, deviceCfg, callbacks)
	if err != nil {
		return nil, fmt.Errorf("initializing capture device at %d Hz: %w", cfg.SampleRate, err)
	}
	s.device = device
	return s, nil
}

// Close releases the audio context.
func (b *MalgoBackend) Close() error {
	if b.ctx == nil {
		return nil
	}
	if err := b.ctx.Uninit(); err != nil {
		return fmt.Errorf("uninitializing audio context: %w", err)
	}
	b.ctx.Free()
	b.ctx = nil
	return nil
}

type malgoStream struct {
	device  *malgo.Device
	closing atomic.Bool
}

func (s *malgoStream) Start() error {
	if err := s.device.Start(); err != nil {
		return fmt.Errorf("starting capture device: %w", err)
	}
	return nil
}

func (s *malgoStream) SampleRate() int {
	return int(s.device.SampleRate())
}

func (s *malgoStream) Close() {
	if !s.closing.CompareAndSwap(false, true) {
		return
	}
	s.device.Uninit()
}
