package audio

// DeviceInfo describes a capture device reported by a Backend.
type DeviceInfo struct {
	Index     int
	Name      string
	IsDefault bool
}

// StreamConfig selects the device and rate for a capture stream.
type StreamConfig struct {
	// MicIndex selects a device from Backend.Devices. Nil means the system
	// default input.
	MicIndex *int
	// SampleRate is the requested rate in Hz. Zero asks for the device's
	// native rate.
	SampleRate int
}

// StreamCallbacks receive data from a running stream. Both run on the
// driver's thread and must return quickly.
type StreamCallbacks struct {
	// Data receives one chunk of mono little-endian int16 PCM. The slice is
	// only valid for the duration of the call.
	Data func(chunk []byte)
	// Stopped is called if the stream stops without Close being called,
	// e.g. when the device is unplugged.
	Stopped func(err error)
}

// Stream is an opened native input stream.
type Stream interface {
	// Start begins delivering data to the callbacks.
	Start() error
	// SampleRate is the rate actually negotiated with the device.
	SampleRate() int
	// Close stops the stream and releases it. It blocks until no callback
	// is running and must not be called from a callback.
	Close()
}

// Backend abstracts the native audio subsystem for testing.
type Backend interface {
	// Devices lists the available capture devices.
	Devices() ([]DeviceInfo, error)
	// HasInput reports whether any capture device (or a system default) exists.
	HasInput() bool
	// Open prepares a mono int16 capture stream.
	Open(cfg StreamConfig, cb StreamCallbacks) (Stream, error)
	// Close releases the audio subsystem.
	Close() error
}
