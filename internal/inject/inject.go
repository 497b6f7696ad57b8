// Package inject delivers transcribed text to the desktop, either by
// placing it on the clipboard or by pasting it into the focused window.
package inject

import (
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"github.com/go-vgo/robotgo"
)

// Output methods.
const (
	MethodClipboard = "clipboard"
	MethodPaste     = "paste"
)

// ErrUnknownMethod is returned by NewInjector for an unsupported method.
var ErrUnknownMethod = errors.New("inject: unknown output method")

// Clipboard is the desktop clipboard plus the paste shortcut.
type Clipboard interface {
	ReadAll() (string, error)
	WriteAll(text string) error
	// Paste sends the platform paste shortcut to the focused window.
	Paste() error
}

// Injector implements the pipeline's text sink.
type Injector struct {
	method string
	clip   Clipboard
	// restoreDelay gives the target app time to read the clipboard before
	// the previous contents are put back.
	restoreDelay time.Duration
}

// NewInjector creates an Injector using the system clipboard.
func NewInjector(method string) (*Injector, error) {
	return newInjector(method, robotgoClipboard{})
}

func newInjector(method string, clip Clipboard) (*Injector, error) {
	switch method {
	case MethodClipboard, MethodPaste:
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMethod, method)
	}
	return &Injector{method: method, clip: clip, restoreDelay: 150 * time.Millisecond}, nil
}

// Method returns the configured output method.
func (inj *Injector) Method() string {
	return inj.method
}

// Deliver sends text to the desktop using the configured method.
func (inj *Injector) Deliver(text string) error {
	if text == "" {
		return nil
	}

	switch inj.method {
	case MethodPaste:
		return inj.paste(text)
	default:
		if err := inj.clip.WriteAll(text); err != nil {
			return fmt.Errorf("inject: write to clipboard: %w", err)
		}
		slog.Debug("[inject] copied to clipboard", "chars", len(text))
		return nil
	}
}

// paste copies text to the clipboard, pastes it, then restores the
// previous clipboard contents.
func (inj *Injector) paste(text string) error {
	prev, readErr := inj.clip.ReadAll()

	if err := inj.clip.WriteAll(text); err != nil {
		return fmt.Errorf("inject: write to clipboard: %w", err)
	}
	if err := inj.clip.Paste(); err != nil {
		return fmt.Errorf("inject: paste: %w", err)
	}
	slog.Debug("[inject] pasted", "chars", len(text))

	// Restore previous clipboard (best effort)
	if readErr == nil {
		time.Sleep(inj.restoreDelay)
		if err := inj.clip.WriteAll(prev); err != nil {
			slog.Warn("[inject] could not restore clipboard", "error", err)
		}
	}
	return nil
}

type robotgoClipboard struct{}

func (robotgoClipboard) ReadAll() (string, error) { return robotgo.ReadAll() }

func (robotgoClipboard) WriteAll(text string) error { return robotgo.WriteAll(text) }

func (robotgoClipboard) Paste() error {
	if runtime.GOOS == "darwin" {
		return robotgo.KeyTap("v", "cmd")
	}
	return robotgo.KeyTap("v", "ctrl")
}
