// Package hotkey provides a global hotkey listener using gohook.
// It supports "hold" mode (press to start, release to stop) and
// "toggle" mode (press to start, press again to stop).
package hotkey

import (
	"fmt"
	"log/slog"
	"sync"

	hook "github.com/robotn/gohook"
)

// Modes.
const (
	ModeHold   = "hold"
	ModeToggle = "toggle"
)

// Trigger is driven by the hotkey. *pipeline.Coordinator satisfies it.
type Trigger interface {
	Start() bool
	Stop() bool
	Toggle() bool
}

// Listener manages a global hotkey and drives a Trigger.
type Listener struct {
	keys    []string
	mode    string
	trigger Trigger

	mu   sync.Mutex
	held bool

	done chan struct{}
	once sync.Once
}

// NewListener creates a Listener for the given key combo and mode.
// keys should be lowercase key names (e.g., ["ctrl", "shift", "r"]).
func NewListener(keys []string, mode string, trigger Trigger) (*Listener, error) {
	if len(keys) == 0 {
		return nil, fmt.Errorf("hotkey: no keys given")
	}
	switch mode {
	case ModeHold, ModeToggle:
	default:
		return nil, fmt.Errorf("hotkey: mode must be %q or %q, got %q", ModeHold, ModeToggle, mode)
	}
	return &Listener{
		keys:    keys,
		mode:    mode,
		trigger: trigger,
		done:    make(chan struct{}),
	}, nil
}

// Run listens for the global hotkey until Stop is called. It blocks; run
// it in a goroutine.
func (l *Listener) Run() {
	hook.Register(hook.KeyDown, l.keys, func(hook.Event) { l.keyDown() })
	if l.mode == ModeHold {
		hook.Register(hook.KeyUp, l.keys, func(hook.Event) { l.keyUp() })
	}

	evChan := hook.Start()
	go func() {
		<-l.done
		hook.End()
	}()
	<-hook.Process(evChan)
	slog.Debug("[hotkey] listener stopped")
}

// keyDown handles a press of the combo. In hold mode, auto-repeat presses
// while the combo is held are ignored.
func (l *Listener) keyDown() {
	if l.mode == ModeToggle {
		l.trigger.Toggle()
		return
	}

	l.mu.Lock()
	if l.held {
		l.mu.Unlock()
		return
	}
	l.held = true
	l.mu.Unlock()
	l.trigger.Start()
}

// keyUp handles release of the combo in hold mode.
func (l *Listener) keyUp() {
	l.mu.Lock()
	if !l.held {
		l.mu.Unlock()
		return
	}
	l.held = false
	l.mu.Unlock()
	l.trigger.Stop()
}

// Stop terminates the hotkey listener.
// It is safe to call multiple times.
func (l *Listener) Stop() {
	l.once.Do(func() {
		close(l.done)
	})
}
