package hotkey

import "testing"

type fakeTrigger struct {
	calls []string
}

func (f *fakeTrigger) Start() bool {
	f.calls = append(f.calls, "start")
	return true
}

func (f *fakeTrigger) Stop() bool {
	f.calls = append(f.calls, "stop")
	return true
}

func (f *fakeTrigger) Toggle() bool {
	f.calls = append(f.calls, "toggle")
	return true
}

func TestNewListenerValidates(t *testing.T) {
	tests := []struct {
		name    string
		keys    []string
		mode    string
		wantErr bool
	}{
		{"hold", []string{"ctrl", "r"}, ModeHold, false},
		{"toggle", []string{"f9"}, ModeToggle, false},
		{"no keys", nil, ModeHold, true},
		{"bad mode", []string{"f9"}, "push", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewListener(tt.keys, tt.mode, &fakeTrigger{})
			if (err != nil) != tt.wantErr {
				t.Errorf("NewListener() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestHoldModeSuppressesRepeat(t *testing.T) {
	trig := &fakeTrigger{}
	l, err := NewListener([]string{"ctrl", "r"}, ModeHold, trig)
	if err != nil {
		t.Fatal(err)
	}

	l.keyDown()
	l.keyDown() // auto-repeat
	l.keyDown()
	l.keyUp()
	l.keyUp() // stray release
	l.keyDown()
	l.keyUp()

	want := []string{"start", "stop", "start", "stop"}
	if len(trig.calls) != len(want) {
		t.Fatalf("calls = %v, want %v", trig.calls, want)
	}
	for i := range want {
		if trig.calls[i] != want[i] {
			t.Errorf("calls[%d] = %q, want %q", i, trig.calls[i], want[i])
		}
	}
}

func TestToggleMode(t *testing.T) {
	trig := &fakeTrigger{}
	l, err := NewListener([]string{"f9"}, ModeToggle, trig)
	if err != nil {
		t.Fatal(err)
	}

	l.keyDown()
	l.keyDown()
	l.keyDown()

	if len(trig.calls) != 3 {
		t.Fatalf("calls = %v, want three toggles", trig.calls)
	}
	for _, c := range trig.calls {
		if c != "toggle" {
			t.Errorf("call = %q, want toggle", c)
		}
	}
}

func TestStopIdempotent(t *testing.T) {
	l, err := NewListener([]string{"f9"}, ModeToggle, &fakeTrigger{})
	if err != nil {
		t.Fatal(err)
	}
	l.Stop()
	l.Stop()
}
