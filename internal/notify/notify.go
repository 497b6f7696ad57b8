// Package notify shows pipeline notifications in the log and, optionally,
// as desktop notifications.
package notify

import (
	"log/slog"

	"github.com/gen2brain/beeep"

	"github.com/chaz8081/gostt-dictate/internal/pipeline"
)

const appName = "gostt-dictate"

// maxBody caps the notification body; long transcripts are shortened.
const maxBody = 120

// Desktop implements pipeline.Notifier.
type Desktop struct {
	enabled bool
	send    func(title, message string) error
}

// New returns a notifier. When desktop is false notifications are only
// logged.
func New(desktop bool) *Desktop {
	return &Desktop{
		enabled: desktop,
		send: func(title, message string) error {
			return beeep.Notify(title, message, "")
		},
	}
}

// Notify logs n and shows it on the desktop if enabled. Delivery failures
// are logged and otherwise ignored.
func (d *Desktop) Notify(n pipeline.Notification) {
	switch n.Kind {
	case pipeline.TranscriptionComplete:
		slog.Info("[notify] "+string(n.Kind), "text", n.Message)
	default:
		slog.Warn("[notify] "+string(n.Kind), "message", n.Message)
	}

	if !d.enabled {
		return
	}
	if err := d.send(title(n.Kind), truncate(n.Message, maxBody)); err != nil {
		slog.Debug("[notify] desktop notification failed", "error", err)
	}
}

func title(kind pipeline.NotificationKind) string {
	switch kind {
	case pipeline.RecordingFailed:
		return appName + ": recording failed"
	case pipeline.TranscriptionFailed:
		return appName + ": transcription failed"
	case pipeline.TranscriptionComplete:
		return appName + ": copied"
	default:
		return appName
	}
}

// truncate shortens s to at most n runes, marking the cut with an ellipsis.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
