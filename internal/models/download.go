package models

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// progressBuffer is the capacity of a download's progress channel. The
// last slot is reserved for the final update.
const progressBuffer = 16

// Progress reports the state of a download. The final update has Done set,
// with Err non-nil on failure.
type Progress struct {
	Model   string
	Written int64
	Total   int64 // -1 when the server sent no length
	Done    bool
	Err     error
}

// Percent returns the completion percentage, or -1 if the total is unknown.
func (p Progress) Percent() int {
	if p.Total <= 0 {
		return -1
	}
	return int(p.Written * 100 / p.Total)
}

// Manager resolves and downloads model files under one directory.
type Manager struct {
	dir     string
	baseURL string
	client  *http.Client

	mu       sync.Mutex
	inflight map[string]bool
}

// NewManager returns a manager storing models in dir.
func NewManager(dir string) *Manager {
	return &Manager{
		dir:      dir,
		baseURL:  DefaultBaseURL,
		client:   http.DefaultClient,
		inflight: make(map[string]bool),
	}
}

// Dir returns the models directory.
func (m *Manager) Dir() string {
	return m.dir
}

// IsDownloaded reports whether the model file exists and is non-empty.
func (m *Manager) IsDownloaded(name string) bool {
	info, err := Lookup(name)
	if err != nil {
		return false
	}
	st, err := os.Stat(filepath.Join(m.dir, info.File))
	return err == nil && st.Size() > 0
}

// ResolvePath returns the on-disk path of a downloaded model.
func (m *Manager) ResolvePath(name string) (string, error) {
	info, err := Lookup(name)
	if err != nil {
		return "", err
	}
	path := filepath.Join(m.dir, info.File)
	if !m.IsDownloaded(name) {
		return path, fmt.Errorf("%w: %s (%s)", ErrNotDownloaded, name, path)
	}
	return path, nil
}

// Downloaded lists the registered models present on disk.
func (m *Manager) Downloaded() []string {
	var names []string
	for _, name := range Names() {
		if m.IsDownloaded(name) {
			names = append(names, name)
		}
	}
	return names
}

// Download fetches a model on a background goroutine and returns its
// progress stream, which is closed after the final update. A model that is
// already on disk yields a single Done update.
func (m *Manager) Download(ctx context.Context, name string) (<-chan Progress, error) {
	info, err := Lookup(name)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	if m.inflight[name] {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrDownloadInProgress, name)
	}
	m.inflight[name] = true
	m.mu.Unlock()

	ch := make(chan Progress, progressBuffer)
	go func() {
		defer func() {
			m.mu.Lock()
			delete(m.inflight, name)
			m.mu.Unlock()
			close(ch)
		}()

		written, err := m.fetch(ctx, info, ch)
		if err != nil {
			slog.Error("[models] download failed", "model", name, "error", err)
		}
		ch <- Progress{Model: name, Written: written, Total: written, Done: true, Err: err}
	}()
	return ch, nil
}

func (m *Manager) fetch(ctx context.Context, info Info, ch chan<- Progress) (int64, error) {
	destPath := filepath.Join(m.dir, info.File)
	if st, err := os.Stat(destPath); err == nil && st.Size() > 0 {
		slog.Info("[models] already downloaded", "model", info.Name, "path", destPath)
		return st.Size(), nil
	}

	if err := os.MkdirAll(m.dir, 0755); err != nil {
		return 0, fmt.Errorf("creating models dir: %w", err)
	}

	url := strings.TrimSuffix(m.baseURL, "/") + "/" + info.File
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, fmt.Errorf("building request: %w", err)
	}

	slog.Info("[models] downloading", "model", info.Name, "url", url, "dest", destPath)
	resp, err := m.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("downloading %s: %w", info.Name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("download %s failed: HTTP %d", info.Name, resp.StatusCode)
	}

	// Write to temp file first, then rename (atomic)
	tmpPath := destPath + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return 0, fmt.Errorf("creating temp file: %w", err)
	}

	pw := &progressWriter{
		writer: f,
		total:  resp.ContentLength,
		model:  info.Name,
		ch:     ch,
	}

	written, err := io.Copy(pw, resp.Body)
	f.Close()
	if err != nil {
		os.Remove(tmpPath)
		return written, fmt.Errorf("writing model file: %w", err)
	}

	if err := os.Rename(tmpPath, destPath); err != nil {
		os.Remove(tmpPath)
		return written, fmt.Errorf("moving model file: %w", err)
	}

	slog.Info("[models] downloaded", "model", info.Name, "mb", fmt.Sprintf("%.1f", float64(written)/(1024*1024)))
	return written, nil
}

// progressWriter wraps an io.Writer and reports download progress. Updates
// are sent once per whole percent (or per MiB without a known total) and
// dropped when the reader falls behind.
type progressWriter struct {
	writer  io.Writer
	total   int64
	written int64
	model   string
	ch      chan<- Progress

	lastStep int64
}

func (pw *progressWriter) Write(p []byte) (int, error) {
	n, err := pw.writer.Write(p)
	pw.written += int64(n)

	step := pw.written >> 20
	if pw.total > 0 {
		step = pw.written * 100 / pw.total
	}
	if step > pw.lastStep {
		pw.lastStep = step
		if len(pw.ch) < cap(pw.ch)-1 {
			pw.ch <- Progress{Model: pw.model, Written: pw.written, Total: pw.total}
		}
	}
	return n, err
}
