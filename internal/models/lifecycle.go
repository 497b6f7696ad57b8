package models

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/chaz8081/gostt-dictate/internal/config"
)

// ResolveStartup returns the model to load at startup. If the configured
// model is unknown or not on disk, cfg.Model is switched to DefaultModel
// and the correction is persisted through save so later launches start
// from the fallback. When the default is not downloaded either, the
// returned error wraps ErrNotDownloaded.
func ResolveStartup(cfg *config.Config, mgr *Manager, save func(*config.Config) error) (string, error) {
	if mgr.IsDownloaded(cfg.Model) {
		return cfg.Model, nil
	}

	requested := cfg.Model
	if requested != DefaultModel {
		slog.Warn("[models] configured model unavailable, falling back",
			"model", requested, "fallback", DefaultModel, "dir", mgr.Dir())
		cfg.Model = DefaultModel
		if save != nil {
			if err := save(cfg); err != nil {
				slog.Error("[models] could not persist model fallback", "error", err)
			}
		}
	}

	if !mgr.IsDownloaded(DefaultModel) {
		return DefaultModel, fmt.Errorf("%w: %s (run with -download %s)", ErrNotDownloaded, DefaultModel, DefaultModel)
	}
	return DefaultModel, nil
}

// Accelerator describes the compute device found on the host.
type Accelerator struct {
	CUDA          bool
	DeviceName    string
	DriverVersion string
	Memory        string
}

// Detector probes for an accelerator once and caches the result.
type Detector struct {
	once   sync.Once
	result Accelerator
	probe  func(ctx context.Context) (Accelerator, error)
}

// NewDetector returns a detector that queries nvidia-smi.
func NewDetector() *Detector {
	return &Detector{probe: probeNvidiaSMI}
}

// Detect returns the cached probe result, probing on first call.
func (d *Detector) Detect(ctx context.Context) Accelerator {
	d.once.Do(func() {
		acc, err := d.probe(ctx)
		if err != nil {
			slog.Info("[models] no CUDA device, using CPU", "reason", err)
			return
		}
		slog.Info("[models] CUDA device detected", "device", acc.DeviceName,
			"driver", acc.DriverVersion, "memory", acc.Memory)
		d.result = acc
	})
	return d.result
}

var defaultDetector = NewDetector()

// DetectAccelerator probes the host once per process.
func DetectAccelerator(ctx context.Context) Accelerator {
	return defaultDetector.Detect(ctx)
}

// ApplyAccelerator adjusts the compute settings in cfg to what the host
// supports and reports whether anything changed. Without CUDA the engine
// runs on the CPU in int8; with CUDA an int8 setting is raised to float16.
func ApplyAccelerator(cfg *config.Config, acc Accelerator) bool {
	device, compute := cfg.Device, cfg.ComputeType
	if !acc.CUDA {
		device, compute = "cpu", "int8"
	} else if compute == "int8" {
		compute = "float16"
	}

	if device == cfg.Device && compute == cfg.ComputeType {
		return false
	}
	slog.Info("[models] compute settings adjusted",
		"device", cfg.Device+" -> "+device, "computeType", cfg.ComputeType+" -> "+compute)
	cfg.Device, cfg.ComputeType = device, compute
	return true
}

// probeNvidiaSMI queries nvidia-smi for the first GPU.
func probeNvidiaSMI(ctx context.Context) (Accelerator, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, "nvidia-smi", "--query-gpu=driver_version,name,memory.total", "--format=csv,noheader")
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		slog.Debug("[models] nvidia-smi check failed", "error", err, "stderr", stderr.String())
		return Accelerator{}, fmt.Errorf("nvidia-smi failed: %w", err)
	}
	return parseNvidiaSMI(stdout.String())
}

// parseNvidiaSMI parses "driver_version, name, memory" CSV output. Only the
// first line (first GPU) is used.
func parseNvidiaSMI(output string) (Accelerator, error) {
	output = strings.TrimSpace(output)
	if output == "" {
		return Accelerator{}, fmt.Errorf("nvidia-smi returned empty output")
	}
	line, _, _ := strings.Cut(output, "\n")

	parts := strings.Split(line, ",")
	if len(parts) < 3 {
		return Accelerator{}, fmt.Errorf("unexpected nvidia-smi output format: %s", line)
	}
	return Accelerator{
		CUDA:          true,
		DriverVersion: strings.TrimSpace(parts[0]),
		DeviceName:    strings.TrimSpace(parts[1]),
		Memory:        strings.TrimSpace(parts[2]),
	}, nil
}
