package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/chaz8081/gostt-dictate/internal/audio"
	"github.com/chaz8081/gostt-dictate/internal/config"
	"github.com/chaz8081/gostt-dictate/internal/hotkey"
	"github.com/chaz8081/gostt-dictate/internal/inject"
	"github.com/chaz8081/gostt-dictate/internal/models"
	"github.com/chaz8081/gostt-dictate/internal/notify"
	"github.com/chaz8081/gostt-dictate/internal/pipeline"
	"github.com/chaz8081/gostt-dictate/internal/transcribe"
)

func main() {
	// CLI flags
	configPath := flag.String("config", "", "path to config file (default: ~/.config/gostt-dictate/config.yaml)")
	download := flag.String("download", "", "download a model by name (e.g. base, small.en) and exit")
	listDevices := flag.Bool("list-devices", false, "list capture devices and exit")
	listModels := flag.Bool("list-models", false, "list known models and exit")
	saveLast := flag.String("save-last", "", "write each recording to this WAV file")
	flag.Parse()

	// Load configuration
	cfgPath, cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("config validation: %v", err)
	}
	setupLogging(cfg.LogLevel)

	mgr := models.NewManager(cfg.ModelsDir)

	switch {
	case *download != "":
		if err := runDownload(mgr, *download); err != nil {
			log.Fatalf("download: %v", err)
		}
		return
	case *listModels:
		printModels(mgr)
		return
	case *listDevices:
		if err := printDevices(); err != nil {
			log.Fatalf("list devices: %v", err)
		}
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	models.ApplyAccelerator(cfg, models.DetectAccelerator(ctx))
	// Persist only the model correction, not the detected compute settings.
	save := func(c *config.Config) error {
		onDisk, err := config.Load(cfgPath)
		if err != nil {
			return err
		}
		onDisk.Model = c.Model
		return onDisk.Save(cfgPath)
	}
	modelName, resolveErr := models.ResolveStartup(cfg, mgr, save)

	printBanner(cfg, cfgPath)

	// Initialize whisper engine
	engine := transcribe.NewEngine(transcribe.LoadWhisper, transcribe.EngineOptions{Language: cfg.Language})
	if resolveErr != nil {
		slog.Error("No model available; recording is disabled until one is downloaded", "error", resolveErr)
	} else {
		spec, err := modelSpec(mgr, cfg, modelName)
		if err == nil {
			_, err = engine.LoadModel(spec)
		}
		if err != nil {
			slog.Error("Failed to load whisper model", "model", modelName, "error", err)
		}
	}

	// Initialize audio capture
	backend, err := audio.NewMalgoBackend()
	if err != nil {
		_ = engine.Close()
		log.Fatalf("Failed to initialize audio: %v\n\nEnsure microphone access is granted to this terminal.", err)
	}
	capture := audio.NewCapture(backend, audio.CaptureOptions{
		MicIndex:       cfg.MicIndex,
		SampleRateMode: audio.SampleRateMode(cfg.SampleRateMode),
	})

	injector, err := inject.NewInjector(cfg.Output.Method)
	if err != nil {
		_ = capture.Close()
		_ = engine.Close()
		log.Fatalf("output: %v", err)
	}

	observer := &consoleObserver{saveLast: *saveLast}
	coord := pipeline.New(pipeline.Deps{
		Recorder:    capture,
		Transcriber: engine,
		Notifier:    notify.New(cfg.Notify),
		Sink:        injector,
		Observer:    observer,
	}, pipeline.Options{})
	observer.coord = coord

	go coord.Run(ctx)

	// Live model/language switching
	current := cfg.Clone()
	go func() {
		err := config.Watch(ctx, cfgPath, func(next *config.Config) {
			models.ApplyAccelerator(next, models.DetectAccelerator(ctx))
			onConfigChange(coord, mgr, current, next)
			current = next
		})
		if err != nil {
			slog.Warn("Config hot reload disabled", "error", err)
		}
	}()

	// Initialize hotkey listener
	listener, err := hotkey.NewListener(cfg.Hotkey.Keys, cfg.Hotkey.Mode, coord)
	if err != nil {
		_ = coord.Close()
		log.Fatalf("hotkey: %v", err)
	}
	go listener.Run()

	combo := strings.Join(cfg.Hotkey.Keys, "+")
	slog.Info("Ready! Press " + combo + " to dictate. Ctrl+C to quit.")

	<-ctx.Done()
	slog.Info("Shutting down...")
	listener.Stop()
	if err := coord.Close(); err != nil {
		slog.Warn("shutdown", "error", err)
	}
	slog.Info("Goodbye!")
	// Exit directly to avoid gohook's C cleanup crash.
	// The OS reclaims the event hook on process exit.
	os.Exit(0)
}

// loadConfig loads the config from the specified path, or from the default
// path, writing a default config there first if none exists.
func loadConfig(path string) (string, *config.Config, error) {
	if path != "" {
		cfg, err := config.Load(path)
		return path, cfg, err
	}

	written, err := config.WriteDefault()
	if err != nil {
		return "", nil, fmt.Errorf("writing default config: %w", err)
	}
	if written != "" {
		fmt.Printf("Wrote default config to %s\n", written)
	}

	defaultPath := config.DefaultConfigPath()
	cfg, err := config.Load(defaultPath)
	if err != nil {
		return "", nil, fmt.Errorf("loading %s: %w", defaultPath, err)
	}
	return defaultPath, cfg, nil
}

func setupLogging(level string) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})))
}

func modelSpec(mgr *models.Manager, cfg *config.Config, name string) (transcribe.ModelSpec, error) {
	path, err := mgr.ResolvePath(name)
	if err != nil {
		return transcribe.ModelSpec{}, err
	}
	return transcribe.ModelSpec{Name: name, Path: path, Device: cfg.Device, ComputeType: cfg.ComputeType}, nil
}

// onConfigChange forwards model and language edits to the coordinator.
// Capture and hotkey settings only take effect after a restart.
func onConfigChange(coord *pipeline.Coordinator, mgr *models.Manager, prev, next *config.Config) {
	settings := pipeline.Settings{Language: next.Language}

	if next.Model != prev.Model || next.Device != prev.Device || next.ComputeType != prev.ComputeType {
		spec, err := modelSpec(mgr, next, next.Model)
		switch {
		case errors.Is(err, models.ErrNotDownloaded):
			slog.Warn("Model not downloaded, keeping current model",
				"model", next.Model, "hint", "gostt-dictate -download "+next.Model)
		case err != nil:
			slog.Warn("Ignoring model change", "model", next.Model, "error", err)
		default:
			settings.Model = spec
		}
	}

	if !sameInts(prev.MicIndex, next.MicIndex) || prev.SampleRateMode != next.SampleRateMode ||
		strings.Join(prev.Hotkey.Keys, "+") != strings.Join(next.Hotkey.Keys, "+") ||
		prev.Hotkey.Mode != next.Hotkey.Mode || prev.Output.Method != next.Output.Method {
		slog.Info("Audio, hotkey and output changes apply after restart")
	}

	coord.ApplySettings(settings)
}

func sameInts(a, b *int) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// runDownload fetches a model and prints progress to stdout.
func runDownload(mgr *models.Manager, name string) error {
	ch, err := mgr.Download(context.Background(), name)
	if err != nil {
		return err
	}
	fmt.Printf("  Downloading %s to %s\n", name, mgr.Dir())
	for p := range ch {
		if p.Done {
			if p.Err != nil {
				fmt.Println()
				return p.Err
			}
			fmt.Printf("\n  Done: %.1f MB\n", float64(p.Written)/(1024*1024))
			return nil
		}
		if pct := p.Percent(); pct >= 0 {
			fmt.Printf("\r  %s: %.1f MB / %.1f MB (%d%%)", name,
				float64(p.Written)/(1024*1024), float64(p.Total)/(1024*1024), pct)
		} else {
			fmt.Printf("\r  %s: %.1f MB downloaded", name, float64(p.Written)/(1024*1024))
		}
	}
	return nil
}

func printModels(mgr *models.Manager) {
	fmt.Printf("Models in %s:\n", mgr.Dir())
	for _, name := range models.Names() {
		info, _ := models.Lookup(name)
		mark := " "
		if mgr.IsDownloaded(name) {
			mark = "*"
		}
		fmt.Printf("  %s %-16s ~%d MB\n", mark, name, info.SizeMB)
	}
	fmt.Println("  (* = downloaded)")
}

func printDevices() error {
	backend, err := audio.NewMalgoBackend()
	if err != nil {
		return err
	}
	defer backend.Close()

	devices, err := backend.Devices()
	if err != nil {
		return err
	}
	if len(devices) == 0 {
		fmt.Println("No capture devices found.")
		return nil
	}
	for _, d := range devices {
		def := ""
		if d.IsDefault {
			def = " (default)"
		}
		fmt.Printf("  [%d] %s%s\n", d.Index, d.Name, def)
	}
	return nil
}

// printBanner displays the startup configuration summary.
func printBanner(cfg *config.Config, path string) {
	mic := "default"
	if cfg.MicIndex != nil {
		mic = fmt.Sprintf("#%d", *cfg.MicIndex)
	}
	fmt.Println("=== gostt-dictate ===")
	fmt.Printf("  Config:   %s\n", path)
	fmt.Printf("  Model:    %s (%s/%s)\n", cfg.Model, cfg.Device, cfg.ComputeType)
	fmt.Printf("  Language: %s\n", cfg.Language)
	fmt.Printf("  Hotkey:   %s (%s mode)\n", strings.Join(cfg.Hotkey.Keys, "+"), cfg.Hotkey.Mode)
	fmt.Printf("  Audio:    mic %s, %s\n", mic, cfg.SampleRateMode)
	fmt.Printf("  Output:   %s\n", cfg.Output.Method)
	fmt.Printf("  Log:      %s\n", cfg.LogLevel)
	fmt.Println("=====================")
}

// consoleObserver shows pipeline state on the terminal.
type consoleObserver struct {
	coord    *pipeline.Coordinator
	saveLast string
}

func (o *consoleObserver) StateChanged(s pipeline.State) {
	switch s {
	case pipeline.Recording:
		slog.Info("Recording...")
	case pipeline.Processing:
		if o.saveLast != "" && o.coord != nil && o.coord.SaveLastRecording(o.saveLast) {
			slog.Debug("Saved recording", "path", o.saveLast)
		}
		slog.Info("Transcribing...")
	case pipeline.Idle:
		slog.Debug("Idle")
	}
}

func (o *consoleObserver) Volume(level float64) {
	bars := int(level * 40)
	slog.Debug("level " + strings.Repeat("|", bars))
}

func (o *consoleObserver) Progress(percent int) {
	slog.Debug("Transcription progress", "percent", percent)
}
