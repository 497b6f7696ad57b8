package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Model != "base" {
		t.Errorf("Model = %q, want %q", cfg.Model, "base")
	}
	if cfg.Language != "auto" {
		t.Errorf("Language = %q, want %q", cfg.Language, "auto")
	}
	if cfg.Device != "cpu" {
		t.Errorf("Device = %q, want %q", cfg.Device, "cpu")
	}
	if cfg.ComputeType != "int8" {
		t.Errorf("ComputeType = %q, want %q", cfg.ComputeType, "int8")
	}
	if cfg.SampleRateMode != SampleRateModelOptimized {
		t.Errorf("SampleRateMode = %q, want %q", cfg.SampleRateMode, SampleRateModelOptimized)
	}
	if cfg.MicIndex != nil {
		t.Errorf("MicIndex = %d, want nil", *cfg.MicIndex)
	}
	if cfg.Hotkey.Mode != "toggle" {
		t.Errorf("Hotkey.Mode = %q, want %q", cfg.Hotkey.Mode, "toggle")
	}
	if len(cfg.Hotkey.Keys) != 3 {
		t.Errorf("Hotkey.Keys length = %d, want 3", len(cfg.Hotkey.Keys))
	}
	if cfg.Output.Method != "clipboard" {
		t.Errorf("Output.Method = %q, want %q", cfg.Output.Method, "clipboard")
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, "info")
	}
}

func TestLoad(t *testing.T) {
	yamlContent := `
model: small.en
language: en
device: cuda
compute_type: float16
sample_rate_mode: device-default
mic_index: 2
models_dir: /tmp/models
hotkey:
  keys: ["alt", "d"]
  mode: hold
output:
  method: paste
notify: false
log_level: debug
`
	tmpDir := t.TempDir()
	cfgPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(cfgPath, []byte(yamlContent), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Model != "small.en" {
		t.Errorf("Model = %q, want %q", cfg.Model, "small.en")
	}
	if cfg.Language != "en" {
		t.Errorf("Language = %q, want %q", cfg.Language, "en")
	}
	if cfg.Device != "cuda" || cfg.ComputeType != "float16" {
		t.Errorf("Device/ComputeType = %q/%q, want cuda/float16", cfg.Device, cfg.ComputeType)
	}
	if cfg.SampleRateMode != SampleRateDeviceDefault {
		t.Errorf("SampleRateMode = %q, want %q", cfg.SampleRateMode, SampleRateDeviceDefault)
	}
	if cfg.MicIndex == nil || *cfg.MicIndex != 2 {
		t.Errorf("MicIndex = %v, want 2", cfg.MicIndex)
	}
	if cfg.ModelsDir != "/tmp/models" {
		t.Errorf("ModelsDir = %q, want %q", cfg.ModelsDir, "/tmp/models")
	}
	if cfg.Hotkey.Mode != "hold" {
		t.Errorf("Hotkey.Mode = %q, want %q", cfg.Hotkey.Mode, "hold")
	}
	if len(cfg.Hotkey.Keys) != 2 || cfg.Hotkey.Keys[0] != "alt" || cfg.Hotkey.Keys[1] != "d" {
		t.Errorf("Hotkey.Keys = %v, want [alt d]", cfg.Hotkey.Keys)
	}
	if cfg.Output.Method != "paste" {
		t.Errorf("Output.Method = %q, want %q", cfg.Output.Method, "paste")
	}
	if cfg.Notify {
		t.Error("Notify = true, want false")
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, "debug")
	}
}

func TestLoadPartialKeepsDefaults(t *testing.T) {
	tmpDir := t.TempDir()
	cfgPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(cfgPath, []byte("language: de\n"), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Language != "de" {
		t.Errorf("Language = %q, want %q", cfg.Language, "de")
	}
	if cfg.Model != "base" {
		t.Errorf("Model = %q, want default %q", cfg.Model, "base")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestLoadExpandsTilde(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("cannot determine home directory")
	}

	tmpDir := t.TempDir()
	cfgPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(cfgPath, []byte("models_dir: ~/models\n"), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	expected := filepath.Join(home, "models")
	if cfg.ModelsDir != expected {
		t.Errorf("ModelsDir = %q, want %q", cfg.ModelsDir, expected)
	}
}

func TestLoadFileNotFound(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	if err == nil {
		t.Error("Load() should return error for nonexistent file")
	}
}

func TestSaveRoundTripsFallbackCorrection(t *testing.T) {
	tmpDir := t.TempDir()
	cfgPath := filepath.Join(tmpDir, "nested", "config.yaml")

	cfg := Default()
	cfg.Model = "tiny"
	idx := 1
	cfg.MicIndex = &idx
	if err := cfg.Save(cfgPath); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	got, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got.Model != "tiny" {
		t.Errorf("Model = %q, want %q", got.Model, "tiny")
	}
	if got.MicIndex == nil || *got.MicIndex != 1 {
		t.Errorf("MicIndex = %v, want 1", got.MicIndex)
	}
	if _, err := os.Stat(cfgPath + ".tmp"); !os.IsNotExist(err) {
		t.Error("Save() left a temp file behind")
	}
}

func TestClone(t *testing.T) {
	cfg := Default()
	idx := 3
	cfg.MicIndex = &idx

	cp := cfg.Clone()
	cp.Hotkey.Keys[0] = "alt"
	*cp.MicIndex = 7

	if cfg.Hotkey.Keys[0] != "ctrl" {
		t.Error("Clone() shares Hotkey.Keys with original")
	}
	if *cfg.MicIndex != 3 {
		t.Error("Clone() shares MicIndex with original")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{
			name:    "valid default config",
			modify:  func(c *Config) {},
			wantErr: false,
		},
		{
			name:    "empty model",
			modify:  func(c *Config) { c.Model = "" },
			wantErr: true,
		},
		{
			name:    "empty language",
			modify:  func(c *Config) { c.Language = "" },
			wantErr: true,
		},
		{
			name:    "explicit language",
			modify:  func(c *Config) { c.Language = "fr" },
			wantErr: false,
		},
		{
			name:    "bad language code",
			modify:  func(c *Config) { c.Language = "french" },
			wantErr: true,
		},
		{
			name:    "invalid device",
			modify:  func(c *Config) { c.Device = "tpu" },
			wantErr: true,
		},
		{
			name:    "invalid compute type",
			modify:  func(c *Config) { c.ComputeType = "int4" },
			wantErr: true,
		},
		{
			name:    "invalid sample rate mode",
			modify:  func(c *Config) { c.SampleRateMode = "fast" },
			wantErr: true,
		},
		{
			name: "negative mic index",
			modify: func(c *Config) {
				idx := -1
				c.MicIndex = &idx
			},
			wantErr: true,
		},
		{
			name:    "empty models dir",
			modify:  func(c *Config) { c.ModelsDir = "" },
			wantErr: true,
		},
		{
			name:    "invalid hotkey mode",
			modify:  func(c *Config) { c.Hotkey.Mode = "invalid" },
			wantErr: true,
		},
		{
			name:    "empty hotkey keys",
			modify:  func(c *Config) { c.Hotkey.Keys = nil },
			wantErr: true,
		},
		{
			name:    "invalid output method",
			modify:  func(c *Config) { c.Output.Method = "type" },
			wantErr: true,
		},
		{
			name:    "invalid log level",
			modify:  func(c *Config) { c.LogLevel = "invalid" },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestWriteDefault_CreatesFile(t *testing.T) {
	// Use a temp dir as fake home to avoid touching real config
	tmpHome := t.TempDir()
	t.Setenv("HOME", tmpHome)

	path, err := WriteDefault()
	if err != nil {
		t.Fatalf("WriteDefault() error = %v", err)
	}

	expectedPath := filepath.Join(tmpHome, ".config", "gostt-dictate", "config.yaml")
	if path != expectedPath {
		t.Errorf("WriteDefault() path = %q, want %q", path, expectedPath)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read written config: %v", err)
	}

	if !strings.HasPrefix(string(data), "# gostt-dictate") {
		t.Error("written config should start with header comment")
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		t.Fatalf("written config is not valid YAML: %v", err)
	}
	if cfg.Model != "base" {
		t.Errorf("written config Model = %q, want %q", cfg.Model, "base")
	}
	if cfg.SampleRateMode != SampleRateModelOptimized {
		t.Errorf("written config SampleRateMode = %q, want %q", cfg.SampleRateMode, SampleRateModelOptimized)
	}
}

func TestWriteDefault_NoOpIfExists(t *testing.T) {
	tmpHome := t.TempDir()
	t.Setenv("HOME", tmpHome)

	configDir := filepath.Join(tmpHome, ".config", "gostt-dictate")
	if err := os.MkdirAll(configDir, 0755); err != nil {
		t.Fatalf("failed to create config dir: %v", err)
	}
	existingContent := []byte("model: tiny\n")
	configPath := filepath.Join(configDir, "config.yaml")
	if err := os.WriteFile(configPath, existingContent, 0644); err != nil {
		t.Fatalf("failed to write existing config: %v", err)
	}

	path, err := WriteDefault()
	if err != nil {
		t.Fatalf("WriteDefault() error = %v", err)
	}
	if path != "" {
		t.Errorf("WriteDefault() path = %q, want empty string for existing file", path)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		t.Fatalf("failed to read config: %v", err)
	}
	if string(data) != string(existingContent) {
		t.Error("WriteDefault() should not overwrite existing config file")
	}
}

func TestWatchReloadsOnWrite(t *testing.T) {
	tmpDir := t.TempDir()
	cfgPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(cfgPath, []byte("language: en\n"), 0644); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changes := make(chan *Config, 4)
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, cfgPath, func(c *Config) { changes <- c })
	}()

	// Give the watcher time to register before writing.
	time.Sleep(100 * time.Millisecond)

	if err := os.WriteFile(cfgPath, []byte("language: de\n"), 0644); err != nil {
		t.Fatal(err)
	}

	select {
	case cfg := <-changes:
		if cfg.Language != "de" {
			t.Errorf("reloaded Language = %q, want %q", cfg.Language, "de")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Watch() did not report the change")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Watch() error = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Watch() did not return after cancel")
	}
}

func TestWatchSkipsInvalidConfig(t *testing.T) {
	tmpDir := t.TempDir()
	cfgPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(cfgPath, []byte("language: en\n"), 0644); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changes := make(chan *Config, 4)
	go func() { _ = Watch(ctx, cfgPath, func(c *Config) { changes <- c }) }()
	time.Sleep(100 * time.Millisecond)

	if err := os.WriteFile(cfgPath, []byte("device: tpu\n"), 0644); err != nil {
		t.Fatal(err)
	}

	select {
	case cfg := <-changes:
		t.Errorf("Watch() delivered invalid config: %+v", cfg)
	case <-time.After(600 * time.Millisecond):
	}
}
