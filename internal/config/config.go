package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Sample rate modes for audio capture.
const (
	SampleRateModelOptimized = "model-optimized"
	SampleRateDeviceDefault  = "device-default"
)

// Config holds all application configuration.
type Config struct {
	Model          string       `yaml:"model"`
	Language       string       `yaml:"language"`     // ISO code or "auto"
	Device         string       `yaml:"device"`       // "cpu" or "cuda"
	ComputeType    string       `yaml:"compute_type"` // "int8", "float16" or "float32"
	SampleRateMode string       `yaml:"sample_rate_mode"`
	MicIndex       *int         `yaml:"mic_index"`
	ModelsDir      string       `yaml:"models_dir"`
	Hotkey         HotkeyConfig `yaml:"hotkey"`
	Output         OutputConfig `yaml:"output"`
	Notify         bool         `yaml:"notify"`
	LogLevel       string       `yaml:"log_level"`
}

// HotkeyConfig holds hotkey-related settings.
type HotkeyConfig struct {
	Keys []string `yaml:"keys"`
	Mode string   `yaml:"mode"` // "hold" or "toggle"
}

// OutputConfig controls where transcribed text goes.
type OutputConfig struct {
	Method string `yaml:"method"` // "clipboard" or "paste"
}

// DefaultConfigDir returns the default config directory path.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "gostt-dictate")
}

// DefaultConfigPath returns the default config file path.
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// DefaultModelsDir returns the directory downloaded models are stored in.
func DefaultModelsDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "models"
	}
	return filepath.Join(home, ".local", "share", "gostt-dictate", "models")
}

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Model:          "base",
		Language:       "auto",
		Device:         "cpu",
		ComputeType:    "int8",
		SampleRateMode: SampleRateModelOptimized,
		ModelsDir:      DefaultModelsDir(),
		Hotkey: HotkeyConfig{
			Keys: []string{"ctrl", "shift", "r"},
			Mode: "toggle",
		},
		Output: OutputConfig{
			Method: "clipboard",
		},
		Notify:   true,
		LogLevel: "info",
	}
}

// Load reads and parses a YAML config file. Missing fields are filled
// with defaults. Tilde (~) in models_dir is expanded to the user's home directory.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.ModelsDir = expandTilde(cfg.ModelsDir)

	return cfg, nil
}

const defaultHeader = `# gostt-dictate configuration
# Edits are picked up while the app is running.
`

// Save writes the config to path, creating parent directories as needed.
// The file is written to a temp file first and renamed into place.
func (c *Config) Save(path string) error {
	return c.save(path, "")
}

func (c *Config) save(path, header string) error {
	body, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	data := append([]byte(header), body...)

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replacing config file: %w", err)
	}
	return nil
}

// WriteDefault writes the default config to DefaultConfigPath if no file
// exists there yet. It returns the path written, or "" if the file was
// already present.
func WriteDefault() (string, error) {
	path := DefaultConfigPath()
	if _, err := os.Stat(path); err == nil {
		return "", nil
	}
	if err := Default().save(path, defaultHeader); err != nil {
		return "", err
	}
	return path, nil
}

// Clone returns a deep copy of the config.
func (c *Config) Clone() *Config {
	cp := *c
	cp.Hotkey.Keys = append([]string(nil), c.Hotkey.Keys...)
	if c.MicIndex != nil {
		idx := *c.MicIndex
		cp.MicIndex = &idx
	}
	return &cp
}

// Validate checks the config for invalid values.
func (c *Config) Validate() error {
	if c.Model == "" {
		return fmt.Errorf("model must not be empty")
	}

	if c.Language == "" {
		return fmt.Errorf("language must not be empty (use \"auto\" for detection)")
	}
	if c.Language != "auto" && (len(c.Language) < 2 || len(c.Language) > 3) {
		return fmt.Errorf("language must be \"auto\" or an ISO 639 code, got %q", c.Language)
	}

	switch c.Device {
	case "cpu", "cuda":
	default:
		return fmt.Errorf("device must be \"cpu\" or \"cuda\", got %q", c.Device)
	}

	switch c.ComputeType {
	case "int8", "float16", "float32":
	default:
		return fmt.Errorf("compute_type must be int8, float16, or float32, got %q", c.ComputeType)
	}

	switch c.SampleRateMode {
	case SampleRateModelOptimized, SampleRateDeviceDefault:
	default:
		return fmt.Errorf("sample_rate_mode must be %q or %q, got %q",
			SampleRateModelOptimized, SampleRateDeviceDefault, c.SampleRateMode)
	}

	if c.MicIndex != nil && *c.MicIndex < 0 {
		return fmt.Errorf("mic_index must be >= 0, got %d", *c.MicIndex)
	}

	if c.ModelsDir == "" {
		return fmt.Errorf("models_dir must not be empty")
	}

	if len(c.Hotkey.Keys) == 0 {
		return fmt.Errorf("hotkey.keys must not be empty")
	}

	switch c.Hotkey.Mode {
	case "hold", "toggle":
	default:
		return fmt.Errorf("hotkey.mode must be \"hold\" or \"toggle\", got %q", c.Hotkey.Mode)
	}

	switch c.Output.Method {
	case "clipboard", "paste":
	default:
		return fmt.Errorf("output.method must be \"clipboard\" or \"paste\", got %q", c.Output.Method)
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be debug, info, warn, or error, got %q", c.LogLevel)
	}

	return nil
}

// expandTilde replaces a leading ~ with the user's home directory.
func expandTilde(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}
