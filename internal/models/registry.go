// Package models manages whisper model files: which models exist, where
// they live on disk, downloading them, and picking compute settings for
// the host.
package models

import (
	"errors"
	"fmt"
	"sort"
)

// DefaultModel is the model used when the configured one is unavailable.
const DefaultModel = "base"

// DefaultBaseURL is where ggml whisper models are downloaded from.
const DefaultBaseURL = "https://huggingface.co/ggerganov/whisper.cpp/resolve/main"

var (
	// ErrUnknownModel means the name is not in the registry.
	ErrUnknownModel = errors.New("models: unknown model")
	// ErrNotDownloaded means the model file is not on disk.
	ErrNotDownloaded = errors.New("models: model not downloaded")
	// ErrDownloadInProgress means the same model is already being fetched.
	ErrDownloadInProgress = errors.New("models: download already in progress")
)

// Info describes a downloadable model.
type Info struct {
	Name    string
	File    string
	SizeMB  int
	English bool // English-only variant
}

var registry = map[string]Info{}

func register(name string, sizeMB int) {
	registry[name] = Info{Name: name, File: "ggml-" + name + ".bin", SizeMB: sizeMB}
}

func registerEn(name string, sizeMB int) {
	register(name, sizeMB)
	en := name + ".en"
	registry[en] = Info{Name: en, File: "ggml-" + en + ".bin", SizeMB: sizeMB, English: true}
}

func init() {
	registerEn("tiny", 75)
	registerEn("base", 142)
	registerEn("small", 466)
	registerEn("medium", 1500)
	register("large-v1", 2900)
	register("large-v2", 2900)
	register("large-v3", 2900)
	register("large-v3-turbo", 1600)
}

// Lookup returns the registry entry for name.
func Lookup(name string) (Info, error) {
	info, ok := registry[name]
	if !ok {
		return Info{}, fmt.Errorf("%w: %q", ErrUnknownModel, name)
	}
	return info, nil
}

// Names returns all registered model names, sorted.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
