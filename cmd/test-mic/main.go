// Command test-mic is a manual test for microphone capture.
// It prints a live volume meter for the selected input device.
// Press Ctrl+C to exit.
//
// Usage:
//
//	go run ./cmd/test-mic [--mic N] [--seconds S]
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/chaz8081/gostt-dictate/internal/audio"
)

func main() {
	mic := flag.Int("mic", -1, "capture device index (-1 = system default)")
	seconds := flag.Int("seconds", 10, "how long to listen (0 = until Ctrl+C)")
	flag.Parse()

	backend, err := audio.NewMalgoBackend()
	if err != nil {
		log.Fatalf("audio: %v", err)
	}
	defer backend.Close()

	devices, err := backend.Devices()
	if err != nil {
		log.Fatalf("devices: %v", err)
	}
	for _, d := range devices {
		marker := " "
		if d.Index == *mic || (*mic < 0 && d.IsDefault) {
			marker = ">"
		}
		fmt.Printf("%s [%d] %s\n", marker, d.Index, d.Name)
	}

	opts := audio.ProbeOptions{Duration: time.Duration(*seconds) * time.Second}
	if *mic >= 0 {
		opts.MicIndex = mic
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	levels, err := audio.Probe(ctx, backend, opts)
	if err != nil {
		log.Fatalf("probe: %v", err)
	}

	fmt.Println("Speak into the microphone. Press Ctrl+C to exit.")
	const width = 50
	peak := 0.0
	for level := range levels {
		peak = max(peak, level)
		n := int(level * width)
		fmt.Printf("\r  [%-*s] %5.3f", width, strings.Repeat("#", n), level)
	}
	fmt.Printf("\n  Peak level: %.3f\n", peak)
	if peak < 0.01 {
		fmt.Println("  Very low signal. Check the input device and microphone permissions.")
	}
}
