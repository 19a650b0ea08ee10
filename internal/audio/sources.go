package audio

import (
	"fmt"
	"log/slog"
	"os/exec"
	"strings"

	"github.com/audiolibrelab/audiocomments/internal/config"
)

// Source is a capture device reported by the sound server.
type Source struct {
	Index  string
	Name   string
	Driver string
	Spec   string
	State  string
}

// IsMonitor reports whether the source records another device's output.
func (s Source) IsMonitor() bool {
	return strings.HasSuffix(s.Name, ".monitor")
}

// runCommand is replaced in tests.
var runCommand = func(name string, args ...string) ([]byte, error) {
	return exec.Command(name, args...).Output()
}

// lookPath is replaced in tests.
var lookPath = exec.LookPath

// ListSources returns the PulseAudio/PipeWire capture sources.
func ListSources() ([]Source, error) {
	output, err := runCommand("pactl", "list", "short", "sources")
	if err != nil {
		return nil, fmt.Errorf("failed to list audio sources: %w", err)
	}
	return parseShortSources(string(output)), nil
}

// parseShortSources parses the tab separated output of `pactl list short sources`.
func parseShortSources(output string) []Source {
	var sources []Source
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		fields := strings.Split(line, "\t")
		if len(fields) < 2 {
			slog.Debug("Skipping malformed source line", "line", line)
			continue
		}
		src := Source{Index: fields[0], Name: fields[1]}
		if len(fields) > 2 {
			src.Driver = fields[2]
		}
		if len(fields) > 3 {
			src.Spec = fields[3]
		}
		if len(fields) > 4 {
			src.State = fields[4]
		}
		sources = append(sources, src)
	}
	return sources
}

// ProbeCapture checks that recording can start with cfg: the capture
// program is installed and, for pulse input, the configured source exists.
func ProbeCapture(cfg *config.Config) error {
	command := cfg.Audio.Command
	if command == "" {
		command = "ffmpeg"
	}
	if _, err := lookPath(command); err != nil {
		return fmt.Errorf("capture program %s not found: %w", command, err)
	}

	if cfg.Audio.InputFormat != "pulse" || cfg.Audio.InputDevice == "default" {
		return nil
	}

	sources, err := ListSources()
	if err != nil {
		return err
	}
	return validateSource(cfg.Audio.InputDevice, sources)
}

// validateSource checks that device names exactly one listed source.
func validateSource(device string, sources []Source) error {
	var matches []string
	for _, src := range sources {
		if src.Name == device || src.Index == device {
			matches = append(matches, src.Name)
		}
	}

	switch len(matches) {
	case 0:
		return fmt.Errorf("source not found: %s", device)
	case 1:
		return nil
	default:
		return fmt.Errorf("duplicate sources detected for '%s': %v", device, matches)
	}
}
