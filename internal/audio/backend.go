package audio

import (
	"fmt"
	"strings"

	"github.com/audiolibrelab/audiocomments/internal/config"
	"github.com/audiolibrelab/audiocomments/internal/session"
)

// BackendType represents the type of capture backend
type BackendType string

const (
	BackendTypeFFmpeg BackendType = "ffmpeg"
	BackendTypeAuto   BackendType = "auto"
)

// NewRecorderBackend creates the capture backend selected by configuration.
func NewRecorderBackend(cfg *config.Config) (session.RecorderBackend, error) {
	switch determineBackend(cfg) {
	case BackendTypeFFmpeg:
		return NewFFmpegBackend(cfg), nil
	default:
		return nil, fmt.Errorf("unsupported audio backend: %s", cfg.Audio.Backend)
	}
}

// NewPlayerBackend creates a WAV player backend that renders through the
// configured player program.
func NewPlayerBackend(cfg *config.Config) session.PlayerBackend {
	return NewWAVBackend(CommandSinks(cfg))
}

// determineBackend determines which backend to use based on configuration
func determineBackend(cfg *config.Config) BackendType {
	switch strings.ToLower(cfg.Audio.Backend) {
	case "", "auto", "ffmpeg":
		// ffmpeg is the only capture backend
		return BackendTypeFFmpeg
	default:
		return BackendType(cfg.Audio.Backend)
	}
}

// GetAvailableBackends returns list of available backends on current system
func GetAvailableBackends() []BackendType {
	var backends []BackendType
	if _, err := lookPath("ffmpeg"); err == nil {
		backends = append(backends, BackendTypeFFmpeg)
	}
	return backends
}

// GetAvailablePlayers returns the installed output programs.
func GetAvailablePlayers() []string {
	var players []string
	for _, p := range playerCommands {
		if _, err := lookPath(p); err == nil {
			players = append(players, p)
		}
	}
	return players
}
