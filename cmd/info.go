package cmd

import (
	"fmt"
	"strings"

	"github.com/audiolibrelab/audiocomments/internal/audio"
	"github.com/audiolibrelab/audiocomments/internal/config"
	"github.com/audiolibrelab/audiocomments/internal/storage"

	"github.com/spf13/cobra"
)

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show resolved configuration and recording state",
	Long:  `Display the resolved configuration with inheritance indicators, the last recording and the audio tools found on this system. Shows which values are inherited from default vs profile-specific.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		inh := cfg.Inheritance
		if inh == nil {
			inh = &config.InheritanceInfo{}
		}

		fmt.Printf("=== RECORDINGS ===\n")
		fmt.Printf("directory: %s\n", cfg.Output.Directory)
		store := storage.NewStateStore(cfg.Output.Directory)
		last, err := store.RestoreLastArtifact()
		switch {
		case err != nil:
			fmt.Printf("last_recording: unreadable (%v)\n", err)
		case last == "":
			fmt.Printf("last_recording: none\n")
		default:
			fmt.Printf("last_recording: %s\n", last)
		}
		fmt.Printf("state_file: %s\n", store.Path())

		// Display resolved configuration with inheritance indicators
		fmt.Printf("\n=== RESOLVED CONFIGURATION (%s) ===\n", cfg.Profile)

		fmt.Printf("\n[Audio]\n")
		fmt.Printf("sample_rate: %d %s\n", cfg.Audio.SampleRate, getInheritanceIndicator(inh.Audio.SampleRate))
		fmt.Printf("channels: %d %s\n", cfg.Audio.Channels, getInheritanceIndicator(inh.Audio.Channels))
		fmt.Printf("backend: %s %s\n", cfg.Audio.Backend, getInheritanceIndicator(inh.Audio.Backend))
		fmt.Printf("input_format: %s %s\n", cfg.Audio.InputFormat, getInheritanceIndicator(inh.Audio.InputFormat))
		fmt.Printf("input_device: %s %s\n", cfg.Audio.InputDevice, getInheritanceIndicator(inh.Audio.InputDevice))
		fmt.Printf("player: %s %s\n", cfg.Audio.Player, getInheritanceIndicator(inh.Audio.Player))

		fmt.Printf("\n[Output]\n")
		fmt.Printf("directory: %s %s\n", cfg.Output.Directory, getInheritanceIndicator(inh.Output.Directory))
		fmt.Printf("format: %s %s\n", cfg.Output.Format, getInheritanceIndicator(inh.Output.Format))

		fmt.Printf("\n[Session]\n")
		fmt.Printf("tick_rate: %d %s\n", cfg.Session.TickRate, getInheritanceIndicator(inh.Session.TickRate))

		fmt.Printf("\n=== SYSTEM ===\n")
		backends := audio.GetAvailableBackends()
		names := make([]string, 0, len(backends))
		for _, b := range backends {
			names = append(names, string(b))
		}
		fmt.Printf("capture_backends: %s\n", listOrNone(names))
		fmt.Printf("players: %s\n", listOrNone(audio.GetAvailablePlayers()))
		if err := audio.ProbeCapture(cfg); err != nil {
			fmt.Printf("capture_check: FAILED (%v)\n", err)
		} else {
			fmt.Printf("capture_check: ok\n")
		}

		return nil
	},
}

func listOrNone(items []string) string {
	if len(items) == 0 {
		return "none"
	}
	return strings.Join(items, ", ")
}

// getInheritanceIndicator returns a formatted indicator for inheritance status
func getInheritanceIndicator(status string) string {
	switch status {
	case "inherited":
		return "[inherited]"
	case "profile-specific":
		return "[profile-specific]"
	default:
		return "[default]"
	}
}
