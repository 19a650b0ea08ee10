package cmd

import (
	"fmt"

	"github.com/audiolibrelab/audiocomments/internal/audio"

	"github.com/spf13/cobra"
)

var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "List available audio sources",
	Long: `List the capture sources reported by the PulseAudio/PipeWire sound server.
Any of the names can be used as audio.input_device with input_format 'pulse'.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		sources, err := audio.ListSources()
		if err != nil {
			return fmt.Errorf("failed to get audio sources: %w", err)
		}

		fmt.Printf("Audio sources (%d found):\n", len(sources))
		for _, src := range sources {
			marker := " "
			if src.Name == cfg.Audio.InputDevice || src.Index == cfg.Audio.InputDevice {
				marker = "*"
			}
			kind := "input"
			if src.IsMonitor() {
				kind = "monitor"
			}
			fmt.Printf("%s %3s  %-60s %-8s %s\n", marker, src.Index, src.Name, kind, src.State)
		}

		fmt.Printf("\nConfigured: input_format=%s input_device=%s\n", cfg.Audio.InputFormat, cfg.Audio.InputDevice)
		return nil
	},
}
