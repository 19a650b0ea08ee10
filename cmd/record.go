package cmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
)

var recordCmd = &cobra.Command{
	Use:   "record",
	Short: "Record a new audio comment",
	Long: `Record a new comment from the configured input. A live level meter is shown
while recording; press Enter or Ctrl+C to stop. The recording becomes the
comment that 'play' plays back.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		slog.Info("Record command started", "profile", cfg.Profile, "output", cfg.Output.Directory)

		ls, err := startSession()
		if err != nil {
			return err
		}
		defer ls.stop()

		path, err := ls.record()
		if err != nil {
			return err
		}
		fmt.Printf("Saved %s\n", path)

		// Execute pipeline if specified
		return executePipeline(ls, 'r')
	},
}
