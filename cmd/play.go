package cmd

import (
	"github.com/spf13/cobra"
)

var playCmd = &cobra.Command{
	Use:   "play",
	Short: "Play the most recent comment",
	Long: `Play the most recently recorded comment through the configured player,
showing position and level. Ctrl+C pauses and exits.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ls, err := startSession()
		if err != nil {
			return err
		}
		defer ls.stop()

		if err := ls.play(); err != nil {
			return err
		}
		return executePipeline(ls, 'p')
	},
}
