package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Execute pipeline steps",
	Long: `Execute the steps given with -p in order, for example 'run -p rp' records a
comment and then plays it back.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if pipeline == "" {
			return fmt.Errorf("no pipeline specified, use -p flag (e.g., -p rp)")
		}

		ls, err := startSession()
		if err != nil {
			return err
		}
		defer ls.stop()

		return runSteps(ls, []rune(pipeline))
	},
}
