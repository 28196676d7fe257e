package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/psantana5/sdd-inspector/pkg/logging"
)

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Log file helpers",
}

var logrotateCmd = &cobra.Command{
	Use:     "logrotate [component]",
	Short:   "Print a logrotate config for the inspector logs",
	Example: `  sddctl logs logrotate server | sudo tee /etc/logrotate.d/sdd-server`,
	Args:    cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		components := logging.Components
		if len(args) == 1 {
			components = args
		}
		for i, c := range components {
			if i > 0 {
				fmt.Println()
			}
			fmt.Print(logging.GenerateLogrotateConfig(c))
		}
	},
}

func init() {
	rootCmd.AddCommand(logsCmd)
	logsCmd.AddCommand(logrotateCmd)
}
