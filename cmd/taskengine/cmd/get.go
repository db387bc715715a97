package cmd

import (
	"github.com/spf13/cobra"
)

var getCmd = &cobra.Command{
	Use:   "get <execution-id>",
	Short: "Print the current status of an execution",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		executionID := args[0]

		eng, db, err := openEngine()
		if err != nil {
			return err
		}
		defer db.Close()

		exec, err := eng.GetExecution(executionID)
		if err != nil {
			return err
		}
		return printJSON(exec)
	},
}
