package cmd

import (
	"github.com/spf13/cobra"
)

var transitionsCmd = &cobra.Command{
	Use:   "list-transitions <execution-id>",
	Short: "Print the full committed transition history for an execution",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		executionID := args[0]

		eng, db, err := openEngine()
		if err != nil {
			return err
		}
		defer db.Close()

		transitions, err := eng.ListTransitions(executionID)
		if err != nil {
			return err
		}
		return printJSON(transitions)
	},
}
