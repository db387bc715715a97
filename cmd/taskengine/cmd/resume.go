package cmd

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var resumeInput string

var resumeCmd = &cobra.Command{
	Use:   "resume <execution-id>",
	Short: "Resume an execution awaiting input, equivalent to signal ... resume_with_input",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		executionID := args[0]

		var input any
		if resumeInput != "" {
			if err := json.Unmarshal([]byte(resumeInput), &input); err != nil {
				return fmt.Errorf("parsing --input as JSON: %w", err)
			}
		}

		eng, db, err := openEngine()
		if err != nil {
			return err
		}
		defer db.Close()

		exec, err := eng.Signal(context.Background(), executionID, "resume_with_input", input)
		if err != nil {
			return err
		}
		return printJSON(exec)
	},
}

func init() {
	resumeCmd.Flags().StringVar(&resumeInput, "input", "", "resume input, as a JSON literal")
}
