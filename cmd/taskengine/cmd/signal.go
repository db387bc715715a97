package cmd

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var signalPayload string

var signalCmd = &cobra.Command{
	Use:   "signal <execution-id> <signal-name>",
	Short: "Deliver a signal to a running execution: set_last_error, resume_with_input, or cancel",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		executionID, name := args[0], args[1]

		var payload any
		if signalPayload != "" {
			if err := json.Unmarshal([]byte(signalPayload), &payload); err != nil {
				return fmt.Errorf("parsing --payload as JSON: %w", err)
			}
		}

		eng, db, err := openEngine()
		if err != nil {
			return err
		}
		defer db.Close()

		exec, err := eng.Signal(context.Background(), executionID, name, payload)
		if err != nil {
			return err
		}
		return printJSON(exec)
	},
}

func init() {
	signalCmd.Flags().StringVar(&signalPayload, "payload", "", "signal payload, as a JSON literal")
}
