package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	runTaskFile string
	runInput    string
	runDevID    string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Create a new execution from a task definition and drive it to completion or suspension",
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(runTaskFile)
		if err != nil {
			return fmt.Errorf("reading task file: %w", err)
		}

		var input any
		if runInput != "" {
			if err := json.Unmarshal([]byte(runInput), &input); err != nil {
				return fmt.Errorf("parsing --input as JSON: %w", err)
			}
		}

		eng, db, err := openEngine()
		if err != nil {
			return err
		}
		defer db.Close()

		task, err := eng.RegisterTaskJSON(data)
		if err != nil {
			return err
		}

		exec, err := eng.CreateExecution(context.Background(), task.TaskID, runDevID, input)
		if err != nil {
			return err
		}
		return printJSON(exec)
	},
}

func init() {
	runCmd.Flags().StringVar(&runTaskFile, "task", "", "path to a JSON task definition")
	runCmd.Flags().StringVar(&runInput, "input", "", "execution input, as a JSON literal")
	runCmd.Flags().StringVar(&runDevID, "developer-id", "cli", "developer id recorded on the execution")
	runCmd.MarkFlagRequired("task")
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
