// Package cmd implements the taskengine CLI: run, resume, signal,
// list-transitions, and get, each opening the same bbolt store the Engine uses
// at runtime.
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.etcd.io/bbolt"

	"github.com/taskengine/taskengine/internal/config"
	"github.com/taskengine/taskengine/internal/engine"
	"github.com/taskengine/taskengine/internal/logging"
	"github.com/taskengine/taskengine/internal/retrypolicy"
)

var (
	configPath string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "taskengine",
	Short: "Run and inspect durable, resumable task executions",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if verbose {
			logging.SetLevel("debug")
		}
	},
}

func Execute() error {
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(resumeCmd)
	rootCmd.AddCommand(signalCmd)
	rootCmd.AddCommand(transitionsCmd)
	rootCmd.AddCommand(getCmd)
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
}

// openEngine wires an Engine instance against the configured bbolt
// store: one call per CLI invocation, since this is a short-lived
// process rather than a long-running server.
func openEngine() (*engine.Engine, *bbolt.DB, error) {
	var opts []config.LoadOption
	if configPath != "" {
		opts = append(opts, config.FromFile(configPath))
	}
	cfg, err := config.Load(opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}
	logging.SetLevel(cfg.LogLevel)

	db, err := bbolt.Open(cfg.StorePath, 0o600, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("opening store %s: %w", cfg.StorePath, err)
	}

	logger := logging.Component("cli")
	txLog := engine.NewBoltTransitionLog(db, logger)
	execStore := engine.NewBoltExecutionStore(db, logger)
	retry := &retrypolicy.Policy{
		MaxAttempts:     cfg.RetryMaxAttempts,
		InitialInterval: cfg.RetryInitialBackoff,
		MaxInterval:     cfg.RetryMaxBackoff,
		OnRetry:         func(attempt int, err error) {},
	}
	dispatcher := engine.NewDispatcher(retry, logger)
	activities := engine.NewStaticActivities(nil)
	driver := engine.NewDriver(txLog, dispatcher, activities, cfg, logger)
	tasks := engine.NewTaskStore(db)

	return engine.NewEngine(tasks, execStore, txLog, driver, logger), db, nil
}
