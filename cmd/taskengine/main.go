package main

import (
	"os"

	"github.com/taskengine/taskengine/cmd/taskengine/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
