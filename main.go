// Package main is the entry point for the workitems CLI.
package main

import (
	"fmt"
	"os"

	"github.com/danielolaszy/workitems/cmd"
	"github.com/danielolaszy/workitems/internal/logging"
)

func main() {
	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "info"
	}

	logging.Info("starting workitems cli", "version", "1.0.0", "log_level", logLevel)

	if err := cmd.Execute(); err != nil {
		logging.Error("command execution failed", "error", err)
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
