// Package main is the entry point for the optiplane CLI.
// The CLI is the operator terminal tool for interacting with the engine API.
package main

import (
	"optiplane/cmd/cli/cmd"
	"os"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
