// Package main provides the entry point for the runner process.
package main

import (
	"fmt"
	"os"

	"github.com/agentrelay/agentrelay/cmd/runner/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
