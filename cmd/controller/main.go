// Package main provides the entry point for the controller process.
package main

import (
	"fmt"
	"os"

	"github.com/agentrelay/agentrelay/cmd/controller/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
